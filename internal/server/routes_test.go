package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/config"
)

func TestRouterRoutes(t *testing.T) {
	h, _, _ := newTestHandlers(&fakeProvider{})
	router := NewRouter(config.Config{}, h)

	t.Run("healthz", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("metrics", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("stats hidden without operator config", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/internal/stats", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("per-role callback routes exist", func(t *testing.T) {
		for _, path := range []string{
			"/auth/seeker-callback",
			"/auth/employer-callback",
			"/auth/seeker-bridge-token",
			"/auth/employer-bridge-token",
		} {
			r := httptest.NewRequest(http.MethodPost, path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)
			// Empty body: routed to the handler, rejected as bad request
			assert.Equal(t, http.StatusBadRequest, w.Code, path)
		}
	})

	t.Run("authorize rejects GET", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/auth/authorize", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}
