package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/config"
	jsonwriter "github.com/yokthanwa1993/neezs-app-sub000/internal/json"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/log"
)

// MiddlewareFunc wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// Chain applies middlewares right-to-left so the first listed runs first.
func Chain(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewLoggingMiddleware logs each request with method, path and duration.
func NewLoggingMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.LogDebugWithFields("http", "Request handled", map[string]any{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			})
		})
	}
}

// NewStatsAuthMiddleware protects the operator stats endpoint with
// basic auth. The configured password is a bcrypt hash; with no
// operator credentials configured the endpoint is disabled outright.
func NewStatsAuthMiddleware(cfg config.Config) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.StatsUser == "" || cfg.StatsPasswordHash == "" {
				jsonwriter.WriteError(w, http.StatusNotFound, "not_found", "Not found")
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(cfg.StatsUser)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(cfg.StatsPasswordHash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="neezs-auth"`)
				jsonwriter.WriteUnauthorized(w, "Authentication required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
