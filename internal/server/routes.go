package server

import (
	"net/http"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/config"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/metrics"
)

// NewRouter wires the auth endpoints. Both roles get structurally
// identical callback and bridge-token routes built from the same
// handlers, parameterized by role.
func NewRouter(cfg config.Config, h *AuthHandlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/authorize", h.AuthorizeHandler)
	for _, role := range []identity.Role{identity.RoleSeeker, identity.RoleEmployer} {
		mux.HandleFunc("POST /auth/"+string(role)+"-callback", h.CallbackHandler(role))
		mux.HandleFunc("POST /auth/"+string(role)+"-bridge-token", h.BridgeTokenHandler(role))
	}
	mux.HandleFunc("POST /auth/revoke-notify", h.RevokeNotifyHandler)

	mux.Handle("GET /healthz", &HealthHandler{})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /internal/stats",
		Chain(http.HandlerFunc(h.StatsHandler), NewStatsAuthMiddleware(cfg)))

	return Chain(mux, NewLoggingMiddleware(), metrics.Instrument)
}
