// Package internal wires the auth service together.
package internal

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/breaker"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/config"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/credential"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/idp"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/log"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/metrics"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/server"
)

// App is the assembled auth service.
type App struct {
	config     config.Config
	httpServer *server.HTTPServer
	store      identity.Store
}

// NewApp builds the service from configuration.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	log.LogInfoWithFields("neezsauth", "Building auth service", map[string]any{
		"addr":    cfg.Addr,
		"backend": cfg.Backend,
	})

	metrics.Init()

	store, err := setupStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup identity store: %w", err)
	}

	provider := idp.NewLINEProvider(
		cfg.ChannelID,
		string(cfg.ChannelSecret),
		cfg.Scopes,
		string(cfg.MessagingChannelToken),
	)

	minter := credential.NewMinter([]byte(cfg.CredentialSecret), cfg.CredentialTTL)

	// One breaker per role: the two sides of the marketplace degrade
	// independently.
	breakers := make(map[identity.Role]*breaker.Breaker)
	for _, role := range []identity.Role{identity.RoleSeeker, identity.RoleEmployer} {
		breakers[role] = breaker.New(
			"idp-"+string(role),
			cfg.BreakerThreshold,
			cfg.BreakerCooldown,
			breaker.WithStateHook(metrics.BreakerStateHook()),
		)
	}

	handlers := server.NewAuthHandlers(cfg, provider, store, minter, breakers)
	router := server.NewRouter(cfg, handlers)

	return &App{
		config:     cfg,
		httpServer: server.NewHTTPServer(router, cfg.Addr),
		store:      store,
	}, nil
}

func setupStore(ctx context.Context, cfg config.Config) (identity.Store, error) {
	switch cfg.Backend {
	case config.StoreFirestore:
		return identity.NewFirestoreStore(ctx, cfg.FirestoreProject, cfg.FirestoreCollection)
	case config.StoreMemory, "":
		log.LogWarnWithFields("neezsauth", "Using in-memory identity store, data is not persisted", nil)
		return identity.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Run starts the service and blocks until shutdown.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.LogInfoWithFields("neezsauth", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		log.LogErrorWithFields("neezsauth", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		return err
	}

	if closer, ok := a.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.LogWarnWithFields("neezsauth", "Identity store close failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	log.LogInfoWithFields("neezsauth", "Shutdown complete", nil)
	return nil
}
