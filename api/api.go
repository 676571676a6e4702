package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	sloghttp "github.com/samber/slog-http"
	"github.com/sebest/xff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bmcpi/varstore/internal/config"
)

// HandlerMapping is a map of routes to http.Handlers.
type HandlerMapping map[string]http.Handler

type RegistrationFunc = func(router *http.ServeMux)

// Api represents the HTTP API server with all its dependencies.
type Api struct {
	config   *config.Config
	logger   *slog.Logger
	handlers HandlerMapping

	mu         sync.Mutex // protects httpServer and stopped
	httpServer *http.Server
	stopped    bool
}

// New creates a new Api instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Api {
	return &Api{
		config:   cfg,
		logger:   logger,
		handlers: make(HandlerMapping),
	}
}

func (a *Api) AddHandler(path string, handler http.Handler) {
	if handler != nil {
		a.handlers[path] = otelhttp.WithRouteTag(path, handler)
	} else {
		a.logger.Warn("Attempted to add nil handler", "path", path)
	}
}

// Handler builds the middleware chain around the registered routes.
func (a *Api) Handler(registrations ...RegistrationFunc) (http.Handler, error) {
	mux := http.NewServeMux()

	for path, handler := range a.handlers {
		mux.Handle(path, handler)
	}
	for _, register := range registrations {
		register(mux)
	}

	// wrap the mux with an OpenTelemetry interceptor
	httpHandler := otelhttp.NewHandler(mux, "varstore-http")

	trustedProxies := strings.Split(a.config.TrustedProxies, ",")
	if len(trustedProxies) > 0 && trustedProxies[0] != "" {
		xffmw, err := xff.New(xff.Options{
			AllowedSubnets: trustedProxies,
		})
		if err != nil {
			return nil, fmt.Errorf("trusted proxies: %w", err)
		}
		httpHandler = xffmw.Handler(httpHandler)
	}

	config := sloghttp.Config{
		WithRequestID:      true,
		WithUserAgent:      true,
		WithRequestBody:    false,
		WithResponseBody:   false, // variable payloads may be secrets
		WithRequestHeader:  false,
		WithResponseHeader: false,

		// Filter health checks and other noise
		Filters: []sloghttp.Filter{
			sloghttp.IgnorePathContains("/healthcheck"),
			sloghttp.IgnorePathContains("/metrics"),
		},
	}

	// Apply recovery middleware first
	httpHandler = sloghttp.Recovery(httpHandler)

	// Apply logging middleware
	httpHandler = sloghttp.NewWithConfig(a.logger, config)(httpHandler)

	return httpHandler, nil
}

// Start builds the handler and serves HTTP until Shutdown.
func (a *Api) Start(registrations ...RegistrationFunc) error {
	httpHandler, err := a.Handler(registrations...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    a.getAddress(),
		Handler: httpHandler,
		// Add reasonable timeouts
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.httpServer = srv
	a.mu.Unlock()

	a.logger.Info("Starting HTTP server", "address", srv.Addr)

	// Start server - this blocks
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("HTTP server failed to start", "error", err)
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (a *Api) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		a.logger.Info("Shutting down HTTP server...")
		err := a.httpServer.Shutdown(ctx)
		if err != nil {
			a.logger.Error("Failed to shutdown HTTP server gracefully", "error", err)
			return err
		}

		a.httpServer = nil
		a.logger.Info("HTTP server shutdown complete")
	}

	return nil
}

// getAddress returns the server address from config.
func (a *Api) getAddress() string {
	return fmt.Sprintf("%s:%d", a.config.Address, a.config.Port)
}
