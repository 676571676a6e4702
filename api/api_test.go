package api_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/varstore/api"
	"github.com/bmcpi/varstore/api/health"
	"github.com/bmcpi/varstore/internal/config"
)

func TestHandlerRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	a := api.New(&config.Config{Address: "127.0.0.1", Port: 0}, logger)
	a.AddHandler("/healthcheck", health.New(logger, "test", time.Now(), nil))
	a.AddHandler("/nil", nil)

	registered := false
	h, err := a.Handler(func(mux *http.ServeMux) {
		registered = true
		mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("pong"))
		})
	})
	require.NoError(t, err)
	assert.True(t, registered)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, "pong", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nil", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerTrustedProxies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	a := api.New(&config.Config{TrustedProxies: "10.0.0.0/8,192.168.0.0/16"}, logger)
	_, err := a.Handler()
	assert.NoError(t, err)

	a = api.New(&config.Config{TrustedProxies: "not-a-subnet"}, logger)
	_, err = a.Handler()
	assert.Error(t, err)
}

func TestShutdownBeforeStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	a := api.New(&config.Config{Address: "127.0.0.1", Port: 0}, logger)

	require.NoError(t, a.Shutdown())
	assert.NoError(t, a.Start())
}
