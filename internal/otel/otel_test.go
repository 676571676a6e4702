package otel_test

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmcpi/varstore/internal/otel"
)

func TestInitWithoutEndpoint(t *testing.T) {
	ctx := context.Background()
	got, shutdown, err := otel.Init(ctx, otel.Config{Servicename: "varstore", Logger: logr.Discard()})
	require.NoError(t, err)
	assert.Equal(t, ctx, got)
	assert.NotPanics(t, shutdown)
}

func TestInitWithEndpoint(t *testing.T) {
	// The gRPC exporter connects lazily, so no collector is needed.
	_, shutdown, err := otel.Init(context.Background(), otel.Config{
		Servicename: "varstore",
		Endpoint:    "127.0.0.1:4317",
		Insecure:    true,
		Logger:      logr.Discard(),
	})
	require.NoError(t, err)
	assert.NotPanics(t, shutdown)
}
