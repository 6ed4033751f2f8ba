package bootstrap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"persistenceai/internal/cfg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitOtel_PrometheusOnly(t *testing.T) {
	ctx := context.Background()

	shutdown, handler, err := InitOtel(ctx, &cfg.OtelConfig{
		ServiceName:  "test-service",
		SamplerRatio: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, handler)
	t.Cleanup(func() { assert.NoError(t, shutdown(ctx)) })

	counter, err := otel.Meter("test-meter").Int64Counter("test_counter")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_counter")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestInitOtel_TwiceDoesNotCollide(t *testing.T) {
	ctx := context.Background()
	for range 2 {
		shutdown, _, err := InitOtel(ctx, &cfg.OtelConfig{ServiceName: "svc", SamplerRatio: 0.5})
		require.NoError(t, err)
		require.NoError(t, shutdown(ctx))
	}
}
