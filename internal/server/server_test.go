// AngelaMos | 2026
// server_test.go

package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/goldsave/internal/config"
	"github.com/carterperez-dev/goldsave/internal/health"
)

func TestServeAndShutdown(t *testing.T) {
	healthHandler := health.NewHandler()

	srv := New(Config{
		ServerConfig: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			IdleTimeout:  time.Second,
		},
		HealthHandler: healthHandler,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	healthHandler.RegisterRoutes(srv.Router())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/livez"

	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx, 10*time.Millisecond))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	_, err = http.Get(url)
	assert.Error(t, err)
}

func TestShutdownMarksHealthDown(t *testing.T) {
	healthHandler := health.NewHandler()
	srv := New(Config{HealthHandler: healthHandler})
	healthHandler.RegisterRoutes(srv.Router())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context cuts the drain delay short.
	require.NoError(t, srv.Shutdown(ctx, time.Hour))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
