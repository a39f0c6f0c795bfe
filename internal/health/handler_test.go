// AngelaMos | 2026
// handler_test.go

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	up   = CheckerFunc(func(context.Context) error { return nil })
	down = CheckerFunc(func(context.Context) error { return errors.New("connection refused") })
)

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, ReadinessResponse) {
	t.Helper()

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		deps       []Dependency
		wantCode   int
		wantStatus string
	}{
		{
			name: "all healthy",
			deps: []Dependency{
				{Name: "database", Checker: up, Critical: true},
				{Name: "redis", Checker: up},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "optional dependency down",
			deps: []Dependency{
				{Name: "database", Checker: up, Critical: true},
				{Name: "redis", Checker: down},
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name: "critical dependency down",
			deps: []Dependency{
				{Name: "database", Checker: down, Critical: true},
				{Name: "redis", Checker: up},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unavailable",
		},
		{
			name: "missing checker",
			deps: []Dependency{
				{Name: "database", Critical: true},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serve(t, NewHandler(tt.deps...), "/readyz")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, body.Status)
			require.Len(t, body.Checks, len(tt.deps))
			for i, dep := range tt.deps {
				assert.Equal(t, dep.Name, body.Checks[i].Name)
			}
		})
	}
}

func TestShutdownFlipsProbes(t *testing.T) {
	h := NewHandler(Dependency{Name: "database", Checker: up, Critical: true})

	rec, _ := serve(t, h, "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)

	h.SetShutdown(true)

	rec, body := serve(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "shutting_down", body.Status)

	rec, _ = serve(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotReady(t *testing.T) {
	h := NewHandler()
	h.SetReady(false)

	rec, body := serve(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body.Status)
}
