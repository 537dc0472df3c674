package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func okPinger() Pinger { return pingerFunc(func(context.Context) error { return nil }) }

func TestHealth_AllOK(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"store": okPinger(), "cache": okPinger()}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	data := parseData(t, rec)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, map[string]any{"store": "ok", "cache": "ok"}, data["services"])
}

func TestHealth_Degraded(t *testing.T) {
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"store": okPinger(), "cache": down}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	code, details := parseErr(t, rec)
	assert.Equal(t, "DEGRADED", code)
	assert.Equal(t, "degraded", details["cache"])
	assert.Equal(t, "ok", details["store"])
}
