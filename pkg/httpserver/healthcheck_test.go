package httpserver_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parishkit/parishkit/pkg/httpserver"
	"github.com/parishkit/parishkit/pkg/logger"
)

func TestHealthCheckHandlerLiveness(t *testing.T) {
	t.Parallel()

	handler := httpserver.HealthCheckHandler(context.Background(), logger.New(logger.WithOutput(io.Discard)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALIVE", rec.Body.String())
}

func TestHealthCheckHandlerReadiness(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	bad := func(context.Context) error { return errors.New("connection refused") }

	handler := httpserver.HealthCheckHandler(context.Background(), logger.New(logger.WithOutput(io.Discard)), ok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "READY", rec.Body.String())

	handler = httpserver.HealthCheckHandler(context.Background(), logger.New(logger.WithOutput(io.Discard)), ok, bad)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "NOT_READY", rec.Body.String())
}
