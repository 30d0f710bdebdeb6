package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnstile/pkg/config"
	"turnstile/pkg/logger"
	"turnstile/pkg/middleware"
)

type routesFunc func(*httprouter.Router)

func (f routesFunc) RegisterRoutes(r *httprouter.Router) { f(r) }

func testConfig() *config.Config {
	cfg := config.FromEnv("turnstile-test")
	cfg.Log = logger.Discard()
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindow = time.Minute
	cfg.RequestTimeout = time.Second
	cfg.IdempotencyTTL = time.Minute
	cfg.MaxRequestSize = 1024
	return cfg
}

func newTestApp(t *testing.T) *Application {
	t.Helper()
	app := NewApplication(testConfig())
	app.SetApp(
		routesFunc(func(r *httprouter.Router) {
			r.POST("/api/v1/events/:event_id/queue", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
				w.WriteHeader(http.StatusAccepted)
			})
			r.GET("/api/v1/panic", func(http.ResponseWriter, *http.Request, httprouter.Params) {
				panic("boom")
			})
		}),
		routesFunc(func(r *httprouter.Router) {
			r.GET("/health", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
				w.WriteHeader(http.StatusOK)
			})
			r.GET("/metrics/messaging", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
				w.WriteHeader(http.StatusOK)
			})
		}),
	)
	t.Cleanup(func() { app.runHooks(context.Background()) })
	return app
}

func TestApplication_Routing(t *testing.T) {
	h := newTestApp(t).Handler()

	for _, path := range []string{"/health", "/metrics/messaging"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader), path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestApplication_RateLimitsPerParticipant(t *testing.T) {
	h := newTestApp(t).Handler()

	join := func(participant string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events/ev-1/queue", nil)
		req.Header.Set(middleware.ParticipantIDHeader, participant)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, join("alice"))
	assert.Equal(t, http.StatusAccepted, join("alice"))
	assert.Equal(t, http.StatusTooManyRequests, join("alice"))
	assert.Equal(t, http.StatusAccepted, join("bob"))
}

func TestApplication_RejectsNonJSONBodies(t *testing.T) {
	h := newTestApp(t).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/ev-1/queue", strings.NewReader("participant=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestApplication_ShutdownHooksRunInOrder(t *testing.T) {
	app := newTestApp(t)

	var order []string
	app.OnShutdown("consumers", func(context.Context) error {
		order = append(order, "consumers")
		return nil
	})
	app.OnShutdown("scheduler", func(context.Context) error {
		order = append(order, "scheduler")
		return errors.New("already stopped")
	})
	app.OnShutdown("clients", func(context.Context) error {
		order = append(order, "clients")
		return nil
	})

	require.NotPanics(t, func() { app.gracefulShutdown() })

	assert.Equal(t, []string{"consumers", "scheduler", "clients"}, order[:3])
}
