package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type statusBody struct {
	status string
	checks map[string]string
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) statusBody {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	body := statusBody{checks: map[string]string{}}
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			body.status = s
			return err
		case "checks":
			return d.Obj(func(d *jx.Decoder, name string) error {
				msg, err := d.Str()
				body.checks[name] = msg
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return body
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLiveEndpoint(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		runs       int
		wantStatus int
		wantFailed map[string]string
	}{
		{name: "no checks", wantStatus: http.StatusOK},
		{name: "all passing", checks: map[string]CheckFunc{"a": passingCheck(), "b": passingCheck()}, runs: 3, wantStatus: http.StatusOK},
		{name: "failing past threshold", checks: map[string]CheckFunc{"db": failingCheck("connection refused")}, runs: 3,
			wantStatus: http.StatusServiceUnavailable, wantFailed: map[string]string{"db": "connection refused"}},
		{name: "failing below threshold", checks: map[string]CheckFunc{"flaky": failingCheck("temporary")}, runs: 2, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil)
			for name, fn := range tt.checks {
				h.AddLivenessCheck(name, time.Second, fn)
			}
			for _, c := range h.liveness {
				for range tt.runs {
					c.run(ctx)
				}
			}

			w := serve(h.LiveEndpoint)
			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeStatus(t, w)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "ok", body.status)
				assert.Empty(t, body.checks)
				return
			}
			assert.Equal(t, "unhealthy", body.status)
			assert.Equal(t, tt.wantFailed, body.checks)
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	ctx := context.Background()
	h := New(nil)
	h.AddReadinessCheck("postgres", time.Second, passingCheck())
	h.AddReadinessCheck("redis", time.Second, failingCheck("dial tcp: refused"), WithThresholds(1, 1))

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decodeStatus(t, w).checks, "_readiness")

	h.SetReady(true)
	w = serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code, "checks start healthy")

	for _, c := range h.readiness {
		c.run(ctx)
	}
	w = serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeStatus(t, w)
	assert.Equal(t, map[string]string{"redis": "dial tcp: refused"}, body.checks)

	h.SetReady(false)
	body = decodeStatus(t, serve(h.ReadyEndpoint))
	assert.Contains(t, body.checks, "_readiness")
}

func TestIsReady(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("db", time.Second, passingCheck())

	assert.False(t, h.IsReady(), "not ready before SetReady")
	h.SetReady(true)
	assert.True(t, h.IsReady())
	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestCheck_Thresholds(t *testing.T) {
	ctx := context.Background()
	failing := true
	c := newCheck("flaky", time.Second, func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	}, []CheckOption{WithThresholds(2, 2)})

	assert.Nil(t, c.lastError())
	assert.False(t, c.run(ctx))
	assert.True(t, c.isHealthy())
	assert.True(t, c.run(ctx), "flips on the second failure")
	assert.False(t, c.isHealthy())
	assert.EqualError(t, c.lastError(), "down")

	failing = false
	assert.False(t, c.run(ctx))
	assert.False(t, c.isHealthy(), "one success is not enough")
	assert.True(t, c.run(ctx))
	assert.True(t, c.isHealthy())
	assert.NoError(t, c.lastError())
}

func TestStart_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := New(zap.New(core))
	h.AddLivenessCheck("db", time.Second, failingCheck("gone"), WithThresholds(1, 1))

	h.Start(context.Background(), time.Hour)
	require.Eventually(t, func() bool { return logs.FilterMessage("Health check failing").Len() == 1 },
		time.Second, 5*time.Millisecond)
	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("live", time.Second, failingCheck("err"))
	h.AddReadinessCheck("ready", time.Second, passingCheck())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	err := GoroutineCountCheck(0)(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))

	down := errors.New("refused")
	assert.NoError(t, PingCheck(pingerFunc(func(context.Context) error { return nil }))(ctx))
	assert.ErrorIs(t, PingCheck(pingerFunc(func(context.Context) error { return down }))(ctx), down)
}
