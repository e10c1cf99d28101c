package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-essam23/chirp-relay/internal/server/middleware"
	"github.com/a-essam23/chirp-relay/pkg/config"
	"github.com/a-essam23/chirp-relay/pkg/logging"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) middleware.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := middleware.Chain(http.HandlerFunc(okHandler), mark("first"), mark("second"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, []string{"first", "second"}, order)
}

func TestRequestMetadata(t *testing.T) {
	var got *middleware.RequestMetadata
	h := middleware.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = middleware.ReqMetadataFrom(r.Context())
	}), middleware.RequestMetadataMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	require.Equal(t, "10.0.0.7", got.IP)
	require.False(t, got.ReceivedAt.IsZero())
}

func TestConnectionLimiter(t *testing.T) {
	live := map[string]int{"10.0.0.1": 2, "10.0.0.2": 1}
	counter := func(ip string) int { return live[ip] }
	limiter := middleware.NewConnectionLimiter(logging.Discard(), counter, config.ConnectionLimitConfig{MaxPerIP: 2})
	h := middleware.Chain(http.HandlerFunc(okHandler), middleware.RequestMetadataMiddleware(), limiter)

	for ip, want := range map[string]int{
		"10.0.0.1": http.StatusTooManyRequests,
		"10.0.0.2": http.StatusOK,
		"10.0.0.3": http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, ip)
	}
}

func TestConnectionLimiterNeedsMetadata(t *testing.T) {
	limiter := middleware.NewConnectionLimiter(logging.Discard(), func(string) int { return 0 }, config.ConnectionLimitConfig{MaxPerIP: 1})
	rec := httptest.NewRecorder()
	middleware.Chain(http.HandlerFunc(okHandler), limiter).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestConnectionLimiterDisabled(t *testing.T) {
	limiter := middleware.NewConnectionLimiter(logging.Discard(), func(string) int { return 100 }, config.ConnectionLimitConfig{})
	rec := httptest.NewRecorder()
	middleware.Chain(http.HandlerFunc(okHandler), limiter).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
