package ratelimit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-service/internal/auth"
	"calendar-service/internal/ratelimit"
	"calendar-service/internal/redis"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) *ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return ratelimit.NewLimiter(client, &ratelimit.Config{
		DefaultLimit:  limit,
		DefaultWindow: window,
		Enabled:       true,
	})
}

func TestCheckLimit_CountsRequests(t *testing.T) {
	limiter := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rl, err := limiter.CheckDefaultLimit(ctx, "user:user-1")
		require.NoError(t, err)
		assert.Equal(t, 3-i, rl.Remaining)
	}

	rl, err := limiter.CheckDefaultLimit(ctx, "user:user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rl.Remaining)
}

func TestCheckLimit_KeysAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	_, err := limiter.CheckDefaultLimit(ctx, "user:user-1")
	require.NoError(t, err)

	rl, err := limiter.CheckDefaultLimit(ctx, "user:user-2")
	require.NoError(t, err)
	assert.Equal(t, 1, rl.Remaining)
}

func TestLimiter_DisabledWithoutRedis(t *testing.T) {
	limiter := ratelimit.NewLimiter(nil, nil)

	rl, err := limiter.CheckDefaultLimit(context.Background(), "user:user-1")
	require.NoError(t, err)
	assert.Equal(t, rl.Limit, rl.Remaining)
}

func TestHTTPMiddleware_ThrottlesAfterLimit(t *testing.T) {
	limiter := newTestLimiter(t, 2, time.Minute)

	handler := limiter.HTTPMiddleware(ratelimit.UserBasedKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/calendar/events", nil)
		req = req.WithContext(auth.WithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := request()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))

	second := request()
	assert.Equal(t, http.StatusOK, second.Code)

	third := request()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
}

func TestHTTPMiddleware_SeparateUsers(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Minute)

	handler := limiter.HTTPMiddleware(ratelimit.UserBasedKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, userID := range []string{"user-1", "user-2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/calendar/events", nil)
		req = req.WithContext(auth.WithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAgentBasedKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/internal/calendar/events", nil)
	assert.Equal(t, "agent:shared", ratelimit.AgentBasedKey(req))

	req.Header.Set(auth.UserIDHeader, "user-1")
	assert.Equal(t, "agent:user-1", ratelimit.AgentBasedKey(req))
}
