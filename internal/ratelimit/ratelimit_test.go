package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jgoulah/plugshare/internal/auth"
	"github.com/stretchr/testify/assert"
)

type countingLimiter struct {
	limit int
	seen  map[string]int
	err   error
}

func (c *countingLimiter) Allow(_ context.Context, key string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.seen[key]++
	return c.seen[key] <= c.limit, nil
}

func TestMiddleware(t *testing.T) {
	l := &countingLimiter{limit: 2, seen: map[string]int{}}
	h := Middleware(l, KeyByUserOrIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/devices/kettle/on", nil)
		req.RemoteAddr = "192.168.1.20:51234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{204, 204, 429}, codes)
	assert.Equal(t, 3, l.seen["ip:192.168.1.20"])
}

func TestMiddlewareLimiterError(t *testing.T) {
	l := &countingLimiter{err: errors.New("redis down")}
	h := Middleware(l, KeyByIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestKeyByUserOrIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:9999"
	assert.Equal(t, "ip:10.1.1.1", KeyByUserOrIP(req))

	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Email: "a@example.com"}))
	assert.Equal(t, "user:a@example.com", KeyByUserOrIP(req))
}
