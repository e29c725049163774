package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jgoulah/plugshare/internal/auth"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Token bucket per key.
// KEYS[1] = key, ARGV[1] = burst, ARGV[2] = refill per second, ARGV[3] = now (ms)
var tokenBucket = redis.NewScript(`
local tokens_key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket = redis.call('HMGET', tokens_key, 'tokens', 'last')
local tokens = tonumber(bucket[1]) or max_tokens
local last = tonumber(bucket[2]) or now
local delta = math.max(0, now - last) / 1000
local refill = math.floor(delta * refill_rate)
tokens = math.min(max_tokens, tokens + refill)
local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end
if refill > 0 or allowed == 1 then
  last = now
end
redis.call('HSET', tokens_key, 'tokens', tokens, 'last', last)
redis.call('EXPIRE', tokens_key, 60)
return allowed
`)

// RedisLimiter is a token bucket kept in Redis so limits hold across replicas
type RedisLimiter struct {
	client *redis.Client
	prefix string
	rps    int
	burst  int
}

// NewRedisLimiter creates a limiter allowing rps requests per second with the given burst
func NewRedisLimiter(client *redis.Client, prefix string, rps, burst int) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, rps: rps, burst: burst}
}

// Allow takes one token from key's bucket
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	key = rl.prefix + ":" + key
	now := time.Now().UnixMilli()
	allowed, err := tokenBucket.Run(ctx, rl.client, []string{key}, rl.burst, rl.rps, now).Int64()
	if err != nil {
		slog.Error("redis eval error", "key", key, "error", err)
		return false, err
	}
	slog.Debug("token bucket", "key", key, "allowed", allowed, "max", rl.burst, "rps", rl.rps)
	return allowed == 1, nil
}

// Middleware rejects requests once their key runs out of tokens
func Middleware(l Limiter, keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := l.Allow(r.Context(), keyFunc(r))
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "rate limiter error")
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeyByIP keys by the client address
func KeyByIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// KeyByUserOrIP keys by the caller's email when authenticated, else by IP
func KeyByUserOrIP(r *http.Request) string {
	if claims := auth.GetClaims(r.Context()); claims != nil && claims.Email != "" {
		return "user:" + claims.Email
	}
	return "ip:" + KeyByIP(r)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg, "code": status})
}
