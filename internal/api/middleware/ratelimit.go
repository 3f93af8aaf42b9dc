package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yogi2103/zulip/internal/metrics"
)

// Scope selects what a rate limit counts against.
type Scope int

// ScopeIP limits are enforced by Middleware on every route. ScopeUser
// limits are enforced by UserMiddleware, which must run after RequireAuth.
const (
	ScopeIP   Scope = iota // client address
	ScopeUser              // authenticated user
)

// RateLimit caps requests whose "METHOD /path" starts with Prefix.
type RateLimit struct {
	Prefix   string
	Requests int
	Window   time.Duration
	Scope    Scope
}

// DefaultRateLimits are used when RateLimiterConfig.Limits is empty.
// Longer prefixes come first so they win over shorter ones.
var DefaultRateLimits = []RateLimit{
	{Prefix: "POST /users", Requests: 10, Window: time.Hour, Scope: ScopeIP},
	{Prefix: "GET /users/", Requests: 100, Window: time.Minute, Scope: ScopeIP},
	{Prefix: "POST /streams/", Requests: 60, Window: time.Minute, Scope: ScopeUser},
	{Prefix: "POST /streams", Requests: 10, Window: time.Hour, Scope: ScopeUser},
	{Prefix: "GET /streams", Requests: 60, Window: time.Minute, Scope: ScopeIP},
	{Prefix: "POST /messages", Requests: 60, Window: time.Minute, Scope: ScopeUser},
	{Prefix: "GET /messages", Requests: 120, Window: time.Minute, Scope: ScopeUser},
	{Prefix: "POST /submessage", Requests: 120, Window: time.Minute, Scope: ScopeUser},
	{Prefix: "GET /events", Requests: 600, Window: time.Minute, Scope: ScopeUser},
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string    // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool        // Block IPs after repeated violations
	Limits           []RateLimit // Replaces DefaultRateLimits when set
}

const (
	violationThreshold = 10
	violationWindow    = time.Hour
	autoBlockDuration  = 24 * time.Hour
)

// hitScript increments a window counter and starts its expiry on the first
// hit. It returns the new count and the milliseconds left in the window.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {n, ttl}
`)

// RateLimiter enforces fixed-window request limits stored in Redis.
type RateLimiter struct {
	client    *redis.Client
	limits    []RateLimit
	whitelist []netip.Prefix
	blocker   *IPBlocker
	autoBlock bool
	logger    zerolog.Logger
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:    client,
		limits:    DefaultRateLimits,
		blocker:   NewIPBlocker(client),
		autoBlock: cfg.AutoBlockEnabled,
		logger:    logger.With().Str("component", "ratelimit").Logger(),
	}
	if len(cfg.Limits) > 0 {
		rl.limits = cfg.Limits
	}

	for _, entry := range cfg.Whitelist {
		prefix, err := parsePrefix(entry)
		if err != nil {
			rl.logger.Warn().Str("entry", entry).Err(err).Msg("ignoring invalid whitelist entry")
			continue
		}
		rl.whitelist = append(rl.whitelist, prefix)
	}
	if len(rl.whitelist) > 0 {
		rl.logger.Info().Int("entries", len(rl.whitelist)).Msg("rate limit whitelist configured")
	}

	return rl
}

// parsePrefix accepts "10.0.0.0/8" or a bare address.
func parsePrefix(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		return netip.ParsePrefix(entry)
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (rl *RateLimiter) whitelisted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, p := range rl.whitelist {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// findLimit returns the first limit whose prefix matches r, or nil.
func (rl *RateLimiter) findLimit(r *http.Request) *RateLimit {
	route := r.Method + " " + r.URL.Path
	for i := range rl.limits {
		if strings.HasPrefix(route, rl.limits[i].Prefix) {
			return &rl.limits[i]
		}
	}
	return nil
}

// counterKey names the counter for a limit and the subject it counts.
func counterKey(limit *RateLimit, subject string) string {
	return "ratelimit:" + limit.Prefix + ":" + subject
}

// Allow records one hit against key. It reports whether the hit is within
// limit, how many hits remain and when the window resets. Redis errors
// fail open.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	res, err := hitScript.Run(ctx, rl.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		rl.logger.Error().Err(err).Str("key", key).Msg("rate limit check failed")
		return true, limit, time.Now().Add(window)
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	return count <= limit, max(limit-count, 0), time.Now().Add(ttl)
}

// Middleware rejects blocked addresses and enforces ScopeIP limits.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.whitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.blocker.IsBlocked(r.Context(), ip) {
			rl.logger.Warn().
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("path", r.URL.Path).
				Msg("request from blocked IP")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit := rl.findLimit(r)
		if limit == nil || limit.Scope != ScopeIP {
			next.ServeHTTP(w, r)
			return
		}

		if rl.enforce(w, r, limit, "ip:"+ip, ip) {
			next.ServeHTTP(w, r)
		}
	})
}

// UserMiddleware enforces ScopeUser limits against the user stored by
// RequireAuth. Requests without an authenticated user pass through.
func (rl *RateLimiter) UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUserFromContext(r.Context())
		ip := RealIP(r)
		if user == nil || rl.whitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		limit := rl.findLimit(r)
		if limit == nil || limit.Scope != ScopeUser {
			next.ServeHTTP(w, r)
			return
		}

		if rl.enforce(w, r, limit, "user:"+strconv.FormatInt(user.ID, 10), ip) {
			next.ServeHTTP(w, r)
		}
	})
}

// enforce counts the request against subject's window and sets the
// X-RateLimit headers. Over the limit it writes a 429 and returns false.
func (rl *RateLimiter) enforce(w http.ResponseWriter, r *http.Request, limit *RateLimit, subject, ip string) bool {
	allowed, remaining, resetAt := rl.Allow(r.Context(), counterKey(limit, subject), limit.Requests, limit.Window)

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

	if allowed {
		return true
	}

	h.Set("Retry-After", strconv.Itoa(max(int(time.Until(resetAt).Seconds()), 1)))
	rl.recordViolation(r.Context(), ip)

	rl.logger.Warn().
		Str("event", "rate_limit_exceeded").
		Str("ip", ip).
		Str("subject", subject).
		Str("limit", limit.Prefix).
		Msg("rate limit exceeded")
	metrics.RateLimitHits.WithLabelValues(limit.Prefix).Inc()
	jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// recordViolation counts a violation and blocks the IP once it crosses the
// threshold within the violation window.
func (rl *RateLimiter) recordViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}

	res, err := hitScript.Run(ctx, rl.client, []string{"violations:ip:" + ip}, violationWindow.Milliseconds()).Int64Slice()
	if err != nil || len(res) == 0 || res[0] < violationThreshold {
		return
	}

	rl.blocker.Block(ctx, ip, autoBlockDuration, "repeated rate limit violations")
	rl.logger.Warn().
		Str("event", "ip_auto_blocked").
		Str("ip", ip).
		Int64("violations", res[0]).
		Msg("IP blocked for repeated violations")
}

// RealIP returns the host part of r.RemoteAddr. Proxy headers are only
// honoured when chi's RealIP middleware has rewritten RemoteAddr from them.
func RealIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
