// Package ratelimit throttles user-facing endpoints per client IP and locks out
// clients that keep probing for unknown usernames.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	DefaultRequestsPerMinute = 60
	DefaultBurst             = 10
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
	MaxLockoutDuration       = time.Hour

	idleTimeout = 10 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type lockout struct {
	failedAttempts int
	lockedUntil    time.Time
	lockoutCount   int
}

// Config configures a Limiter. Zero values use the defaults.
type Config struct {
	RequestsPerMinute int
	Burst             int
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// Limiter keeps a token bucket per client IP and an escalating lockout for
// clients with repeated authorization failures.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	lockouts map[string]*lockout

	limit             rate.Limit
	burst             int
	maxFailedAttempts int
	baseLockout       time.Duration
	now               func() time.Time
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultLockoutDuration
	}
	return &Limiter{
		visitors:          make(map[string]*visitor),
		lockouts:          make(map[string]*lockout),
		limit:             rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute)),
		burst:             cfg.Burst,
		maxFailedAttempts: cfg.MaxFailedAttempts,
		baseLockout:       cfg.LockoutDuration,
		now:               time.Now,
	}
}

// Middleware rejects locked out or over-limit clients with 429.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			if l.IsLocked(ip) || !l.Allow(ip) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, please try again later")
			}

			return next(c)
		}
	}
}

// Allow consumes a token for ip.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// IsLocked reports whether ip is currently locked out.
func (l *Limiter) IsLocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lo, ok := l.lockouts[ip]
	if !ok {
		return false
	}
	return l.now().Before(lo.lockedUntil)
}

// RecordFailure counts an authorization failure for ip. Reaching the maximum
// locks the client out; each further lockout doubles in length up to
// MaxLockoutDuration.
func (l *Limiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	lo, ok := l.lockouts[ip]
	if !ok {
		lo = &lockout{}
		l.lockouts[ip] = lo
	}

	if now.After(lo.lockedUntil) && lo.failedAttempts >= l.maxFailedAttempts {
		lo.failedAttempts = 0
	}

	lo.failedAttempts++

	if lo.failedAttempts >= l.maxFailedAttempts {
		lo.lockoutCount++
		duration := l.baseLockout << (lo.lockoutCount - 1)
		if duration > MaxLockoutDuration || duration <= 0 {
			duration = MaxLockoutDuration
		}
		lo.lockedUntil = now.Add(duration)
	}
}

// RecordSuccess clears the failure history of ip.
func (l *Limiter) RecordSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.lockouts, ip)
}

// Cleanup drops idle visitors and expired lockouts.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > idleTimeout {
			delete(l.visitors, ip)
		}
	}

	for ip, lo := range l.lockouts {
		if now.After(lo.lockedUntil) && lo.failedAttempts < l.maxFailedAttempts {
			delete(l.lockouts, ip)
		}
	}
}
