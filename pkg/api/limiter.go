package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/statsgallery/sponsorship/pkg/auth"
)

// BackpressurePolicy caps request rates per account: RPM is the
// sustained rate, Burst the bucket capacity.
type BackpressurePolicy struct {
	RPM   int
	Burst int
}

// LimiterStore hands out rate-limit decisions. Allow reports whether
// actorID may spend cost tokens under the policy.
type LimiterStore interface {
	Allow(ctx context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error)
}

// bucket is one actor's token balance. Refill happens on access, pro
// rata for the time since the last visit.
type bucket struct {
	balance  float64
	lastSeen time.Time
}

func (b *bucket) take(cost int, rate, capacity float64, now time.Time) bool {
	b.balance += now.Sub(b.lastSeen).Seconds() * rate
	if b.balance > capacity {
		b.balance = capacity
	}
	b.lastSeen = now

	if b.balance < float64(cost) {
		return false
	}
	b.balance -= float64(cost)
	return true
}

// InMemoryLimiterStore keeps per-actor buckets in a map. Suitable for a
// single replica; multi-replica deployments use the Redis store so all
// replicas drain the same buckets.
type InMemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewInMemoryLimiterStore() *InMemoryLimiterStore {
	return &InMemoryLimiterStore{buckets: make(map[string]*bucket)}
}

func (s *InMemoryLimiterStore) Allow(ctx context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error) {
	rate := float64(policy.RPM) / 60.0
	if rate <= 0 {
		rate = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[actorID]
	if !ok {
		b = &bucket{balance: float64(policy.Burst), lastSeen: time.Now()}
		s.buckets[actorID] = b
	}
	return b.take(cost, rate, float64(policy.Burst), time.Now()), nil
}

// AccountRateLimit enforces per-account request limits through the provided
// store. Authenticated requests are keyed by account; anonymous requests fall
// back to the client IP, so unauthenticated reads still share a bucket.
func AccountRateLimit(store LimiterStore, policy BackpressurePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor string
			if acct, err := auth.CallerAccount(r.Context()); err == nil {
				actor = acct.String()
			}
			if actor == "" {
				actor = clientIP(r)
			}

			allowed, err := store.Allow(r.Context(), actor, policy, 1)
			if err != nil {
				// Fail open when the limiter backend is unreachable.
				slog.Warn("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				WriteTooManyRequests(w, 5)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the remote IP, tolerating addresses without a port.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
