package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// GlobalRateLimiter throttles by client IP before auth runs, shielding
// the token verifier itself from floods. Account-level limits are
// enforced separately by AccountRateLimit.
type GlobalRateLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	perAddr map[string]*addrState
}

type addrState struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewGlobalRateLimiter allows rps requests per second per IP with the
// given burst. Idle entries are swept in the background.
func NewGlobalRateLimiter(rps, burst int) *GlobalRateLimiter {
	rl := &GlobalRateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		perAddr: make(map[string]*addrState),
	}
	go rl.sweep()
	return rl
}

func (rl *GlobalRateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	st := rl.perAddr[ip]
	if st == nil {
		st = &addrState{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.perAddr[ip] = st
	}
	st.seen = time.Now()
	return st.lim
}

// sweep drops entries idle for more than three minutes.
func (rl *GlobalRateLimiter) sweep() {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for range tick.C {
		rl.mu.Lock()
		for ip, st := range rl.perAddr {
			if time.Since(st.seen) > 3*time.Minute {
				delete(rl.perAddr, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware rejects requests once an IP exhausts its bucket.
func (rl *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiterFor(clientIP(r)).Allow() {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware handles cross-origin requests from gallery frontends.
// With no explicit list, origins come from the CORS_ORIGINS env var
// (comma-separated); an empty list allows every origin, for development.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && originAllowed(origin, allowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")
			h.Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		// Development default: no configured list allows everything.
		return true
	}
	for _, a := range allowed {
		if a == origin || a == "*" {
			return true
		}
	}
	return false
}

type requestIDKey struct{}

// RequestIDMiddleware stamps every request with an X-Request-ID, reusing
// the client's id when one is sent, and echoes it on the response so
// support tickets can be matched to log lines.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the id stamped by RequestIDMiddleware, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
