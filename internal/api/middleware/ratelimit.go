package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/metrics"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerMinute = 100
	bucketTTL                = 5 * time.Minute
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimit is an in-process token bucket per client address. Limits are
// not shared between instances.
type RateLimit struct {
	recorder *audit.Recorder
	perMin   int
	burst    int

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimit starts the idle-bucket sweeper. Call Close to stop it.
func NewRateLimit(recorder *audit.Recorder, requestsPerMin, burst int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = requestsPerMin
	}
	rl := &RateLimit{
		recorder: recorder,
		perMin:   requestsPerMin,
		burst:    burst,
		buckets:  make(map[string]*bucket),
		stop:     make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimit) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimit) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for k, b := range rl.buckets {
				if now.Sub(b.seen) > bucketTTL {
					delete(rl.buckets, k)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimit) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMin)), rl.burst)}
		rl.buckets[ip] = b
	}
	b.seen = time.Now()
	return b.lim
}

// Limit rejects a client that has exhausted its bucket with 429 and records
// RATE_LIMIT_EXCEEDED.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.perMin))

		if !rl.limiter(ip).Allow() {
			metrics.RateLimited()
			rl.recorder.Record(r.Context(), audit.Event{
				Action:  models.ActionRateLimitExceeded,
				Details: map[string]any{"path": r.URL.Path, "method": r.Method, "limit_per_minute": rl.perMin},
				Meta:    Meta(r),
			})
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
