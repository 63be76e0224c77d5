package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/docrag-go/internal/logging"
)

const (
	// defaultRateLimit is the token refill rate per client (tokens/second).
	defaultRateLimit = 10
	// defaultRateBurst is the bucket size per client.
	defaultRateBurst = 20
	// clientIdle is how long a client's bucket is kept without requests.
	clientIdle = 5 * time.Minute
	// sweepInterval is how often idle buckets are dropped.
	sweepInterval = time.Minute
)

// routeCost is the number of tokens one request to a route takes from the
// client's bucket. Routes not listed take one token. Costs above the bucket
// size are capped at the bucket size.
var routeCost = map[string]int{
	"POST /api/ingest": 10,
	"POST /api/ask":    2,
	"POST /api/chat":   2,
}

// bucket is one client's token bucket.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter admits requests against a per-client token bucket, charging
// each request its route cost.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
	log     *slog.Logger
	// rejected, if set, is called with the route of every refused request.
	rejected func(route string)
}

// newRateLimiter returns a limiter refilling rps tokens per second into
// buckets of size burst, and a func that stops its idle-bucket sweeper.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-t.C:
				rl.sweep(now)
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// bucketFor returns the client's bucket, creating it on first use.
func (rl *rateLimiter) bucketFor(client string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[client] = b
	}
	b.lastSeen = now
	return b.limiter
}

// sweep drops buckets idle for longer than clientIdle.
func (rl *rateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for client, b := range rl.buckets {
		if now.Sub(b.lastSeen) > clientIdle {
			delete(rl.buckets, client)
		}
	}
}

// clients returns the number of tracked buckets.
func (rl *rateLimiter) clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// cost returns the tokens the request takes.
func (rl *rateLimiter) cost(route string) int {
	c, ok := routeCost[route]
	if !ok {
		c = 1
	}
	return min(c, rl.burst)
}

// middleware refuses requests the client cannot pay for with 429 and a
// Retry-After header giving the seconds until the bucket holds enough tokens.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Pattern
		if route == "" {
			route = r.Method + " " + r.URL.Path
		}
		client := clientIP(r)
		cost := rl.cost(route)
		now := time.Now()

		lim := rl.bucketFor(client, now)
		if lim.AllowN(now, cost) {
			next.ServeHTTP(w, r)
			return
		}

		res := lim.ReserveN(now, cost)
		wait := res.DelayFrom(now)
		res.CancelAt(now)

		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("client", client),
			slog.String("route", route),
			slog.Int("cost", cost),
			slog.Duration("retry_after", wait),
		)
		if rl.rejected != nil {
			rl.rejected(route)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Kind: "rate limited"})
	})
}

// retryAfterSeconds rounds wait up to whole seconds, at least one.
func retryAfterSeconds(wait time.Duration) int {
	if wait == rate.InfDuration {
		return int(clientIdle.Seconds())
	}
	return max(1, int(math.Ceil(wait.Seconds())))
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored:
// the server binds to loopback by default and sits behind no proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i >= 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
