package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/medqa-go/internal/logging"
)

// Per-caller token bucket defaults for the /api routes. Each chat request
// costs an LLM generation, so the sustained rate is kept low.
const (
	defaultRateLimit = 2
	defaultRateBurst = 5
)

// quotaIdleAfter is how long a caller may stay quiet before its bucket is
// dropped. quotaSweepEvery is how often that check runs.
const (
	quotaIdleAfter  = 5 * time.Minute
	quotaSweepEvery = time.Minute
)

// callerQuota is one remote host's bucket.
type callerQuota struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// quotaGuard throttles the chat and search routes per remote host. A
// rejected request gets 429 with Retry-After set to the whole seconds until
// the caller's bucket refills.
type quotaGuard struct {
	perSecond rate.Limit
	burst     int
	// onReject is called with the route name of every throttled request.
	onReject func(route string)
	now      func() time.Time

	mu      sync.Mutex
	callers map[string]*callerQuota
}

// newQuotaGuard starts the idle-caller sweep and returns the guard with
// its stop function.
func newQuotaGuard(perSecond float64, burst int, onReject func(route string)) (*quotaGuard, func()) {
	if onReject == nil {
		onReject = func(string) {}
	}
	g := &quotaGuard{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		onReject:  onReject,
		now:       time.Now,
		callers:   make(map[string]*callerQuota),
	}

	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(quotaSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				g.sweep()
			}
		}
	}()
	return g, func() { close(stopCh) }
}

// take spends one token from host's bucket. When the bucket is empty it
// returns false and the wait until a token is available.
func (g *quotaGuard) take(host string) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	q, ok := g.callers[host]
	if !ok {
		q = &callerQuota{bucket: rate.NewLimiter(g.perSecond, g.burst)}
		g.callers[host] = q
	}
	q.lastSeen = now

	res := q.bucket.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait, false
	}
	return 0, true
}

// sweep forgets callers idle for longer than quotaIdleAfter and returns how
// many were dropped.
func (g *quotaGuard) sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-quotaIdleAfter)
	dropped := 0
	for host, q := range g.callers {
		if q.lastSeen.Before(cutoff) {
			delete(g.callers, host)
			dropped++
		}
	}
	return dropped
}

// wrap throttles next, which is served under route.
func (g *quotaGuard) wrap(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := remoteHost(r)
		wait, ok := g.take(host)
		if !ok {
			retryAfter := max(1, int(math.Ceil(wait.Seconds())))
			logging.FromContext(r.Context()).Warn("request throttled",
				slog.String("route", route),
				slog.String("remote_host", host),
				slog.Int("retry_after_s", retryAfter),
			)
			g.onReject(route)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(w, "too many requests, slow down", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// remoteHost returns the peer address without its port. X-Forwarded-For is
// ignored.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
