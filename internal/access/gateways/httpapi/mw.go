package httpapi

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/haukened/gracegate/internal/access/common/log"
)

// accessLog writes one line per request and feeds the request metrics.
// The chi wrapper keeps http.Hijacker so WebSocket upgrades pass through.
func accessLog(logger log.Logger, m Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			if m != nil {
				m.ObserveHTTP(route, r.Method, status, elapsed)
			}
			logger.Info(map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     status,
				"bytes":      ww.BytesWritten(),
				"duration":   elapsed.String(),
				"remote_ip":  r.RemoteAddr,
				"request_id": middleware.GetReqID(r.Context()),
			}, "http_request")
		})
	}
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// ipLimiter keeps one token bucket per client IP and drops idle buckets.
type ipLimiter struct {
	limiters sync.Map
	perMin   int
	burst    int
	metrics  Metrics
	cancel   context.CancelFunc
}

func newIPLimiter(perMinute, burst int, cleanup time.Duration, m Metrics) *ipLimiter {
	if burst < 1 {
		burst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &ipLimiter{perMin: perMinute, burst: burst, metrics: m, cancel: cancel}
	go l.cleanup(ctx, cleanup)
	return l
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.get(clientIP(r.RemoteAddr)).Allow() {
			if l.metrics != nil {
				l.metrics.RateLimited()
			}
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := l.limiters.Load(ip); ok {
		e := v.(*ipEntry)
		e.lastSeen.Store(now)
		return e.limiter
	}
	e := &ipEntry{limiter: rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.burst)}
	e.lastSeen.Store(now)
	actual, _ := l.limiters.LoadOrStore(ip, e)
	return actual.(*ipEntry).limiter
}

func (l *ipLimiter) cleanup(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cutoff := time.Now().Add(-every).UnixNano()
			l.limiters.Range(func(k, v any) bool {
				if v.(*ipEntry).lastSeen.Load() < cutoff {
					l.limiters.Delete(k)
				}
				return true
			})
		}
	}
}

func (l *ipLimiter) stop() { l.cancel() }

// clientIP strips the port from a RemoteAddr already rewritten by
// middleware.RealIP.
func clientIP(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}
