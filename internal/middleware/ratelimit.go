package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ambilfoto/backend/internal/apperr"
)

// RateLimit is a per-client token bucket.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// header is believed. Without it the header is ignored.
	TrustedProxies []string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keys buckets by authenticated account, falling back to the
// client IP for anonymous requests.
type RateLimiter struct {
	limit    RateLimit
	trusted  []netip.Prefix
	idleTTL  time.Duration
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		trusted:  parsePrefixes(limit.TrustedProxies),
		idleTTL:  10 * time.Minute,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.limit.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !l.allow(l.clientKey(r)) {
			w.Header().Set("Retry-After", "60")
			apperr.WriteJSON(w, apperr.New(apperr.KindRateLimited, "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		burst := l.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.limit.RequestsPerMinute/60.0), burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than the TTL.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idleTTL)
	n := 0
	for k, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, k)
			n++
		}
	}
	return n
}

func (l *RateLimiter) clientKey(r *http.Request) string {
	if p := PrincipalFromCtx(r.Context()); p != nil {
		return "account:" + p.AccountID.String()
	}
	peer, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		host, _, splitErr := net.SplitHostPort(r.RemoteAddr)
		if splitErr != nil {
			return "ip:" + r.RemoteAddr
		}
		return "ip:" + host
	}
	client := peer.Addr().Unmap()
	if l.isTrusted(client) {
		// Walk the chain right to left; the first hop not added by one of
		// our proxies is the client.
		hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			client = hop.Unmap()
			if !l.isTrusted(client) {
				break
			}
		}
	}
	return "ip:" + client.String()
}

func (l *RateLimiter) isTrusted(addr netip.Addr) bool {
	for _, p := range l.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parsePrefixes accepts bare addresses and CIDRs; anything else is skipped.
func parsePrefixes(raw []string) []netip.Prefix {
	var out []netip.Prefix
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if p, err := netip.ParsePrefix(r); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(r); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}
