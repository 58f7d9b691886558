package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/linetally/peoplecount/internal/ratelimit"
)

// RateLimitMiddleware enforces global IP, per-user, and per-endpoint request
// limits ahead of the control plane's handlers (SPEC_FULL ambient auth
// stack; spec §7 auth failure path).
type RateLimitMiddleware struct {
	limiter         *ratelimit.Limiter
	config          *Config
	endpointsLimits map[string]ratelimit.LimitConfig
}

type Config struct {
	GlobalIP  ratelimit.LimitConfig            `yaml:"global_ip"`
	User      ratelimit.LimitConfig            `yaml:"user"`
	Login     ratelimit.LimitConfig            `yaml:"login"`
	Endpoints map[string]ratelimit.LimitConfig `yaml:"endpoints"`
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c Config, epLimits map[string]ratelimit.LimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: &c, endpointsLimits: epLimits}
}

// GlobalLimiter applies the IP limit to every request, then the user limit
// when the request carries an AuthContext, then any path-specific limit.
// A Redis outage fails closed for the login path and open everywhere else.
func (m *RateLimitMiddleware) GlobalLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := strings.Split(r.RemoteAddr, ":")[0]
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip = strings.Split(xff, ",")[0]
		}
		ipHash := m.limiter.HashIP(ip)

		decision, err := m.limiter.CheckRateLimit(r.Context(), fmt.Sprintf("rl:ip:%s", ipHash), m.config.GlobalIP)
		if err == ratelimit.ErrRedisUnavailable {
			if strings.HasPrefix(r.URL.Path, "/api/auth/") {
				log.Printf("ratelimit: redis unavailable on auth path, failing closed: %v", err)
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				return
			}
			log.Printf("ratelimit: redis unavailable, failing open: %v", err)
			next.ServeHTTP(w, r)
			return
		} else if err != nil {
			log.Printf("ratelimit: error, failing open: %v", err)
			next.ServeHTTP(w, r)
			return
		}
		if !decision.Allowed {
			m.writeRateLimitHeaders(w, decision)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		if ac, ok := GetAuthContext(r.Context()); ok {
			userKey := fmt.Sprintf("rl:user:%s", ac.UserID)
			if uDecision, err := m.limiter.CheckRateLimit(r.Context(), userKey, m.config.User); err == nil && !uDecision.Allowed {
				m.writeRateLimitHeaders(w, uDecision)
				http.Error(w, "User rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		if limitConfig, found := m.endpointsLimits[r.URL.Path]; found {
			epKey := fmt.Sprintf("rl:ep:%s:%s", ipHash, r.URL.Path)
			if epDecision, err := m.limiter.CheckRateLimit(r.Context(), epKey, limitConfig); err == nil && !epDecision.Allowed {
				m.writeRateLimitHeaders(w, epDecision)
				http.Error(w, "Endpoint rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
