package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relaychat/go-relaychat/internal/auth"
	"golang.org/x/time/rate"
)

type contextKey string

const claimsKey contextKey = "claims"

func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	return claims, ok
}

func UserId(ctx context.Context) (int, bool) {
	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return 0, false
	}
	return claims.UserId, true
}

func (s *RelayApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires a bearer token and verifies it through the same
// token service the WebSocket handshake uses, so a revoked token is
// rejected uniformly on both paths.
func (s *RelayApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			errResp := NewUnauthorizedError(CodeTokenMissing)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			errResp := NewUnauthorizedError(CodeTokenMalformed)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		claims, err := s.tokens.Verify(token)
		if err != nil {
			errResp := NewUnauthorizedError(CodeTokenInvalid)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithClaims(r.Context(), claims)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// ipRateLimiter hands out one token bucket per client IP and garbage
// collects idle entries.
type ipRateLimiter struct {
	mu    sync.Mutex
	m     map[string]*keyLimiter
	r     rate.Limit
	burst int
	ttl   time.Duration
	stop  chan struct{}
}

func newIpRateLimiter(r rate.Limit, burst int, ttl time.Duration) *ipRateLimiter {
	rl := &ipRateLimiter{
		m:     make(map[string]*keyLimiter),
		r:     r,
		burst: burst,
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	go rl.gc()
	return rl
}

func (rl *ipRateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	kl, ok := rl.m[key]
	if ok {
		kl.ts = time.Now()
		return kl.lim
	}
	lim := rate.NewLimiter(rl.r, rl.burst)
	rl.m[key] = &keyLimiter{lim: lim, ts: time.Now()}
	return lim
}

func (rl *ipRateLimiter) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			now := time.Now()
			rl.mu.Lock()
			for k, v := range rl.m {
				if now.Sub(v.ts) > rl.ttl {
					delete(rl.m, k)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *ipRateLimiter) Stop() {
	select {
	case <-rl.stop:
	default:
		close(rl.stop)
	}
}

// rateLimitMiddleware rejects over-limit requests with a 429 envelope that
// includes a retry-after hint.
func (s *RelayApp) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lim := s.limiter.get(clientIP(r.RemoteAddr))
		if !lim.Allow() {
			retryAfter := 1
			if s.limiter.r > 0 {
				retryAfter = int(time.Duration(float64(time.Second)/float64(s.limiter.r)).Round(time.Second).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			errResp := NewRateLimitError(retryAfter)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next(w, r)
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
