package auth

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter bounds login attempts per remote address. Credential
// guessing is the concern; authenticated routes are not limited.
type RateLimiter struct {
	requests map[string]int
	limit    int
	window   time.Duration
	mutex    sync.Mutex
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]int),
		limit:    limit,
		window:   window,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipAddress := r.RemoteAddr

		rl.mutex.Lock()
		count, exists := rl.requests[ipAddress]
		if !exists {
			rl.requests[ipAddress] = 1
			rl.mutex.Unlock()
			go rl.resetCount(ipAddress)
			next.ServeHTTP(w, r)
			return
		}

		if count >= rl.limit {
			rl.mutex.Unlock()
			w.Header().Set("Retry-After", "60")
			JSON(w, http.StatusTooManyRequests, ErrorResponse{Title: "TooManyRequests"})
			return
		}

		rl.requests[ipAddress] = count + 1
		rl.mutex.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) resetCount(ipAddress string) {
	time.Sleep(rl.window)
	rl.mutex.Lock()
	delete(rl.requests, ipAddress)
	rl.mutex.Unlock()
}
