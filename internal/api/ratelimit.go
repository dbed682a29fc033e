package api

import (
	"sync"
	"time"

	"cravvr/internal/apperr"
	"cravvr/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL      = 10 * time.Minute
	limiterCleanupEvery = time.Minute
)

type callerLimiter struct {
	limiter *rate.Limiter

	mu   sync.Mutex
	last time.Time
}

// principalLimiter keeps one token bucket per authenticated user
type principalLimiter struct {
	rps   rate.Limit
	burst int

	limiters    sync.Map // map[string]*callerLimiter
	cleanupOnce sync.Once
	done        chan struct{}
	stopOnce    sync.Once
}

func newPrincipalLimiter(rps float64, burst int) *principalLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &principalLimiter{
		rps:   rate.Limit(rps),
		burst: burst,
		done:  make(chan struct{}),
	}
}

func (l *principalLimiter) get(key string) *callerLimiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*callerLimiter)
	}
	v, _ := l.limiters.LoadOrStore(key, &callerLimiter{limiter: rate.NewLimiter(l.rps, l.burst)})
	l.cleanupOnce.Do(func() {
		go l.cleanup()
	})
	return v.(*callerLimiter)
}

func (l *principalLimiter) allow(key string) bool {
	cl := l.get(key)
	cl.mu.Lock()
	cl.last = time.Now()
	cl.mu.Unlock()
	return cl.limiter.Allow()
}

func (l *principalLimiter) cleanup() {
	ticker := time.NewTicker(limiterCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterIdleTTL)
			l.limiters.Range(func(key, val any) bool {
				cl := val.(*callerLimiter)
				cl.mu.Lock()
				idle := cl.last.Before(cutoff)
				cl.mu.Unlock()
				if idle {
					l.limiters.Delete(key)
				}
				return true
			})
		}
	}
}

func (l *principalLimiter) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// middleware limits per principal, falling back to client IP. A zero rate disables limiting.
func (l *principalLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.rps <= 0 {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if p, ok := auth.PrincipalFrom(c); ok {
			key = "user:" + p.UserID.String()
		}
		if !l.allow(key) {
			err := apperr.New(apperr.RateLimited, "too many requests")
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), newErrorBody(err))
			return
		}
		c.Next()
	}
}
