package shared

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPRequestRateLimiter spaces outbound requests by a minimum delay.
// The ticket API allows one request per second and exchange sites get
// the same courtesy; every client sharing a limiter shares its clock.
type HTTPRequestRateLimiter struct {
	minimumDelay    time.Duration
	lastRequestTime time.Time
	mutex           sync.Mutex
	requestCount    int64
}

// NewHTTPRequestRateLimiter creates a new rate limiter with the specified minimum delay
func NewHTTPRequestRateLimiter(minimumDelay time.Duration) *HTTPRequestRateLimiter {
	return &HTTPRequestRateLimiter{
		minimumDelay:    minimumDelay,
		lastRequestTime: time.Now(),
	}
}

// EnforceRateLimit blocks until the minimum delay has elapsed since the
// previous request, then claims the current slot.
func (limiter *HTTPRequestRateLimiter) EnforceRateLimit() {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	elapsedTime := time.Since(limiter.lastRequestTime)
	if elapsedTime < limiter.minimumDelay {
		remainingDelay := limiter.minimumDelay - elapsedTime

		logrus.WithFields(logrus.Fields{
			"component":       "HTTPRequestRateLimiter",
			"remaining_delay": remainingDelay,
			"request_count":   limiter.requestCount + 1,
		}).Debug("Enforcing rate limit delay")

		time.Sleep(remainingDelay)
	}

	limiter.lastRequestTime = time.Now()
	limiter.requestCount++
}
