package clients

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ajitpratap0/podsync/pkg/metrics"
	"golang.org/x/time/rate"
)

// Level is the remote API's rate class for a request.
type Level int

const (
	// LevelMetadata covers apps, spaces, members, directory and token calls.
	LevelMetadata Level = 1
	// LevelItems covers item reads and writes.
	LevelItems Level = 2
)

// Quota headers sent with every response.
const (
	HeaderRateLimit     = "X-Rate-Limit-Limit"
	HeaderRateRemaining = "X-Rate-Limit-Remaining"
)

func (l Level) String() string {
	return strconv.Itoa(int(l))
}

// RateSnapshot is the last quota seen for a level.
type RateSnapshot struct {
	Limit     int
	Remaining int
	Observed  time.Time
}

// RateLimitTracker republishes the API quota headers. It never blocks,
// throttles or retries.
type RateLimitTracker struct {
	connection string

	mu     sync.RWMutex
	levels map[Level]RateSnapshot
}

// NewRateLimitTracker creates a tracker whose gauges are labelled with the
// connection name.
func NewRateLimitTracker(connection string) *RateLimitTracker {
	return &RateLimitTracker{
		connection: connection,
		levels:     make(map[Level]RateSnapshot, 2),
	}
}

// Observe records the quota headers of resp. Missing or malformed headers
// leave the previous reading untouched.
func (t *RateLimitTracker) Observe(resp *http.Response, level Level) {
	if t == nil || resp == nil {
		return
	}
	limit, errL := strconv.Atoi(resp.Header.Get(HeaderRateLimit))
	remaining, errR := strconv.Atoi(resp.Header.Get(HeaderRateRemaining))
	if errL != nil || errR != nil {
		return
	}

	t.mu.Lock()
	t.levels[level] = RateSnapshot{Limit: limit, Remaining: remaining, Observed: time.Now()}
	t.mu.Unlock()

	metrics.RateLimit.WithLabelValues(t.connection, level.String()).Set(float64(limit))
	metrics.RateRemaining.WithLabelValues(t.connection, level.String()).Set(float64(remaining))
}

// Snapshot returns the last reading for level.
func (t *RateLimitTracker) Snapshot(level Level) (RateSnapshot, bool) {
	if t == nil {
		return RateSnapshot{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.levels[level]
	return s, ok
}

// String renders "remaining:limit" for level, or an empty string before the
// first response.
func (t *RateLimitTracker) String(level Level) string {
	s, ok := t.Snapshot(level)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d:%d", s.Remaining, s.Limit)
}

// NewPacer returns a client-side limiter for perSecond requests, or nil when
// pacing is disabled.
func NewPacer(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
