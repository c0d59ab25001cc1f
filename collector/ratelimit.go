package collector

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter keeps a per-project sliding window of accepted batches and
// a count of open websocket streams.
type RateLimiter struct {
	mu             sync.Mutex
	requestsPerMin int
	maxStreams     int
	windows        map[string]*slidingWindow
	streams        map[string]int
	now            func() time.Time
}

type slidingWindow struct {
	timestamps []int64
}

func NewRateLimiter(requestsPerMin, maxStreams int) *RateLimiter {
	return &RateLimiter{
		requestsPerMin: requestsPerMin,
		maxStreams:     maxStreams,
		windows:        make(map[string]*slidingWindow),
		streams:        make(map[string]int),
		now:            time.Now,
	}
}

// AllowRequest records one request for project if the window has room.
// When it does not, the second result is the number of seconds until the
// oldest request leaves the window.
func (rl *RateLimiter) AllowRequest(project string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now().UnixMilli()
	windowStart := now - rateWindow.Milliseconds()

	window, ok := rl.windows[project]
	if !ok {
		window = &slidingWindow{}
		rl.windows[project] = window
	}

	valid := window.timestamps[:0]
	for _, ts := range window.timestamps {
		if ts > windowStart {
			valid = append(valid, ts)
		}
	}
	window.timestamps = valid

	if rl.requestsPerMin > 0 && len(window.timestamps) >= rl.requestsPerMin {
		oldest := window.timestamps[0]
		retryAfter := int((oldest + rateWindow.Milliseconds() - now) / 1000)
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	window.timestamps = append(window.timestamps, now)
	return true, 0
}

func (rl *RateLimiter) AcquireStream(project string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	count := rl.streams[project]
	if rl.maxStreams > 0 && count >= rl.maxStreams {
		return false
	}
	rl.streams[project] = count + 1
	return true
}

func (rl *RateLimiter) ReleaseStream(project string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if count := rl.streams[project]; count > 1 {
		rl.streams[project] = count - 1
		return
	}
	delete(rl.streams, project)
}

// SetRequestsPerMin changes the limit for subsequent requests; existing
// windows are kept.
func (rl *RateLimiter) SetRequestsPerMin(n int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.requestsPerMin = n
}

func (rl *RateLimiter) Reset(project string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, project)
	delete(rl.streams, project)
}

func (rl *RateLimiter) Limits() (requestsPerMin, maxStreams int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.requestsPerMin, rl.maxStreams
}

func WriteRateLimitExceeded(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSONError(w, "rate limit exceeded", http.StatusTooManyRequests)
}

func WriteStreamLimitExceeded(w http.ResponseWriter) {
	writeJSONError(w, "stream limit exceeded", http.StatusServiceUnavailable)
}
