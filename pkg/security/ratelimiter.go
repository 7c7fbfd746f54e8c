package security

import (
	"sync"
	"time"
)

// minuteWindow is the sliding-window duration used for per-minute operation
// accounting.
const minuteWindow = 60 * time.Second

// hourWindow is the sliding-window duration used for the optional per-hour
// accounting.
const hourWindow = time.Hour

// agentRateState holds the sliding-window timestamp lists for a single
// agent. Entries older than the window are pruned lazily, on the next Check
// call for that agent.
type agentRateState struct {
	mu     sync.Mutex
	minute []time.Time
	hour   []time.Time
}

// RateLimiter enforces a sliding per-agent minute (and optional hour) window
// over operation counts, plus pure file-size and batch-size caps. It is safe
// for concurrent use by multiple goroutines; each agent's state is
// protected independently so that unrelated agents never contend.
type RateLimiter struct {
	maxOpsPerMinute int
	maxOpsPerHour   int // 0 disables the hourly window

	mu     sync.Mutex
	agents map[string]*agentRateState
}

// NewRateLimiter creates a rate limiter enforcing maxOpsPerMinute per agent.
// If maxOpsPerHour is non-zero, an additional hourly window is enforced.
func NewRateLimiter(maxOpsPerMinute, maxOpsPerHour int) *RateLimiter {
	return &RateLimiter{
		maxOpsPerMinute: maxOpsPerMinute,
		maxOpsPerHour:   maxOpsPerHour,
		agents:          make(map[string]*agentRateState),
	}
}

// stateFor returns (creating if necessary) the rate state for an agent.
func (r *RateLimiter) stateFor(agentID string) *agentRateState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.agents[agentID]
	if !ok {
		state = &agentRateState{}
		r.agents[agentID] = state
	}
	return state
}

// prune drops timestamps older than window from a sorted-by-insertion-order
// slice, returning the retained slice. Timestamps are appended in
// chronological order by Record, so the oldest entries are always at the
// front.
func prune(entries []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(entries) && entries[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	return append([]time.Time(nil), entries[i:]...)
}

// Check reports whether agentID has remaining capacity in its sliding
// windows at time now. It does not itself record a request; callers must
// call Record after a successful check to consume capacity.
func (r *RateLimiter) Check(agentID string, now time.Time) *Rejection {
	state := r.stateFor(agentID)
	state.mu.Lock()
	defer state.mu.Unlock()

	state.minute = prune(state.minute, now, minuteWindow)
	if r.maxOpsPerMinute > 0 && len(state.minute) >= r.maxOpsPerMinute {
		return newRejection(ReasonRateLimit, agentID, "", "per-minute limit reached")
	}

	if r.maxOpsPerHour > 0 {
		state.hour = prune(state.hour, now, hourWindow)
		if len(state.hour) >= r.maxOpsPerHour {
			return newRejection(ReasonRateLimit, agentID, "", "per-hour limit reached")
		}
	}

	return nil
}

// Record appends a request timestamp for agentID. It should be called only
// after a successful Check.
func (r *RateLimiter) Record(agentID string, now time.Time) {
	state := r.stateFor(agentID)
	state.mu.Lock()
	defer state.mu.Unlock()

	state.minute = append(state.minute, now)
	if r.maxOpsPerHour > 0 {
		state.hour = append(state.hour, now)
	}
}

// GuardFileSize rejects with ReasonFileSize when size exceeds maxFileSize. A
// non-positive maxFileSize disables the check.
func GuardFileSize(size, maxFileSize int64) *Rejection {
	if maxFileSize > 0 && size > maxFileSize {
		return newRejection(ReasonFileSize, "", "", "file size exceeds configured maximum")
	}
	return nil
}

// GuardBatch rejects with ReasonBatchSize when totalBytes exceeds
// maxBatchSize, or when opCount exceeds maxOps (if maxOps is positive). A
// non-positive maxBatchSize disables the byte-size check.
func GuardBatch(totalBytes int64, opCount, maxOps int, maxBatchSize int64) *Rejection {
	if maxBatchSize > 0 && totalBytes > maxBatchSize {
		return newRejection(ReasonBatchSize, "", "", "cumulative batch size exceeds configured maximum")
	}
	if maxOps > 0 && opCount > maxOps {
		return newRejection(ReasonBatchSize, "", "", "operation count exceeds configured maximum")
	}
	return nil
}
