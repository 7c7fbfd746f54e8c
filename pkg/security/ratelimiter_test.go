package security

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	limiter := NewRateLimiter(3, 0)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if rejection := limiter.Check("agent", now); rejection != nil {
			t.Fatalf("unexpected rejection on request %d: %v", i, rejection)
		}
		limiter.Record("agent", now)
	}
}

func TestRateLimiterRejectsPastLimit(t *testing.T) {
	limiter := NewRateLimiter(2, 0)
	now := time.Now()

	for i := 0; i < 2; i++ {
		if rejection := limiter.Check("agent", now); rejection != nil {
			t.Fatalf("unexpected rejection on request %d: %v", i, rejection)
		}
		limiter.Record("agent", now)
	}

	rejection := limiter.Check("agent", now)
	if rejection == nil {
		t.Fatal("expected third request to be rejected")
	}
	if rejection.Reason != ReasonRateLimit {
		t.Error("reason did not match expected:", rejection.Reason, "!=", ReasonRateLimit)
	}
}

func TestRateLimiterWindowSlidesOverTime(t *testing.T) {
	limiter := NewRateLimiter(1, 0)
	now := time.Now()

	if rejection := limiter.Check("agent", now); rejection != nil {
		t.Fatal("unexpected rejection:", rejection)
	}
	limiter.Record("agent", now)

	if rejection := limiter.Check("agent", now); rejection == nil {
		t.Fatal("expected request to be rejected within the same window")
	}

	later := now.Add(minuteWindow + time.Second)
	if rejection := limiter.Check("agent", later); rejection != nil {
		t.Fatal("expected request to be allowed once the window has slid past:", rejection)
	}
}

func TestRateLimiterTracksAgentsIndependently(t *testing.T) {
	limiter := NewRateLimiter(1, 0)
	now := time.Now()

	if rejection := limiter.Check("agent-a", now); rejection != nil {
		t.Fatal("unexpected rejection:", rejection)
	}
	limiter.Record("agent-a", now)

	if rejection := limiter.Check("agent-b", now); rejection != nil {
		t.Fatal("unrelated agent should not be affected by agent-a's usage:", rejection)
	}
}

func TestGuardFileSizeRejectsOversizedFile(t *testing.T) {
	if rejection := GuardFileSize(100, 50); rejection == nil {
		t.Fatal("expected oversized file to be rejected")
	} else if rejection.Reason != ReasonFileSize {
		t.Error("reason did not match expected:", rejection.Reason, "!=", ReasonFileSize)
	}

	if rejection := GuardFileSize(50, 100); rejection != nil {
		t.Error("unexpected rejection for file within limit:", rejection)
	}
}

func TestGuardFileSizeDisabledWhenMaxIsNonPositive(t *testing.T) {
	if rejection := GuardFileSize(1<<40, 0); rejection != nil {
		t.Error("expected size check to be disabled when max is zero:", rejection)
	}
}

func TestGuardBatchRejectsOversizedBatch(t *testing.T) {
	if rejection := GuardBatch(1000, 2, 0, 500); rejection == nil {
		t.Fatal("expected oversized batch to be rejected")
	} else if rejection.Reason != ReasonBatchSize {
		t.Error("reason did not match expected:", rejection.Reason, "!=", ReasonBatchSize)
	}
}

func TestGuardBatchRejectsTooManyOperations(t *testing.T) {
	if rejection := GuardBatch(10, 5, 3, 0); rejection == nil {
		t.Fatal("expected operation count to be rejected")
	} else if rejection.Reason != ReasonBatchSize {
		t.Error("reason did not match expected:", rejection.Reason, "!=", ReasonBatchSize)
	}
}
