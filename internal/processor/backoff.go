package processor

import (
	"math/rand/v2"
	"time"
)

// maxBackoffShift bounds 2^attempt so the delay cannot overflow.
const maxBackoffShift = 16

// Backoff computes exponential retry delays with bounded random jitter.
type Backoff struct {
	Base   time.Duration
	Jitter time.Duration
}

// Delay returns base * 2^attempt plus up to Jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	delay := b.Base * time.Duration(1<<attempt)
	if b.Jitter > 0 {
		delay += rand.N(b.Jitter + 1)
	}
	return delay
}

func (b Backoff) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(b.Delay(attempt))
}
