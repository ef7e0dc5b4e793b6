package mangaba

import (
	"math"
	"math/rand"
	"time"
)

// Backoff is an interface for backoff strategies.
type Backoff interface {
	NextDelay(retries int) time.Duration
}

// ConstantBackoff waits Base plus up to Jitter between attempts.
type ConstantBackoff struct {
	Base   time.Duration
	Jitter time.Duration
}

func (b *ConstantBackoff) NextDelay(_ int) time.Duration {
	return b.Base + jitter(b.Jitter)
}

// ExponentialBackoff waits Base * Multiplier^retries plus up to Jitter,
// capped at Max when Max is positive.
type ExponentialBackoff struct {
	Base       time.Duration
	Multiplier float64
	Jitter     time.Duration
	Max        time.Duration
}

func (b *ExponentialBackoff) NextDelay(retries int) time.Duration {
	delay := time.Duration(float64(b.Base) * math.Pow(b.Multiplier, float64(retries)))
	if b.Max > 0 && (delay > b.Max || delay < 0) {
		delay = b.Max
	}
	return delay + jitter(b.Jitter)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * float64(limit))
}
