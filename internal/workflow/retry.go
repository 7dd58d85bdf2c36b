package workflow

import "time"

// RetryPolicy bounds activity retries inside a single recorded command.
// Retries happen in real time and are not individually recorded; only the
// final outcome enters the history.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Zero or negative means a single attempt.
	MaxAttempts int
	// InitialBackoff precedes the second attempt.
	InitialBackoff time.Duration
	// BackoffFactor multiplies the backoff after every failed attempt.
	// Zero means 2.
	BackoffFactor float64
}

// NoRetry executes an activity exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// backoff returns the delay before attempt n+1 (n is 1-based).
func (p RetryPolicy) backoff(n int) time.Duration {
	factor := p.BackoffFactor
	if factor == 0 {
		factor = 2
	}
	d := p.InitialBackoff
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * factor)
	}
	return d
}
