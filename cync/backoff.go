package cync

import (
	"math/rand"
	"time"
)

// backoffDelay computes the retry/reconnect backoff for the given
// attempt number (0-indexed): min(base * 2^attempt, max) plus jitter
// uniform in [-backoffJitter, +backoffJitter].
func backoffDelay(attempt uint32) time.Duration {
	d := backoffBase << attempt
	if d > backoffMax || d < 0 {
		d = backoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(2*backoffJitter))) - backoffJitter
	d += jitter
	if d < 0 {
		d = 0
	}
	return d
}
