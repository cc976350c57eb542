package infra

import (
	"math/rand/v2"
	"time"
)

// ReconnectDelay returns the fixed base delay plus uniform jitter in [0, jitter).
// The delay does not grow with the number of failures.
func ReconnectDelay(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + rand.N(jitter)
}
