package sync

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	backoffBase   = time.Second
	backoffCap    = 5 * time.Minute
	backoffJitter = 0.2
)

// retryDelay computes how long a job waits before retry attempt tries
// (1-based) by stepping a fresh exponential schedule: 1s base, doubling per
// attempt, 20% jitter either way, saturating at 5 minutes.
func retryDelay(tries int) time.Duration {
	if tries < 1 {
		tries = 1
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = backoffBase
	schedule.RandomizationFactor = backoffJitter
	schedule.Multiplier = 2
	schedule.MaxInterval = backoffCap
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	var delay time.Duration
	for i := 0; i < tries; i++ {
		delay = schedule.NextBackOff()
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}
