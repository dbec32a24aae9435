package prospecting

import (
	"context"
	"math/rand/v2"
	"time"
)

// Range is a randomized sleep interval. Every inter-action wait draws a
// uniform duration from [Min, Max] so workers never fall into synchronized
// burst patterns.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Duration draws a random duration from the range.
func (r Range) Duration() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int64N(int64(r.Max-r.Min))) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// WaitPolicy names every sleep the scheduler performs, one range per phase.
// Tests inject a zero policy to run the loop without real waits.
type WaitPolicy struct {
	// OffHours is the recheck interval outside the business-hours window.
	OffHours Range
	// ClaimError follows a transient store failure during claim or count.
	ClaimError Range
	// Unreachable follows a lead confirmed without WhatsApp.
	Unreachable Range
	// PreSend separates the reachability check from the first send.
	PreSend Range
	// PreImage separates the audio send from the image send in the media
	// campaign variant.
	PreImage Range
	// DispatchFailure follows a failed or aborted dispatch.
	DispatchFailure Range
	// SuccessCooldown follows a completed contact, keeping the send rate
	// below the platform's burst heuristics.
	SuccessCooldown Range

	// ReconnectInitial/ReconnectMax bound the exponential backoff while
	// waiting for the gateway instance to connect at startup.
	ReconnectInitial    time.Duration
	ReconnectMax        time.Duration
	ReconnectMaxRetries int
}

// DefaultWaitPolicy mirrors the production cadence.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		OffHours:        Range{Min: 10 * time.Minute, Max: 10 * time.Minute},
		ClaimError:      Range{Min: 50 * time.Second, Max: 70 * time.Second},
		Unreachable:     Range{Min: 3 * time.Second, Max: 6 * time.Second},
		PreSend:         Range{Min: 3 * time.Second, Max: 6 * time.Second},
		PreImage:        Range{Min: 7 * time.Second, Max: 13 * time.Second},
		DispatchFailure: Range{Min: 45 * time.Second, Max: 60 * time.Second},
		SuccessCooldown: Range{Min: 280 * time.Second, Max: 320 * time.Second},

		ReconnectInitial: 250 * time.Second,
		ReconnectMax:     time.Hour,
	}
}

// sleep waits for a duration drawn from r, returning early when ctx is
// canceled.
func sleep(ctx context.Context, r Range) error {
	return sleepFor(ctx, r.Duration())
}

// sleepFor waits for d, returning early when ctx is canceled.
func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jitterAround spreads d over ±20%.
func jitterAround(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	min := time.Duration(float64(d) * 0.8)
	max := time.Duration(float64(d) * 1.2)
	return Range{Min: min, Max: max}.Duration()
}
