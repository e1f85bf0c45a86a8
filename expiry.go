package lifeline

import (
	"math"
	"time"
)

// MaxExtensionHours is the largest amount a workflow accepts, about 114
// years. SetAmount rejects larger values and Adjust clamps to it.
const MaxExtensionHours = 1_000_000

// maxDurationHours is the most hours a time.Duration can hold
const maxDurationHours = uint64(math.MaxInt64 / int64(time.Hour))

// ExtendTo returns the expiry a resource would have after adding hours to
// its existing expiry. A zero existing expiry yields the zero time. Hours
// beyond what a time.Duration holds saturate, so the result never precedes
// the existing expiry.
func ExtendTo(existingExpiry time.Time, hours uint64) time.Time {
	if existingExpiry.IsZero() {
		return time.Time{}
	}
	if hours > maxDurationHours {
		hours = maxDurationHours
	}
	return existingExpiry.Add(time.Duration(hours) * time.Hour)
}

// ExpiryFromUnix converts a unix-seconds expiry as reported by the chain
func ExpiryFromUnix(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

// applyDelta adds a signed step to an amount, clamping at zero and
// saturating at math.MaxUint64
func applyDelta(amount uint64, delta int64) uint64 {
	if delta >= 0 {
		inc := uint64(delta)
		if inc > math.MaxUint64-amount {
			return math.MaxUint64
		}
		return amount + inc
	}
	dec := uint64(-delta)
	if dec >= amount {
		return 0
	}
	return amount - dec
}
