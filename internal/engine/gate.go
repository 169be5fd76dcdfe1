package engine

import (
	"time"
)

// PacingThreshold returns the minimum gap since the user's last
// interaction before a nudge of the given weight may go out.
func PacingThreshold(weight int) time.Duration {
	switch {
	case weight >= 5:
		return 4 * time.Hour
	case weight >= 3:
		return 24 * time.Hour
	default:
		return 48 * time.Hour
	}
}

// PacingAllows reports whether enough time has passed since the user's
// last interaction for the batch's highest-weight candidate. A user with
// no prior interaction is always eligible. The gate applies to the whole
// per-user batch: if it fails, everything is deferred to a later cycle.
func PacingAllows(lastInteraction *time.Time, topWeight int, now time.Time) bool {
	if lastInteraction == nil {
		return true
	}
	return now.Sub(*lastInteraction) >= PacingThreshold(topWeight)
}
