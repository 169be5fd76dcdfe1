package engine

import (
	"fmt"
	"time"

	"github.com/heymuze/muze/internal/store"
)

// QuietWindowContains reports whether hour falls inside a quiet-hours
// window. Start is inclusive, end exclusive. A start greater than end
// means the window wraps past midnight (e.g. 22 → 9 covers 22:00-23:59
// and 00:00-08:59).
func QuietWindowContains(start, end, hour int) bool {
	if start > end {
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}

// InQuietHours reports whether the given UTC instant falls inside the
// user's quiet hours in their own timezone. A timezone that fails to
// resolve counts as quiet — when in doubt, do not send.
func InQuietHours(u *store.User, at time.Time) (bool, error) {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return true, fmt.Errorf("load timezone %q: %w", u.Timezone, err)
	}
	hour := at.In(loc).Hour()
	return QuietWindowContains(u.QuietStart, u.QuietEnd, hour), nil
}

// AdjustForQuietHours moves a proposed send time out of the user's quiet
// hours: it snaps to the quiet-hours end on the same local day, or the
// next day if that instant has already passed relative to now. Times
// already outside quiet hours come back unchanged. An unresolvable
// timezone is an error; without a usable local clock no send time is
// safe, so the caller must defer the user instead of scheduling.
func AdjustForQuietHours(u *store.User, proposed, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", u.Timezone, err)
	}

	local := proposed.In(loc)
	if !QuietWindowContains(u.QuietStart, u.QuietEnd, local.Hour()) {
		return proposed, nil
	}

	adjusted := time.Date(local.Year(), local.Month(), local.Day(), u.QuietEnd, 0, 0, 0, loc)
	if adjusted.Before(now.In(loc)) {
		adjusted = adjusted.AddDate(0, 0, 1)
	}
	return adjusted.UTC(), nil
}
