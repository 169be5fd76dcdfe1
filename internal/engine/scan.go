package engine

import (
	"sort"
	"time"

	"github.com/heymuze/muze/internal/store"
)

// Pacing-ready thresholds: how long a high-urgency loop may sit without
// an update before it earns an unprompted check-in. More conservative
// than the real-time pacing gate to avoid over-messaging.
const (
	readyHoursWeight5 = 48
	readyHoursWeight4 = 96
)

// DetectDecayingLoops returns the topics of active loops that have gone
// longer than thresholdDays without an update. Loops without a known
// last-updated value are skipped. Detection is read-only; the caller
// applies the active→decaying transition.
func DetectDecayingLoops(loops []store.OpenLoop, now time.Time, thresholdDays int) []string {
	var decaying []string
	for _, l := range loops {
		if l.Status != store.LoopActive || l.LastUpdated == 0 {
			continue
		}
		elapsed := now.Sub(time.UnixMilli(l.LastUpdated))
		if elapsed >= time.Duration(thresholdDays)*24*time.Hour {
			decaying = append(decaying, l.Topic)
		}
	}
	return decaying
}

// UpcomingEvent is one active loop with a near-term scheduled date.
type UpcomingEvent struct {
	Topic     string
	Date      time.Time
	DaysUntil int
}

// UpcomingEvents returns active loops whose event date falls within the
// next daysAhead calendar days, soonest first. An event today counts as
// zero days away regardless of the time of day.
func UpcomingEvents(loops []store.OpenLoop, now time.Time, daysAhead int) []UpcomingEvent {
	var upcoming []UpcomingEvent
	for _, l := range loops {
		if l.Status != store.LoopActive {
			continue
		}
		date, ok := l.EventDate()
		if !ok {
			continue
		}
		days := calendarDaysUntil(now, date)
		if days >= 0 && days <= daysAhead {
			upcoming = append(upcoming, UpcomingEvent{Topic: l.Topic, Date: date, DaysUntil: days})
		}
	}
	// Same-day events must always surface before later ones.
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].DaysUntil < upcoming[j].DaysUntil
	})
	return upcoming
}

// PacingReadyLoops returns unresolved loops of weight 4-5 whose last
// update is old enough for an unprompted check-in: 48h for weight 5,
// 96h for weight 4. Decaying loops stay eligible here; only resolution
// removes a topic from scanning. Topics in exclude (already selected by
// the decay or event scans) are skipped. Lower-weight loops never
// qualify here; they only surface via decay.
func PacingReadyLoops(loops []store.OpenLoop, now time.Time, exclude map[string]bool) []store.OpenLoop {
	var ready []store.OpenLoop
	for _, l := range loops {
		if l.Status == store.LoopResolved || l.Weight < 4 || exclude[l.Topic] {
			continue
		}
		if l.LastUpdated == 0 {
			continue
		}
		hours := now.Sub(time.UnixMilli(l.LastUpdated)).Hours()
		threshold := float64(readyHoursWeight4)
		if l.Weight >= 5 {
			threshold = readyHoursWeight5
		}
		if hours >= threshold {
			ready = append(ready, l)
		}
	}
	return ready
}

// calendarDaysUntil computes the whole-day distance between two instants
// by calendar date in UTC: an event later today is 0, tomorrow is 1,
// yesterday is -1.
func calendarDaysUntil(now, event time.Time) int {
	ny, nm, nd := now.UTC().Date()
	ey, em, ed := event.UTC().Date()
	start := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start) / (24 * time.Hour))
}
