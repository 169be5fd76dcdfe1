package engine

import (
	"log"
	"time"

	"github.com/heymuze/muze/internal/store"
)

// ScheduleNudges persists up to MaxPerCycle of the highest-weight
// surviving candidates as pending nudges. The scheduled send time is the
// user's last interaction plus the pacing offset for the top candidate's
// weight, pushed out of quiet hours if needed; all nudges from one batch
// share it. If the user's timezone cannot be resolved nothing is
// scheduled; without a usable local clock every slot risks landing
// inside quiet hours. Duplicate topics (an open nudge already queued)
// are skipped, which makes repeated invocations within a cycle create
// nothing new. Returns the topics actually queued plus a skip count.
func (e *Engine) ScheduleNudges(user *store.User, candidates []Candidate, now time.Time) (created []string, skipped int) {
	if len(candidates) == 0 {
		return nil, 0
	}

	top := candidates
	if len(top) > e.MaxPerCycle {
		top = top[:e.MaxPerCycle]
	}

	base := now
	if li := user.LastInteraction(); li != nil {
		base = *li
	}
	scheduled, err := AdjustForQuietHours(user, base.Add(PacingThreshold(top[0].Weight)), now)
	if err != nil {
		log.Printf("schedule: defer %s: %v", user.PhoneNumber, err)
		return nil, len(top)
	}

	for _, c := range top {
		nudge := &store.PendingNudge{
			PhoneNumber: user.PhoneNumber,
			Topic:       c.Topic,
			Weight:      c.Weight,
			MessageText: c.Question,
			ScheduledAt: scheduled.UnixMilli(),
		}
		ok, err := e.DB.CreateNudge(nudge)
		if err != nil {
			log.Printf("schedule: create nudge %s/%q: %v", user.PhoneNumber, c.Topic, err)
			skipped++
			continue
		}
		if !ok {
			// An open nudge for this topic beat us to it.
			skipped++
			continue
		}
		log.Printf("schedule: queued nudge for %s on %q (weight %d, send at %s)",
			user.PhoneNumber, c.Topic, c.Weight, scheduled.Format(time.RFC3339))
		created = append(created, c.Topic)
	}
	return created, skipped
}
