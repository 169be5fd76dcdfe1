package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/heymuze/muze/internal/store"
)

// dispatchWorkers bounds concurrent per-user processing in one cycle.
const dispatchWorkers = 4

// ErrCycleRunning means a prior run of the same job is still in
// progress; the caller should simply try again on its next tick.
var ErrCycleRunning = errors.New("cycle already running")

// DispatchResult summarizes one dispatch cycle.
type DispatchResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// SendResult summarizes one approved-send cycle.
type SendResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// RunDispatchCycle processes every onboarded user once: scan loops, rank
// candidates, gate on pacing, drop ghost topics, and queue pending
// nudges. Each user ends in exactly one terminal state per cycle —
// no loops, no candidates, pacing-blocked, all-ghosted, or created —
// and a failure for one user never aborts the batch.
func (e *Engine) RunDispatchCycle(ctx context.Context) (DispatchResult, error) {
	if !e.dispatchBusy.CompareAndSwap(false, true) {
		return DispatchResult{}, ErrCycleRunning
	}
	defer e.dispatchBusy.Store(false)

	users, err := e.DB.ListDispatchUsers()
	if err != nil {
		return DispatchResult{}, fmt.Errorf("list dispatch users: %w", err)
	}
	log.Printf("dispatch: processing %d users", len(users))

	var (
		mu     sync.Mutex
		result DispatchResult
		wg     sync.WaitGroup
		sem    = make(chan struct{}, dispatchWorkers)
	)

	now := time.Now().UTC()
	for i := range users {
		user := users[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			created, skipped := e.dispatchUser(ctx, &user, now)
			mu.Lock()
			result.Created += created
			result.Skipped += skipped
			mu.Unlock()
		}()
	}
	wg.Wait()

	return result, nil
}

// dispatchUser runs the per-user pipeline and returns created/skipped
// counts. A panic in any stage is contained here so the rest of the
// batch keeps going.
func (e *Engine) dispatchUser(ctx context.Context, user *store.User, now time.Time) (created, skipped int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: panic processing %s: %v", user.PhoneNumber, r)
			created, skipped = 0, 1
		}
	}()

	phone := user.PhoneNumber

	loops, err := e.DB.GetLoops(phone)
	if err != nil {
		log.Printf("dispatch: loops for %s: %v", phone, err)
		return 0, 1
	}
	if len(loops) == 0 {
		return 0, 1
	}

	corpus, err := e.DB.GetCorpus(phone)
	if err != nil {
		log.Printf("dispatch: corpus for %s: %v", phone, err)
		corpus = ""
	}

	candidates, decaying, err := e.BuildCandidates(ctx, user, loops, corpus, now)
	if err != nil {
		log.Printf("dispatch: candidates for %s: %v", phone, err)
		return 0, 1
	}

	if len(candidates) == 0 {
		return 0, 1
	}

	if !PacingAllows(user.LastInteraction(), candidates[0].Weight, now) {
		log.Printf("dispatch: pacing block for %s (weight %d)", phone, candidates[0].Weight)
		return 0, 1
	}

	recent, err := e.DB.RecentMessages(phone, ghostWindow)
	if err != nil {
		log.Printf("dispatch: recent messages for %s: %v", phone, err)
		return 0, 1
	}
	var valid []Candidate
	for _, c := range candidates {
		if IsGhostTopic(c.Topic, recent) {
			log.Printf("dispatch: ghost loop %q for %s", c.Topic, phone)
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return 0, 1
	}

	queued, skipped := e.ScheduleNudges(user, valid, now)

	// Detection is pure; the active→decaying transition lands here, and
	// only for topics whose nudge was actually queued. A deferred batch
	// (pacing block, ghosts, quiet-hours failure, per-cycle cap) leaves
	// its loops active so the next cycle re-detects them.
	if len(decaying) > 0 && len(queued) > 0 {
		queuedSet := make(map[string]bool, len(queued))
		for _, topic := range queued {
			queuedSet[topic] = true
		}
		var mark []string
		for _, topic := range decaying {
			if queuedSet[topic] {
				mark = append(mark, topic)
			}
		}
		if len(mark) > 0 {
			if err := e.DB.MarkLoopsDecaying(phone, mark); err != nil {
				log.Printf("dispatch: mark decaying for %s: %v", phone, err)
			}
		}
	}

	return len(queued), skipped
}

// RunApprovedSendCycle delivers every approved nudge whose scheduled
// time has passed. Successful sends are logged as outgoing messages,
// refresh the user's last interaction, and flip the nudge to sent.
// Failures leave the nudge approved so the next cycle retries it
// (at-least-once delivery).
func (e *Engine) RunApprovedSendCycle(ctx context.Context) (SendResult, error) {
	if !e.sendBusy.CompareAndSwap(false, true) {
		return SendResult{}, ErrCycleRunning
	}
	defer e.sendBusy.Store(false)

	if e.Delivery == nil {
		return SendResult{}, errors.New("no delivery sender configured")
	}

	now := time.Now().UTC()
	nudges, err := e.DB.ApprovedDue(now)
	if err != nil {
		return SendResult{}, fmt.Errorf("fetch approved nudges: %w", err)
	}

	var result SendResult
	for _, n := range nudges {
		// Quiet hours may have shifted since scheduling (settings edit,
		// slow approval). Re-check at send time and hold quiet or
		// unresolvable-timezone nudges for a later cycle.
		user, err := e.DB.GetUser(n.PhoneNumber)
		if err != nil || user == nil {
			log.Printf("send: user %s for nudge %d: %v", n.PhoneNumber, n.ID, err)
			continue
		}
		if quiet, qerr := InQuietHours(user, now); quiet {
			if qerr != nil {
				log.Printf("send: hold nudge %d for %s: %v", n.ID, n.PhoneNumber, qerr)
			} else {
				log.Printf("send: hold nudge %d for %s: quiet hours", n.ID, n.PhoneNumber)
			}
			continue
		}

		if err := e.Delivery.Send(ctx, n.PhoneNumber, n.MessageText); err != nil {
			log.Printf("send: nudge %d to %s: %v", n.ID, n.PhoneNumber, err)
			result.Failed++
			continue
		}

		if _, err := e.DB.StoreMessage(n.PhoneNumber, store.DirOutgoing, n.MessageText); err != nil {
			log.Printf("send: record outgoing for %s: %v", n.PhoneNumber, err)
		}
		if err := e.DB.TouchInteraction(n.PhoneNumber); err != nil {
			log.Printf("send: touch interaction for %s: %v", n.PhoneNumber, err)
		}
		if err := e.DB.MarkNudgeSent(n.ID); err != nil {
			log.Printf("send: mark sent %d: %v", n.ID, err)
			result.Failed++
			continue
		}
		result.Sent++
	}
	return result, nil
}
