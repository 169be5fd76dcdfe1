package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/heymuze/muze/internal/store"
)

func TestRunDispatchCycleCreatesNudge(t *testing.T) {
	eng, db, _ := testEngine(t)
	user := testUser(t, db, "+31600000001")
	now := time.Now().UTC()

	db.SetLastInteraction(user.PhoneNumber, now.Add(-10*time.Hour))
	db.UpsertLoop(&store.OpenLoop{
		PhoneNumber:   user.PhoneNumber,
		Topic:         "Investor Pitch",
		Status:        store.LoopActive,
		NextEventDate: eventDate(now, 1),
		Weight:        5,
		LastUpdated:   msAgo(now, 2*time.Hour),
	})

	result, err := eng.RunDispatchCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchCycle: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("created = %d, want 1", result.Created)
	}

	nudges, _ := db.NudgesForUser(user.PhoneNumber)
	if len(nudges) != 1 {
		t.Fatalf("got %d open nudges, want 1", len(nudges))
	}
	n := nudges[0]
	if n.Topic != "Investor Pitch" || n.Weight != 5 {
		t.Errorf("nudge = %s/%d, want Investor Pitch/5", n.Topic, n.Weight)
	}
	if !strings.Contains(n.MessageText, "Tomorrow's the day") {
		t.Errorf("message = %q, want day-before phrasing", n.MessageText)
	}
	// Send slot is last interaction plus the weight-5 pacing offset.
	wantAt := now.Add(-10 * time.Hour).Add(4 * time.Hour)
	if got := time.UnixMilli(n.ScheduledAt).UTC(); got.Sub(wantAt).Abs() > time.Second {
		t.Errorf("scheduled at %v, want %v", got, wantAt)
	}
}

func TestRunDispatchCycleIdempotentPerTopic(t *testing.T) {
	eng, db, _ := testEngine(t)
	user := testUser(t, db, "+31600000001")
	now := time.Now().UTC()

	db.SetLastInteraction(user.PhoneNumber, now.Add(-10*time.Hour))
	db.UpsertLoop(&store.OpenLoop{
		PhoneNumber:   user.PhoneNumber,
		Topic:         "Investor Pitch",
		Status:        store.LoopActive,
		NextEventDate: eventDate(now, 1),
		Weight:        5,
		LastUpdated:   msAgo(now, 2*time.Hour),
	})

	first, err := eng.RunDispatchCycle(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if first.Created != 1 {
		t.Fatalf("first cycle created = %d, want 1", first.Created)
	}

	second, err := eng.RunDispatchCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if second.Created != 0 {
		t.Errorf("second cycle created = %d, want 0", second.Created)
	}

	nudges, _ := db.NudgesForUser(user.PhoneNumber)
	if len(nudges) != 1 {
		t.Errorf("got %d open nudges after two cycles, want 1", len(nudges))
	}
}

func TestRunDispatchCyclePacingBlocked(t *testing.T) {
	eng, db, _ := testEngine(t)
	user := testUser(t, db, "+31600000001")
	now := time.Now().UTC()

	// One hour since last interaction: even weight 5 needs four.
	db.SetLastInteraction(user.PhoneNumber, now.Add(-time.Hour))
	db.UpsertLoop(&store.OpenLoop{
		PhoneNumber:   user.PhoneNumber,
		Topic:         "Investor Pitch",
		Status:        store.LoopActive,
		NextEventDate: eventDate(now, 1),
		Weight:        5,
		LastUpdated:   msAgo(now, 2*time.Hour),
	})

	result, err := eng.RunDispatchCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchCycle: %v", err)
	}
	if result.Created != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 0 created / 1 skipped", result)
	}

	nudges, _ := db.NudgesForUser(user.PhoneNumber)
	if len(nudges) != 0 {
		t.Errorf("got %d nudges, want 0 while pacing-blocked", len(nudges))
	}
}

func TestRunDispatchCycleGhostFilter(t *testing.T) {
	eng, db, _ := testEngine(t)
	user := testUser(t, db, "+31600000001")
	now := time.Now().UTC()

	db.SetLastInteraction(user.PhoneNumber, now.Add(-30*time.Hour))
	db.UpsertLoop(&store.OpenLoop{
		PhoneNumber: user.PhoneNumber,
		Topic:       "Marathon Training",
		Status:      store.LoopActive,
		Weight:      3,
		LastUpdated: msAgo(now, 8*24*time.Hour),
	})
	// The user already brought it up themselves.
	db.StoreMessage(user.PhoneNumber, store.DirIncoming, "marathon training is going great btw")

	result, err := eng.RunDispatchCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchCycle: %v", err)
	}
	if result.Created != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 0 created / 1 skipped", result)
	}

	// No nudge went out, so the loop is not marked decaying yet; the
	// next cycle re-detects it once the ghost window has passed.
	loop, _ := db.GetLoop(user.PhoneNumber, "Marathon Training")
	if loop.Status != store.LoopActive {
		t.Errorf("loop status = %s, want active after ghosted cycle", loop.Status)
	}
}

func TestRunDispatchCycleDecayMarkedOnlyWhenNudged(t *testing.T) {
	eng, db, _ := testEngine(t)
	user := testUser(t, db, "+31600000001")
	now := time.Now().UTC()

	db.SetLastInteraction(user.PhoneNumber, now.Add(-30*time.Hour))
	db.UpsertLoop(&store.OpenLoop{
		PhoneNumber: user.PhoneNumber,
		Topic:       "Marathon Training",
		Status:      store.LoopActive,
		Weight:      3,
		LastUpdated: msAgo(now, 8*24*time.Hour),
	})

	result, err := eng.RunDispatchCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchCycle: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("created = %d, want 1", result.Created)
	}

	// The transition rides along with the nudge that was actually queued.
	loop, _ := db.GetLoop(user.PhoneNumber, "Marathon Training")
	if loop.Status != store.LoopDecaying {
		t.Errorf("loop status = %s, want decaying after nudge queued", loop.Status)
	}
}

func TestRunDispatchCyclePacingBlockedThenClear(t *testing.T) {
	eng, db, _ := testEngine(t)
	user := testUser(t, db, "+31600000001")
	now := time.Now().UTC()

	// Fresh interaction: even weight 3's decay candidate is pacing-blocked.
	db.SetLastInteraction(user.PhoneNumber, now.Add(-time.Hour))
	db.UpsertLoop(&store.OpenLoop{
		PhoneNumber: user.PhoneNumber,
		Topic:       "Marathon Training",
		Status:      store.LoopActive,
		Weight:      3,
		LastUpdated: msAgo(now, 8*24*time.Hour),
	})

	first, err := eng.RunDispatchCycle(context.Background())
	if err != nil {
		t.Fatalf("blocked cycle: %v", err)
	}
	if first.Created != 0 {
		t.Fatalf("blocked cycle created = %d, want 0", first.Created)
	}

	// The blocked cycle must not burn the loop's eligibility.
	loop, _ := db.GetLoop(user.PhoneNumber, "Marathon Training")
	if loop.Status != store.LoopActive {
		t.Fatalf("loop status = %s after blocked cycle, want active", loop.Status)
	}

	// A day later pacing clears and the same loop produces the nudge.
	db.SetLastInteraction(user.PhoneNumber, now.Add(-30*time.Hour))
	second, err := eng.RunDispatchCycle(context.Background())
	if err != nil {
		t.Fatalf("clear cycle: %v", err)
	}
	if second.Created != 1 {
		t.Errorf("clear cycle created = %d, want 1", second.Created)
	}
	nudges, _ := db.NudgesForUser(user.PhoneNumber)
	if len(nudges) != 1 || nudges[0].Topic != "Marathon Training" {
		t.Errorf("nudges = %+v, want one for Marathon Training", nudges)
	}
}

func TestRunDispatchCycleStaleDecayingLoopNudged(t *testing.T) {
	eng, db, _ := testEngine(t)
	user := testUser(t, db, "+31600000001")
	now := time.Now().UTC()

	db.SetLastInteraction(user.PhoneNumber, now.Add(-60*time.Hour))
	// Already decaying, weight 5, silent for 100 hours: the stale-loop
	// scan must still surface it.
	db.UpsertLoop(&store.OpenLoop{
		PhoneNumber: user.PhoneNumber,
		Topic:       "Book Draft",
		Status:      store.LoopDecaying,
		Weight:      5,
		LastUpdated: msAgo(now, 100*time.Hour),
	})

	result, err := eng.RunDispatchCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchCycle: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("created = %d, want 1", result.Created)
	}
	nudges, _ := db.NudgesForUser(user.PhoneNumber)
	if len(nudges) != 1 || nudges[0].Topic != "Book Draft" {
		t.Errorf("nudges = %+v, want one for Book Draft", nudges)
	}
}

func TestRunDispatchCycleMaxPerCycle(t *testing.T) {
	eng, db, _ := testEngine(t)
	user := testUser(t, db, "+31600000001")
	now := time.Now().UTC()

	db.SetLastInteraction(user.PhoneNumber, now.Add(-60*time.Hour))
	for _, topic := range []string{"Loop One", "Loop Two", "Loop Three", "Loop Four"} {
		db.UpsertLoop(&store.OpenLoop{
			PhoneNumber: user.PhoneNumber,
			Topic:       topic,
			Status:      store.LoopActive,
			Weight:      5,
			LastUpdated: msAgo(now, 50*time.Hour),
		})
	}

	result, err := eng.RunDispatchCycle(context.Background())
	if err != nil {
		t.Fatalf("RunDispatchCycle: %v", err)
	}
	if result.Created != 3 {
		t.Errorf("created = %d, want MaxPerCycle (3)", result.Created)
	}
}

func TestRunDispatchCycleBusy(t *testing.T) {
	eng, _, _ := testEngine(t)

	eng.dispatchBusy.Store(true)
	if _, err := eng.RunDispatchCycle(context.Background()); !errors.Is(err, ErrCycleRunning) {
		t.Errorf("err = %v, want ErrCycleRunning", err)
	}
}

func TestRunApprovedSendCycle(t *testing.T) {
	eng, db, sender := testEngine(t)
	user := testUser(t, db, "+31600000001")

	n := &store.PendingNudge{
		PhoneNumber: user.PhoneNumber,
		Topic:       "Investor Pitch",
		Weight:      5,
		MessageText: "Tomorrow's the day for Investor Pitch - feeling ready?",
		ScheduledAt: time.Now().Add(-time.Hour).UnixMilli(),
	}
	db.CreateNudge(n)
	db.ApproveNudge(n.ID)

	result, err := eng.RunApprovedSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunApprovedSendCycle: %v", err)
	}
	if result.Sent != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 1 sent", result)
	}

	if len(sender.Sent) != 1 || sender.Sent[0].To != user.PhoneNumber {
		t.Fatalf("sender log = %+v, want one send to user", sender.Sent)
	}

	got, _ := db.GetNudge(n.ID)
	if got.Status != store.NudgeSent {
		t.Errorf("nudge status = %s, want sent", got.Status)
	}

	// Delivery is logged as an outgoing message and counts as interaction.
	msgs, _ := db.RecentMessages(user.PhoneNumber, 1)
	if len(msgs) != 1 || msgs[0].Direction != store.DirOutgoing {
		t.Errorf("messages = %+v, want one outgoing", msgs)
	}
	u, _ := db.GetUser(user.PhoneNumber)
	if u.LastInteractionAt == nil {
		t.Error("expected last interaction refreshed after send")
	}
}

func TestRunApprovedSendCycleFailureRetries(t *testing.T) {
	eng, db, sender := testEngine(t)
	user := testUser(t, db, "+31600000001")
	sender.Err = errors.New("twilio 500")

	n := &store.PendingNudge{
		PhoneNumber: user.PhoneNumber,
		Topic:       "Investor Pitch",
		Weight:      5,
		MessageText: "hello",
		ScheduledAt: time.Now().Add(-time.Hour).UnixMilli(),
	}
	db.CreateNudge(n)
	db.ApproveNudge(n.ID)

	result, err := eng.RunApprovedSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunApprovedSendCycle: %v", err)
	}
	if result.Sent != 0 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 failed", result)
	}

	// Still approved: the next cycle will retry.
	got, _ := db.GetNudge(n.ID)
	if got.Status != store.NudgeApproved {
		t.Errorf("nudge status = %s, want approved", got.Status)
	}
}

func TestRunApprovedSendCycleHoldsDuringQuietHours(t *testing.T) {
	eng, db, sender := testEngine(t)

	// Quiet window straddling the current hour; approval arrived late
	// and the scheduled slot is now inside it.
	hour := time.Now().UTC().Hour()
	u := &store.User{
		PhoneNumber: "+31600000002",
		Timezone:    "UTC",
		QuietStart:  (hour + 23) % 24,
		QuietEnd:    (hour + 2) % 24,
		Onboarded:   true,
	}
	if err := db.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	n := &store.PendingNudge{
		PhoneNumber: u.PhoneNumber,
		Topic:       "Investor Pitch",
		Weight:      5,
		MessageText: "hello",
		ScheduledAt: time.Now().Add(-time.Hour).UnixMilli(),
	}
	db.CreateNudge(n)
	db.ApproveNudge(n.ID)

	result, err := eng.RunApprovedSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunApprovedSendCycle: %v", err)
	}
	if result.Sent != 0 || result.Failed != 0 {
		t.Errorf("result = %+v, want nothing sent or failed", result)
	}
	if len(sender.Sent) != 0 {
		t.Errorf("sender log = %+v, want no sends during quiet hours", sender.Sent)
	}

	// Held, not dropped: still approved for a later cycle.
	got, _ := db.GetNudge(n.ID)
	if got.Status != store.NudgeApproved {
		t.Errorf("nudge status = %s, want approved", got.Status)
	}
}

func TestRunApprovedSendCycleHoldsOnBadTimezone(t *testing.T) {
	eng, db, sender := testEngine(t)

	u := &store.User{
		PhoneNumber: "+31600000003",
		Timezone:    "Not/AZone",
		QuietStart:  22,
		QuietEnd:    9,
		Onboarded:   true,
	}
	if err := db.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	n := &store.PendingNudge{
		PhoneNumber: u.PhoneNumber,
		Topic:       "Investor Pitch",
		Weight:      5,
		MessageText: "hello",
		ScheduledAt: time.Now().Add(-time.Hour).UnixMilli(),
	}
	db.CreateNudge(n)
	db.ApproveNudge(n.ID)

	result, err := eng.RunApprovedSendCycle(context.Background())
	if err != nil {
		t.Fatalf("RunApprovedSendCycle: %v", err)
	}
	if result.Sent != 0 {
		t.Errorf("sent = %d, want 0 when timezone cannot be resolved", result.Sent)
	}
	if len(sender.Sent) != 0 {
		t.Errorf("sender log = %+v, want no sends", sender.Sent)
	}

	got, _ := db.GetNudge(n.ID)
	if got.Status != store.NudgeApproved {
		t.Errorf("nudge status = %s, want approved", got.Status)
	}
}

func TestRunApprovedSendCycleNoSender(t *testing.T) {
	db := testDB(t)
	eng := New(db, nil, nil)

	if _, err := eng.RunApprovedSendCycle(context.Background()); err == nil {
		t.Error("expected error without a delivery sender")
	}
}
