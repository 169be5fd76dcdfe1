package engine

import (
	"testing"
	"time"

	"github.com/heymuze/muze/internal/delivery"
	"github.com/heymuze/muze/internal/llm"
	"github.com/heymuze/muze/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEngine(t *testing.T) (*Engine, *store.DB, *delivery.MockSender) {
	t.Helper()
	db := testDB(t)
	sender := &delivery.MockSender{}
	client := &llm.MockClient{Response: &llm.Response{Content: "How's it going with that?"}}
	return New(db, client, sender), db, sender
}

// testUser creates an onboarded user in UTC with no quiet hours, so
// scheduling math in tests is deterministic.
func testUser(t *testing.T, db *store.DB, phone string) *store.User {
	t.Helper()
	u := &store.User{
		PhoneNumber: phone,
		DisplayName: "Sam",
		Timezone:    "UTC",
		Onboarded:   true,
	}
	if err := db.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func eventDate(now time.Time, daysAhead int) string {
	return now.UTC().AddDate(0, 0, daysAhead).Format(store.EventDateLayout)
}

func msAgo(now time.Time, d time.Duration) int64 {
	return now.Add(-d).UnixMilli()
}
