package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"taskdeck/internal/db"
	"taskdeck/internal/domain"
	"taskdeck/internal/ledger"
	"taskdeck/internal/migrate"
	"taskdeck/internal/repo"
)

type testEnv struct {
	Ledger ledger.Ledger
	Repo   repo.Repo
	Ctx    context.Context
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := ledger.New(conn)
	l.Now = clock.Now
	return testEnv{Ledger: l, Repo: repo.Repo{DB: conn}, Ctx: context.Background()}
}

func (env testEnv) seedUser(t *testing.T, id string, active bool) {
	t.Helper()
	now := "2024-01-01T00:00:00Z"
	err := env.Repo.InsertUser(env.Ctx, nil, domain.User{
		ID:           id,
		Name:         id,
		Email:        id + "@example.com",
		Role:         "Developer",
		IsActive:     active,
		PasswordHash: "x",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func TestVisibilityLimitedToRecipients(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", true)
	env.seedUser(t, "bob", true)
	env.seedUser(t, "carol", true)

	_, err := env.Ledger.Create(env.Ctx, ledger.CreateOptions{
		Kind:       domain.KindTaskAssigned,
		Recipients: []string{"alice", "bob"},
		Text:       "New task has been assigned to you and 1 others.",
		CreatedBy:  "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for user, want := range map[string]int{"alice": 1, "bob": 1, "carol": 0} {
		items, err := env.Ledger.ListForUser(env.Ctx, user)
		if err != nil {
			t.Fatalf("list for %s: %v", user, err)
		}
		if len(items) != want {
			t.Fatalf("%s: expected %d notifications, got %d", user, want, len(items))
		}
	}
}

func TestMarkReadIsMonotoneAndConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", true)
	env.seedUser(t, "bob", true)

	n, err := env.Ledger.Create(env.Ctx, ledger.CreateOptions{
		Recipients: []string{"alice", "bob"},
		Text:       "Task has been marked as completed.",
		Kind:       domain.KindTaskCompleted,
		CreatedBy:  "alice",
	})
	if err != nil {
		t.Fatal(err)
	}

	marked, err := env.Ledger.MarkRead(env.Ctx, n.ID, "bob")
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if !marked.ReadByUser("bob") {
		t.Fatalf("expected bob in read set, got %v", marked.ReadBy)
	}
	if marked.ReadByUser("alice") {
		t.Fatalf("alice should not be in read set")
	}

	_, err = env.Ledger.MarkRead(env.Ctx, n.ID, "bob")
	if !errors.Is(err, ledger.ErrAlreadyRead) {
		t.Fatalf("expected ErrAlreadyRead, got %v", err)
	}

	// The conflict must not shrink the read set.
	got, err := env.Repo.GetNotification(env.Ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ReadByUser("bob") {
		t.Fatalf("read set lost bob after conflict")
	}
}

func TestMarkReadForbiddenForNonRecipient(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", true)
	env.seedUser(t, "mallory", true)

	n, err := env.Ledger.Create(env.Ctx, ledger.CreateOptions{
		Recipients: []string{"alice"},
		Text:       "Task details have been updated.",
		Kind:       domain.KindTaskUpdated,
		CreatedBy:  "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Ledger.MarkRead(env.Ctx, n.ID, "mallory")
	if !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	_, err = env.Ledger.MarkRead(env.Ctx, "no-such-id", "alice")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkAllReadIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", true)
	env.seedUser(t, "bob", true)

	for i := 0; i < 3; i++ {
		_, err := env.Ledger.Create(env.Ctx, ledger.CreateOptions{
			Recipients: []string{"alice", "bob"},
			Text:       fmt.Sprintf("notice %d", i),
			Kind:       domain.KindAnnouncement,
			CreatedBy:  "alice",
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	// One is already read; the bulk pass must skip it.
	items, err := env.Ledger.ListForUser(env.Ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Ledger.MarkRead(env.Ctx, items[0].ID, "bob"); err != nil {
		t.Fatal(err)
	}

	marked, err := env.Ledger.MarkAllRead(env.Ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if marked != 2 {
		t.Fatalf("expected 2 newly marked, got %d", marked)
	}
	marked, err = env.Ledger.MarkAllRead(env.Ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if marked != 0 {
		t.Fatalf("expected 0 on repeat, got %d", marked)
	}
	// Alice's state is untouched.
	items, _ = env.Ledger.ListForUser(env.Ctx, "alice")
	for _, n := range items {
		if n.ReadByUser("alice") {
			t.Fatalf("alice unexpectedly marked on %s", n.ID)
		}
	}
}

func TestSystemWideSnapshotsActiveUsers(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", true)
	env.seedUser(t, "bob", true)
	env.seedUser(t, "sleeper", false)

	n, err := env.Ledger.CreateSystemWide(env.Ctx, domain.KindSystemUpdate, "System has been updated.", "alice", "high", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !n.IsSystemWide {
		t.Fatalf("expected system-wide flag")
	}
	if len(n.Recipients) != 2 {
		t.Fatalf("expected 2 recipients, got %v", n.Recipients)
	}

	// A user activated after the snapshot never sees the broadcast.
	env.seedUser(t, "newcomer", true)
	items, err := env.Ledger.ListForUser(env.Ctx, "newcomer")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("newcomer should not see earlier broadcast, got %d", len(items))
	}
	items, _ = env.Ledger.ListForUser(env.Ctx, "sleeper")
	if len(items) != 0 {
		t.Fatalf("inactive user should not be in snapshot")
	}
}

func TestListCapNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", true)

	for i := 0; i < 60; i++ {
		_, err := env.Ledger.Create(env.Ctx, ledger.CreateOptions{
			Recipients: []string{"alice"},
			Text:       fmt.Sprintf("notice %02d", i),
			Kind:       domain.KindAnnouncement,
			CreatedBy:  "alice",
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	items, err := env.Ledger.ListForUser(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 50 {
		t.Fatalf("expected 50 notifications, got %d", len(items))
	}
	if items[0].Text != "notice 59" {
		t.Fatalf("expected newest first, got %q", items[0].Text)
	}
	if items[49].Text != "notice 10" {
		t.Fatalf("expected oldest surviving to be notice 10, got %q", items[49].Text)
	}
}

func TestDeleteIsGlobal(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", true)
	env.seedUser(t, "bob", true)
	env.seedUser(t, "mallory", true)

	n, err := env.Ledger.Create(env.Ctx, ledger.CreateOptions{
		Recipients: []string{"alice", "bob"},
		Text:       "Task has been moved to trash.",
		Kind:       domain.KindTaskTrashed,
		CreatedBy:  "alice",
		Priority:   "high",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Ledger.MarkRead(env.Ctx, n.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	if err := env.Ledger.Delete(env.Ctx, n.ID, "mallory"); !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}
	// Bob never read it but can still delete, and it vanishes for alice too.
	if err := env.Ledger.Delete(env.Ctx, n.ID, "bob"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, user := range []string{"alice", "bob"} {
		items, err := env.Ledger.ListForUser(env.Ctx, user)
		if err != nil {
			t.Fatal(err)
		}
		if len(items) != 0 {
			t.Fatalf("%s still sees deleted notification", user)
		}
	}
	if _, err := env.Repo.GetNotification(env.Ctx, n.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", true)

	cases := []struct {
		name string
		opts ledger.CreateOptions
	}{
		{"no recipients", ledger.CreateOptions{Text: "x", CreatedBy: "alice"}},
		{"no text", ledger.CreateOptions{Recipients: []string{"alice"}, CreatedBy: "alice"}},
		{"bad kind", ledger.CreateOptions{Kind: "task_exploded", Recipients: []string{"alice"}, Text: "x", CreatedBy: "alice"}},
		{"bad priority", ledger.CreateOptions{Priority: "extreme", Recipients: []string{"alice"}, Text: "x", CreatedBy: "alice"}},
	}
	for _, tc := range cases {
		if _, err := env.Ledger.Create(env.Ctx, tc.opts); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	// Defaults: kind task_assigned, priority normal.
	n, err := env.Ledger.Create(env.Ctx, ledger.CreateOptions{
		Recipients: []string{"alice", "alice"},
		Text:       "New task has been assigned to you.",
		CreatedBy:  "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if n.Kind != domain.KindTaskAssigned || n.Priority != "normal" {
		t.Fatalf("unexpected defaults: kind=%s priority=%s", n.Kind, n.Priority)
	}
	if len(n.Recipients) != 1 {
		t.Fatalf("expected deduplicated recipients, got %v", n.Recipients)
	}
}
