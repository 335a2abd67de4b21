package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/domain"
	"taskdeck/internal/engine"
	"taskdeck/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
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
	eng := engine.New(conn, config.Default())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	eng.Now = clock
	eng.Ledger.Now = clock
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) register(t *testing.T, name string) domain.User {
	t.Helper()
	u, err := env.Engine.RegisterUser(env.Ctx, engine.UserCreateOptions{
		Name:     name,
		Email:    name + "@example.com",
		Password: "secret123",
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return u
}

func (env testEnv) feed(t *testing.T, userID, kind string) []domain.Notification {
	t.Helper()
	items, err := env.Engine.Ledger.ListForUser(env.Ctx, userID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	var out []domain.Notification
	for _, n := range items {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (env testEnv) countEvents(t *testing.T, evtType string) int {
	t.Helper()
	var n int
	err := env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT COUNT(*) FROM events WHERE type=?`, evtType).Scan(&n)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func TestRegisterFirstUserBecomesAdmin(t *testing.T) {
	env := newTestEnv(t)

	alice := env.register(t, "alice")
	if !alice.IsAdmin || alice.Role != "Admin" {
		t.Fatalf("first user should be admin, got role=%s admin=%v", alice.Role, alice.IsAdmin)
	}
	if alice.PasswordHash != "" {
		t.Fatalf("password hash leaked out of register")
	}

	bob := env.register(t, "bob")
	if bob.IsAdmin || bob.Role != "Developer" {
		t.Fatalf("second user should be a plain developer, got role=%s admin=%v", bob.Role, bob.IsAdmin)
	}

	_, err := env.Engine.RegisterUser(env.Ctx, engine.UserCreateOptions{
		Name: "alice again", Email: "ALICE@example.com", Password: "secret123",
	})
	if !errors.Is(err, engine.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	_, err = env.Engine.RegisterUser(env.Ctx, engine.UserCreateOptions{
		Name: "carol", Email: "carol@example.com", Password: "short",
	})
	if err == nil {
		t.Fatalf("expected short password to be rejected")
	}

	// Admins hear about the newcomer, the first registration is silent.
	if got := env.feed(t, alice.ID, domain.KindUserRegistered); len(got) != 1 {
		t.Fatalf("expected 1 user_registered notice for admin, got %d", len(got))
	}
	if env.countEvents(t, "user.registered") != 2 {
		t.Fatalf("expected 2 user.registered events")
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	u, err := env.Engine.Authenticate(env.Ctx, "Alice@Example.com ", "secret123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if u.ID != alice.ID {
		t.Fatalf("authenticated wrong user")
	}

	if _, err := env.Engine.Authenticate(env.Ctx, "alice@example.com", "wrong"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "nobody@example.com", "secret123"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	inactive := false
	if _, err := env.Engine.UpdateUser(env.Ctx, engine.UserUpdateOptions{ID: alice.ID, IsActive: &inactive, ActorID: alice.ID}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "alice@example.com", "secret123"); !errors.Is(err, engine.ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestCreateTaskNotifiesAssignees(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:    "Ship the release",
		Priority: "high",
		Team:     []string{alice.ID, bob.ID},
		ActorID:  alice.ID,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Stage != "todo" {
		t.Fatalf("expected default stage todo, got %s", task.Stage)
	}
	if len(task.Activities) != 1 || task.Activities[0].Type != "assigned" {
		t.Fatalf("expected one assigned activity, got %+v", task.Activities)
	}

	for _, u := range []domain.User{alice, bob} {
		got := env.feed(t, u.ID, domain.KindTaskAssigned)
		if len(got) != 1 {
			t.Fatalf("%s: expected 1 task_assigned notice, got %d", u.Name, len(got))
		}
		n := got[0]
		if !strings.Contains(n.Text, `"Ship the release"`) || !strings.Contains(n.Text, "high") {
			t.Fatalf("unexpected text %q", n.Text)
		}
		if n.Priority != "high" {
			t.Fatalf("high task should raise notification priority, got %s", n.Priority)
		}
		if n.RelatedTask == nil || *n.RelatedTask != task.ID {
			t.Fatalf("expected related task %s", task.ID)
		}
	}
	if env.countEvents(t, "task.created") != 1 {
		t.Fatalf("expected 1 task.created event")
	}

	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Ghost task", Team: []string{"no-such-user"}, ActorID: alice.ID,
	}); err == nil {
		t.Fatalf("expected unknown team member to be rejected")
	}
}

func TestUpdateTaskTriggers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Write docs", Team: []string{alice.ID}, ActorID: alice.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	high := "high"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Priority: &high, ActorID: alice.ID}); err != nil {
		t.Fatal(err)
	}
	got := env.feed(t, alice.ID, domain.KindTaskPriorityChanged)
	if len(got) != 1 {
		t.Fatalf("expected priority change notice, got %d", len(got))
	}
	if got[0].Metadata["oldPriority"] != "normal" || got[0].Metadata["newPriority"] != "high" {
		t.Fatalf("unexpected metadata %v", got[0].Metadata)
	}

	// Only the newly added member hears about joining.
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Team: []string{alice.ID, bob.ID}, ActorID: alice.ID}); err != nil {
		t.Fatal(err)
	}
	if got := env.feed(t, bob.ID, domain.KindTeamAdded); len(got) != 1 {
		t.Fatalf("bob: expected 1 team_added notice, got %d", len(got))
	}
	if got := env.feed(t, alice.ID, domain.KindTeamAdded); len(got) != 0 {
		t.Fatalf("alice should not get team_added for an existing membership")
	}

	completed := "completed"
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Stage: &completed, ActorID: alice.ID})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Stage != "completed" {
		t.Fatalf("stage not updated, got %s", updated.Stage)
	}
	if got := env.feed(t, bob.ID, domain.KindTaskCompleted); len(got) != 1 {
		t.Fatalf("expected task_completed notice, got %d", len(got))
	}

	bad := "parked"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Stage: &bad, ActorID: alice.ID}); err == nil {
		t.Fatalf("expected invalid stage to be rejected")
	}
}

func TestTrashRestoreAndDelete(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Old task", Team: []string{alice.ID}, ActorID: alice.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Permanent delete requires the task to be trashed first.
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, alice.ID); err == nil {
		t.Fatalf("expected delete of live task to fail")
	}

	trashed, err := env.Engine.TrashTask(env.Ctx, task.ID, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !trashed.IsTrashed {
		t.Fatalf("task not trashed")
	}
	got := env.feed(t, alice.ID, domain.KindTaskTrashed)
	if len(got) != 1 || got[0].Priority != "high" {
		t.Fatalf("expected one high priority task_trashed notice, got %+v", got)
	}

	restored, err := env.Engine.RestoreTask(env.Ctx, task.ID, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.IsTrashed {
		t.Fatalf("task still trashed after restore")
	}
	if _, err := env.Engine.RestoreTask(env.Ctx, task.ID, alice.ID); err == nil || !strings.Contains(err.Error(), "not trashed") {
		t.Fatalf("expected restore of live task to fail, got %v", err)
	}

	if _, err := env.Engine.TrashTask(env.Ctx, task.ID, alice.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, alice.ID); err != nil {
		t.Fatalf("delete trashed task: %v", err)
	}
}

func TestDuplicateTaskCopiesSubtasks(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Quarterly report", Priority: "medium", Team: []string{alice.ID}, ActorID: alice.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddSubTask(env.Ctx, task.ID, "Collect numbers", "", "analysis", alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddSubTask(env.Ctx, task.ID, "Draft summary", "", "", alice.ID); err != nil {
		t.Fatal(err)
	}

	dup, err := env.Engine.DuplicateTask(env.Ctx, task.ID, alice.ID)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if dup.Title != "Quarterly report - Duplicate" {
		t.Fatalf("unexpected duplicate title %q", dup.Title)
	}
	if dup.ID == task.ID {
		t.Fatalf("duplicate reused the source id")
	}
	if dup.Priority != "medium" || len(dup.Team) != 1 {
		t.Fatalf("duplicate lost fields: %+v", dup)
	}
	if len(dup.SubTasks) != 2 {
		t.Fatalf("expected 2 copied subtasks, got %d", len(dup.SubTasks))
	}

	got := env.feed(t, alice.ID, domain.KindTaskDuplicated)
	if len(got) != 1 {
		t.Fatalf("expected task_duplicated notice, got %d", len(got))
	}
	if got[0].Metadata["originalTaskId"] != task.ID {
		t.Fatalf("unexpected metadata %v", got[0].Metadata)
	}
}

func TestSubtaskCompletion(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Cleanup", Team: []string{alice.ID}, ActorID: alice.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := env.Engine.AddSubTask(env.Ctx, task.ID, "Remove stale branches", "", "", alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.CompleteSubTask(env.Ctx, task.ID, s.ID, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !done.Completed {
		t.Fatalf("subtask not completed")
	}
	if got := env.feed(t, alice.ID, domain.KindSubtaskCompleted); len(got) != 1 {
		t.Fatalf("expected subtask_completed notice, got %d", len(got))
	}
	if _, err := env.Engine.CompleteSubTask(env.Ctx, task.ID, 999, alice.ID); err == nil {
		t.Fatalf("expected unknown subtask to fail")
	}
}

func TestCommentNotificationSkipsAuthor(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Bug triage", Team: []string{alice.ID, bob.ID}, ActorID: alice.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("a very long comment ", 10)
	if _, err := env.Engine.PostActivity(env.Ctx, task.ID, "commented", long, alice.ID); err != nil {
		t.Fatal(err)
	}

	if got := env.feed(t, alice.ID, domain.KindCommentAdded); len(got) != 0 {
		t.Fatalf("commenter should not be notified about their own comment")
	}
	got := env.feed(t, bob.ID, domain.KindCommentAdded)
	if len(got) != 1 {
		t.Fatalf("expected 1 comment_added notice for bob, got %d", len(got))
	}
	if !strings.Contains(got[0].Text, "...") {
		t.Fatalf("expected truncated quote, got %q", got[0].Text)
	}

	if _, err := env.Engine.PostActivity(env.Ctx, task.ID, "exploded", "boom", alice.ID); err == nil {
		t.Fatalf("expected invalid activity type to be rejected")
	}
}

func TestRoleChangeAndDeactivationNotices(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")

	manager := "Manager"
	if _, err := env.Engine.UpdateUser(env.Ctx, engine.UserUpdateOptions{ID: bob.ID, Role: &manager, ActorID: alice.ID}); err != nil {
		t.Fatal(err)
	}
	if got := env.feed(t, bob.ID, domain.KindUserRoleChanged); len(got) != 1 {
		t.Fatalf("bob: expected role change notice, got %d", len(got))
	}
	if got := env.feed(t, carol.ID, domain.KindUserRoleChanged); len(got) != 0 {
		t.Fatalf("carol should not hear about bob's role change")
	}

	inactive := false
	if _, err := env.Engine.UpdateUser(env.Ctx, engine.UserUpdateOptions{ID: carol.ID, IsActive: &inactive, ActorID: alice.ID}); err != nil {
		t.Fatal(err)
	}
	got := env.feed(t, alice.ID, domain.KindUserDeactivated)
	if len(got) != 1 || !got[0].IsSystemWide {
		t.Fatalf("expected system-wide deactivation notice, got %+v", got)
	}
}

func TestChangePasswordAndDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	if err := env.Engine.ChangePassword(env.Ctx, alice.ID, "wrong", "newsecret"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.Engine.ChangePassword(env.Ctx, alice.ID, "secret123", "newsecret"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "alice@example.com", "newsecret"); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}

	if err := env.Engine.DeleteUser(env.Ctx, alice.ID, alice.ID); err == nil {
		t.Fatalf("expected self-delete to fail")
	}
	if err := env.Engine.DeleteUser(env.Ctx, bob.ID, alice.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	for _, spec := range []struct{ title, stage, priority string }{
		{"One", "todo", "high"},
		{"Two", "in progress", "normal"},
		{"Three", "completed", "normal"},
	} {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			Title: spec.title, Stage: spec.stage, Priority: spec.priority,
			Team: []string{alice.ID}, ActorID: alice.ID,
		}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := env.Engine.Dashboard(env.Ctx, alice.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalTasks != 3 {
		t.Fatalf("expected 3 tasks, got %d", stats.TotalTasks)
	}
	if stats.ByStage["todo"] != 1 || stats.ByPriority["normal"] != 2 {
		t.Fatalf("unexpected buckets: %+v %+v", stats.ByStage, stats.ByPriority)
	}
	if stats.TotalUsers != 2 {
		t.Fatalf("expected 2 active users, got %d", stats.TotalUsers)
	}

	// Non-members see an empty board.
	stats, err = env.Engine.Dashboard(env.Ctx, bob.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalTasks != 0 {
		t.Fatalf("bob should see no tasks, got %d", stats.TotalTasks)
	}
}
