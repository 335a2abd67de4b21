package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/domain"
	"taskdeck/internal/events"
	"taskdeck/internal/repo"
)

func validStage(s string) bool {
	switch s {
	case "todo", "in progress", "completed":
		return true
	}
	return false
}

func validTaskPriority(p string) bool {
	switch p {
	case "high", "medium", "normal", "low":
		return true
	}
	return false
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID       string
	Title    string
	Date     string
	Priority string
	Stage    string
	Team     []string
	Assets   []string
	ActorID  string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if len(opts.Team) == 0 {
		return domain.Task{}, errors.New("at least one team member is required")
	}
	if opts.Stage == "" {
		opts.Stage = "todo"
	}
	if !validStage(opts.Stage) {
		return domain.Task{}, fmt.Errorf("invalid stage %s", opts.Stage)
	}
	if opts.Priority == "" {
		opts.Priority = "normal"
	}
	if !validTaskPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("invalid priority %s", opts.Priority)
	}
	ok, err := e.Repo.UsersExist(ctx, opts.Team)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, errors.New("team contains unknown user")
	}
	now := e.now().UTC().Format(time.RFC3339)
	if opts.Date == "" {
		opts.Date = now
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Task{
		ID:        id,
		Title:     opts.Title,
		Date:      opts.Date,
		Priority:  opts.Priority,
		Stage:     opts.Stage,
		Team:      opts.Team,
		Assets:    opts.Assets,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	activityText := fmt.Sprintf("New task %q has been assigned to %d member(s). The task priority is set as %s priority. The task date is %s.",
		t.Title, len(t.Team), t.Priority, t.Date)
	if err := e.Repo.AddActivity(ctx, tx, domain.Activity{
		TaskID: t.ID, Type: "assigned", Activity: activityText, ByID: opts.ActorID, Date: now,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title,
		"stage": t.Stage,
		"team":  len(t.Team),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.notify(func() (domain.Notification, error) { return e.Ledger.TaskAssigned(ctx, t, opts.ActorID) })
	return e.Repo.GetTask(ctx, t.ID)
}

// TaskUpdateOptions encapsulates allowed updates. Nil pointers and nil
// slices mean "leave as is".
type TaskUpdateOptions struct {
	ID       string
	Title    *string
	Date     *string
	Priority *string
	Stage    *string
	Team     []string
	Assets   []string
	ActorID  string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	original := t
	if opts.Title != nil {
		if *opts.Title == "" {
			return t, errors.New("title cannot be empty")
		}
		t.Title = *opts.Title
	}
	if opts.Date != nil {
		t.Date = *opts.Date
	}
	if opts.Priority != nil {
		if !validTaskPriority(*opts.Priority) {
			return t, fmt.Errorf("invalid priority %s", *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.Stage != nil {
		if !validStage(*opts.Stage) {
			return t, fmt.Errorf("invalid stage %s", *opts.Stage)
		}
		t.Stage = *opts.Stage
	}
	var addedMembers []string
	if opts.Team != nil {
		if len(opts.Team) == 0 {
			return t, errors.New("at least one team member is required")
		}
		ok, err := e.Repo.UsersExist(ctx, opts.Team)
		if err != nil {
			return t, err
		}
		if !ok {
			return t, errors.New("team contains unknown user")
		}
		existing := map[string]bool{}
		for _, id := range original.Team {
			existing[id] = true
		}
		for _, id := range opts.Team {
			if !existing[id] {
				addedMembers = append(addedMembers, id)
			}
		}
		t.Team = opts.Team
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if opts.Team != nil {
		if err := e.Repo.ReplaceTaskTeam(ctx, tx, t.ID, t.Team); err != nil {
			return t, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.updated", "task", t.ID, opts.ActorID, events.EventPayload{
		"from_stage": original.Stage,
		"to_stage":   t.Stage,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}

	if t.Priority != original.Priority {
		e.notify(func() (domain.Notification, error) {
			return e.Ledger.PriorityChanged(ctx, t, original.Priority, t.Priority, opts.ActorID)
		})
	}
	if t.Date != original.Date {
		e.notify(func() (domain.Notification, error) {
			return e.Ledger.DeadlineChanged(ctx, t, original.Date, t.Date, opts.ActorID)
		})
	}
	if len(addedMembers) > 0 {
		e.notify(func() (domain.Notification, error) {
			return e.Ledger.TeamAdded(ctx, t.ID, t.Title, addedMembers, opts.ActorID)
		})
	}
	if t.Stage == "completed" && original.Stage != "completed" {
		e.notify(func() (domain.Notification, error) { return e.Ledger.TaskCompleted(ctx, t, opts.ActorID) })
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// TrashTask soft-deletes; the task keeps its data and can be restored.
func (e Engine) TrashTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	return e.setTrashed(ctx, id, actorID, true)
}

func (e Engine) RestoreTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	return e.setTrashed(ctx, id, actorID, false)
}

func (e Engine) setTrashed(ctx context.Context, id, actorID string, trashed bool) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	if t.IsTrashed == trashed {
		if trashed {
			return t, nil
		}
		return t, errors.New("task is not trashed")
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetTaskTrashed(ctx, tx, id, trashed, now); err != nil {
		return t, err
	}
	evtType := "task.trashed"
	if !trashed {
		evtType = "task.restored"
	}
	if err := e.Events.Append(ctx, tx, evtType, "task", id, actorID, events.EventPayload{"title": t.Title}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	t.IsTrashed = trashed
	t.UpdatedAt = now
	if trashed {
		e.notify(func() (domain.Notification, error) { return e.Ledger.TaskTrashed(ctx, t, actorID) })
	} else {
		e.notify(func() (domain.Notification, error) { return e.Ledger.TaskRestored(ctx, t, actorID) })
	}
	return t, nil
}

// DeleteTask permanently removes a trashed task.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !t.IsTrashed {
		return errors.New("task must be trashed before permanent deletion")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", "task", id, actorID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// DuplicateTask copies team, subtasks, assets, priority and stage into a
// new task. The activity timeline stays behind.
func (e Engine) DuplicateTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	src, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	copy := domain.Task{
		ID:        uuid.New().String(),
		Title:     src.Title + " - Duplicate",
		Date:      src.Date,
		Priority:  src.Priority,
		Stage:     src.Stage,
		Team:      src.Team,
		Assets:    src.Assets,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, copy); err != nil {
		return domain.Task{}, err
	}
	for _, s := range src.SubTasks {
		if _, err := e.Repo.AddSubTask(ctx, tx, domain.SubTask{
			TaskID: copy.ID, Title: s.Title, Date: s.Date, Tag: s.Tag, Completed: s.Completed,
		}); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.duplicated", "task", copy.ID, actorID, events.EventPayload{
		"original_task_id": src.ID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.notify(func() (domain.Notification, error) { return e.Ledger.TaskDuplicated(ctx, src.ID, copy, actorID) })
	return e.Repo.GetTask(ctx, copy.ID)
}

func (e Engine) AddSubTask(ctx context.Context, taskID, title, date, tag, actorID string) (domain.SubTask, error) {
	if title == "" {
		return domain.SubTask{}, errors.New("title is required")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.SubTask{}, err
	}
	s := domain.SubTask{TaskID: taskID, Title: title, Date: date, Tag: tag}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	id, err := e.Repo.AddSubTask(ctx, tx, s)
	if err != nil {
		return s, err
	}
	s.ID = id
	if err := e.Events.Append(ctx, tx, "subtask.added", "task", taskID, actorID, events.EventPayload{"title": title}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	e.notify(func() (domain.Notification, error) { return e.Ledger.SubtaskAdded(ctx, t, title, actorID) })
	return s, nil
}

func (e Engine) CompleteSubTask(ctx context.Context, taskID string, subtaskID int64, actorID string) (domain.SubTask, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.SubTask{}, err
	}
	s, err := e.Repo.GetSubTask(ctx, taskID, subtaskID)
	if err != nil {
		return s, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.CompleteSubTask(ctx, tx, taskID, subtaskID); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "subtask.completed", "task", taskID, actorID, events.EventPayload{"title": s.Title}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Completed = true
	e.notify(func() (domain.Notification, error) { return e.Ledger.SubtaskCompleted(ctx, t, s.Title, actorID) })
	return s, nil
}

func validActivityType(t string) bool {
	switch t {
	case "started", "commented", "assigned", "in progress", "bug", "completed":
		return true
	}
	return false
}

// PostActivity records a timeline entry on a task. Comments additionally
// notify the rest of the team.
func (e Engine) PostActivity(ctx context.Context, taskID, activityType, text, actorID string) (domain.Activity, error) {
	if !validActivityType(activityType) {
		return domain.Activity{}, fmt.Errorf("invalid activity type %s", activityType)
	}
	if text == "" {
		return domain.Activity{}, errors.New("activity text is required")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Activity{}, err
	}
	a := domain.Activity{
		TaskID:   taskID,
		Type:     activityType,
		Activity: text,
		ByID:     actorID,
		Date:     e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.AddActivity(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "task.activity", "task", taskID, actorID, events.EventPayload{"type": activityType}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	if activityType == "commented" {
		e.notify(func() (domain.Notification, error) { return e.Ledger.CommentAdded(ctx, t, actorID, text) })
	}
	return a, nil
}

// DashboardStats is the aggregate view served to the home screen.
type DashboardStats struct {
	TotalTasks int            `json:"total_tasks"`
	ByStage    map[string]int `json:"by_stage"`
	ByPriority map[string]int `json:"by_priority"`
	LastTasks  []domain.Task  `json:"last_tasks"`
	TotalUsers int            `json:"total_users,omitempty"`
}

// Dashboard aggregates task counts. Non-admins only see tasks they are on;
// admins additionally get the active-user count.
func (e Engine) Dashboard(ctx context.Context, actorID string, isAdmin bool) (DashboardStats, error) {
	memberID := actorID
	if isAdmin {
		memberID = ""
	}
	byStage, err := e.Repo.CountTasksBy(ctx, "stage", memberID)
	if err != nil {
		return DashboardStats{}, err
	}
	byPriority, err := e.Repo.CountTasksBy(ctx, "priority", memberID)
	if err != nil {
		return DashboardStats{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilter{MemberID: memberID})
	if err != nil {
		return DashboardStats{}, err
	}
	stats := DashboardStats{
		TotalTasks: len(tasks),
		ByStage:    byStage,
		ByPriority: byPriority,
	}
	if len(tasks) > 10 {
		tasks = tasks[:10]
	}
	stats.LastTasks = tasks
	if isAdmin {
		ids, err := e.Repo.ListActiveUserIDs(ctx)
		if err != nil {
			return stats, err
		}
		stats.TotalUsers = len(ids)
	}
	return stats, nil
}
