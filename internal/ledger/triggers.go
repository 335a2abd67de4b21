package ledger

import (
	"context"
	"fmt"
	"time"

	"taskdeck/internal/domain"
)

// Trigger helpers compose the canonical notification text for each kind of
// workspace event and insert through Create. They are best-effort: callers
// run them after committing the primary mutation and log failures instead
// of propagating them.

func humanDate(value string) string {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return t.Format("Mon Jan 02 2006")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// DefaultText returns the fallback text used when a caller supplies none.
func DefaultText(kind string, recipients int) string {
	switch kind {
	case domain.KindTaskAssigned:
		if recipients > 1 {
			return fmt.Sprintf("New task has been assigned to you and %d others.", recipients-1)
		}
		return "New task has been assigned to you."
	case domain.KindTaskCompleted:
		return "Task has been marked as completed."
	case domain.KindTaskTrashed:
		return "Task has been moved to trash."
	case domain.KindTaskRestored:
		return "Task has been restored from trash."
	case domain.KindTeamAdded:
		return "You have been added to a new task team."
	case domain.KindTaskUpdated:
		return "Task details have been updated."
	case domain.KindTaskStarted:
		return "Task has been started."
	case domain.KindTaskDuplicated:
		return "A task has been duplicated."
	case domain.KindTaskPriorityChanged:
		return "Task priority has been changed."
	case domain.KindTaskDeadlineChanged:
		return "Task deadline has been updated."
	case domain.KindUserRegistered:
		return "A new user has joined the system."
	case domain.KindUserRoleChanged:
		return "User role has been updated."
	case domain.KindUserDeactivated:
		return "A user account has been deactivated."
	case domain.KindUserActivated:
		return "A user account has been activated."
	case domain.KindSystemMaintenance:
		return "System maintenance scheduled."
	case domain.KindSystemUpdate:
		return "System has been updated."
	case domain.KindNewFeature:
		return "New feature has been added."
	case domain.KindAnnouncement:
		return "New announcement from the team."
	case domain.KindCommentAdded:
		return "New comment added to task."
	case domain.KindSubtaskAdded:
		return "New subtask has been added."
	case domain.KindSubtaskCompleted:
		return "Subtask has been completed."
	case domain.KindFileUploaded:
		return "New file has been uploaded."
	}
	return "System notification."
}

// TaskAssigned tells each team member about a new assignment, spelling out
// the priority and due date.
func (l Ledger) TaskAssigned(ctx context.Context, task domain.Task, actorID string) (domain.Notification, error) {
	priorityText := "normal priority"
	switch task.Priority {
	case "high":
		priorityText = "high priority"
	case "urgent":
		priorityText = "urgent priority"
	case "low":
		priorityText = "low priority"
	}
	others := ""
	if len(task.Team) > 1 {
		others = fmt.Sprintf(" and %d others", len(task.Team)-1)
	}
	text := fmt.Sprintf("New task %q has been assigned to you%s. The task priority is set as %s, so check and act accordingly. The task date is %s. Thank you!",
		task.Title, others, priorityText, humanDate(task.Date))
	priority := task.Priority
	if priority != "urgent" && priority != "high" && priority != "low" {
		priority = "normal"
	}
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindTaskAssigned,
		Recipients:  task.Team,
		Text:        text,
		CreatedBy:   actorID,
		Priority:    priority,
		RelatedTask: task.ID,
	})
}

// TeamAdded notifies just the members newly added to an existing task.
func (l Ledger) TeamAdded(ctx context.Context, taskID, taskTitle string, newMembers []string, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("You have been added to the task %q. Please review the task details and start working on it.", taskTitle)
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindTeamAdded,
		Recipients:  newMembers,
		Text:        text,
		CreatedBy:   actorID,
		RelatedTask: taskID,
	})
}

func (l Ledger) TaskCompleted(ctx context.Context, task domain.Task, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("Task %q has been marked as completed. Great work!", task.Title)
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindTaskCompleted,
		Recipients:  task.Team,
		Text:        text,
		CreatedBy:   actorID,
		RelatedTask: task.ID,
	})
}

func (l Ledger) TaskTrashed(ctx context.Context, task domain.Task, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("Task %q has been moved to trash by an admin.", task.Title)
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindTaskTrashed,
		Recipients:  task.Team,
		Text:        text,
		CreatedBy:   actorID,
		Priority:    "high",
		RelatedTask: task.ID,
	})
}

func (l Ledger) TaskRestored(ctx context.Context, task domain.Task, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("Task %q has been restored from trash and is now active again.", task.Title)
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindTaskRestored,
		Recipients:  task.Team,
		Text:        text,
		CreatedBy:   actorID,
		RelatedTask: task.ID,
	})
}

// TaskDuplicated links back to the source task through metadata.
func (l Ledger) TaskDuplicated(ctx context.Context, originalTaskID string, copy domain.Task, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("Task %q has been duplicated. A new task has been created with the same details.", copy.Title)
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindTaskDuplicated,
		Recipients:  copy.Team,
		Text:        text,
		CreatedBy:   actorID,
		RelatedTask: copy.ID,
		Metadata:    map[string]any{"originalTaskId": originalTaskID},
	})
}

func (l Ledger) PriorityChanged(ctx context.Context, task domain.Task, oldPriority, newPriority, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("Task %q priority has been changed from %s to %s.", task.Title, oldPriority, newPriority)
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindTaskPriorityChanged,
		Recipients:  task.Team,
		Text:        text,
		CreatedBy:   actorID,
		RelatedTask: task.ID,
		Metadata:    map[string]any{"oldPriority": oldPriority, "newPriority": newPriority},
	})
}

func (l Ledger) DeadlineChanged(ctx context.Context, task domain.Task, oldDate, newDate, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("Task %q deadline has been updated from %s to %s.", task.Title, humanDate(oldDate), humanDate(newDate))
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindTaskDeadlineChanged,
		Recipients:  task.Team,
		Text:        text,
		CreatedBy:   actorID,
		Priority:    "high",
		RelatedTask: task.ID,
		Metadata:    map[string]any{"oldDeadline": oldDate, "newDeadline": newDate},
	})
}

// CommentAdded skips the commenter; nobody needs a notification about their
// own comment.
func (l Ledger) CommentAdded(ctx context.Context, task domain.Task, actorID, comment string) (domain.Notification, error) {
	recipients := make([]string, 0, len(task.Team))
	for _, id := range task.Team {
		if id != actorID {
			recipients = append(recipients, id)
		}
	}
	text := fmt.Sprintf("New comment added to task %q: %q", task.Title, truncate(comment, 50))
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindCommentAdded,
		Recipients:  recipients,
		Text:        text,
		CreatedBy:   actorID,
		RelatedTask: task.ID,
		Metadata:    map[string]any{"commentText": comment},
	})
}

func (l Ledger) SubtaskAdded(ctx context.Context, task domain.Task, subtaskTitle, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("New subtask %q has been added to task %q.", subtaskTitle, task.Title)
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindSubtaskAdded,
		Recipients:  task.Team,
		Text:        text,
		CreatedBy:   actorID,
		RelatedTask: task.ID,
		Metadata:    map[string]any{"subtaskTitle": subtaskTitle, "isCompleted": false},
	})
}

func (l Ledger) SubtaskCompleted(ctx context.Context, task domain.Task, subtaskTitle, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("Subtask %q has been completed in task %q.", subtaskTitle, task.Title)
	return l.Create(ctx, CreateOptions{
		Kind:        domain.KindSubtaskCompleted,
		Recipients:  task.Team,
		Text:        text,
		CreatedBy:   actorID,
		RelatedTask: task.ID,
		Metadata:    map[string]any{"subtaskTitle": subtaskTitle, "isCompleted": true},
	})
}

// UserRegistered lands in the admins' feeds only.
func (l Ledger) UserRegistered(ctx context.Context, newUser domain.User, actorID string) (domain.Notification, error) {
	admins, err := l.Repo.ListAdminUserIDs(ctx)
	if err != nil {
		return domain.Notification{}, err
	}
	if len(admins) == 0 {
		admins = []string{actorID}
	}
	text := fmt.Sprintf("New user %q has registered and joined the system.", newUser.Name)
	return l.Create(ctx, CreateOptions{
		Kind:       domain.KindUserRegistered,
		Recipients: admins,
		Text:       text,
		CreatedBy:  actorID,
		Metadata:   map[string]any{"newUserId": newUser.ID, "userName": newUser.Name},
	})
}

// RoleChanged notifies the affected user and the admin who made the change.
func (l Ledger) RoleChanged(ctx context.Context, user domain.User, oldRole, newRole, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("User %q role has been changed from %s to %s.", user.Name, oldRole, newRole)
	return l.Create(ctx, CreateOptions{
		Kind:       domain.KindUserRoleChanged,
		Recipients: []string{user.ID, actorID},
		Text:       text,
		CreatedBy:  actorID,
		Metadata:   map[string]any{"userId": user.ID, "userName": user.Name, "oldRole": oldRole, "newRole": newRole},
	})
}

// UserActivated broadcasts to every active user.
func (l Ledger) UserActivated(ctx context.Context, user domain.User, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("User account %q has been activated.", user.Name)
	return l.CreateSystemWide(ctx, domain.KindUserActivated, text, actorID, "normal",
		map[string]any{"userId": user.ID, "userName": user.Name})
}

// UserDeactivated broadcasts to every active user.
func (l Ledger) UserDeactivated(ctx context.Context, user domain.User, actorID string) (domain.Notification, error) {
	text := fmt.Sprintf("User account %q has been deactivated.", user.Name)
	return l.CreateSystemWide(ctx, domain.KindUserDeactivated, text, actorID, "normal",
		map[string]any{"userId": user.ID, "userName": user.Name})
}

// SystemBroadcast is the generic admin announcement path.
func (l Ledger) SystemBroadcast(ctx context.Context, kind, text, priority, actorID string) (domain.Notification, error) {
	if text == "" {
		text = DefaultText(kind, 0)
	}
	return l.CreateSystemWide(ctx, kind, text, actorID, priority, nil)
}
