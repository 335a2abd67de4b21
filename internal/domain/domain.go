package domain

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Title     string `json:"title,omitempty"`
	Role      string `json:"role" enum:"Admin,Manager,Developer,Designer,Analyst"`
	IsActive  bool   `json:"is_active"`
	IsAdmin   bool   `json:"is_admin"`
	Avatar    string `json:"avatar,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`

	// PasswordHash never leaves the repo layer.
	PasswordHash string `json:"-"`
}

type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Date       string     `json:"date" format:"date-time"`
	Priority   string     `json:"priority" enum:"high,medium,normal,low"`
	Stage      string     `json:"stage" enum:"todo,in progress,completed"`
	Team       []string   `json:"team"`
	Assets     []string   `json:"assets,omitempty"`
	IsTrashed  bool       `json:"is_trashed"`
	Activities []Activity `json:"activities,omitempty"`
	SubTasks   []SubTask  `json:"sub_tasks,omitempty"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
	UpdatedAt  string     `json:"updated_at" format:"date-time"`
}

type Activity struct {
	ID       int64  `json:"id"`
	TaskID   string `json:"task_id"`
	Type     string `json:"type" enum:"started,commented,assigned,in progress,bug,completed"`
	Activity string `json:"activity"`
	ByID     string `json:"by_id"`
	Date     string `json:"date" format:"date-time"`
}

type SubTask struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	Date      string `json:"date,omitempty" format:"date-time"`
	Tag       string `json:"tag,omitempty"`
	Completed bool   `json:"completed"`
}

// Notification kinds form a closed set; creation rejects anything else.
const (
	KindTaskAssigned        = "task_assigned"
	KindTaskCompleted       = "task_completed"
	KindTaskTrashed         = "task_trashed"
	KindTaskRestored        = "task_restored"
	KindTeamAdded           = "team_added"
	KindTaskUpdated         = "task_updated"
	KindTaskStarted         = "task_started"
	KindTaskDuplicated      = "task_duplicated"
	KindTaskPriorityChanged = "task_priority_changed"
	KindTaskDeadlineChanged = "task_deadline_changed"
	KindUserRegistered      = "user_registered"
	KindUserRoleChanged     = "user_role_changed"
	KindUserDeactivated     = "user_deactivated"
	KindUserActivated       = "user_activated"
	KindSystemMaintenance   = "system_maintenance"
	KindSystemUpdate        = "system_update"
	KindNewFeature          = "new_feature"
	KindAnnouncement        = "announcement"
	KindCommentAdded        = "comment_added"
	KindSubtaskAdded        = "subtask_added"
	KindSubtaskCompleted    = "subtask_completed"
	KindFileUploaded        = "file_uploaded"
)

var NotificationKinds = []string{
	KindTaskAssigned, KindTaskCompleted, KindTaskTrashed, KindTaskRestored,
	KindTeamAdded, KindTaskUpdated, KindTaskStarted, KindTaskDuplicated,
	KindTaskPriorityChanged, KindTaskDeadlineChanged,
	KindUserRegistered, KindUserRoleChanged, KindUserDeactivated, KindUserActivated,
	KindSystemMaintenance, KindSystemUpdate, KindNewFeature, KindAnnouncement,
	KindCommentAdded, KindSubtaskAdded, KindSubtaskCompleted, KindFileUploaded,
}

func ValidNotificationKind(kind string) bool {
	for _, k := range NotificationKinds {
		if k == kind {
			return true
		}
	}
	return false
}

type Notification struct {
	ID           string         `json:"id"`
	Recipients   []string       `json:"recipients"`
	Text         string         `json:"text"`
	RelatedTask  *string        `json:"related_task,omitempty"`
	Kind         string         `json:"kind"`
	CreatedBy    string         `json:"created_by"`
	ReadBy       []string       `json:"read_by"`
	Priority     string         `json:"priority" enum:"low,normal,high,urgent"`
	IsSystemWide bool           `json:"is_system_wide"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

// HasRecipient reports whether userID can see the notification.
func (n Notification) HasRecipient(userID string) bool {
	for _, id := range n.Recipients {
		if id == userID {
			return true
		}
	}
	return false
}

// ReadByUser reports whether userID already acknowledged the notification.
func (n Notification) ReadByUser(userID string) bool {
	for _, id := range n.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
