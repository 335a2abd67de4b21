package server

import (
	"encoding/json"

	"taskdeck/internal/domain"
)

// Request payloads

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
	Title    string `json:"title,omitempty"`
	Role     string `json:"role,omitempty" enum:"Admin,Manager,Developer,Designer,Analyst"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	// SuperKey must match the configured admin super key when requesting
	// an admin account on a workspace that already has users.
	SuperKey string `json:"super_key,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type UpdateProfileRequest struct {
	Name   *string `json:"name,omitempty"`
	Title  *string `json:"title,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
}

type AdminUpdateUserRequest struct {
	Name     *string `json:"name,omitempty"`
	Title    *string `json:"title,omitempty"`
	Role     *string `json:"role,omitempty" enum:"Admin,Manager,Developer,Designer,Analyst"`
	IsAdmin  *bool   `json:"is_admin,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type CreateTaskRequest struct {
	Title    string   `json:"title"`
	Date     string   `json:"date,omitempty" format:"date-time"`
	Priority string   `json:"priority,omitempty" enum:"high,medium,normal,low"`
	Stage    string   `json:"stage,omitempty" enum:"todo,in progress,completed"`
	Team     []string `json:"team"`
	Assets   []string `json:"assets,omitempty"`
}

type UpdateTaskRequest struct {
	Title    *string  `json:"title,omitempty"`
	Date     *string  `json:"date,omitempty" format:"date-time"`
	Priority *string  `json:"priority,omitempty" enum:"high,medium,normal,low"`
	Stage    *string  `json:"stage,omitempty" enum:"todo,in progress,completed"`
	Team     []string `json:"team,omitempty"`
}

type CreateSubTaskRequest struct {
	Title string `json:"title"`
	Date  string `json:"date,omitempty" format:"date-time"`
	Tag   string `json:"tag,omitempty"`
}

type PostActivityRequest struct {
	Type     string `json:"type" enum:"started,commented,assigned,in progress,bug,completed"`
	Activity string `json:"activity"`
}

type SystemNoticeRequest struct {
	Kind     string         `json:"kind" enum:"system_maintenance,system_update,new_feature,announcement"`
	Text     string         `json:"text"`
	Priority string         `json:"priority,omitempty" enum:"low,normal,high,urgent"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Title     string `json:"title,omitempty"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
	IsAdmin   bool   `json:"is_admin"`
	Avatar    string `json:"avatar,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type TaskResponse struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Date       string             `json:"date" format:"date-time"`
	Priority   string             `json:"priority" enum:"high,medium,normal,low"`
	Stage      string             `json:"stage" enum:"todo,in progress,completed"`
	Team       []string           `json:"team"`
	Assets     []string           `json:"assets,omitempty"`
	IsTrashed  bool               `json:"is_trashed"`
	Activities []ActivityResponse `json:"activities,omitempty"`
	SubTasks   []SubTaskResponse  `json:"sub_tasks,omitempty"`
	CreatedAt  string             `json:"created_at" format:"date-time"`
	UpdatedAt  string             `json:"updated_at" format:"date-time"`
}

type ActivityResponse struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Activity string `json:"activity"`
	ByID     string `json:"by_id"`
	Date     string `json:"date" format:"date-time"`
}

type SubTaskResponse struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Date      string `json:"date,omitempty" format:"date-time"`
	Tag       string `json:"tag,omitempty"`
	Completed bool   `json:"completed"`
}

type NotificationResponse struct {
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

type MarkAllReadResponse struct {
	Marked int64 `json:"marked"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Conversion helpers

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Title:     u.Title,
		Role:      u.Role,
		IsActive:  u.IsActive,
		IsAdmin:   u.IsAdmin,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func mapUsers(in []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(in))
	for _, u := range in {
		out = append(out, userResponse(u))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	res := TaskResponse{
		ID:        t.ID,
		Title:     t.Title,
		Date:      t.Date,
		Priority:  t.Priority,
		Stage:     t.Stage,
		Team:      nonNilSlice(t.Team),
		Assets:    t.Assets,
		IsTrashed: t.IsTrashed,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	for _, a := range t.Activities {
		res.Activities = append(res.Activities, ActivityResponse{
			ID: a.ID, Type: a.Type, Activity: a.Activity, ByID: a.ByID, Date: a.Date,
		})
	}
	for _, s := range t.SubTasks {
		res.SubTasks = append(res.SubTasks, SubTaskResponse{
			ID: s.ID, Title: s.Title, Date: s.Date, Tag: s.Tag, Completed: s.Completed,
		})
	}
	return res
}

func mapTasks(in []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(in))
	for _, t := range in {
		out = append(out, taskResponse(t))
	}
	return out
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:           n.ID,
		Recipients:   nonNilSlice(n.Recipients),
		Text:         n.Text,
		RelatedTask:  n.RelatedTask,
		Kind:         n.Kind,
		CreatedBy:    n.CreatedBy,
		ReadBy:       nonNilSlice(n.ReadBy),
		Priority:     n.Priority,
		IsSystemWide: n.IsSystemWide,
		Metadata:     n.Metadata,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}

func mapNotifications(in []domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(in))
	for _, n := range in {
		out = append(out, notificationResponse(n))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	return tmp
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
