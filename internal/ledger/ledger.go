// Package ledger is the single source of truth for what each user has been
// told and whether they have seen it. Notifications are immutable after
// creation except for the monotonically growing read set and hard deletion.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/domain"
	"taskdeck/internal/events"
	"taskdeck/internal/repo"
)

// DefaultListCap bounds ListForUser responses. There is no pagination
// cursor; older notifications simply fall off.
const DefaultListCap = 50

var (
	ErrForbidden   = errors.New("access denied to this notification")
	ErrAlreadyRead = errors.New("notification already read")
)

type Ledger struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	ListCap int
	Now     func() time.Time
}

func New(db *sql.DB) Ledger {
	return Ledger{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		ListCap: DefaultListCap,
		Now:     time.Now,
	}
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Ledger) listCap() int {
	if l.ListCap > 0 {
		return l.ListCap
	}
	return DefaultListCap
}

// CreateOptions are parameters for inserting a notification. Recipients
// must already be resolved by the caller; the ledger never computes team
// membership itself.
type CreateOptions struct {
	Kind         string
	Recipients   []string
	Text         string
	CreatedBy    string
	Priority     string
	RelatedTask  string
	IsSystemWide bool
	Metadata     map[string]any
}

// Create inserts a notification record. The recipient set is fixed from
// this point on.
func (l Ledger) Create(ctx context.Context, opts CreateOptions) (domain.Notification, error) {
	if opts.Kind == "" {
		opts.Kind = domain.KindTaskAssigned
	}
	if !domain.ValidNotificationKind(opts.Kind) {
		return domain.Notification{}, fmt.Errorf("unknown notification kind %s", opts.Kind)
	}
	if opts.Text == "" {
		return domain.Notification{}, errors.New("notification text is required")
	}
	if len(opts.Recipients) == 0 {
		return domain.Notification{}, errors.New("at least one recipient is required")
	}
	if opts.CreatedBy == "" {
		return domain.Notification{}, errors.New("created_by is required")
	}
	if opts.Priority == "" {
		opts.Priority = "normal"
	}
	switch opts.Priority {
	case "low", "normal", "high", "urgent":
	default:
		return domain.Notification{}, fmt.Errorf("invalid notification priority %s", opts.Priority)
	}
	now := l.now().UTC().Format(time.RFC3339)
	n := domain.Notification{
		ID:           uuid.New().String(),
		Recipients:   dedupe(opts.Recipients),
		Text:         opts.Text,
		Kind:         opts.Kind,
		CreatedBy:    opts.CreatedBy,
		ReadBy:       []string{},
		Priority:     opts.Priority,
		IsSystemWide: opts.IsSystemWide,
		Metadata:     opts.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.RelatedTask != "" {
		n.RelatedTask = &opts.RelatedTask
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Notification{}, err
	}
	defer tx.Rollback()
	if err := l.Repo.InsertNotification(ctx, tx, n); err != nil {
		return domain.Notification{}, err
	}
	if err := l.Events.Append(ctx, tx, "notice.created", "notification", n.ID, n.CreatedBy, events.EventPayload{
		"kind":       n.Kind,
		"recipients": len(n.Recipients),
	}); err != nil {
		return domain.Notification{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// CreateSystemWide snapshots the current active-user set as the recipient
// list. Users activated afterward never gain visibility into this record.
func (l Ledger) CreateSystemWide(ctx context.Context, kind, text, createdBy, priority string, metadata map[string]any) (domain.Notification, error) {
	recipients, err := l.Repo.ListActiveUserIDs(ctx)
	if err != nil {
		return domain.Notification{}, err
	}
	if len(recipients) == 0 {
		return domain.Notification{}, errors.New("no active users to notify")
	}
	return l.Create(ctx, CreateOptions{
		Kind:         kind,
		Recipients:   recipients,
		Text:         text,
		CreatedBy:    createdBy,
		Priority:     priority,
		IsSystemWide: true,
		Metadata:     metadata,
	})
}

// ListForUser returns every notification whose recipients contain userID,
// newest first, truncated to the list cap.
func (l Ledger) ListForUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	return l.Repo.ListNotificationsForUser(ctx, userID, l.listCap())
}

// MarkRead appends userID to the notification's read set. Marking twice is
// reported as ErrAlreadyRead rather than silently succeeding again.
func (l Ledger) MarkRead(ctx context.Context, id, userID string) (domain.Notification, error) {
	n, err := l.Repo.GetNotification(ctx, id)
	if err != nil {
		return domain.Notification{}, err
	}
	// System-wide notifications are markable by anyone who can see them;
	// team-scoped ones require recipient membership.
	if !n.IsSystemWide && !n.HasRecipient(userID) {
		return domain.Notification{}, ErrForbidden
	}
	updatedAt := l.now().UTC().Format(time.RFC3339)
	inserted, err := l.Repo.MarkNotificationRead(ctx, id, userID, updatedAt)
	if err != nil {
		return domain.Notification{}, err
	}
	if !inserted {
		return domain.Notification{}, ErrAlreadyRead
	}
	return l.Repo.GetNotification(ctx, id)
}

// MarkAllRead records a read receipt on every unread notification visible
// to userID and returns the number of records touched. Idempotent per
// record; a crash mid-batch leaves a retryable partial state.
func (l Ledger) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return l.Repo.MarkAllNotificationsRead(ctx, userID)
}

// Delete hard-deletes a notification for all recipients. Team-scoped
// records require recipient membership; system-wide records may be deleted
// by any recipient.
func (l Ledger) Delete(ctx context.Context, id, userID string) error {
	n, err := l.Repo.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if !n.IsSystemWide && !n.HasRecipient(userID) {
		return ErrForbidden
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := l.Repo.DeleteNotification(ctx, tx, id); err != nil {
		return err
	}
	if err := l.Events.Append(ctx, tx, "notice.deleted", "notification", id, userID, events.EventPayload{"kind": n.Kind}); err != nil {
		return err
	}
	return tx.Commit()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
