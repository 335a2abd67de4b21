package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"taskdeck/internal/domain"
)

func scanNotification(row interface{ Scan(...any) error }) (domain.Notification, error) {
	var n domain.Notification
	var relatedTask sql.NullString
	var systemWide int
	var metadataJSON string
	err := row.Scan(&n.ID, &n.Text, &relatedTask, &n.Kind, &n.CreatedBy, &n.Priority, &systemWide, &metadataJSON, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if relatedTask.Valid {
		n.RelatedTask = &relatedTask.String
	}
	n.IsSystemWide = systemWide != 0
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &n.Metadata); err != nil {
			return n, fmt.Errorf("notification %s metadata: %w", n.ID, err)
		}
	}
	return n, nil
}

const notificationColumns = `id,text,related_task,kind,created_by,priority,is_system_wide,metadata_json,created_at,updated_at`

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal notification metadata: %w", err)
	}
	var relatedTask any
	if n.RelatedTask != nil {
		relatedTask = *n.RelatedTask
	}
	if _, err := exec(ctx, `INSERT INTO notifications(id,text,related_task,kind,created_by,priority,is_system_wide,metadata_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.Text, relatedTask, n.Kind, n.CreatedBy, n.Priority, boolInt(n.IsSystemWide), string(metadataJSON), n.CreatedAt, n.UpdatedAt); err != nil {
		return err
	}
	for _, userID := range n.Recipients {
		if _, err := exec(ctx, `INSERT OR IGNORE INTO notification_recipients(notification_id,user_id) VALUES (?,?)`, n.ID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	n, err := scanNotification(r.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id))
	if err != nil {
		return n, err
	}
	if n.Recipients, err = r.listMembers(ctx, `notification_recipients`, id); err != nil {
		return n, err
	}
	if n.ReadBy, err = r.listMembers(ctx, `notification_reads`, id); err != nil {
		return n, err
	}
	return n, nil
}

// ListNotificationsForUser returns the notifications visible to userID,
// newest first, truncated to cap. Team-scoped and system-wide records are
// served by the same recipient index: a system-wide notification stored its
// recipient snapshot at creation time.
func (r Repo) ListNotificationsForUser(ctx context.Context, userID string, cap int) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE id IN (SELECT notification_id FROM notification_recipients WHERE user_id=?)
		ORDER BY created_at DESC, id LIMIT ?`, userID, cap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Recipients, err = r.listMembers(ctx, `notification_recipients`, res[i].ID); err != nil {
			return nil, err
		}
		if res[i].ReadBy, err = r.listMembers(ctx, `notification_reads`, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// MarkNotificationRead appends userID to the read set. The conditional
// insert is atomic at the storage layer, so concurrent calls for the same
// pair cannot lose updates; the second caller simply inserts nothing.
// Returns true when the read receipt was newly recorded.
func (r Repo) MarkNotificationRead(ctx context.Context, id, userID, updatedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO notification_reads(notification_id,user_id) VALUES (?,?)`, id, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	_, err = r.DB.ExecContext(ctx, `UPDATE notifications SET updated_at=? WHERE id=?`, updatedAt, id)
	return true, err
}

// MarkAllNotificationsRead records a read receipt for every notification
// where userID is a recipient and has not read yet, as one bulk conditional
// insert. Safe to retry; a second call inserts nothing.
func (r Repo) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO notification_reads(notification_id,user_id)
		SELECT notification_id, ? FROM notification_recipients WHERE user_id=?`, userID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteNotification hard-deletes the record for every recipient; the read
// history goes with it.
func (r Repo) DeleteNotification(ctx context.Context, tx *sql.Tx, id string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `DELETE FROM notifications WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) listMembers(ctx context.Context, table, notificationID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM `+table+` WHERE notification_id=? ORDER BY user_id`, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
