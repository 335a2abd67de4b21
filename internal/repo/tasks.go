package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskdeck/internal/domain"
)

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,date,priority,stage,is_trashed,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Date, t.Priority, t.Stage, boolInt(t.IsTrashed), t.CreatedAt, t.UpdatedAt); err != nil {
		return err
	}
	for _, userID := range t.Team {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_team(task_id,user_id) VALUES (?,?)`, t.ID, userID); err != nil {
			return err
		}
	}
	for _, asset := range t.Assets {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_assets(task_id,asset) VALUES (?,?)`, t.ID, asset); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	var trashed int
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,date,priority,stage,is_trashed,created_at,updated_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.Title, &t.Date, &t.Priority, &t.Stage, &trashed, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.IsTrashed = trashed != 0
	if t.Team, err = r.listTaskTeam(ctx, id); err != nil {
		return t, err
	}
	if t.Assets, err = r.listTaskAssets(ctx, id); err != nil {
		return t, err
	}
	if t.Activities, err = r.ListActivities(ctx, id); err != nil {
		return t, err
	}
	if t.SubTasks, err = r.ListSubTasks(ctx, id); err != nil {
		return t, err
	}
	return t, nil
}

// TaskFilter narrows ListTasks. Zero values mean "no filter"; Trashed nil
// means "exclude trashed" (the default view).
type TaskFilter struct {
	Stage    string
	Priority string
	Search   string
	Trashed  *bool
	// MemberID restricts to tasks whose team contains the user.
	MemberID string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	query := `SELECT id,title,date,priority,stage,is_trashed,created_at,updated_at FROM tasks`
	var where []string
	var args []any
	if f.Stage != "" {
		where = append(where, `stage=?`)
		args = append(args, f.Stage)
	}
	if f.Priority != "" {
		where = append(where, `priority=?`)
		args = append(args, f.Priority)
	}
	if f.Trashed != nil {
		where = append(where, `is_trashed=?`)
		args = append(args, boolInt(*f.Trashed))
	} else {
		where = append(where, `is_trashed=0`)
	}
	if f.Search != "" {
		where = append(where, `title LIKE ? COLLATE NOCASE`)
		args = append(args, "%"+f.Search+"%")
	}
	if f.MemberID != "" {
		where = append(where, `id IN (SELECT task_id FROM task_team WHERE user_id=?)`)
		args = append(args, f.MemberID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var trashed int
		if err := rows.Scan(&t.ID, &t.Title, &t.Date, &t.Priority, &t.Stage, &trashed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.IsTrashed = trashed != 0
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Team, err = r.listTaskTeam(ctx, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,date=?,priority=?,stage=?,is_trashed=?,updated_at=? WHERE id=?`,
		t.Title, t.Date, t.Priority, t.Stage, boolInt(t.IsTrashed), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ReplaceTaskTeam(ctx context.Context, tx *sql.Tx, taskID string, team []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_team WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, userID := range team {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_team(task_id,user_id) VALUES (?,?)`, taskID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) SetTaskTrashed(ctx context.Context, tx *sql.Tx, taskID string, trashed bool, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET is_trashed=?,updated_at=? WHERE id=?`, boolInt(trashed), updatedAt, taskID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AddActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO task_activities(task_id,type,activity,by_id,date) VALUES (?,?,?,?,?)`,
		a.TaskID, a.Type, a.Activity, a.ByID, a.Date)
	return err
}

func (r Repo) ListActivities(ctx context.Context, taskID string) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,type,activity,by_id,date FROM task_activities WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Type, &a.Activity, &a.ByID, &a.Date); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) AddSubTask(ctx context.Context, tx *sql.Tx, s domain.SubTask) (int64, error) {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `INSERT INTO task_subtasks(task_id,title,date,tag,completed) VALUES (?,?,?,?,?)`,
		s.TaskID, s.Title, nullable(s.Date), nullable(s.Tag), boolInt(s.Completed))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetSubTask(ctx context.Context, taskID string, subtaskID int64) (domain.SubTask, error) {
	var s domain.SubTask
	var date, tag sql.NullString
	var completed int
	err := r.DB.QueryRowContext(ctx, `SELECT id,task_id,title,date,tag,completed FROM task_subtasks WHERE id=? AND task_id=?`, subtaskID, taskID).
		Scan(&s.ID, &s.TaskID, &s.Title, &date, &tag, &completed)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Date = date.String
	s.Tag = tag.String
	s.Completed = completed != 0
	return s, nil
}

func (r Repo) CompleteSubTask(ctx context.Context, tx *sql.Tx, taskID string, subtaskID int64) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE task_subtasks SET completed=1 WHERE id=? AND task_id=?`, subtaskID, taskID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListSubTasks(ctx context.Context, taskID string) ([]domain.SubTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,title,date,tag,completed FROM task_subtasks WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubTask
	for rows.Next() {
		var s domain.SubTask
		var date, tag sql.NullString
		var completed int
		if err := rows.Scan(&s.ID, &s.TaskID, &s.Title, &date, &tag, &completed); err != nil {
			return nil, err
		}
		s.Date = date.String
		s.Tag = tag.String
		s.Completed = completed != 0
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountTasksBy groups non-trashed tasks by the given column (stage or
// priority), optionally restricted to a team member.
func (r Repo) CountTasksBy(ctx context.Context, column, memberID string) (map[string]int, error) {
	if column != "stage" && column != "priority" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + column + `, COUNT(*) FROM tasks WHERE is_trashed=0`
	var args []any
	if memberID != "" {
		query += ` AND id IN (SELECT task_id FROM task_team WHERE user_id=?)`
		args = append(args, memberID)
	}
	query += ` GROUP BY ` + column
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func (r Repo) listTaskTeam(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM task_team WHERE task_id=? ORDER BY user_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) listTaskAssets(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT asset FROM task_assets WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assets []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
