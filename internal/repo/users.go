package repo

import (
	"context"
	"database/sql"

	"taskdeck/internal/domain"
)

const userColumns = `id,name,email,password_hash,COALESCE(title,''),role,is_active,is_admin,COALESCE(avatar,''),created_at,updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	var active, admin int
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Title, &u.Role, &active, &admin, &u.Avatar, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.IsActive = active != 0
	u.IsAdmin = admin != 0
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO users(id,name,email,password_hash,title,role,is_active,is_admin,avatar,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Title, u.Role, boolInt(u.IsActive), boolInt(u.IsAdmin), nullable(u.Avatar), u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
}

// ListActiveUserIDs snapshots the ids of every active user. System-wide
// notifications store this set as their recipient list at creation time.
func (r Repo) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM users WHERE is_active=1`)
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

// ListAdminUserIDs returns ids of active admins.
func (r Repo) ListAdminUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM users WHERE is_admin=1 AND is_active=1`)
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

// ListTeammates returns the active users sharing at least one non-trashed
// task with userID (including the user).
func (r Repo) ListTeammates(ctx context.Context, userID string) ([]domain.User, error) {
	return r.queryUsers(ctx, `SELECT DISTINCT `+prefixedUserColumns("u")+` FROM users u
		JOIN task_team tt ON tt.user_id=u.id
		JOIN tasks t ON t.id=tt.task_id AND t.is_trashed=0
		WHERE u.is_active=1 AND tt.task_id IN (SELECT task_id FROM task_team WHERE user_id=?)
		ORDER BY u.created_at DESC`, userID)
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE users SET name=?,email=?,title=?,role=?,is_active=?,is_admin=?,avatar=?,updated_at=? WHERE id=?`,
		u.Name, u.Email, u.Title, u.Role, boolInt(u.IsActive), boolInt(u.IsAdmin), nullable(u.Avatar), u.UpdatedAt, u.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetUserPassword(ctx context.Context, id, passwordHash, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET password_hash=?,updated_at=? WHERE id=?`, passwordHash, updatedAt, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteUser(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UsersExist reports whether every id resolves to a user row.
func (r Repo) UsersExist(ctx context.Context, ids []string) (bool, error) {
	for _, id := range ids {
		var one int
		err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r Repo) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func prefixedUserColumns(alias string) string {
	return alias + `.id,` + alias + `.name,` + alias + `.email,` + alias + `.password_hash,COALESCE(` + alias + `.title,''),` +
		alias + `.role,` + alias + `.is_active,` + alias + `.is_admin,COALESCE(` + alias + `.avatar,''),` +
		alias + `.created_at,` + alias + `.updated_at`
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
