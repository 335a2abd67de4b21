package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskdeck/internal/domain"
)

// LatestEvents returns the newest events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events`
	var where []string
	var args []any
	if evtType != "" {
		where = append(where, `type=?`)
		args = append(args, evtType)
	}
	if entityKind != "" {
		where = append(where, `entity_kind=?`)
		args = append(args, entityKind)
	}
	if entityID != "" {
		where = append(where, `entity_id=?`)
		args = append(args, entityID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entity.String
		res = append(res, e)
	}
	return res, rows.Err()
}
