// Package engine holds the write-side logic of the workspace. Every
// mutation runs in one transaction together with its event record; ledger
// notifications fire after commit and never roll the mutation back.
package engine

import (
	"database/sql"
	"log"
	"time"

	"taskdeck/internal/config"
	"taskdeck/internal/domain"
	"taskdeck/internal/events"
	"taskdeck/internal/ledger"
	"taskdeck/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Ledger ledger.Ledger
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	l := ledger.New(db)
	if cfg != nil && cfg.Notifications.ListCap > 0 {
		l.ListCap = cfg.Notifications.ListCap
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Ledger: l,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// notify runs a ledger trigger after the primary mutation committed.
// Failures are logged and swallowed; a missed notification must not undo
// committed work.
func (e Engine) notify(fn func() (domain.Notification, error)) {
	if _, err := fn(); err != nil {
		log.Printf("notification trigger failed: %v", err)
	}
}
