package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jason-s-yu/lobbyd/internal/lobby"
)

// DB is the subset of pgxpool.Pool the archive uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS lobby_activity (
	id            BIGSERIAL PRIMARY KEY,
	lobby_code    TEXT        NOT NULL,
	kind          TEXT        NOT NULL,
	connection_id TEXT,
	players       INT         NOT NULL,
	occurred_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS lobby_activity_code_idx ON lobby_activity (lobby_code);
`

const insertActivity = `
INSERT INTO lobby_activity (lobby_code, kind, connection_id, players, occurred_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5)
`

// Archive appends lobby activity to Postgres. Rows are never read back by the server.
// It implements lobby.ActivitySink.
type Archive struct {
	db DB
}

func NewArchive(db DB) *Archive {
	return &Archive{db: db}
}

// EnsureSchema creates the activity table if it does not exist.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create lobby_activity table: %w", err)
	}
	return nil
}

func (a *Archive) Record(ctx context.Context, act lobby.Activity) error {
	_, err := a.db.Exec(ctx, insertActivity, act.Code, act.Kind, act.ConnectionID, act.Players, act.At)
	if err != nil {
		return fmt.Errorf("insert lobby activity %s/%s: %w", act.Code, act.Kind, err)
	}
	return nil
}

// RecordBatch inserts all records in one transaction. Either every row lands or none does.
func (a *Archive) RecordBatch(ctx context.Context, acts []lobby.Activity) error {
	if len(acts) == 0 {
		return nil
	}
	return beginTxFunc(ctx, a.db, func(tx pgx.Tx) error {
		for _, act := range acts {
			if _, err := tx.Exec(ctx, insertActivity, act.Code, act.Kind, act.ConnectionID, act.Players, act.At); err != nil {
				return fmt.Errorf("insert lobby activity %s/%s: %w", act.Code, act.Kind, err)
			}
		}
		return nil
	})
}

// beginTxFunc starts a transaction, calls f with it, and commits or rolls back as needed.
func beginTxFunc(ctx context.Context, db DB, f func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback error: %v; original error: %w", rbErr, err)
		}
		return err
	}
	return tx.Commit(ctx)
}
