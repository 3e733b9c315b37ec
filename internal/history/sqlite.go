package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tickforge/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const maxHistoryRows = 10000

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(rec Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO task_history(at, task_id, name, mode, event, execs, step, took_ns, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.At.Format(time.RFC3339Nano), rec.TaskID, nullStr(rec.Name), rec.Mode,
		rec.Event, rec.Execs, rec.Step, rec.Duration.Nanoseconds(), nullStr(rec.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		s.prune()
	}
	return err
}

func (s *sqliteStore) Recent(limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT at, task_id, name, mode, event, execs, step, took_ns, err
		 FROM task_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			at      string
			name    sql.NullString
			errStr  sql.NullString
			tookNS  int64
		)
		if err := rows.Scan(&at, &rec.TaskID, &name, &rec.Mode, &rec.Event, &rec.Execs, &rec.Step, &tookNS, &errStr); err != nil {
			return nil, err
		}
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		rec.Name = name.String
		rec.Error = errStr.String
		rec.Duration = time.Duration(tookNS)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// prune keeps the table bounded; history is a diagnostic aid, not an audit
// log.
func (s *sqliteStore) prune() {
	_, err := s.db.Exec(
		`DELETE FROM task_history
		 WHERE id <= (SELECT MAX(id) FROM task_history) - ?`, maxHistoryRows)
	if err != nil && !s.log.IsZero() {
		s.log.Warn("history prune failed", logx.Err(err))
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
