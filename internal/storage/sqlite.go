//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
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

func (s *sqliteStore) LoadAgent(ctx context.Context, agentID string) (*AgentRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	id := strings.TrimSpace(agentID)
	if id == "" {
		return nil, errors.New("agent id is empty")
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM agent_state WHERE agent_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec AgentRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *sqliteStore) SaveAgent(ctx context.Context, agentID string, rec AgentRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	id := strings.TrimSpace(agentID)
	if id == "" {
		return errors.New("agent id is empty")
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_state(agent_id, record, saved_at) VALUES(?,?,?)
		 ON CONFLICT(agent_id) DO UPDATE SET record=excluded.record, saved_at=excluded.saved_at`,
		id, string(doc), rec.SavedAt.Format(time.RFC3339Nano),
	)
	return err
}
