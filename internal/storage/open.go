package storage

import (
	"context"
	"errors"
	"strings"

	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

// Store is the minimal persistence API used by the scheduler core.
//
// LoadAgent returns (nil, nil) when no record exists for the agent.
// Both operations are expected to be treated as best-effort by callers.
type Store interface {
	LoadAgent(ctx context.Context, agentID string) (*AgentRecord, error)
	SaveAgent(ctx context.Context, agentID string, rec AgentRecord) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
