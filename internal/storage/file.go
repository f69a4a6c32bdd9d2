package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Layout: <dir>/<agent>.json, one document per agent. Writes go through a
// temp file + rename so a crash mid-write never corrupts the previous record.
type fileStore struct {
	log logx.Logger
	dir string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadAgent(ctx context.Context, agentID string) (*AgentRecord, error) {
	_ = ctx
	path, err := s.agentPath(agentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec AgentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *fileStore) SaveAgent(ctx context.Context, agentID string, rec AgentRecord) error {
	_ = ctx
	path, err := s.agentPath(agentID)
	if err != nil {
		return err
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// agentPath maps an agent id onto a file path, rejecting ids that would
// escape the storage directory.
func (s *fileStore) agentPath(agentID string) (string, error) {
	id := strings.TrimSpace(agentID)
	if id == "" {
		return "", errors.New("agent id is empty")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return "", errors.New("invalid agent id: " + agentID)
	}
	return filepath.Join(s.dir, id+".json"), nil
}
