package synclog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	logsFileName    = "sync-logs.json"
	historyFileName = "sync-history.json"
)

// FileStore keeps both lists as JSON arrays in a directory. It serializes
// writers within one process only.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("synclog: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) AppendLogs(_ context.Context, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []LogEntry
	if err := s.read(logsFileName, &existing); err != nil {
		return err
	}
	return s.write(logsFileName, prepend(entries, existing))
}

func (s *FileStore) Logs(_ context.Context) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := []LogEntry{}
	if err := s.read(logsFileName, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *FileStore) AppendHistory(_ context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []HistoryEntry
	if err := s.read(historyFileName, &existing); err != nil {
		return err
	}
	return s.write(historyFileName, prepend([]HistoryEntry{entry}, existing))
}

func (s *FileStore) History(_ context.Context) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := []HistoryEntry{}
	if err := s.read(historyFileName, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *FileStore) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("synclog: read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("synclog: decode %s: %w", name, err)
	}
	return nil
}

// write replaces the file atomically via a temp file in the same directory.
func (s *FileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("synclog: encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("synclog: temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("synclog: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("synclog: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("synclog: replace %s: %w", name, err)
	}
	return nil
}
