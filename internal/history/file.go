package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"notewatch/internal/content"
)

// fileBackend keeps the whole state in one small JSON file and rewrites it
// wholesale on every save. The write goes through a temp file plus rename so
// a crash mid-write never leaves a truncated state behind.
type fileBackend struct {
	mu   sync.Mutex
	path string
}

type fileState struct {
	Watermarks  map[string]uint64 `json:"watermarks"`
	LastAlertAt time.Time         `json:"last_alert_at,omitempty"`
}

func openFile(path string) (Backend, error) {
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	return &fileBackend{path: path}, nil
}

func (b *fileBackend) Load(ctx context.Context) (State, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{Watermarks: map[content.Category]uint64{}}, nil
		}
		return State{}, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return State{Watermarks: map[content.Category]uint64{}}, nil
	}

	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return State{}, fmt.Errorf("unmarshal state: %w", err)
	}

	st := State{Watermarks: map[content.Category]uint64{}, LastAlertAt: fs.LastAlertAt}
	for name, id := range fs.Watermarks {
		cat, err := content.ParseCategory(name)
		if err != nil {
			// Ignore categories this build no longer knows about.
			continue
		}
		st.Watermarks[cat] = id
	}
	return st, nil
}

func (b *fileBackend) Save(ctx context.Context, st State) error {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()

	fs := fileState{Watermarks: make(map[string]uint64, len(st.Watermarks)), LastAlertAt: st.LastAlertAt}
	for cat, id := range st.Watermarks {
		fs.Watermarks[cat.String()] = id
	}

	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if dir := filepath.Dir(b.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("commit state file: %w", err)
	}
	return nil
}

func (b *fileBackend) Close() error { return nil }
