// Package history tracks the last-seen item id per content category and the
// timestamp of the last administrative alert, and persists both so restarts
// never re-notify already delivered items.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"notewatch/internal/content"
	"notewatch/pkg/logx"
)

// State is the full persisted snapshot. Watermarks default to 0, meaning
// nothing observed yet for that category.
type State struct {
	Watermarks  map[content.Category]uint64
	LastAlertAt time.Time
}

func (s State) clone() State {
	cp := State{LastAlertAt: s.LastAlertAt, Watermarks: make(map[content.Category]uint64, len(s.Watermarks))}
	for k, v := range s.Watermarks {
		cp.Watermarks[k] = v
	}
	return cp
}

// Backend is durable storage for State. Load on a fresh install returns a
// zero State and a nil error; only a present-but-unreadable state is an error.
type Backend interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
	Close() error
}

type Config struct {
	Driver string // "file" (default) or "sqlite"
	Path   string
}

// Open selects a backend by driver name.
func Open(cfg Config, log logx.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg.Path)
	case "sqlite":
		return openSqlite(cfg.Path)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
