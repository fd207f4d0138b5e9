package history

import (
	"context"
	"sync"
	"time"

	"notewatch/internal/content"
	"notewatch/pkg/logx"
)

// Store is the in-memory view over a Backend. It loads lazily on first use:
// a missing state means a fresh install (all watermarks zero, success), a
// corrupt state is logged and replaced with defaults so the bot keeps
// delivering rather than halting.
type Store struct {
	backend Backend
	log     logx.Logger

	mu     sync.Mutex
	state  State
	loaded bool
}

func NewStore(backend Backend, log logx.Logger) *Store {
	return &Store{backend: backend, log: log}
}

func (s *Store) ensureLoadedLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true
	st, err := s.backend.Load(ctx)
	if err != nil {
		s.log.Error("state unreadable; starting from empty watermarks", logx.Err(err))
		st = State{}
	}
	if st.Watermarks == nil {
		st.Watermarks = map[content.Category]uint64{}
	}
	s.state = st
}

// LastSeen returns the watermark for a category, 0 if never set.
func (s *Store) LastSeen(cat content.Category) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(context.Background())
	return s.state.Watermarks[cat]
}

// Advance raises the watermark for a category. It never lowers one, so
// watermarks stay non-decreasing no matter what the caller passes.
func (s *Store) Advance(cat content.Category, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(context.Background())
	if id > s.state.Watermarks[cat] {
		s.state.Watermarks[cat] = id
	}
}

func (s *Store) LastAlertAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(context.Background())
	return s.state.LastAlertAt
}

// SetLastAlertAt records when the alert throttle last fired and persists
// immediately, best-effort.
func (s *Store) SetLastAlertAt(ctx context.Context, t time.Time) {
	s.mu.Lock()
	s.ensureLoadedLocked(ctx)
	s.state.LastAlertAt = t
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := s.backend.Save(ctx, snapshot); err != nil {
		s.log.Warn("persist alert mark failed", logx.Err(err))
	}
}

// Persist writes the full state to the backend.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	s.ensureLoadedLocked(ctx)
	snapshot := s.state.clone()
	s.mu.Unlock()
	return s.backend.Save(ctx, snapshot)
}
