package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"notewatch/internal/content"
	"notewatch/pkg/logx"
)

func TestFileBackendFreshInstall(t *testing.T) {
	t.Parallel()
	b, err := openFile(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("openFile error: %v", err)
	}
	st, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load on missing file must succeed, got %v", err)
	}
	if len(st.Watermarks) != 0 {
		t.Fatalf("watermarks = %v, want empty", st.Watermarks)
	}
}

func TestFileBackendRoundtrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	b, err := openFile(path)
	if err != nil {
		t.Fatalf("openFile error: %v", err)
	}

	alertAt := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	in := State{
		Watermarks: map[content.Category]uint64{
			content.CategoryAlbum:  120,
			content.CategoryNotice: 5,
		},
		LastAlertAt: alertAt,
	}
	if err := b.Save(context.Background(), in); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	out, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if out.Watermarks[content.CategoryAlbum] != 120 || out.Watermarks[content.CategoryNotice] != 5 {
		t.Fatalf("watermarks = %v", out.Watermarks)
	}
	if !out.LastAlertAt.Equal(alertAt) {
		t.Fatalf("LastAlertAt = %v, want %v", out.LastAlertAt, alertAt)
	}
}

func TestFileBackendCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := openFile(path)
	if err != nil {
		t.Fatalf("openFile error: %v", err)
	}
	if _, err := b.Load(context.Background()); err == nil {
		t.Fatal("expected error for corrupt state")
	}
}

func TestFileBackendIgnoresUnknownCategories(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	body := `{"watermarks": {"album": 7, "retired_category": 99}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := openFile(path)
	if err != nil {
		t.Fatalf("openFile error: %v", err)
	}
	st, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if st.Watermarks[content.CategoryAlbum] != 7 {
		t.Fatalf("album watermark = %d, want 7", st.Watermarks[content.CategoryAlbum])
	}
	if len(st.Watermarks) != 1 {
		t.Fatalf("watermarks = %v, unknown category must be dropped", st.Watermarks)
	}
}

func TestStoreDefaultsOnUnreadableState(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := openFile(path)
	if err != nil {
		t.Fatalf("openFile error: %v", err)
	}

	// A corrupt state degrades to empty watermarks instead of halting.
	s := NewStore(b, logx.Nop())
	if got := s.LastSeen(content.CategoryReport); got != 0 {
		t.Fatalf("LastSeen = %d, want 0", got)
	}
}

func TestStoreAdvanceIsMonotone(t *testing.T) {
	t.Parallel()
	b, err := openFile(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("openFile error: %v", err)
	}
	s := NewStore(b, logx.Nop())

	s.Advance(content.CategoryAlbum, 100)
	s.Advance(content.CategoryAlbum, 50)
	if got := s.LastSeen(content.CategoryAlbum); got != 100 {
		t.Fatalf("LastSeen = %d, watermark must never go backwards", got)
	}

	s.Advance(content.CategoryAlbum, 150)
	if got := s.LastSeen(content.CategoryAlbum); got != 150 {
		t.Fatalf("LastSeen = %d, want 150", got)
	}
}

func TestStorePersistSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	b, err := openFile(path)
	if err != nil {
		t.Fatalf("openFile error: %v", err)
	}
	s := NewStore(b, logx.Nop())
	s.Advance(content.CategoryMenu, 42)
	if err := s.Persist(context.Background()); err != nil {
		t.Fatalf("Persist error: %v", err)
	}

	b2, err := openFile(path)
	if err != nil {
		t.Fatalf("openFile error: %v", err)
	}
	s2 := NewStore(b2, logx.Nop())
	if got := s2.LastSeen(content.CategoryMenu); got != 42 {
		t.Fatalf("LastSeen after reopen = %d, want 42", got)
	}
}
