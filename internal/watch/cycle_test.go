package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"notewatch/internal/config"
	"notewatch/internal/content"
	"notewatch/internal/history"
	"notewatch/pkg/logx"
)

type fakeDispatcher struct {
	batches    []content.Batch
	recipients [][]int64
	admin      []string
	sendErr    error
}

func (f *fakeDispatcher) SendBatch(ctx context.Context, recipients []int64, batch content.Batch) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.batches = append(f.batches, batch)
	f.recipients = append(f.recipients, recipients)
	return nil
}

func (f *fakeDispatcher) SendAdmin(ctx context.Context, recipient int64, text string) error {
	f.admin = append(f.admin, text)
	return nil
}

type memBackend struct {
	st    history.State
	saves int
}

func (m *memBackend) Load(ctx context.Context) (history.State, error) { return m.st, nil }
func (m *memBackend) Save(ctx context.Context, st history.State) error {
	m.st = st
	m.saves++
	return nil
}
func (m *memBackend) Close() error { return nil }

func writeTestConfig(t *testing.T, extraWatch string) *config.Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{
  "telegram": {"admin_chat_id": 99, "subscriber_ids": [1, 2]},
  "source": {"base_url": "http://127.0.0.1:1"},
  "watch": {"categories": ["album"]%s},
  "storage": {"path": %q},
  "logging": {"console": false}
}`, extraWatch, filepath.Join(dir, "state.json"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgs := config.NewManager(path, logx.Nop())
	if _, err := cfgs.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfgs
}

func newTestRunner(t *testing.T, cfgs *config.Manager, src content.Source, disp *fakeDispatcher, backend *memBackend, now time.Time) *Runner {
	t.Helper()
	hist := history.NewStore(backend, logx.Nop())
	alerts := NewAlerter(disp, cfgs.AdminChatID, logx.Nop(), AlerterOptions{
		Now: func() time.Time { return now },
	})
	var runner *Runner
	fetcher := NewFetcher(src, logx.Nop(), func(ctx context.Context, cat content.Category, err error) {
		runner.OnCategoryError(ctx, cat, err)
	})
	runner = NewRunner(cfgs, fetcher, hist, disp, alerts, logx.Nop(), RunnerOptions{
		Now: func() time.Time { return now },
	})
	return runner
}

func TestRunCycleDeliversAndAdvancesWatermark(t *testing.T) {
	t.Parallel()
	cfgs := writeTestConfig(t, "")
	src := &fakeSource{pages: map[content.Category][][]content.Item{
		content.CategoryAlbum: {items(content.CategoryAlbum, 120, 110)},
	}}
	disp := &fakeDispatcher{}
	backend := &memBackend{}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	r := newTestRunner(t, cfgs, src, disp, backend, now)

	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}

	if len(disp.batches) != 1 || len(disp.batches[0][content.CategoryAlbum]) != 2 {
		t.Fatalf("batches = %v, want one batch with two album items", disp.batches)
	}
	// Subscribers plus the admin copy.
	want := []int64{1, 2, 99}
	got := disp.recipients[0]
	if len(got) != len(want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recipients = %v, want %v", got, want)
		}
	}
	if backend.saves != 1 {
		t.Fatalf("saves = %d, want state persisted once", backend.saves)
	}
	if wm := backend.st.Watermarks[content.CategoryAlbum]; wm != 120 {
		t.Fatalf("watermark = %d, want 120", wm)
	}
}

func TestRunCycleSkipsOutsideOperatingWindow(t *testing.T) {
	t.Parallel()
	cfgs := writeTestConfig(t, `, "operation_hour_begin": 9, "operation_hour_end": 18`)
	src := &fakeSource{}
	disp := &fakeDispatcher{}
	backend := &memBackend{}
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.Local)
	r := newTestRunner(t, cfgs, src, disp, backend, now)

	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if len(src.calls) != 0 {
		t.Fatal("source must not be queried outside the operating window")
	}
	if len(disp.batches) != 0 || backend.saves != 0 {
		t.Fatal("skipped cycle must have no side effects")
	}
}

func TestRunCycleDeliveryFailureKeepsWatermark(t *testing.T) {
	t.Parallel()
	cfgs := writeTestConfig(t, "")
	src := &fakeSource{pages: map[content.Category][][]content.Item{
		content.CategoryAlbum: {items(content.CategoryAlbum, 120)},
	}}
	disp := &fakeDispatcher{sendErr: errors.New("telegram down")}
	backend := &memBackend{}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	r := newTestRunner(t, cfgs, src, disp, backend, now)

	if err := r.RunCycle(context.Background()); err == nil {
		t.Fatal("expected delivery error to surface")
	}
	if backend.saves != 0 {
		t.Fatal("failed delivery must not persist watermarks")
	}
	if len(disp.admin) != 1 {
		t.Fatalf("admin alerts = %v, want the delivery failure escalated once", disp.admin)
	}
}

func TestRunCycleEmptyBatchSendsNothing(t *testing.T) {
	t.Parallel()
	cfgs := writeTestConfig(t, "")
	src := &fakeSource{}
	disp := &fakeDispatcher{}
	backend := &memBackend{}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	r := newTestRunner(t, cfgs, src, disp, backend, now)

	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if len(disp.batches) != 0 || len(disp.admin) != 0 || backend.saves != 0 {
		t.Fatal("an empty batch must be a quiet no-op")
	}
}

func TestRunCycleBrokenConfigAlwaysAlerts(t *testing.T) {
	t.Parallel()
	cfgs := writeTestConfig(t, "")
	if err := os.WriteFile(cfgs.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}
	disp := &fakeDispatcher{}
	backend := &memBackend{}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	r := newTestRunner(t, cfgs, &fakeSource{}, disp, backend, now)

	// Config failures bypass the throttle: every broken cycle escalates.
	if err := r.RunCycle(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if err := r.RunCycle(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if len(disp.admin) != 2 {
		t.Fatalf("admin alerts = %v, want one per broken cycle", disp.admin)
	}
}

func TestRunCyclePerCategoryFailureStillDeliversRest(t *testing.T) {
	t.Parallel()
	cfgs := writeTestConfig(t, "")
	src := &fakeSource{
		pages: map[content.Category][][]content.Item{
			content.CategoryAlbum: {items(content.CategoryAlbum, 50)},
		},
	}
	disp := &fakeDispatcher{}
	backend := &memBackend{}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	r := newTestRunner(t, cfgs, src, disp, backend, now)

	// Make report fail on page 1 and monitor both categories.
	src.errs = map[fetchCall]error{{cat: content.CategoryReport, page: 1}: errors.New("boom")}
	rewriteCategories(t, cfgs.Path(), `["report", "album"]`)

	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if len(disp.batches) != 1 || len(disp.batches[0][content.CategoryAlbum]) != 1 {
		t.Fatalf("batches = %v, want the album delivery to survive", disp.batches)
	}
	if len(disp.admin) != 1 {
		t.Fatalf("admin alerts = %v, want the report failure escalated", disp.admin)
	}
	if wm := backend.st.Watermarks[content.CategoryReport]; wm != 0 {
		t.Fatalf("failed category watermark = %d, want untouched", wm)
	}
}

func rewriteCategories(t *testing.T, path, cats string) {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	out := bytes.Replace(b, []byte(`"categories": ["album"]`), []byte(`"categories": `+cats), 1)
	if bytes.Equal(out, b) {
		t.Fatal("categories stanza not found")
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
