package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"notewatch/internal/content"
	"notewatch/pkg/logx"
)

const validJSON = `{
  "telegram": {"admin_chat_id": 5, "subscriber_ids": [10, 20]},
  "source": {"base_url": "https://api.example.test"},
  "watch": {"categories": ["notice", "album", "album"], "days": "weekdays", "check_at": "08:15"},
  "storage": {"path": "/tmp/state.json"},
  "logging": {"console": true}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestManagerLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", validJSON), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.AdminChatID != 5 || len(cfg.Telegram.SubscriberIDs) != 2 {
		t.Fatalf("telegram section = %+v", cfg.Telegram)
	}
	if cfg.Watch.Days != "weekdays" || cfg.Watch.CheckAt != "08:15" {
		t.Fatalf("watch section = %+v", cfg.Watch)
	}
	if m.AdminChatID() != 5 {
		t.Fatalf("AdminChatID = %d", m.AdminChatID())
	}
}

func TestManagerLoadYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  admin_chat_id: 5
  subscriber_ids: [10]
source:
  base_url: https://api.example.test
watch:
  categories: [notice]
storage:
  path: /tmp/state.json
logging:
  console: true
`
	m := NewManager(writeFile(t, "config.yaml", body), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Source.BaseURL != "https://api.example.test" {
		t.Fatalf("base_url = %q", cfg.Source.BaseURL)
	}
}

func TestManagerRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	body := `{"telegram": {}, "source": {"base_url": "x"}, "watch": {"categories": []},
  "storage": {"path": "p"}, "logging": {"console": false}, "tipo": true}`
	m := NewManager(writeFile(t, "config.json", body), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestManagerRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", validJSON+`{"again": true}`), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}
}

func TestManagerEnvTokenOverride(t *testing.T) {
	t.Setenv(EnvTelegramToken, "tg-secret")
	t.Setenv(EnvSourceToken, "src-secret")

	m := NewManager(writeFile(t, "config.json", validJSON), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "tg-secret" || cfg.Source.Token != "src-secret" {
		t.Fatalf("tokens not filled from env: %+v", cfg.Source)
	}
}

func TestManagerAddRemoveSubscriber(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", validJSON)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if err := m.AddSubscriber(30); err != nil {
		t.Fatalf("AddSubscriber error: %v", err)
	}
	if err := m.AddSubscriber(30); err != nil {
		t.Fatalf("duplicate AddSubscriber error: %v", err)
	}
	if err := m.RemoveSubscriber(10); err != nil {
		t.Fatalf("RemoveSubscriber error: %v", err)
	}

	// The change must survive a fresh read of the rewritten file.
	m2 := NewManager(path, logx.Nop())
	cfg, err := m2.Load()
	if err != nil {
		t.Fatalf("reload after rewrite: %v", err)
	}
	want := []int64{20, 30}
	got := cfg.Telegram.SubscriberIDs
	if len(got) != len(want) {
		t.Fatalf("subscribers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("subscribers = %v, want %v", got, want)
		}
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	base := func() Config {
		return Config{
			Source:  SourceConfig{BaseURL: "https://x"},
			Watch:   WatchConfig{Categories: []string{"notice"}},
			Storage: StorageConfig{Path: "p"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Source.BaseURL = " " }},
		{"unknown category", func(c *Config) { c.Watch.Categories = []string{"gossip"} }},
		{"bad days", func(c *Config) { c.Watch.Days = "sometimes" }},
		{"bad check_at", func(c *Config) { c.Watch.CheckAt = "9am" }},
		{"hour out of range", func(c *Config) { c.Watch.OperationHourEnd = 24 }},
		{"bad timezone", func(c *Config) { c.Watch.Timezone = "Mars/Olympus" }},
		{"bad duration", func(c *Config) { c.Source.Timeout = "fast" }},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid base config rejected: %v", err)
	}
}

func TestWithinWindow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		begin, end int
		hour       int
		want       bool
	}{
		{"unbounded", 0, 0, 3, true},
		{"inside", 9, 18, 12, true},
		{"at lower edge", 9, 18, 9, true},
		{"at upper edge", 9, 18, 18, true},
		{"before window", 9, 18, 8, false},
		{"after window", 9, 18, 20, false},
		{"only lower bound", 9, 0, 23, true},
		{"only lower bound too early", 9, 0, 5, false},
		{"only upper bound", 0, 18, 2, true},
		{"only upper bound too late", 0, 18, 19, false},
	}
	for _, tt := range tests {
		w := WatchConfig{OperationHourBegin: tt.begin, OperationHourEnd: tt.end}
		if got := w.WithinWindow(tt.hour); got != tt.want {
			t.Fatalf("%s: WithinWindow(%d) = %v, want %v", tt.name, tt.hour, got, tt.want)
		}
	}
}

func TestCategoryListDeduplicates(t *testing.T) {
	t.Parallel()
	w := WatchConfig{Categories: []string{"album", "Notice", "album"}}
	cats, err := w.CategoryList()
	if err != nil {
		t.Fatalf("CategoryList error: %v", err)
	}
	if len(cats) != 2 || cats[0] != content.CategoryAlbum || cats[1] != content.CategoryNotice {
		t.Fatalf("cats = %v", cats)
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	if d := DurationOr("", time.Minute); d != time.Minute {
		t.Fatalf("empty = %v", d)
	}
	if d := DurationOr("30s", time.Minute); d != 30*time.Second {
		t.Fatalf("30s = %v", d)
	}
	if d := DurationOr("-5s", time.Minute); d != time.Minute {
		t.Fatalf("negative must fall back, got %v", d)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM("23:05")
	if err != nil {
		t.Fatalf("ParseHHMM error: %v", err)
	}
	if h != 23 || m != 5 {
		t.Fatalf("got %d:%d", h, m)
	}
	for _, bad := range []string{"24:00", "12:60", "noon", "1:2:3"} {
		if _, _, err := ParseHHMM(bad); err == nil {
			t.Fatalf("ParseHHMM(%q): expected error", bad)
		}
	}
}
