package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"notewatch/internal/content"
)

// Env overrides for secrets, so tokens never have to live in the config file.
const (
	EnvTelegramToken = "NOTEWATCH_TELEGRAM_TOKEN"
	EnvSourceToken   = "NOTEWATCH_SOURCE_TOKEN"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Source   SourceConfig   `json:"source"`
	Watch    WatchConfig    `json:"watch"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	// Token may be empty in the file; NOTEWATCH_TELEGRAM_TOKEN fills it in.
	Token string `json:"token,omitempty"`

	// AdminChatID receives alerts and a copy of every batch. 0 = none.
	AdminChatID   int64   `json:"admin_chat_id"`
	SubscriberIDs []int64 `json:"subscriber_ids"`

	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"` // Go duration string
}

type SourceConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout,omitempty"` // Go duration string
}

type WatchConfig struct {
	// Categories to monitor, by name ("notice", "report", "album", ...).
	Categories []string `json:"categories"`

	// Days selects the recurrence: "all" or "weekdays".
	Days string `json:"days,omitempty"`

	// CheckAt is the daily trigger time-of-day, "HH:MM".
	CheckAt string `json:"check_at,omitempty"`

	// Operating window, hours 0-23. 0 means unbounded on that side.
	OperationHourBegin int `json:"operation_hour_begin,omitempty"`
	OperationHourEnd   int `json:"operation_hour_end,omitempty"`

	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Seoul"
}

type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path   string `json:"path"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9190"
}

// WithinWindow implements the operating-hours gate: a zero bound is
// unbounded on that side.
func (w WatchConfig) WithinWindow(hour int) bool {
	if w.OperationHourBegin != 0 && w.OperationHourBegin > hour {
		return false
	}
	if w.OperationHourEnd != 0 && w.OperationHourEnd < hour {
		return false
	}
	return true
}

// CategoryList parses the configured category names.
func (w WatchConfig) CategoryList() ([]content.Category, error) {
	out := make([]content.Category, 0, len(w.Categories))
	seen := map[content.Category]bool{}
	for _, name := range w.Categories {
		cat, err := content.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		if seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, cat)
	}
	return out, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if _, err := c.Watch.CategoryList(); err != nil {
		return err
	}
	if d := strings.TrimSpace(c.Watch.Days); d != "" && d != "all" && d != "weekdays" {
		return fmt.Errorf("watch.days must be \"all\" or \"weekdays\", got %q", d)
	}
	if at := strings.TrimSpace(c.Watch.CheckAt); at != "" {
		if _, _, err := ParseHHMM(at); err != nil {
			return fmt.Errorf("watch.check_at: %w", err)
		}
	}
	for _, h := range []int{c.Watch.OperationHourBegin, c.Watch.OperationHourEnd} {
		if h < 0 || h > 23 {
			return fmt.Errorf("watch operating hours must be 0-23, got %d", h)
		}
	}
	if tz := strings.TrimSpace(c.Watch.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("watch.timezone: invalid %q: %w", tz, err)
		}
	}
	for field, raw := range map[string]string{
		"telegram.poll_timeout": c.Telegram.PollTimeout,
		"source.timeout":        c.Source.Timeout,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
		}
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}

// applyEnv fills secrets from the environment when the file leaves them empty.
func (c *Config) applyEnv() {
	if c.Telegram.Token == "" {
		c.Telegram.Token = os.Getenv(EnvTelegramToken)
	}
	if c.Source.Token == "" {
		c.Source.Token = os.Getenv(EnvSourceToken)
	}
}

// DurationOr parses raw as a Go duration, returning def when raw is empty
// or invalid. Validate() already rejected invalid values at load time.
func DurationOr(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ParseHHMM parses "HH:MM" into its components.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
