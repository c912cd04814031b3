package config

type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Availability AvailabilityConfig `json:"availability"`
	Poll         PollConfig         `json:"poll"`
	Logging      LoggingConfig      `json:"logging"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Admin    AdminConfig     `json:"admin,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides the Bot API base URL (tests, local bot API servers).
	APIURL  string `json:"api_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// AvailabilityConfig controls the availability query client.
//
// BirthDate is the fixed query parameter sent with every request. Accepted
// layouts: "2006-01-02" and "02/01/06".
type AvailabilityConfig struct {
	Endpoint   string  `json:"endpoint,omitempty"`
	BirthDate  string  `json:"birth_date"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
}

// PollConfig controls the poll loop cadence and the quiet window.
//
// Defaults (when fields are omitted/zero):
//   - interval: "2m" (Go duration, "HH:MM" or a cron expression)
//   - quiet_start: "23:00", quiet_end: "07:00"
//   - quiet_sleep: "2h"
//   - failure_backoff: "2m"
//   - on_query_failure: "abort_pass" ("skip_region" continues the pass)
//   - timezone: local time
type PollConfig struct {
	Interval       string `json:"interval,omitempty"`
	QuietStart     string `json:"quiet_start,omitempty"`
	QuietEnd       string `json:"quiet_end,omitempty"`
	QuietSleep     string `json:"quiet_sleep,omitempty"`
	FailureBackoff string `json:"failure_backoff,omitempty"`
	OnQueryFailure string `json:"on_query_failure,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// NotifierConfig controls delivery pacing and duplicate suppression.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// dedup_window "0s" (the default) disables duplicate suppression.
type NotifierConfig struct {
	RatePerSec      float64 `json:"rate_per_sec"`
	SendTimeout     string  `json:"send_timeout"`
	DedupWindow     string  `json:"dedup_window"`
	DedupMaxEntries int     `json:"dedup_max_entries"`
	PersistDedup    bool    `json:"persist_dedup,omitempty"`
}

// StorageConfig controls where the subscriber registry lives.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/impfwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AdminConfig controls the optional admin HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8089").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8089"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool    `json:"enabled"`
	ChatID     string  `json:"chat_id"`
	MinLevel   string  `json:"min_level"`
	RatePerSec float64 `json:"rate_per_sec"`
}
