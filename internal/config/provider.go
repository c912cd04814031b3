package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment overrides applied on top of the config file.
const (
	EnvTelegramToken = "IMPFWATCH_TELEGRAM_TOKEN"
	EnvBirthDate     = "IMPFWATCH_BIRTH_DATE"
)

// Query-failure policies for poll.on_query_failure.
const (
	PolicyAbortPass  = "abort_pass"
	PolicySkipRegion = "skip_region"
)

// Provider supplies a validated configuration or fails. It never prompts.
type Provider interface {
	Load() (*Config, error)
	Get() *Config
}

// MissingConfigError reports a required value that is neither in the config
// file nor in the environment.
type MissingConfigError struct {
	Field string
	Env   string
}

func (e *MissingConfigError) Error() string {
	if e.Env != "" {
		return fmt.Sprintf("missing required config %s (or env %s)", e.Field, e.Env)
	}
	return "missing required config " + e.Field
}

var birthDateLayouts = []string{"2006-01-02", "02/01/06"}

// BirthDateMS converts the configured birth date to epoch milliseconds in loc.
func BirthDateMS(raw string, loc *time.Location) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, &MissingConfigError{Field: "availability.birth_date", Env: EnvBirthDate}
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range birthDateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("availability.birth_date: invalid date %q (want YYYY-MM-DD or DD/MM/YY)", raw)
}

// LoadLocation resolves poll.timezone. Empty means local time.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("poll.timezone: %w", err)
	}
	return loc, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBirthDate)); v != "" {
		cfg.Availability.BirthDate = v
	}
}

// Validate checks required values and the syntax of every field that does not
// need another package to interpret. Cadence and clock fields are checked by
// the poller when the config is applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return &MissingConfigError{Field: "telegram.token", Env: EnvTelegramToken}
	}
	loc, err := LoadLocation(cfg.Poll.Timezone)
	if err != nil {
		return err
	}
	if _, err := BirthDateMS(cfg.Availability.BirthDate, loc); err != nil {
		return err
	}

	durations := map[string]string{
		"telegram.timeout":     cfg.Telegram.Timeout,
		"availability.timeout": cfg.Availability.Timeout,
		"poll.quiet_sleep":     cfg.Poll.QuietSleep,
		"poll.failure_backoff": cfg.Poll.FailureBackoff,
		"admin.read_timeout":   cfg.Admin.ReadTimeout,
		"admin.write_timeout":  cfg.Admin.WriteTimeout,
		"admin.idle_timeout":   cfg.Admin.IdleTimeout,
	}
	if cfg.Notifier != nil {
		durations["notifier.send_timeout"] = cfg.Notifier.SendTimeout
		durations["notifier.dedup_window"] = cfg.Notifier.DedupWindow
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Poll.OnQueryFailure)) {
	case "", PolicyAbortPass, PolicySkipRegion:
	default:
		return fmt.Errorf("poll.on_query_failure: unknown policy %q", cfg.Poll.OnQueryFailure)
	}

	if cfg.Availability.RatePerSec < 0 {
		return fmt.Errorf("availability.rate_per_sec must be >= 0")
	}
	if cfg.Notifier != nil && cfg.Notifier.RatePerSec < 0 {
		return fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Logging.Telegram.ChatID) == "" {
		return &MissingConfigError{Field: "logging.telegram.chat_id"}
	}
	return nil
}
