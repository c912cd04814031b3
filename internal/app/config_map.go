package app

import (
	"fmt"
	"strings"
	"time"

	"impfwatch/internal/admin"
	"impfwatch/internal/availability"
	"impfwatch/internal/config"
	"impfwatch/internal/notifier"
	"impfwatch/internal/poller"
	"impfwatch/internal/storage"
	"impfwatch/internal/transport/telegram"
	"impfwatch/pkg/logx"
)

const defaultStoragePath = "./subscribers.json"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: defaultStoragePath}, nil
	}
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)

	switch driver := strings.ToLower(strings.TrimSpace(sc.Driver)); driver {
	case "", "file":
		if path == "" {
			path = defaultStoragePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   cfg.Telegram.Token,
		APIURL:  cfg.Telegram.APIURL,
		Timeout: timeout,
	}, nil
}

func mapAvailabilityConfig(cfg *config.Config) (availability.Config, error) {
	timeout, err := config.ParseDurationOrDefault("availability.timeout", cfg.Availability.Timeout, 15*time.Second)
	if err != nil {
		return availability.Config{}, err
	}
	return availability.Config{
		Endpoint:   cfg.Availability.Endpoint,
		Timeout:    timeout,
		RatePerSec: cfg.Availability.RatePerSec,
		UserAgent:  cfg.Availability.UserAgent,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	path := strings.TrimSpace(lc.File.Path)
	if lc.File.Enabled && path == "" {
		path = "./impfwatch.log"
	}
	rps := int(lc.Telegram.RatePerSec)
	if lc.Telegram.RatePerSec > 0 && rps == 0 {
		rps = 1
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     strings.TrimSpace(lc.Telegram.ChatID),
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: rps,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	// Defaults (used when notifier block is omitted)
	out := notifier.Config{
		RatePerSec:      20,
		SendTimeout:     10 * time.Second,
		DedupMaxEntries: 2000,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	nc := cfg.Notifier
	if nc.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if nc.RatePerSec > 0 {
		out.RatePerSec = nc.RatePerSec
	}
	if nc.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.dedup_max_entries must be >= 0")
	}
	if nc.DedupMaxEntries > 0 {
		out.DedupMaxEntries = nc.DedupMaxEntries
	}
	var err error
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", nc.SendTimeout, out.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", nc.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	out.PersistDedup = nc.PersistDedup
	return out, nil
}

// mapPollerConfig resolves cadence, quiet window, timezone and birth date.
// It is also the hot-reload validator for the poll section.
func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	pc := cfg.Poll

	interval, err := poller.ParseCadence(pc.Interval, 2*time.Minute)
	if err != nil {
		return poller.Config{}, err
	}
	start, err := parseClockOrDefault("poll.quiet_start", pc.QuietStart, poller.Clock(23, 0, 0))
	if err != nil {
		return poller.Config{}, err
	}
	end, err := parseClockOrDefault("poll.quiet_end", pc.QuietEnd, poller.Clock(7, 0, 0))
	if err != nil {
		return poller.Config{}, err
	}
	quietSleep, err := config.ParseDurationOrDefault("poll.quiet_sleep", pc.QuietSleep, 2*time.Hour)
	if err != nil {
		return poller.Config{}, err
	}
	backoff, err := config.ParseDurationOrDefault("poll.failure_backoff", pc.FailureBackoff, 2*time.Minute)
	if err != nil {
		return poller.Config{}, err
	}

	policy := strings.ToLower(strings.TrimSpace(pc.OnQueryFailure))
	switch policy {
	case "":
		policy = poller.AbortPass
	case poller.AbortPass, poller.SkipRegion:
	default:
		return poller.Config{}, fmt.Errorf("poll.on_query_failure: unknown policy %q", pc.OnQueryFailure)
	}

	loc, err := config.LoadLocation(pc.Timezone)
	if err != nil {
		return poller.Config{}, err
	}
	birth, err := config.BirthDateMS(cfg.Availability.BirthDate, loc)
	if err != nil {
		return poller.Config{}, err
	}

	return poller.Config{
		Interval:       interval,
		Quiet:          poller.QuietWindow{Start: start, End: end},
		QuietSleep:     quietSleep,
		FailureBackoff: backoff,
		OnQueryFailure: policy,
		Location:       loc,
		BirthDateMS:    birth,
	}, nil
}

func parseClockOrDefault(path, raw string, def poller.ClockTime) (poller.ClockTime, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	c, err := poller.ParseClock(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	ac := cfg.Admin
	addr := strings.TrimSpace(ac.Addr)
	if addr == "" {
		addr = admin.DefaultAddr
	}
	read, err := config.ParseDurationOrDefault("admin.read_timeout", ac.ReadTimeout, 5*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	write, err := config.ParseDurationField("admin.write_timeout", ac.WriteTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("admin.idle_timeout", ac.IdleTimeout, 60*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Enabled:       ac.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		Pprof:         ac.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// validate runs every mapping so a hot reload that any component would reject
// is refused before it is committed.
func validate(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAvailabilityConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPollerConfig(cfg); err != nil {
		return err
	}
	_, err := mapAdminConfig(cfg)
	return err
}
