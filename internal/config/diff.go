package config

import (
	"reflect"
	"sort"
	"strings"

	"impfwatch/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. Tokens are reported as set/unset only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || trim(ot.APIURL) != trim(nt.APIURL) || trim(ot.Timeout) != trim(nt.Timeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.api_url", trim(nt.APIURL)),
			logx.String("telegram.timeout", trim(nt.Timeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Availability, newCfg.Availability) {
		changed = append(changed, "availability")
		na := newCfg.Availability
		attrs = append(attrs,
			logx.String("availability.endpoint", trim(na.Endpoint)),
			logx.Bool("availability.birth_date_changed", trim(oldCfg.Availability.BirthDate) != trim(na.BirthDate)),
			logx.String("availability.timeout", trim(na.Timeout)),
			logx.Any("availability.rate_per_sec", na.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Poll, newCfg.Poll) {
		changed = append(changed, "poll")
		np := newCfg.Poll
		attrs = append(attrs,
			logx.String("poll.interval", trim(np.Interval)),
			logx.String("poll.quiet_start", trim(np.QuietStart)),
			logx.String("poll.quiet_end", trim(np.QuietEnd)),
			logx.String("poll.quiet_sleep", trim(np.QuietSleep)),
			logx.String("poll.on_query_failure", trim(np.OnQueryFailure)),
			logx.String("poll.timezone", trim(np.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		nl := newCfg.Logging
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	oldN, newN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if oldN != newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Any("notifier.rate_per_sec", newN.RatePerSec),
			logx.String("notifier.send_timeout", trim(newN.SendTimeout)),
			logx.String("notifier.dedup_window", trim(newN.DedupWindow)),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(newS.Driver)),
			logx.Bool("storage.path_set", trim(newS.Path) != ""),
			logx.String("storage.busy_timeout", trim(newS.BusyTimeout)),
		)
	}

	oa, na := oldCfg.Admin, newCfg.Admin
	oa.Token, na.Token = tokenMarker(oa.Token), tokenMarker(na.Token)
	if oa != na {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", na.Enabled),
			logx.String("admin.addr", trim(na.Addr)),
			logx.Bool("admin.token_set", na.Token != ""),
			logx.Bool("admin.allow_insecure", na.AllowInsecure),
			logx.Bool("admin.pprof", na.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func trim(s string) string { return strings.TrimSpace(s) }

func tokenMarker(tok string) string {
	if trim(tok) == "" {
		return ""
	}
	return "set"
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
