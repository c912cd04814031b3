package poller

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Cadence decides how long the loop sleeps between iterations.
//
// Supported forms:
//   - Go duration: "2m", "90s"
//   - HH:MM interval: "00:02" (2 minutes)
//   - cron (robfig/cron): "*/2 * * * *", "@every 2m", optionally prefixed "cron:"
type Cadence struct {
	Every  time.Duration
	Cron   cron.Schedule
	Source string // "duration" | "hhmm" | "cron"
	raw    string
}

// ParseCadence parses raw. Empty input means def.
func ParseCadence(raw string, def time.Duration) (Cadence, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cadence{Every: def, Source: "duration", raw: def.String()}, nil
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}

	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Cadence{}, fmt.Errorf("poll.interval: invalid minutes in %q", raw)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Cadence{}, fmt.Errorf("poll.interval: interval must be > 0")
		}
		return Cadence{Every: d, Source: "hhmm", raw: s}, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return Cadence{}, fmt.Errorf(
			"poll.interval: invalid schedule %q (use a duration like '2m', HH:MM like '00:02', or cron like '*/2 * * * *')",
			raw,
		)
	}
	if d <= 0 {
		return Cadence{}, fmt.Errorf("poll.interval: interval must be > 0")
	}
	return Cadence{Every: d, Source: "duration", raw: s}, nil
}

func parseCron(expr string) (Cadence, error) {
	if expr == "" {
		return Cadence{}, fmt.Errorf("poll.interval: cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Cadence{}, fmt.Errorf("poll.interval: %w", err)
	}
	return Cadence{Cron: sched, Source: "cron", raw: expr}, nil
}

// Wait returns the sleep before the next iteration, measured from now. For cron
// cadences now's location decides wall-clock matching.
func (c Cadence) Wait(now time.Time) time.Duration {
	if c.Cron != nil {
		next := c.Cron.Next(now)
		if next.IsZero() {
			return 0
		}
		return next.Sub(now)
	}
	return c.Every
}

func (c Cadence) String() string { return c.raw }
