package poller

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ClockTime is a wall-clock time of day, in seconds since midnight.
type ClockTime int

var reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})(?::(\d{2}))?\s*$`)

// Clock builds a ClockTime. Out-of-range parts are not normalized.
func Clock(hour, minute, second int) ClockTime {
	return ClockTime(hour*3600 + minute*60 + second)
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) ClockTime {
	h, m, s := t.Clock()
	return Clock(h, m, s)
}

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(raw string) (ClockTime, error) {
	m := reClock.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", raw)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	s := 0
	if m[3] != "" {
		s, _ = strconv.Atoi(m[3])
	}
	if h > 23 || mm > 59 || s > 59 {
		return 0, fmt.Errorf("invalid time of day %q", raw)
	}
	return Clock(h, mm, s), nil
}

func (c ClockTime) String() string {
	s := int(c)
	if s%60 != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/3600, s/60%60)
}

// QuietWindow is an inclusive time-of-day range. A window whose start is after
// its end wraps past midnight (e.g. 23:00-07:00).
type QuietWindow struct {
	Start ClockTime
	End   ClockTime
}

// Contains reports whether now falls inside the window.
func (w QuietWindow) Contains(now ClockTime) bool {
	if w.Start <= w.End {
		return w.Start <= now && now <= w.End
	}
	return w.Start <= now || now <= w.End
}

func (w QuietWindow) String() string { return w.Start.String() + "-" + w.End.String() }
