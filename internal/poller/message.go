package poller

import (
	"fmt"
	"strings"
	"time"

	"impfwatch/internal/availability"
)

const timestampLayout = "2006-01-02 15:04"

var markdownEscaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
)

// RenderMessage formats the alert for one centre. Free-text fields are
// escaped for Telegram's legacy Markdown parse mode.
func RenderMessage(c availability.Centre, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	ts := "unknown"
	if !c.FirstAppointment.IsZero() {
		ts = c.FirstAppointment.In(loc).Format(timestampLayout)
	}
	return fmt.Sprintf("%d spots free at %s, vaccine %s, first appointment at %s",
		c.FreeSlots,
		markdownEscaper.Replace(c.Name),
		markdownEscaper.Replace(c.VaccineName),
		ts,
	)
}
