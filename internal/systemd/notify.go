// Package systemd reports service state to systemd through sd_notify.
// Every call is a no-op when the process is not run by systemd.
package systemd

import (
	"sync"
	"time"

	"impfwatch/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier wraps sd_notify. The zero value is usable.
type Notifier struct {
	log logx.Logger

	// notify is daemon.SdNotify; tests replace it.
	notify func(unsetEnvironment bool, state string) (bool, error)

	mu       sync.Mutex
	interval time.Duration
	lastPing time.Time
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{log: log, notify: daemon.SdNotify}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		// Ping at half the configured timeout.
		n.interval = d / 2
	}
	return n
}

// WatchdogInterval is how often Watchdog must be called, or 0 when systemd
// has no watchdog configured for this unit.
func (n *Notifier) WatchdogInterval() time.Duration { return n.interval }

func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

func (n *Notifier) Status(msg string) { n.send("STATUS=" + msg) }

// Watchdog sends WATCHDOG=1, at most once per half watchdog interval.
func (n *Notifier) Watchdog() {
	if n.interval > 0 {
		n.mu.Lock()
		now := time.Now()
		if !n.lastPing.IsZero() && now.Sub(n.lastPing) < n.interval/2 {
			n.mu.Unlock()
			return
		}
		n.lastPing = now
		n.mu.Unlock()
	}
	n.send(daemon.SdNotifyWatchdog)
}

func (n *Notifier) send(state string) {
	if n == nil || n.notify == nil {
		return
	}
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}
