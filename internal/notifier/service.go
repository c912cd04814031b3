package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"impfwatch/internal/eventbus"
	"impfwatch/internal/storage"
	"impfwatch/pkg/logx"

	"golang.org/x/time/rate"
)

// Notifier sends one message to one recipient at a time.
//
// It is safe for concurrent use; the poll loop calls it sequentially.
type Notifier struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	store  storage.Store

	cfg     Config
	limiter *rate.Limiter

	dmu   sync.Mutex
	dedup map[string]time.Time
}

// New builds a Notifier. bus and store may be nil.
func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	n := &Notifier{
		log:    log,
		sender: sender,
		bus:    bus,
		store:  store,
		dedup:  map[string]time.Time{},
	}
	n.applyLocked(cfg)
	return n
}

func (n *Notifier) Apply(cfg Config) {
	n.mu.Lock()
	n.applyLocked(cfg)
	n.mu.Unlock()
}

func (n *Notifier) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	n.cfg = cfg
	burst := max(1, int(cfg.RatePerSec))
	n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

// Send delivers message to recipientID. It never returns an error: failures
// are logged and published as notifier.failed.
func (n *Notifier) Send(ctx context.Context, recipientID, message string) {
	if ctx == nil {
		ctx = context.Background()
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" || message == "" || n.sender == nil {
		return
	}

	n.mu.Lock()
	cfg := n.cfg
	lim := n.limiter
	n.mu.Unlock()

	log := n.log.With(logx.String("recipient", recipientID))

	key := dedupKey(recipientID, message)
	if cfg.DedupWindow > 0 && !n.dedupAllow(ctx, key, cfg) {
		log.Debug("notification suppressed (duplicate)", logx.String("key", key))
		n.publish(eventbus.TypeNotifierDeduped, recipientID, key, nil)
		return
	}

	if err := lim.Wait(ctx); err != nil {
		log.Debug("notification skipped", logx.Err(err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err := n.sender.SendText(callCtx, recipientID, message, ParseModeMarkdown)
	cancel()
	if err != nil {
		log.Warn("notification failed", logx.Err(err))
		n.publish(eventbus.TypeNotifierFailed, recipientID, key, err)
		return
	}
	log.Debug("notification sent")
	n.publish(eventbus.TypeNotifierSent, recipientID, key, nil)
}

func (n *Notifier) publish(typ, recipientID, key string, err error) {
	now := time.Now()
	ev := Event{RecipientID: recipientID, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	n.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func dedupKey(recipientID, text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(recipientID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupAllow reports whether key may be sent now and, if so, opens a new
// suppression window for it.
func (n *Notifier) dedupAllow(ctx context.Context, key string, cfg Config) bool {
	now := time.Now()

	n.dmu.Lock()
	if until, ok := n.dedup[key]; ok && now.Before(until) {
		n.dmu.Unlock()
		return false
	}
	n.dmu.Unlock()

	persist := cfg.PersistDedup && n.store != nil
	if persist {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := n.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			n.dmu.Lock()
			n.dedup[key] = until
			n.dmu.Unlock()
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	n.dmu.Lock()
	n.dedup[key] = until
	for k, t := range n.dedup {
		if !now.Before(t) {
			delete(n.dedup, k)
		}
	}
	for len(n.dedup) > cfg.DedupMaxEntries {
		var (
			oldest string
			minT   time.Time
		)
		for k, t := range n.dedup {
			if oldest == "" || t.Before(minT) {
				oldest, minT = k, t
			}
		}
		delete(n.dedup, oldest)
	}
	n.dmu.Unlock()

	if persist {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		if err := n.store.PutDedup(cctx, key, until); err != nil {
			n.log.Debug("dedup persist failed", logx.Err(err))
		}
		cancel()
	}
	return true
}
