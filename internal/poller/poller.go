// Package poller runs the availability poll loop.
//
// Each iteration first checks the quiet window. Inside it the loop sleeps the
// long quiet interval without querying anything. Outside it every region with
// subscribers is queried in registry order, and each centre with free slots
// produces one message sent to every subscriber of that region.
package poller

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"impfwatch/internal/availability"
	"impfwatch/internal/eventbus"
	"impfwatch/internal/registry"
	"impfwatch/pkg/logx"

	"github.com/google/uuid"
)

// Query-failure policies.
const (
	AbortPass  = "abort_pass"
	SkipRegion = "skip_region"
)

// Config is the resolved loop configuration.
type Config struct {
	Interval       Cadence
	Quiet          QuietWindow
	QuietSleep     time.Duration
	FailureBackoff time.Duration
	OnQueryFailure string
	Location       *time.Location
	BirthDateMS    int64
}

// Querier fetches the centres of one region.
type Querier interface {
	Query(ctx context.Context, regionKey string, birthDateMS int64) ([]availability.Centre, error)
}

// Sender delivers one message to one recipient. It reports nothing back.
type Sender interface {
	Send(ctx context.Context, recipientID, message string)
}

// RegionSource yields regions and their subscribers in order.
type RegionSource interface {
	Regions() iter.Seq2[string, []registry.Subscriber]
}

// PassStats summarizes one ACTIVE pass. It is the payload of poll.pass events.
type PassStats struct {
	ID            string        `json:"id"`
	Regions       int           `json:"regions"`
	Centres       int           `json:"centres"`
	Notifications int           `json:"notifications"`
	Failures      int           `json:"failures"`
	Aborted       bool          `json:"aborted"`
	Duration      time.Duration `json:"duration"`
}

// QueryStats is the payload of poll.query and poll.query_error events.
type QueryStats struct {
	PassID   string        `json:"pass_id"`
	Region   string        `json:"region"`
	Centres  int           `json:"centres"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Option func(*Poller)

func WithBus(bus eventbus.Bus) Option {
	return func(p *Poller) {
		if bus != nil {
			p.bus = bus
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

// WithSleep overrides the context-aware sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) { p.sleep = sleep }
}

// WithHeartbeat registers a callback invoked after every iteration.
func WithHeartbeat(fn func()) Option { return func(p *Poller) { p.heartbeat = fn } }

type Poller struct {
	mu  sync.RWMutex
	cfg Config

	client  Querier
	sender  Sender
	regions RegionSource
	bus     eventbus.Bus
	log     logx.Logger

	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	heartbeat func()

	lastIteration atomic.Int64 // unix nano
}

func New(cfg Config, client Querier, sender Sender, regions RegionSource, log logx.Logger, opts ...Option) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{
		client:  client,
		sender:  sender,
		regions: regions,
		bus:     eventbus.Nop(),
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(p)
	}
	p.Apply(cfg)
	return p
}

// Apply swaps the loop configuration. It takes effect at the next iteration.
func (p *Poller) Apply(cfg Config) {
	if cfg.Interval.Cron == nil && cfg.Interval.Every <= 0 {
		cfg.Interval = Cadence{Every: 2 * time.Minute, Source: "duration", raw: "2m0s"}
	}
	if cfg.QuietSleep <= 0 {
		cfg.QuietSleep = 2 * time.Hour
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = 2 * time.Minute
	}
	if cfg.OnQueryFailure != SkipRegion {
		cfg.OnQueryFailure = AbortPass
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *Poller) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// LastIteration returns when the loop last finished an iteration.
func (p *Poller) LastIteration() time.Time {
	ns := p.lastIteration.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run loops until ctx is cancelled. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	cfg := p.config()
	p.log.Info("poll loop started",
		logx.String("interval", cfg.Interval.String()),
		logx.String("quiet", cfg.Quiet.String()),
		logx.String("on_query_failure", cfg.OnQueryFailure),
	)
	for {
		if err := p.iterate(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.log.Info("poll loop stopped")
				return nil
			}
			return err
		}
	}
}

// iterate runs one quiet check plus pass, including the sleeps that follow.
func (p *Poller) iterate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := p.config()
	now := p.now().In(cfg.Location)

	if cfg.Quiet.Contains(ClockOf(now)) {
		p.log.Debug("quiet window; sleeping",
			logx.String("now", ClockOf(now).String()),
			logx.Duration("sleep", cfg.QuietSleep),
		)
		p.bus.Publish(eventbus.Event{Type: eventbus.TypePollQuiet, Time: now})
		p.beat()
		if err := p.sleep(ctx, cfg.QuietSleep); err != nil {
			return err
		}
		return p.sleep(ctx, cfg.Interval.Wait(p.now().In(cfg.Location)))
	}

	stats := p.runPass(ctx, cfg)
	p.bus.Publish(eventbus.Event{Type: eventbus.TypePollPass, Data: stats})
	p.beat()
	if err := ctx.Err(); err != nil {
		return err
	}

	if stats.Aborted {
		return p.sleep(ctx, cfg.FailureBackoff)
	}
	return p.sleep(ctx, cfg.Interval.Wait(p.now().In(cfg.Location)))
}

func (p *Poller) beat() {
	p.lastIteration.Store(p.now().UnixNano())
	if p.heartbeat != nil {
		p.heartbeat()
	}
}

func (p *Poller) runPass(ctx context.Context, cfg Config) PassStats {
	start := p.now()
	stats := PassStats{ID: uuid.NewString()}
	log := p.log.With(logx.String("pass", stats.ID))
	defer func() {
		stats.Duration = p.now().Sub(start)
		log.Debug("pass finished",
			logx.Int("regions", stats.Regions),
			logx.Int("centres", stats.Centres),
			logx.Int("notifications", stats.Notifications),
			logx.Int("failures", stats.Failures),
			logx.Bool("aborted", stats.Aborted),
		)
	}()

	for key, subs := range p.regions.Regions() {
		if len(subs) == 0 {
			continue
		}
		if ctx.Err() != nil {
			return stats
		}
		stats.Regions++

		qStart := p.now()
		centres, err := p.client.Query(ctx, key, cfg.BirthDateMS)
		qs := QueryStats{PassID: stats.ID, Region: key, Centres: len(centres), Duration: p.now().Sub(qStart)}
		if err != nil {
			if ctx.Err() != nil {
				return stats
			}
			stats.Failures++
			qs.Error = err.Error()
			p.bus.Publish(eventbus.Event{Type: eventbus.TypePollQueryError, Data: qs})
			if cfg.OnQueryFailure == SkipRegion {
				log.Warn("availability query failed; skipping region", logx.String("region", key), logx.Err(err))
				continue
			}
			log.Warn("availability query failed; abandoning pass",
				logx.String("region", key),
				logx.Err(err),
				logx.Duration("backoff", cfg.FailureBackoff),
			)
			stats.Aborted = true
			return stats
		}
		p.bus.Publish(eventbus.Event{Type: eventbus.TypePollQuery, Data: qs})

		for _, c := range availability.Available(centres) {
			stats.Centres++
			msg := RenderMessage(c, cfg.Location)
			log.Info("free slots found",
				logx.String("region", key),
				logx.String("centre", c.Name),
				logx.Int("free", c.FreeSlots),
				logx.Int("subscribers", len(subs)),
			)
			for _, s := range subs {
				p.sender.Send(ctx, s.ID, msg)
				stats.Notifications++
			}
		}
	}
	return stats
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
