package app

import (
	"context"
	"fmt"
	"time"

	"impfwatch/internal/admin"
	"impfwatch/internal/availability"
	"impfwatch/internal/config"
	"impfwatch/internal/eventbus"
	"impfwatch/internal/metrics"
	"impfwatch/internal/notifier"
	"impfwatch/internal/poller"
	"impfwatch/internal/runtime/supervisor"
	"impfwatch/internal/storage"
	"impfwatch/internal/subscribers"
	"impfwatch/internal/systemd"
	"impfwatch/internal/transport/telegram"
	"impfwatch/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	subs    *subscribers.Service
	client  *availability.Client
	notif   *notifier.Notifier
	poll    *poller.Poller
	metrics *metrics.Collector
	admin   *admin.Server
	sd      *systemd.Notifier
}

// NewApp loads the config, opens storage and wires every component. It fails
// when the config is incomplete or no subscriber is registered.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	tgCfg, _ := mapTelegramConfig(cfg)
	tg, err := telegram.New(tgCfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), tg)
	appLog := log.With(logx.String("comp", "app"))

	a := &App{cfgPath: cfgPath, cfgm: cfgm, log: appLog, logs: logSvc, bus: eventbus.New()}
	if err := a.wire(cfg, tg, log); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(cfg *config.Config, tg notifier.Sender, log logx.Logger) error {
	sc, _ := mapStorageConfig(cfg)
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = st

	reg, err := subscribers.Load(context.Background(), st)
	if err != nil {
		return err
	}
	if err := reg.RequireSubscribers(); err != nil {
		return err
	}
	a.subs = subscribers.New(reg, st, a.bus, log.With(logx.String("comp", "subscribers")))

	acfg, _ := mapAvailabilityConfig(cfg)
	a.client = availability.New(acfg, log.With(logx.String("comp", "availability")))

	ncfg, _ := mapNotifierConfig(cfg)
	a.notif = notifier.New(ncfg, tg, log.With(logx.String("comp", "notifier")), a.bus, st)

	a.sd = systemd.New(log.With(logx.String("comp", "systemd")))

	pcfg, _ := mapPollerConfig(cfg)
	a.poll = poller.New(pcfg, a.client, a.notif, reg, log.With(logx.String("comp", "poller")),
		poller.WithBus(a.bus),
		poller.WithHeartbeat(a.sd.Watchdog),
	)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc, err := metrics.New(promReg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	mc.SetRegistry(reg.Len(), reg.RegionCount())
	a.metrics = mc

	admCfg, _ := mapAdminConfig(cfg)
	a.admin = admin.New(admCfg, admin.Deps{
		Subscribers: a.subs,
		Gatherer:    promReg,
		Health:      a.health,
	}, log.With(logx.String("comp", "admin")))

	a.log.Info("app configured",
		logx.String("storage", sc.Driver),
		logx.Int("regions", reg.RegionCount()),
		logx.Int("subscribers", reg.Len()),
		logx.String("interval", pcfg.Interval.String()),
		logx.String("quiet", pcfg.Quiet.String()),
	)
	return nil
}

func (a *App) health() admin.Health {
	h := admin.Health{LastIteration: a.poll.LastIteration()}
	if a.sup != nil {
		h.Goroutines = a.sup.Snapshot()
	}
	return h
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})

	// A panic inside a pass restarts the loop instead of killing the process.
	a.sup.GoRestart("poll.loop", a.poll.Run,
		supervisor.WithRestartBackoff(time.Second, 2*time.Minute),
	)

	a.admin.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("watching %d regions", a.subs.Registry().RegionCount()))
	a.log.Info("app started", logx.Duration("watchdog", a.sd.WatchdogInterval()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	// Poll loop, config watcher and metrics consumer.
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
