// Package metrics turns event bus traffic into Prometheus metrics.
package metrics

import (
	"context"
	"errors"

	"impfwatch/internal/eventbus"
	"impfwatch/internal/poller"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the impfwatch collectors.
type Collector struct {
	passes        *prometheus.CounterVec
	quiet         prometheus.Counter
	queries       *prometheus.CounterVec
	queryLatency  prometheus.Histogram
	centres       prometheus.Counter
	notifications *prometheus.CounterVec
	subscribers   prometheus.Gauge
	regions       prometheus.Gauge
}

// New registers the collectors on reg (the default registerer if nil).
// Collectors that are already registered are reused.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impfwatch_poll_passes_total",
			Help: "Completed poll passes by outcome",
		}, []string{"outcome"}),
		quiet: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "impfwatch_poll_quiet_total",
			Help: "Iterations skipped because of the quiet window",
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impfwatch_availability_queries_total",
			Help: "Availability queries by result",
		}, []string{"result"}),
		queryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "impfwatch_availability_query_seconds",
			Help:    "Availability query latency",
			Buckets: prometheus.DefBuckets,
		}),
		centres: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "impfwatch_centres_available_total",
			Help: "Centres with free slots seen across passes",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impfwatch_notifications_total",
			Help: "Notification attempts by result",
		}, []string{"result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "impfwatch_subscribers",
			Help: "Registered subscribers",
		}),
		regions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "impfwatch_regions",
			Help: "Regions with at least one subscriber",
		}),
	}

	var err error
	if c.passes, err = register(reg, c.passes); err != nil {
		return nil, err
	}
	if c.quiet, err = register(reg, c.quiet); err != nil {
		return nil, err
	}
	if c.queries, err = register(reg, c.queries); err != nil {
		return nil, err
	}
	if c.queryLatency, err = register(reg, c.queryLatency); err != nil {
		return nil, err
	}
	if c.centres, err = register(reg, c.centres); err != nil {
		return nil, err
	}
	if c.notifications, err = register(reg, c.notifications); err != nil {
		return nil, err
	}
	if c.subscribers, err = register(reg, c.subscribers); err != nil {
		return nil, err
	}
	if c.regions, err = register(reg, c.regions); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

// RegistryStats is the payload of registry.changed events.
type RegistryStats struct {
	Subscribers int `json:"subscribers"`
	Regions     int `json:"regions"`
}

// Observe applies one event.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypePollPass:
		ps, ok := e.Data.(poller.PassStats)
		if !ok {
			return
		}
		outcome := "ok"
		switch {
		case ps.Aborted:
			outcome = "aborted"
		case ps.Failures > 0:
			outcome = "partial"
		}
		c.passes.WithLabelValues(outcome).Inc()
		c.centres.Add(float64(ps.Centres))
	case eventbus.TypePollQuiet:
		c.quiet.Inc()
	case eventbus.TypePollQuery, eventbus.TypePollQueryError:
		result := "ok"
		if e.Type == eventbus.TypePollQueryError {
			result = "error"
		}
		c.queries.WithLabelValues(result).Inc()
		if qs, ok := e.Data.(poller.QueryStats); ok {
			c.queryLatency.Observe(qs.Duration.Seconds())
		}
	case eventbus.TypeNotifierSent:
		c.notifications.WithLabelValues("sent").Inc()
	case eventbus.TypeNotifierFailed:
		c.notifications.WithLabelValues("failed").Inc()
	case eventbus.TypeNotifierDeduped:
		c.notifications.WithLabelValues("deduped").Inc()
	case eventbus.TypeRegistryChanged:
		if rs, ok := e.Data.(RegistryStats); ok {
			c.SetRegistry(rs.Subscribers, rs.Regions)
		}
	}
}

func (c *Collector) SetRegistry(subscribers, regions int) {
	c.subscribers.Set(float64(subscribers))
	c.regions.Set(float64(regions))
}

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}
