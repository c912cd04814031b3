// Package subscribers applies registry changes made by operators: it mutates
// the in-memory registry, persists it, appends an audit entry and announces
// the new size on the event bus.
package subscribers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"impfwatch/internal/eventbus"
	"impfwatch/internal/metrics"
	"impfwatch/internal/registry"
	"impfwatch/internal/storage"
	"impfwatch/pkg/logx"
)

type Service struct {
	// mu serializes mutate+persist so the stored document matches memory.
	mu sync.Mutex

	reg   *registry.Registry
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func New(reg *registry.Registry, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{reg: reg, store: store, bus: bus, log: log}
}

// Load builds a registry from the persisted regions.
func Load(ctx context.Context, store storage.Store) (*registry.Registry, error) {
	regions, err := store.LoadRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return registry.FromRegions(regions), nil
}

func (s *Service) Registry() *registry.Registry { return s.reg }

func (s *Service) List() []registry.Region { return s.reg.Snapshot() }

// Add registers sub under regionKey and persists the registry. When persisting
// fails the in-memory registry is left unchanged.
func (s *Service) Add(ctx context.Context, actor, regionKey string, sub registry.Subscriber) error {
	regionKey = strings.TrimSpace(regionKey)
	sub.ID = strings.TrimSpace(sub.ID)
	sub.Name = strings.TrimSpace(sub.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.reg.Snapshot()
	if err := s.reg.Add(regionKey, sub); err != nil {
		return err
	}
	if err := s.persist(ctx); err != nil {
		s.reg.Replace(prev)
		return err
	}
	s.audit(ctx, storage.AuditEntry{
		Actor:        actor,
		Action:       storage.ActionSubscriberAdd,
		Region:       regionKey,
		SubscriberID: sub.ID,
		Name:         sub.Name,
		Count:        1,
	})
	s.log.Info("subscriber added", logx.String("actor", actor), logx.String("region", regionKey), logx.String("name", sub.Name))
	return nil
}

// Remove deletes every subscriber named name and persists the registry when
// anything changed. It returns the number removed. When persisting fails
// nothing is removed.
func (s *Service) Remove(ctx context.Context, actor, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.reg.Snapshot()
	n := s.reg.RemoveByName(name)
	if n == 0 {
		return 0, nil
	}
	if err := s.persist(ctx); err != nil {
		s.reg.Replace(prev)
		return 0, err
	}
	s.audit(ctx, storage.AuditEntry{
		Actor:  actor,
		Action: storage.ActionSubscriberRemove,
		Name:   strings.TrimSpace(name),
		Count:  n,
	})
	s.log.Info("subscribers removed", logx.String("actor", actor), logx.String("name", name), logx.Int("count", n))
	return n, nil
}

// Announce publishes the current registry size.
func (s *Service) Announce() {
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeRegistryChanged,
		Data: metrics.RegistryStats{Subscribers: s.reg.Len(), Regions: s.reg.RegionCount()},
	})
}

func (s *Service) persist(ctx context.Context) error {
	if err := s.store.SaveRegions(ctx, s.reg.Snapshot()); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	s.Announce()
	return nil
}

func (s *Service) audit(ctx context.Context, e storage.AuditEntry) {
	e.At = time.Now()
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.Err(err))
	}
}
