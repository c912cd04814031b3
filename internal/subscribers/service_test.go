package subscribers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"impfwatch/internal/eventbus"
	"impfwatch/internal/metrics"
	"impfwatch/internal/registry"
	"impfwatch/internal/storage"
	"impfwatch/pkg/logx"
)

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "subscribers.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAddPersistsAndAnnounces(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	svc := New(registry.New(), st, bus, logx.Nop())
	if err := svc.Add(ctx, "cli", "30000", registry.Subscriber{ID: "1", Name: "alice"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.Add(ctx, "cli", "30000", registry.Subscriber{ID: "2", Name: "bob"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	reloaded, err := Load(ctx, st)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Len() != 2 || reloaded.RegionCount() != 1 {
		t.Fatalf("persisted registry = %+v", reloaded.Snapshot())
	}

	var last metrics.RegistryStats
	for len(events) > 0 {
		e := <-events
		last = e.Data.(metrics.RegistryStats)
	}
	if last.Subscribers != 2 || last.Regions != 1 {
		t.Fatalf("last announce = %+v", last)
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	svc := New(registry.New(), openStore(t), nil, logx.Nop())
	err := svc.Add(context.Background(), "admin", "", registry.Subscriber{ID: "1"})
	if !errors.Is(err, registry.ErrInvalidSubscriber) {
		t.Fatalf("err = %v", err)
	}
}

func TestRemovePersists(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	svc := New(registry.New(), st, nil, logx.Nop())
	_ = svc.Add(ctx, "cli", "30000", registry.Subscriber{ID: "1", Name: "alice"})
	_ = svc.Add(ctx, "cli", "26121", registry.Subscriber{ID: "2", Name: "Alice"})
	_ = svc.Add(ctx, "cli", "26121", registry.Subscriber{ID: "3", Name: "bob"})

	n, err := svc.Remove(ctx, "cli", "ALICE")
	if err != nil || n != 2 {
		t.Fatalf("remove = %d, %v", n, err)
	}
	reloaded, _ := Load(ctx, st)
	if reloaded.Has("30000") || reloaded.Len() != 1 {
		t.Fatalf("persisted registry = %+v", reloaded.Snapshot())
	}

	if n, err := svc.Remove(ctx, "cli", "nobody"); err != nil || n != 0 {
		t.Fatalf("remove unknown = %d, %v", n, err)
	}
}

type failingSave struct {
	storage.Store
}

func (failingSave) SaveRegions(context.Context, []registry.Region) error {
	return errors.New("disk full")
}

func TestFailedPersistLeavesRegistryUnchanged(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	_ = reg.Add("30000", registry.Subscriber{ID: "9", Name: "bob"})
	svc := New(reg, failingSave{Store: openStore(t)}, nil, logx.Nop())

	for range 2 {
		if err := svc.Add(ctx, "admin", "26121", registry.Subscriber{ID: "1", Name: "alice"}); err == nil {
			t.Fatal("add succeeded with failing store")
		}
	}
	if reg.Len() != 1 || reg.Has("26121") {
		t.Fatalf("registry after failed add = %+v", reg.Snapshot())
	}

	n, err := svc.Remove(ctx, "admin", "bob")
	if err == nil || n != 0 {
		t.Fatalf("remove = %d, %v", n, err)
	}
	if subs := reg.Subscribers("30000"); len(subs) != 1 || subs[0].Name != "bob" {
		t.Fatalf("registry after failed remove = %+v", reg.Snapshot())
	}
}
