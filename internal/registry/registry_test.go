package registry

import (
	"errors"
	"testing"
)

func TestAddAccumulatesUnderOneKey(t *testing.T) {
	r := New()
	if err := r.Add("30000", Subscriber{ID: "1", Name: "alice"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add("30000", Subscriber{ID: "2", Name: "bob"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	subs := r.Subscribers("30000")
	if len(subs) != 2 {
		t.Fatalf("subscribers = %d, want 2", len(subs))
	}
	if subs[0].ID != "1" || subs[1].ID != "2" {
		t.Fatalf("unexpected order: %+v", subs)
	}
	if r.RegionCount() != 1 {
		t.Fatalf("regions = %d, want 1", r.RegionCount())
	}
}

func TestAddRejectsMissingFields(t *testing.T) {
	r := New()
	if err := r.Add("", Subscriber{ID: "1"}); !errors.Is(err, ErrInvalidSubscriber) {
		t.Fatalf("empty region: err = %v", err)
	}
	if err := r.Add("30000", Subscriber{Name: "alice"}); !errors.Is(err, ErrInvalidSubscriber) {
		t.Fatalf("empty id: err = %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("registry should stay empty")
	}
}

func TestRemoveByNameDropsEmptyRegion(t *testing.T) {
	r := New()
	_ = r.Add("30000", Subscriber{ID: "1", Name: "alice"})

	if n := r.RemoveByName("alice"); n != 1 {
		t.Fatalf("removed = %d, want 1", n)
	}
	if r.Has("30000") {
		t.Fatalf("region 30000 should be absent after removing its last subscriber")
	}
	if err := r.RequireSubscribers(); !errors.Is(err, ErrEmptyRegistry) {
		t.Fatalf("RequireSubscribers err = %v", err)
	}
}

func TestRemoveByNameAcrossRegionsCaseInsensitive(t *testing.T) {
	r := New()
	_ = r.Add("30000", Subscriber{ID: "1", Name: "Alice"})
	_ = r.Add("30000", Subscriber{ID: "2", Name: "bob"})
	_ = r.Add("31000", Subscriber{ID: "3", Name: " ALICE "})
	_ = r.Add("32000", Subscriber{ID: "4", Name: "carol"})

	if n := r.RemoveByName("alice"); n != 2 {
		t.Fatalf("removed = %d, want 2", n)
	}
	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Key != "30000" || snap[1].Key != "32000" {
		t.Fatalf("unexpected regions: %+v", snap)
	}
	if len(snap[0].Subscribers) != 1 || snap[0].Subscribers[0].Name != "bob" {
		t.Fatalf("unexpected 30000 subscribers: %+v", snap[0].Subscribers)
	}
}

func TestRemoveByNameIgnoresBlankAndUnknown(t *testing.T) {
	r := New()
	_ = r.Add("30000", Subscriber{ID: "1"})
	if n := r.RemoveByName(""); n != 0 {
		t.Fatalf("blank name removed %d", n)
	}
	if n := r.RemoveByName("nobody"); n != 0 {
		t.Fatalf("unknown name removed %d", n)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestRegionsIteratesInOrderOverSnapshot(t *testing.T) {
	r := New()
	_ = r.Add("b", Subscriber{ID: "1"})
	_ = r.Add("a", Subscriber{ID: "2"})
	_ = r.Add("b", Subscriber{ID: "3"})

	var keys []string
	for key, subs := range r.Regions() {
		keys = append(keys, key)
		// Mutating during iteration must not affect the running loop.
		_ = r.Add("c", Subscriber{ID: "4"})
		subs[0].ID = "mutated"
	}
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Fatalf("keys = %v, want [b a]", keys)
	}
	if r.Subscribers("b")[0].ID != "1" {
		t.Fatalf("iteration leaked internal slice")
	}
}

func TestFromRegionsPreservesOrder(t *testing.T) {
	r := FromRegions([]Region{
		{Key: "2", Subscribers: []Subscriber{{ID: "x"}}},
		{Key: "1", Subscribers: []Subscriber{{ID: "y"}, {ID: ""}}},
		{Key: "3"},
	})
	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Key != "2" || snap[1].Key != "1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(snap[1].Subscribers) != 1 {
		t.Fatalf("invalid subscriber should be dropped: %+v", snap[1].Subscribers)
	}
}

func TestReplaceRestoresSnapshot(t *testing.T) {
	r := New()
	_ = r.Add("30000", Subscriber{ID: "1", Name: "alice"})
	_ = r.Add("26121", Subscriber{ID: "2", Name: "bob"})
	snap := r.Snapshot()

	r.RemoveByName("alice")
	_ = r.Add("99999", Subscriber{ID: "3"})
	r.Replace(snap)

	got := r.Snapshot()
	if len(got) != 2 || got[0].Key != "30000" || got[1].Key != "26121" {
		t.Fatalf("snapshot = %+v", got)
	}
	if got[0].Subscribers[0].Name != "alice" || r.Has("99999") {
		t.Fatalf("snapshot = %+v", got)
	}

	r.Replace([]Region{{Key: "empty"}})
	if r.Len() != 0 || r.RegionCount() != 0 {
		t.Fatalf("empty regions kept: %+v", r.Snapshot())
	}
}
