package notifier

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"impfwatch/internal/eventbus"
	"impfwatch/internal/storage"
	"impfwatch/pkg/logx"
)

type sent struct {
	chatID, text, parseMode string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) SendText(ctx context.Context, chatID, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID, text, parseMode})
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func drain(ch <-chan eventbus.Event) []string {
	var out []string
	for {
		select {
		case e := <-ch:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

func TestSendUsesMarkdown(t *testing.T) {
	fs := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	n := New(Config{}, fs, logx.Nop(), bus, nil)
	n.Send(context.Background(), "42", "5 spots free")

	if fs.count() != 1 {
		t.Fatalf("sent %d messages", fs.count())
	}
	if got := fs.sent[0]; got.chatID != "42" || got.parseMode != ParseModeMarkdown || got.text != "5 spots free" {
		t.Fatalf("unexpected send %+v", got)
	}
	if types := drain(events); len(types) != 1 || types[0] != eventbus.TypeNotifierSent {
		t.Fatalf("events = %v", types)
	}
}

func TestSendSwallowsErrorsWithoutRetry(t *testing.T) {
	fs := &fakeSender{err: errors.New("Bad Request: chat not found")}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	n := New(Config{}, fs, logx.Nop(), bus, nil)
	n.Send(context.Background(), "42", "hello")

	if fs.count() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", fs.count())
	}
	if types := drain(events); len(types) != 1 || types[0] != eventbus.TypeNotifierFailed {
		t.Fatalf("events = %v", types)
	}
}

func TestSendSkipsEmptyInput(t *testing.T) {
	fs := &fakeSender{}
	n := New(Config{}, fs, logx.Nop(), nil, nil)
	n.Send(context.Background(), " ", "hello")
	n.Send(context.Background(), "42", "")
	if fs.count() != 0 {
		t.Fatalf("sent %d messages", fs.count())
	}
}

func TestDedupDisabledByDefault(t *testing.T) {
	fs := &fakeSender{}
	n := New(Config{}, fs, logx.Nop(), nil, nil)
	for range 3 {
		n.Send(context.Background(), "42", "same")
	}
	if fs.count() != 3 {
		t.Fatalf("sent %d, want 3", fs.count())
	}
}

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	fs := &fakeSender{}
	n := New(Config{DedupWindow: time.Hour}, fs, logx.Nop(), nil, nil)

	n.Send(context.Background(), "42", "same")
	n.Send(context.Background(), "42", "same")
	n.Send(context.Background(), "43", "same")
	n.Send(context.Background(), "42", "different")

	if fs.count() != 3 {
		t.Fatalf("sent %d, want 3", fs.count())
	}
}

func TestPersistedDedupSurvivesNewNotifier(t *testing.T) {
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "subscribers.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	cfg := Config{DedupWindow: time.Hour, PersistDedup: true}
	fs := &fakeSender{}
	New(cfg, fs, logx.Nop(), nil, st).Send(context.Background(), "42", "same")
	New(cfg, fs, logx.Nop(), nil, st).Send(context.Background(), "42", "same")

	if fs.count() != 1 {
		t.Fatalf("sent %d, want 1", fs.count())
	}
}

func TestCancelledContextSkipsSend(t *testing.T) {
	fs := &fakeSender{}
	n := New(Config{RatePerSec: 0.001}, fs, logx.Nop(), nil, nil)
	n.Send(context.Background(), "42", "first")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Send(ctx, "42", "second")
	if fs.count() != 1 {
		t.Fatalf("sent %d, want 1", fs.count())
	}
}

type blockingSender struct{}

func (blockingSender) SendText(ctx context.Context, _, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSendTimeoutBoundsSlowSender(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	n := New(Config{SendTimeout: 50 * time.Millisecond}, blockingSender{}, logx.Nop(), bus, nil)
	start := time.Now()
	n.Send(context.Background(), "42", "5 spots free")

	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("send took %v", took)
	}
	if types := drain(events); len(types) != 1 || types[0] != eventbus.TypeNotifierFailed {
		t.Fatalf("events = %v", types)
	}
}
