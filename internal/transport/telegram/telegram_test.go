package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type capturedSend struct {
	path string
	body map[string]any
}

func newFakeBotAPI(t *testing.T, status int, reply string) (*httptest.Server, func() []capturedSend) {
	t.Helper()
	var (
		mu   sync.Mutex
		sent []capturedSend
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		sent = append(sent, capturedSend{path: r.URL.Path, body: body})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedSend {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedSend(nil), sent...)
	}
}

const okReply = `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`

func TestSendTextUsesSendMessage(t *testing.T) {
	srv, sent := newFakeBotAPI(t, http.StatusOK, okReply)
	s, err := New(Config{Token: "TOKEN", APIURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	err = s.SendText(context.Background(), "42", "5 spots free", "Markdown")
	require.NoError(t, err)

	got := sent()
	require.Len(t, got, 1)
	require.Equal(t, "/botTOKEN/sendMessage", got[0].path)
	require.Equal(t, "42", got[0].body["chat_id"])
	require.Equal(t, "Markdown", got[0].body["parse_mode"])
	require.Equal(t, "5 spots free", got[0].body["text"])
}

func TestSendTextReturnsAPIError(t *testing.T) {
	srv, _ := newFakeBotAPI(t, http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	s, err := New(Config{Token: "TOKEN", APIURL: srv.URL})
	require.NoError(t, err)

	err = s.SendText(context.Background(), "42", "hello", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
}

func TestSendTextHonorsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okReply))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	s, err := New(Config{Token: "TOKEN", APIURL: srv.URL, Timeout: 10 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = s.SendText(ctx, "42", "hello", "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestNewRejectsEmptyToken(t *testing.T) {
	_, err := New(Config{Token: "  "})
	require.Error(t, err)
}

func TestSendTextRejectsEmptyChat(t *testing.T) {
	srv, sent := newFakeBotAPI(t, http.StatusOK, okReply)
	s, err := New(Config{Token: "TOKEN", APIURL: srv.URL})
	require.NoError(t, err)
	require.Error(t, s.SendText(context.Background(), " ", "hello", ""))
	require.Empty(t, sent())
}

func TestSplitText(t *testing.T) {
	short := splitText("hello", 10)
	if len(short) != 1 || short[0] != "hello" {
		t.Fatalf("short split = %q", short)
	}

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	parts := splitText(long, 10)
	if len(parts) != 2 || parts[0] != strings.Repeat("a", 8) || parts[1] != strings.Repeat("b", 8) {
		t.Fatalf("newline split = %q", parts)
	}

	hard := splitText(strings.Repeat("x", 25), 10)
	if len(hard) != 3 || len(hard[2]) != 5 {
		t.Fatalf("hard split = %q", hard)
	}
}
