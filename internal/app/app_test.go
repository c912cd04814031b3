package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"impfwatch/internal/config"
	"impfwatch/internal/poller"
	"impfwatch/internal/registry"
	"impfwatch/internal/storage"
	"impfwatch/pkg/logx"

	"github.com/stretchr/testify/require"
)

const okReply = `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`

func clearEnv(t *testing.T) {
	t.Setenv(config.EnvTelegramToken, "")
	t.Setenv(config.EnvBirthDate, "")
}

// quietAway returns a one-hour quiet window in UTC that starts six hours from now.
func quietAway() (string, string) {
	now := time.Now().UTC()
	start := now.Add(6 * time.Hour)
	end := start.Add(time.Hour)
	return start.Format("15:04"), end.Format("15:04")
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func seedRegistry(t *testing.T, path string, regions []registry.Region) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.SaveRegions(context.Background(), regions))
	require.NoError(t, st.Close())
}

func TestNewAppRejectsEmptyRegistry(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, fmt.Sprintf(`
telegram: {token: "T"}
availability: {birth_date: "1990-01-01"}
storage: {driver: file, path: %q}
logging: {level: error}
`, filepath.Join(dir, "subscribers.json")))

	_, err := NewApp(cfgPath)
	require.ErrorIs(t, err, registry.ErrEmptyRegistry)
}

func TestNewAppRequiresToken(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `
telegram: {token: ""}
availability: {birth_date: "1990-01-01"}
logging: {level: error}
`)
	_, err := NewApp(cfgPath)
	var missing *config.MissingConfigError
	require.True(t, errors.As(err, &missing), "err = %v", err)
	require.Equal(t, "telegram.token", missing.Field)
}

func TestAppPollsAndNotifies(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	avail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultList":[{"name":"Messe","vaccineName":"BioNTech","freeSlotSizeOnline":3,"firstAppoinmentDateSorterOnline":1620000000000,"outOfStock":false}]}`))
	}))
	defer avail.Close()

	var (
		mu    sync.Mutex
		chats []string
	)
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		chats = append(chats, fmt.Sprint(body["chat_id"]))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okReply))
	}))
	defer bot.Close()

	regPath := filepath.Join(dir, "subscribers.json")
	seedRegistry(t, regPath, []registry.Region{
		{Key: "30000", Subscribers: []registry.Subscriber{{ID: "11", Name: "alice"}, {ID: "12", Name: "bob"}}},
	})

	qs, qe := quietAway()
	cfgPath := writeConfig(t, dir, fmt.Sprintf(`
telegram: {token: "T", api_url: %q, timeout: 2s}
availability: {endpoint: %q, birth_date: "1990-01-01", rate_per_sec: 100}
poll: {interval: 1h, quiet_start: %q, quiet_end: %q, timezone: UTC}
storage: {driver: file, path: %q}
logging: {level: error}
`, bot.URL, avail.URL, qs, qe, regPath))

	a, err := NewApp(cfgPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chats) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"11", "12"}, chats)
	mu.Unlock()
	require.Eventually(t, func() bool { return !a.poll.LastIteration().IsZero() }, 5*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))
	require.NoError(t, a.Err())
}

func TestMapPollerConfigDefaults(t *testing.T) {
	cfg := &config.Config{Availability: config.AvailabilityConfig{BirthDate: "1990-01-01"}}
	pc, err := mapPollerConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, pc.Interval.Every)
	require.Equal(t, poller.QuietWindow{Start: poller.Clock(23, 0, 0), End: poller.Clock(7, 0, 0)}, pc.Quiet)
	require.Equal(t, 2*time.Hour, pc.QuietSleep)
	require.Equal(t, 2*time.Minute, pc.FailureBackoff)
	require.Equal(t, poller.AbortPass, pc.OnQueryFailure)
}

func TestMapPollerConfigRejectsBadValues(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{Availability: config.AvailabilityConfig{BirthDate: "1990-01-01"}}
	}
	cases := map[string]func(c *config.Config){
		"interval": func(c *config.Config) { c.Poll.Interval = "often" },
		"quiet":    func(c *config.Config) { c.Poll.QuietStart = "25:00" },
		"policy":   func(c *config.Config) { c.Poll.OnQueryFailure = "retry" },
		"timezone": func(c *config.Config) { c.Poll.Timezone = "Mars/Olympus" },
		"birth":    func(c *config.Config) { c.Availability.BirthDate = "yesterday" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		_, err := mapPollerConfig(cfg)
		require.Error(t, err, name)
	}
}

func TestMapStorageConfig(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	require.Equal(t, storage.Config{Driver: "file", Path: defaultStoragePath}, sc)

	sc, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite3", Path: "x.db"}})
	require.NoError(t, err)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, time.Second, sc.BusyTimeout)

	_, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}})
	require.Error(t, err)
	_, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "redis"}})
	require.Error(t, err)
}

func TestMapNotifierConfig(t *testing.T) {
	nc, err := mapNotifierConfig(&config.Config{})
	require.NoError(t, err)
	require.Equal(t, float64(20), nc.RatePerSec)
	require.Zero(t, nc.DedupWindow)

	nc, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{RatePerSec: 5, DedupWindow: "1h"}})
	require.NoError(t, err)
	require.Equal(t, float64(5), nc.RatePerSec)
	require.Equal(t, time.Hour, nc.DedupWindow)
	require.Equal(t, 10*time.Second, nc.SendTimeout)

	_, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{RatePerSec: -1}})
	require.Error(t, err)
}

func TestMapLoggingConfigDefaultsFilePath(t *testing.T) {
	lc := mapLoggingConfig(&config.Config{Logging: config.LoggingConfig{
		File:     config.LoggingFile{Enabled: true},
		Telegram: config.LoggingTelegram{RatePerSec: 0.5},
	}})
	require.Equal(t, "./impfwatch.log", lc.File.Path)
	require.Equal(t, 1, lc.Telegram.RatePerSec)
}
