package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func tempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("storage: {driver: file, path: %q}\n", filepath.Join(dir, "subscribers.json"))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestAddListRemove(t *testing.T) {
	cfg := tempConfig(t)

	out, err := run(t, "--config", cfg, "--add", "--region", "30000", "--id", "123", "--name", "alice")
	require.NoError(t, err)
	require.Contains(t, out, "added alice to region 30000")

	_, err = run(t, "--config", cfg, "--add", "--region", "26121", "--id", "456")
	require.NoError(t, err)

	out, err = run(t, "--config", cfg, "subscribers", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[1], "30000")
	require.Contains(t, lines[1], "alice")
	require.Contains(t, lines[2], "26121")

	out, err = run(t, "--config", cfg, "--remove", "ALICE")
	require.NoError(t, err)
	require.Contains(t, out, "removed 1 subscriber(s)")

	out, err = run(t, "--config", cfg, "subscribers", "list")
	require.NoError(t, err)
	require.NotContains(t, out, "alice")
}

func TestAddRequiresRegionAndID(t *testing.T) {
	_, err := run(t, "--config", tempConfig(t), "--add", "--region", "30000")
	require.Error(t, err)
}

func TestAddAndRemoveAreExclusive(t *testing.T) {
	_, err := run(t, "--config", tempConfig(t), "--add", "--remove", "bob", "--region", "1", "--id", "2")
	require.Error(t, err)
}

func TestListEmptyRegistry(t *testing.T) {
	out, err := run(t, "--config", tempConfig(t), "subscribers", "list")
	require.NoError(t, err)
	require.Contains(t, out, "no subscribers registered")
}
