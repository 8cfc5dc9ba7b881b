package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, ws string) (<-chan *Config, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, ws, func(c *Config) { changed <- c })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Let the watcher attach before the caller writes.
	time.Sleep(50 * time.Millisecond)
	return changed, cancel
}

func TestWatchReloadsOnWrite(t *testing.T) {
	ws := t.TempDir()
	cfg := Default()
	require.NoError(t, cfg.Save(ws))

	changed, _ := startWatcher(t, ws)

	cfg.Orchestrator.MaxConcurrentAgents = 7
	require.NoError(t, cfg.Save(ws))

	select {
	case got := <-changed:
		assert.Equal(t, 7, got.Orchestrator.MaxConcurrentAgents)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatchKeepsPreviousConfigOnBadEdit(t *testing.T) {
	ws := t.TempDir()
	cfg := Default()
	require.NoError(t, cfg.Save(ws))

	changed, _ := startWatcher(t, ws)

	// Broken YAML must not reach onChange.
	require.NoError(t, os.WriteFile(Path(ws), []byte("{{{ not yaml"), 0644))
	select {
	case got := <-changed:
		t.Fatalf("invalid edit delivered a config: %+v", got)
	case <-time.After(300 * time.Millisecond):
	}

	// A subsequent valid edit still lands.
	cfg.Orchestrator.MaxConcurrentAgents = 3
	require.NoError(t, cfg.Save(ws))
	select {
	case got := <-changed:
		assert.Equal(t, 3, got.Orchestrator.MaxConcurrentAgents)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload after recovery")
	}
}
