package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "hook:\n  enabled: true\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) error {
		reloaded <- cfg
		return nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	assert.True(t, w.IsRunning())

	require.NoError(t, os.WriteFile(path, []byte("hook:\n  enabled: false\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if !cfg.Hook.Enabled {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestWatcher_IgnoresInvalidFile(t *testing.T) {
	path := writeConfig(t, "hook:\n  enabled: true\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) error {
		reloaded <- cfg
		return nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: chatty\n"), 0o600))

	select {
	case <-reloaded:
		t.Fatal("invalid configuration must not be applied")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := writeConfig(t, "")
	w, err := NewWatcher(path, func(*Config) error { return nil }, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	assert.NotPanics(t, func() { _ = w.Stop() })
}
