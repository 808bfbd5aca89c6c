package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/engine"
)

const fakeEngine = `#!/bin/sh
for a; do last=$a; done
job=${last%.tex}
printf 'Output written.\n' > "$job.log"
printf '%%PDF-1.5 fake' > "$job.pdf"
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.Root = t.TempDir()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Watch.Enabled = true
	cfg.Sweep.Enabled = true
	cfg.Compile.RerunPolicy = config.RerunSingle
	return cfg
}

func noLookPath(string) (string, error) { return "", errors.New("not found") }

func TestDaemon_StartStop(t *testing.T) {
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, engine.PDFLaTeX), []byte(fakeEngine), 0o755))

	cfg := testConfig(t)
	// Keep the watcher from racing the explicit compile below.
	cfg.Watch.Debounce = config.Duration(time.Minute)
	d, err := newWithDiscovery(cfg, engine.DiscoverOptions{SearchPaths: []string{bin}, LookPath: noLookPath})
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, d.GetStatus())
	require.NotNil(t, d.watcher)
	require.NotNil(t, d.sweeper)

	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()
	require.Eventually(t, func() bool { return d.GetStatus() == StatusRunning }, 5*time.Second, 10*time.Millisecond)

	// The coordinator compiles through the discovered engine.
	require.NoError(t, d.Coordinator().Save(context.Background(), "hello", "\\documentclass{article}\n"))
	job, err := d.Coordinator().Compile(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.True(t, job.Succeeded())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, StatusStopped, d.GetStatus())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	// Stop is idempotent.
	require.NoError(t, d.Stop(ctx))
}

func TestDaemon_StartReturnsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watch.Enabled = false
	cfg.Sweep.Enabled = false
	d, err := newWithDiscovery(cfg, engine.DiscoverOptions{LookPath: noLookPath})
	require.NoError(t, err)
	assert.Nil(t, d.watcher)
	assert.Nil(t, d.sweeper)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	require.Eventually(t, func() bool { return d.GetStatus() == StatusRunning }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	require.NoError(t, d.Stop(context.Background()))
}

func TestDaemon_StartTwiceFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watch.Enabled = false
	d, err := newWithDiscovery(cfg, engine.DiscoverOptions{LookPath: noLookPath})
	require.NoError(t, err)

	go func() { _ = d.Start(context.Background()) }()
	require.Eventually(t, func() bool { return d.GetStatus() == StatusRunning }, 5*time.Second, 10*time.Millisecond)

	assert.Error(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
}

func TestDaemon_BindFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watch.Enabled = false
	cfg.Sweep.Enabled = false
	cfg.Server.Address = "256.0.0.1:99999"
	d, err := newWithDiscovery(cfg, engine.DiscoverOptions{LookPath: noLookPath})
	require.NoError(t, err)

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusError, d.GetStatus())
}
