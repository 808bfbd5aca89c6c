package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

type recordingCompiler struct {
	mu       sync.Mutex
	calls    map[string]int
	busyOnce map[string]bool
}

func (c *recordingCompiler) Compile(_ context.Context, name, _ string) (*compile.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busyOnce[name] {
		delete(c.busyOnce, name)
		return nil, ferrors.Busy("document is being compiled").Build()
	}
	c.calls[name]++
	return &compile.Job{ID: "job", Document: name}, nil
}

func (c *recordingCompiler) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func startWatcher(t *testing.T, busy map[string]bool) (*workspace.Store, *recordingCompiler) {
	t.Helper()
	store, err := workspace.NewStore(t.TempDir(), 1<<20)
	require.NoError(t, err)
	// An existing document is watched from the start.
	require.NoError(t, store.WriteSource("existing", "v1"))

	rc := &recordingCompiler{calls: map[string]int{}, busyOnce: busy}
	w, err := New(store.Root(), rc, "", 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return store, rc
}

func TestWatcher_DebouncesBurstOfSaves(t *testing.T) {
	store, rc := startWatcher(t, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.WriteSource("existing", "edit"))
	}
	require.Eventually(t, func() bool { return rc.count("existing") == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, rc.count("existing"))
}

func TestWatcher_PicksUpNewDocuments(t *testing.T) {
	store, rc := startWatcher(t, nil)

	require.NoError(t, store.WriteSource("fresh", "x"))
	// The directory watch is added asynchronously; a second save is always seen.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, store.WriteSource("fresh", "y"))

	require.Eventually(t, func() bool { return rc.count("fresh") >= 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_RetriesWhenBusy(t *testing.T) {
	store, rc := startWatcher(t, map[string]bool{"existing": true})

	require.NoError(t, store.WriteSource("existing", "edit"))
	require.Eventually(t, func() bool { return rc.count("existing") == 1 }, 3*time.Second, 10*time.Millisecond)
}

type blockingCompiler struct {
	once     sync.Once
	started  chan struct{}
	release  chan struct{}
	mu       sync.Mutex
	finished bool
}

func (c *blockingCompiler) Compile(_ context.Context, name, _ string) (*compile.Job, error) {
	c.once.Do(func() { close(c.started) })
	<-c.release
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
	return &compile.Job{ID: "job", Document: name}, nil
}

func (c *blockingCompiler) done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func TestWatcher_StopWaitsForRunningCompile(t *testing.T) {
	store, err := workspace.NewStore(t.TempDir(), 1<<20)
	require.NoError(t, err)
	require.NoError(t, store.WriteSource("existing", "v1"))

	bc := &blockingCompiler{started: make(chan struct{}), release: make(chan struct{})}
	w, err := New(store.Root(), bc, "", 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, store.WriteSource("existing", "edit"))
	select {
	case <-bc.started:
	case <-time.After(3 * time.Second):
		t.Fatal("automatic compile never started")
	}

	// A bounded Stop gives up while the compile is still running.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Stop(ctx), context.DeadlineExceeded)
	assert.False(t, bc.done())

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop(context.Background()) }()
	select {
	case <-stopped:
		t.Fatal("Stop returned before the running compile finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(bc.release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after the compile finished")
	}
	assert.True(t, bc.done())
}
