package sweep

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// fakeLocker reports the listed documents as busy.
type fakeLocker struct {
	busy map[string]bool
}

func (l fakeLocker) WithLock(name string, fn func(string) error) error {
	if l.busy[name] {
		return ferrors.Busy("document is being compiled").Build()
	}
	return fn(name)
}

func staleTemp(t *testing.T, store *workspace.Store, name string) string {
	t.Helper()
	require.NoError(t, store.WriteSource(name, "x"))
	p := filepath.Join(store.Root(), name, ".tmp-"+name+".tex-999")
	require.NoError(t, os.WriteFile(p, nil, 0o600))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(p, old, old))
	return p
}

func TestSweepOnce(t *testing.T) {
	store, err := workspace.NewStore(t.TempDir(), 1024)
	require.NoError(t, err)

	idle := staleTemp(t, store, "idle")
	busy := staleTemp(t, store, "busy")

	s, err := New(store, fakeLocker{busy: map[string]bool{"busy": true}}, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	removed, err := s.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(idle)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(busy)
	assert.NoError(t, err, "busy documents are left alone")

	// Sources survive.
	_, err = store.ReadSource("idle")
	assert.NoError(t, err)
}

func TestStart(t *testing.T) {
	store, err := workspace.NewStore(t.TempDir(), 1024)
	require.NoError(t, err)
	s, err := New(store, fakeLocker{}, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	_, err = s.Start(0)
	assert.Error(t, err)

	id, err := s.Start(time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
