package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/media"
)

func newCountingManager(t *testing.T) (*Manager, map[string]int) {
	t.Helper()
	m, err := NewManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	removed := make(map[string]int)
	m.remove = func(path string) error {
		removed[path]++
		return os.Remove(path)
	}
	return m, removed
}

func writeArtifact(t *testing.T, m *Manager, name string) media.Artifact {
	t.Helper()
	path := filepath.Join(m.Dir(), name)
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))
	return media.Artifact{Path: path, SizeBytes: 7, OwningJob: "job"}
}

func TestDeliverRemovesOnSuccess(t *testing.T) {
	t.Parallel()

	m, removed := newCountingManager(t)
	a := writeArtifact(t, m, "job.mp4")

	var delivered media.Artifact
	err := m.Deliver(context.Background(), a, func(_ context.Context, got media.Artifact) error {
		delivered = got
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, a, delivered)
	require.Equal(t, 1, removed[a.Path])
	require.NoFileExists(t, a.Path)
}

func TestDeliverRemovesOnFailure(t *testing.T) {
	t.Parallel()

	m, removed := newCountingManager(t)
	a := writeArtifact(t, m, "job.mp4")

	err := m.Deliver(context.Background(), a, func(context.Context, media.Artifact) error {
		return errors.New("upload rejected")
	})
	var deliveryErr *media.DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	require.Equal(t, a.Path, deliveryErr.Path)
	require.Equal(t, 1, removed[a.Path])
	require.NoFileExists(t, a.Path)
}

func TestDeliverRemovesOnPanic(t *testing.T) {
	t.Parallel()

	m, removed := newCountingManager(t)
	a := writeArtifact(t, m, "job.mp4")

	err := m.Deliver(context.Background(), a, func(context.Context, media.Artifact) error {
		panic("boom")
	})
	require.ErrorContains(t, err, "panicked")
	require.Equal(t, 1, removed[a.Path])
}

func TestDeliverMissingArtifact(t *testing.T) {
	t.Parallel()

	m, _ := newCountingManager(t)
	called := false
	err := m.Deliver(context.Background(), media.Artifact{Path: filepath.Join(m.Dir(), "gone.mp4")},
		func(context.Context, media.Artifact) error {
			called = true
			return nil
		})
	require.ErrorIs(t, err, media.ErrArtifactMissing)
	require.False(t, called)
}

func TestDeliverSwallowsRemovalFailure(t *testing.T) {
	t.Parallel()

	m, _ := newCountingManager(t)
	m.remove = func(string) error { return errors.New("read-only filesystem") }
	a := writeArtifact(t, m, "job.mp4")

	err := m.Deliver(context.Background(), a, func(context.Context, media.Artifact) error { return nil })
	require.NoError(t, err)
}

func TestDeliverLeavesForeignPathsAlone(t *testing.T) {
	t.Parallel()

	m, removed := newCountingManager(t)
	foreign := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("x"), 0o600))

	require.NoError(t, m.Deliver(context.Background(), media.Artifact{Path: foreign},
		func(context.Context, media.Artifact) error { return nil }))
	require.Zero(t, removed[foreign])
	require.FileExists(t, foreign)
}

func TestDiscardSweepsJobPrefix(t *testing.T) {
	t.Parallel()

	m, _ := newCountingManager(t)
	part := writeArtifact(t, m, "job-9.f137.mp4.part")
	frag := writeArtifact(t, m, "job-9.webm")
	other := writeArtifact(t, m, "job-10.mp4")

	m.Discard("job-9")
	require.NoFileExists(t, part.Path)
	require.NoFileExists(t, frag.Path)
	require.FileExists(t, other.Path)

	m.Discard("*")
	require.FileExists(t, other.Path)
}

func TestNewManagerRejectsFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err := NewManager(file, nil)
	require.ErrorContains(t, err, "not a directory")

	_, err = NewManager(" ", nil)
	require.Error(t, err)
}

func TestNewManagerCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "dl")
	m, err := NewManager(dir, nil)
	require.NoError(t, err)
	require.DirExists(t, m.Dir())
}

func TestDeliverRemovesAbsolutePathUnderRelativeDir(t *testing.T) {
	base := t.TempDir()
	t.Chdir(base)

	m, err := NewManager("dl", nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "dl"), m.Dir())

	path := filepath.Join(base, "dl", "job-1.mp4")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	err = m.Deliver(context.Background(), media.Artifact{Path: path, OwningJob: "job-1"},
		func(context.Context, media.Artifact) error { return nil })
	require.NoError(t, err)
	require.NoFileExists(t, path)

	rel := filepath.Join("dl", "job-2.mp4")
	require.NoError(t, os.WriteFile(rel, []byte("payload"), 0o600))
	m.Discard("job-2")
	require.NoFileExists(t, filepath.Join(base, "dl", "job-2.mp4"))
}
