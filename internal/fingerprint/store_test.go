package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Roundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache", "store.json")

	s := OpenStoreAt(path, nil)
	_, ok := s.Get("build")
	assert.False(t, ok)

	entry := Entry{
		Digest:     "deadbeef",
		Outputs:    []string{"dist/app"},
		RecordedAt: time.Now().UTC().Truncate(time.Second),
	}
	s.Put("build", entry)
	require.NoError(t, s.Flush())

	reopened := OpenStoreAt(path, nil)
	got, ok := reopened.Get("build")
	require.True(t, ok)
	assert.Equal(t, entry.Digest, got.Digest)
	assert.Equal(t, entry.Outputs, got.Outputs)
	assert.True(t, entry.RecordedAt.Equal(got.RecordedAt))
}

func TestStore_FlushWithoutChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.json")
	s := OpenStoreAt(path, nil)

	require.NoError(t, s.Flush())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "clean store must not touch disk")
}

func TestStore_CorruptFileDegradesToEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := OpenStoreAt(path, nil)
	_, ok := s.Get("anything")
	assert.False(t, ok)

	// The degraded store still accepts and persists new entries.
	s.Put("build", Entry{Digest: "abc", Outputs: []string{"out"}})
	require.NoError(t, s.Flush())

	reopened := OpenStoreAt(path, nil)
	got, ok := reopened.Get("build")
	require.True(t, ok)
	assert.Equal(t, "abc", got.Digest)
}

func TestStorePath_DistinctPerProject(t *testing.T) {
	a, err := StorePath(t.TempDir())
	require.NoError(t, err)
	b, err := StorePath(t.TempDir())
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, filepath.Dir(a), filepath.Dir(b))
}
