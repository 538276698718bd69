package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalien/internal/emulator"
	"smalien/internal/tracker"
)

func entry(digest string, leaks int) *Entry {
	res := tracker.NewResults()
	for i := range leaks {
		res.Leaks = append(res.Leaks, &tracker.Leak{Class: "La/Main;", Method: "run()V", Line: 10 + i, Sources: []string{"IMEI"}})
	}
	return &Entry{
		Digest:  digest,
		Program: "app.yaml",
		Trace:   "trace.log",
		Results: &emulator.Results{Results: res, Coverage: 42, Directives: 7},
	}
}

func TestDigest(t *testing.T) {
	d, err := Digest(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", d)
}

func TestPutGet(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(entry("aa", 2)))
	got, ok, err := s.Get("aa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.StoredAt.IsZero())
	assert.Equal(t, 2, got.Results.NumLeaks())
	assert.Equal(t, 7, got.Results.Directives)
	assert.InDelta(t, 42.0, got.Results.Coverage, 1e-9)

	require.Error(t, s.Put(&Entry{}))
}

func TestListAndDelete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer s.Close()

	for _, d := range []string{"cc", "aa", "bb"} {
		require.NoError(t, s.Put(entry(d, 1)))
	}
	require.NoError(t, s.Put(entry("bb", 3)))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "aa", list[0].Digest)
	assert.Equal(t, "bb", list[1].Digest)
	assert.Equal(t, 3, list[1].Results.NumLeaks(), "a rerun replaces the entry")

	require.NoError(t, s.Delete("aa"))
	list, err = s.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
