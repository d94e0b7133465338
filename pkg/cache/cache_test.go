package cache

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestCacheMissThenHitWithinOneRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	c, err := Open(fs, "/cache")
	require.NoError(t, err)

	digest := Sum([]byte("gcc -c main.c"))
	_, ok := c.Get(digest)
	require.False(t, ok)

	require.NoError(t, c.SetUptodate(digest, []byte("object code")))

	payload, ok := c.Get(digest)
	require.True(t, ok)
	require.Equal(t, "object code", string(payload))
}

func TestCacheEntryPersistsAcrossCloseAndReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	c, err := Open(fs, "/cache")
	require.NoError(t, err)

	digest := Sum([]byte("make all"))
	require.NoError(t, c.SetUptodate(digest, []byte("build output")))
	require.NoError(t, c.Close())

	c2, err := Open(fs, "/cache")
	require.NoError(t, err)
	payload, ok := c2.Get(digest)
	require.True(t, ok)
	require.Equal(t, "build output", string(payload))
}

func TestCacheSupersededEntryIsNotDuplicatedOnRewrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	c, err := Open(fs, "/cache")
	require.NoError(t, err)

	digest := Sum([]byte("cc -O2 a.c"))
	require.NoError(t, c.SetUptodate(digest, []byte("v1")))
	require.NoError(t, c.Close())

	c2, err := Open(fs, "/cache")
	require.NoError(t, err)
	require.NoError(t, c2.SetUptodate(digest, []byte("v2")))
	require.NoError(t, c2.Close())

	c3, err := Open(fs, "/cache")
	require.NoError(t, err)
	payload, ok := c3.Get(digest)
	require.True(t, ok)
	require.Equal(t, "v2", string(payload))
	require.Len(t, c3.oldEntries, entry{hash: digest, data: []byte("v2")}.size())
}

func TestCacheSurvivesManyRebuildCycles(t *testing.T) {
	fs := afero.NewMemMapFs()
	for i := 0; i < 5; i++ {
		c, err := Open(fs, "/cache")
		require.NoError(t, err)
		digest := Sum([]byte{byte(i)})
		require.NoError(t, c.SetUptodate(digest, []byte{byte(i), byte(i)}))
		require.NoError(t, c.Close())
	}

	c, err := Open(fs, "/cache")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		payload, ok := c.Get(Sum([]byte{byte(i)}))
		require.True(t, ok, "entry %d should have survived", i)
		require.Equal(t, []byte{byte(i), byte(i)}, payload)
	}
}

func TestDigestSumIsDeterministic(t *testing.T) {
	a := Sum([]byte("same input"))
	b := Sum([]byte("same input"))
	require.Equal(t, a, b)
	c := Sum([]byte("different input"))
	require.NotEqual(t, a, c)
}
