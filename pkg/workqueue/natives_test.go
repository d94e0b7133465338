package workqueue

import (
	"os/exec"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/buildgraph/don/pkg/cache"
	"github.com/buildgraph/don/pkg/heap"
)

func TestSetenvGetenvRoundTrip(t *testing.T) {
	ctx := heap.NewContext()
	e := newEnv()
	set := setenvHandler(e)
	get := getenvHandler(e)

	_, err := set(ctx, []heap.Ref{ctx.CreateString([]byte("FOO")), ctx.CreateString([]byte("bar"))})
	require.NoError(t, err)

	got, err := get(ctx, []heap.Ref{ctx.CreateString([]byte("FOO"))})
	require.NoError(t, err)
	require.Equal(t, "bar", ctx.Render(got))
}

func TestGetenvOfUnsetVariableReturnsEmptyStringNotNull(t *testing.T) {
	ctx := heap.NewContext()
	e := newEnv()
	get := getenvHandler(e)

	got, err := get(ctx, []heap.Ref{ctx.CreateString([]byte("DOES_NOT_EXIST_IN_THIS_ENV"))})
	require.NoError(t, err)
	require.NotEqual(t, ctx.Null, got)
	require.Equal(t, "", ctx.Render(got))
}

func TestNewEnvForcesDumbTerminalAndStripsColorterm(t *testing.T) {
	e := newEnv()
	require.Equal(t, "dumb", e.get("TERM"))
	_, hasColorterm := e.vars["COLORTERM"]
	require.False(t, hasColorterm)
}

func TestGlobMatchesFilesOnAnInMemoryFilesystem(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/a.go", []byte("package a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/b.go", []byte("package b"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/readme.md", []byte("hi"), 0o644))

	ctx := heap.NewContext()
	handler := globHandler(fs)
	result, err := handler(ctx, []heap.Ref{ctx.CreateString([]byte("/src/*.go"))})
	require.NoError(t, err)
	require.Equal(t, 2, ctx.Size(result))
}

func TestExecMemoizesByArgumentDigest(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available on this system")
	}

	fs := afero.NewMemMapFs()
	store, err := cache.Open(fs, "/cache")
	require.NoError(t, err)

	ctx := heap.NewContext()
	e := newEnv()
	handler := execHandler(store, e)

	args := []heap.Ref{ctx.CreateString([]byte("echo")), ctx.CreateString([]byte("hello"))}
	first, err := handler(ctx, args)
	require.NoError(t, err)
	require.Contains(t, ctx.Render(first), "hello")

	digest := execDigest(ctx, args)
	payload, ok := store.Get(digest)
	require.True(t, ok)
	require.Equal(t, ctx.Render(first), string(payload))

	second, err := handler(ctx, args)
	require.NoError(t, err)
	require.Equal(t, ctx.Render(first), ctx.Render(second))
}
