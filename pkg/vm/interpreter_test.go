package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildgraph/don/pkg/heap"
	"github.com/buildgraph/don/pkg/workqueue"
)

func TestRunTargetEchoesRenderedArguments(t *testing.T) {
	linked := compile(t, "default:\n    echo(\"hello\", 1 + 1)\n")
	ctx := heap.NewContext()
	queue := workqueue.New()
	var got []string
	queue.Register("echo", func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		for _, a := range args {
			got = append(got, ctx.Render(a))
		}
		return ctx.Null, nil
	})

	interp := NewInterpreter(ctx, linked, queue)
	require.NoError(t, interp.RunTarget("default"))
	require.Equal(t, []string{"hello", "2"}, got)
}

func TestRunTargetVarargOverflowIsPackedIntoAList(t *testing.T) {
	src := "build(name, ...files):\n    size(files)\ndefault:\n    build(\"app\", \"a.go\", \"b.go\", \"c.go\")\n"
	linked := compile(t, src)
	ctx := heap.NewContext()
	queue := workqueue.New()
	var sawSize heap.Ref
	queue.Register("size", func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		sawSize = heap.BoxInteger(int64(ctx.Size(args[0])))
		return sawSize, nil
	})

	interp := NewInterpreter(ctx, linked, queue)
	require.NoError(t, interp.RunTarget("default"))
	require.Equal(t, int64(3), ctx.UnboxInteger(sawSize))
}

func TestRunTargetsSharesFieldStateAcrossTargets(t *testing.T) {
	src := "counter = 0\nbump:\n    counter = counter + 1\ndefault:\n    echo(counter)\n"
	linked := compile(t, src)
	ctx := heap.NewContext()
	queue := workqueue.New()
	var echoed []string
	queue.Register("echo", func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		echoed = append(echoed, ctx.Render(args[0]))
		return ctx.Null, nil
	})

	interp := NewInterpreter(ctx, linked, queue)
	require.NoError(t, interp.RunTargets([]string{"bump", "bump", "default"}))
	require.Equal(t, []string{"2"}, echoed)
}

func TestRunTargetsRejectsAnUnknownTargetBeforeRunningAnything(t *testing.T) {
	linked := compile(t, "default:\n    echo(\"x\")\n")
	ctx := heap.NewContext()
	queue := workqueue.New()
	ran := false
	queue.Register("echo", func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		ran = true
		return ctx.Null, nil
	})

	interp := NewInterpreter(ctx, linked, queue)
	err := interp.RunTargets([]string{"default", "nope"})
	require.Error(t, err)
	require.False(t, ran, "no target should run once any requested name fails to resolve")
}

func TestRunTargetResolvesASpeculativeBranchToItsRealOutcome(t *testing.T) {
	src := "default:\n    if exec(\"check\")\n        echo(\"true-branch\")\n    else\n        echo(\"false-branch\")\n"
	linked := compile(t, src)
	ctx := heap.NewContext()
	queue := workqueue.New()
	queue.Register("exec", func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) { return ctx.True, nil })
	var echoed string
	queue.Register("echo", func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		echoed = ctx.Render(args[0])
		return ctx.Null, nil
	})

	interp := NewInterpreter(ctx, linked, queue)
	require.NoError(t, interp.RunTarget("default"))
	require.Equal(t, "true-branch", echoed)
}

func TestRunTargetArithmeticThenConcreteIf(t *testing.T) {
	linked := compile(t, "default:\n    x = 1 + 2\n    if x == 3\n        echo(\"ok\")\n")
	ctx := heap.NewContext()
	queue := workqueue.New()
	var echoed string
	queue.Register("echo", func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		echoed = ctx.Render(args[0])
		return ctx.Null, nil
	})

	interp := NewInterpreter(ctx, linked, queue)
	require.NoError(t, interp.RunTarget("default"))
	require.Equal(t, "ok", echoed)
}
