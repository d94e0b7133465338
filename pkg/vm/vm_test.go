package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildgraph/don/pkg/bytecode"
	"github.com/buildgraph/don/pkg/heap"
	"github.com/buildgraph/don/pkg/linker"
	"github.com/buildgraph/don/pkg/parser"
	"github.com/buildgraph/don/pkg/workqueue"
)

func compile(t *testing.T, src string) *bytecode.Program {
	t.Helper()
	prog, diags, hasErrs := parser.Parse("t.don", src)
	require.False(t, hasErrs, "parse: %v", diags)
	linked, errs, hasErrs := linker.Link(prog)
	require.False(t, hasErrs, "link: %v", errs)
	return linked
}

// TestStepForksOnPendingBranchCondition drives a VM by hand, one Step at a
// time, so the work queue is never drained between the native call that
// produces the branch's condition and the branch instruction itself --
// exactly the circumstance under which stepBranch must fork rather than
// block, per spec.md's speculative execution model.
func TestStepForksOnPendingBranchCondition(t *testing.T) {
	linked := compile(t, "default:\n    if exec(\"check\")\n        echo(\"yes\")\n    else\n        echo(\"no\")\n")
	ctx := heap.NewContext()
	queue := workqueue.New()
	queue.Register("exec", func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) { return ctx.True, nil })
	queue.Register("echo", func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) { return ctx.Null, nil })

	root := New(ctx, linked, queue)
	root.Invoke(linked.Targets["default"], nil)

	res := root.Step() // OpFunction
	require.Equal(t, OutContinue, res.Outcome)
	res = root.Step() // OpStoreConstant ("check")
	require.Equal(t, OutContinue, res.Outcome)
	res = root.Step() // OpInvokeNative: enqueues but does not resolve
	require.Equal(t, OutContinue, res.Outcome)
	require.Equal(t, 1, queue.Len())

	res = root.Step() // OpBranchFalse: condition is still a pending Future
	require.Equal(t, OutSpeculate, res.Outcome)
	require.NotNil(t, res.TrueChild)
	require.NotNil(t, res.FalseChild)
	require.NotEqual(t, res.TrueChild.pathCondition, res.FalseChild.pathCondition)
	require.NotSame(t, res.TrueChild, res.FalseChild)
}

func TestPruneDeadBranchDropsTheConcretelyFalseSide(t *testing.T) {
	ctx := heap.NewContext()
	queue := workqueue.New()
	linked := compile(t, "default:\n    echo(\"x\")\n")
	parent := New(ctx, linked, queue)

	trueChild := parent.clone()
	trueChild.pathCondition = ctx.True
	falseChild := parent.clone()
	falseChild.pathCondition = ctx.False

	live := pruneDeadBranch(ctx, trueChild, falseChild)
	require.Len(t, live, 1)
	require.Same(t, trueChild, live[0])
}

func TestCloneProducesIndependentFieldsAndStack(t *testing.T) {
	linked := compile(t, "x = 1\ndefault:\n    echo(\"go\")\n")
	ctx := heap.NewContext()
	queue := workqueue.New()
	root := New(ctx, linked, queue)
	root.fields[0] = heap.BoxInteger(10)
	root.push(heap.BoxInteger(99))

	child := root.clone()
	child.fields[0] = heap.BoxInteger(20)
	child.push(heap.BoxInteger(1))

	require.Equal(t, int64(10), ctx.UnboxInteger(root.fields[0]))
	require.Equal(t, int64(20), ctx.UnboxInteger(child.fields[0]))
	require.Len(t, root.stack, 1)
	require.Len(t, child.stack, 2)
}

func TestArithmeticAndComparisonOpcodes(t *testing.T) {
	linked := compile(t, "default:\n    a = 3 + 4 * 2\n    b = a > 10\n")
	ctx := heap.NewContext()
	queue := workqueue.New()
	interp := NewInterpreter(ctx, linked, queue)
	require.NoError(t, interp.RunTarget("default"))
}

func TestDivisionByZeroFails(t *testing.T) {
	linked := compile(t, "default:\n    a = 1 / 0\n")
	ctx := heap.NewContext()
	queue := workqueue.New()
	interp := NewInterpreter(ctx, linked, queue)
	err := interp.RunTarget("default")
	require.Error(t, err)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
}
