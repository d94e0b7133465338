package vm

import (
	"fmt"

	"github.com/buildgraph/don/pkg/bytecode"
	"github.com/buildgraph/don/pkg/heap"
	"github.com/buildgraph/don/pkg/workqueue"
)

// RunError reports a failed VM step with the source line it occurred on.
type RunError struct {
	Line    int
	Message string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Interpreter is the cooperative scheduler described in spec.md's
// execution model: it steps every currently-live speculative VM branch
// round-robin, drains the work queue between rounds, and forks or
// retires branches as their Step results demand. Only one VM exists at a
// time unless a branch on an unresolved condition forks it; in the common
// case (every branch condition is already concrete by the time it's
// reached) this degenerates to stepping a single VM straight through.
type Interpreter struct {
	ctx   *heap.Context
	prog  *bytecode.Program
	queue *workqueue.Queue
}

// NewInterpreter creates an Interpreter over an already-linked program
// and a work queue with its native handlers registered.
func NewInterpreter(ctx *heap.Context, prog *bytecode.Program, queue *workqueue.Queue) *Interpreter {
	return &Interpreter{ctx: ctx, prog: prog, queue: queue}
}

// RunTarget runs the program's field initialisers (once) followed by the
// named target to completion, including draining every work-queue item
// its execution enqueues.
func (in *Interpreter) RunTarget(name string) error {
	return in.RunTargets([]string{name})
}

// RunTargets runs the program's field initialisers once, then each named
// target in order on the same root VM -- so a field written by one
// target's run is visible to the next, the way a single invocation of
// the teacher's CLI with several targets would share build state.
func (in *Interpreter) RunTargets(names []string) error {
	for _, name := range names {
		if _, ok := in.prog.Targets[name]; !ok {
			return fmt.Errorf("no such target %q", name)
		}
	}

	root := New(in.ctx, in.prog, in.queue)
	root.Invoke(in.prog.InitFunction, nil)
	if err := in.run([]*VM{root}); err != nil {
		return err
	}

	for _, name := range names {
		root.Invoke(in.prog.Targets[name], nil)
		if err := in.run([]*VM{root}); err != nil {
			return err
		}
	}
	return nil
}

// run drives active to completion: every branch either finishes (OutDone)
// or fails (OutFailed); forks are expanded into the active set; a branch
// that needs a pending value drains the queue until it can proceed or the
// run deadlocks.
func (in *Interpreter) run(active []*VM) error {
	for len(active) > 0 {
		var next []*VM
		progressed := false

		for _, v := range active {
			result := v.Step()
			switch result.Outcome {
			case OutContinue:
				next = append(next, v)
				progressed = true

			case OutSpeculate:
				next = append(next, pruneDeadBranch(in.ctx, result.TrueChild, result.FalseChild)...)
				progressed = true

			case OutDone:
				// This branch ran to completion; its side effects (if
				// any survive Guard checks) are already queued for the
				// drain loop below.
				progressed = true

			case OutFailed:
				return &RunError{Line: result.FailLine, Message: result.FailMessage}

			case OutNeedsWork:
				next = append(next, v)
			}
		}

		if in.queue.Len() > 0 {
			if err := in.queue.DrainOne(in.ctx); err != nil {
				return fmt.Errorf("workqueue: %w", err)
			}
			progressed = true
		}

		if !progressed && in.queue.Len() == 0 {
			return fmt.Errorf("deadlock: no runnable branch and no pending work to drain")
		}

		active = next
	}

	// Drain any remaining queued side effects issued by branches that
	// finished before the queue caught up.
	for in.queue.Len() > 0 {
		if err := in.queue.DrainOne(in.ctx); err != nil {
			return fmt.Errorf("workqueue: %w", err)
		}
	}
	return nil
}

// pruneDeadBranch drops a forked child whose path condition is already
// concretely false. This only fires immediately after a genuine fork (the
// branch condition was still pending, by construction -- an already-
// concrete condition is resolved directly in stepBranch and never forks
// at all); And() can still occasionally settle one side right away, e.g.
// when the parent's own path condition was already false.
func pruneDeadBranch(ctx *heap.Context, trueChild, falseChild *VM) []*VM {
	var live []*VM
	if ctx.TryWait(trueChild.pathCondition) != ctx.False {
		live = append(live, trueChild)
	}
	if ctx.TryWait(falseChild.pathCondition) != ctx.False {
		live = append(live, falseChild)
	}
	return live
}
