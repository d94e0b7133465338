// Package workqueue implements don's deferred, single-threaded work
// queue: the FIFO of native-function calls (echo, exec, file-system
// queries) a running VM enqueues instead of executing inline.
//
// A native call never blocks the VM that issued it. Step pushes a Future
// onto the operand stack and appends an Item to the queue; a separate
// drain loop (run by pkg/vm's Interpreter between VM steps) pops the
// front item and actually runs its handler, fulfilling the Future.
//
// Because the VM can be running several speculative clones of the same
// program position at once (see pkg/vm's branch forking), every enqueued
// item carries a Guard: the issuing VM's path condition at the moment of
// the call. An item only actually runs its handler -- with real side
// effects like writing to stdout or spawning a process -- once its Guard
// has resolved concretely true. A Guard that resolves false belonged to
// a branch that turned out not to be taken, so the item is discarded
// without running, the same way the teacher's job runner skips a stale
// task (kristofer/smog's queue draining in pkg/vm/vm.go provided the FIFO
// shape; the Guard/discard logic has no teacher analogue and is this
// module's own addition grounded directly on spec.md's speculative
// execution section).
package workqueue

import (
	"fmt"

	"github.com/buildgraph/don/pkg/heap"
)

// Handler executes one native call's real side effect and returns its
// result value.
type Handler func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error)

// Item is one deferred native call awaiting a drain.
type Item struct {
	Name   string
	Args   []heap.Ref
	Future heap.Ref
	Guard  heap.Ref
}

// Queue is the FIFO of pending Items plus the handler registry native
// calls dispatch through.
type Queue struct {
	items    []Item
	handlers map[string]Handler
}

// New creates an empty Queue with no handlers registered.
func New() *Queue {
	return &Queue{handlers: make(map[string]Handler)}
}

// Register installs the handler for a native call name, overwriting any
// previous registration -- used both by the default native set
// (pkg/workqueue/natives.go) and by tests that want to stub a call.
func (q *Queue) Register(name string, h Handler) {
	q.handlers[name] = h
}

// Enqueue records a deferred call to name and returns the Future its
// eventual result will fulfil.
func (q *Queue) Enqueue(ctx *heap.Context, name string, args []heap.Ref, guard heap.Ref) heap.Ref {
	future := ctx.CreateFuture()
	q.items = append(q.items, Item{Name: name, Args: args, Future: future, Guard: guard})
	return future
}

// Len reports how many items are waiting to be drained.
func (q *Queue) Len() int { return len(q.items) }

// DrainOne pops and processes the front item. If its guard has resolved
// to false, the item is a dead branch's side effect and is discarded
// without running its handler. If the guard is still pending, DrainOne
// returns an error: this should never happen in a well-formed program,
// since by FIFO order everything the guard depends on was enqueued (and
// so already drained) earlier. Before the handler runs, every argument is
// try_wait'd in place so a nested native call's Future (e.g. the "ls"
// Future inside echo(exec("ls"))) resolves to its real value instead of
// rendering as an empty, unresolved box.
func (q *Queue) DrainOne(ctx *heap.Context) error {
	if len(q.items) == 0 {
		return fmt.Errorf("workqueue: drain called on an empty queue")
	}
	item := q.items[0]
	q.items = q.items[1:]

	guard := ctx.TryWait(item.Guard)
	if ctx.GetType(guard) == heap.TypeFuture {
		return fmt.Errorf("workqueue: item %q has an unresolved guard out of FIFO order", item.Name)
	}
	if guard != ctx.True {
		ctx.SetFuture(item.Future, ctx.Null)
		return nil
	}

	handler, ok := q.handlers[item.Name]
	if !ok {
		return fmt.Errorf("workqueue: no native function registered for %q", item.Name)
	}
	args := item.Args
	if len(args) > 0 {
		args = make([]heap.Ref, len(item.Args))
		for i, a := range item.Args {
			args[i] = ctx.TryWait(a)
		}
	}
	result, err := handler(ctx, args)
	if err != nil {
		return fmt.Errorf("workqueue: %q: %w", item.Name, err)
	}
	ctx.SetFuture(item.Future, result)
	return nil
}
