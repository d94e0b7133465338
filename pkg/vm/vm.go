// Package vm implements the stack-based virtual machine that executes a
// linked bytecode.Program, including its speculative-branching execution
// model: a branch whose condition is not yet known (a pending Future
// backed by an undrained work-queue item) forks the VM into two clones,
// one per outcome, rather than blocking. Both clones keep running;
// whichever one's accumulated path condition later resolves concretely
// true is the "real" execution, and its native-call side effects are the
// only ones actually allowed to run (see pkg/workqueue's Guard field).
//
// Grounded on the teacher's VM (kristofer/smog, pkg/vm/vm.go): the same
// operand-stack-plus-call-frame loop, opcode-keyed switch dispatch, and
// "pop operands, push result" instruction shapes, generalised to (a) a
// slot space split across locals/constants/fields instead of one flat
// local array, and (b) a VM that can fork instead of always resolving a
// branch immediately.
package vm

import (
	"fmt"

	"github.com/buildgraph/don/pkg/bytecode"
	"github.com/buildgraph/don/pkg/heap"
	"github.com/buildgraph/don/pkg/workqueue"
)

type frame struct {
	locals    []heap.Ref
	returnIP  int
	topLevel  bool
}

// VM is one execution path: an operand stack, a call-frame stack, a
// private copy of the global field table, and the path condition that
// got this path here (heap.Context.True for the root VM).
type VM struct {
	ctx   *heap.Context
	prog  *bytecode.Program
	queue *workqueue.Queue

	constantRefs []heap.Ref
	fields       []heap.Ref

	stack  []heap.Ref
	frames []frame
	ip     int

	pathCondition heap.Ref
}

// New creates the root VM for prog. Invoke prog.InitFunction once, and run
// it to completion, before invoking any target to populate the field table
// from the program's initialisers.
func New(ctx *heap.Context, prog *bytecode.Program, queue *workqueue.Queue) *VM {
	return &VM{
		ctx:           ctx,
		prog:          prog,
		queue:         queue,
		constantRefs:  materializeConstants(ctx, prog),
		fields:        make([]heap.Ref, prog.FieldCount),
		pathCondition: ctx.True,
	}
}

func materializeConstants(ctx *heap.Context, prog *bytecode.Program) []heap.Ref {
	refs := make([]heap.Ref, len(prog.Constants))
	for i, c := range prog.Constants {
		switch c.Kind {
		case bytecode.ConstInt:
			refs[i] = heap.BoxInteger(c.Int)
		case bytecode.ConstString:
			refs[i] = ctx.CreateInternedString(c.Str)
		case bytecode.ConstBool:
			refs[i] = ctx.Bool(c.Bool)
		default:
			refs[i] = ctx.Null
		}
	}
	return refs
}

// clone produces an independent copy of vm suitable for one speculative
// branch: everything mutable is deep-copied except the Context and
// Program, which are shared and read-mostly/immutable respectively.
func (vm *VM) clone() *VM {
	child := &VM{
		ctx:           vm.ctx,
		prog:          vm.prog,
		queue:         vm.queue,
		constantRefs:  vm.constantRefs,
		fields:        append([]heap.Ref(nil), vm.fields...),
		stack:         append([]heap.Ref(nil), vm.stack...),
		ip:            vm.ip,
		pathCondition: vm.pathCondition,
	}
	child.frames = make([]frame, len(vm.frames))
	for i, f := range vm.frames {
		child.frames[i] = frame{
			locals:   append([]heap.Ref(nil), f.locals...),
			returnIP: f.returnIP,
			topLevel: f.topLevel,
		}
	}
	return child
}

func (vm *VM) curFrame() *frame { return &vm.frames[len(vm.frames)-1] }

func (vm *VM) push(r heap.Ref) { vm.stack = append(vm.stack, r) }

func (vm *VM) pop() heap.Ref {
	r := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return r
}

// pushFrame begins a call to fnID with args already bound to its leading
// parameter slots. topLevel marks a frame whose return ends this VM's run
// entirely (used for the outermost Invoke a caller makes, as opposed to
// an in-program call emitted by the linker).
func (vm *VM) pushFrame(fnID int, args []heap.Ref, returnIP int, topLevel bool) {
	fn := vm.prog.Functions[fnID]
	locals := make([]heap.Ref, fn.LocalCount)
	copy(locals, args)
	vm.frames = append(vm.frames, frame{locals: locals, returnIP: returnIP, topLevel: topLevel})
	vm.ip = fn.Entry
}

// Invoke sets up a fresh top-level call into fnID, ready for Step.
func (vm *VM) Invoke(fnID int, args []heap.Ref) {
	vm.pushFrame(fnID, args, -1, true)
}

// Outcome classifies what happened in one Step call.
type Outcome int

const (
	OutContinue Outcome = iota
	OutNeedsWork
	OutSpeculate
	OutDone
	OutFailed
)

// StepResult reports the result of one VM.Step call.
type StepResult struct {
	Outcome Outcome

	TrueChild  *VM
	FalseChild *VM

	Result heap.Ref

	FailMessage string
	FailLine    int
}

func (vm *VM) currentLine() int {
	if vm.ip < len(vm.prog.Lines) {
		return int(vm.prog.Lines[vm.ip])
	}
	return 0
}

func (vm *VM) fail(format string, args ...interface{}) StepResult {
	return StepResult{Outcome: OutFailed, FailLine: vm.currentLine(), FailMessage: fmt.Sprintf(format, args...)}
}

func (vm *VM) resolveSlot(slot int32) heap.Ref {
	switch {
	case slot >= 0:
		return vm.curFrame().locals[slot]
	case bytecode.IsConstantSlot(slot):
		return vm.constantRefs[bytecode.DecodeConstantIndex(slot)]
	default:
		return vm.fields[bytecode.DecodeFieldIndex(slot)]
	}
}

func (vm *VM) storeSlot(slot int32, value heap.Ref) {
	switch {
	case slot >= 0:
		vm.curFrame().locals[slot] = value
	case bytecode.IsConstantSlot(slot):
		panic("vm: attempted store to a constant slot")
	default:
		vm.fields[bytecode.DecodeFieldIndex(slot)] = value
	}
}

// concreteOperandArity gives the number of top-of-stack operands an
// opcode needs resolved to a non-Future value before it can execute.
// Opcodes absent from this map either take no operands or can work with
// still-pending ones (OpCopy storing a Future into a slot for later use,
// OpList/OpConcatList building a collection that may hold pending
// elements until something actually reads them).
var concreteOperandArity = map[bytecode.Opcode]int{
	bytecode.OpNot:             1,
	bytecode.OpNeg:             1,
	bytecode.OpEquals:          2,
	bytecode.OpNotEquals:       2,
	bytecode.OpLess:            2,
	bytecode.OpLessEquals:      2,
	bytecode.OpGreater:         2,
	bytecode.OpGreaterEquals:   2,
	bytecode.OpAdd:             2,
	bytecode.OpSub:             2,
	bytecode.OpMul:             2,
	bytecode.OpDiv:             2,
	bytecode.OpRem:             2,
	bytecode.OpConcatString:    2,
	bytecode.OpIndexedAccess:   2,
	bytecode.OpRange:           2,
	bytecode.OpFileList:        1,
}

// operandsReady reports whether the top n stack values are all resolved
// (TryWait is pure aside from lazily fulfilling a composite And/Not
// Future, so peeking is safe and doesn't disturb the stack).
func (vm *VM) operandsReady(n int) bool {
	if len(vm.stack) < n {
		return true
	}
	for i := len(vm.stack) - n; i < len(vm.stack); i++ {
		if vm.ctx.GetType(vm.ctx.TryWait(vm.stack[i])) == heap.TypeFuture {
			return false
		}
	}
	return true
}

// Step executes exactly one linked instruction (two words, for INVOKE and
// INVOKE_NATIVE, which carry a trailing raw argument count).
func (vm *VM) Step() StepResult {
	op, arg := bytecode.DecodeWord(vm.prog.Instructions[vm.ip])
	ctx := vm.ctx

	if n, ok := concreteOperandArity[op]; ok && !vm.operandsReady(n) {
		return StepResult{Outcome: OutNeedsWork}
	}

	switch op {
	case bytecode.OpFunction:
		vm.ip++
		return StepResult{Outcome: OutContinue}

	case bytecode.OpNull:
		vm.push(ctx.Null)
	case bytecode.OpTrue:
		vm.push(ctx.True)
	case bytecode.OpFalse:
		vm.push(ctx.False)
	case bytecode.OpEmptyList:
		vm.push(ctx.EmptyList)
	case bytecode.OpStoreConstant:
		vm.push(vm.resolveSlot(arg))

	case bytecode.OpList:
		n := int(arg)
		values := make([]heap.Ref, n)
		for i := n - 1; i >= 0; i-- {
			values[i] = vm.pop()
		}
		vm.push(ctx.CreateArray(values))

	case bytecode.OpFileList:
		v := ctx.TryWait(vm.pop())
		vm.push(ctx.File(ctx.Render(v)))

	case bytecode.OpCopy:
		vm.storeSlot(arg, vm.pop())

	case bytecode.OpNot:
		b, ok := asBool(ctx, ctx.TryWait(vm.pop()))
		if !ok {
			return vm.fail("operand to '!' is not a boolean")
		}
		vm.push(ctx.Bool(!b))

	case bytecode.OpNeg:
		a := ctx.TryWait(vm.pop())
		if !heap.IsInteger(a) {
			return vm.fail("operand to unary '-' is not an integer")
		}
		vm.push(heap.BoxInteger(-ctx.UnboxInteger(a)))

	case bytecode.OpInv:
		return vm.fail("INV is not implemented by this language")

	case bytecode.OpEquals:
		b, a := ctx.TryWait(vm.pop()), ctx.TryWait(vm.pop())
		vm.push(ctx.Bool(ctx.Equals(a, b)))
	case bytecode.OpNotEquals:
		b, a := ctx.TryWait(vm.pop()), ctx.TryWait(vm.pop())
		vm.push(ctx.Bool(!ctx.Equals(a, b)))

	case bytecode.OpLess, bytecode.OpLessEquals, bytecode.OpGreater, bytecode.OpGreaterEquals:
		b, a := ctx.TryWait(vm.pop()), ctx.TryWait(vm.pop())
		if !heap.IsInteger(a) || !heap.IsInteger(b) {
			return vm.fail("comparison operands must be integers")
		}
		ai, bi := ctx.UnboxInteger(a), ctx.UnboxInteger(b)
		var result bool
		switch op {
		case bytecode.OpLess:
			result = ai < bi
		case bytecode.OpLessEquals:
			result = ai <= bi
		case bytecode.OpGreater:
			result = ai > bi
		case bytecode.OpGreaterEquals:
			result = ai >= bi
		}
		vm.push(ctx.Bool(result))

	case bytecode.OpAnd:
		b, a := vm.pop(), vm.pop()
		vm.push(ctx.And(a, b))

	case bytecode.OpAdd:
		b, a := ctx.TryWait(vm.pop()), ctx.TryWait(vm.pop())
		result, err := addValues(ctx, a, b)
		if err != nil {
			return vm.fail("%s", err)
		}
		vm.push(result)

	case bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpRem:
		b, a := ctx.TryWait(vm.pop()), ctx.TryWait(vm.pop())
		if !heap.IsInteger(a) || !heap.IsInteger(b) {
			return vm.fail("arithmetic operands must be integers")
		}
		ai, bi := ctx.UnboxInteger(a), ctx.UnboxInteger(b)
		var r int64
		switch op {
		case bytecode.OpSub:
			r = ai - bi
		case bytecode.OpMul:
			r = ai * bi
		case bytecode.OpDiv:
			if bi == 0 {
				return vm.fail("division by zero")
			}
			r = ai / bi
		case bytecode.OpRem:
			if bi == 0 {
				return vm.fail("division by zero")
			}
			r = ai % bi
		}
		vm.push(heap.BoxInteger(r))

	case bytecode.OpConcatList:
		b, a := vm.pop(), vm.pop()
		vm.push(ctx.Concat(a, b))

	case bytecode.OpConcatString:
		b, a := ctx.TryWait(vm.pop()), ctx.TryWait(vm.pop())
		vm.push(ctx.CreateString([]byte(ctx.Render(a) + ctx.Render(b))))

	case bytecode.OpIndexedAccess:
		idx, target := ctx.TryWait(vm.pop()), ctx.TryWait(vm.pop())
		if !heap.IsInteger(idx) {
			return vm.fail("index must be an integer")
		}
		i := int(ctx.UnboxInteger(idx))
		result, err := indexValue(ctx, target, i)
		if err != nil {
			return vm.fail("%s", err)
		}
		vm.push(result)

	case bytecode.OpRange:
		hi, lo := ctx.TryWait(vm.pop()), ctx.TryWait(vm.pop())
		if !heap.IsInteger(lo) || !heap.IsInteger(hi) {
			return vm.fail("range bounds must be integers")
		}
		vm.push(ctx.CreateRange(ctx.UnboxInteger(lo), ctx.UnboxInteger(hi)))

	case bytecode.OpJump:
		vm.ip += int(arg)
		return StepResult{Outcome: OutContinue}

	case bytecode.OpBranchTrue, bytecode.OpBranchFalse:
		return vm.stepBranch(op, arg)

	case bytecode.OpInvoke:
		return vm.stepInvoke(int(arg))

	case bytecode.OpInvokeNative:
		return vm.stepInvokeNative(arg)

	case bytecode.OpReturn:
		return vm.stepReturn(vm.pop())

	case bytecode.OpReturnVoid:
		return vm.stepReturn(ctx.Null)

	case bytecode.OpIterGet:
		return vm.fail("ITER_GET is not implemented by this language")

	default:
		return vm.fail("unknown opcode %v", op)
	}

	vm.ip++
	return StepResult{Outcome: OutContinue}
}

func (vm *VM) stepBranch(op bytecode.Opcode, arg int32) StepResult {
	ctx := vm.ctx
	cond := vm.pop()
	resolved := ctx.TryWait(cond)

	if ctx.GetType(resolved) != heap.TypeFuture {
		taken := resolved == ctx.True
		if op == bytecode.OpBranchFalse {
			if !taken {
				vm.ip += int(arg)
			} else {
				vm.ip++
			}
		} else {
			if taken {
				vm.ip += int(arg)
			} else {
				vm.ip++
			}
		}
		return StepResult{Outcome: OutContinue}
	}

	// Condition is still pending: fork. One clone proceeds as though the
	// predicate is true, the other as though it's false; each combines
	// its path condition accordingly so the work queue can later decide
	// which clone's native-call side effects, if any, actually happened.
	trueChild := vm.clone()
	falseChild := vm

	trueChild.pathCondition = ctx.And(vm.pathCondition, cond)
	falseChild.pathCondition = ctx.And(vm.pathCondition, ctx.Not(cond))

	if op == bytecode.OpBranchFalse {
		trueChild.ip++
		falseChild.ip += int(arg)
	} else {
		trueChild.ip += int(arg)
		falseChild.ip++
	}

	return StepResult{Outcome: OutSpeculate, TrueChild: trueChild, FalseChild: falseChild}
}

func (vm *VM) stepInvoke(fnID int) StepResult {
	argc := int(vm.prog.Instructions[vm.ip+1])
	args := make([]heap.Ref, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	vm.pushFrame(fnID, args, vm.ip+2, false)
	return StepResult{Outcome: OutContinue}
}

func (vm *VM) stepInvokeNative(nameSlot int32) StepResult {
	argc := int(vm.prog.Instructions[vm.ip+1])
	args := make([]heap.Ref, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	name := vm.ctx.Render(vm.resolveSlot(nameSlot))
	future := vm.queue.Enqueue(vm.ctx, name, args, vm.pathCondition)
	vm.push(future)
	vm.ip += 2
	return StepResult{Outcome: OutContinue}
}

func (vm *VM) stepReturn(value heap.Ref) StepResult {
	returning := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]

	if returning.topLevel || len(vm.frames) == 0 {
		return StepResult{Outcome: OutDone, Result: value}
	}

	vm.push(value)
	vm.ip = returning.returnIP
	return StepResult{Outcome: OutContinue}
}

func asBool(ctx *heap.Context, ref heap.Ref) (bool, bool) {
	switch ref {
	case ctx.True:
		return true, true
	case ctx.False:
		return false, true
	default:
		return false, false
	}
}

func addValues(ctx *heap.Context, a, b heap.Ref) (heap.Ref, error) {
	switch {
	case heap.IsInteger(a) && heap.IsInteger(b):
		return heap.BoxInteger(ctx.UnboxInteger(a) + ctx.UnboxInteger(b)), nil
	case isRenderableString(ctx, a) && isRenderableString(ctx, b):
		return ctx.CreateString([]byte(ctx.Render(a) + ctx.Render(b))), nil
	case ctx.GetType(a).IsCollection() && ctx.GetType(b).IsCollection():
		return ctx.Concat(a, b), nil
	default:
		return heap.Null, fmt.Errorf("'+' operands have incompatible types")
	}
}

func isRenderableString(ctx *heap.Context, ref heap.Ref) bool {
	switch ctx.GetType(ref) {
	case heap.TypeString, heap.TypeStringPooled, heap.TypeStringWrapped, heap.TypeSubstring:
		return true
	default:
		return false
	}
}

func indexValue(ctx *heap.Context, target heap.Ref, i int) (heap.Ref, error) {
	t := ctx.GetType(target)
	switch {
	case t.IsCollection():
		if i < 0 || i >= ctx.Size(target) {
			return heap.Null, fmt.Errorf("index %d out of range", i)
		}
		return ctx.ElementAt(target, i), nil
	case isRenderableString(ctx, target):
		if i < 0 || i >= ctx.StringLength(target) {
			return heap.Null, fmt.Errorf("index %d out of range", i)
		}
		return ctx.CreateSubstring(target, i, 1), nil
	default:
		return heap.Null, fmt.Errorf("value is not indexable")
	}
}
