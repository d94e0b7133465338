package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders prog as human-readable text, one function at a time,
// in the style of a traditional bytecode disassembler: offset, mnemonic,
// argument, with a trailing comment for slot kinds the reader can't
// otherwise tell apart (constant vs. field vs. local).
//
// Adapted from the teacher's bytecode disassembler (pkg/bytecode/format.go
// in kristofer/smog), generalised from a flat Instructions/Constants pair
// to per-function entry ranges over a single shared instruction vector.
func Disassemble(prog *Program) string {
	var b strings.Builder
	for fnID, fn := range prog.Functions {
		fmt.Fprintf(&b, "function %s (%d)\n", fn.Name, fnID)
		end := len(prog.Instructions)
		if fnID+1 < len(prog.Functions) {
			end = prog.Functions[fnID+1].Entry
		}
		for ip := fn.Entry; ip < end; ip++ {
			op, arg := DecodeWord(prog.Instructions[ip])
			fmt.Fprintf(&b, "  %4d  %-16s %d%s\n", ip, op, arg, slotComment(arg, prog))
			if op == OpInvoke || op == OpInvokeNative {
				// The next word is a raw argument count, not an
				// instruction; print it plainly and skip over it.
				ip++
				if ip < end {
					fmt.Fprintf(&b, "  %4d  .argc            %d\n", ip, prog.Instructions[ip])
				}
			}
		}
	}
	return b.String()
}

func slotComment(arg int32, prog *Program) string {
	if arg >= 0 {
		return ""
	}
	if IsConstantSlot(arg) {
		idx := DecodeConstantIndex(arg)
		if idx < len(prog.Constants) {
			return fmt.Sprintf("  ; const %s", formatConstant(prog.Constants[idx]))
		}
		return ""
	}
	idx := DecodeFieldIndex(arg)
	return fmt.Sprintf("  ; field %d", idx)
}

func formatConstant(c Constant) string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstBool:
		return fmt.Sprintf("%t", c.Bool)
	default:
		return "null"
	}
}
