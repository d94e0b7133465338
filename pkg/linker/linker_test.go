package linker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildgraph/don/pkg/ast"
	"github.com/buildgraph/don/pkg/bytecode"
	"github.com/buildgraph/don/pkg/parser"
)

func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	prog, diags, hasErrs := parser.Parse("t.don", src)
	require.False(t, hasErrs, "parse diags: %v", diags)
	return prog
}

func TestLinkFieldInitOrderPreserved(t *testing.T) {
	prog := mustParse(t, "a = 1\nb = 2\nc = 3\n")
	linked, errs, hasErrs := Link(prog)
	require.False(t, hasErrs, "link errs: %v", errs)
	require.Equal(t, 3, linked.FieldCount)

	initFn := linked.Functions[linked.InitFunction]
	require.Equal(t, "$init", initFn.Name)

	// The init function copies each field's value into its slot in
	// declaration order -- walk the OpCopy instructions in its range and
	// check the field slots appear 0, 1, 2.
	var fieldOrder []int
	for ip := initFn.Entry; ip < len(linked.Instructions); ip++ {
		op, arg := bytecode.DecodeWord(linked.Instructions[ip])
		if op == bytecode.OpReturnVoid {
			break
		}
		if op == bytecode.OpCopy && !bytecode.IsConstantSlot(arg) && arg < 0 {
			fieldOrder = append(fieldOrder, bytecode.DecodeFieldIndex(arg))
		}
	}
	require.Equal(t, []int{0, 1, 2}, fieldOrder)
}

func TestLinkUndefinedNameIsAnError(t *testing.T) {
	prog := mustParse(t, "f:\n    y = x\n")
	_, errs, hasErrs := Link(prog)
	require.True(t, hasErrs)
	require.NotEmpty(t, errs)
}

func TestLinkCallBindsPositionalNamedVarargAndDefault(t *testing.T) {
	src := "build(name, retries = 3, ...files):\n    echo(name)\ndefault:\n    build(\"a\", 4, \"f1\", \"f2\")\n    build(\"b\", retries = 9)\n    build(\"c\")\n"
	prog := mustParse(t, src)
	linked, errs, hasErrs := Link(prog)
	require.False(t, hasErrs, "link errs: %v", errs)

	buildID, ok := linked.Targets["build"]
	require.True(t, ok)
	fn := linked.Functions[buildID]
	require.Len(t, fn.Params, 3)
	require.Equal(t, 2, fn.VarargAt)
	require.True(t, fn.Params[1].HasDefault)
}

func TestLinkBinaryConcatDispatchIsStaticForLiterals(t *testing.T) {
	prog := mustParse(t, "f:\n    a = \"x\" + \"y\"\n")
	linked, errs, hasErrs := Link(prog)
	require.False(t, hasErrs, "link errs: %v", errs)

	fn := linked.Functions[linked.Targets["f"]]
	found := false
	for ip := fn.Entry; ip < len(linked.Instructions); ip++ {
		op, _ := bytecode.DecodeWord(linked.Instructions[ip])
		if op == bytecode.OpConcatString {
			found = true
		}
		if op == bytecode.OpReturnVoid {
			break
		}
	}
	require.True(t, found, "expected a static CONCAT_STRING for two string literals")
}

func TestLinkBinaryAddDispatchIsDynamicForIdentifiers(t *testing.T) {
	prog := mustParse(t, "f:\n    a = 1\n    b = 2\n    c = a + b\n")
	linked, errs, hasErrs := Link(prog)
	require.False(t, hasErrs, "link errs: %v", errs)

	fn := linked.Functions[linked.Targets["f"]]
	found := false
	for ip := fn.Entry; ip < len(linked.Instructions); ip++ {
		op, _ := bytecode.DecodeWord(linked.Instructions[ip])
		if op == bytecode.OpAdd {
			found = true
		}
		if op == bytecode.OpReturnVoid {
			break
		}
	}
	require.True(t, found, "expected a generic ADD for two identifier operands")
}

func TestLinkMissingRequiredArgumentIsAnError(t *testing.T) {
	src := "build(name):\n    echo(name)\ndefault:\n    build()\n"
	prog := mustParse(t, src)
	_, errs, hasErrs := Link(prog)
	require.True(t, hasErrs)
	require.NotEmpty(t, errs)
}
