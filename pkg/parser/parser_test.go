package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildgraph/don/pkg/ast"
)

func TestParseFieldDecl(t *testing.T) {
	prog, diags, ok := Parse("t.don", "count = 0\n")
	require.False(t, ok)
	require.Empty(t, diags)
	require.Len(t, prog.Decls, 1)
	field, isField := prog.Decls[0].(*ast.FieldDecl)
	require.True(t, isField)
	require.Equal(t, "count", field.Name)
	lit, isInt := field.Value.(*ast.IntegerLiteral)
	require.True(t, isInt)
	require.Equal(t, int64(0), lit.Value)
}

func TestParseZeroArgTarget(t *testing.T) {
	src := "default:\n    echo(\"hi\")\n"
	prog, diags, ok := Parse("t.don", src)
	require.False(t, ok)
	require.Empty(t, diags)
	require.Len(t, prog.Decls, 1)
	fn, isFn := prog.Decls[0].(*ast.FunctionDecl)
	require.True(t, isFn)
	require.Equal(t, "default", fn.Name)
	require.False(t, fn.HasParens)
	require.Len(t, fn.Body, 1)
}

func TestParseFunctionWithParamsDefaultsAndVararg(t *testing.T) {
	src := "build(name, retries = 3, ...files):\n    echo(name)\n"
	prog, _, ok := Parse("t.don", src)
	require.False(t, ok)
	fn := prog.Decls[0].(*ast.FunctionDecl)
	require.True(t, fn.HasParens)
	require.Len(t, fn.Params, 3)
	require.Equal(t, "name", fn.Params[0].Name)
	require.Nil(t, fn.Params[0].Default)
	require.False(t, fn.Params[0].IsVararg)

	require.Equal(t, "retries", fn.Params[1].Name)
	require.NotNil(t, fn.Params[1].Default)

	require.Equal(t, "files", fn.Params[2].Name)
	require.True(t, fn.Params[2].IsVararg)
}

func TestParseIfElseNested(t *testing.T) {
	src := "check:\n    if x < 1\n        y = 1\n    else if x > 1\n        y = 2\n    else\n        y = 0\n"
	prog, diags, ok := Parse("t.don", src)
	require.False(t, ok, "diags: %v", diags)
	fn := prog.Decls[0].(*ast.FunctionDecl)
	require.Len(t, fn.Body, 1)
	top := fn.Body[0].(*ast.If)
	require.Len(t, top.Then, 1)
	require.Len(t, top.Else, 1)
	_, nestedIsIf := top.Else[0].(*ast.If)
	require.True(t, nestedIsIf)
}

func TestParseWhileLoop(t *testing.T) {
	src := "loop:\n    while i < 10\n        i = i + 1\n"
	prog, _, ok := Parse("t.don", src)
	require.False(t, ok)
	fn := prog.Decls[0].(*ast.FunctionDecl)
	w := fn.Body[0].(*ast.While)
	require.Len(t, w.Body, 1)
}

func TestParseOperatorsTernaryRangeAndIndex(t *testing.T) {
	src := "f:\n    a = 1 < 2 ? 10 : 20\n    b = 1..5\n    c = list[0]\n"
	prog, diags, ok := Parse("t.don", src)
	require.False(t, ok, "diags: %v", diags)
	fn := prog.Decls[0].(*ast.FunctionDecl)
	require.Len(t, fn.Body, 3)

	aAssign := fn.Body[0].(*ast.Assign)
	_, isTernary := aAssign.Value.(*ast.TernaryExpr)
	require.True(t, isTernary)

	bAssign := fn.Body[1].(*ast.Assign)
	_, isRange := bAssign.Value.(*ast.RangeExpr)
	require.True(t, isRange)

	cAssign := fn.Body[2].(*ast.Assign)
	_, isIndex := cAssign.Value.(*ast.IndexExpr)
	require.True(t, isIndex)
}

func TestParseListLiteralAndCallArgs(t *testing.T) {
	src := "f:\n    xs = [1, 2, 3]\n    build(name = \"a\", 1, 2)\n"
	prog, diags, ok := Parse("t.don", src)
	require.False(t, ok, "diags: %v", diags)
	fn := prog.Decls[0].(*ast.FunctionDecl)

	xsAssign := fn.Body[0].(*ast.Assign)
	list := xsAssign.Value.(*ast.ListLiteral)
	require.Len(t, list.Elements, 3)

	exprStmt := fn.Body[1].(*ast.ExprStatement)
	call := exprStmt.Expr.(*ast.CallExpr)
	require.Equal(t, "build", call.Name)
	require.Len(t, call.Args, 3)
	require.Equal(t, "name", call.Args[0].Name)
	require.Equal(t, "", call.Args[1].Name)
}

func TestParseErrorsAreStickyAndMultiple(t *testing.T) {
	src := "x = \ny = \n"
	_, diags, ok := Parse("t.don", src)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(diags), 2)
	require.Equal(t, "t.don", diags[0].File)
}

func TestParseReportsMismatchedIndentation(t *testing.T) {
	src := "f:\n    a = 1\n  b = 2\n"
	_, diags, ok := Parse("t.don", src)
	require.True(t, ok)
	require.NotEmpty(t, diags)
}
