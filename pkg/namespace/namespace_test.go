package namespace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildgraph/don/pkg/ast"
)

func TestBuildRecordsFieldOrderAndVarargPosition(t *testing.T) {
	prog := &ast.Program{Decls: []ast.Statement{
		&ast.FieldDecl{Name: "a", Value: &ast.IntegerLiteral{Value: 1}},
		&ast.FieldDecl{Name: "b", Value: &ast.IntegerLiteral{Value: 2}},
		&ast.FunctionDecl{Name: "build", Params: []ast.Param{
			{Name: "name"},
			{Name: "files", IsVararg: true},
		}},
	}}

	ns, errs := Build(prog)
	require.Empty(t, errs)
	require.Equal(t, []string{"a", "b"}, ns.FieldOrder)
	require.Equal(t, 0, ns.Fields["a"].Index)
	require.Equal(t, 1, ns.Fields["b"].Index)

	fn, ok := ns.Functions["build"]
	require.True(t, ok)
	require.Equal(t, 1, fn.VarargAt)
}

func TestBuildReportsRedeclarationButKeepsScanning(t *testing.T) {
	prog := &ast.Program{Decls: []ast.Statement{
		&ast.FieldDecl{Name: "a", Value: &ast.IntegerLiteral{Value: 1}, Line: 1},
		&ast.FieldDecl{Name: "a", Value: &ast.IntegerLiteral{Value: 2}, Line: 2},
		&ast.FunctionDecl{Name: "f", Line: 3},
	}}

	ns, errs := Build(prog)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "redeclared")
	_, ok := ns.Functions["f"]
	require.True(t, ok, "a later, distinct declaration should still be recorded")
}

func TestLookupFailsForAnyQualifiedReference(t *testing.T) {
	prog := &ast.Program{Decls: []ast.Statement{&ast.FunctionDecl{Name: "f"}}}
	ns, _ := Build(prog)

	fn, ok := ns.Lookup("", "f")
	require.True(t, ok)
	require.Equal(t, "f", fn.Name)

	_, ok = ns.Lookup("other", "f")
	require.False(t, ok)
}
