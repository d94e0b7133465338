// Package parser implements the don build-script parser.
//
// Parsing follows a conventional recursive-descent design with a
// precedence-climbing expression parser, grounded on the teacher's parser
// (kristofer/smog, pkg/parser/parser.go): a two-token lookahead window
// (curTok/peekTok), one parse function per grammar rule, and errors
// accumulated into a slice rather than aborting at the first one so a
// single pass can surface every syntax problem in a file.
//
// Where it differs from the teacher: don's block structure is indentation-
// driven (consuming INDENT/DEDENT/NEWLINE tokens from the lexer) rather
// than period-terminated, and its precedence table is arithmetic/
// comparison/ternary instead of Smalltalk's unary/binary/keyword message
// precedence.
//
// The parser's output -- ast.Program -- doubles as the "pre-link"
// intermediate form spec.md describes as a flat instruction vector with
// unresolved names/slots/labels: pkg/linker performs the same resolution
// algorithm (slot assignment, call-site parameter binding, jump-offset
// computation) directly over this tree instead of over a separately
// materialised flat word stream, which is an implementation detail the
// tree-shaped input makes unnecessary. See DESIGN.md.
package parser

import (
	"fmt"
	"strconv"

	"github.com/buildgraph/don/pkg/ast"
	"github.com/buildgraph/don/pkg/lexer"
)

// Diagnostic is one parse error with its source position.
type Diagnostic struct {
	File    string
	Line    int
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Message)
}

// Parser holds state for a single parse of one file. Create a new Parser
// per source file.
type Parser struct {
	file    string
	l       *lexer.Lexer
	curTok  lexer.Token
	peekTok lexer.Token
	diags   []Diagnostic
}

// New creates a Parser over source, attributing diagnostics to file.
func New(file, source string) *Parser {
	p := &Parser{file: file, l: lexer.New(source)}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.curTok = p.peekTok
	p.peekTok = p.l.Next()
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.diags = append(p.diags, Diagnostic{File: p.file, Line: p.curTok.Line, Message: fmt.Sprintf(format, args...)})
}

// skipToNewline discards tokens until the next NEWLINE or EOF, used to
// resynchronise after a parse error so later errors can still be found.
func (p *Parser) skipToNewline() {
	for p.curTok.Type != lexer.TokenNewline && p.curTok.Type != lexer.TokenEOF {
		p.next()
	}
}

func (p *Parser) expect(tt lexer.TokenType) bool {
	if p.curTok.Type == tt {
		p.next()
		return true
	}
	p.errorf("expected %s, got %s %q", tt, p.curTok.Type, p.curTok.Literal)
	return false
}

// Parse consumes the whole token stream and returns the resulting program
// plus every diagnostic collected along the way. HasErrors is the sticky
// flag spec.md §4.2 describes.
func Parse(file, source string) (*ast.Program, []Diagnostic, bool) {
	p := New(file, source)
	prog := &ast.Program{}
	for p.curTok.Type != lexer.TokenEOF {
		if p.curTok.Type == lexer.TokenNewline {
			p.next()
			continue
		}
		decl := p.parseTopLevel()
		if decl != nil {
			prog.Decls = append(prog.Decls, decl)
		}
	}
	return prog, p.diags, len(p.diags) > 0
}

func (p *Parser) parseTopLevel() ast.Statement {
	if p.curTok.Type != lexer.TokenIdentifier {
		p.errorf("expected field or function declaration, got %s %q", p.curTok.Type, p.curTok.Literal)
		p.skipToNewline()
		p.next()
		return nil
	}

	name := p.curTok.Literal
	line := p.curTok.Line

	switch p.peekTok.Type {
	case lexer.TokenAssign:
		p.next() // name
		p.next() // =
		value := p.parseExpression()
		p.expectStatementEnd()
		return &ast.FieldDecl{Name: name, Value: value, Line: line}

	case lexer.TokenColon:
		p.next() // name
		p.next() // :
		body := p.parseBlock()
		return &ast.FunctionDecl{Name: name, Body: body, HasParens: false, Line: line}

	case lexer.TokenLParen:
		p.next() // name
		params := p.parseParamList()
		if !p.expect(lexer.TokenColon) {
			p.skipToNewline()
		}
		body := p.parseBlock()
		return &ast.FunctionDecl{Name: name, Params: params, Body: body, HasParens: true, Line: line}

	default:
		p.errorf("expected ':', '(' or '=' after %q, got %s", name, p.curTok.Type)
		p.skipToNewline()
		p.next()
		return nil
	}
}

func (p *Parser) parseParamList() []ast.Param {
	p.expect(lexer.TokenLParen)
	var params []ast.Param
	sawVararg := false
	for p.curTok.Type != lexer.TokenRParen && p.curTok.Type != lexer.TokenEOF {
		vararg := false
		if p.curTok.Type == lexer.TokenEllipsis {
			if sawVararg {
				p.errorf("at most one vararg parameter is allowed")
			}
			vararg = true
			sawVararg = true
			p.next()
		}
		if p.curTok.Type != lexer.TokenIdentifier {
			p.errorf("expected parameter name, got %s", p.curTok.Type)
			break
		}
		name := p.curTok.Literal
		p.next()
		var def ast.Expression
		if p.curTok.Type == lexer.TokenAssign {
			p.next()
			def = p.parseExpression()
		}
		params = append(params, ast.Param{Name: name, Default: def, IsVararg: vararg})
		if p.curTok.Type == lexer.TokenComma {
			p.next()
		} else {
			break
		}
	}
	p.expect(lexer.TokenRParen)
	return params
}

// parseBlock consumes NEWLINE INDENT statement* DEDENT, the body of a
// function, if-branch, or while loop.
func (p *Parser) parseBlock() []ast.Statement {
	if p.curTok.Type == lexer.TokenNewline {
		p.next()
	}
	if !p.expect(lexer.TokenIndent) {
		return nil
	}
	var stmts []ast.Statement
	for p.curTok.Type != lexer.TokenDedent && p.curTok.Type != lexer.TokenEOF {
		if p.curTok.Type == lexer.TokenNewline {
			p.next()
			continue
		}
		stmt := p.parseStatement()
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	if p.curTok.Type == lexer.TokenDedent {
		p.next()
	}
	return stmts
}

func (p *Parser) expectStatementEnd() {
	if p.curTok.Type == lexer.TokenNewline {
		p.next()
		return
	}
	if p.curTok.Type == lexer.TokenEOF || p.curTok.Type == lexer.TokenDedent {
		return
	}
	p.errorf("expected end of statement, got %s %q", p.curTok.Type, p.curTok.Literal)
	p.skipToNewline()
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curTok.Type {
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenWhile:
		return p.parseWhile()
	case lexer.TokenIdentifier:
		if p.peekTok.Type == lexer.TokenAssign {
			line := p.curTok.Line
			name := p.curTok.Literal
			p.next()
			p.next()
			value := p.parseExpression()
			p.expectStatementEnd()
			return &ast.Assign{Name: name, Value: value, Line: line}
		}
		line := p.curTok.Line
		expr := p.parseExpression()
		p.expectStatementEnd()
		return &ast.ExprStatement{Expr: expr, Line: line}
	default:
		p.errorf("unexpected token %s %q in statement", p.curTok.Type, p.curTok.Literal)
		p.skipToNewline()
		if p.curTok.Type == lexer.TokenNewline {
			p.next()
		}
		return nil
	}
}

func (p *Parser) parseIf() ast.Statement {
	line := p.curTok.Line
	p.next() // if
	cond := p.parseExpression()
	then := p.parseBlock()
	var elseStmts []ast.Statement
	if p.curTok.Type == lexer.TokenElse {
		p.next()
		if p.curTok.Type == lexer.TokenIf {
			elseStmts = []ast.Statement{p.parseIf()}
		} else {
			elseStmts = p.parseBlock()
		}
	}
	return &ast.If{Cond: cond, Then: then, Else: elseStmts, Line: line}
}

func (p *Parser) parseWhile() ast.Statement {
	line := p.curTok.Line
	p.next() // while
	cond := p.parseExpression()
	body := p.parseBlock()
	return &ast.While{Cond: cond, Body: body, Line: line}
}

func (p *Parser) parseExpression() ast.Expression {
	return p.parseTernary()
}

func (p *Parser) parseTernary() ast.Expression {
	cond := p.parseRange()
	if p.curTok.Type == lexer.TokenQuestion {
		line := p.curTok.Line
		p.next()
		then := p.parseExpression()
		if !p.expect(lexer.TokenColon) {
			return cond
		}
		els := p.parseExpression()
		return &ast.TernaryExpr{Cond: cond, Then: then, Else: els, Line: line}
	}
	return cond
}

func (p *Parser) parseRange() ast.Expression {
	left := p.parseEquality()
	if p.curTok.Type == lexer.TokenDotDot {
		line := p.curTok.Line
		p.next()
		right := p.parseEquality()
		return &ast.RangeExpr{Low: left, High: right, Line: line}
	}
	return left
}

func (p *Parser) parseEquality() ast.Expression {
	left := p.parseRelational()
	for p.curTok.Type == lexer.TokenEq || p.curTok.Type == lexer.TokenNotEq {
		op := p.curTok.Literal
		line := p.curTok.Line
		p.next()
		right := p.parseRelational()
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseRelational() ast.Expression {
	left := p.parseAdditive()
	for isRelational(p.curTok.Type) {
		op := p.curTok.Literal
		line := p.curTok.Line
		p.next()
		right := p.parseAdditive()
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right, Line: line}
	}
	return left
}

func isRelational(tt lexer.TokenType) bool {
	switch tt {
	case lexer.TokenLt, lexer.TokenLe, lexer.TokenGt, lexer.TokenGe:
		return true
	default:
		return false
	}
}

func (p *Parser) parseAdditive() ast.Expression {
	left := p.parseMultiplicative()
	for p.curTok.Type == lexer.TokenPlus || p.curTok.Type == lexer.TokenMinus {
		op := p.curTok.Literal
		line := p.curTok.Line
		p.next()
		right := p.parseMultiplicative()
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Expression {
	left := p.parseUnary()
	for p.curTok.Type == lexer.TokenStar || p.curTok.Type == lexer.TokenSlash || p.curTok.Type == lexer.TokenPercent {
		op := p.curTok.Literal
		line := p.curTok.Line
		p.next()
		right := p.parseUnary()
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseUnary() ast.Expression {
	if p.curTok.Type == lexer.TokenBang || p.curTok.Type == lexer.TokenMinus {
		op := p.curTok.Literal
		line := p.curTok.Line
		p.next()
		operand := p.parseUnary()
		return &ast.UnaryExpr{Op: op, Expr: operand, Line: line}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expression {
	expr := p.parsePrimary()
	for p.curTok.Type == lexer.TokenLBracket {
		line := p.curTok.Line
		p.next()
		idx := p.parseExpression()
		p.expect(lexer.TokenRBracket)
		expr = &ast.IndexExpr{Target: expr, Index: idx, Line: line}
	}
	return expr
}

func (p *Parser) parsePrimary() ast.Expression {
	tok := p.curTok
	switch tok.Type {
	case lexer.TokenInteger:
		p.next()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errorf("invalid integer literal %q", tok.Literal)
		}
		return &ast.IntegerLiteral{Value: v, Line: tok.Line}
	case lexer.TokenString:
		p.next()
		return &ast.StringLiteral{Value: tok.Literal, Line: tok.Line}
	case lexer.TokenTrue:
		p.next()
		return &ast.BoolLiteral{Value: true, Line: tok.Line}
	case lexer.TokenFalse:
		p.next()
		return &ast.BoolLiteral{Value: false, Line: tok.Line}
	case lexer.TokenNull:
		p.next()
		return &ast.NullLiteral{Line: tok.Line}
	case lexer.TokenLParen:
		p.next()
		expr := p.parseExpression()
		p.expect(lexer.TokenRParen)
		return expr
	case lexer.TokenLBracket:
		p.next()
		var elems []ast.Expression
		for p.curTok.Type != lexer.TokenRBracket && p.curTok.Type != lexer.TokenEOF {
			elems = append(elems, p.parseExpression())
			if p.curTok.Type == lexer.TokenComma {
				p.next()
			} else {
				break
			}
		}
		p.expect(lexer.TokenRBracket)
		return &ast.ListLiteral{Elements: elems, Line: tok.Line}
	case lexer.TokenIdentifier:
		p.next()
		if p.curTok.Type == lexer.TokenLParen {
			return p.parseCallArgs(tok.Literal, tok.Line)
		}
		return &ast.Identifier{Name: tok.Literal, Line: tok.Line}
	default:
		p.errorf("unexpected token %s %q in expression", tok.Type, tok.Literal)
		p.next()
		return &ast.NullLiteral{Line: tok.Line}
	}
}

func (p *Parser) parseCallArgs(name string, line int) ast.Expression {
	p.next() // (
	var args []ast.Arg
	for p.curTok.Type != lexer.TokenRParen && p.curTok.Type != lexer.TokenEOF {
		if p.curTok.Type == lexer.TokenIdentifier && p.peekTok.Type == lexer.TokenAssign {
			argName := p.curTok.Literal
			p.next()
			p.next()
			args = append(args, ast.Arg{Name: argName, Value: p.parseExpression()})
		} else {
			args = append(args, ast.Arg{Value: p.parseExpression()})
		}
		if p.curTok.Type == lexer.TokenComma {
			p.next()
		} else {
			break
		}
	}
	p.expect(lexer.TokenRParen)
	return &ast.CallExpr{Name: name, Args: args, Line: line}
}
