package parser

import (
	"strconv"
	"strings"

	"github.com/agenthands/nlisp/pkg/compiler/ast"
	"github.com/agenthands/nlisp/pkg/compiler/lexer"
	"github.com/agenthands/nlisp/pkg/core/diag"
)

// TokenSource yields tokens one at a time. Both *lexer.Scanner and
// *lexer.Tokens satisfy it.
type TokenSource interface {
	Next() lexer.Token
}

// MaxNesting bounds how deeply forms may nest, so hostile input fails with
// a diagnostic instead of exhausting the goroutine stack.
const MaxNesting = 1000

// Parser is a recursive-descent parser with a single token of lookahead.
// It never backtracks and stops at the first error.
type Parser struct {
	tokens TokenSource
	curTok lexer.Token
	src    []byte
	depth  int
}

func NewParser(ts TokenSource, src []byte) *Parser {
	p := &Parser{
		tokens: ts,
		src:    src,
	}
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curTok = p.tokens.Next()
}

// Parse reads the whole program. A program of more than one top-level
// expression is wrapped in a BlockExpr.
func (p *Parser) Parse() (ast.Expr, error) {
	if p.curTok.Kind == lexer.KindEOF {
		return nil, diag.Errorf(diag.ErrEmptyProgram, p.curTok.Pos(), "empty program")
	}

	first := p.curTok
	var exprs []ast.Expr
	for p.curTok.Kind != lexer.KindEOF {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}

	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return &ast.BlockExpr{Token: first, Exprs: exprs}, nil
}

func (p *Parser) parseExpr() (ast.Expr, error) {
	tok := p.curTok
	switch tok.Kind {
	case lexer.KindLParen:
		if p.depth == MaxNesting {
			return nil, diag.Errorf(diag.ErrSyntax, tok.Pos(), "forms nested deeper than %d levels", MaxNesting)
		}
		p.nextToken()
		p.depth++
		expr, err := p.parseForm()
		p.depth--
		return expr, err

	case lexer.KindNumber:
		p.nextToken()
		return p.parseNumber(tok)

	case lexer.KindString:
		p.nextToken()
		text, err := unquote(tok.Text(p.src))
		if err != nil {
			return nil, diag.Errorf(diag.ErrSyntax, tok.Pos(), "%v", err)
		}
		return &ast.StringLiteral{Token: tok, Value: text}, nil

	case lexer.KindIdent:
		p.nextToken()
		return &ast.Identifier{Token: tok, Name: tok.Text(p.src)}, nil

	default:
		return nil, p.unexpected()
	}
}

// parseForm parses a parenthesized form; the opening paren is consumed.
func (p *Parser) parseForm() (ast.Expr, error) {
	switch p.curTok.Kind {
	case lexer.KindFn:
		return p.parseFunctionDef()
	case lexer.KindLet:
		return p.parseLet()
	case lexer.KindSet:
		return p.parseSet()
	case lexer.KindIf:
		return p.parseIf()
	case lexer.KindWhile:
		return p.parseWhile()
	case lexer.KindOperator:
		return p.parseOperator()
	case lexer.KindIdent:
		return p.parseCall()
	case lexer.KindError, lexer.KindEOF:
		return nil, p.unexpected()
	default:
		return nil, diag.Errorf(diag.ErrUnknownForm, p.curTok.Pos(), "unknown form starting with %s %q", p.curTok.Kind, p.curTok.Text(p.src))
	}
}

func (p *Parser) parseFunctionDef() (ast.Expr, error) {
	fnTok := p.curTok
	p.nextToken() // skip fn

	nameTok, err := p.expect(lexer.KindIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindLParen); err != nil {
		return nil, err
	}

	var params []string
	for p.curTok.Kind == lexer.KindIdent {
		name := p.curTok.Text(p.src)
		for _, prev := range params {
			if prev == name {
				return nil, diag.Errorf(diag.ErrSyntax, p.curTok.Pos(), "duplicate parameter %q in function %q", name, nameTok.Text(p.src))
			}
		}
		params = append(params, name)
		p.nextToken()
	}
	if _, err := p.expect(lexer.KindRParen); err != nil {
		return nil, err
	}

	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindRParen); err != nil {
		return nil, err
	}

	return &ast.FunctionDef{Token: fnTok, Name: nameTok.Text(p.src), Params: params, Body: body}, nil
}

// parseLet accepts both the flat binding list (let (x 1 y 2) body) and the
// parenthesized pairs (let ((x 1) (y 2)) body).
func (p *Parser) parseLet() (ast.Expr, error) {
	letTok := p.curTok
	p.nextToken() // skip let

	if _, err := p.expect(lexer.KindLParen); err != nil {
		return nil, err
	}

	var bindings []ast.Binding
	for p.curTok.Kind == lexer.KindIdent || p.curTok.Kind == lexer.KindLParen {
		paired := p.curTok.Kind == lexer.KindLParen
		if paired {
			p.nextToken()
		}

		nameTok, err := p.expect(lexer.KindIdent)
		if err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if paired {
			if _, err := p.expect(lexer.KindRParen); err != nil {
				return nil, err
			}
		}
		bindings = append(bindings, ast.Binding{Token: nameTok, Name: nameTok.Text(p.src), Value: val})
	}
	if _, err := p.expect(lexer.KindRParen); err != nil {
		return nil, err
	}

	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindRParen); err != nil {
		return nil, err
	}

	return &ast.LetExpr{Token: letTok, Bindings: bindings, Body: body}, nil
}

func (p *Parser) parseSet() (ast.Expr, error) {
	setTok := p.curTok
	p.nextToken() // skip set

	nameTok, err := p.expect(lexer.KindIdent)
	if err != nil {
		return nil, err
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindRParen); err != nil {
		return nil, err
	}

	return &ast.SetExpr{Token: setTok, Name: nameTok.Text(p.src), Value: val}, nil
}

func (p *Parser) parseIf() (ast.Expr, error) {
	ifTok := p.curTok
	p.nextToken() // skip if

	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	thenBranch, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	elseBranch, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindRParen); err != nil {
		return nil, err
	}

	return &ast.IfExpr{Token: ifTok, Condition: cond, ThenBranch: thenBranch, ElseBranch: elseBranch}, nil
}

func (p *Parser) parseWhile() (ast.Expr, error) {
	whileTok := p.curTok
	p.nextToken() // skip while

	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindRParen); err != nil {
		return nil, err
	}

	return &ast.WhileExpr{Token: whileTok, Condition: cond, Body: body}, nil
}

// parseOperator parses (OP a b), or (OP a) when the operand is directly
// followed by the closing paren.
func (p *Parser) parseOperator() (ast.Expr, error) {
	opTok := p.curTok
	op := opTok.Text(p.src)
	p.nextToken()

	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if p.curTok.Kind == lexer.KindRParen {
		p.nextToken()
		return &ast.UnaryExpr{Token: opTok, Operator: op, Operand: left}, nil
	}

	right, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindRParen); err != nil {
		return nil, err
	}

	return &ast.BinaryExpr{Token: opTok, Operator: op, Left: left, Right: right}, nil
}

func (p *Parser) parseCall() (ast.Expr, error) {
	calleeTok := p.curTok
	p.nextToken()

	var args []ast.Expr
	for p.curTok.Kind != lexer.KindRParen {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.nextToken() // skip )

	return &ast.CallExpr{Token: calleeTok, Callee: calleeTok.Text(p.src), Args: args}, nil
}

func (p *Parser) parseNumber(tok lexer.Token) (ast.Expr, error) {
	text := tok.Text(p.src)
	if strings.Contains(text, ".") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, diag.Errorf(diag.ErrSyntax, tok.Pos(), "invalid number literal %q", text)
		}
		return &ast.DoubleLiteral{Token: tok, Value: f}, nil
	}

	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, diag.Errorf(diag.ErrSyntax, tok.Pos(), "integer literal %q out of range", text)
	}
	return &ast.IntLiteral{Token: tok, Value: i}, nil
}

// expect consumes the current token if it has the given kind.
func (p *Parser) expect(kind lexer.Kind) (lexer.Token, error) {
	tok := p.curTok
	if tok.Kind != kind {
		if tok.Kind == lexer.KindError {
			return tok, p.unexpected()
		}
		return tok, diag.Errorf(diag.ErrSyntax, tok.Pos(), "expected %s, got %s", kind, tok.Kind)
	}
	p.nextToken()
	return tok, nil
}

func (p *Parser) unexpected() error {
	tok := p.curTok
	switch tok.Kind {
	case lexer.KindError:
		text := tok.Text(p.src)
		if strings.HasPrefix(text, `"`) {
			return diag.Errorf(diag.ErrSyntax, tok.Pos(), "unterminated string literal")
		}
		return diag.Errorf(diag.ErrSyntax, tok.Pos(), "unexpected character %q", text)
	case lexer.KindEOF:
		return diag.Errorf(diag.ErrSyntax, tok.Pos(), "unexpected end of input")
	}
	return diag.Errorf(diag.ErrSyntax, tok.Pos(), "unexpected %s %q", tok.Kind, tok.Text(p.src))
}

// unquote strips the quotes of a string token and resolves \" \\ \n \t.
func unquote(lit string) (string, error) {
	body := lit[1 : len(lit)-1]
	if !strings.Contains(body, `\`) {
		return body, nil
	}

	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if ch != '\\' {
			sb.WriteByte(ch)
			continue
		}
		i++
		switch body[i] {
		case '"', '\\':
			sb.WriteByte(body[i])
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		default:
			return "", &escapeError{seq: body[i-1 : i+1]}
		}
	}
	return sb.String(), nil
}

type escapeError struct{ seq string }

func (e *escapeError) Error() string { return "unknown escape sequence " + strconv.Quote(e.seq) }
