package lexer

import "github.com/agenthands/nlisp/pkg/core/diag"

// Kind represents the type of token identified by the scanner.
type Kind uint8

const (
	KindEOF Kind = iota
	KindError
	KindLParen
	KindRParen
	KindOperator
	KindNumber
	KindString
	KindIdent
	KindFn
	KindLet
	KindSet
	KindIf
	KindWhile

	// Reserved for bracket and lambda syntax. The scanner produces them but
	// no form accepts them yet.
	KindLBracket  // [
	KindRBracket  // ]
	KindLBrace    // {
	KindRBrace    // }
	KindBackslash // \
)

var kindNames = [...]string{
	KindEOF:       "EOF",
	KindError:     "Error",
	KindLParen:    "LParen",
	KindRParen:    "RParen",
	KindOperator:  "Operator",
	KindNumber:    "Number",
	KindString:    "String",
	KindIdent:     "Ident",
	KindFn:        "Fn",
	KindLet:       "Let",
	KindSet:       "Set",
	KindIf:        "If",
	KindWhile:     "While",
	KindLBracket:  "LBracket",
	KindRBracket:  "RBracket",
	KindLBrace:    "LBrace",
	KindRBrace:    "RBrace",
	KindBackslash: "Backslash",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(?)"
}

// Token represents a lexical unit pointing back to the source.
type Token struct {
	Kind   Kind
	Offset uint32
	Length uint32
	Line   uint32
	Col    uint32
}

// Text returns the literal text of the token.
func (t Token) Text(src []byte) string {
	end := t.Offset + t.Length
	if int(end) > len(src) {
		return ""
	}
	return string(src[t.Offset:end])
}

// Pos returns the token position for diagnostics.
func (t Token) Pos() diag.Pos {
	return diag.Pos{Line: int(t.Line), Col: int(t.Col)}
}

// Tokens replays an already scanned token sequence. After the last token it
// keeps returning EOF.
type Tokens struct {
	toks []Token
	i    int
}

// NewTokens wraps toks. A trailing EOF is implied if missing.
func NewTokens(toks []Token) *Tokens {
	return &Tokens{toks: toks}
}

// Next returns the next token.
func (ts *Tokens) Next() Token {
	if ts.i >= len(ts.toks) {
		var line, col uint32
		if n := len(ts.toks); n > 0 {
			line, col = ts.toks[n-1].Line, ts.toks[n-1].Col+ts.toks[n-1].Length
		}
		return Token{Kind: KindEOF, Line: line, Col: col}
	}
	tok := ts.toks[ts.i]
	ts.i++
	return tok
}
