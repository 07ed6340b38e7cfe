package lexer_test

import (
	"testing"

	"github.com/agenthands/nlisp/pkg/compiler/lexer"
)

func TestScannerZeroAlloc(t *testing.T) {
	src := []byte(`(fn square (x) (* x x)) ; trailing comment
(let ((y 2.5)) (set y (- y 1)))`)
	s := lexer.NewScanner(src)

	allocs := testing.AllocsPerRun(10, func() {
		s.Reset(src)
		for {
			tok := s.Next()
			if tok.Kind == lexer.KindEOF || tok.Kind == lexer.KindError {
				break
			}
		}
	})

	if allocs > 0 {
		t.Errorf("expected 0 allocations, got %f", allocs)
	}
}

func TestScannerKinds(t *testing.T) {
	src := []byte(`(fn square (x) (* x x)) (while 0 (square -2)) (let ((s "a b")) (set s 1.5)) (if a? [ ] { } \ !)`)
	s := lexer.NewScanner(src)

	expected := []lexer.Kind{
		lexer.KindLParen, lexer.KindFn, lexer.KindIdent, lexer.KindLParen, lexer.KindIdent, lexer.KindRParen,
		lexer.KindLParen, lexer.KindOperator, lexer.KindIdent, lexer.KindIdent, lexer.KindRParen, lexer.KindRParen,
		lexer.KindLParen, lexer.KindWhile, lexer.KindNumber, lexer.KindLParen, lexer.KindIdent, lexer.KindNumber, lexer.KindRParen, lexer.KindRParen,
		lexer.KindLParen, lexer.KindLet, lexer.KindLParen, lexer.KindLParen, lexer.KindIdent, lexer.KindString, lexer.KindRParen, lexer.KindRParen,
		lexer.KindLParen, lexer.KindSet, lexer.KindIdent, lexer.KindNumber, lexer.KindRParen, lexer.KindRParen,
		lexer.KindLParen, lexer.KindIf, lexer.KindIdent, lexer.KindLBracket, lexer.KindRBracket, lexer.KindLBrace, lexer.KindRBrace,
		lexer.KindBackslash, lexer.KindOperator, lexer.KindRParen,
		lexer.KindEOF,
	}

	for i, exp := range expected {
		tok := s.Next()
		if tok.Kind != exp {
			t.Fatalf("token %d (%q): expected kind %v, got %v", i, tok.Text(src), exp, tok.Kind)
		}
	}
}

func TestScannerLiterals(t *testing.T) {
	src := []byte(`12 -3 4.25 "say \"hi\"" lisp-case_name? - 5`)
	want := []struct {
		kind lexer.Kind
		text string
	}{
		{lexer.KindNumber, "12"},
		{lexer.KindNumber, "-3"},
		{lexer.KindNumber, "4.25"},
		{lexer.KindString, `"say \"hi\""`},
		{lexer.KindIdent, "lisp-case_name?"},
		{lexer.KindOperator, "-"},
		{lexer.KindNumber, "5"},
		{lexer.KindEOF, ""},
	}

	toks := lexer.Tokenize(src)
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, w := range want {
		if toks[i].Kind != w.kind || toks[i].Text(src) != w.text {
			t.Errorf("token %d = %v %q, want %v %q", i, toks[i].Kind, toks[i].Text(src), w.kind, w.text)
		}
	}
}

func TestScannerPositions(t *testing.T) {
	src := []byte("(a\n  ; note\n   bc)")
	toks := lexer.Tokenize(src)

	want := []struct{ line, col uint32 }{
		{1, 1}, // (
		{1, 2}, // a
		{3, 4}, // bc
		{3, 6}, // )
	}
	for i, w := range want {
		if toks[i].Line != w.line || toks[i].Col != w.col {
			t.Errorf("token %d at %d:%d, want %d:%d", i, toks[i].Line, toks[i].Col, w.line, w.col)
		}
	}
}

func TestScannerErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unterminated string", `(print "abc`},
		{"unexpected character", `(+ 1 #)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks := lexer.Tokenize([]byte(tt.src))
			last := toks[len(toks)-1]
			if last.Kind != lexer.KindError {
				t.Errorf("expected trailing Error token, got %v", last.Kind)
			}
		})
	}
}

func TestTokensReplay(t *testing.T) {
	src := []byte("(x)")
	ts := lexer.NewTokens(lexer.Tokenize(src)[:3]) // drop EOF

	for _, want := range []lexer.Kind{lexer.KindLParen, lexer.KindIdent, lexer.KindRParen, lexer.KindEOF, lexer.KindEOF} {
		if got := ts.Next().Kind; got != want {
			t.Fatalf("Next() = %v, want %v", got, want)
		}
	}
}

func TestKindString(t *testing.T) {
	if lexer.KindRParen.String() != "RParen" || lexer.KindEOF.String() != "EOF" {
		t.Errorf("unexpected names %s %s", lexer.KindRParen, lexer.KindEOF)
	}
}
