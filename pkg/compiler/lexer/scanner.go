package lexer

import "bytes"

// Scanner performs lexical analysis on nlisp source.
type Scanner struct {
	source    []byte
	cursor    int
	line      int
	lineStart int
}

// NewScanner creates a new scanner for the given source.
func NewScanner(source []byte) *Scanner {
	return &Scanner{
		source: source,
		line:   1,
	}
}

// Reset re-initializes the scanner with new source for pool reuse.
func (s *Scanner) Reset(source []byte) {
	s.source = source
	s.cursor = 0
	s.line = 1
	s.lineStart = 0
}

// Tokenize scans src to the end. The returned slice ends with the EOF
// token, or with the first Error token.
func Tokenize(src []byte) []Token {
	s := NewScanner(src)
	var toks []Token
	for {
		tok := s.Next()
		toks = append(toks, tok)
		if tok.Kind == KindEOF || tok.Kind == KindError {
			return toks
		}
	}
}

// Next returns the next token from the source.
func (s *Scanner) Next() Token {
	s.skipWhitespace()

	if s.cursor >= len(s.source) {
		return s.token(KindEOF, s.cursor)
	}

	start := s.cursor
	ch := s.source[s.cursor]

	if ch == ';' {
		s.skipComment()
		return s.Next()
	}

	if ch == '"' {
		return s.scanString()
	}

	if isDigit(ch) || (ch == '-' && isDigit(s.peek())) {
		return s.scanNumber()
	}

	if isAlpha(ch) {
		return s.scanIdentifier()
	}

	s.cursor++
	kind := KindError
	switch ch {
	case '(':
		kind = KindLParen
	case ')':
		kind = KindRParen
	case '[':
		kind = KindLBracket
	case ']':
		kind = KindRBracket
	case '{':
		kind = KindLBrace
	case '}':
		kind = KindRBrace
	case '\\':
		kind = KindBackslash
	case '+', '-', '*', '/', '!', '<', '>', '=', '%':
		kind = KindOperator
	}

	return s.token(kind, start)
}

func (s *Scanner) token(kind Kind, start int) Token {
	return Token{
		Kind:   kind,
		Offset: uint32(start),
		Length: uint32(s.cursor - start),
		Line:   uint32(s.line),
		Col:    uint32(start - s.lineStart + 1),
	}
}

func (s *Scanner) skipWhitespace() {
	for s.cursor < len(s.source) {
		ch := s.source[s.cursor]
		if ch == ' ' || ch == '\t' || ch == '\r' {
			s.cursor++
		} else if ch == '\n' {
			s.cursor++
			s.line++
			s.lineStart = s.cursor
		} else {
			break
		}
	}
}

func (s *Scanner) skipComment() {
	for s.cursor < len(s.source) && s.source[s.cursor] != '\n' {
		s.cursor++
	}
}

func (s *Scanner) scanString() Token {
	start := s.cursor
	line, lineStart := s.line, s.lineStart
	s.cursor++ // Skip opening '"'
	for s.cursor < len(s.source) && s.source[s.cursor] != '"' {
		switch s.source[s.cursor] {
		case '\\':
			s.cursor++
		case '\n':
			s.line++
			s.lineStart = s.cursor + 1
		}
		s.cursor++
	}

	kind := KindString
	if s.cursor >= len(s.source) {
		s.cursor = len(s.source)
		kind = KindError
	} else {
		s.cursor++ // Skip closing '"'
	}

	// Strings may span lines; report where they start.
	return Token{
		Kind:   kind,
		Offset: uint32(start),
		Length: uint32(s.cursor - start),
		Line:   uint32(line),
		Col:    uint32(start - lineStart + 1),
	}
}

func (s *Scanner) scanNumber() Token {
	start := s.cursor
	if s.source[s.cursor] == '-' {
		s.cursor++
	}
	for s.cursor < len(s.source) && isDigit(s.source[s.cursor]) {
		s.cursor++
	}
	if s.cursor < len(s.source) && s.source[s.cursor] == '.' && isDigit(s.peek()) {
		s.cursor++
		for s.cursor < len(s.source) && isDigit(s.source[s.cursor]) {
			s.cursor++
		}
	}
	return s.token(KindNumber, start)
}

func (s *Scanner) scanIdentifier() Token {
	start := s.cursor
	for s.cursor < len(s.source) && isIdentChar(s.source[s.cursor]) {
		s.cursor++
	}

	literal := s.source[start:s.cursor]
	kind := KindIdent
	for _, kw := range keywords {
		if bytes.Equal(literal, kw.text) {
			kind = kw.kind
			break
		}
	}

	return s.token(kind, start)
}

var keywords = []struct {
	text []byte
	kind Kind
}{
	{[]byte("fn"), KindFn},
	{[]byte("let"), KindLet},
	{[]byte("set"), KindSet},
	{[]byte("if"), KindIf},
	{[]byte("while"), KindWhile},
}

func (s *Scanner) peek() byte {
	if s.cursor+1 >= len(s.source) {
		return 0
	}
	return s.source[s.cursor+1]
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch byte) bool {
	return isAlpha(ch) || isDigit(ch) || ch == '-' || ch == '_' || ch == '?'
}
