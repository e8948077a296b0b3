package mini

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokNewline
	tokName
	tokField       // _name
	tokStaticField // __name
	tokNumber
	tokString
	tokInterp // string with %(...) parts
	tokPunct
	tokKeyword
)

var keywords = map[string]bool{
	"break": true, "class": true, "construct": true, "continue": true, "else": true,
	"false": true, "for": true, "foreign": true, "if": true, "import": true,
	"in": true, "is": true, "null": true, "return": true, "static": true,
	"this": true, "true": true, "var": true, "while": true, "as": true,
}

type strPart struct {
	text string
	expr bool
	line int
}

type token struct {
	text  string
	parts []strPart
	num   float64
	kind  tokenKind
	line  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of file"
	case tokNewline:
		return "newline"
	case tokString, tokInterp:
		return strconv.Quote(t.text)
	}
	return t.text
}

type syntaxError struct {
	msg  string
	line int
}

func (e *syntaxError) Error() string { return fmt.Sprintf("line %d: %s", e.line, e.msg) }

// punctuators ordered longest first.
var punctuators = []string{
	"...", "..", "==", "!=", "<=", ">=", "&&", "||", "<<", ">>",
	"(", ")", "[", "]", "{", "}", ",", ".", "=", "+", "-", "*", "/", "%",
	"<", ">", "!", "~", "&", "|", "^", "?", ":",
}

type lexer struct {
	src  string
	pos  int
	line int
}

func lex(src string, line int) ([]token, error) {
	l := &lexer{src: src, line: line}
	var toks []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		// Collapse runs of newlines.
		if t.kind == tokNewline && len(toks) > 0 && toks[len(toks)-1].kind == tokNewline {
			continue
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) errorf(format string, args ...any) error {
	return &syntaxError{msg: fmt.Sprintf(format, args...), line: l.line}
}

func (l *lexer) peekByte(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *lexer) skipSpace() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '/' && l.peekByte(1) == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == '/' && l.peekByte(1) == '*':
			depth := 0
			for {
				if l.pos >= len(l.src) {
					return l.errorf("unterminated block comment")
				}
				if l.src[l.pos] == '/' && l.peekByte(1) == '*' {
					depth++
					l.pos += 2
					continue
				}
				if l.src[l.pos] == '*' && l.peekByte(1) == '/' {
					depth--
					l.pos += 2
					if depth == 0 {
						break
					}
					continue
				}
				if l.src[l.pos] == '\n' {
					l.line++
				}
				l.pos++
			}
		default:
			return nil
		}
	}
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (l *lexer) next() (token, error) {
	if err := l.skipSpace(); err != nil {
		return token{}, err
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line}, nil
	}

	c := l.src[l.pos]
	line := l.line

	if c == '\n' {
		l.pos++
		l.line++
		return token{kind: tokNewline, text: "\n", line: line}, nil
	}

	if isIdentStart(c) {
		start := l.pos
		for l.pos < len(l.src) && (isIdentStart(l.src[l.pos]) || isDigit(l.src[l.pos])) {
			l.pos++
		}
		word := l.src[start:l.pos]
		switch {
		case strings.HasPrefix(word, "__"):
			return token{kind: tokStaticField, text: word, line: line}, nil
		case strings.HasPrefix(word, "_"):
			return token{kind: tokField, text: word, line: line}, nil
		case keywords[word]:
			return token{kind: tokKeyword, text: word, line: line}, nil
		}
		return token{kind: tokName, text: word, line: line}, nil
	}

	if isDigit(c) {
		return l.number()
	}

	if c == '"' {
		return l.str()
	}

	for _, p := range punctuators {
		if strings.HasPrefix(l.src[l.pos:], p) {
			l.pos += len(p)
			return token{kind: tokPunct, text: p, line: line}, nil
		}
	}
	return token{}, l.errorf("invalid character '%c'", c)
}

func (l *lexer) number() (token, error) {
	start := l.pos
	line := l.line
	if l.src[l.pos] == '0' && (l.peekByte(1) == 'x' || l.peekByte(1) == 'X') {
		l.pos += 2
		for l.pos < len(l.src) && strings.IndexByte("0123456789abcdefABCDEF", l.src[l.pos]) >= 0 {
			l.pos++
		}
		n, err := strconv.ParseUint(l.src[start+2:l.pos], 16, 64)
		if err != nil {
			return token{}, l.errorf("invalid hex literal %q", l.src[start:l.pos])
		}
		return token{kind: tokNumber, num: float64(n), text: l.src[start:l.pos], line: line}, nil
	}
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	// A dot followed by a digit is a fraction; otherwise it is a method call
	// or range operator.
	if l.peekByte(0) == '.' && isDigit(l.peekByte(1)) {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if c := l.peekByte(0); c == 'e' || c == 'E' {
		save := l.pos
		l.pos++
		if c := l.peekByte(0); c == '+' || c == '-' {
			l.pos++
		}
		if !isDigit(l.peekByte(0)) {
			l.pos = save
		} else {
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
	}
	text := l.src[start:l.pos]
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, l.errorf("invalid number %q", text)
	}
	return token{kind: tokNumber, num: n, text: text, line: line}, nil
}

func (l *lexer) str() (token, error) {
	line := l.line
	l.pos++ // opening quote
	var b strings.Builder
	var parts []strPart

	for {
		if l.pos >= len(l.src) {
			return token{}, l.errorf("unterminated string")
		}
		c := l.src[l.pos]
		switch c {
		case '"':
			l.pos++
			if parts == nil {
				return token{kind: tokString, text: b.String(), line: line}, nil
			}
			if b.Len() > 0 {
				parts = append(parts, strPart{text: b.String()})
			}
			return token{kind: tokInterp, parts: parts, text: "interpolation", line: line}, nil
		case '\n':
			l.line++
			b.WriteByte(c)
			l.pos++
		case '\\':
			l.pos++
			e := l.peekByte(0)
			l.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '0':
				b.WriteByte(0)
			case '"', '\\', '%':
				b.WriteByte(e)
			default:
				return token{}, l.errorf("invalid escape '\\%c'", e)
			}
		case '%':
			if l.peekByte(1) != '(' {
				b.WriteByte(c)
				l.pos++
				continue
			}
			if parts == nil {
				parts = []strPart{}
			}
			if b.Len() > 0 {
				parts = append(parts, strPart{text: b.String()})
				b.Reset()
			}
			l.pos += 2
			exprLine := l.line
			start := l.pos
			depth := 1
			for depth > 0 {
				if l.pos >= len(l.src) {
					return token{}, l.errorf("unterminated interpolation")
				}
				switch l.src[l.pos] {
				case '(':
					depth++
				case ')':
					depth--
				case '\n':
					l.line++
				}
				l.pos++
			}
			parts = append(parts, strPart{text: l.src[start : l.pos-1], expr: true, line: exprLine})
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
}
