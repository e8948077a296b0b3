package mini

import "fmt"

type parser struct {
	toks []token
	pos  int
}

func parse(src string) ([]stmt, error) {
	toks, err := lex(src, 1)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	var out []stmt
	p.skipNewlines()
	for !p.at(tokEOF, "") {
		s, err := p.statement(true)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if err := p.endStatement(); err != nil {
			return nil, err
		}
		p.skipNewlines()
	}
	return out, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// at reports whether the next token has kind and, when text is not empty,
// that text.
func (p *parser) at(kind tokenKind, text string) bool {
	t := p.peek()
	return t.kind == kind && (text == "" || t.text == text)
}

func (p *parser) atPunct(text string) bool { return p.at(tokPunct, text) }

func (p *parser) atKeyword(text string) bool { return p.at(tokKeyword, text) }

func (p *parser) match(kind tokenKind, text string) bool {
	if p.at(kind, text) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) errorf(format string, args ...any) error {
	t := p.peek()
	return &syntaxError{
		msg:  fmt.Sprintf("Error at '%s': %s", t, fmt.Sprintf(format, args...)),
		line: t.line,
	}
}

func (p *parser) expect(kind tokenKind, text, what string) (token, error) {
	if !p.at(kind, text) {
		return token{}, p.errorf("Expect %s.", what)
	}
	return p.advance(), nil
}

func (p *parser) skipNewlines() {
	for p.at(tokNewline, "") {
		p.advance()
	}
}

func (p *parser) endStatement() error {
	if p.at(tokNewline, "") || p.at(tokEOF, "") || p.atPunct("}") {
		return nil
	}
	return p.errorf("Expect newline after statement.")
}

func (p *parser) statement(topLevel bool) (stmt, error) {
	t := p.peek()
	switch {
	case t.kind == tokKeyword && t.text == "class":
		if !topLevel {
			return nil, p.errorf("Classes must be defined at module level.")
		}
		return p.classDef(false)
	case t.kind == tokKeyword && t.text == "foreign":
		if !topLevel {
			return nil, p.errorf("Classes must be defined at module level.")
		}
		p.advance()
		if !p.atKeyword("class") {
			return nil, p.errorf("Expect 'class' after 'foreign'.")
		}
		return p.classDef(true)
	case t.kind == tokKeyword && t.text == "import":
		return p.importStmt()
	case t.kind == tokKeyword && t.text == "var":
		p.advance()
		name, err := p.expect(tokName, "", "variable name")
		if err != nil {
			return nil, err
		}
		s := &varStmt{pos: pos{t.line}, name: name.text}
		if p.match(tokPunct, "=") {
			p.skipNewlines()
			if s.init, err = p.expression(); err != nil {
				return nil, err
			}
		}
		return s, nil
	case t.kind == tokKeyword && t.text == "if":
		return p.ifStmt()
	case t.kind == tokKeyword && t.text == "while":
		p.advance()
		cond, err := p.parenExpr()
		if err != nil {
			return nil, err
		}
		body, err := p.controlBody()
		if err != nil {
			return nil, err
		}
		return &whileStmt{pos: pos{t.line}, cond: cond, body: body}, nil
	case t.kind == tokKeyword && t.text == "for":
		return p.forStmt()
	case t.kind == tokKeyword && t.text == "return":
		p.advance()
		s := &returnStmt{pos: pos{t.line}}
		if p.at(tokNewline, "") || p.atPunct("}") || p.at(tokEOF, "") {
			return s, nil
		}
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		s.x = x
		return s, nil
	case t.kind == tokKeyword && t.text == "break":
		p.advance()
		return &breakStmt{pos{t.line}}, nil
	case t.kind == tokKeyword && t.text == "continue":
		p.advance()
		return &continueStmt{pos{t.line}}, nil
	case t.kind == tokPunct && t.text == "{":
		return p.block()
	}

	x, err := p.expression()
	if err != nil {
		return nil, err
	}
	return &exprStmt{pos: pos{t.line}, x: x}, nil
}

func (p *parser) block() (*blockStmt, error) {
	open, err := p.expect(tokPunct, "{", "'{'")
	if err != nil {
		return nil, err
	}
	b := &blockStmt{pos: pos{open.line}}
	p.skipNewlines()
	for !p.atPunct("}") {
		if p.at(tokEOF, "") {
			return nil, p.errorf("Expect '}' after block.")
		}
		s, err := p.statement(false)
		if err != nil {
			return nil, err
		}
		b.stmts = append(b.stmts, s)
		if err := p.endStatement(); err != nil {
			return nil, err
		}
		p.skipNewlines()
	}
	p.advance()
	return b, nil
}

// controlBody parses the body of if, while and for: a block or a single
// statement on the same line.
func (p *parser) controlBody() (stmt, error) {
	if p.atPunct("{") {
		return p.block()
	}
	return p.statement(false)
}

func (p *parser) parenExpr() (expr, error) {
	if _, err := p.expect(tokPunct, "(", "'('"); err != nil {
		return nil, err
	}
	p.skipNewlines()
	x, err := p.expression()
	if err != nil {
		return nil, err
	}
	p.skipNewlines()
	if _, err := p.expect(tokPunct, ")", "')'"); err != nil {
		return nil, err
	}
	return x, nil
}

func (p *parser) ifStmt() (stmt, error) {
	t := p.advance()
	cond, err := p.parenExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.controlBody()
	if err != nil {
		return nil, err
	}
	s := &ifStmt{pos: pos{t.line}, cond: cond, then: then}

	// else may follow on the next line.
	save := p.pos
	p.skipNewlines()
	if p.match(tokKeyword, "else") {
		if s.els, err = p.controlBody(); err != nil {
			return nil, err
		}
	} else {
		p.pos = save
	}
	return s, nil
}

func (p *parser) forStmt() (stmt, error) {
	t := p.advance()
	if _, err := p.expect(tokPunct, "(", "'(' after 'for'"); err != nil {
		return nil, err
	}
	name, err := p.expect(tokName, "", "for loop variable name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokKeyword, "in", "'in' after loop variable"); err != nil {
		return nil, err
	}
	seq, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokPunct, ")", "')' after loop expression"); err != nil {
		return nil, err
	}
	body, err := p.controlBody()
	if err != nil {
		return nil, err
	}
	return &forStmt{pos: pos{t.line}, name: name.text, seq: seq, body: body}, nil
}

func (p *parser) importStmt() (stmt, error) {
	t := p.advance()
	mod, err := p.expect(tokString, "", "a string after 'import'")
	if err != nil {
		return nil, err
	}
	s := &importStmt{pos: pos{t.line}, module: mod.text}
	if !p.match(tokKeyword, "for") {
		return s, nil
	}
	for {
		p.skipNewlines()
		name, err := p.expect(tokName, "", "variable name")
		if err != nil {
			return nil, err
		}
		in := importName{name: name.text, alias: name.text}
		if p.match(tokKeyword, "as") {
			alias, err := p.expect(tokName, "", "variable name after 'as'")
			if err != nil {
				return nil, err
			}
			in.alias = alias.text
		}
		s.names = append(s.names, in)
		if !p.match(tokPunct, ",") {
			return s, nil
		}
	}
}

func (p *parser) classDef(foreign bool) (stmt, error) {
	t := p.advance() // class
	name, err := p.expect(tokName, "", "class name")
	if err != nil {
		return nil, err
	}
	c := &classStmt{pos: pos{t.line}, name: name.text, foreign: foreign}
	if p.match(tokKeyword, "is") {
		if c.super, err = p.call(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokPunct, "{", "'{' after class declaration"); err != nil {
		return nil, err
	}
	p.skipNewlines()
	for !p.match(tokPunct, "}") {
		if p.at(tokEOF, "") {
			return nil, p.errorf("Expect '}' after class body.")
		}
		m, err := p.method()
		if err != nil {
			return nil, err
		}
		c.methods = append(c.methods, m)
		if !p.atPunct("}") {
			if _, err := p.expect(tokNewline, "", "newline after definition in class"); err != nil {
				return nil, err
			}
		}
		p.skipNewlines()
	}
	return c, nil
}

var operatorMethods = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true, "<": true, ">": true,
	"<=": true, ">=": true, "==": true, "!=": true, "..": true, "...": true,
	"!": true, "~": true, "&": true, "|": true, "^": true, "<<": true, ">>": true,
}

func (p *parser) method() (*methodDecl, error) {
	m := &methodDecl{pos: pos{p.peek().line}}
	if p.match(tokKeyword, "foreign") {
		m.foreign = true
	}
	if p.match(tokKeyword, "static") {
		m.static = true
	}
	if p.match(tokKeyword, "construct") {
		m.construct = true
	}

	t := p.peek()
	switch {
	case t.kind == tokName:
		p.advance()
		m.name = t.text
		switch {
		case p.atPunct("("):
			params, err := p.params("(", ")")
			if err != nil {
				return nil, err
			}
			m.params = params
			m.sig = signature(m.name, len(params), sigMethod)
		case p.atPunct("="):
			p.advance()
			params, err := p.params("(", ")")
			if err != nil {
				return nil, err
			}
			if len(params) != 1 {
				return nil, p.errorf("A setter takes one parameter.")
			}
			m.params = params
			m.sig = signature(m.name, 1, sigSetter)
		default:
			if m.construct {
				return nil, p.errorf("A constructor cannot be a getter.")
			}
			m.sig = signature(m.name, 0, sigGetter)
		}
	case t.kind == tokPunct && t.text == "[":
		params, err := p.params("[", "]")
		if err != nil {
			return nil, err
		}
		m.name = "[]"
		m.params = params
		m.sig = signature("", len(params), sigSubscript)
		if p.match(tokPunct, "=") {
			value, err := p.params("(", ")")
			if err != nil {
				return nil, err
			}
			if len(value) != 1 {
				return nil, p.errorf("A subscript setter takes one value.")
			}
			m.params = append(m.params, value[0])
			m.sig = signature("", len(params), sigSubscriptSetter)
		}
	case t.kind == tokPunct && operatorMethods[t.text]:
		p.advance()
		m.name = t.text
		if p.atPunct("(") {
			params, err := p.params("(", ")")
			if err != nil {
				return nil, err
			}
			if len(params) != 1 {
				return nil, p.errorf("An infix operator takes one parameter.")
			}
			m.params = params
			m.sig = t.text + "(_)"
		} else {
			m.sig = t.text
		}
	default:
		return nil, p.errorf("Expect method definition.")
	}

	if m.foreign {
		return m, nil
	}
	if err := p.methodBody(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *parser) params(open, close string) ([]string, error) {
	if _, err := p.expect(tokPunct, open, "'"+open+"'"); err != nil {
		return nil, err
	}
	var out []string
	p.skipNewlines()
	if p.match(tokPunct, close) {
		return out, nil
	}
	for {
		p.skipNewlines()
		name, err := p.expect(tokName, "", "parameter name")
		if err != nil {
			return nil, err
		}
		out = append(out, name.text)
		p.skipNewlines()
		if p.match(tokPunct, close) {
			return out, nil
		}
		if _, err := p.expect(tokPunct, ",", "',' or '"+close+"'"); err != nil {
			return nil, err
		}
	}
}

// methodBody parses a block. A body written on a single line whose only
// statement is an expression returns that expression.
func (p *parser) methodBody(m *methodDecl) error {
	open, err := p.expect(tokPunct, "{", "'{' to begin method body")
	if err != nil {
		return err
	}
	if p.match(tokPunct, "}") {
		m.body = &blockStmt{pos: pos{open.line}}
		return nil
	}
	if !p.at(tokNewline, "") {
		s, err := p.statement(false)
		if err != nil {
			return err
		}
		if es, ok := s.(*exprStmt); ok && p.atPunct("}") {
			p.advance()
			m.exprBody = es.x
			return nil
		}
		b := &blockStmt{pos: pos{open.line}, stmts: []stmt{s}}
		if err := p.endStatement(); err != nil {
			return err
		}
		p.skipNewlines()
		for !p.match(tokPunct, "}") {
			if p.at(tokEOF, "") {
				return p.errorf("Expect '}' after method body.")
			}
			s, err := p.statement(false)
			if err != nil {
				return err
			}
			b.stmts = append(b.stmts, s)
			if err := p.endStatement(); err != nil {
				return err
			}
			p.skipNewlines()
		}
		m.body = b
		return nil
	}
	p.pos-- // let block() consume the brace
	m.body, err = p.block()
	return err
}

// Expressions

func (p *parser) expression() (expr, error) {
	lhs, err := p.conditional()
	if err != nil {
		return nil, err
	}
	if p.atPunct("=") {
		t := p.advance()
		switch lhs.(type) {
		case *nameExpr, *fieldExpr, *subscriptExpr:
		case *callExpr:
			if c := lhs.(*callExpr); len(c.args) != 0 || c.sig != c.name {
				return nil, &syntaxError{msg: "Error at '=': Invalid assignment target.", line: t.line}
			}
		default:
			return nil, &syntaxError{msg: "Error at '=': Invalid assignment target.", line: t.line}
		}
		p.skipNewlines()
		rhs, err := p.expression()
		if err != nil {
			return nil, err
		}
		return &assignExpr{pos: pos{t.line}, target: lhs, value: rhs}, nil
	}
	return lhs, nil
}

func (p *parser) conditional() (expr, error) {
	cond, err := p.logical(0)
	if err != nil {
		return nil, err
	}
	if !p.atPunct("?") {
		return cond, nil
	}
	t := p.advance()
	p.skipNewlines()
	then, err := p.conditional()
	if err != nil {
		return nil, err
	}
	p.skipNewlines()
	if _, err := p.expect(tokPunct, ":", "':' after then branch of conditional"); err != nil {
		return nil, err
	}
	p.skipNewlines()
	els, err := p.conditional()
	if err != nil {
		return nil, err
	}
	return &condExpr{pos: pos{t.line}, cond: cond, then: then, els: els}, nil
}

var logicalOps = []string{"||", "&&"}

func (p *parser) logical(level int) (expr, error) {
	if level == len(logicalOps) {
		return p.binary(0)
	}
	l, err := p.logical(level + 1)
	if err != nil {
		return nil, err
	}
	for p.atPunct(logicalOps[level]) {
		t := p.advance()
		p.skipNewlines()
		r, err := p.logical(level + 1)
		if err != nil {
			return nil, err
		}
		l = &logicalExpr{pos: pos{t.line}, op: t.text, l: l, r: r}
	}
	return l, nil
}

// binaryLevels lists method operators from loosest to tightest binding.
// The "is" level is handled separately.
var binaryLevels = [][]string{
	{"==", "!="},
	{"is"},
	{"<", ">", "<=", ">="},
	{"|"},
	{"^"},
	{"&"},
	{"<<", ">>"},
	{"..", "..."},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *parser) binaryOp(level int) (token, bool) {
	t := p.peek()
	for _, op := range binaryLevels[level] {
		if op == "is" {
			if t.kind == tokKeyword && t.text == "is" {
				return t, true
			}
			continue
		}
		if t.kind == tokPunct && t.text == op {
			return t, true
		}
	}
	return token{}, false
}

func (p *parser) binary(level int) (expr, error) {
	if level == len(binaryLevels) {
		return p.unary()
	}
	l, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.binaryOp(level)
		if !ok {
			return l, nil
		}
		p.advance()
		p.skipNewlines()
		r, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		if t.text == "is" {
			l = &isExpr{pos: pos{t.line}, x: l, cls: r}
		} else {
			l = &binaryExpr{pos: pos{t.line}, op: t.text, l: l, r: r}
		}
	}
}

func (p *parser) unary() (expr, error) {
	if p.atPunct("-") || p.atPunct("!") || p.atPunct("~") {
		t := p.advance()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if n, ok := x.(*numLit); ok && t.text == "-" {
			return &numLit{pos: n.pos, v: -n.v}, nil
		}
		return &unaryExpr{pos: pos{t.line}, op: t.text, x: x}, nil
	}
	return p.call()
}

func (p *parser) call() (expr, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.atPunct("."):
			p.advance()
			p.skipNewlines()
			name, err := p.expect(tokName, "", "method name after '.'")
			if err != nil {
				return nil, err
			}
			c := &callExpr{pos: pos{name.line}, recv: x, name: name.text}
			if p.atPunct("(") {
				if c.args, err = p.args("(", ")"); err != nil {
					return nil, err
				}
				c.sig = signature(c.name, len(c.args), sigMethod)
			} else {
				c.sig = signature(c.name, 0, sigGetter)
			}
			x = c
		case p.atPunct("["):
			t := p.peek()
			args, err := p.args("[", "]")
			if err != nil {
				return nil, err
			}
			if len(args) == 0 {
				return nil, &syntaxError{msg: "Error at ']': Expect subscript arguments.", line: t.line}
			}
			x = &subscriptExpr{pos: pos{t.line}, recv: x, args: args}
		default:
			return x, nil
		}
	}
}

func (p *parser) args(open, close string) ([]expr, error) {
	if _, err := p.expect(tokPunct, open, "'"+open+"'"); err != nil {
		return nil, err
	}
	var out []expr
	p.skipNewlines()
	if p.match(tokPunct, close) {
		return out, nil
	}
	for {
		p.skipNewlines()
		a, err := p.expression()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		p.skipNewlines()
		if p.match(tokPunct, close) {
			return out, nil
		}
		if _, err := p.expect(tokPunct, ",", "',' or '"+close+"'"); err != nil {
			return nil, err
		}
	}
}

func (p *parser) primary() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.advance()
		return &numLit{pos: pos{t.line}, v: t.num}, nil
	case tokString:
		p.advance()
		return &strLit{pos: pos{t.line}, v: t.text}, nil
	case tokInterp:
		p.advance()
		return p.interpolation(t)
	case tokField, tokStaticField:
		p.advance()
		return &fieldExpr{pos: pos{t.line}, name: t.text, static: t.kind == tokStaticField}, nil
	case tokName:
		p.advance()
		if p.atPunct("(") {
			args, err := p.args("(", ")")
			if err != nil {
				return nil, err
			}
			return &callExpr{pos: pos{t.line}, name: t.text, args: args, sig: signature(t.text, len(args), sigMethod)}, nil
		}
		return &nameExpr{pos: pos{t.line}, name: t.text}, nil
	case tokKeyword:
		switch t.text {
		case "true", "false":
			p.advance()
			return &boolLit{pos: pos{t.line}, v: t.text == "true"}, nil
		case "null":
			p.advance()
			return &nullLit{pos{t.line}}, nil
		case "this":
			p.advance()
			return &thisExpr{pos{t.line}}, nil
		}
	case tokPunct:
		switch t.text {
		case "(":
			return p.parenExpr()
		case "[":
			elems, err := p.args("[", "]")
			if err != nil {
				return nil, err
			}
			return &listLit{pos: pos{t.line}, elems: elems}, nil
		case "{":
			return p.mapLiteral()
		}
	}
	return nil, p.errorf("Expected expression.")
}

func (p *parser) mapLiteral() (expr, error) {
	t := p.advance()
	m := &mapLit{pos: pos{t.line}}
	p.skipNewlines()
	if p.match(tokPunct, "}") {
		return m, nil
	}
	for {
		p.skipNewlines()
		k, err := p.conditional()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokPunct, ":", "':' after map key"); err != nil {
			return nil, err
		}
		p.skipNewlines()
		v, err := p.expression()
		if err != nil {
			return nil, err
		}
		m.keys = append(m.keys, k)
		m.vals = append(m.vals, v)
		p.skipNewlines()
		if p.match(tokPunct, "}") {
			return m, nil
		}
		if _, err := p.expect(tokPunct, ",", "',' or '}' after map entry"); err != nil {
			return nil, err
		}
	}
}

func (p *parser) interpolation(t token) (expr, error) {
	x := &interpLit{pos: pos{t.line}}
	for _, part := range t.parts {
		if !part.expr {
			x.parts = append(x.parts, &strLit{pos: pos{t.line}, v: part.text})
			continue
		}
		toks, err := lex(part.text, part.line)
		if err != nil {
			return nil, err
		}
		sub := &parser{toks: toks}
		sub.skipNewlines()
		e, err := sub.expression()
		if err != nil {
			return nil, err
		}
		sub.skipNewlines()
		if !sub.at(tokEOF, "") {
			return nil, sub.errorf("Expect ')' after interpolated expression.")
		}
		x.parts = append(x.parts, e)
	}
	return x, nil
}
