package mini

type node interface{ lineNo() int }

type pos struct{ ln int }

func (p pos) lineNo() int { return p.ln }

type expr interface{ node }

type (
	numLit struct {
		pos
		v float64
	}
	strLit struct {
		pos
		v string
	}
	interpLit struct {
		pos
		parts []expr
	}
	boolLit struct {
		pos
		v bool
	}
	nullLit  struct{ pos }
	thisExpr struct{ pos }
	listLit  struct {
		pos
		elems []expr
	}
	mapLit struct {
		pos
		keys []expr
		vals []expr
	}
	// nameExpr is a variable, or a getter on this when no variable matches.
	nameExpr struct {
		pos
		name string
	}
	fieldExpr struct {
		pos
		name   string
		static bool
	}
	// callExpr invokes sig on recv; a nil recv means this.
	callExpr struct {
		pos
		recv expr
		name string
		sig  string
		args []expr
	}
	subscriptExpr struct {
		pos
		recv expr
		args []expr
	}
	assignExpr struct {
		pos
		target expr
		value  expr
	}
	binaryExpr struct {
		pos
		op   string
		l, r expr
	}
	logicalExpr struct {
		pos
		op   string
		l, r expr
	}
	unaryExpr struct {
		pos
		op string
		x  expr
	}
	condExpr struct {
		pos
		cond, then, els expr
	}
	isExpr struct {
		pos
		x, cls expr
	}
)

type stmt interface{ node }

type (
	exprStmt struct {
		pos
		x expr
	}
	varStmt struct {
		pos
		name string
		init expr
	}
	blockStmt struct {
		pos
		stmts []stmt
	}
	ifStmt struct {
		pos
		cond expr
		then stmt
		els  stmt
	}
	whileStmt struct {
		pos
		cond expr
		body stmt
	}
	forStmt struct {
		pos
		name string
		seq  expr
		body stmt
	}
	returnStmt struct {
		pos
		x expr
	}
	breakStmt    struct{ pos }
	continueStmt struct{ pos }
	classStmt    struct {
		pos
		name    string
		super   expr
		methods []*methodDecl
		foreign bool
	}
	importStmt struct {
		pos
		module string
		names  []importName
	}
)

type importName struct {
	name  string
	alias string
}

type methodDecl struct {
	pos
	name      string
	sig       string
	params    []string
	body      *blockStmt
	exprBody  expr
	static    bool
	foreign   bool
	construct bool
}

// signature builds a call signature: name(_,_), name, name=(_), [_], [_]=(_).
func signature(name string, arity int, kind sigKind) string {
	switch kind {
	case sigGetter:
		return name
	case sigSetter:
		return name + "=(_)"
	case sigSubscript:
		return "[" + underscores(arity) + "]"
	case sigSubscriptSetter:
		return "[" + underscores(arity) + "]=(_)"
	}
	return name + "(" + underscores(arity) + ")"
}

type sigKind uint8

const (
	sigMethod sigKind = iota
	sigGetter
	sigSetter
	sigSubscript
	sigSubscriptSetter
)

func underscores(n int) string {
	if n == 0 {
		return ""
	}
	b := make([]byte, 0, 2*n-1)
	for i := range n {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '_')
	}
	return string(b)
}
