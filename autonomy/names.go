package autonomy

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/vladlpavlov/Pythagoras-sub001/shared/helper"
)

// ReservedPrefix is kept free for names the runtime injects.
const ReservedPrefix = "_pth_"

// EnvCallMethod is the method through which published functions reach each
// other; literal names passed to it are recorded in NamesUsed.Calls.
const EnvCallMethod = "Call"

var ErrReservedName = errors.New("reserved name")

type names = map[string]struct{}

// NamesUsed records how a function refers to the world.
type NamesUsed struct {
	// Local holds parameters, results and everything declared in the body.
	Local names

	// Imported holds the declared imports the function refers to.
	Imported names

	// GlobalUnbound holds outer names the function assigns to.
	GlobalUnbound names

	// NonlocalUnbound holds outer names that nested literals assign to.
	NonlocalUnbound names

	// Unclassified holds every other free name, builtins included.
	Unclassified names

	// Accessible is Local plus Imported.
	Accessible names

	Calls       names
	Suspensions int
}

func newNamesUsed() *NamesUsed {
	return &NamesUsed{
		Local:           names{},
		Imported:        names{},
		GlobalUnbound:   names{},
		NonlocalUnbound: names{},
		Unclassified:    names{},
		Accessible:      names{},
		Calls:           names{},
	}
}

var builtins = helper.Set(
	"any", "bool", "byte", "comparable", "complex64", "complex128", "error",
	"float32", "float64", "int", "int8", "int16", "int32", "int64", "rune",
	"string", "uint", "uint8", "uint16", "uint32", "uint64", "uintptr",
	"true", "false", "iota", "nil",
	"append", "cap", "clear", "close", "complex", "copy", "delete", "imag",
	"len", "make", "max", "min", "new", "panic", "print", "println", "real",
	"recover",
)

// IsBuiltin reports whether name is predeclared by the language.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

var majorVersion = regexp.MustCompile(`^v[0-9]+$`)

// ImportName is the package name an import spec binds. A spec is either an
// import path or "alias path".
func ImportName(spec string) string {
	if f := strings.Fields(spec); len(f) == 2 {
		return f[0]
	}
	p := strings.Trim(strings.TrimSpace(spec), `"`)
	name := path.Base(p)
	if majorVersion.MatchString(name) && path.Dir(p) != "." {
		name = path.Base(path.Dir(p))
	}
	if i := strings.Index(name, ".v"); i > 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "go-")
	name = strings.TrimSuffix(name, "-go")
	return strings.ReplaceAll(name, "-", "_")
}

// Analyze walks the function in src with lexical scoping. imports are the
// import specs the function declares.
func Analyze(src string, imports []string) (*NamesUsed, error) {
	u, err := parse(src)
	if err != nil {
		return nil, err
	}
	a := &analyzer{nu: newNamesUsed(), imports: names{}}
	for _, spec := range imports {
		a.imports[ImportName(spec)] = struct{}{}
	}

	var reserved []string
	ast.Inspect(u.node, func(n ast.Node) bool {
		if id, ok := n.(*ast.Ident); ok && strings.HasPrefix(id.Name, ReservedPrefix) {
			reserved = append(reserved, id.Name)
		}
		return true
	})
	if len(reserved) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrReservedName, strings.Join(reserved, ", "))
	}

	a.function(u.recv, u.typ, u.body)
	for n := range a.nu.Local {
		a.nu.Accessible[n] = struct{}{}
	}
	for n := range a.nu.Imported {
		a.nu.Accessible[n] = struct{}{}
	}
	return a.nu, nil
}

type analyzer struct {
	nu      *NamesUsed
	imports names
	scopes  []names
	depth   int
}

func (a *analyzer) push() { a.scopes = append(a.scopes, names{}) }
func (a *analyzer) pop()  { a.scopes = a.scopes[:len(a.scopes)-1] }

func (a *analyzer) declare(id *ast.Ident) {
	if id == nil || id.Name == "_" {
		return
	}
	a.scopes[len(a.scopes)-1][id.Name] = struct{}{}
	a.nu.Local[id.Name] = struct{}{}
}

func (a *analyzer) bound(name string) bool {
	for i := len(a.scopes) - 1; i >= 0; i-- {
		if _, ok := a.scopes[i][name]; ok {
			return true
		}
	}
	return false
}

func (a *analyzer) use(id *ast.Ident) {
	if id.Name == "_" || a.bound(id.Name) {
		return
	}
	if _, ok := a.imports[id.Name]; ok {
		a.nu.Imported[id.Name] = struct{}{}
		return
	}
	a.nu.Unclassified[id.Name] = struct{}{}
}

// write records an assignment to an outer name.
func (a *analyzer) write(id *ast.Ident) {
	if id.Name == "_" || a.bound(id.Name) {
		return
	}
	if a.depth > 1 {
		a.nu.NonlocalUnbound[id.Name] = struct{}{}
	} else {
		a.nu.GlobalUnbound[id.Name] = struct{}{}
	}
}

func (a *analyzer) fields(fl *ast.FieldList, declare bool) {
	if fl == nil {
		return
	}
	for _, f := range fl.List {
		a.typeExpr(f.Type)
		if declare {
			for _, n := range f.Names {
				a.declare(n)
			}
		}
	}
}

func (a *analyzer) function(recv *ast.FieldList, typ *ast.FuncType, body *ast.BlockStmt) {
	a.depth++
	a.push()
	if typ.TypeParams != nil {
		for _, f := range typ.TypeParams.List {
			for _, n := range f.Names {
				a.declare(n)
			}
		}
		a.fields(typ.TypeParams, false)
	}
	a.fields(recv, true)
	a.fields(typ.Params, true)
	a.fields(typ.Results, true)
	if body != nil {
		a.stmts(body.List)
	}
	a.pop()
	a.depth--
}

func (a *analyzer) block(b *ast.BlockStmt) {
	if b == nil {
		return
	}
	a.push()
	a.stmts(b.List)
	a.pop()
}

func (a *analyzer) stmts(list []ast.Stmt) {
	for _, s := range list {
		a.stmt(s)
	}
}

func (a *analyzer) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case nil, *ast.EmptyStmt, *ast.BranchStmt:
	case *ast.BlockStmt:
		a.block(s)
	case *ast.ExprStmt:
		a.expr(s.X)
	case *ast.DeclStmt:
		if g, ok := s.Decl.(*ast.GenDecl); ok {
			a.genDecl(g)
		}
	case *ast.AssignStmt:
		for _, r := range s.Rhs {
			a.expr(r)
		}
		for _, l := range s.Lhs {
			id, ok := l.(*ast.Ident)
			switch {
			case ok && s.Tok == token.DEFINE:
				a.declare(id)
			case ok:
				a.write(id)
			default:
				a.expr(l)
			}
		}
	case *ast.IncDecStmt:
		if id, ok := s.X.(*ast.Ident); ok {
			a.write(id)
		} else {
			a.expr(s.X)
		}
	case *ast.GoStmt:
		a.nu.Suspensions++
		a.expr(s.Call)
	case *ast.DeferStmt:
		a.expr(s.Call)
	case *ast.SendStmt:
		a.nu.Suspensions++
		a.expr(s.Chan)
		a.expr(s.Value)
	case *ast.ReturnStmt:
		for _, r := range s.Results {
			a.expr(r)
		}
	case *ast.LabeledStmt:
		a.stmt(s.Stmt)
	case *ast.IfStmt:
		a.push()
		a.stmt(s.Init)
		a.expr(s.Cond)
		a.block(s.Body)
		a.stmt(s.Else)
		a.pop()
	case *ast.ForStmt:
		a.push()
		a.stmt(s.Init)
		a.expr(s.Cond)
		a.stmt(s.Post)
		a.block(s.Body)
		a.pop()
	case *ast.RangeStmt:
		a.expr(s.X)
		a.push()
		for _, e := range []ast.Expr{s.Key, s.Value} {
			id, ok := e.(*ast.Ident)
			switch {
			case e == nil:
			case ok && s.Tok == token.DEFINE:
				a.declare(id)
			case ok:
				a.write(id)
			default:
				a.expr(e)
			}
		}
		a.block(s.Body)
		a.pop()
	case *ast.SwitchStmt:
		a.push()
		a.stmt(s.Init)
		a.expr(s.Tag)
		for _, c := range s.Body.List {
			cc := c.(*ast.CaseClause)
			for _, e := range cc.List {
				a.expr(e)
			}
			a.push()
			a.stmts(cc.Body)
			a.pop()
		}
		a.pop()
	case *ast.TypeSwitchStmt:
		a.push()
		a.stmt(s.Init)
		var bind *ast.Ident
		switch as := s.Assign.(type) {
		case *ast.AssignStmt:
			bind, _ = as.Lhs[0].(*ast.Ident)
			a.expr(as.Rhs[0])
		case *ast.ExprStmt:
			a.expr(as.X)
		}
		for _, c := range s.Body.List {
			cc := c.(*ast.CaseClause)
			for _, e := range cc.List {
				a.typeExpr(e)
			}
			a.push()
			a.declare(bind)
			a.stmts(cc.Body)
			a.pop()
		}
		a.pop()
	case *ast.SelectStmt:
		a.nu.Suspensions++
		for _, c := range s.Body.List {
			cc := c.(*ast.CommClause)
			a.push()
			if send, ok := cc.Comm.(*ast.SendStmt); ok {
				a.expr(send.Chan)
				a.expr(send.Value)
			} else {
				a.stmt(cc.Comm)
			}
			a.stmts(cc.Body)
			a.pop()
		}
	default:
		panic(fmt.Sprintf("exhaustive match fallback, statement: %T", s))
	}
}

func (a *analyzer) genDecl(g *ast.GenDecl) {
	for _, spec := range g.Specs {
		switch sp := spec.(type) {
		case *ast.ValueSpec:
			a.typeExpr(sp.Type)
			for _, v := range sp.Values {
				a.expr(v)
			}
			for _, n := range sp.Names {
				a.declare(n)
			}
		case *ast.TypeSpec:
			a.declare(sp.Name)
			a.push()
			if sp.TypeParams != nil {
				for _, f := range sp.TypeParams.List {
					for _, n := range f.Names {
						a.declare(n)
					}
				}
				a.fields(sp.TypeParams, false)
			}
			a.typeExpr(sp.Type)
			a.pop()
		}
	}
}

func (a *analyzer) expr(e ast.Expr) {
	switch e := e.(type) {
	case nil, *ast.BasicLit, *ast.BadExpr:
	case *ast.Ident:
		a.use(e)
	case *ast.FuncLit:
		a.function(nil, e.Type, e.Body)
	case *ast.CompositeLit:
		a.typeExpr(e.Type)
		_, isMap := e.Type.(*ast.MapType)
		for _, elt := range e.Elts {
			kv, ok := elt.(*ast.KeyValueExpr)
			if !ok {
				a.expr(elt)
				continue
			}
			// bare identifiers as keys name struct fields
			if _, field := kv.Key.(*ast.Ident); !field || isMap {
				a.expr(kv.Key)
			}
			a.expr(kv.Value)
		}
	case *ast.CallExpr:
		a.call(e)
	case *ast.ParenExpr:
		a.expr(e.X)
	case *ast.SelectorExpr:
		a.expr(e.X)
	case *ast.IndexExpr:
		a.expr(e.X)
		a.expr(e.Index)
	case *ast.IndexListExpr:
		a.expr(e.X)
		for _, i := range e.Indices {
			a.expr(i)
		}
	case *ast.SliceExpr:
		a.expr(e.X)
		a.expr(e.Low)
		a.expr(e.High)
		a.expr(e.Max)
	case *ast.TypeAssertExpr:
		a.expr(e.X)
		a.typeExpr(e.Type)
	case *ast.StarExpr:
		a.expr(e.X)
	case *ast.UnaryExpr:
		a.expr(e.X)
	case *ast.BinaryExpr:
		a.expr(e.X)
		a.expr(e.Y)
	case *ast.KeyValueExpr:
		a.expr(e.Key)
		a.expr(e.Value)
	case *ast.Ellipsis:
		a.typeExpr(e.Elt)
	case *ast.ArrayType, *ast.StructType, *ast.FuncType, *ast.InterfaceType, *ast.MapType, *ast.ChanType:
		a.typeExpr(e)
	default:
		panic(fmt.Sprintf("exhaustive match fallback, expression: %T", e))
	}
}

func (a *analyzer) typeExpr(e ast.Expr) {
	switch t := e.(type) {
	case nil:
	case *ast.StructType:
		a.fields(t.Fields, false)
	case *ast.InterfaceType:
		a.fields(t.Methods, false)
	case *ast.FuncType:
		a.fields(t.TypeParams, false)
		a.fields(t.Params, false)
		a.fields(t.Results, false)
	case *ast.ArrayType:
		a.expr(t.Len)
		a.typeExpr(t.Elt)
	case *ast.MapType:
		a.typeExpr(t.Key)
		a.typeExpr(t.Value)
	case *ast.ChanType:
		a.typeExpr(t.Value)
	default:
		a.expr(e)
	}
}

// call records literal targets of env.Call(ctx, "name", ...) where env is
// a local.
func (a *analyzer) call(c *ast.CallExpr) {
	if sel, ok := c.Fun.(*ast.SelectorExpr); ok && sel.Sel.Name == EnvCallMethod && len(c.Args) >= 2 {
		if recv, ok := sel.X.(*ast.Ident); ok && a.bound(recv.Name) {
			if lit, ok := c.Args[1].(*ast.BasicLit); ok && lit.Kind == token.STRING {
				if name, err := strconv.Unquote(lit.Value); err == nil {
					a.nu.Calls[name] = struct{}{}
				}
			}
		}
	}
	a.expr(c.Fun)
	for _, arg := range c.Args {
		a.expr(arg)
	}
}
