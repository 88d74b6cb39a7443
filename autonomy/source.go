// Package autonomy decides whether the source of a function depends on
// nothing but its arguments, its declared imports and the builtins.
package autonomy

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"reflect"
	"strings"

	"github.com/vladlpavlov/Pythagoras-sub001/internal/table"
)

var ErrInvalidSource = errors.New("invalid function source")

// sourceTableSize bounds the parsed sources remembered per generation.
const sourceTableSize = 1 << 10

var (
	normalized = table.Func1E(normalizeSource, sourceTableSize)
	headers    = table.Func1E(declHeader, sourceTableSize)
)

// unit is one parsed function, either a declaration or a literal.
type unit struct {
	node ast.Node
	name string
	recv *ast.FieldList
	typ  *ast.FuncType
	body *ast.BlockStmt
}

func parse(src string) (*unit, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSource)
	}
	file, declErr := parser.ParseFile(token.NewFileSet(), "", "package p\n\n"+src, parser.SkipObjectResolution)
	if declErr == nil {
		if len(file.Decls) != 1 {
			return nil, fmt.Errorf("%w: want exactly one declaration, got %d", ErrInvalidSource, len(file.Decls))
		}
		fd, ok := file.Decls[0].(*ast.FuncDecl)
		if !ok || fd.Body == nil {
			return nil, fmt.Errorf("%w: not a function with a body", ErrInvalidSource)
		}
		return &unit{node: fd, name: fd.Name.Name, recv: fd.Recv, typ: fd.Type, body: fd.Body}, nil
	}

	expr, err := parser.ParseExprFrom(token.NewFileSet(), "", src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, declErr)
	}
	lit, ok := expr.(*ast.FuncLit)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a function literal", ErrInvalidSource, expr)
	}
	return &unit{node: lit, typ: lit.Type, body: lit.Body}, nil
}

// NormalizeSource strips comments and blank lines and reprints src in
// canonical layout. Sources that differ only in comments, spacing or line
// breaks normalize to the same text.
func NormalizeSource(src string) (string, error) { return normalized(src) }

func normalizeSource(src string) (string, error) {
	u, err := parse(src)
	if err != nil {
		return "", err
	}
	clearPositions(u.node)
	var buf bytes.Buffer
	if err := format.Node(&buf, token.NewFileSet(), u.node); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	lines := strings.Split(buf.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n") + "\n", nil
}

var posType = reflect.TypeOf(token.NoPos)

// clearPositions zeroes every position in the tree, so the printer lays the
// function out from its structure alone and not from the original line breaks.
func clearPositions(root ast.Node) {
	ast.Inspect(root, func(n ast.Node) bool {
		if n == nil {
			return false
		}
		v := reflect.ValueOf(n)
		if v.Kind() != reflect.Pointer || v.IsNil() {
			return true
		}
		v = v.Elem()
		if v.Kind() != reflect.Struct {
			return true
		}
		for i := range v.NumField() {
			if f := v.Field(i); f.Type() == posType && f.CanSet() {
				f.SetInt(0)
			}
		}
		return true
	})
}

// Header describes the function in a source.
type Header struct {
	// Name is empty for a function literal.
	Name   string
	Method bool
}

// DeclHeader reads the name and kind of the function in src.
func DeclHeader(src string) (Header, error) { return headers(src) }

func declHeader(src string) (Header, error) {
	u, err := parse(src)
	if err != nil {
		return Header{}, err
	}
	return Header{Name: u.name, Method: u.recv != nil}, nil
}
