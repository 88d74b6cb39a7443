package repr

import (
	"math"
	"reflect"
)

// Table is a two-dimensional labelled value, the dataframe shape of the world.
type Table interface {
	Shape() (rows, cols int)
	ColumnLabels() []string
	IndexLabels() []string
	// Column returns the cells of column j, top to bottom.
	Column(j int) []any
}

// Frame is a plain column-major Table.
type Frame struct {
	Columns []string
	Index   []string
	Data    [][]any // Data[j] is column j
}

var _ Table = Frame{}

func (f Frame) Shape() (int, int) {
	if len(f.Data) == 0 {
		return len(f.Index), 0
	}
	return len(f.Data[0]), len(f.Data)
}

func (f Frame) ColumnLabels() []string { return f.Columns }
func (f Frame) IndexLabels() []string  { return f.Index }
func (f Frame) Column(j int) []any     { return f.Data[j] }

// Set is an unordered collection; its fingerprint does not depend on
// iteration order. Any map[T]struct{} is treated the same way.
type Set[T comparable] map[T]struct{}

func NewSet[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Fingerprinter lets a type supply its own canonical text.
type Fingerprinter interface {
	Fingerprint() (string, error)
}

// Namer lets a value contribute its own name to slim fragments and address prefixes.
type Namer interface {
	Name() string
}

var (
	tableType         = reflect.TypeOf((*Table)(nil)).Elem()
	fingerprinterType = reflect.TypeOf((*Fingerprinter)(nil)).Elem()
	namerType         = reflect.TypeOf((*Namer)(nil)).Elem()
)

// countMissing counts nil and NaN cells.
func countMissing(t Table) int {
	_, cols := t.Shape()
	n := 0
	for j := 0; j < cols; j++ {
		for _, c := range t.Column(j) {
			switch x := c.(type) {
			case nil:
				n++
			case float64:
				if math.IsNaN(x) {
					n++
				}
			case float32:
				if math.IsNaN(float64(x)) {
					n++
				}
			}
		}
	}
	return n
}
