package repr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// MaxSlimStringLen bounds string fragments produced by Slim.
const MaxSlimStringLen = 16

// Slim returns the builder for short human-readable fragments. It is used only
// for legibility of file names and never fails on exotic types.
func Slim() *Builder {
	return &Builder{
		name: "slim",
		arms: []Arm{
			{Name: "nil", Match: isNil, Render: func(*Walker, reflect.Value) (string, error) { return "None", nil }},
			{Name: "namer", Match: implements(namerType), Render: func(_ *Walker, v reflect.Value) (string, error) {
				return v.Interface().(Namer).Name(), nil
			}},
			{Name: "table", Match: implements(tableType), Render: slimTable},
			{Name: "bool", Match: kindIn(reflect.Bool), Render: func(_ *Walker, v reflect.Value) (string, error) {
				return strconv.FormatBool(v.Bool()), nil
			}},
			{Name: "int", Match: kindIn(reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64), Render: func(_ *Walker, v reflect.Value) (string, error) {
				return strconv.FormatInt(v.Int(), 10), nil
			}},
			{Name: "uint", Match: kindIn(reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr), Render: func(_ *Walker, v reflect.Value) (string, error) {
				return strconv.FormatUint(v.Uint(), 10), nil
			}},
			{Name: "float", Match: kindIn(reflect.Float32, reflect.Float64), Render: func(_ *Walker, v reflect.Value) (string, error) {
				return strconv.FormatFloat(v.Float(), 'g', 4, 64), nil
			}},
			{Name: "string", Match: kindIn(reflect.String), Render: slimString},
			{Name: "bytes", Match: isBytes, Render: func(_ *Walker, v reflect.Value) (string, error) {
				return "bytes_len" + strconv.Itoa(v.Len()), nil
			}},
			{Name: "set", Match: isSet, Render: func(_ *Walker, v reflect.Value) (string, error) {
				return "set_len" + strconv.Itoa(v.Len()), nil
			}},
			{Name: "map", Match: kindIn(reflect.Map), Render: func(_ *Walker, v reflect.Value) (string, error) {
				return "map_len" + strconv.Itoa(v.Len()), nil
			}},
			{Name: "sequence", Match: kindIn(reflect.Slice, reflect.Array), Render: func(_ *Walker, v reflect.Value) (string, error) {
				return "list_len" + strconv.Itoa(v.Len()), nil
			}},
			{Name: "pointer", Match: kindIn(reflect.Pointer, reflect.Interface), Render: func(w *Walker, v reflect.Value) (string, error) {
				return w.Render(v.Elem())
			}},
		},
		fallback: Arm{Name: "type", Match: func(v reflect.Value) bool { return v.IsValid() }, Render: func(_ *Walker, v reflect.Value) (string, error) {
			return ShortTypeName(v.Type()), nil
		}},
	}
}

func slimTable(_ *Walker, v reflect.Value) (string, error) {
	t := v.Interface().(Table)
	rows, cols := t.Shape()
	return fmt.Sprintf("Table(%dx%d,nans%d)", rows, cols, countMissing(t)), nil
}

func slimString(_ *Walker, v reflect.Value) (string, error) {
	s := v.String()
	if len(s) > MaxSlimStringLen {
		s = s[:MaxSlimStringLen]
	}
	return s, nil
}

// ShortTypeName is the type name without its package path, e.g. "Frame".
func ShortTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if n := t.Name(); n != "" {
		return n
	}
	s := t.String()
	return strings.NewReplacer("[]", "slice_", "*", "", " ", "", "{}", "").Replace(s)
}
