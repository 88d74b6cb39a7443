package repr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vladlpavlov/Pythagoras-sub001/log"
)

// MaxLiteralLen is the longest string rendered literally by Fingerprint.
// Longer strings are rendered as their length plus a digest of the full content.
const MaxLiteralLen = 64

var timeType = reflect.TypeOf(time.Time{})

// Fingerprint returns the builder whose output is the canonical text of a value.
// Content-equal values render identically; sets and maps are sorted.
func Fingerprint() *Builder {
	return &Builder{
		name: "fingerprint",
		arms: []Arm{
			{Name: "nil", Match: isNil, Render: func(*Walker, reflect.Value) (string, error) { return "N", nil }},
			{Name: "hook", Match: implements(fingerprinterType), Render: fpHook},
			{Name: "table", Match: implements(tableType), Render: fpTable},
			{Name: "time", Match: func(v reflect.Value) bool { return v.IsValid() && v.Type() == timeType && v.CanInterface() }, Render: fpTime},
			{Name: "bool", Match: kindIn(reflect.Bool), Render: fpBool},
			{Name: "int", Match: kindIn(reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64), Render: fpInt},
			{Name: "uint", Match: kindIn(reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr), Render: fpUint},
			{Name: "float", Match: kindIn(reflect.Float32, reflect.Float64), Render: fpFloat},
			{Name: "complex", Match: kindIn(reflect.Complex64, reflect.Complex128), Render: fpComplex},
			{Name: "string", Match: kindIn(reflect.String), Render: fpString},
			{Name: "bytes", Match: isBytes, Render: fpBytes},
			{Name: "set", Match: isSet, Render: fpSet},
			{Name: "map", Match: kindIn(reflect.Map), Render: fpMap},
			{Name: "sequence", Match: kindIn(reflect.Slice, reflect.Array), Render: fpSequence},
			{Name: "pointer", Match: kindIn(reflect.Pointer), Render: fpPointer},
			{Name: "interface", Match: kindIn(reflect.Interface), Render: func(w *Walker, v reflect.Value) (string, error) { return w.Render(v.Elem()) }},
		},
		fallback: Arm{Name: "object", Match: kindIn(reflect.Struct), Render: fpObject},
	}
}

// Digest is the hex SHA-256 of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func isBytes(v reflect.Value) bool {
	return v.IsValid() && v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}

func fpHook(w *Walker, v reflect.Value) (string, error) {
	s, err := v.Interface().(Fingerprinter).Fingerprint()
	if err != nil {
		return "", fmt.Errorf("fingerprint hook of %s: %w", v.Type(), err)
	}
	return "H" + v.Type().String() + ":" + s, nil
}

func fpTable(w *Walker, v reflect.Value) (string, error) {
	t := v.Interface().(Table)
	rows, cols := t.Shape()
	colLabels, err := w.Render(reflect.ValueOf(t.ColumnLabels()))
	if err != nil {
		return "", err
	}
	idxLabels, err := w.Render(reflect.ValueOf(t.IndexLabels()))
	if err != nil {
		return "", err
	}
	columns := make([]string, cols)
	for j := 0; j < cols; j++ {
		c, err := w.Render(reflect.ValueOf(t.Column(j)))
		if err != nil {
			return "", fmt.Errorf("table column %d: %w", j, err)
		}
		columns[j] = Digest(c)
	}
	return fmt.Sprintf("T%dx%d{cols=%s;index=%s;data=%s}",
		rows, cols, Digest(colLabels), Digest(idxLabels), Digest(strings.Join(columns, ","))), nil
}

func fpTime(_ *Walker, v reflect.Value) (string, error) {
	return "D" + v.Interface().(time.Time).UTC().Format(time.RFC3339Nano), nil
}

func fpBool(_ *Walker, v reflect.Value) (string, error) {
	if v.Bool() {
		return "B1", nil
	}
	return "B0", nil
}

func fpInt(_ *Walker, v reflect.Value) (string, error) {
	return "I" + strconv.FormatInt(v.Int(), 10), nil
}

func fpUint(_ *Walker, v reflect.Value) (string, error) {
	return "U" + strconv.FormatUint(v.Uint(), 10), nil
}

func fpFloat(_ *Walker, v reflect.Value) (string, error) {
	return "F" + strconv.FormatFloat(v.Float(), 'g', 8, v.Type().Bits()), nil
}

func fpComplex(_ *Walker, v reflect.Value) (string, error) {
	c := v.Complex()
	return "C" + strconv.FormatFloat(real(c), 'g', 8, 64) + "," + strconv.FormatFloat(imag(c), 'g', 8, 64), nil
}

func fpString(_ *Walker, v reflect.Value) (string, error) {
	s := v.String()
	if len(s) <= MaxLiteralLen {
		return "S" + strconv.Itoa(len(s)) + ":" + s, nil
	}
	return "L" + strconv.Itoa(len(s)) + ":" + Digest(s), nil
}

func fpBytes(_ *Walker, v reflect.Value) (string, error) {
	b := v.Bytes()
	sum := sha256.Sum256(b)
	return "Y" + strconv.Itoa(len(b)) + ":" + hex.EncodeToString(sum[:]), nil
}

func fpSet(w *Walker, v reflect.Value) (string, error) {
	leave, ok := w.enter(v)
	if !ok {
		return "", fmt.Errorf("%w: cyclic %s", ErrNoFingerprint, v.Type())
	}
	defer leave()
	elems := make([]string, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		s, err := w.Render(iter.Key())
		if err != nil {
			return "", err
		}
		elems = append(elems, s)
	}
	sort.Strings(elems)
	return fmt.Sprintf("Z%d{%s}", len(elems), strings.Join(elems, ",")), nil
}

func fpMap(w *Walker, v reflect.Value) (string, error) {
	leave, ok := w.enter(v)
	if !ok {
		return "", fmt.Errorf("%w: cyclic %s", ErrNoFingerprint, v.Type())
	}
	defer leave()
	entries := make([]string, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := w.Render(iter.Key())
		if err != nil {
			return "", err
		}
		val, err := w.Render(iter.Value())
		if err != nil {
			return "", fmt.Errorf("map entry %s: %w", k, err)
		}
		entries = append(entries, k+"="+val)
	}
	sort.Strings(entries)
	return fmt.Sprintf("M%d{%s}", len(entries), strings.Join(entries, ",")), nil
}

func fpSequence(w *Walker, v reflect.Value) (string, error) {
	if v.Kind() == reflect.Slice {
		leave, ok := w.enter(v)
		if !ok {
			return "", fmt.Errorf("%w: cyclic %s", ErrNoFingerprint, v.Type())
		}
		defer leave()
	}
	elems := make([]string, v.Len())
	for i := range elems {
		s, err := w.Render(v.Index(i))
		if err != nil {
			return "", err
		}
		elems[i] = s
	}
	return fmt.Sprintf("A%d[%s]", len(elems), strings.Join(elems, ",")), nil
}

func fpPointer(w *Walker, v reflect.Value) (string, error) {
	leave, ok := w.enter(v)
	if !ok {
		return "", fmt.Errorf("%w: cyclic %s", ErrNoFingerprint, v.Type())
	}
	defer leave()
	return w.Render(v.Elem())
}

// fpObject renders the exported field state of a struct. Hidden state is not
// covered, so the result is best effort and a warning is logged.
func fpObject(w *Walker, v reflect.Value) (string, error) {
	t := v.Type()
	log.LogEff(w.ctx, log.LogWarn, "fingerprinting object by its exported fields", map[string]interface{}{
		"type": t.String(),
	})
	fields := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		s, err := w.Render(v.Field(i))
		if err != nil {
			return "", fmt.Errorf("field %s.%s: %w", t, f.Name, err)
		}
		fields = append(fields, f.Name+"="+s)
	}
	return "O" + t.String() + "{" + strings.Join(fields, ",") + "}", nil
}
