// Package address turns values into content addresses: a human-readable
// prefix, an optional structural descriptor and a fixed-length digest of the
// value's canonical fingerprint.
package address

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
	"github.com/vladlpavlov/Pythagoras-sub001/repr"
)

// HashLen is the length of the digest part of every address.
const HashLen = 40

var ErrMalformed = errors.New("malformed address")

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Address identifies a value by content. It is a comparable value type.
type Address struct {
	Prefix     string
	Descriptor string // empty when the value has no structural summary
	Hash       string
}

var _ persidict.KeySegmenter = Address{}

// KeySegments lets an Address be used directly as a persidict key.
func (a Address) KeySegments() []string {
	if a.Descriptor == "" {
		return []string{a.Prefix, a.Hash}
	}
	return []string{a.Prefix, a.Descriptor, a.Hash}
}

func (a Address) Key() persidict.Key { return persidict.MustKey(a) }

func (a Address) String() string { return strings.Join(a.KeySegments(), "/") }

func (a Address) IsZero() bool { return a == Address{} }

// Parse is the inverse of String.
func Parse(s string) (Address, error) {
	parts := strings.Split(s, "/")
	var a Address
	switch len(parts) {
	case 2:
		a = Address{Prefix: parts[0], Hash: parts[1]}
	case 3:
		a = Address{Prefix: parts[0], Descriptor: parts[1], Hash: parts[2]}
	default:
		return Address{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if len(a.Hash) != HashLen {
		return Address{}, fmt.Errorf("%w: hash of %q", ErrMalformed, s)
	}
	if _, err := persidict.NewKey(a); err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return a, nil
}

// Builder computes addresses with a given fingerprint builder.
type Builder struct {
	fp *repr.Builder
}

// NewBuilder returns a Builder around fp; nil uses repr.Fingerprint().
func NewBuilder(fp *repr.Builder) *Builder {
	if fp == nil {
		fp = repr.Fingerprint()
	}
	return &Builder{fp: fp}
}

var defaultBuilder = NewBuilder(nil)

// Of computes the address of v with the default fingerprint builder.
func Of(ctx context.Context, v any) (Address, error) {
	return defaultBuilder.Of(ctx, v)
}

// MustOf is the panic-on-failure variant of Of.
func MustOf(ctx context.Context, v any) Address {
	a, err := Of(ctx, v)
	if err != nil {
		panic(err)
	}
	return a
}

// Of is deterministic and has no side effects.
func (b *Builder) Of(ctx context.Context, v any) (Address, error) {
	text, err := b.fp.Render(ctx, v)
	if err != nil {
		return Address{}, err
	}
	return Address{
		Prefix:     prefixOf(v),
		Descriptor: descriptorOf(v),
		Hash:       HashText(text),
	}, nil
}

// HashText is the fixed-length, filesystem-safe digest of s.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return strings.ToLower(encoding.EncodeToString(sum[:]))[:HashLen]
}

// Push stores v under its address unless the address already exists.
// The first writer wins; later writes of the same content are skipped.
func (b *Builder) Push(ctx context.Context, store persidict.Dict, v any) (Address, error) {
	a, err := b.Of(ctx, v)
	if err != nil {
		return Address{}, err
	}
	if _, err := persidict.SetDefault(ctx, store, a.Key(), v); err != nil && !errors.Is(err, persidict.ErrImmutable) {
		return Address{}, fmt.Errorf("push %s: %w", a, err)
	}
	return a, nil
}

// Push stores v with the default builder.
func Push(ctx context.Context, store persidict.Dict, v any) (Address, error) {
	return defaultBuilder.Push(ctx, store, v)
}

// Fetch reads the value stored under a.
func Fetch(ctx context.Context, store persidict.Dict, a Address) (any, error) {
	return store.Get(ctx, a.Key())
}

func prefixOf(v any) string {
	if v == nil {
		return "none"
	}
	prefix := strings.ToLower(repr.ShortTypeName(reflect.TypeOf(v)))
	if pkg := pkgBase(reflect.TypeOf(v)); pkg != "" {
		prefix = pkg + "." + prefix
	}
	if n, ok := v.(repr.Namer); ok && n.Name() != "" {
		prefix += "_" + n.Name()
	}
	return persidict.Sanitize(prefix)
}

func pkgBase(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	p := t.PkgPath()
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	}
	return p
}

func descriptorOf(v any) string {
	if t, ok := v.(repr.Table); ok {
		rows, cols := t.Shape()
		return fmt.Sprintf("shape_%dx%d", rows, cols)
	}
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return ""
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return fmt.Sprintf("len_%d", rv.Len())
	}
	return ""
}
