// Package repr renders arbitrary Go values as text through an ordered list of
// type arms. Two builders share the skeleton: Slim, for short filename-legible
// fragments, and Fingerprint, for the canonical text fed to content hashing.
package repr

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// ErrNoFingerprint is returned when no arm can render a value.
var ErrNoFingerprint = errors.New("no canonical representation for value")

// Arm is one dispatch rule. Arms are evaluated in order and the first arm
// whose Match returns true renders the value.
type Arm struct {
	Name   string
	Match  func(reflect.Value) bool
	Render func(*Walker, reflect.Value) (string, error)
}

// Custom is an instance-level handler consulted after the type arms and
// before the fallback. ok=false passes the value on to the fallback.
type Custom func(ctx context.Context, v reflect.Value) (s string, ok bool, err error)

// Builder owns an ordered arm list, an optional custom handler and a fallback.
type Builder struct {
	name     string
	arms     []Arm
	custom   Custom
	fallback Arm
}

// WithArms returns a copy of b with extra arms evaluated before the built-in ones.
func (b *Builder) WithArms(arms ...Arm) *Builder {
	nb := *b
	nb.arms = append(append([]Arm{}, arms...), b.arms...)
	return &nb
}

// WithCustom returns a copy of b using c as its custom handler.
func (b *Builder) WithCustom(c Custom) *Builder {
	nb := *b
	nb.custom = c
	return &nb
}

// Name is "slim" or "fingerprint" for the built-in builders.
func (b *Builder) Name() string { return b.name }

// Render renders v. It is safe for concurrent use; state lives in a per-call Walker.
func (b *Builder) Render(ctx context.Context, v any) (string, error) {
	w := &Walker{ctx: ctx, b: b, visiting: map[uintptr]struct{}{}}
	return w.Render(reflect.ValueOf(v))
}

// Walker carries per-call state: the context used for warnings and the set of
// pointers currently on the recursion stack.
type Walker struct {
	ctx      context.Context
	b        *Builder
	visiting map[uintptr]struct{}
}

func (w *Walker) Context() context.Context { return w.ctx }

// Render dispatches v through the builder's arms.
func (w *Walker) Render(v reflect.Value) (string, error) {
	for _, arm := range w.b.arms {
		if arm.Match(v) {
			return arm.Render(w, v)
		}
	}
	if w.b.custom != nil {
		s, ok, err := w.b.custom(w.ctx, v)
		if err != nil {
			return "", err
		}
		if ok {
			return s, nil
		}
	}
	if w.b.fallback.Match != nil && w.b.fallback.Match(v) {
		return w.b.fallback.Render(w, v)
	}
	return "", fmt.Errorf("%w: %s builder, type %s", ErrNoFingerprint, w.b.name, typeName(v))
}

// enter marks a pointer-like value as being rendered. It reports false if the
// value is already on the stack, i.e. the structure is cyclic.
func (w *Walker) enter(v reflect.Value) (leave func(), ok bool) {
	ptr := v.Pointer()
	if ptr == 0 {
		return func() {}, true
	}
	if _, seen := w.visiting[ptr]; seen {
		return nil, false
	}
	w.visiting[ptr] = struct{}{}
	return func() { delete(w.visiting, ptr) }, true
}

func typeName(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	return v.Type().String()
}

func kindIn(kinds ...reflect.Kind) func(reflect.Value) bool {
	return func(v reflect.Value) bool {
		if !v.IsValid() {
			return false
		}
		for _, k := range kinds {
			if v.Kind() == k {
				return true
			}
		}
		return false
	}
}

func implements(iface reflect.Type) func(reflect.Value) bool {
	return func(v reflect.Value) bool {
		return v.IsValid() && v.Type().Implements(iface) && v.CanInterface() &&
			!(v.Kind() == reflect.Pointer && v.IsNil())
	}
}

func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func isSet(v reflect.Value) bool {
	return v.IsValid() && v.Kind() == reflect.Map && v.Type().Elem().Kind() == reflect.Struct &&
		v.Type().Elem().NumField() == 0
}
