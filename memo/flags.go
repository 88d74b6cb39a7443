package memo

import (
	"reflect"
)

// Flags are per-receiver overrides. A nil field defers to the cache default.
type Flags struct {
	Read  *bool
	Write *bool
}

// FlagProvider is implemented by receivers that carry their own cache flags.
type FlagProvider interface {
	CacheFlags() Flags
}

// Marker names a field or map key whose value opts an argument tree out of caching.
type Marker struct {
	Attr  string
	Value any
}

type CallOption func(*callOptions)

type callOptions struct {
	read     *bool
	write    *bool
	receiver any
}

// WithRead overrides reading from the cache for one call.
func WithRead(read bool) CallOption {
	return func(o *callOptions) { o.read = &read }
}

// WithWrite overrides writing to the cache for one call.
func WithWrite(write bool) CallOption {
	return func(o *callOptions) { o.write = &write }
}

// WithReceiver attaches the object the function is bound to. Its flags
// apply when it implements FlagProvider, and it is scanned for the
// uncacheable marker together with the arguments.
func WithReceiver(r any) CallOption {
	return func(o *callOptions) { o.receiver = r }
}

// resolve applies call site, then receiver, then defaults.
func resolve(defRead, defWrite bool, co callOptions) (read, write bool) {
	read, write = defRead, defWrite
	if p, ok := co.receiver.(FlagProvider); ok {
		f := p.CacheFlags()
		if f.Read != nil {
			read = *f.Read
		}
		if f.Write != nil {
			write = *f.Write
		}
	}
	if co.read != nil {
		read = *co.read
	}
	if co.write != nil {
		write = *co.write
	}
	return read, write
}

type visit struct {
	ptr  uintptr
	kind reflect.Kind
	len  int
}

// hasMarker walks v looking for a struct field or string map key named
// m.Attr whose value equals m.Value.
func hasMarker(v any, m Marker) bool {
	seen := make(map[visit]struct{})
	var walk func(reflect.Value) bool
	once := func(rv reflect.Value) bool {
		k := visit{ptr: rv.Pointer(), kind: rv.Kind()}
		if rv.Kind() == reflect.Slice {
			k.len = rv.Len()
		}
		if _, ok := seen[k]; ok {
			return false
		}
		seen[k] = struct{}{}
		return true
	}
	matches := func(rv reflect.Value) bool {
		return rv.CanInterface() && reflect.DeepEqual(rv.Interface(), m.Value)
	}
	walk = func(rv reflect.Value) bool {
		switch rv.Kind() {
		case reflect.Interface:
			return !rv.IsNil() && walk(rv.Elem())
		case reflect.Pointer:
			return !rv.IsNil() && once(rv) && walk(rv.Elem())
		case reflect.Struct:
			t := rv.Type()
			for i := range rv.NumField() {
				if t.Field(i).Name == m.Attr && matches(rv.Field(i)) {
					return true
				}
				if walk(rv.Field(i)) {
					return true
				}
			}
		case reflect.Map:
			if rv.IsNil() || !once(rv) {
				return false
			}
			iter := rv.MapRange()
			for iter.Next() {
				key := iter.Key()
				if key.Kind() == reflect.String && key.String() == m.Attr && matches(iter.Value()) {
					return true
				}
				if walk(iter.Value()) {
					return true
				}
			}
		case reflect.Slice:
			if rv.IsNil() || !once(rv) {
				return false
			}
			fallthrough
		case reflect.Array:
			for i := range rv.Len() {
				if walk(rv.Index(i)) {
					return true
				}
			}
		}
		return false
	}
	return walk(reflect.ValueOf(v))
}
