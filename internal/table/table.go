// Package table memoizes pure functions in process. Entries live in two
// generations: when the head generation is full the older one is dropped
// and a fresh one takes its place.
package table

import (
	"sync"
	"sync/atomic"
)

type Table[O any] struct {
	gens    [2]atomic.Pointer[sync.Map]
	head    atomic.Uint32
	size    atomic.Uint32
	maxSize uint32
	rotate  sync.Mutex
}

func New[O any](maxSize uint32) *Table[O] {
	if maxSize == 0 {
		panic("maxSize should be greater than 0")
	}
	t := &Table[O]{maxSize: maxSize}
	t.gens[0].Store(&sync.Map{})
	t.gens[1].Store(&sync.Map{})
	return t
}

// Load looks keys up in the head generation, then in the older one.
func (t *Table[O]) Load(keys ...any) (O, bool) {
	head := t.head.Load()
	for _, g := range []uint32{head, 1 - head} {
		if m, k, ok := walk(t.gens[g].Load(), keys, false); ok {
			if v, ok := m.Load(k); ok {
				return v.(O), true
			}
		}
	}
	var zero O
	return zero, false
}

func (t *Table[O]) Store(value O, keys ...any) {
	if t.size.Add(1) > t.maxSize {
		t.rotate.Lock()
		if t.size.Load() > t.maxSize {
			old := 1 - t.head.Load()
			t.gens[old].Store(&sync.Map{})
			t.head.Store(old)
			t.size.Store(1)
		}
		t.rotate.Unlock()
	}
	m, k, _ := walk(t.gens[t.head.Load()].Load(), keys, true)
	m.Store(k, value)
}

// walk descends one nested map per key but the last.
func walk(m *sync.Map, keys []any, create bool) (*sync.Map, any, bool) {
	if len(keys) == 0 {
		panic("table: empty keys")
	}
	for _, k := range keys[:len(keys)-1] {
		next, ok := m.Load(k)
		if !ok {
			if !create {
				return nil, nil, false
			}
			next, _ = m.LoadOrStore(k, &sync.Map{})
		}
		m = next.(*sync.Map)
	}
	return m, keys[len(keys)-1], true
}

// Func1 memoizes fn by its argument.
func Func1[I comparable, O any](fn func(I) O, maxSize uint32) func(I) O {
	t := New[O](maxSize)
	return func(i I) O {
		if v, ok := t.Load(i); ok {
			return v
		}
		v := fn(i)
		t.Store(v, i)
		return v
	}
}

type result[O any] struct {
	v   O
	err error
}

// Func1E memoizes fn by its argument, errors included. fn must fail the
// same way every time for a given argument.
func Func1E[I comparable, O any](fn func(I) (O, error), maxSize uint32) func(I) (O, error) {
	memo := Func1(func(i I) result[O] {
		v, err := fn(i)
		return result[O]{v: v, err: err}
	}, maxSize)
	return func(i I) (O, error) {
		r := memo(i)
		return r.v, r.err
	}
}
