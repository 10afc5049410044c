package arbor

import (
	"fmt"
	"reflect"
)

// lazyValue is the untyped hook the engine uses to drive Lazy placeholders
// without knowing their type parameter. *Lazy[T] implements it.
type lazyValue interface {
	attach(load func() (any, error))
	resolveForWrite() (any, bool, error)
	loadedValue() (any, bool)
	elemType() reflect.Type
}

// Lazy is a deferred-loading placeholder for a reference, child or file
// field. Declaring a field as Lazy[T] (or map values as *Lazy[T]) is what
// makes the mapper defer its loading: reads install a loader capturing the
// session, path and filter instead of mapping the target eagerly, and the
// first Get performs the real load.
//
// The zero Lazy is empty: Get returns ErrNoLoader until the mapper attaches
// a loader or Set stores a value. Resolution follows the engine's
// single-goroutine session model; concurrent first access is not supported.
//
// Example:
//
//	type Tree struct {
//		Name     string            `arbor:"name"`
//		Path     string            `arbor:"path"`
//		Branches Lazy[[]*Branch]   `arbor:"child"`
//	}
//
//	branches, err := tree.Branches.Get() // loads on first access
type Lazy[T any] struct {
	value  T
	loaded bool
	load   func() (any, error)
}

// Resolved returns an already-loaded placeholder holding v. Use it to
// populate lazy fields before an add or update.
func Resolved[T any](v T) Lazy[T] {
	return Lazy[T]{value: v, loaded: true}
}

// Get returns the held value, performing the deferred load on first access.
// A failed load leaves the placeholder unresolved, so a later Get retries.
func (l *Lazy[T]) Get() (T, error) {
	if l.loaded {
		return l.value, nil
	}
	if l.load == nil {
		var zero T
		return zero, ErrNoLoader
	}
	v, err := l.load()
	if err != nil {
		var zero T
		return zero, err
	}
	tv, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("lazy load produced %T, want %T", v, zero)
	}
	l.value = tv
	l.loaded = true
	l.load = nil
	return l.value, nil
}

// Loaded reports whether the placeholder holds a materialized value.
func (l *Lazy[T]) Loaded() bool {
	return l.loaded
}

// Set stores a value, marking the placeholder resolved and dropping any
// pending loader.
func (l *Lazy[T]) Set(v T) {
	l.value = v
	l.loaded = true
	l.load = nil
}

func (l *Lazy[T]) attach(load func() (any, error)) {
	l.load = load
	l.loaded = false
	var zero T
	l.value = zero
}

// resolveForWrite returns the value the write path should persist: the held
// value, the loaded target of a pending loader, or nothing for an empty
// placeholder.
func (l *Lazy[T]) resolveForWrite() (any, bool, error) {
	if l.loaded {
		return l.value, true, nil
	}
	if l.load == nil {
		return nil, false, nil
	}
	v, err := l.Get()
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (l *Lazy[T]) loadedValue() (any, bool) {
	if !l.loaded {
		return nil, false
	}
	return l.value, true
}

func (l *Lazy[T]) elemType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

var lazyValueType = reflect.TypeOf((*lazyValue)(nil)).Elem()

// isLazyType reports whether t is a Lazy[...] value or pointer type, and
// returns the placeholder's element type.
func isLazyType(t reflect.Type) (reflect.Type, bool) {
	var hook lazyValue
	switch {
	case t.Kind() == reflect.Pointer && t.Implements(lazyValueType):
		hook = reflect.New(t.Elem()).Interface().(lazyValue)
	case t.Kind() == reflect.Struct && reflect.PointerTo(t).Implements(lazyValueType):
		hook = reflect.New(t).Interface().(lazyValue)
	default:
		return nil, false
	}
	return hook.elemType(), true
}
