// Package opt provides a tri-state optional value.
//
// External payloads distinguish three cases for a field: the key was not sent,
// it was sent as null, or it carries a value. Merges only ever apply the last case.
package opt

import "fmt"

type State uint8

const (
	Absent State = iota
	Null
	Present
)

// Value holds an optional T. The zero Value is Absent.
type Value[T any] struct {
	state State
	v     T
}

func Some[T any](v T) Value[T] { return Value[T]{state: Present, v: v} }

func NullOf[T any]() Value[T] { return Value[T]{state: Null} }

func None[T any]() Value[T] { return Value[T]{} }

func (o Value[T]) State() State { return o.state }
func (o Value[T]) IsPresent() bool { return o.state == Present }
func (o Value[T]) IsNull() bool { return o.state == Null }
func (o Value[T]) IsAbsent() bool { return o.state == Absent }
func (o Value[T]) Get() (T, bool) { return o.v, o.state == Present }

// Or returns the value when present, def otherwise.
func (o Value[T]) Or(def T) T {
	if o.state == Present {
		return o.v
	}
	return def
}

// Ptr returns a pointer to a copy of the value, or nil when not present.
func (o Value[T]) Ptr() *T {
	if o.state != Present {
		return nil
	}
	v := o.v
	return &v
}

// Apply writes the value into dst when present and reports whether it did.
func (o Value[T]) Apply(dst *T) bool {
	if o.state != Present {
		return false
	}
	*dst = o.v
	return true
}

// FromPtr maps nil to Absent.
func FromPtr[T any](p *T) Value[T] {
	if p == nil {
		return Value[T]{}
	}
	return Some(*p)
}

func (o Value[T]) String() string {
	switch o.state {
	case Present:
		return fmt.Sprint(o.v)
	case Null:
		return "null"
	default:
		return "absent"
	}
}
