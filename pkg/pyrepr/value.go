// Package pyrepr renders Go values as Python literals.
//
// CatMAP loads its setup file by executing it, so every value written there
// must be valid Python literal syntax. The types in this package describe that
// subset of Python (str, int, float, bool, None, list, tuple, dict) and keep
// the distinctions Go would otherwise lose: int versus float, tuple versus
// list and dict insertion order.
package pyrepr

import (
	"math"
	"strings"
)

// Value is a Python literal.
type Value interface {
	writeRepr(b *strings.Builder)
}

// Number is a Value that has a numeric interpretation.
type Number interface {
	Value
	Float64() float64
}

type (
	// Str is a Python str.
	Str string
	// Int is a Python int.
	Int int64
	// Float is a Python float.
	Float float64
	// Bool is a Python bool.
	Bool bool
	// NoneType is the type of None.
	NoneType struct{}
	// List is a Python list.
	List []Value
	// Tuple is a Python tuple.
	Tuple []Value
)

// None is the Python None singleton.
var None = NoneType{}

func (i Int) Float64() float64   { return float64(i) }
func (f Float) Float64() float64 { return float64(f) }

// IsInteger reports whether f has no fractional part.
func (f Float) IsInteger() bool {
	v := float64(f)
	return !math.IsInf(v, 0) && !math.IsNaN(v) && v == math.Trunc(v)
}

// Dict is a Python dict. Keys keep their insertion order.
type Dict struct {
	keys   []Value
	values []Value
}

// NewDict returns an empty dict.
func NewDict() *Dict {
	return &Dict{}
}

// Set stores value under key, replacing an existing entry in place.
func (d *Dict) Set(key, value Value) {
	if i := d.index(key); i >= 0 {
		d.values[i] = value
		return
	}
	d.keys = append(d.keys, key)
	d.values = append(d.values, value)
}

// Get returns the value stored under key.
func (d *Dict) Get(key Value) (Value, bool) {
	if d == nil {
		return nil, false
	}
	if i := d.index(key); i >= 0 {
		return d.values[i], true
	}
	return nil, false
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value {
	if d == nil {
		return nil
	}
	return append([]Value(nil), d.keys...)
}

// Range calls fn for every entry in insertion order until fn returns false.
func (d *Dict) Range(fn func(key, value Value) bool) {
	if d == nil {
		return
	}
	for i := range d.keys {
		if !fn(d.keys[i], d.values[i]) {
			return
		}
	}
}

// Keys compare the way Python compares them: 1, 1.0 and True are the same
// key.
func (d *Dict) index(key Value) int {
	want := Repr(keyForm(key))
	for i, k := range d.keys {
		if Repr(keyForm(k)) == want {
			return i
		}
	}
	return -1
}

// keyForm maps numerically equal keys onto one literal.
func keyForm(v Value) Value {
	switch x := v.(type) {
	case Bool:
		if x {
			return Int(1)
		}
		return Int(0)
	case Float:
		if f := float64(x); x.IsInteger() && f >= math.MinInt64 && f < math.MaxInt64 {
			return Int(int64(f))
		}
	case Tuple:
		out := make(Tuple, len(x))
		for i, e := range x {
			out[i] = keyForm(e)
		}
		return out
	}
	return v
}

// HasNonFinite reports whether v holds an inf or nan float anywhere. Python
// has no literal for either.
func HasNonFinite(v Value) bool {
	switch x := v.(type) {
	case Float:
		return math.IsInf(float64(x), 0) || math.IsNaN(float64(x))
	case List:
		for _, e := range x {
			if HasNonFinite(e) {
				return true
			}
		}
	case Tuple:
		for _, e := range x {
			if HasNonFinite(e) {
				return true
			}
		}
	case *Dict:
		found := false
		x.Range(func(k, val Value) bool {
			found = HasNonFinite(k) || HasNonFinite(val)
			return !found
		})
		return found
	}
	return false
}

// AsNumber returns v as a Number when it is an Int or a Float.
func AsNumber(v Value) (Number, bool) {
	switch n := v.(type) {
	case Int:
		return n, true
	case Float:
		return n, true
	}
	return nil, false
}
