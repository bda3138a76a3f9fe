// Package config implements a flat, typed key-value configuration object.
//
// Every value carries one of four kinds. Accessors are strict: a missing key
// or a value of the wrong kind is an error, so a whole document can be
// rejected when a single field is malformed.
package config

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrMissingField = errors.New("config: missing field")
	ErrWrongType    = errors.New("config: wrong field type")
)

// Kind identifies the type of a stored value.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a single typed entry.
type Value struct {
	Kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

// Object is an insertion-ordered set of typed fields.
type Object struct {
	order  []string
	fields map[string]Value
}

// New returns an empty Object.
func New() *Object {
	return &Object{fields: make(map[string]Value)}
}

func (o *Object) set(key string, v Value) {
	if o.fields == nil {
		o.fields = make(map[string]Value)
	}
	if _, ok := o.fields[key]; !ok {
		o.order = append(o.order, key)
	}
	o.fields[key] = v
}

func (o *Object) SetBool(key string, b bool)      { o.set(key, Value{Kind: KindBool, b: b}) }
func (o *Object) SetInt(key string, i int64)      { o.set(key, Value{Kind: KindInt, i: i}) }
func (o *Object) SetFloat(key string, f float64)  { o.set(key, Value{Kind: KindFloat, f: f}) }
func (o *Object) SetString(key string, s string)  { o.set(key, Value{Kind: KindString, s: s}) }

// Keys returns field names in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

// Len returns the number of fields.
func (o *Object) Len() int { return len(o.order) }

// Lookup returns the raw value stored under key.
func (o *Object) Lookup(key string) (Value, bool) {
	v, ok := o.fields[key]
	return v, ok
}

func (o *Object) get(key string, kind Kind) (Value, error) {
	v, ok := o.fields[key]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	if v.Kind != kind {
		return Value{}, fmt.Errorf("%w: %s is %s, want %s", ErrWrongType, key, v.Kind, kind)
	}
	return v, nil
}

func (o *Object) Bool(key string) (bool, error) {
	v, err := o.get(key, KindBool)
	return v.b, err
}

func (o *Object) Int(key string) (int64, error) {
	v, err := o.get(key, KindInt)
	return v.i, err
}

// Float returns a float field. Integer values are accepted and widened.
func (o *Object) Float(key string) (float64, error) {
	v, ok := o.fields[key]
	if ok && v.Kind == KindInt {
		return float64(v.i), nil
	}
	v, err := o.get(key, KindFloat)
	return v.f, err
}

func (o *Object) String(key string) (string, error) {
	v, err := o.get(key, KindString)
	return v.s, err
}

// Equal reports whether both objects hold the same typed fields,
// regardless of insertion order.
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	for k, v := range o.fields {
		w, ok := other.fields[k]
		if !ok || v != w {
			return false
		}
	}
	return true
}

// Merge copies every field of other into o, overwriting fields that
// already exist and appending new ones in other's order.
func (o *Object) Merge(other *Object) {
	for _, k := range other.order {
		o.set(k, other.fields[k])
	}
}
