package broker

import (
	"reflect"
	"sync"
)

// MessageType identifies a concrete Go type used as a message.
// Two values are equal exactly when they describe the same type, so Ping and *Ping differ.
// The zero value is invalid.
type MessageType struct {
	t reflect.Type
}

// typeNameCache caches display names keyed by reflect.Type.
var typeNameCache sync.Map

// TypeOf returns the MessageType of M.
func TypeOf[M any]() MessageType {
	return MessageType{t: reflect.TypeFor[M]()}
}

// TypeOfValue returns the MessageType of v's dynamic type.
// A nil interface yields the zero MessageType.
func TypeOfValue(v any) MessageType {
	if v == nil {
		return MessageType{}
	}
	return MessageType{t: reflect.TypeOf(v)}
}

// IsZero reports whether m identifies no type.
func (m MessageType) IsZero() bool {
	return m.t == nil
}

// Reflect returns the underlying reflect.Type, or nil for the zero value.
func (m MessageType) Reflect() reflect.Type {
	return m.t
}

// String returns the package-qualified type name used in logs, e.g. "billing.ChargeCard".
func (m MessageType) String() string {
	if m.t == nil {
		return "<nil>"
	}

	if name, ok := typeNameCache.Load(m.t); ok {
		return name.(string)
	}

	name := m.t.String()
	typeNameCache.Store(m.t, name)
	return name
}
