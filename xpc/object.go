// Package xpc implements the object model, the binary codec and the message
// framing for the RemoteXPC protocol used by services on iOS 17+ devices.
package xpc

import (
	"strconv"

	"github.com/google/uuid"
)

// Object is the closed set of values the RemoteXPC wire format can carry.
// Exactly the types Bool, Int64, UInt64, String, Data, UUID, Array and
// *Dictionary implement it.
type Object interface {
	objType() objectType
}

// A nil Data or Array encodes exactly like an empty one and always decodes
// as empty, the wire format cannot tell the two apart.
type (
	Bool   bool
	Int64  int64
	UInt64 uint64
	String string
	Data   []byte
	UUID   uuid.UUID
	Array  []Object
)

func (Bool) objType() objectType        { return boolType }
func (Int64) objType() objectType       { return int64Type }
func (UInt64) objType() objectType      { return uint64Type }
func (String) objType() objectType      { return stringType }
func (Data) objType() objectType        { return dataType }
func (UUID) objType() objectType        { return uuidType }
func (Array) objType() objectType       { return arrayType }
func (*Dictionary) objType() objectType { return dictionaryType }

// Dictionary is a string-keyed collection of objects that keeps its insertion
// order. The wire format round-trips entries in order, so a plain map does
// not work here.
type Dictionary struct {
	keys   []string
	values map[string]Object
}

func NewDictionary() *Dictionary {
	return &Dictionary{}
}

// Set adds or replaces the value for key, keeping the position of an existing
// key. It returns the dictionary so calls can be chained.
func (d *Dictionary) Set(key string, value Object) *Dictionary {
	if d.values == nil {
		d.values = make(map[string]Object)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return d
}

func (d *Dictionary) Get(key string) (Object, bool) {
	v, ok := d.values[key]
	return v, ok
}

func (d *Dictionary) Len() int {
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Dictionary) Keys() []string {
	return append([]string(nil), d.keys...)
}

func AsDictionary(o Object) (*Dictionary, bool) {
	d, ok := o.(*Dictionary)
	return d, ok
}

func AsArray(o Object) (Array, bool) {
	a, ok := o.(Array)
	return a, ok
}

func AsString(o Object) (string, bool) {
	s, ok := o.(String)
	return string(s), ok
}

func AsBool(o Object) (bool, bool) {
	b, ok := o.(Bool)
	return bool(b), ok
}

// AsInt64 extracts a signed integer. Strings holding a decimal number parse
// as well, some numeric fields arrive from devices as strings.
func AsInt64(o Object) (int64, bool) {
	switch t := o.(type) {
	case Int64:
		return int64(t), true
	case String:
		v, err := strconv.ParseInt(string(t), 10, 64)
		return v, err == nil
	}
	return 0, false
}

// AsUint64 extracts an unsigned integer, with the same string fallback as
// AsInt64.
func AsUint64(o Object) (uint64, bool) {
	switch t := o.(type) {
	case UInt64:
		return uint64(t), true
	case String:
		v, err := strconv.ParseUint(string(t), 10, 64)
		return v, err == nil
	}
	return 0, false
}
