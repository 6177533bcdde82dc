/*
Licensed to the Apache Software Foundation (ASF) under one
or more contributor license agreements.  See the NOTICE file
distributed with this work for additional information
regarding copyright ownership.  The ASF licenses this file
to you under the Apache License, Version 2.0 (the
"License"); you may not use this file except in compliance
with the License.  You may obtain a copy of the License at

  http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing,
software distributed under the License is distributed on an
"AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
KIND, either express or implied.  See the License for the
specific language governing permissions and limitations
under the License.
*/

package amqp

import (
	"bytes"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Map is the AMQP map type. A generic map that can have mixed-type keys and values.
type Map map[interface{}]interface{}

// AnyMap is the most general AMQP map type, for unusual interoperability cases.
//
// This is not a Go Map but a sequence of {key, value} pairs.
//
// An AnyMap lets you control or examine the encoded ordering of key,value pairs
// and use key values that are not legal as Go map keys.
//
// The amqp.Map, or plain Go map types are easier to use for most cases.
type AnyMap []KeyValue

// Map returns a Map constructed from an AnyMap.
// Panics if the AnyMap has key values that are not valid Go map keys (e.g. maps, slices)
func (a AnyMap) Map() Map {
	m := make(Map, len(a))
	for _, kv := range a {
		m[kv.Key] = kv.Value
	}
	return m
}

// KeyValue pair, used by AnyMap
type KeyValue struct{ Key, Value interface{} }

// List is the AMQP list type. A generic list that can hold mixed-type values.
type List []interface{}

// Array is the generic AMQP array type, used to unmarshal an array with nested
// array, map or list elements. Arrays of simple type T unmarshal to []T
type Array []interface{}

// Symbol is a string that is encoded as an AMQP symbol
type Symbol string

func (s Symbol) String() string   { return string(s) }
func (s Symbol) GoString() string { return fmt.Sprintf("s\"%s\"", s) }

// Binary is a string that is encoded as an AMQP binary.
// It is a string rather than a byte[] because byte[] is not hashable and can't be used as
// a map key, AMQP frequently uses binary types as map keys. It can convert to and from []byte
type Binary string

func (b Binary) String() string   { return string(b) }
func (b Binary) GoString() string { return fmt.Sprintf("b\"%s\"", b) }

// GoString for Map prints values with their types, useful for debugging.
func (m Map) GoString() string {
	out := &bytes.Buffer{}
	fmt.Fprintf(out, "%T{", m)
	i := len(m)
	for k, v := range m {
		fmt.Fprintf(out, "%T(%#v): %T(%#v)", k, k, v, v)
		i--
		if i > 0 {
			fmt.Fprint(out, ", ")
		}
	}
	fmt.Fprint(out, "}")
	return out.String()
}

// GoString for List prints values with their types, useful for debugging.
func (l List) GoString() string {
	out := &bytes.Buffer{}
	fmt.Fprintf(out, "%T{", l)
	for i := 0; i < len(l); i++ {
		fmt.Fprintf(out, "%T(%#v)", l[i], l[i])
		if i < len(l)-1 {
			fmt.Fprint(out, ", ")
		}
	}
	fmt.Fprint(out, "}")
	return out.String()
}

// AnnotationKey is used as a map key for AMQP annotation maps which are
// allowed to have keys that are either symbol or ulong but no other type.
type AnnotationKey struct {
	value interface{}
}

func AnnotationKeySymbol(v Symbol) AnnotationKey { return AnnotationKey{v} }
func AnnotationKeyUint64(v uint64) AnnotationKey { return AnnotationKey{v} }
func AnnotationKeyString(v string) AnnotationKey { return AnnotationKey{Symbol(v)} }

// Get returns the value which must be Symbol, uint64 or nil
func (k AnnotationKey) Get() interface{} { return k.value }

func (k AnnotationKey) String() string { return fmt.Sprintf("%v", k.Get()) }

// Described represents an AMQP described type, which is really
// just a pair of AMQP values - the first is treated as a "descriptor",
// and is normally a string or ulong providing information about the type.
// The second is the "value" and can be any AMQP value.
type Described struct {
	Descriptor interface{}
	Value      interface{}
}

// Is reports whether d carries the numeric descriptor code or the symbolic
// descriptor name.
func (d Described) Is(code uint64, name Symbol) bool {
	switch v := d.Descriptor.(type) {
	case uint64:
		return v == code
	case Symbol:
		return v == name
	case string:
		return Symbol(v) == name
	}
	return false
}

// UUID is an AMQP 128-bit Universally Unique Identifier, as defined by RFC-4122 section 4.1.2
type UUID [16]byte

// NewUUID returns a random (version 4) UUID.
func NewUUID() UUID { return UUID(uuid.New()) }

func (u UUID) String() string { return uuid.UUID(u).String() }

// Char is an AMQP unicode character, equivalent to a Go rune.
// It is defined as a distinct type so it can be distinguished from an AMQP int
type Char rune

// Decimal32, Decimal64 and Decimal128 hold IEEE 754-2008 decimal values in
// their encoded form. They are carried, not interpreted.
type Decimal32 [4]byte
type Decimal64 [8]byte
type Decimal128 [16]byte

// Milliseconds converts d to AMQP milliseconds, the unit used by ttl and idle-timeout fields.
func Milliseconds(d time.Duration) uint32 { return uint32(d / time.Millisecond) }

// Duration converts AMQP milliseconds to a time.Duration.
func Duration(ms uint32) time.Duration { return time.Duration(ms) * time.Millisecond }

// typeName returns the AMQP type name for a type code, for error messages.
func typeName(code byte) string {
	switch code {
	case codeNull:
		return "null"
	case codeBool, codeBoolTrue, codeBoolFalse:
		return "bool"
	case codeUbyte:
		return "ubyte"
	case codeByte:
		return "byte"
	case codeUshort:
		return "ushort"
	case codeShort:
		return "short"
	case codeChar:
		return "char"
	case codeUint, codeSmallUint, codeUint0:
		return "uint"
	case codeInt, codeSmallInt:
		return "int"
	case codeUlong, codeSmallUlong, codeUlong0:
		return "ulong"
	case codeLong, codeSmallLong:
		return "long"
	case codeTimestamp:
		return "timestamp"
	case codeFloat:
		return "float"
	case codeDouble:
		return "double"
	case codeDecimal32:
		return "decimal32"
	case codeDecimal64:
		return "decimal64"
	case codeDecimal128:
		return "decimal128"
	case codeUUID:
		return "uuid"
	case codeVbin8, codeVbin32:
		return "binary"
	case codeStr8, codeStr32:
		return "string"
	case codeSym8, codeSym32:
		return "symbol"
	case codeDescribed:
		return "described"
	case codeArray8, codeArray32:
		return "array"
	case codeList0, codeList8, codeList32:
		return "list"
	case codeMap8, codeMap32:
		return "map"
	default:
		return fmt.Sprintf("<bad-type 0x%02x>", code)
	}
}

func isHashable(v interface{}) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}
