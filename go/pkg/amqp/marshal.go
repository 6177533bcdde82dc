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
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"time"
	"unicode/utf8"
)

// AMQP 1.0 type codes.
const (
	codeDescribed = 0x00

	codeNull      = 0x40
	codeBool      = 0x56
	codeBoolTrue  = 0x41
	codeBoolFalse = 0x42

	codeUbyte      = 0x50
	codeUshort     = 0x60
	codeUint       = 0x70
	codeSmallUint  = 0x52
	codeUint0      = 0x43
	codeUlong      = 0x80
	codeSmallUlong = 0x53
	codeUlong0     = 0x44

	codeByte      = 0x51
	codeShort     = 0x61
	codeInt       = 0x71
	codeSmallInt  = 0x54
	codeLong      = 0x81
	codeSmallLong = 0x55

	codeFloat      = 0x72
	codeDouble     = 0x82
	codeDecimal32  = 0x74
	codeDecimal64  = 0x84
	codeDecimal128 = 0x94

	codeChar      = 0x73
	codeTimestamp = 0x83
	codeUUID      = 0x98

	codeVbin8  = 0xa0
	codeVbin32 = 0xb0
	codeStr8   = 0xa1
	codeStr32  = 0xb1
	codeSym8   = 0xa3
	codeSym32  = 0xb3

	codeList0   = 0x45
	codeList8   = 0xc0
	codeList32  = 0xd0
	codeMap8    = 0xc1
	codeMap32   = 0xd1
	codeArray8  = 0xe0
	codeArray32 = 0xf0
)

// MarshalError is returned when a Go value has no AMQP encoding.
type MarshalError struct {
	// The Go type.
	GoType reflect.Type
	s      string
}

func newMarshalError(v interface{}, s string) *MarshalError {
	t := reflect.TypeOf(v)
	return &MarshalError{GoType: t, s: fmt.Sprintf("cannot marshal %s: %s", t, s)}
}

func (e MarshalError) Error() string { return e.s }

/*
Marshal encodes a Go value as AMQP data appended to buffer.
If buffer is nil a new buffer is created.

Returns the buffer used for encoding with len() adjusted to the actual size of data.

Go types are encoded as follows

 +-------------------------------------+--------------------------------------------+
 |Go type                              |AMQP type                                   |
 +-------------------------------------+--------------------------------------------+
 |bool                                 |bool                                        |
 +-------------------------------------+--------------------------------------------+
 |int8, int16, int32, int64 (int)      |byte, short, int, long (int is long)        |
 +-------------------------------------+--------------------------------------------+
 |uint8, uint16, uint32, uint64 (uint) |ubyte, ushort, uint, ulong (uint is ulong)  |
 +-------------------------------------+--------------------------------------------+
 |float32, float64                     |float, double.                              |
 +-------------------------------------+--------------------------------------------+
 |string                               |string                                      |
 +-------------------------------------+--------------------------------------------+
 |[]byte, Binary                       |binary                                      |
 +-------------------------------------+--------------------------------------------+
 |Symbol                               |symbol                                      |
 +-------------------------------------+--------------------------------------------+
 |Char                                 |char                                        |
 +-------------------------------------+--------------------------------------------+
 |time.Time                            |timestamp                                   |
 +-------------------------------------+--------------------------------------------+
 |UUID                                 |uuid                                        |
 +-------------------------------------+--------------------------------------------+
 |Decimal32, Decimal64, Decimal128     |decimal32, decimal64, decimal128            |
 +-------------------------------------+--------------------------------------------+
 |interface{}                          |the contained type                          |
 +-------------------------------------+--------------------------------------------+
 |nil                                  |null                                        |
 +-------------------------------------+--------------------------------------------+
 |map[K]T                              |map with K and T converted as above         |
 +-------------------------------------+--------------------------------------------+
 |Map, AnyMap                          |map, may have mixed types for keys, values  |
 +-------------------------------------+--------------------------------------------+
 |[]T (T not byte or interface{})      |array with T converted as above             |
 +-------------------------------------+--------------------------------------------+
 |List, []interface{}                  |list, may have mixed types  values          |
 +-------------------------------------+--------------------------------------------+
 |Array                                |array, elements must all have the same type |
 +-------------------------------------+--------------------------------------------+
 |Described                            |described type                              |
 +-------------------------------------+--------------------------------------------+

The following Go types cannot be marshaled: uintptr, function, channel, struct
(other than the ones above), complex64/128.
*/
func Marshal(v interface{}, buffer []byte) (outbuf []byte, err error) {
	defer doRecover(&err)
	e := encoder{buf: buffer}
	if buffer == nil {
		e.buf = make([]byte, 0, minEncode)
	}
	e.marshal(v)
	return e.buf, nil
}

const minEncode = 256

// Encoder encodes AMQP values to an io.Writer
type Encoder struct {
	writer io.Writer
	buffer []byte
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w, make([]byte, 0, minEncode)}
}

// Encode writes the AMQP encoding of v to the writer.
func (e *Encoder) Encode(v interface{}) (err error) {
	e.buffer, err = Marshal(v, e.buffer[:0])
	if err == nil {
		_, err = e.writer.Write(e.buffer)
	}
	return err
}

// encoder appends AMQP encodings to buf.
// Marshal errors are raised as panics and recovered in Marshal.
type encoder struct {
	buf []byte
}

func (e *encoder) byte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) uint16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) uint32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) uint64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *encoder) marshal(v interface{}) {
	switch v := v.(type) {
	case nil:
		e.byte(codeNull)
	case bool:
		if v {
			e.byte(codeBoolTrue)
		} else {
			e.byte(codeBoolFalse)
		}
	case int8:
		e.byte(codeByte)
		e.byte(byte(v))
	case int16:
		e.byte(codeShort)
		e.uint16(uint16(v))
	case int32:
		if v >= math.MinInt8 && v <= math.MaxInt8 {
			e.byte(codeSmallInt)
			e.byte(byte(int8(v)))
		} else {
			e.byte(codeInt)
			e.uint32(uint32(v))
		}
	case int64:
		e.marshalLong(v)
	case int:
		e.marshalLong(int64(v))
	case uint8:
		e.byte(codeUbyte)
		e.byte(v)
	case uint16:
		e.byte(codeUshort)
		e.uint16(v)
	case uint32:
		switch {
		case v == 0:
			e.byte(codeUint0)
		case v <= math.MaxUint8:
			e.byte(codeSmallUint)
			e.byte(byte(v))
		default:
			e.byte(codeUint)
			e.uint32(v)
		}
	case uint64:
		e.marshalUlong(v)
	case uint:
		e.marshalUlong(uint64(v))
	case float32:
		e.byte(codeFloat)
		e.uint32(math.Float32bits(v))
	case float64:
		e.byte(codeDouble)
		e.uint64(math.Float64bits(v))
	case Char:
		e.byte(codeChar)
		e.uint32(uint32(v))
	case time.Time:
		e.byte(codeTimestamp)
		e.uint64(uint64(timestamp(v)))
	case UUID:
		e.byte(codeUUID)
		e.buf = append(e.buf, v[:]...)
	case Decimal32:
		e.byte(codeDecimal32)
		e.buf = append(e.buf, v[:]...)
	case Decimal64:
		e.byte(codeDecimal64)
		e.buf = append(e.buf, v[:]...)
	case Decimal128:
		e.byte(codeDecimal128)
		e.buf = append(e.buf, v[:]...)
	case string:
		if !utf8.ValidString(v) {
			panic(newMarshalError(v, "invalid UTF-8"))
		}
		e.variable(codeStr8, codeStr32, []byte(v))
	case Symbol:
		e.variable(codeSym8, codeSym32, []byte(v))
	case Binary:
		e.variable(codeVbin8, codeVbin32, []byte(v))
	case []byte:
		e.variable(codeVbin8, codeVbin32, v)
	case Described:
		e.byte(codeDescribed)
		e.marshal(v.Descriptor)
		e.marshal(v.Value)
	case *Described:
		e.marshal(*v)
	case List:
		e.marshalList([]interface{}(v))
	case []interface{}:
		e.marshalList(v)
	case Map:
		e.compound(codeMap8, codeMap32, 2*len(v), func() {
			for k, x := range v {
				e.marshal(k)
				e.marshal(x)
			}
		})
	case AnyMap:
		e.compound(codeMap8, codeMap32, 2*len(v), func() {
			for _, kv := range v {
				e.marshal(kv.Key)
				e.marshal(kv.Value)
			}
		})
	case map[string]interface{}:
		e.compound(codeMap8, codeMap32, 2*len(v), func() {
			for k, x := range v {
				e.marshal(k)
				e.marshal(x)
			}
		})
	case map[Symbol]interface{}:
		e.compound(codeMap8, codeMap32, 2*len(v), func() {
			for k, x := range v {
				e.marshal(k)
				e.marshal(x)
			}
		})
	case map[AnnotationKey]interface{}:
		e.compound(codeMap8, codeMap32, 2*len(v), func() {
			for k, x := range v {
				e.marshal(k.Get())
				e.marshal(x)
			}
		})
	case AnnotationKey:
		e.marshal(v.Get())
	case Array:
		e.marshalArray(reflect.ValueOf([]interface{}(v)))
	case Marshaler:
		e.marshal(v.MarshalAMQP())
	default:
		e.marshalReflect(v)
	}
}

// Marshaler is implemented by types that encode as another AMQP value,
// typically a Described list.
type Marshaler interface {
	MarshalAMQP() interface{}
}

func (e *encoder) marshalLong(v int64) {
	if v >= math.MinInt8 && v <= math.MaxInt8 {
		e.byte(codeSmallLong)
		e.byte(byte(int8(v)))
	} else {
		e.byte(codeLong)
		e.uint64(uint64(v))
	}
}

func (e *encoder) marshalUlong(v uint64) {
	switch {
	case v == 0:
		e.byte(codeUlong0)
	case v <= math.MaxUint8:
		e.byte(codeSmallUlong)
		e.byte(byte(v))
	default:
		e.byte(codeUlong)
		e.uint64(v)
	}
}

func (e *encoder) variable(code8, code32 byte, data []byte) {
	if len(data) <= math.MaxUint8 {
		e.byte(code8)
		e.byte(byte(len(data)))
	} else {
		e.byte(code32)
		e.uint32(uint32(len(data)))
	}
	e.buf = append(e.buf, data...)
}

// compound writes a list or map: the body is written first with a 32-bit
// size, then shrunk to the 8-bit form when it fits.
func (e *encoder) compound(code8, code32 byte, count int, body func()) {
	start := len(e.buf)
	e.byte(code32)
	e.uint32(0) // size placeholder
	e.uint32(uint32(count))
	bodyStart := len(e.buf)
	body()
	bodyLen := len(e.buf) - bodyStart
	if bodyLen+1 <= math.MaxUint8 && count <= math.MaxUint8 {
		e.buf[start] = code8
		e.buf[start+1] = byte(bodyLen + 1)
		e.buf[start+2] = byte(count)
		copy(e.buf[start+3:], e.buf[bodyStart:])
		e.buf = e.buf[:start+3+bodyLen]
		return
	}
	binary.BigEndian.PutUint32(e.buf[start+1:], uint32(bodyLen+4))
}

func (e *encoder) marshalList(v []interface{}) {
	if len(v) == 0 {
		e.byte(codeList0)
		return
	}
	e.compound(codeList8, codeList32, len(v), func() {
		for _, x := range v {
			e.marshal(x)
		}
	})
}

func (e *encoder) marshalReflect(v interface{}) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		keys := rv.MapKeys()
		e.compound(codeMap8, codeMap32, 2*len(keys), func() {
			for _, k := range keys {
				e.marshal(k.Interface())
				e.marshal(rv.MapIndex(k).Interface())
			}
		})
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Interface {
			l := make([]interface{}, rv.Len())
			for i := range l {
				l[i] = rv.Index(i).Interface()
			}
			e.marshalList(l)
		} else {
			e.marshalArray(rv)
		}
	case reflect.Ptr:
		if rv.IsNil() {
			e.byte(codeNull)
		} else {
			e.marshal(rv.Elem().Interface())
		}
	case reflect.String:
		e.marshal(rv.String())
	case reflect.Bool:
		e.marshal(rv.Bool())
	case reflect.Int8:
		e.marshal(int8(rv.Int()))
	case reflect.Int16:
		e.marshal(int16(rv.Int()))
	case reflect.Int32:
		e.marshal(int32(rv.Int()))
	case reflect.Int, reflect.Int64:
		e.marshal(rv.Int())
	case reflect.Uint8:
		e.marshal(uint8(rv.Uint()))
	case reflect.Uint16:
		e.marshal(uint16(rv.Uint()))
	case reflect.Uint32:
		e.marshal(uint32(rv.Uint()))
	case reflect.Uint, reflect.Uint64:
		e.marshal(rv.Uint())
	default:
		panic(newMarshalError(v, "no AMQP encoding"))
	}
}

// arrayCode returns the single constructor used for every element of an
// array holding values like v. Arrays never use the compact encodings.
func arrayCode(v interface{}) (code byte, descriptor interface{}) {
	switch v := v.(type) {
	case nil:
		return codeNull, nil
	case bool:
		return codeBool, nil
	case int8:
		return codeByte, nil
	case int16:
		return codeShort, nil
	case int32:
		return codeInt, nil
	case int64, int:
		return codeLong, nil
	case uint8:
		return codeUbyte, nil
	case uint16:
		return codeUshort, nil
	case uint32:
		return codeUint, nil
	case uint64, uint:
		return codeUlong, nil
	case float32:
		return codeFloat, nil
	case float64:
		return codeDouble, nil
	case Char:
		return codeChar, nil
	case time.Time:
		return codeTimestamp, nil
	case UUID:
		return codeUUID, nil
	case string:
		return codeStr32, nil
	case Symbol:
		return codeSym32, nil
	case Binary, []byte:
		return codeVbin32, nil
	case List, []interface{}:
		return codeList32, nil
	case Map, AnyMap, map[string]interface{}, map[Symbol]interface{}:
		return codeMap32, nil
	case Described:
		code, _ := arrayCode(v.Value)
		return code, v.Descriptor
	}
	panic(newMarshalError(v, "cannot be an array element"))
}

func (e *encoder) marshalArray(rv reflect.Value) {
	n := rv.Len()
	elem := func(i int) interface{} { return rv.Index(i).Interface() }
	var code byte = codeNull
	var descriptor interface{}
	if n > 0 {
		code, descriptor = arrayCode(elem(0))
	} else {
		code = zeroArrayCode(rv.Type().Elem())
	}
	start := len(e.buf)
	e.byte(codeArray32)
	e.uint32(0)
	e.uint32(uint32(n))
	if descriptor != nil {
		e.byte(codeDescribed)
		e.marshal(descriptor)
	}
	e.byte(code)
	for i := 0; i < n; i++ {
		v := elem(i)
		if d, ok := v.(Described); ok {
			v = d.Value
		}
		if c, _ := arrayCode(v); c != code {
			panic(newMarshalError(rv.Interface(), "mixed types in array"))
		}
		e.arrayElement(code, v)
	}
	binary.BigEndian.PutUint32(e.buf[start+1:], uint32(len(e.buf)-start-5))
}

func zeroArrayCode(t reflect.Type) byte {
	if t.Kind() == reflect.Interface {
		return codeNull
	}
	code, _ := arrayCode(reflect.Zero(t).Interface())
	return code
}

// arrayElement writes the body of v without a constructor.
func (e *encoder) arrayElement(code byte, v interface{}) {
	start := len(e.buf)
	e.marshal(v)
	switch code {
	case codeNull:
		e.buf = e.buf[:start]
	case codeBool:
		e.buf = e.buf[:start]
		if v.(bool) {
			e.byte(1)
		} else {
			e.byte(0)
		}
	case codeInt:
		e.buf = e.buf[:start]
		e.uint32(uint32(v.(int32)))
	case codeLong:
		e.buf = e.buf[:start]
		e.uint64(uint64(reflect.ValueOf(v).Int()))
	case codeUint:
		e.buf = e.buf[:start]
		e.uint32(v.(uint32))
	case codeUlong:
		e.buf = e.buf[:start]
		e.uint64(reflect.ValueOf(v).Uint())
	case codeStr32, codeSym32, codeVbin32:
		var b []byte
		switch v := v.(type) {
		case string:
			b = []byte(v)
		case Symbol:
			b = []byte(v)
		case Binary:
			b = []byte(v)
		case []byte:
			b = v
		}
		e.buf = e.buf[:start]
		e.uint32(uint32(len(b)))
		e.buf = append(e.buf, b...)
	case codeList32, codeMap32:
		e.buf = e.buf[:start]
		e.wideCompound(v)
	default:
		// Fixed width types: drop the constructor byte.
		copy(e.buf[start:], e.buf[start+1:])
		e.buf = e.buf[:len(e.buf)-1]
	}
}

// wideCompound writes the 32-bit form body of a list or map, without constructor.
func (e *encoder) wideCompound(v interface{}) {
	var sub encoder
	sub.marshal(v)
	b := sub.buf
	switch b[0] {
	case codeList0:
		e.uint32(4)
		e.uint32(0)
	case codeList8, codeMap8:
		size, count := int(b[1]), int(b[2])
		e.uint32(uint32(size - 1 + 4))
		e.uint32(uint32(count))
		e.buf = append(e.buf, b[3:]...)
	default:
		e.buf = append(e.buf, b[1:]...)
	}
}

func timestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano() / int64(time.Millisecond)
}

func goTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
