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
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"time"
)

const minDecode = 1024

// UnmarshalError is returned if AMQP data cannot be unmarshaled as the desired Go type.
type UnmarshalError struct {
	// The name of the AMQP type.
	AMQPType string
	// The Go type.
	GoType reflect.Type

	s string
}

func newUnmarshalError(amqpType string, v interface{}) *UnmarshalError {
	e := &UnmarshalError{AMQPType: amqpType, GoType: reflect.TypeOf(v)}
	if e.GoType == nil || e.GoType.Kind() != reflect.Ptr {
		e.s = fmt.Sprintf("cannot unmarshal to type %v, not a pointer", e.GoType)
	} else {
		e.s = fmt.Sprintf("cannot unmarshal AMQP %s to %s", e.AMQPType, e.GoType)
	}
	return e
}

func newDecodeError(format string, arg ...interface{}) *UnmarshalError {
	return &UnmarshalError{s: fmt.Sprintf(format, arg...)}
}

func (e UnmarshalError) Error() string { return e.s }

func doRecover(err *error) {
	r := recover()
	switch r := r.(type) {
	case nil:
	case *UnmarshalError:
		*err = r
	case *MarshalError:
		*err = r
	default:
		panic(r)
	}
}

// errShort signals that more data is needed to decode a complete value.
var errShort = newDecodeError("not enough data")

//
// NOTE: we use panic() to signal a decoding error, simplifies decoding logic.
// We recover() at the highest possible level - i.e. in the exported Unmarshal or Decode.
//

/*
Unmarshal decodes AMQP-encoded bytes and stores the result in the Go value
pointed to by v. Returns the number of bytes consumed.

An AMQP value unmarshaled into *interface{} produces these Go types:

 +-----------------------------------+-------------------------------------+
 |AMQP type                          |Go type in interface{}               |
 +-----------------------------------+-------------------------------------+
 |bool                               |bool                                 |
 +-----------------------------------+-------------------------------------+
 |byte,short,int,long                |int8,int16,int32,int64               |
 +-----------------------------------+-------------------------------------+
 |ubyte,ushort,uint,ulong            |uint8,uint16,uint32,uint64           |
 +-----------------------------------+-------------------------------------+
 |float, double                      |float32, float64                     |
 +-----------------------------------+-------------------------------------+
 |string                             |string                               |
 +-----------------------------------+-------------------------------------+
 |symbol                             |Symbol                               |
 +-----------------------------------+-------------------------------------+
 |binary                             |Binary                               |
 +-----------------------------------+-------------------------------------+
 |null                               |nil                                  |
 +-----------------------------------+-------------------------------------+
 |char, timestamp, uuid              |Char, time.Time, UUID                |
 +-----------------------------------+-------------------------------------+
 |described type                     |Described                            |
 +-----------------------------------+-------------------------------------+
 |map                                |Map, or AnyMap if a key is not       |
 |                                   |a legal Go map key                   |
 +-----------------------------------+-------------------------------------+
 |list                               |List                                 |
 +-----------------------------------+-------------------------------------+
 |array of simple type T             |[]T                                  |
 +-----------------------------------+-------------------------------------+
 |array of compound or described     |Array                                |
 +-----------------------------------+-------------------------------------+

Typed targets accept any AMQP value convertible to them: integer types accept
any AMQP integer, string accepts string or symbol, []byte accepts binary,
map[string]interface{} accepts a map with string or symbol keys.
*/
func Unmarshal(bytes []byte, v interface{}) (n int, err error) {
	defer doRecover(&err)
	if rv := reflect.ValueOf(v); !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return 0, newUnmarshalError("", v)
	}
	d := decoder{data: bytes}
	value, code := d.value()
	assign(v, value, code)
	return d.pos, nil
}

// Decode decodes a single AMQP value from data, returning the value as
// described for Unmarshal into *interface{} and the number of bytes used.
func Decode(data []byte) (value interface{}, n int, err error) {
	defer doRecover(&err)
	d := decoder{data: data}
	value, _ = d.value()
	return value, d.pos, nil
}

// Decoder decodes AMQP values from an io.Reader.
type Decoder struct {
	reader io.Reader
	buffer bytes.Buffer
}

// NewDecoder returns a new decoder that reads from r.
//
// The decoder has it's own buffer and may read more data than required for the
// AMQP values requested.  Use Buffered to see if there is data left in the
// buffer.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r, bytes.Buffer{}}
}

// Buffered returns a reader of the data remaining in the Decoder's buffer. The
// reader is valid until the next call to Decode.
func (d *Decoder) Buffered() io.Reader {
	return bytes.NewReader(d.buffer.Bytes())
}

// Decode reads the next AMQP value from the Reader and stores it in the value pointed to by v.
func (d *Decoder) Decode(v interface{}) error {
	for {
		n, err := Unmarshal(d.buffer.Bytes(), v)
		if err == nil {
			d.buffer.Next(n)
			return nil
		}
		if err != errShort {
			return err
		}
		if err := d.more(); err != nil {
			return err
		}
	}
}

func (d *Decoder) more() error {
	var readSize int64 = minDecode
	if int64(d.buffer.Len()) > readSize {
		readSize = int64(d.buffer.Len())
	}
	n, err := d.buffer.ReadFrom(io.LimitReader(d.reader, readSize))
	if n == 0 && err == nil {
		err = io.EOF
	}
	return err
}

// decoder reads AMQP values from data starting at pos.
type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) need(n int) []byte {
	if n < 0 || d.pos+n > len(d.data) {
		panic(errShort)
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) byte() byte        { return d.need(1)[0] }
func (d *decoder) uint16() uint16    { return binary.BigEndian.Uint16(d.need(2)) }
func (d *decoder) uint32() uint32    { return binary.BigEndian.Uint32(d.need(4)) }
func (d *decoder) uint64() uint64    { return binary.BigEndian.Uint64(d.need(8)) }
func (d *decoder) bytes(n int) []byte { return d.need(n) }

// value decodes the next value, returning it with its constructor code.
func (d *decoder) value() (interface{}, byte) {
	code := d.byte()
	if code == codeDescribed {
		descriptor, _ := d.value()
		value, _ := d.value()
		return Described{descriptor, value}, code
	}
	return d.body(code), code
}

// body decodes the value following constructor code.
func (d *decoder) body(code byte) interface{} {
	switch code {
	case codeNull:
		return nil
	case codeBoolTrue:
		return true
	case codeBoolFalse:
		return false
	case codeBool:
		return d.byte() != 0
	case codeUbyte:
		return d.byte()
	case codeUshort:
		return d.uint16()
	case codeUint0:
		return uint32(0)
	case codeSmallUint:
		return uint32(d.byte())
	case codeUint:
		return d.uint32()
	case codeUlong0:
		return uint64(0)
	case codeSmallUlong:
		return uint64(d.byte())
	case codeUlong:
		return d.uint64()
	case codeByte:
		return int8(d.byte())
	case codeShort:
		return int16(d.uint16())
	case codeSmallInt:
		return int32(int8(d.byte()))
	case codeInt:
		return int32(d.uint32())
	case codeSmallLong:
		return int64(int8(d.byte()))
	case codeLong:
		return int64(d.uint64())
	case codeFloat:
		return math.Float32frombits(d.uint32())
	case codeDouble:
		return math.Float64frombits(d.uint64())
	case codeDecimal32:
		var v Decimal32
		copy(v[:], d.bytes(4))
		return v
	case codeDecimal64:
		var v Decimal64
		copy(v[:], d.bytes(8))
		return v
	case codeDecimal128:
		var v Decimal128
		copy(v[:], d.bytes(16))
		return v
	case codeChar:
		return Char(d.uint32())
	case codeTimestamp:
		return goTime(int64(d.uint64()))
	case codeUUID:
		var v UUID
		copy(v[:], d.bytes(16))
		return v
	case codeVbin8:
		return Binary(d.bytes(int(d.byte())))
	case codeVbin32:
		return Binary(d.bytes(int(d.uint32())))
	case codeStr8:
		return string(d.bytes(int(d.byte())))
	case codeStr32:
		return string(d.bytes(int(d.uint32())))
	case codeSym8:
		return Symbol(d.bytes(int(d.byte())))
	case codeSym32:
		return Symbol(d.bytes(int(d.uint32())))
	case codeList0:
		return List{}
	case codeList8:
		size, count := int(d.byte()), int(d.byte())
		return d.list(size-1, count)
	case codeList32:
		size, count := int(d.uint32()), int(d.uint32())
		return d.list(size-4, count)
	case codeMap8:
		size, count := int(d.byte()), int(d.byte())
		return d.amqpMap(size-1, count)
	case codeMap32:
		size, count := int(d.uint32()), int(d.uint32())
		return d.amqpMap(size-4, count)
	case codeArray8:
		size, count := int(d.byte()), int(d.byte())
		return d.array(size-1, count)
	case codeArray32:
		size, count := int(d.uint32()), int(d.uint32())
		return d.array(size-4, count)
	}
	panic(newDecodeError("invalid AMQP type code 0x%02x", code))
}

// sub returns a decoder for the next size bytes of compound content.
func (d *decoder) sub(size int) *decoder {
	if size < 0 {
		panic(newDecodeError("invalid compound size %d", size))
	}
	return &decoder{data: d.need(size)}
}

func (d *decoder) list(size, count int) List {
	sd := d.sub(size)
	if count > size {
		panic(newDecodeError("list count %d exceeds size %d", count, size))
	}
	l := make(List, count)
	for i := range l {
		l[i], _ = sd.value()
	}
	return l
}

func (d *decoder) amqpMap(size, count int) (result interface{}) {
	if count%2 != 0 {
		panic(newDecodeError("map has odd element count %d", count))
	}
	sd := d.sub(size)
	if count > size {
		panic(newDecodeError("map count %d exceeds size %d", count, size))
	}
	kvs := make(AnyMap, count/2)
	hashable := true
	for i := range kvs {
		kvs[i].Key, _ = sd.value()
		kvs[i].Value, _ = sd.value()
		hashable = hashable && isHashable(kvs[i].Key)
	}
	if !hashable {
		return kvs
	}
	defer func() {
		// Keys can hold unhashable values inside comparable types (e.g. Described).
		if r := recover(); r != nil {
			result = kvs
		}
	}()
	m := make(Map, len(kvs))
	for _, kv := range kvs {
		if _, dup := m[kv.Key]; dup {
			return kvs
		}
		m[kv.Key] = kv.Value
	}
	return m
}

func (d *decoder) array(size, count int) interface{} {
	sd := d.sub(size)
	code := sd.byte()
	var descriptor interface{}
	if code == codeDescribed {
		descriptor, _ = sd.value()
		code = sd.byte()
	}
	if descriptor == nil {
		if s := sd.simpleArray(code, count); s != nil {
			return s
		}
	}
	a := make(Array, count)
	for i := range a {
		v := sd.body(code)
		if descriptor != nil {
			v = Described{descriptor, v}
		}
		a[i] = v
	}
	return a
}

// simpleArray decodes arrays of simple element types to typed slices, nil otherwise.
func (d *decoder) simpleArray(code byte, count int) interface{} {
	switch code {
	case codeBool, codeBoolTrue, codeBoolFalse:
		s := make([]bool, count)
		for i := range s {
			s[i] = d.body(code).(bool)
		}
		return s
	case codeByte:
		s := make([]int8, count)
		for i := range s {
			s[i] = d.body(code).(int8)
		}
		return s
	case codeShort:
		s := make([]int16, count)
		for i := range s {
			s[i] = d.body(code).(int16)
		}
		return s
	case codeInt, codeSmallInt:
		s := make([]int32, count)
		for i := range s {
			s[i] = d.body(code).(int32)
		}
		return s
	case codeLong, codeSmallLong:
		s := make([]int64, count)
		for i := range s {
			s[i] = d.body(code).(int64)
		}
		return s
	case codeUbyte:
		s := make([]uint8, count)
		for i := range s {
			s[i] = d.body(code).(uint8)
		}
		return s
	case codeUshort:
		s := make([]uint16, count)
		for i := range s {
			s[i] = d.body(code).(uint16)
		}
		return s
	case codeUint, codeSmallUint, codeUint0:
		s := make([]uint32, count)
		for i := range s {
			s[i] = d.body(code).(uint32)
		}
		return s
	case codeUlong, codeSmallUlong, codeUlong0:
		s := make([]uint64, count)
		for i := range s {
			s[i] = d.body(code).(uint64)
		}
		return s
	case codeFloat:
		s := make([]float32, count)
		for i := range s {
			s[i] = d.body(code).(float32)
		}
		return s
	case codeDouble:
		s := make([]float64, count)
		for i := range s {
			s[i] = d.body(code).(float64)
		}
		return s
	case codeChar:
		s := make([]Char, count)
		for i := range s {
			s[i] = d.body(code).(Char)
		}
		return s
	case codeTimestamp:
		s := make([]time.Time, count)
		for i := range s {
			s[i] = d.body(code).(time.Time)
		}
		return s
	case codeUUID:
		s := make([]UUID, count)
		for i := range s {
			s[i] = d.body(code).(UUID)
		}
		return s
	case codeStr8, codeStr32:
		s := make([]string, count)
		for i := range s {
			s[i] = d.body(code).(string)
		}
		return s
	case codeSym8, codeSym32:
		s := make([]Symbol, count)
		for i := range s {
			s[i] = d.body(code).(Symbol)
		}
		return s
	case codeVbin8, codeVbin32:
		s := make([]Binary, count)
		for i := range s {
			s[i] = d.body(code).(Binary)
		}
		return s
	}
	return nil
}

// assign stores value in the Go variable pointed to by v, converting where
// the conversion is lossless in meaning. Panics with *UnmarshalError otherwise.
func assign(v interface{}, value interface{}, code byte) {
	fail := func() { panic(newUnmarshalError(typeName(code), v)) }
	switch p := v.(type) {
	case *interface{}:
		*p = value
		return
	case *string:
		switch x := value.(type) {
		case string:
			*p = x
		case Symbol:
			*p = string(x)
		case Binary:
			*p = string(x)
		case nil:
			*p = ""
		default:
			fail()
		}
		return
	case *Symbol:
		switch x := value.(type) {
		case Symbol:
			*p = x
		case string:
			*p = Symbol(x)
		case nil:
			*p = ""
		default:
			fail()
		}
		return
	case *Binary:
		switch x := value.(type) {
		case Binary:
			*p = x
		case string:
			*p = Binary(x)
		case nil:
			*p = ""
		default:
			fail()
		}
		return
	case *[]byte:
		switch x := value.(type) {
		case Binary:
			*p = []byte(x)
		case string:
			*p = []byte(x)
		case nil:
			*p = nil
		default:
			fail()
		}
		return
	case *bool:
		switch x := value.(type) {
		case bool:
			*p = x
		case nil:
			*p = false
		default:
			fail()
		}
		return
	case *time.Time:
		switch x := value.(type) {
		case time.Time:
			*p = x
		case nil:
			*p = time.Time{}
		default:
			fail()
		}
		return
	case *UUID:
		switch x := value.(type) {
		case UUID:
			*p = x
		default:
			fail()
		}
		return
	case *Char:
		switch x := value.(type) {
		case Char:
			*p = x
		default:
			fail()
		}
		return
	case *Described:
		switch x := value.(type) {
		case Described:
			*p = x
		default:
			fail()
		}
		return
	case *AnnotationKey:
		switch x := value.(type) {
		case Symbol:
			*p = AnnotationKeySymbol(x)
		case string:
			*p = AnnotationKeyString(x)
		case uint64:
			*p = AnnotationKeyUint64(x)
		default:
			fail()
		}
		return
	case *List:
		switch x := value.(type) {
		case List:
			*p = x
		case Array:
			*p = List(x)
		case nil:
			*p = nil
		default:
			fail()
		}
		return
	case *Map:
		switch x := value.(type) {
		case Map:
			*p = x
		case nil:
			*p = nil
		default:
			fail()
		}
		return
	case *AnyMap:
		switch x := value.(type) {
		case AnyMap:
			*p = x
		case Map:
			*p = make(AnyMap, 0, len(x))
			for k, v := range x {
				*p = append(*p, KeyValue{k, v})
			}
		case nil:
			*p = nil
		default:
			fail()
		}
		return
	case *map[string]interface{}:
		switch x := value.(type) {
		case Map:
			m := make(map[string]interface{}, len(x))
			for k, v := range x {
				switch k := k.(type) {
				case string:
					m[k] = v
				case Symbol:
					m[string(k)] = v
				default:
					fail()
				}
			}
			*p = m
		case nil:
			*p = nil
		default:
			fail()
		}
		return
	case *map[AnnotationKey]interface{}:
		switch x := value.(type) {
		case Map:
			m := make(map[AnnotationKey]interface{}, len(x))
			for k, v := range x {
				switch k := k.(type) {
				case Symbol:
					m[AnnotationKeySymbol(k)] = v
				case string:
					m[AnnotationKeyString(k)] = v
				case uint64:
					m[AnnotationKeyUint64(k)] = v
				default:
					fail()
				}
			}
			*p = m
		case nil:
			*p = nil
		default:
			fail()
		}
		return
	}
	assignReflect(v, value, fail)
}

func assignReflect(v interface{}, value interface{}, fail func()) {
	rv := reflect.ValueOf(v).Elem()
	if value == nil {
		rv.Set(reflect.Zero(rv.Type()))
		return
	}
	xv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch xv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if rv.OverflowInt(xv.Int()) {
				fail()
			}
			rv.SetInt(xv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := xv.Uint()
			if u > math.MaxInt64 || rv.OverflowInt(int64(u)) {
				fail()
			}
			rv.SetInt(int64(u))
		default:
			fail()
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch xv.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if rv.OverflowUint(xv.Uint()) {
				fail()
			}
			rv.SetUint(xv.Uint())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i := xv.Int()
			if i < 0 || rv.OverflowUint(uint64(i)) {
				fail()
			}
			rv.SetUint(uint64(i))
		default:
			fail()
		}
	case reflect.Float32, reflect.Float64:
		switch xv.Kind() {
		case reflect.Float32, reflect.Float64:
			rv.SetFloat(xv.Float())
		default:
			fail()
		}
	case reflect.Slice:
		assignSlice(rv, xv, fail)
	case reflect.Map:
		m, ok := value.(Map)
		if !ok {
			fail()
		}
		out := reflect.MakeMapWithSize(rv.Type(), len(m))
		for k, x := range m {
			kp := reflect.New(rv.Type().Key())
			assign(kp.Interface(), k, 0)
			xp := reflect.New(rv.Type().Elem())
			assign(xp.Interface(), x, 0)
			out.SetMapIndex(kp.Elem(), xp.Elem())
		}
		rv.Set(out)
	default:
		if xv.Type().AssignableTo(rv.Type()) {
			rv.Set(xv)
			return
		}
		fail()
	}
}

func assignSlice(rv, xv reflect.Value, fail func()) {
	if xv.Type().AssignableTo(rv.Type()) {
		rv.Set(xv)
		return
	}
	if xv.Kind() != reflect.Slice {
		fail()
	}
	out := reflect.MakeSlice(rv.Type(), xv.Len(), xv.Len())
	for i := 0; i < xv.Len(); i++ {
		assign(out.Index(i).Addr().Interface(), xv.Index(i).Interface(), 0)
	}
	rv.Set(out)
}
