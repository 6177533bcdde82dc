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
	"reflect"
	"time"
)

// Fields gives typed access to the positional fields of a described list,
// such as a performative or a message section. Missing and null fields read
// as the zero value; use Has to tell them apart.
type Fields List

// Has is true if field i is present and not null.
func (f Fields) Has(i int) bool { return i < len(f) && f[i] != nil }

// Get returns field i or nil.
func (f Fields) Get(i int) interface{} {
	if i < len(f) {
		return f[i]
	}
	return nil
}

func (f Fields) String(i int) string {
	switch v := f.Get(i).(type) {
	case string:
		return v
	case Symbol:
		return string(v)
	case Binary:
		return string(v)
	}
	return ""
}

func (f Fields) Symbol(i int) Symbol { return Symbol(f.String(i)) }

func (f Fields) Binary(i int) []byte {
	switch v := f.Get(i).(type) {
	case Binary:
		return []byte(v)
	case string:
		return []byte(v)
	}
	return nil
}

func (f Fields) Bool(i int) bool {
	b, _ := f.Get(i).(bool)
	return b
}

// Uint64 converts any integer field to uint64.
func (f Fields) Uint64(i int) uint64 {
	rv := reflect.ValueOf(f.Get(i))
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() >= 0 {
			return uint64(rv.Int())
		}
	}
	return 0
}

func (f Fields) Uint32(i int) uint32 { return uint32(f.Uint64(i)) }
func (f Fields) Uint16(i int) uint16 { return uint16(f.Uint64(i)) }
func (f Fields) Uint8(i int) uint8   { return uint8(f.Uint64(i)) }

// Uint32Or returns field i or def when absent.
func (f Fields) Uint32Or(i int, def uint32) uint32 {
	if !f.Has(i) {
		return def
	}
	return f.Uint32(i)
}

// Uint32Ptr returns nil when field i is absent.
func (f Fields) Uint32Ptr(i int) *uint32 {
	if !f.Has(i) {
		return nil
	}
	v := f.Uint32(i)
	return &v
}

func (f Fields) Time(i int) time.Time {
	t, _ := f.Get(i).(time.Time)
	return t
}

func (f Fields) Map(i int) Map {
	m, _ := f.Get(i).(Map)
	return m
}

// SymbolMap returns a map field with symbol keys, dropping other keys.
func (f Fields) SymbolMap(i int) map[Symbol]interface{} {
	m := f.Map(i)
	if m == nil {
		return nil
	}
	out := make(map[Symbol]interface{}, len(m))
	for k, v := range m {
		if s, ok := k.(Symbol); ok {
			out[s] = v
		}
	}
	return out
}

// Symbols reads a field that may be a single symbol or an array of symbols.
func (f Fields) Symbols(i int) []Symbol {
	switch v := f.Get(i).(type) {
	case Symbol:
		return []Symbol{v}
	case []Symbol:
		return v
	case Array:
		out := make([]Symbol, 0, len(v))
		for _, x := range v {
			if s, ok := x.(Symbol); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// trimList drops trailing nulls, which AMQP lets encoders omit.
func trimList(l List) List {
	n := len(l)
	for n > 0 && l[n-1] == nil {
		n--
	}
	return l[:n]
}

// TrimList is trimList for composite types built outside this package.
func TrimList(l List) List { return trimList(l) }
