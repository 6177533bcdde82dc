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
	"strings"
	"testing"

	"github.com/coreamqp/coreamqp/go/internal/test"
)

func TestSymbolKey(t *testing.T) {
	bytes, err := Marshal(AnnotationKeySymbol("foo"), nil)
	test.FatalIf(t, err)
	var k AnnotationKey
	_, err = Unmarshal(bytes, &k)
	test.ErrorIf(t, err)
	test.ErrorIf(t, test.Differ("foo", string(k.Get().(Symbol))))
	var sym Symbol
	_, err = Unmarshal(bytes, &sym)
	test.ErrorIf(t, err)
	test.ErrorIf(t, test.Differ("foo", sym.String()))
}

func TestStringKey(t *testing.T) {
	bytes, err := Marshal(AnnotationKeyString("foo"), nil)
	test.FatalIf(t, err)
	var k AnnotationKey

	_, err = Unmarshal(bytes, &k)
	test.ErrorIf(t, err)
	test.ErrorIf(t, test.Differ("foo", string(k.Get().(Symbol))))
	var s string
	_, err = Unmarshal(bytes, &s)
	test.ErrorIf(t, err)
	test.ErrorIf(t, test.Differ("foo", s))
}

func TestIntKey(t *testing.T) {
	bytes, err := Marshal(AnnotationKeyUint64(12345), nil)
	if err != nil {
		t.Fatal(err)
	}
	var k AnnotationKey
	if _, err := Unmarshal(bytes, &k); err != nil {
		t.Error(err)
	}
	if 12345 != k.Get().(uint64) {
		t.Errorf("%v != %v", 12345, k.Get().(uint64))
	}
	var n uint64
	if _, err := Unmarshal(bytes, &n); err != nil {
		t.Error(err)
	}
	if 12345 != n {
		t.Errorf("%v != %v", 12345, n)
	}
}

func TestMapToMap(t *testing.T) {
	in := Map{"k": "v", "x": "y", true: false, int8(3): uint64(24)}
	if bytes, err := Marshal(in, nil); err == nil {
		var out Map
		if _, err := Unmarshal(bytes, &out); err == nil {
			if err = test.Differ(in, out); err != nil {
				t.Error(err)
			}
		} else {
			t.Error(err)
		}
	}
}

func TestMapToInterface(t *testing.T) {
	in := Map{"k": "v", "x": "y", true: false, int8(3): uint64(24)}
	if bytes, err := Marshal(in, nil); err == nil {
		var out interface{}
		if _, err := Unmarshal(bytes, &out); err == nil {
			if err = test.Differ(in, out); err != nil {
				t.Error(err)
			}
		} else {
			t.Error(err)
		}
	}
}

func TestSymbolMapToStringMap(t *testing.T) {
	b, err := Marshal(map[Symbol]interface{}{"status-code": int32(200)}, nil)
	test.FatalIf(t, err)
	var out map[string]interface{}
	test.ErrorIf(t, checkUnmarshal(b, &out))
	test.ErrorIf(t, test.Differ(map[string]interface{}{"status-code": int32(200)}, out))
}

func TestAnyMap(t *testing.T) {
	// nil
	bytes, err := Marshal(AnyMap(nil), nil)
	if err != nil {
		t.Error(err)
	}
	var out AnyMap
	if _, err = Unmarshal(bytes, &out); err != nil {
		t.Error(err)
	}
	if err = test.Differ(0, len(out)); err != nil {
		t.Error(err)
	}

	// with data
	in := AnyMap{{"k", "v"}, {true, false}}
	bytes, err = Marshal(in, nil)
	if err != nil {
		t.Error(err)
	}
	if _, err = Unmarshal(bytes, &out); err != nil {
		t.Error(err)
	}
	if err = test.Differ(in.Map(), out.Map()); err != nil {
		t.Error(err)
	}
}

func TestBadMap(t *testing.T) {
	// unmarshal map with invalid keys
	in := AnyMap{{"k", "v"}, {[]string{"x", "y"}, "invalid-key"}}
	bytes, err := Marshal(in, nil)
	if err != nil {
		t.Error(err)
	}
	m := Map{}
	//  Should fail to unmarshal to a map
	if _, err = Unmarshal(bytes, &m); err == nil {
		t.Error("expected error")
	} else if !strings.Contains(err.Error(), "cannot unmarshal") {
		t.Error(err)
	}
	// Should unmarshal to an AnyMap
	var out AnyMap
	if _, err = Unmarshal(bytes, &out); err != nil {
		t.Error(err)
	} else if err = test.Differ(in, out); err != nil {
		t.Error(err)
	}
	// Should unmarshal to interface{} as AnyMap
	var v interface{}
	if _, err = Unmarshal(bytes, &v); err != nil {
		t.Error(err)
	} else if err = test.Differ(in, v); err != nil {
		t.Error(err)
	}
}

func TestMarshalErrors(t *testing.T) {
	for _, v := range []interface{}{
		make(chan int),
		"bad\xffutf8",
		[]interface{}{func() {}},
		Array{int32(1), "mixed"},
	} {
		if _, err := Marshal(v, nil); err == nil {
			t.Errorf("expected error marshaling %T", v)
		} else if _, ok := err.(*MarshalError); !ok {
			t.Errorf("expected *MarshalError, got %T", err)
		}
	}
}

func TestMarshalAppends(t *testing.T) {
	b, err := Marshal("a", []byte{0xAA})
	test.FatalIf(t, err)
	test.ErrorIf(t, test.Differ([]byte{0xAA, codeStr8, 1, 'a'}, b))
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	values := []interface{}{"one", int32(2), List{Symbol("three")}}
	var want []byte
	for _, v := range values {
		test.FatalIf(t, e.Encode(v))
		b, err := Marshal(v, nil)
		test.FatalIf(t, err)
		want = append(want, b...)
	}
	test.ErrorIf(t, test.Differ(want, buf.Bytes()), "each value written once")
	d := NewDecoder(&buf)
	for _, want := range values {
		var got interface{}
		test.FatalIf(t, d.Decode(&got))
		test.ErrorIf(t, test.Differ(want, got))
	}
}

func TestErrorValue(t *testing.T) {
	in := Errorf(InternalError, "oops %d", 1)
	in.Info = map[Symbol]interface{}{"retry": true}
	b, err := Marshal(in, nil)
	test.FatalIf(t, err)
	v, _, err := Decode(b)
	test.FatalIf(t, err)
	out, err := ErrorFromValue(v)
	test.FatalIf(t, err)
	test.ErrorIf(t, test.Differ(in, *out))
	test.ErrorIf(t, test.Differ("amqp:internal-error: oops 1", out.Error()))
	test.ErrorIf(t, test.Differ("amqp:not-found", Error{Name: NotFound}.Error()))
}
