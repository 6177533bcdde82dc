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
	"testing"
	"time"

	"github.com/coreamqp/coreamqp/go/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip encodes and decodes m, and checks the copy renders identically.
func roundTrip(m Message) error {
	buffer, err := m.Encode(nil)
	if err != nil {
		return err
	}
	m2, err := DecodeMessage(buffer)
	if err != nil {
		return err
	}
	return test.Differ(m.String(), m2.String())
}

func TestDefaultMessage(t *testing.T) {
	m := NewMessage()
	if err := roundTrip(m); err != nil {
		t.Error(err)
	}
	mv := reflect.ValueOf(m)
	// Check defaults
	for _, x := range []struct {
		method string
		want   interface{}
	}{
		{"Durable", false},
		{"Priority", uint8(4)},
		{"TTL", time.Duration(0)},
		{"FirstAcquirer", false},
		{"DeliveryCount", uint32(0)},
		{"UserId", ""},
		{"Address", ""},
		{"Subject", ""},
		{"ReplyTo", ""},
		{"ContentType", ""},
		{"ContentEncoding", ""},
		{"GroupId", ""},
		{"GroupSequence", uint32(0)},
		{"ReplyToGroupId", ""},
		{"MessageId", nil},
		{"CorrelationId", nil},
		{"BodyType", BodyNone},
		{"DeliveryAnnotations", map[AnnotationKey]interface{}{}},
		{"MessageAnnotations", map[AnnotationKey]interface{}{}},
		{"ApplicationProperties", map[string]interface{}{}},
		{"Body", nil},
	} {
		ret := mv.MethodByName(x.method).Call(nil)
		if err := test.Differ(x.want, ret[0].Interface()); err != nil {
			t.Errorf("%s: %s", x.method, err)
		}
	}
	if err := test.Differ("Message{}", m.String()); err != nil {
		t.Error(err)
	}
	b, err := m.Encode(nil)
	test.ErrorIf(t, err)
	test.ErrorIf(t, test.Differ(0, len(b)))
}

func TestMessageString(t *testing.T) {
	m := NewMessageWith("hello")
	m.SetUserId("user")
	m.SetDeliveryAnnotations(map[AnnotationKey]interface{}{AnnotationKeySymbol("instructions"): "foo"})
	m.SetMessageAnnotations(map[AnnotationKey]interface{}{AnnotationKeySymbol("annotations"): "bar"})
	m.SetApplicationProperties(map[string]interface{}{"int": int32(32)})
	if err := roundTrip(m); err != nil {
		t.Error(err)
	}
	msgstr := "Message{user-id: user, delivery-annotations: map[instructions:foo], message-annotations: map[annotations:bar], application-properties: map[int:32], body: hello}"
	if err := test.Differ(msgstr, m.String()); err != nil {
		t.Error(err)
	}
}

// Set all message properties
func setMessageProperties(m Message) Message {
	m.SetDurable(true)
	m.SetPriority(42)
	m.SetTTL(time.Second)
	m.SetFirstAcquirer(true)
	m.SetDeliveryCount(3)
	m.SetUserId("user")
	m.SetAddress("address")
	m.SetSubject("subject")
	m.SetReplyTo("replyto")
	m.SetContentType("content")
	m.SetContentEncoding("encoding")
	m.SetGroupId("group")
	m.SetGroupSequence(42)
	m.SetReplyToGroupId("replytogroup")
	m.SetMessageId("id")
	m.SetCorrelationId(uint64(7))
	m.SetCreationTime(timeValue)
	m.SetDeliveryAnnotations(map[AnnotationKey]interface{}{AnnotationKeySymbol("instructions"): "foo"})
	m.SetMessageAnnotations(map[AnnotationKey]interface{}{AnnotationKeySymbol("annotations"): "bar", AnnotationKeyUint64(9): "nine"})
	m.SetApplicationProperties(map[string]interface{}{"int": int32(32), "bool": true})
	m.SetFooter(map[AnnotationKey]interface{}{AnnotationKeySymbol("sum"): "abc"})
	return m
}

func TestMessageRoundTrip(t *testing.T) {
	m1 := NewMessage()
	setMessageProperties(m1)
	m1.SetBody("hello")

	buffer, err := m1.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	m, err := DecodeMessage(buffer)
	if err != nil {
		t.Fatal(err)
	}

	for _, data := range [][]interface{}{
		{m.Durable(), true},
		{m.Priority(), uint8(42)},
		{m.TTL(), time.Second},
		{m.FirstAcquirer(), true},
		{m.DeliveryCount(), uint32(3)},
		{m.UserId(), "user"},
		{m.Address(), "address"},
		{m.Subject(), "subject"},
		{m.ReplyTo(), "replyto"},
		{m.ContentType(), "content"},
		{m.ContentEncoding(), "encoding"},
		{m.GroupId(), "group"},
		{m.GroupSequence(), uint32(42)},
		{m.ReplyToGroupId(), "replytogroup"},
		{m.MessageId(), "id"},
		{m.CorrelationId(), uint64(7)},
		{m.CreationTime(), timeValue},

		{m.DeliveryAnnotations(), map[AnnotationKey]interface{}{AnnotationKeySymbol("instructions"): "foo"}},
		{m.MessageAnnotations(), map[AnnotationKey]interface{}{AnnotationKeySymbol("annotations"): "bar", AnnotationKeyUint64(9): "nine"}},
		{m.ApplicationProperties(), map[string]interface{}{"int": int32(32), "bool": true}},
		{m.Footer(), map[AnnotationKey]interface{}{AnnotationKeySymbol("sum"): "abc"}},
		{m.Body(), "hello"},
	} {
		if err := test.Differ(data[1], data[0]); err != nil {
			t.Error(err)
		}
	}
	if err := roundTrip(m); err != nil {
		t.Error(err)
	}
}

func TestMessageBodyTypes(t *testing.T) {
	var s string
	var body interface{}
	var i int64

	m := NewMessageWith(int64(42))
	test.ErrorIf(t, m.Unmarshal(&body))
	test.ErrorIf(t, m.Unmarshal(&i))
	if err := test.Differ(body.(int64), int64(42)); err != nil {
		t.Error(err)
	}
	if err := test.Differ(i, int64(42)); err != nil {
		t.Error(err)
	}

	m = NewMessageWith("hello")
	test.ErrorIf(t, m.Unmarshal(&s))
	if err := test.Differ(s, "hello"); err != nil {
		t.Error(err)
	}
	if err := roundTrip(m); err != nil {
		t.Error(err)
	}

	m = NewMessageWith(Binary("bin"))
	test.ErrorIf(t, m.Unmarshal(&s))
	test.ErrorIf(t, m.Unmarshal(&body))
	if err := test.Differ(body.(Binary), Binary("bin")); err != nil {
		t.Error(err)
	}
	if err := test.Differ(s, "bin"); err != nil {
		t.Error(err)
	}
	if err := roundTrip(m); err != nil {
		t.Error(err)
	}
}

func TestMessageBodyData(t *testing.T) {
	m := NewMessage()
	m.SetBodyData([]byte("one"))
	m.AddBodyData([]byte("two"))
	assert.Equal(t, BodyData, m.BodyType())

	b, err := m.Encode(nil)
	require.NoError(t, err)
	m2, err := DecodeMessage(b)
	require.NoError(t, err)
	n, err := m2.BodyDataCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	data, err := m2.BodyData()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, data)

	_, err = m2.BodyValue()
	assert.Equal(t, ErrBodyType{BodyValue, BodyData}, err)
	_, err = m2.BodySequenceCount()
	assert.Error(t, err)
	assert.Error(t, m2.Unmarshal(new(string)))
}

func TestMessageBodySequence(t *testing.T) {
	m := NewMessage()
	m.AddBodySequence(List{"a", int32(1)})
	m.AddBodySequence(List{"b"})
	b, err := m.Encode(nil)
	require.NoError(t, err)
	m2, err := DecodeMessage(b)
	require.NoError(t, err)
	seq, err := m2.BodySequence()
	require.NoError(t, err)
	assert.Equal(t, []List{{"a", int32(1)}, {"b"}}, seq)
	_, err = m2.BodyDataCount()
	assert.Equal(t, ErrBodyType{BodyData, BodySequence}, err)

	// Setting a value body replaces the sequence.
	m2.SetBodyValue(int32(5))
	assert.Equal(t, BodyValue, m2.BodyType())
	_, err = m2.BodySequence()
	assert.Error(t, err)
}

func TestMessageSymbolicSections(t *testing.T) {
	var data []byte
	var err error
	for _, s := range []Described{
		{Symbol("amqp:properties:list"), List{"msg-1", nil, "to"}},
		{Symbol("amqp:amqp-value:*"), "v"},
	} {
		data, err = Marshal(s, data)
		require.NoError(t, err)
	}
	m, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", m.MessageId())
	assert.Equal(t, "to", m.Address())
	assert.Equal(t, "v", m.Body())
}

func TestMessageDecodeErrors(t *testing.T) {
	_, err := DecodeMessage([]byte{codeStr8, 1, 'x'})
	assert.Error(t, err)
	bad, _ := Marshal(Described{uint64(0x99), nil}, nil)
	_, err = DecodeMessage(bad)
	assert.Error(t, err)
}

func TestMessageCopyAndClear(t *testing.T) {
	m := setMessageProperties(NewMessageWith("hello"))
	c := NewMessageCopy(m)
	assert.Equal(t, m.String(), c.String())
	c.Clear()
	assert.Equal(t, "Message{}", c.String())
	assert.Equal(t, "address", m.Address())
}

// Benchmarks assign to package-scope variables to prevent being optimized out.
var bmM Message
var bmBuf []byte

func BenchmarkNewMessageAll(b *testing.B) {
	for n := 0; n < b.N; n++ {
		bmM = setMessageProperties(NewMessageWith("hello"))
	}
}

func BenchmarkEncode(b *testing.B) {
	m := setMessageProperties(NewMessageWith("hello"))
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		buf, err := m.Encode(nil)
		if err != nil {
			b.Fatal(err)
		}
		bmBuf = buf
	}
}

func BenchmarkDecode(b *testing.B) {
	buf, err := setMessageProperties(NewMessageWith("hello")).Encode(nil)
	if err != nil {
		b.Fatal(err)
	}
	m := NewMessage()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if err := m.Decode(buf); err != nil {
			b.Fatal(err)
		}
		bmM = m
	}
}
