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

	"github.com/pkg/errors"
)

// Message section descriptor codes.
const (
	sectionHeader                = 0x70
	sectionDeliveryAnnotations   = 0x71
	sectionMessageAnnotations    = 0x72
	sectionProperties            = 0x73
	sectionApplicationProperties = 0x74
	sectionData                  = 0x75
	sectionSequence              = 0x76
	sectionValue                 = 0x77
	sectionFooter                = 0x78
)

// BodyType tells which of the mutually exclusive body forms a message carries.
type BodyType int

const (
	// BodyNone is an empty message body.
	BodyNone BodyType = iota
	// BodyData is one or more binary data sections.
	BodyData
	// BodySequence is one or more amqp-sequence sections, each a List.
	BodySequence
	// BodyValue is a single amqp-value section.
	BodyValue
)

func (t BodyType) String() string {
	switch t {
	case BodyNone:
		return "none"
	case BodyData:
		return "data"
	case BodySequence:
		return "sequence"
	case BodyValue:
		return "value"
	}
	return fmt.Sprintf("BodyType(%d)", int(t))
}

// ErrBodyType is returned when a body accessor does not match the body type.
type ErrBodyType struct{ Want, Got BodyType }

func (e ErrBodyType) Error() string {
	return fmt.Sprintf("message body is %s, not %s", e.Got, e.Want)
}

// Message is the interface to an AMQP message.
type Message interface {
	// Durable indicates that any parties taking responsibility
	// for the message must durably store the content.
	Durable() bool
	SetDurable(bool)

	// Priority impacts ordering guarantees. Within a
	// given ordered context, higher priority messages may jump ahead of
	// lower priority messages.
	Priority() uint8
	SetPriority(uint8)

	// TTL or Time To Live, a message it may be dropped after this duration
	TTL() time.Duration
	SetTTL(time.Duration)

	// FirstAcquirer indicates
	// that the recipient of the message is the first recipient to acquire
	// the message, i.e. there have been no failed delivery attempts to
	// other acquirers.
	FirstAcquirer() bool
	SetFirstAcquirer(bool)

	// DeliveryCount tracks how many attempts have been made to
	// delivery a message.
	DeliveryCount() uint32
	SetDeliveryCount(uint32)

	// MessageId provides a unique identifier for a message.
	// it can be an a string, an unsigned long, a uuid or a
	// binary value.
	MessageId() interface{}
	SetMessageId(interface{})

	UserId() string
	SetUserId(string)

	Address() string
	SetAddress(string)

	Subject() string
	SetSubject(string)

	ReplyTo() string
	SetReplyTo(string)

	// CorrelationId is set on correlated request and response messages. It can be
	// an a string, an unsigned long, a uuid or a binary value.
	CorrelationId() interface{}
	SetCorrelationId(interface{})

	ContentType() string
	SetContentType(string)

	ContentEncoding() string
	SetContentEncoding(string)

	// ExpiryTime indicates an absolute time when the message may be dropped.
	// A Zero time (i.e. t.isZero() == true) indicates a message never expires.
	ExpiryTime() time.Time
	SetExpiryTime(time.Time)

	CreationTime() time.Time
	SetCreationTime(time.Time)

	GroupId() string
	SetGroupId(string)

	GroupSequence() uint32
	SetGroupSequence(uint32)

	ReplyToGroupId() string
	SetReplyToGroupId(string)

	// Properties set by the application to be carried with the message.
	// Values must be simple types (not maps, lists or sequences)
	ApplicationProperties() map[string]interface{}
	SetApplicationProperties(map[string]interface{})

	// Per-delivery annotations to provide delivery instructions.
	// May be added or removed by intermediaries during delivery.
	DeliveryAnnotations() map[AnnotationKey]interface{}
	SetDeliveryAnnotations(map[AnnotationKey]interface{})

	// Message annotations added as part of the bare message at creation, usually
	// by an AMQP library. See ApplicationProperties() for properties set by the application.
	MessageAnnotations() map[AnnotationKey]interface{}
	SetMessageAnnotations(map[AnnotationKey]interface{})

	// Footer carries delivery details calculated after the bare message, such as hashes.
	Footer() map[AnnotationKey]interface{}
	SetFooter(map[AnnotationKey]interface{})

	// BodyType reports which body form is set. The forms are mutually exclusive,
	// setting one clears the others.
	BodyType() BodyType

	// Body returns the body in its natural form: the value for BodyValue,
	// [][]byte for BodyData, []List for BodySequence, nil for BodyNone.
	Body() interface{}

	// SetBody sets a single amqp-value body, same as SetBodyValue.
	SetBody(interface{})

	SetBodyValue(interface{})
	BodyValue() (interface{}, error)

	// SetBodyData replaces the body with binary data sections.
	SetBodyData(...[]byte)
	// AddBodyData appends a data section, converting the body to BodyData if needed.
	AddBodyData([]byte)
	BodyData() ([][]byte, error)
	BodyDataCount() (int, error)

	// SetBodySequence replaces the body with amqp-sequence sections.
	SetBodySequence(...List)
	AddBodySequence(List)
	BodySequence() ([]List, error)
	BodySequenceCount() (int, error)

	// Unmarshal the amqp-value body into v, using amqp.Unmarshal() rules.
	Unmarshal(v interface{}) error

	// Encode encodes the message as AMQP data appended to buffer.
	// Returns the buffer containing the message.
	Encode(buffer []byte) ([]byte, error)

	// Decode data into this message. Overwrites an existing message content.
	Decode(buffer []byte) error

	// Clear the message contents, set all fields to the default value.
	Clear()

	// Copy the contents of another message to this one.
	Copy(m Message) error

	// Human-readable string showing message contents and properties
	String() string
}

// NewMessage creates a new message instance.
func NewMessage() Message {
	m := &message{}
	m.Clear()
	return m
}

// NewMessageWith creates a message with value as the body.
func NewMessageWith(value interface{}) Message {
	m := NewMessage()
	m.SetBody(value)
	return m
}

// NewMessageCopy creates a copy of an existing message.
func NewMessageCopy(m Message) Message {
	m2 := NewMessage()
	_ = m2.Copy(m)
	return m2
}

// Clear resets message to all default values
func (m *message) Clear() { *m = message{priority: 4} }

// Copy makes a deep copy of message x
func (m *message) Copy(x Message) error {
	data, err := x.Encode(nil)
	if err == nil {
		err = m.Decode(data)
	}
	return err
}

type message struct {
	address               string
	applicationProperties map[string]interface{}
	contentEncoding       string
	contentType           string
	correlationId         interface{}
	creationTime          time.Time
	deliveryAnnotations   map[AnnotationKey]interface{}
	deliveryCount         uint32
	durable               bool
	expiryTime            time.Time
	firstAcquirer         bool
	footer                map[AnnotationKey]interface{}
	groupId               string
	groupSequence         uint32
	messageAnnotations    map[AnnotationKey]interface{}
	messageId             interface{}
	priority              uint8
	replyTo               string
	replyToGroupId        string
	subject               string
	ttl                   time.Duration
	userId                string

	bodyType     BodyType
	bodyValue    interface{}
	bodyData     [][]byte
	bodySequence []List
}

// ==== message get methods
func (m *message) Durable() bool              { return m.durable }
func (m *message) Priority() uint8            { return m.priority }
func (m *message) TTL() time.Duration         { return m.ttl }
func (m *message) FirstAcquirer() bool        { return m.firstAcquirer }
func (m *message) DeliveryCount() uint32      { return m.deliveryCount }
func (m *message) MessageId() interface{}     { return m.messageId }
func (m *message) UserId() string             { return m.userId }
func (m *message) Address() string            { return m.address }
func (m *message) Subject() string            { return m.subject }
func (m *message) ReplyTo() string            { return m.replyTo }
func (m *message) CorrelationId() interface{} { return m.correlationId }
func (m *message) ContentType() string        { return m.contentType }
func (m *message) ContentEncoding() string    { return m.contentEncoding }
func (m *message) ExpiryTime() time.Time      { return m.expiryTime }
func (m *message) CreationTime() time.Time    { return m.creationTime }
func (m *message) GroupId() string            { return m.groupId }
func (m *message) GroupSequence() uint32      { return m.groupSequence }
func (m *message) ReplyToGroupId() string     { return m.replyToGroupId }
func (m *message) BodyType() BodyType         { return m.bodyType }

func (m *message) DeliveryAnnotations() map[AnnotationKey]interface{} {
	if m.deliveryAnnotations == nil {
		m.deliveryAnnotations = make(map[AnnotationKey]interface{})
	}
	return m.deliveryAnnotations
}
func (m *message) MessageAnnotations() map[AnnotationKey]interface{} {
	if m.messageAnnotations == nil {
		m.messageAnnotations = make(map[AnnotationKey]interface{})
	}
	return m.messageAnnotations
}
func (m *message) Footer() map[AnnotationKey]interface{} {
	if m.footer == nil {
		m.footer = make(map[AnnotationKey]interface{})
	}
	return m.footer
}
func (m *message) ApplicationProperties() map[string]interface{} {
	if m.applicationProperties == nil {
		m.applicationProperties = make(map[string]interface{})
	}
	return m.applicationProperties
}

// ==== message set methods

func (m *message) SetDurable(x bool)              { m.durable = x }
func (m *message) SetPriority(x uint8)            { m.priority = x }
func (m *message) SetTTL(x time.Duration)         { m.ttl = x }
func (m *message) SetFirstAcquirer(x bool)        { m.firstAcquirer = x }
func (m *message) SetDeliveryCount(x uint32)      { m.deliveryCount = x }
func (m *message) SetMessageId(x interface{})     { m.messageId = x }
func (m *message) SetUserId(x string)             { m.userId = x }
func (m *message) SetAddress(x string)            { m.address = x }
func (m *message) SetSubject(x string)            { m.subject = x }
func (m *message) SetReplyTo(x string)            { m.replyTo = x }
func (m *message) SetCorrelationId(x interface{}) { m.correlationId = x }
func (m *message) SetContentType(x string)        { m.contentType = x }
func (m *message) SetContentEncoding(x string)    { m.contentEncoding = x }
func (m *message) SetExpiryTime(x time.Time)      { m.expiryTime = x }
func (m *message) SetCreationTime(x time.Time)    { m.creationTime = x }
func (m *message) SetGroupId(x string)            { m.groupId = x }
func (m *message) SetGroupSequence(x uint32)      { m.groupSequence = x }
func (m *message) SetReplyToGroupId(x string)     { m.replyToGroupId = x }

func (m *message) SetDeliveryAnnotations(x map[AnnotationKey]interface{}) {
	m.deliveryAnnotations = x
}
func (m *message) SetMessageAnnotations(x map[AnnotationKey]interface{}) {
	m.messageAnnotations = x
}
func (m *message) SetFooter(x map[AnnotationKey]interface{}) { m.footer = x }
func (m *message) SetApplicationProperties(x map[string]interface{}) {
	m.applicationProperties = x
}

// ==== body

func (m *message) clearBody() {
	m.bodyType = BodyNone
	m.bodyValue, m.bodyData, m.bodySequence = nil, nil, nil
}

func (m *message) Body() interface{} {
	switch m.bodyType {
	case BodyValue:
		return m.bodyValue
	case BodyData:
		return m.bodyData
	case BodySequence:
		return m.bodySequence
	}
	return nil
}

func (m *message) SetBody(v interface{}) { m.SetBodyValue(v) }

func (m *message) SetBodyValue(v interface{}) {
	m.clearBody()
	m.bodyType, m.bodyValue = BodyValue, v
}

func (m *message) BodyValue() (interface{}, error) {
	if m.bodyType != BodyValue {
		return nil, ErrBodyType{BodyValue, m.bodyType}
	}
	return m.bodyValue, nil
}

func (m *message) SetBodyData(data ...[]byte) {
	m.clearBody()
	m.bodyType, m.bodyData = BodyData, data
}

func (m *message) AddBodyData(data []byte) {
	if m.bodyType != BodyData {
		m.clearBody()
		m.bodyType = BodyData
	}
	m.bodyData = append(m.bodyData, data)
}

func (m *message) BodyData() ([][]byte, error) {
	if m.bodyType != BodyData {
		return nil, ErrBodyType{BodyData, m.bodyType}
	}
	return m.bodyData, nil
}

func (m *message) BodyDataCount() (int, error) {
	if m.bodyType != BodyData {
		return 0, ErrBodyType{BodyData, m.bodyType}
	}
	return len(m.bodyData), nil
}

func (m *message) SetBodySequence(seq ...List) {
	m.clearBody()
	m.bodyType, m.bodySequence = BodySequence, seq
}

func (m *message) AddBodySequence(l List) {
	if m.bodyType != BodySequence {
		m.clearBody()
		m.bodyType = BodySequence
	}
	m.bodySequence = append(m.bodySequence, l)
}

func (m *message) BodySequence() ([]List, error) {
	if m.bodyType != BodySequence {
		return nil, ErrBodyType{BodySequence, m.bodyType}
	}
	return m.bodySequence, nil
}

func (m *message) BodySequenceCount() (int, error) {
	if m.bodyType != BodySequence {
		return 0, ErrBodyType{BodySequence, m.bodyType}
	}
	return len(m.bodySequence), nil
}

// Unmarshal the value body into v by re-encoding it, so the conversions of
// amqp.Unmarshal apply.
func (m *message) Unmarshal(v interface{}) error {
	value, err := m.BodyValue()
	if err != nil {
		return err
	}
	data, err := Marshal(value, nil)
	if err != nil {
		return err
	}
	_, err = Unmarshal(data, v)
	return err
}

// ==== encoding

func annotations(m map[AnnotationKey]interface{}) interface{} {
	if len(m) == 0 {
		return nil
	}
	return m
}

func orNil(v interface{}, zero bool) interface{} {
	if zero {
		return nil
	}
	return v
}

func (m *message) header() List {
	return trimList(List{
		orNil(m.durable, !m.durable),
		orNil(m.priority, m.priority == 4),
		orNil(Milliseconds(m.ttl), m.ttl == 0),
		orNil(m.firstAcquirer, !m.firstAcquirer),
		orNil(m.deliveryCount, m.deliveryCount == 0),
	})
}

func (m *message) properties() List {
	return trimList(List{
		m.messageId,
		orNil(Binary(m.userId), m.userId == ""),
		orNil(m.address, m.address == ""),
		orNil(m.subject, m.subject == ""),
		orNil(m.replyTo, m.replyTo == ""),
		m.correlationId,
		orNil(Symbol(m.contentType), m.contentType == ""),
		orNil(Symbol(m.contentEncoding), m.contentEncoding == ""),
		orNil(m.expiryTime, m.expiryTime.IsZero()),
		orNil(m.creationTime, m.creationTime.IsZero()),
		orNil(m.groupId, m.groupId == ""),
		orNil(m.groupSequence, m.groupSequence == 0),
		orNil(m.replyToGroupId, m.replyToGroupId == ""),
	})
}

// Encode m appended to buffer. Return the final buffer used to hold m.
func (m *message) Encode(buffer []byte) (out []byte, err error) {
	defer doRecover(&err)
	e := encoder{buf: buffer[:0:cap(buffer)]}
	section := func(code uint64, v interface{}) {
		e.marshal(Described{code, v})
	}
	if h := m.header(); len(h) > 0 {
		section(sectionHeader, h)
	}
	if a := annotations(m.deliveryAnnotations); a != nil {
		section(sectionDeliveryAnnotations, a)
	}
	if a := annotations(m.messageAnnotations); a != nil {
		section(sectionMessageAnnotations, a)
	}
	if p := m.properties(); len(p) > 0 {
		section(sectionProperties, p)
	}
	if len(m.applicationProperties) > 0 {
		section(sectionApplicationProperties, m.applicationProperties)
	}
	switch m.bodyType {
	case BodyData:
		for _, d := range m.bodyData {
			section(sectionData, Binary(d))
		}
	case BodySequence:
		for _, l := range m.bodySequence {
			section(sectionSequence, l)
		}
	case BodyValue:
		section(sectionValue, m.bodyValue)
	}
	if a := annotations(m.footer); a != nil {
		section(sectionFooter, a)
	}
	return e.buf, nil
}

// Decode data into m. A message is a sequence of described sections.
func (m *message) Decode(data []byte) (err error) {
	defer doRecover(&err)
	m.Clear()
	d := decoder{data: data}
	for d.pos < len(d.data) {
		v, _ := d.value()
		s, ok := v.(Described)
		if !ok {
			return errors.Errorf("message section is not a described type: %#v", v)
		}
		if err := m.section(s); err != nil {
			return err
		}
	}
	return nil
}

func toAnnotations(v interface{}) (map[AnnotationKey]interface{}, error) {
	var m map[AnnotationKey]interface{}
	data, err := Marshal(v, nil)
	if err == nil {
		_, err = Unmarshal(data, &m)
	}
	return m, errors.Wrap(err, "bad annotations")
}

func (m *message) section(s Described) error {
	code, ok := s.Descriptor.(uint64)
	if !ok {
		code = sectionNames[fmt.Sprint(s.Descriptor)]
	}
	switch code {
	case sectionHeader:
		f := Fields(asList(s.Value))
		m.durable = f.Bool(0)
		m.priority = 4
		if f.Has(1) {
			m.priority = f.Uint8(1)
		}
		m.ttl = Duration(f.Uint32(2))
		m.firstAcquirer = f.Bool(3)
		m.deliveryCount = f.Uint32(4)
	case sectionDeliveryAnnotations:
		a, err := toAnnotations(s.Value)
		if err != nil {
			return err
		}
		m.deliveryAnnotations = a
	case sectionMessageAnnotations:
		a, err := toAnnotations(s.Value)
		if err != nil {
			return err
		}
		m.messageAnnotations = a
	case sectionProperties:
		f := Fields(asList(s.Value))
		m.messageId = f.Get(0)
		m.userId = f.String(1)
		m.address = f.String(2)
		m.subject = f.String(3)
		m.replyTo = f.String(4)
		m.correlationId = f.Get(5)
		m.contentType = f.String(6)
		m.contentEncoding = f.String(7)
		m.expiryTime = f.Time(8)
		m.creationTime = f.Time(9)
		m.groupId = f.String(10)
		m.groupSequence = f.Uint32(11)
		m.replyToGroupId = f.String(12)
	case sectionApplicationProperties:
		var p map[string]interface{}
		data, err := Marshal(s.Value, nil)
		if err == nil {
			_, err = Unmarshal(data, &p)
		}
		if err != nil {
			return errors.Wrap(err, "bad application-properties")
		}
		m.applicationProperties = p
	case sectionData:
		b, ok := s.Value.(Binary)
		if !ok {
			return errors.Errorf("data section is not binary: %T", s.Value)
		}
		m.AddBodyData([]byte(b))
	case sectionSequence:
		m.AddBodySequence(asList(s.Value))
	case sectionValue:
		m.SetBodyValue(s.Value)
	case sectionFooter:
		a, err := toAnnotations(s.Value)
		if err != nil {
			return err
		}
		m.footer = a
	default:
		return errors.Errorf("unknown message section %v", s.Descriptor)
	}
	return nil
}

var sectionNames = map[string]uint64{
	"amqp:header:list":                sectionHeader,
	"amqp:delivery-annotations:map":   sectionDeliveryAnnotations,
	"amqp:message-annotations:map":    sectionMessageAnnotations,
	"amqp:properties:list":            sectionProperties,
	"amqp:application-properties:map": sectionApplicationProperties,
	"amqp:data:binary":                sectionData,
	"amqp:amqp-sequence:list":         sectionSequence,
	"amqp:amqp-value:*":               sectionValue,
	"amqp:footer:map":                 sectionFooter,
}

func asList(v interface{}) List {
	switch l := v.(type) {
	case List:
		return l
	case Array:
		return List(l)
	}
	return nil
}

// DecodeMessage decodes data as a new message.
func DecodeMessage(data []byte) (m Message, err error) {
	m = NewMessage()
	err = m.Decode(data)
	return
}

type ignoreFunc func(v interface{}) bool

func isNil(v interface{}) bool   { return v == nil }
func isZero(v interface{}) bool  { return v == reflect.Zero(reflect.TypeOf(v)).Interface() }
func isEmpty(v interface{}) bool { return reflect.ValueOf(v).Len() == 0 }

type stringBuilder struct {
	bytes.Buffer
	separator string
}

func (b *stringBuilder) field(name string, value interface{}, ignore ignoreFunc) {
	if !ignore(value) {
		b.WriteString(b.separator)
		b.separator = ", "
		b.WriteString(name)
		b.WriteString(": ")
		fmt.Fprintf(&b.Buffer, "%v", value)
	}
}

// Human-readable string describing message.
// Includes only message fields with non-default values.
func (m *message) String() string {
	var b stringBuilder
	b.WriteString("Message{")
	b.field("address", m.address, isEmpty)
	b.field("durable", m.durable, isZero)
	// Priority has weird default
	b.field("priority", m.priority, func(v interface{}) bool { return v.(uint8) == 4 })
	b.field("ttl", m.ttl, isZero)
	b.field("first-acquirer", m.firstAcquirer, isZero)
	b.field("delivery-count", m.deliveryCount, isZero)
	b.field("message-id", m.messageId, isNil)
	b.field("user-id", m.userId, isEmpty)
	b.field("subject", m.subject, isEmpty)
	b.field("reply-to", m.replyTo, isEmpty)
	b.field("correlation-id", m.correlationId, isNil)
	b.field("content-type", m.contentType, isEmpty)
	b.field("content-encoding", m.contentEncoding, isEmpty)
	b.field("expiry-time", m.expiryTime, isZero)
	b.field("creation-time", m.creationTime, isZero)
	b.field("group-id", m.groupId, isEmpty)
	b.field("group-sequence", m.groupSequence, isZero)
	b.field("reply-to-group-id", m.replyToGroupId, isEmpty)
	b.field("delivery-annotations", m.deliveryAnnotations, isEmpty)
	b.field("message-annotations", m.messageAnnotations, isEmpty)
	b.field("application-properties", m.applicationProperties, isEmpty)
	b.field("body", m.Body(), isNil)
	b.field("footer", m.footer, isEmpty)
	b.WriteString("}")
	return b.String()
}
