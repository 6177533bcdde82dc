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

package proton

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/pkg/errors"
)

var (
	amqpHeader = []byte{'A', 'M', 'Q', 'P', 0, 1, 0, 0}
	saslHeader = []byte{'A', 'M', 'Q', 'P', 3, 1, 0, 0}
)

const (
	frameTypeAMQP = 0
	frameTypeSASL = 1

	frameHeaderSize = 8
	// MinMaxFrameSize is the smallest max-frame-size a peer may advertise.
	MinMaxFrameSize = 512
)

// Performative descriptor codes.
const (
	codeOpen        = 0x10
	codeBegin       = 0x11
	codeAttach      = 0x12
	codeFlow        = 0x13
	codeTransfer    = 0x14
	codeDisposition = 0x15
	codeDetach      = 0x16
	codeEnd         = 0x17
	codeClose       = 0x18

	codeSaslMechanisms = 0x40
	codeSaslInit       = 0x41
	codeSaslChallenge  = 0x42
	codeSaslResponse   = 0x43
	codeSaslOutcome    = 0x44
)

var performativeCodes = map[string]uint64{
	"amqp:open:list":            codeOpen,
	"amqp:begin:list":           codeBegin,
	"amqp:attach:list":          codeAttach,
	"amqp:flow:list":            codeFlow,
	"amqp:transfer:list":        codeTransfer,
	"amqp:disposition:list":     codeDisposition,
	"amqp:detach:list":          codeDetach,
	"amqp:end:list":             codeEnd,
	"amqp:close:list":           codeClose,
	"amqp:sasl-mechanisms:list": codeSaslMechanisms,
	"amqp:sasl-init:list":       codeSaslInit,
	"amqp:sasl-challenge:list":  codeSaslChallenge,
	"amqp:sasl-response:list":   codeSaslResponse,
	"amqp:sasl-outcome:list":    codeSaslOutcome,
}

// Role of a link endpoint. The wire encoding is false for sender.
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// SenderSettleMode is the settlement policy of a sending link.
type SenderSettleMode uint8

const (
	SenderSettleModeUnsettled SenderSettleMode = 0
	SenderSettleModeSettled   SenderSettleMode = 1
	SenderSettleModeMixed     SenderSettleMode = 2
)

func (m SenderSettleMode) String() string {
	switch m {
	case SenderSettleModeUnsettled:
		return "unsettled"
	case SenderSettleModeSettled:
		return "settled"
	case SenderSettleModeMixed:
		return "mixed"
	}
	return fmt.Sprintf("sender-settle-mode(%d)", uint8(m))
}

// ReceiverSettleMode is the settlement policy of a receiving link.
type ReceiverSettleMode uint8

const (
	ReceiverSettleModeFirst  ReceiverSettleMode = 0
	ReceiverSettleModeSecond ReceiverSettleMode = 1
)

func (m ReceiverSettleMode) String() string {
	switch m {
	case ReceiverSettleModeFirst:
		return "first"
	case ReceiverSettleModeSecond:
		return "second"
	}
	return fmt.Sprintf("receiver-settle-mode(%d)", uint8(m))
}

func described(code uint64, l amqp.List) amqp.Described {
	return amqp.Described{Descriptor: code, Value: amqp.TrimList(l)}
}

func symbols(s []amqp.Symbol) interface{} {
	if len(s) == 0 {
		return nil
	}
	return s
}

func symbolMap(m map[amqp.Symbol]interface{}) interface{} {
	if len(m) == 0 {
		return nil
	}
	return m
}

func errorValue(e *amqp.Error) interface{} {
	if e == nil {
		return nil
	}
	return *e
}

func stateValue(s amqp.DeliveryState) interface{} {
	if s == nil {
		return nil
	}
	return s
}

func uint32Value(p *uint32) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func boolValue(b bool) interface{} {
	if !b {
		return nil
	}
	return true
}

// Open is the first performative on a connection.
type Open struct {
	ContainerID         string
	Hostname            string
	MaxFrameSize        uint32
	ChannelMax          uint16
	IdleTimeout         time.Duration
	OutgoingLocales     []amqp.Symbol
	IncomingLocales     []amqp.Symbol
	OfferedCapabilities []amqp.Symbol
	DesiredCapabilities []amqp.Symbol
	Properties          map[amqp.Symbol]interface{}
}

func (o *Open) MarshalAMQP() interface{} {
	var hostname, idle interface{}
	if o.Hostname != "" {
		hostname = o.Hostname
	}
	if o.IdleTimeout > 0 {
		idle = amqp.Milliseconds(o.IdleTimeout)
	}
	return described(codeOpen, amqp.List{
		o.ContainerID,
		hostname,
		o.MaxFrameSize,
		o.ChannelMax,
		idle,
		symbols(o.OutgoingLocales),
		symbols(o.IncomingLocales),
		symbols(o.OfferedCapabilities),
		symbols(o.DesiredCapabilities),
		symbolMap(o.Properties),
	})
}

func decodeOpen(f amqp.Fields) *Open {
	return &Open{
		ContainerID:         f.String(0),
		Hostname:            f.String(1),
		MaxFrameSize:        f.Uint32Or(2, math.MaxUint32),
		ChannelMax:          uint16(f.Uint32Or(3, math.MaxUint16)),
		IdleTimeout:         amqp.Duration(f.Uint32(4)),
		OutgoingLocales:     f.Symbols(5),
		IncomingLocales:     f.Symbols(6),
		OfferedCapabilities: f.Symbols(7),
		DesiredCapabilities: f.Symbols(8),
		Properties:          f.SymbolMap(9),
	}
}

// Begin maps a session to a channel.
type Begin struct {
	RemoteChannel       *uint16
	NextOutgoingID      uint32
	IncomingWindow      uint32
	OutgoingWindow      uint32
	HandleMax           uint32
	OfferedCapabilities []amqp.Symbol
	DesiredCapabilities []amqp.Symbol
	Properties          map[amqp.Symbol]interface{}
}

func (b *Begin) MarshalAMQP() interface{} {
	var remote interface{}
	if b.RemoteChannel != nil {
		remote = *b.RemoteChannel
	}
	return described(codeBegin, amqp.List{
		remote,
		b.NextOutgoingID,
		b.IncomingWindow,
		b.OutgoingWindow,
		b.HandleMax,
		symbols(b.OfferedCapabilities),
		symbols(b.DesiredCapabilities),
		symbolMap(b.Properties),
	})
}

func decodeBegin(f amqp.Fields) *Begin {
	b := &Begin{
		NextOutgoingID:      f.Uint32(1),
		IncomingWindow:      f.Uint32(2),
		OutgoingWindow:      f.Uint32(3),
		HandleMax:           f.Uint32Or(4, math.MaxUint32),
		OfferedCapabilities: f.Symbols(5),
		DesiredCapabilities: f.Symbols(6),
		Properties:          f.SymbolMap(7),
	}
	if f.Has(0) {
		ch := f.Uint16(0)
		b.RemoteChannel = &ch
	}
	return b
}

// Attach attaches a link to a session.
type Attach struct {
	Name                 string
	Handle               uint32
	Role                 Role
	SenderSettleMode     SenderSettleMode
	ReceiverSettleMode   ReceiverSettleMode
	Source               *amqp.Source
	Target               *amqp.Target
	Unsettled            amqp.Map
	IncompleteUnsettled  bool
	InitialDeliveryCount uint32
	MaxMessageSize       uint64
	OfferedCapabilities  []amqp.Symbol
	DesiredCapabilities  []amqp.Symbol
	Properties           map[amqp.Symbol]interface{}
}

func (a *Attach) MarshalAMQP() interface{} {
	var source, target, unsettled, maxSize interface{}
	if a.Source != nil {
		source = a.Source
	}
	if a.Target != nil {
		target = a.Target
	}
	if len(a.Unsettled) > 0 {
		unsettled = a.Unsettled
	}
	if a.MaxMessageSize > 0 {
		maxSize = a.MaxMessageSize
	}
	var initial interface{}
	if a.Role == RoleSender {
		initial = a.InitialDeliveryCount
	}
	return described(codeAttach, amqp.List{
		a.Name,
		a.Handle,
		bool(a.Role),
		uint8(a.SenderSettleMode),
		uint8(a.ReceiverSettleMode),
		source,
		target,
		unsettled,
		boolValue(a.IncompleteUnsettled),
		initial,
		maxSize,
		symbols(a.OfferedCapabilities),
		symbols(a.DesiredCapabilities),
		symbolMap(a.Properties),
	})
}

func decodeAttach(f amqp.Fields) (*Attach, error) {
	source, err := amqp.SourceFromValue(f.Get(5))
	if err != nil {
		return nil, err
	}
	target, err := amqp.TargetFromValue(f.Get(6))
	if err != nil {
		return nil, err
	}
	return &Attach{
		Name:                 f.String(0),
		Handle:               f.Uint32(1),
		Role:                 Role(f.Bool(2)),
		SenderSettleMode:     SenderSettleMode(f.Uint32Or(3, uint32(SenderSettleModeMixed))),
		ReceiverSettleMode:   ReceiverSettleMode(f.Uint8(4)),
		Source:               source,
		Target:               target,
		Unsettled:            f.Map(7),
		IncompleteUnsettled:  f.Bool(8),
		InitialDeliveryCount: f.Uint32(9),
		MaxMessageSize:       f.Uint64(10),
		OfferedCapabilities:  f.Symbols(11),
		DesiredCapabilities:  f.Symbols(12),
		Properties:           f.SymbolMap(13),
	}, nil
}

// Flow updates session windows and, with a handle, link credit.
type Flow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     map[amqp.Symbol]interface{}
}

func (f *Flow) MarshalAMQP() interface{} {
	return described(codeFlow, amqp.List{
		uint32Value(f.NextIncomingID),
		f.IncomingWindow,
		f.NextOutgoingID,
		f.OutgoingWindow,
		uint32Value(f.Handle),
		uint32Value(f.DeliveryCount),
		uint32Value(f.LinkCredit),
		uint32Value(f.Available),
		boolValue(f.Drain),
		boolValue(f.Echo),
		symbolMap(f.Properties),
	})
}

func decodeFlow(f amqp.Fields) *Flow {
	return &Flow{
		NextIncomingID: f.Uint32Ptr(0),
		IncomingWindow: f.Uint32(1),
		NextOutgoingID: f.Uint32(2),
		OutgoingWindow: f.Uint32(3),
		Handle:         f.Uint32Ptr(4),
		DeliveryCount:  f.Uint32Ptr(5),
		LinkCredit:     f.Uint32Ptr(6),
		Available:      f.Uint32Ptr(7),
		Drain:          f.Bool(8),
		Echo:           f.Bool(9),
		Properties:     f.SymbolMap(10),
	}
}

// Transfer carries a message, or part of one, and its delivery state.
type Transfer struct {
	Handle             uint32
	DeliveryID         *uint32
	DeliveryTag        []byte
	MessageFormat      *uint32
	Settled            bool
	More               bool
	ReceiverSettleMode *ReceiverSettleMode
	State              amqp.DeliveryState
	Resume             bool
	Aborted            bool
	Batchable          bool

	// Payload follows the performative in the frame body.
	Payload []byte
}

func (t *Transfer) MarshalAMQP() interface{} {
	var tag, rcvMode interface{}
	if t.DeliveryTag != nil {
		tag = amqp.Binary(t.DeliveryTag)
	}
	if t.ReceiverSettleMode != nil {
		rcvMode = uint8(*t.ReceiverSettleMode)
	}
	return described(codeTransfer, amqp.List{
		t.Handle,
		uint32Value(t.DeliveryID),
		tag,
		uint32Value(t.MessageFormat),
		boolValue(t.Settled),
		boolValue(t.More),
		rcvMode,
		stateValue(t.State),
		boolValue(t.Resume),
		boolValue(t.Aborted),
		boolValue(t.Batchable),
	})
}

func (t *Transfer) String() string {
	id := "nil"
	if t.DeliveryID != nil {
		id = fmt.Sprint(*t.DeliveryID)
	}
	return fmt.Sprintf("Transfer{handle: %d, delivery-id: %s, tag: %x, settled: %v, more: %v, aborted: %v, state: %v, payload: %d bytes}",
		t.Handle, id, t.DeliveryTag, t.Settled, t.More, t.Aborted, t.State, len(t.Payload))
}

func decodeTransfer(f amqp.Fields) (*Transfer, error) {
	state, err := amqp.DeliveryStateFromValue(f.Get(7))
	if err != nil {
		return nil, err
	}
	t := &Transfer{
		Handle:        f.Uint32(0),
		DeliveryID:    f.Uint32Ptr(1),
		DeliveryTag:   f.Binary(2),
		MessageFormat: f.Uint32Ptr(3),
		Settled:       f.Bool(4),
		More:          f.Bool(5),
		State:         state,
		Resume:        f.Bool(8),
		Aborted:       f.Bool(9),
		Batchable:     f.Bool(10),
	}
	if f.Has(6) {
		m := ReceiverSettleMode(f.Uint8(6))
		t.ReceiverSettleMode = &m
	}
	return t, nil
}

// Disposition reports the state of a range of deliveries.
type Disposition struct {
	Role      Role
	First     uint32
	Last      *uint32
	Settled   bool
	State     amqp.DeliveryState
	Batchable bool
}

func (d *Disposition) MarshalAMQP() interface{} {
	return described(codeDisposition, amqp.List{
		bool(d.Role),
		d.First,
		uint32Value(d.Last),
		boolValue(d.Settled),
		stateValue(d.State),
		boolValue(d.Batchable),
	})
}

func decodeDisposition(f amqp.Fields) (*Disposition, error) {
	state, err := amqp.DeliveryStateFromValue(f.Get(4))
	if err != nil {
		return nil, err
	}
	return &Disposition{
		Role:      Role(f.Bool(0)),
		First:     f.Uint32(1),
		Last:      f.Uint32Ptr(2),
		Settled:   f.Bool(3),
		State:     state,
		Batchable: f.Bool(5),
	}, nil
}

// Detach detaches a link, closing it when Closed is set.
type Detach struct {
	Handle uint32
	Closed bool
	Error  *amqp.Error
}

func (d *Detach) MarshalAMQP() interface{} {
	return described(codeDetach, amqp.List{d.Handle, boolValue(d.Closed), errorValue(d.Error)})
}

// End ends a session.
type End struct{ Error *amqp.Error }

func (e *End) MarshalAMQP() interface{} {
	return described(codeEnd, amqp.List{errorValue(e.Error)})
}

// Close closes a connection.
type Close struct{ Error *amqp.Error }

func (c *Close) MarshalAMQP() interface{} {
	return described(codeClose, amqp.List{errorValue(c.Error)})
}

// SaslCode is the outcome of a SASL exchange.
type SaslCode uint8

const (
	SaslOk      SaslCode = 0
	SaslAuth    SaslCode = 1
	SaslSys     SaslCode = 2
	SaslSysPerm SaslCode = 3
	SaslSysTemp SaslCode = 4
)

func (c SaslCode) String() string {
	switch c {
	case SaslOk:
		return "ok"
	case SaslAuth:
		return "auth"
	case SaslSys:
		return "sys"
	case SaslSysPerm:
		return "sys-perm"
	case SaslSysTemp:
		return "sys-temp"
	}
	return fmt.Sprintf("sasl-code(%d)", uint8(c))
}

type SaslMechanisms struct{ Mechanisms []amqp.Symbol }

func (m *SaslMechanisms) MarshalAMQP() interface{} {
	return described(codeSaslMechanisms, amqp.List{m.Mechanisms})
}

type SaslInit struct {
	Mechanism       amqp.Symbol
	InitialResponse []byte
	Hostname        string
}

func (i *SaslInit) MarshalAMQP() interface{} {
	var resp, host interface{}
	if i.InitialResponse != nil {
		resp = amqp.Binary(i.InitialResponse)
	}
	if i.Hostname != "" {
		host = i.Hostname
	}
	return described(codeSaslInit, amqp.List{i.Mechanism, resp, host})
}

func (i *SaslInit) String() string {
	return fmt.Sprintf("SaslInit{mechanism: %s, hostname: %q}", i.Mechanism, i.Hostname)
}

type SaslChallenge struct{ Challenge []byte }

func (c *SaslChallenge) MarshalAMQP() interface{} {
	return described(codeSaslChallenge, amqp.List{amqp.Binary(c.Challenge)})
}

type SaslResponse struct{ Response []byte }

func (r *SaslResponse) MarshalAMQP() interface{} {
	return described(codeSaslResponse, amqp.List{amqp.Binary(r.Response)})
}

type SaslOutcome struct {
	Code           SaslCode
	AdditionalData []byte
}

func (o *SaslOutcome) MarshalAMQP() interface{} {
	var data interface{}
	if o.AdditionalData != nil {
		data = amqp.Binary(o.AdditionalData)
	}
	return described(codeSaslOutcome, amqp.List{uint8(o.Code), data})
}

// decodeBody decodes the performative at the start of a frame body. The
// rest of the body is returned as payload.
func decodeBody(body []byte) (interface{}, []byte, error) {
	v, n, err := amqp.Decode(body)
	if err != nil {
		return nil, nil, err
	}
	d, ok := v.(amqp.Described)
	if !ok {
		return nil, nil, errors.Errorf("frame body is not a performative: %#v", v)
	}
	code, ok := d.Descriptor.(uint64)
	if !ok {
		code = performativeCodes[fmt.Sprint(d.Descriptor)]
	}
	l, _ := d.Value.(amqp.List)
	f := amqp.Fields(l)
	payload := body[n:]
	switch code {
	case codeOpen:
		return decodeOpen(f), nil, nil
	case codeBegin:
		return decodeBegin(f), nil, nil
	case codeAttach:
		a, err := decodeAttach(f)
		return a, nil, err
	case codeFlow:
		return decodeFlow(f), nil, nil
	case codeTransfer:
		t, err := decodeTransfer(f)
		if t != nil {
			t.Payload = append([]byte(nil), payload...)
		}
		return t, nil, err
	case codeDisposition:
		d, err := decodeDisposition(f)
		return d, nil, err
	case codeDetach:
		e, err := amqp.ErrorFromValue(f.Get(2))
		return &Detach{Handle: f.Uint32(0), Closed: f.Bool(1), Error: e}, nil, err
	case codeEnd:
		e, err := amqp.ErrorFromValue(f.Get(0))
		return &End{Error: e}, nil, err
	case codeClose:
		e, err := amqp.ErrorFromValue(f.Get(0))
		return &Close{Error: e}, nil, err
	case codeSaslMechanisms:
		return &SaslMechanisms{Mechanisms: f.Symbols(0)}, nil, nil
	case codeSaslInit:
		return &SaslInit{Mechanism: f.Symbol(0), InitialResponse: f.Binary(1), Hostname: f.String(2)}, nil, nil
	case codeSaslChallenge:
		return &SaslChallenge{Challenge: f.Binary(0)}, nil, nil
	case codeSaslResponse:
		return &SaslResponse{Response: f.Binary(0)}, nil, nil
	case codeSaslOutcome:
		return &SaslOutcome{Code: SaslCode(f.Uint8(0)), AdditionalData: f.Binary(1)}, nil, nil
	}
	return nil, nil, errors.Errorf("unknown performative %v", d.Descriptor)
}

// frame is one decoded AMQP or SASL frame. A nil body is an empty frame.
type frame struct {
	frameType byte
	channel   uint16
	body      interface{}
}

// appendFrame encodes a frame holding body and payload onto buf.
func appendFrame(buf []byte, frameType byte, channel uint16, body interface{}, payload []byte) ([]byte, error) {
	start := len(buf)
	buf = append(buf, 0, 0, 0, 0, 2, frameType, 0, 0)
	binary.BigEndian.PutUint16(buf[start+6:], channel)
	if body != nil {
		var err error
		if buf, err = amqp.Marshal(body, buf); err != nil {
			return buf[:start], err
		}
	}
	buf = append(buf, payload...)
	binary.BigEndian.PutUint32(buf[start:], uint32(len(buf)-start))
	return buf, nil
}

// readFrame decodes the first frame in data. It returns n == 0 if data does
// not yet hold a complete frame. maxSize of 0 is unlimited.
func readFrame(data []byte, maxSize uint32) (f frame, n int, err error) {
	if len(data) < frameHeaderSize {
		return f, 0, nil
	}
	size := binary.BigEndian.Uint32(data)
	doff := uint32(data[4]) * 4
	if size < frameHeaderSize || doff < frameHeaderSize || doff > size {
		return f, 0, amqp.Errorf(amqp.ConnectionFramingError, "bad frame header: size %d, data offset %d", size, doff)
	}
	if maxSize > 0 && size > maxSize {
		return f, 0, amqp.Errorf(amqp.ConnectionFramingError, "frame size %d exceeds max-frame-size %d", size, maxSize)
	}
	if uint64(len(data)) < uint64(size) {
		return f, 0, nil
	}
	f.frameType = data[5]
	f.channel = binary.BigEndian.Uint16(data[6:])
	if body := data[doff:size]; len(body) > 0 {
		if f.body, _, err = decodeBody(body); err != nil {
			return f, 0, amqp.Errorf(amqp.DecodeError, "%v", err)
		}
	}
	return f, int(size), nil
}
