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
	"sync/atomic"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LinkState is the AMQP link state.
type LinkState int32

const (
	LinkStateDetached LinkState = iota
	LinkStateHalfAttachedAttachSent
	LinkStateHalfAttachedAttachReceived
	LinkStateAttached
	LinkStateDetachSent
	LinkStateDetachReceived
	LinkStateError
)

var linkStateNames = []string{
	"Detached", "HalfAttachedAttachSent", "HalfAttachedAttachReceived", "Attached",
	"DetachSent", "DetachReceived", "Error",
}

func (s LinkState) String() string {
	if s >= 0 && int(s) < len(linkStateNames) {
		return linkStateNames[s]
	}
	return fmt.Sprintf("LinkState(%d)", int32(s))
}

// LinkOptions configures a Link.
type LinkOptions struct {
	SenderSettleMode   SenderSettleMode
	ReceiverSettleMode ReceiverSettleMode
	// MaxMessageSize is the largest message accepted; 0 is unlimited.
	MaxMessageSize       uint64
	InitialDeliveryCount uint32
	// MaxLinkCredit is granted by a receiver on attach and re-granted when
	// half is used. 0 leaves credit to Flow.
	MaxLinkCredit       uint32
	OfferedCapabilities []amqp.Symbol
	DesiredCapabilities []amqp.Symbol
	Properties          map[amqp.Symbol]interface{}
}

// Delivery is a complete message received on a link.
type Delivery struct {
	ID  uint32
	Tag []byte
	// Settled is true if the sender settled on send.
	Settled bool
	Payload []byte
	Message amqp.Message
}

// LinkEvents receives link notifications. They are called with the
// connection locked: they must not call locking methods, but may use
// Connection.Defer.
type LinkEvents interface {
	OnLinkStateChanged(l *Link, newState, oldState LinkState)
	// OnTransferReceived is called once per complete message. A non-nil
	// result settles the delivery with that state; otherwise the receiver
	// must call SendDisposition.
	OnTransferReceived(l *Link, d *Delivery) amqp.DeliveryState
	// OnLinkFlow is called when the peer updates link flow state.
	OnLinkFlow(l *Link)
}

type nopLinkEvents struct{}

func (nopLinkEvents) OnLinkStateChanged(*Link, LinkState, LinkState)         {}
func (nopLinkEvents) OnTransferReceived(*Link, *Delivery) amqp.DeliveryState { return amqp.Released{} }
func (nopLinkEvents) OnLinkFlow(*Link)                                       {}

// LinkEndpoint is a reserved handle. Outgoing endpoints come from
// Session.CreateLinkEndpoint; incoming ones are offered to
// SessionEvents.OnLinkEndpoint.
type LinkEndpoint struct {
	s      *Session
	name   string
	role   Role
	handle uint32
	attach *Attach

	configured bool
	opts       LinkOptions
	events     LinkEvents
}

func (ep *LinkEndpoint) Name() string   { return ep.name }
func (ep *LinkEndpoint) Role() Role     { return ep.role }
func (ep *LinkEndpoint) Handle() uint32 { return ep.handle }

// RemoteAttach is the ATTACH of an incoming endpoint, nil otherwise.
func (ep *LinkEndpoint) RemoteAttach() *Attach { return ep.attach }

// Configure accepts an incoming endpoint. The link takes the source,
// target and settle modes of the peer's ATTACH.
func (ep *LinkEndpoint) Configure(opts LinkOptions, events LinkEvents) {
	ep.configured, ep.opts, ep.events = true, opts, events
}

type outgoingDelivery struct {
	payload   []byte
	settled   bool
	id        uint32
	done      func(amqp.DeliveryState, error)
	completed bool
}

func (d *outgoingDelivery) complete(state amqp.DeliveryState, err error) {
	if d.completed {
		return
	}
	d.completed = true
	if d.done != nil {
		d.done(state, err)
	}
}

type incomingDelivery struct {
	id      uint32
	tag     []byte
	settled bool
	payload []byte
}

// Link is one direction of message flow attached to a session. Once its
// session ends, operations on it return ErrInvalidHandle.
type Link struct {
	s      *Session
	name   string
	role   Role
	handle uint32
	source *amqp.Source
	target *amqp.Target
	opts   LinkOptions
	events LinkEvents
	log    *logrus.Entry

	remoteHandle uint32
	remoteAttach *Attach
	remoteError  *amqp.Error

	attachSent bool
	attachRcvd bool
	detachSent bool
	detachRcvd bool
	failed     bool
	removed    bool

	state    atomic.Int32
	reported LinkState
	err      ErrorHolder

	deliveryCount uint32
	linkCredit    uint32
	available     uint32
	drain         bool

	queue     []*outgoingDelivery
	unsettled map[uint32]*outgoingDelivery // Sent, by delivery-id.
	nextTag   uint64

	incoming *incomingDelivery
	received map[uint32]bool // Unsettled received deliveries.
}

func newLink(s *Session, name string, role Role, handle uint32, source *amqp.Source, target *amqp.Target, opts LinkOptions, events LinkEvents) *Link {
	if events == nil {
		events = nopLinkEvents{}
	}
	return &Link{
		s:             s,
		name:          name,
		role:          role,
		handle:        handle,
		source:        source,
		target:        target,
		opts:          opts,
		events:        events,
		log:           s.log.WithField("link", name),
		deliveryCount: opts.InitialDeliveryCount,
		unsettled:     make(map[uint32]*outgoingDelivery),
		received:      make(map[uint32]bool),
	}
}

func (l *Link) String() string { return fmt.Sprintf("%s/%s(%s)", l.s, l.name, l.role) }

func (l *Link) lock() error {
	l.s.c.mu.Lock()
	if err := l.valid(); err != nil {
		l.s.c.unlock()
		return err
	}
	return nil
}

func (l *Link) valid() error {
	if err := l.s.valid(); err != nil {
		return err
	}
	if l.removed {
		return l.closedError()
	}
	return nil
}

func (l *Link) closedError() error {
	if err := l.Error(); err != nil {
		return err
	}
	return ErrLinkDetached
}

func (l *Link) Name() string         { return l.name }
func (l *Link) Role() Role           { return l.role }
func (l *Link) Handle() uint32       { return l.handle }
func (l *Link) Session() *Session    { return l.s }
func (l *Link) Source() *amqp.Source { return l.source }
func (l *Link) Target() *amqp.Target { return l.target }

// State is the current link state. It does not lock and may be called from
// event handlers.
func (l *Link) State() LinkState { return LinkState(l.state.Load()) }

// Error returns the first error that detached the link.
func (l *Link) Error() error { return l.err.Get() }

func (l *Link) computeState() LinkState {
	switch {
	case l.failed:
		return LinkStateError
	case l.detachSent && l.detachRcvd:
		return LinkStateDetached
	case l.detachRcvd:
		return LinkStateDetachReceived
	case l.detachSent:
		return LinkStateDetachSent
	case l.attachSent && l.attachRcvd:
		return LinkStateAttached
	case l.attachSent:
		return LinkStateHalfAttachedAttachSent
	case l.attachRcvd:
		return LinkStateHalfAttachedAttachReceived
	}
	return LinkStateDetached
}

func (l *Link) checkState() {
	old, state := l.reported, l.computeState()
	if state == old {
		return
	}
	l.reported = state
	l.state.Store(int32(state))
	l.s.c.trace.event("link %s %s -> %s", l.name, old, state)
	l.events.OnLinkStateChanged(l, state, old)
}

// Attach sends ATTACH. Attaching again is a no-op.
func (l *Link) Attach() error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.s.c.unlock()
	if err := l.s.usable(); err != nil {
		return err
	}
	l.attach()
	return nil
}

func (l *Link) attach() {
	if l.attachSent {
		return
	}
	l.attachSent = true
	a := &Attach{
		Name:                l.name,
		Handle:              l.handle,
		Role:                l.role,
		SenderSettleMode:    l.opts.SenderSettleMode,
		ReceiverSettleMode:  l.opts.ReceiverSettleMode,
		Source:              l.source,
		Target:              l.target,
		MaxMessageSize:      l.opts.MaxMessageSize,
		OfferedCapabilities: l.opts.OfferedCapabilities,
		DesiredCapabilities: l.opts.DesiredCapabilities,
		Properties:          l.opts.Properties,
	}
	if l.role == RoleSender {
		a.InitialDeliveryCount = l.deliveryCount
	}
	l.s.sendAttach(a)
	if l.attachRcvd {
		l.attached()
	}
}

func (l *Link) handleAttach(a *Attach) {
	l.attachRcvd, l.remoteAttach, l.remoteHandle = true, a, a.Handle
	if l.role == RoleReceiver {
		l.deliveryCount = a.InitialDeliveryCount
	}
	if !l.attachSent { // Incoming, answered by attach().
		return
	}
	if a.SenderSettleMode != l.opts.SenderSettleMode || a.ReceiverSettleMode != l.opts.ReceiverSettleMode {
		l.detach(true, &amqp.Error{
			Name: amqp.NotImplemented,
			Description: fmt.Sprintf("requested settle modes %s/%s, peer has %s/%s",
				l.opts.SenderSettleMode, l.opts.ReceiverSettleMode, a.SenderSettleMode, a.ReceiverSettleMode),
		})
		return
	}
	if (l.role == RoleSender && a.Target == nil) || (l.role == RoleReceiver && a.Source == nil) {
		return // Refused, the peer follows with DETACH.
	}
	l.attached()
}

// attached starts flow once both ATTACH frames are exchanged.
func (l *Link) attached() {
	if l.detachSent {
		return
	}
	if l.role == RoleReceiver && l.opts.MaxLinkCredit > 0 {
		l.linkCredit = l.opts.MaxLinkCredit
		l.s.sendFlow(l)
	}
	l.flush()
}

// Detach sends DETACH, closing the link if closed is true, with an error
// if condition is not empty. Detaching again is a no-op.
func (l *Link) Detach(closed bool, condition, description string) error {
	l.s.c.mu.Lock()
	defer l.s.c.unlock()
	if l.detachSent || l.removed {
		return nil
	}
	if err := l.s.valid(); err != nil {
		return err
	}
	var e *amqp.Error
	if condition != "" {
		e = &amqp.Error{Name: condition, Description: description}
	}
	l.detach(closed, e)
	return nil
}

func (l *Link) detach(closed bool, e *amqp.Error) {
	if l.detachSent || l.removed {
		return
	}
	if !l.attachSent {
		l.teardown(ErrLinkDetached)
		return
	}
	l.detachSent = true
	if e != nil {
		l.err.Set(*e)
		protocolErrors.WithLabelValues(e.Name).Inc()
	}
	l.s.sendDetach(&Detach{Handle: l.handle, Closed: closed, Error: e})
	l.failDeliveries(l.closedError())
	if l.detachRcvd {
		l.finish()
	}
}

func (l *Link) handleDetach(d *Detach) {
	l.detachRcvd, l.remoteError = true, d.Error
	if d.Error != nil {
		l.log.Infof("peer detached link: %v", *d.Error)
		l.err.Set(*d.Error)
	}
	l.failDeliveries(l.closedError())
	if !l.detachSent {
		l.detach(d.Closed, nil)
		return
	}
	l.finish()
}

func (l *Link) failDeliveries(err error) {
	queue := l.queue
	l.queue = nil
	for _, d := range queue {
		d.complete(nil, err)
	}
	for id, d := range l.unsettled {
		delete(l.unsettled, id)
		d.complete(nil, err)
	}
	l.incoming = nil
}

func (l *Link) finish() {
	l.removed = true
	l.checkState()
	l.s.removeLink(l)
}

// teardown drops the link without a DETACH exchange.
func (l *Link) teardown(err error) {
	if l.removed {
		return
	}
	l.err.Set(err)
	if l.attachSent && !(l.detachSent && l.detachRcvd) {
		l.failed = true
	}
	l.failDeliveries(err)
	l.finish()
}

// Transfer encodes msg and sends it. See TransferPayload.
func (l *Link) Transfer(msg amqp.Message, settled bool, onDisposition func(amqp.DeliveryState, error)) error {
	payload, err := msg.Encode(nil)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	return l.TransferPayload(payload, settled, onDisposition)
}

// TransferPayload sends an encoded message when link credit allows.
// onDisposition, if not nil, is called once on the polling goroutine with
// the connection locked: for a settled transfer when it is written, for an
// unsettled one when the peer settles it.
func (l *Link) TransferPayload(payload []byte, settled bool, onDisposition func(amqp.DeliveryState, error)) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.s.c.unlock()
	if l.role != RoleSender {
		return errors.Wrap(ErrIllegalState, "transfer on a receiving link")
	}
	if l.detachSent || l.detachRcvd {
		return l.closedError()
	}
	switch l.opts.SenderSettleMode {
	case SenderSettleModeSettled:
		settled = true
	case SenderSettleModeUnsettled:
		settled = false
	}
	if l.remoteAttach != nil && l.remoteAttach.MaxMessageSize > 0 && uint64(len(payload)) > l.remoteAttach.MaxMessageSize {
		return amqp.Errorf(amqp.LinkMessageSizeExceeded, "message of %d bytes exceeds the peer's max-message-size %d",
			len(payload), l.remoteAttach.MaxMessageSize)
	}
	l.queue = append(l.queue, &outgoingDelivery{payload: payload, settled: settled, done: onDisposition})
	l.flush()
	return nil
}

// flush sends queued deliveries while there is credit.
func (l *Link) flush() {
	if l.role != RoleSender || !l.attachRcvd || l.detachSent || l.detachRcvd {
		return
	}
	for l.linkCredit > 0 && len(l.queue) > 0 {
		d := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.send(d)
	}
	if l.drain && len(l.queue) == 0 && l.linkCredit > 0 {
		l.deliveryCount += l.linkCredit
		l.linkCredit = 0
		l.s.sendFlow(l)
	}
}

func (l *Link) send(d *outgoingDelivery) {
	s := l.s
	d.id = s.nextDeliveryID
	s.nextDeliveryID++
	l.deliveryCount++
	l.linkCredit--
	tag := make([]byte, 8)
	binary.BigEndian.PutUint64(tag, l.nextTag)
	l.nextTag++
	if !d.settled {
		l.unsettled[d.id] = d
		s.unsettledOut[d.id] = l
	}
	id, format := d.id, uint32(0)
	first := &Transfer{Handle: l.handle, DeliveryID: &id, DeliveryTag: tag, MessageFormat: &format, Settled: d.settled}
	frames, err := splitTransfer(first, d.payload, int64(s.c.effectiveMaxFrameSize()))
	if err != nil {
		if !d.settled {
			delete(l.unsettled, d.id)
			delete(s.unsettledOut, d.id)
		}
		d.complete(nil, err)
		return
	}
	s.sendTransfer(frames, func(err error) {
		switch {
		case err != nil:
			if !d.settled {
				delete(l.unsettled, d.id)
			}
			d.complete(nil, err)
		case d.settled:
			d.complete(nil, nil)
		}
	})
}

// splitTransfer spreads payload over transfer frames of at most max bytes.
// The first frame carries the fields of t, the last one keeps t's more flag.
func splitTransfer(t *Transfer, payload []byte, max int64) ([]*Transfer, error) {
	first := *t
	first.Payload = payload
	overhead := frameOverhead(&first)
	if int64(len(payload))+int64(overhead) <= max {
		return []*Transfer{&first}, nil
	}
	room := max - int64(overhead)
	if room <= 0 {
		return nil, amqp.Errorf(amqp.ConnectionFramingError, "transfer fields exceed max-frame-size %d", max)
	}
	var frames []*Transfer
	for rest := payload; len(rest) > 0; {
		n := len(rest)
		if int64(n) > room {
			n = int(room)
		}
		f := &Transfer{Handle: t.Handle}
		if len(frames) == 0 {
			f = &first
		}
		f.Payload, f.More = rest[:n], n < len(rest) || t.More
		frames = append(frames, f)
		rest = rest[n:]
	}
	return frames, nil
}

// frameOverhead is the encoded size of a transfer frame without payload,
// with room for the more flag.
func frameOverhead(t *Transfer) int {
	more := *t
	more.More = true
	buf, err := appendFrame(nil, frameTypeAMQP, 0, &more, nil)
	if err != nil {
		panic(err)
	}
	return len(buf)
}

func (l *Link) handleFlow(f *Flow) {
	if f.LinkCredit == nil {
		l.events.OnLinkFlow(l)
		return
	}
	if l.role == RoleSender {
		count := l.opts.InitialDeliveryCount
		if f.DeliveryCount != nil {
			count = *f.DeliveryCount
		}
		credit := int64(count) + int64(*f.LinkCredit) - int64(l.deliveryCount)
		if credit < 0 {
			credit = 0
		}
		l.linkCredit, l.drain = uint32(credit), f.Drain
		l.events.OnLinkFlow(l)
		l.flush()
		return
	}
	if f.DeliveryCount != nil {
		l.deliveryCount = *f.DeliveryCount
	}
	l.linkCredit = *f.LinkCredit
	if f.Available != nil {
		l.available = *f.Available
	}
	if l.linkCredit == 0 {
		l.drain = false
	}
	l.events.OnLinkFlow(l)
}

// fillFlow adds the link flow state to f.
func (l *Link) fillFlow(f *Flow) {
	handle, count, credit := l.handle, l.deliveryCount, l.linkCredit
	f.Handle, f.DeliveryCount, f.LinkCredit = &handle, &count, &credit
	f.Drain = l.drain
	if l.role == RoleSender {
		available := uint32(len(l.queue))
		f.Available = &available
	}
}

// Flow sets the credit of a receiving link and sends it to the peer. With
// drain the sender uses up or gives back all credit.
func (l *Link) Flow(credit uint32, drain bool) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.s.c.unlock()
	if l.role != RoleReceiver {
		return errors.Wrap(ErrIllegalState, "flow on a sending link")
	}
	if l.detachSent || l.detachRcvd {
		return l.closedError()
	}
	l.linkCredit, l.drain = credit, drain
	l.s.sendFlow(l)
	return nil
}

func (l *Link) handleTransfer(t *Transfer) {
	if l.role != RoleReceiver {
		l.detach(true, &amqp.Error{Name: amqp.NotAllowed, Description: "transfer on a sending link"})
		return
	}
	if l.detachSent {
		return
	}
	if l.incoming == nil {
		if t.DeliveryID == nil {
			l.detach(true, &amqp.Error{Name: amqp.NotAllowed, Description: "first transfer frame has no delivery-id"})
			return
		}
		if l.linkCredit == 0 {
			l.detach(true, &amqp.Error{Name: amqp.LinkTransferLimit, Description: "transfer without link credit"})
			return
		}
		// Credit is consumed by the first frame of a delivery.
		l.incoming = &incomingDelivery{id: *t.DeliveryID, tag: t.DeliveryTag}
		l.deliveryCount++
		l.linkCredit--
	} else if t.DeliveryID != nil && *t.DeliveryID != l.incoming.id {
		l.detach(true, &amqp.Error{
			Name:        amqp.NotAllowed,
			Description: fmt.Sprintf("delivery-id %d changed to %d before the delivery completed", l.incoming.id, *t.DeliveryID),
		})
		return
	}
	in := l.incoming
	if t.Settled {
		in.settled = true
	}
	if t.Aborted {
		l.incoming = nil
		l.regrant()
		return
	}
	in.payload = append(in.payload, t.Payload...)
	if max := l.opts.MaxMessageSize; max > 0 && uint64(len(in.payload)) > max {
		l.detach(true, &amqp.Error{
			Name:        amqp.LinkMessageSizeExceeded,
			Description: fmt.Sprintf("received message larger than max-message-size %d", max),
		})
		return
	}
	if t.More {
		return
	}
	l.incoming = nil
	if !in.settled {
		l.received[in.id] = true
		l.s.unsettledIn[in.id] = l
	}
	var state amqp.DeliveryState
	msg, err := amqp.DecodeMessage(in.payload)
	if err != nil {
		l.log.Warnf("discarding delivery %d: %v", in.id, err)
		state = amqp.Rejected{Error: &amqp.Error{Name: amqp.DecodeError, Description: err.Error()}}
	} else {
		state = l.events.OnTransferReceived(l, &Delivery{ID: in.id, Tag: in.tag, Settled: in.settled, Payload: in.payload, Message: msg})
	}
	if state != nil && !in.settled && !l.detachSent {
		l.settle(in.id, state)
	}
	l.regrant()
}

// regrant restores credit to MaxLinkCredit once half of it is used.
func (l *Link) regrant() {
	if max := l.opts.MaxLinkCredit; max > 0 && !l.detachSent && !l.detachRcvd && !l.drain && l.linkCredit <= max/2 {
		l.linkCredit = max
		l.s.sendFlow(l)
	}
}

// settle sends the receiver's outcome. In ReceiverSettleModeFirst the
// delivery is settled at once; in second mode after the sender settles.
func (l *Link) settle(id uint32, state amqp.DeliveryState) {
	settled := l.opts.ReceiverSettleMode == ReceiverSettleModeFirst
	l.s.sendDisposition(&Disposition{Role: RoleReceiver, First: id, Settled: settled, State: state})
	if settled {
		delete(l.received, id)
		delete(l.s.unsettledIn, id)
	}
}

// SendDisposition sends the state of a delivery received on this link.
func (l *Link) SendDisposition(deliveryID uint32, settled bool, state amqp.DeliveryState) error {
	if err := l.lock(); err != nil {
		return err
	}
	defer l.s.c.unlock()
	if l.role != RoleReceiver {
		return errors.Wrap(ErrIllegalState, "disposition of a delivery on a sending link")
	}
	if !l.received[deliveryID] {
		return errors.Errorf("delivery %d is not an unsettled delivery of link %s", deliveryID, l.name)
	}
	if l.detachSent || l.detachRcvd {
		return l.closedError()
	}
	l.s.sendDisposition(&Disposition{Role: RoleReceiver, First: deliveryID, Settled: settled, State: state})
	if settled {
		delete(l.received, deliveryID)
		delete(l.s.unsettledIn, deliveryID)
	}
	return nil
}

// handleDisposition applies the peer's DISPOSITION for one delivery.
func (l *Link) handleDisposition(id uint32, settled bool, state amqp.DeliveryState) {
	if l.role == RoleReceiver {
		if settled { // Sender settled, in second mode this completes the delivery.
			delete(l.received, id)
		}
		return
	}
	d := l.unsettled[id]
	if d == nil {
		return
	}
	if !settled {
		if state == nil || !amqp.IsOutcome(state) {
			return
		}
		// Receiver settles second: the sender settles first.
		l.s.sendDisposition(&Disposition{Role: RoleSender, First: id, Settled: true, State: state})
		delete(l.s.unsettledOut, id)
	}
	delete(l.unsettled, id)
	d.complete(state, nil)
}

func (l *Link) locked(f func()) {
	l.s.c.mu.Lock()
	defer l.s.c.mu.Unlock()
	f()
}

// Credit is the current link credit.
func (l *Link) Credit() (n uint32) {
	l.locked(func() { n = l.linkCredit })
	return
}

// DeliveryCount is the link delivery-count.
func (l *Link) DeliveryCount() (n uint32) {
	l.locked(func() { n = l.deliveryCount })
	return
}

// Queued is the number of transfers waiting for credit.
func (l *Link) Queued() (n int) {
	l.locked(func() { n = len(l.queue) })
	return
}

// Unsettled is the number of sent deliveries awaiting settlement.
func (l *Link) Unsettled() (n int) {
	l.locked(func() { n = len(l.unsettled) })
	return
}

// Available is the sender's last reported count of waiting messages.
func (l *Link) Available() (n uint32) {
	l.locked(func() { n = l.available })
	return
}

func (l *Link) Options() (o LinkOptions) {
	l.locked(func() { o = l.opts })
	return
}

func (l *Link) SenderSettleMode() SenderSettleMode     { return l.Options().SenderSettleMode }
func (l *Link) ReceiverSettleMode() ReceiverSettleMode { return l.Options().ReceiverSettleMode }
func (l *Link) MaxMessageSize() uint64                 { return l.Options().MaxMessageSize }

// RemoteMaxMessageSize is the peer's max-message-size, 0 for unlimited or
// before its ATTACH.
func (l *Link) RemoteMaxMessageSize() (n uint64) {
	l.locked(func() {
		if l.remoteAttach != nil {
			n = l.remoteAttach.MaxMessageSize
		}
	})
	return
}

// RemoteSource is the source in the peer's ATTACH.
func (l *Link) RemoteSource() (src *amqp.Source) {
	l.locked(func() {
		if l.remoteAttach != nil {
			src = l.remoteAttach.Source
		}
	})
	return
}

// RemoteTarget is the target in the peer's ATTACH.
func (l *Link) RemoteTarget() (tgt *amqp.Target) {
	l.locked(func() {
		if l.remoteAttach != nil {
			tgt = l.remoteAttach.Target
		}
	})
	return
}

// RemoteError is the error in the peer's DETACH, if any.
func (l *Link) RemoteError() (e *amqp.Error) {
	l.locked(func() { e = l.remoteError })
	return
}
