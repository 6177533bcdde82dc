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
	"fmt"
	"math"
	"sync/atomic"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SessionState is the AMQP session state.
type SessionState int32

const (
	SessionStateUnmapped SessionState = iota
	SessionStateBeginSent
	SessionStateBeginReceived
	SessionStateMapped
	SessionStateEndSent
	SessionStateEndReceived
	SessionStateDiscarding
	SessionStateError
)

var sessionStateNames = []string{
	"Unmapped", "BeginSent", "BeginReceived", "Mapped", "EndSent", "EndReceived", "Discarding", "Error",
}

func (s SessionState) String() string {
	if s >= 0 && int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return fmt.Sprintf("SessionState(%d)", int32(s))
}

// Session window defaults.
const (
	DefaultIncomingWindow = 1
	DefaultOutgoingWindow = 1
)

// SessionOptions configures a Session. Zero fields take defaults.
type SessionOptions struct {
	IncomingWindow      uint32
	OutgoingWindow      uint32
	HandleMax           uint32
	OfferedCapabilities []amqp.Symbol
	DesiredCapabilities []amqp.Symbol
	Properties          map[amqp.Symbol]interface{}
}

// SessionEvents receives session notifications. They are called with the
// connection locked: they must not call locking methods, but may use
// Connection.Defer.
type SessionEvents interface {
	OnSessionStateChanged(s *Session, newState, oldState SessionState)
	// OnLinkEndpoint is called when the peer attaches a link. Return true
	// after ep.Configure to accept it.
	OnLinkEndpoint(s *Session, ep *LinkEndpoint) bool
}

type nopSessionEvents struct{}

func (nopSessionEvents) OnSessionStateChanged(*Session, SessionState, SessionState) {}
func (nopSessionEvents) OnLinkEndpoint(*Session, *LinkEndpoint) bool                { return false }

type outgoingFrame struct {
	transfer *Transfer
	onSent   func(error)
}

// Session multiplexes links over one channel and applies session flow
// control. Its parent connection must outlive it; once the session ends,
// operations on it return ErrInvalidHandle.
type Session struct {
	c       *Connection
	channel uint16
	events  SessionEvents
	opts    SessionOptions
	log     *logrus.Entry

	remoteChannel uint16
	remoteMapped  bool
	remoteBegin   *Begin
	remoteError   *amqp.Error

	incomingWindow uint32
	outgoingWindow uint32
	handleMax      uint32

	beginSent bool
	beginRcvd bool
	endSent   bool
	endRcvd   bool
	endErr    bool
	failed    bool
	removed   bool

	state    atomic.Int32
	reported SessionState
	err      ErrorHolder

	nextIncomingID       uint32
	incomingAvail        uint32
	incomingConsumed     uint32
	nextOutgoingID       uint32
	remoteIncomingWindow uint32
	remoteOutgoingWindow uint32
	nextDeliveryID       uint32
	flowDue              bool
	pending              []outgoingFrame // Waiting for remote incoming window.

	handles       *bitmap
	linkEndpoints map[uint32]*LinkEndpoint
	links         map[uint32]*Link // By local handle.
	remoteLinks   map[uint32]*Link // By remote handle.
	unsettledOut  map[uint32]*Link // Deliveries we sent, by delivery-id.
	unsettledIn   map[uint32]*Link // Deliveries we received, by delivery-id.
}

func newSession(c *Connection, channel uint16, opts SessionOptions, events SessionEvents) *Session {
	if events == nil {
		events = nopSessionEvents{}
	}
	s := &Session{
		c:              c,
		channel:        channel,
		events:         events,
		opts:           opts,
		log:            c.log.WithField("channel", channel),
		incomingWindow: opts.IncomingWindow,
		outgoingWindow: opts.OutgoingWindow,
		handleMax:      opts.HandleMax,
		linkEndpoints:  make(map[uint32]*LinkEndpoint),
		links:          make(map[uint32]*Link),
		remoteLinks:    make(map[uint32]*Link),
		unsettledOut:   make(map[uint32]*Link),
		unsettledIn:    make(map[uint32]*Link),
	}
	if s.incomingWindow == 0 {
		s.incomingWindow = DefaultIncomingWindow
	}
	if s.outgoingWindow == 0 {
		s.outgoingWindow = DefaultOutgoingWindow
	}
	if s.handleMax == 0 {
		s.handleMax = math.MaxUint32
	}
	s.handles = newBitmap(s.handleMax)
	return s
}

func (s *Session) String() string { return fmt.Sprintf("%s/%d", s.c, s.channel) }

func (s *Session) lock() error {
	s.c.mu.Lock()
	if err := s.valid(); err != nil {
		s.c.unlock()
		return err
	}
	return nil
}

// valid checks the session is still registered. Must be called with the
// connection locked.
func (s *Session) valid() error {
	if s.c.destroyed || s.c.sessions[s.channel] != s {
		return ErrInvalidHandle
	}
	return nil
}

// Connection returns the parent connection.
func (s *Session) Connection() *Connection { return s.c }

// Channel is the local channel number.
func (s *Session) Channel() uint16 { return s.channel }

// State is the current session state. It does not lock and may be called
// from event handlers.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Error returns the first error that ended the session.
func (s *Session) Error() error { return s.err.Get() }

func (s *Session) computeState() SessionState {
	switch {
	case s.failed:
		return SessionStateError
	case s.endSent && s.endRcvd:
		return SessionStateUnmapped
	case s.endRcvd:
		return SessionStateEndReceived
	case s.endSent:
		if s.endErr {
			return SessionStateDiscarding
		}
		return SessionStateEndSent
	case s.beginSent && s.beginRcvd:
		return SessionStateMapped
	case s.beginSent:
		return SessionStateBeginSent
	case s.beginRcvd:
		return SessionStateBeginReceived
	}
	return SessionStateUnmapped
}

func (s *Session) checkState() {
	for _, l := range s.links {
		l.checkState()
	}
	old, state := s.reported, s.computeState()
	if state == old {
		return
	}
	s.reported = state
	s.state.Store(int32(state))
	s.c.trace.event("session %d %s -> %s", s.channel, old, state)
	s.events.OnSessionStateChanged(s, state, old)
}

// Begin sends BEGIN with the configured windows and handle-max.
func (s *Session) Begin() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.c.unlock()
	if s.beginSent {
		return errors.Wrap(ErrIllegalState, "session already begun")
	}
	s.begin()
	return nil
}

func (s *Session) begin() {
	if s.beginSent {
		return
	}
	s.beginSent = true
	s.incomingAvail = s.incomingWindow
	b := &Begin{
		NextOutgoingID:      s.nextOutgoingID,
		IncomingWindow:      s.incomingWindow,
		OutgoingWindow:      s.outgoingWindow,
		HandleMax:           s.handleMax,
		OfferedCapabilities: s.opts.OfferedCapabilities,
		DesiredCapabilities: s.opts.DesiredCapabilities,
		Properties:          s.opts.Properties,
	}
	if s.remoteMapped {
		ch := s.remoteChannel
		b.RemoteChannel = &ch
	}
	s.c.writeFrame(s.channel, b, nil, nil)
}

// End sends END, with an error if condition is not empty. Ending again is
// a no-op.
func (s *Session) End(condition, description string) error {
	s.c.mu.Lock()
	defer s.c.unlock()
	if s.endSent || s.removed {
		return nil
	}
	if err := s.valid(); err != nil {
		return err
	}
	var e *amqp.Error
	if condition != "" {
		e = &amqp.Error{Name: condition, Description: description}
	}
	s.end(e)
	return nil
}

func (s *Session) end(e *amqp.Error) {
	if s.endSent || s.removed {
		return
	}
	if !s.beginSent { // Never mapped, nothing to tell the peer.
		s.teardown(ErrInvalidHandle)
		return
	}
	s.endSent, s.endErr = true, e != nil
	if e != nil {
		s.err.Set(*e)
	}
	s.c.writeFrame(s.channel, &End{Error: e}, nil, nil)
	s.detachAll(s.closedError())
	if s.endRcvd {
		s.finish()
	}
}

func (s *Session) closedError() error {
	if err := s.Error(); err != nil {
		return err
	}
	return errors.Wrap(ErrLinkDetached, "session ended")
}

// detachAll drops every link, as END implicitly detaches them.
func (s *Session) detachAll(err error) {
	for _, l := range s.links {
		l.teardown(err)
	}
	for h := range s.linkEndpoints {
		delete(s.linkEndpoints, h)
	}
	pending := s.pending
	s.pending = nil
	for _, p := range pending {
		if p.onSent != nil {
			p.onSent(err)
		}
	}
}

// finish unregisters a session whose END exchange is complete.
func (s *Session) finish() {
	s.removed = true
	s.checkState()
	s.c.removeSession(s)
}

// teardown fails the session without an END exchange.
func (s *Session) teardown(err error) {
	if s.removed {
		return
	}
	s.err.Set(err)
	if !(s.endSent && s.endRcvd) && s.beginSent {
		s.failed = true
	}
	s.detachAll(err)
	s.finish()
}

// sessionError ends the session after a peer violation.
func (s *Session) sessionError(e amqp.Error) {
	s.log.Warnf("session error: %v", e)
	protocolErrors.WithLabelValues(e.Name).Inc()
	s.end(&e)
}

func (s *Session) handleBegin(remoteChannel uint16, b *Begin) {
	s.remoteChannel, s.remoteMapped = remoteChannel, true
	s.beginRcvd, s.remoteBegin = true, b
	s.nextIncomingID = b.NextOutgoingID
	s.remoteIncomingWindow = b.IncomingWindow
	s.remoteOutgoingWindow = b.OutgoingWindow
	if b.HandleMax < s.handles.max {
		s.handles.max = b.HandleMax
	}
}

func (s *Session) handleFrame(body interface{}) {
	if s.removed {
		return
	}
	if s.endSent && !s.endRcvd { // Discard until the peer's END.
		if e, ok := body.(*End); ok {
			s.handleEnd(e)
		}
		return
	}
	switch b := body.(type) {
	case *Attach:
		s.handleAttach(b)
	case *Flow:
		s.handleFlow(b)
	case *Transfer:
		s.handleTransfer(b)
	case *Disposition:
		s.handleDisposition(b)
	case *Detach:
		l := s.remoteLinks[b.Handle]
		if l == nil {
			s.sessionError(amqp.Errorf(amqp.SessionUnattachedHandle, "DETACH for unattached handle %d", b.Handle))
			return
		}
		l.handleDetach(b)
	case *End:
		s.handleEnd(b)
	default:
		s.c.protocolError(amqp.Errorf(amqp.ConnectionFramingError, "unexpected %s on channel %d", performativeName(b), s.remoteChannel))
	}
}

func (s *Session) handleEnd(e *End) {
	s.endRcvd, s.remoteError = true, e.Error
	if e.Error != nil {
		s.log.Infof("peer ended session: %v", *e.Error)
		s.err.Set(*e.Error)
	}
	if !s.endSent {
		s.end(nil)
		return
	}
	s.finish()
}

func (s *Session) handleFlow(f *Flow) {
	var next int64
	if f.NextIncomingID != nil {
		next = int64(*f.NextIncomingID)
	}
	window := next + int64(f.IncomingWindow) - int64(s.nextOutgoingID)
	if window < 0 {
		window = 0
	}
	s.remoteIncomingWindow = uint32(window)
	s.remoteOutgoingWindow = f.OutgoingWindow
	var l *Link
	if f.Handle != nil {
		if l = s.remoteLinks[*f.Handle]; l == nil {
			s.sessionError(amqp.Errorf(amqp.SessionUnattachedHandle, "FLOW for unattached handle %d", *f.Handle))
			return
		}
		l.handleFlow(f)
	}
	if f.Echo {
		s.sendFlow(l)
	}
	s.drainPending()
}

func (s *Session) handleTransfer(t *Transfer) {
	if s.incomingAvail == 0 {
		s.sessionError(amqp.Errorf(amqp.SessionWindowViolation, "transfer received with incoming window exhausted"))
		return
	}
	s.incomingAvail--
	s.nextIncomingID++
	if s.remoteOutgoingWindow > 0 {
		s.remoteOutgoingWindow--
	}
	l := s.remoteLinks[t.Handle]
	if l == nil {
		s.sessionError(amqp.Errorf(amqp.SessionUnattachedHandle, "TRANSFER for unattached handle %d", t.Handle))
		return
	}
	l.handleTransfer(t)
	s.incomingConsumed++
	threshold := s.incomingWindow / 2
	if threshold == 0 {
		threshold = 1
	}
	if s.incomingConsumed >= threshold {
		s.flowDue = true
	}
}

// replenish restores the incoming window after transfers have been
// consumed. It is called once per batch of received frames.
func (s *Session) replenish() {
	if !s.flowDue {
		return
	}
	s.flowDue = false
	if s.endSent || s.removed {
		return
	}
	s.incomingAvail, s.incomingConsumed = s.incomingWindow, 0
	s.sendFlow(nil)
}

func (s *Session) handleDisposition(d *Disposition) {
	unsettled := s.unsettledIn
	if d.Role == RoleReceiver { // The peer received deliveries we sent.
		unsettled = s.unsettledOut
	}
	last := d.First
	if d.Last != nil {
		last = *d.Last
	}
	if last < d.First {
		return
	}
	settle := func(id uint32, l *Link) {
		if d.Settled {
			delete(unsettled, id)
		}
		l.handleDisposition(id, d.Settled, d.State)
	}
	if uint64(last-d.First) < uint64(len(unsettled)) {
		for id := d.First; ; id++ {
			if l := unsettled[id]; l != nil {
				settle(id, l)
			}
			if id == last {
				break
			}
		}
		return
	}
	for id, l := range unsettled {
		if id >= d.First && id <= last {
			settle(id, l)
		}
	}
}

func (s *Session) handleAttach(a *Attach) {
	if s.remoteLinks[a.Handle] != nil {
		s.sessionError(amqp.Errorf(amqp.SessionHandleInUse, "ATTACH on handle %d already in use", a.Handle))
		return
	}
	role := !a.Role
	for _, l := range s.links {
		if l.name == a.Name && l.role == role && l.attachSent && !l.attachRcvd {
			s.remoteLinks[a.Handle] = l
			l.handleAttach(a)
			return
		}
	}
	ep, err := s.createLinkEndpoint(a.Name, role)
	if err != nil {
		s.sessionError(amqp.Errorf(amqp.ResourceLimitExceeded, "cannot attach link %q: %v", a.Name, err))
		return
	}
	ep.attach = a
	accepted := s.events.OnLinkEndpoint(s, ep) && ep.configured
	var reject *amqp.Error
	switch {
	case role == RoleReceiver && a.Target == nil:
		reject = &amqp.Error{Name: amqp.NotFound, Description: "attach has no target"}
	case role == RoleSender && a.Source == nil:
		reject = &amqp.Error{Name: amqp.NotFound, Description: "attach has no source"}
	case !accepted:
		reject = &amqp.Error{Name: amqp.NotAllowed, Description: "link rejected"}
	}
	source, target := a.Source, a.Target
	if reject != nil { // Refused: reply with a null local terminus.
		ep.opts, ep.events = LinkOptions{}, nil
		if role == RoleReceiver {
			target = nil
		} else {
			source = nil
		}
	}
	ep.opts.SenderSettleMode, ep.opts.ReceiverSettleMode = a.SenderSettleMode, a.ReceiverSettleMode
	l := s.startLinkEndpoint(ep, source, target, ep.opts, ep.events)
	s.remoteLinks[a.Handle] = l
	l.handleAttach(a)
	l.attach()
	if reject != nil {
		l.detach(true, reject)
	}
}

// CreateLinkEndpoint reserves a handle for a link called name. Link names
// are unique per role within a session.
func (s *Session) CreateLinkEndpoint(name string, role Role) (*LinkEndpoint, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.c.unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.createLinkEndpoint(name, role)
}

func (s *Session) usable() error {
	if s.endSent || s.endRcvd || s.failed {
		return s.closedError()
	}
	return nil
}

func (s *Session) createLinkEndpoint(name string, role Role) (*LinkEndpoint, error) {
	for _, l := range s.links {
		if l.name == name && l.role == role {
			return nil, errors.Errorf("link name %q already in use", name)
		}
	}
	for _, ep := range s.linkEndpoints {
		if ep.name == name && ep.role == role {
			return nil, errors.Errorf("link name %q already in use", name)
		}
	}
	h, ok := s.handles.next()
	if !ok {
		return nil, amqp.Errorf(amqp.ResourceLimitExceeded, "no free handle, handle-max is %d", s.handles.max)
	}
	ep := &LinkEndpoint{s: s, name: name, role: role, handle: h}
	s.linkEndpoints[h] = ep
	return ep, nil
}

// StartLinkEndpoint creates the link for an endpoint from
// CreateLinkEndpoint. The link is not attached.
func (s *Session) StartLinkEndpoint(ep *LinkEndpoint, source *amqp.Source, target *amqp.Target, opts LinkOptions, events LinkEvents) (*Link, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.c.unlock()
	if ep.s != s || s.linkEndpoints[ep.handle] != ep {
		return nil, ErrInvalidHandle
	}
	return s.startLinkEndpoint(ep, source, target, opts, events), nil
}

func (s *Session) startLinkEndpoint(ep *LinkEndpoint, source *amqp.Source, target *amqp.Target, opts LinkOptions, events LinkEvents) *Link {
	delete(s.linkEndpoints, ep.handle)
	l := newLink(s, ep.name, ep.role, ep.handle, source, target, opts, events)
	s.links[ep.handle] = l
	return l
}

// DestroyLinkEndpoint releases an endpoint that was not started.
func (s *Session) DestroyLinkEndpoint(ep *LinkEndpoint) {
	s.c.mu.Lock()
	defer s.c.unlock()
	if s.linkEndpoints[ep.handle] == ep {
		delete(s.linkEndpoints, ep.handle)
		s.handles.remove(ep.handle)
	}
}

// CreateLink creates a link on the lowest free handle. It is not attached.
func (s *Session) CreateLink(name string, role Role, source *amqp.Source, target *amqp.Target, opts LinkOptions, events LinkEvents) (*Link, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.c.unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	ep, err := s.createLinkEndpoint(name, role)
	if err != nil {
		return nil, err
	}
	return s.startLinkEndpoint(ep, source, target, opts, events), nil
}

func (s *Session) removeLink(l *Link) {
	if s.links[l.handle] == l {
		delete(s.links, l.handle)
		s.handles.remove(l.handle)
	}
	if l.attachRcvd && s.remoteLinks[l.remoteHandle] == l {
		delete(s.remoteLinks, l.remoteHandle)
	}
	for id, x := range s.unsettledOut {
		if x == l {
			delete(s.unsettledOut, id)
		}
	}
	for id, x := range s.unsettledIn {
		if x == l {
			delete(s.unsettledIn, id)
		}
	}
}

// sendTransfer queues transfer frames behind the remote incoming window.
// onSent is called when the last frame is written.
func (s *Session) sendTransfer(frames []*Transfer, onSent func(error)) {
	for i, t := range frames {
		f := outgoingFrame{transfer: t}
		if i == len(frames)-1 {
			f.onSent = onSent
		}
		s.pending = append(s.pending, f)
	}
	s.drainPending()
}

func (s *Session) drainPending() {
	for len(s.pending) > 0 && s.remoteIncomingWindow > 0 && !s.endSent {
		p := s.pending[0]
		s.pending[0] = outgoingFrame{}
		s.pending = s.pending[1:]
		s.nextOutgoingID++
		s.remoteIncomingWindow--
		s.c.writeFrame(s.channel, p.transfer, p.transfer.Payload, p.onSent)
	}
}

// sendFlow sends the session flow state, with l's link state if l is not
// nil.
func (s *Session) sendFlow(l *Link) {
	f := &Flow{
		IncomingWindow: s.incomingAvail,
		NextOutgoingID: s.nextOutgoingID,
		OutgoingWindow: s.outgoingWindow,
	}
	if s.beginRcvd {
		next := s.nextIncomingID
		f.NextIncomingID = &next
	}
	if l != nil {
		l.fillFlow(f)
	}
	s.c.writeFrame(s.channel, f, nil, nil)
}

func (s *Session) sendAttach(a *Attach)           { s.c.writeFrame(s.channel, a, nil, nil) }
func (s *Session) sendDetach(d *Detach)           { s.c.writeFrame(s.channel, d, nil, nil) }
func (s *Session) sendDisposition(d *Disposition) { s.c.writeFrame(s.channel, d, nil, nil) }

// SendFlow sends a FLOW with the session state and, if l is not nil, its
// link state.
func (s *Session) SendFlow(l *Link) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.c.unlock()
	if l != nil && l.s != s {
		return ErrInvalidHandle
	}
	s.sendFlow(l)
	return nil
}

// SendAttach sends ATTACH for l.
func (s *Session) SendAttach(l *Link) error {
	if l.s != s {
		return ErrInvalidHandle
	}
	return l.Attach()
}

// SendDetach sends DETACH for l.
func (s *Session) SendDetach(l *Link, closed bool, condition, description string) error {
	if l.s != s {
		return ErrInvalidHandle
	}
	return l.Detach(closed, condition, description)
}

// SendDisposition sends a DISPOSITION for a delivery received on l.
func (s *Session) SendDisposition(l *Link, deliveryID uint32, settled bool, state amqp.DeliveryState) error {
	if l.s != s {
		return ErrInvalidHandle
	}
	return l.SendDisposition(deliveryID, settled, state)
}

// SetIncomingWindow sets the incoming window. After Begin it replenishes
// the window and tells the peer.
func (s *Session) SetIncomingWindow(w uint32) error {
	if w == 0 {
		return errors.New("incoming window must be positive")
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.c.unlock()
	s.incomingWindow = w
	if s.beginSent && !s.endSent {
		s.incomingAvail, s.incomingConsumed = w, 0
		s.sendFlow(nil)
	}
	return nil
}

// SetOutgoingWindow sets the outgoing window. It fails after Begin.
func (s *Session) SetOutgoingWindow(w uint32) error {
	return s.setBeforeBegin(func() { s.outgoingWindow = w })
}

// SetHandleMax sets the highest link handle. It fails after Begin.
func (s *Session) SetHandleMax(h uint32) error {
	return s.setBeforeBegin(func() {
		s.handleMax = h
		s.handles.max = h
	})
}

func (s *Session) setBeforeBegin(f func()) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.c.unlock()
	if s.beginSent {
		return errors.Wrap(ErrIllegalState, "session already begun")
	}
	f()
	return nil
}

func (s *Session) locked(f func()) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	f()
}

func (s *Session) IncomingWindow() (w uint32) {
	s.locked(func() { w = s.incomingWindow })
	return
}

func (s *Session) OutgoingWindow() (w uint32) {
	s.locked(func() { w = s.outgoingWindow })
	return
}

func (s *Session) HandleMax() (h uint32) {
	s.locked(func() { h = s.handleMax })
	return
}

// RemoteChannel is the peer's channel, valid once its BEGIN arrived.
func (s *Session) RemoteChannel() (ch uint16, ok bool) {
	s.locked(func() { ch, ok = s.remoteChannel, s.remoteMapped })
	return
}

// RemoteIncomingWindow is how many more transfer frames the peer accepts.
func (s *Session) RemoteIncomingWindow() (w uint32) {
	s.locked(func() { w = s.remoteIncomingWindow })
	return
}

// RemoteError is the error in the peer's END, if any.
func (s *Session) RemoteError() (e *amqp.Error) {
	s.locked(func() { e = s.remoteError })
	return
}
