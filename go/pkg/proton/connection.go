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
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/credential"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ConnectionState is the AMQP connection state.
type ConnectionState int32

const (
	ConnectionStateStart ConnectionState = iota
	ConnectionStateHeaderReceived
	ConnectionStateHeaderSent
	ConnectionStateHeaderExchanged
	ConnectionStateOpenPipe
	ConnectionStateOcPipe
	ConnectionStateOpenReceived
	ConnectionStateOpenSent
	ConnectionStateClosePipe
	ConnectionStateOpened
	ConnectionStateCloseReceived
	ConnectionStateCloseSent
	ConnectionStateDiscarding
	ConnectionStateEnd
	ConnectionStateError
)

var connectionStateNames = []string{
	"Start", "HeaderReceived", "HeaderSent", "HeaderExchanged", "OpenPipe", "OcPipe",
	"OpenReceived", "OpenSent", "ClosePipe", "Opened", "CloseReceived", "CloseSent",
	"Discarding", "End", "Error",
}

func (s ConnectionState) String() string {
	if s >= 0 && int(s) < len(connectionStateNames) {
		return connectionStateNames[s]
	}
	return fmt.Sprintf("ConnectionState(%d)", int32(s))
}

// Defaults for ConnectionOptions.
const (
	DefaultIdleTimeout         = 60 * time.Second
	DefaultEmptyFrameSendRatio = 0.5
)

// ConnectionOptions configures a Connection. Zero fields take defaults.
type ConnectionOptions struct {
	// ContainerID defaults to a random UUID.
	ContainerID string
	// HostName is sent in OPEN, defaulting to the connection host.
	HostName string
	// Port defaults to amqp.TLSPort.
	Port uint16
	// IdleTimeout is advertised to the peer. Negative disables it.
	IdleTimeout     time.Duration
	MaxFrameSize    uint32
	MaxChannelCount uint16
	Properties      map[amqp.Symbol]interface{}
	// AuthenticationScopes are passed to the credential for JWT tokens.
	AuthenticationScopes []string
	// SaslCredentials selects the SASL mechanism. When nil and a credential
	// is set, ANONYMOUS is used.
	SaslCredentials SaslMechanism
	// UseWebSockets connects to WebSocketURL(host).
	UseWebSockets bool
	// EnableTrace logs frames at Info level.
	EnableTrace bool
	// EmptyFrameSendRatio is the fraction of the remote idle-timeout after
	// which an empty frame is sent.
	EmptyFrameSendRatio float64
	TransportFactory    TransportFactory
}

func (o *ConnectionOptions) setDefaults() error {
	if o.ContainerID == "" {
		o.ContainerID = amqp.NewUUID().String()
	}
	if o.Port == 0 {
		o.Port = amqp.TLSPort
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = math.MaxUint32
	}
	if o.MaxFrameSize < MinMaxFrameSize {
		return errors.Errorf("max frame size %d is below the minimum %d", o.MaxFrameSize, MinMaxFrameSize)
	}
	if o.MaxChannelCount == 0 {
		o.MaxChannelCount = math.MaxUint16
	}
	if o.EmptyFrameSendRatio <= 0 || o.EmptyFrameSendRatio > 1 {
		o.EmptyFrameSendRatio = DefaultEmptyFrameSendRatio
	}
	return nil
}

// ConnectionEvents receives connection notifications. They are called on a
// polling goroutine after the connection lock is released, so they may
// call any Connection, Session or Link method.
type ConnectionEvents interface {
	OnConnectionStateChanged(c *Connection, newState, oldState ConnectionState)
	OnIOError(c *Connection)
	// OnNewEndpoint is called, with the connection locked, when the peer
	// begins a session. Return true after ep.Configure to accept it.
	OnNewEndpoint(c *Connection, ep *Endpoint) bool
}

type nopConnectionEvents struct{}

func (nopConnectionEvents) OnConnectionStateChanged(*Connection, ConnectionState, ConnectionState) {}
func (nopConnectionEvents) OnIOError(*Connection)                                                  {}
func (nopConnectionEvents) OnNewEndpoint(*Connection, *Endpoint) bool                              { return false }

// Endpoint is a reserved channel. Outgoing endpoints come from
// CreateEndpoint; incoming ones are offered to OnNewEndpoint.
type Endpoint struct {
	c             *Connection
	channel       uint16
	remoteChannel uint16
	begin         *Begin
	session       *Session

	configured bool
	opts       SessionOptions
	events     SessionEvents
}

// Channel is the local channel of the endpoint.
func (ep *Endpoint) Channel() uint16 { return ep.channel }

// Incoming is true for an endpoint begun by the peer.
func (ep *Endpoint) Incoming() bool { return ep.begin != nil }

// RemoteChannel is the peer's channel of an incoming endpoint.
func (ep *Endpoint) RemoteChannel() uint16 { return ep.remoteChannel }

// RemoteBegin is the BEGIN that opened an incoming endpoint.
func (ep *Endpoint) RemoteBegin() *Begin { return ep.begin }

// Configure accepts an incoming endpoint with the given options.
func (ep *Endpoint) Configure(opts SessionOptions, events SessionEvents) {
	ep.configured, ep.opts, ep.events = true, opts, events
}

// Connection is an AMQP connection over a Transport. It is driven by Poll,
// either from the GlobalState goroutine or from callers blocked in a
// poll-driven wait.
type Connection struct {
	mu         sync.Mutex
	opts       ConnectionOptions
	host       string
	credential credential.TokenCredential
	events     ConnectionEvents
	transport  Transport
	log        *logrus.Entry
	trace      tracer

	started    bool // Open or Listen was called
	listening  bool
	destroyed  bool
	headerSent bool
	headerRcvd bool
	openSent   bool
	openRcvd   bool
	closeSent  bool
	closeRcvd  bool
	closeErr   bool // The CLOSE we sent carried an error.
	failed     bool
	closedIdle bool // Closed before anything was sent.

	state       atomic.Int32
	reported    ConnectionState
	err         ErrorHolder
	remoteOpen  *Open
	remoteError *amqp.Error

	input    []byte
	early    []earlyFrame // Written before OPEN was sent.
	lastSend time.Time
	lastRecv time.Time

	channels       *bitmap
	endpoints      map[uint16]*Endpoint
	sessions       map[uint16]*Session // By local channel.
	remoteSessions map[uint16]*Session // By remote channel.

	dmu         sync.Mutex
	deferred    []func()
	dispatching bool
}

// NewConnection creates a client connection to host. The transport is
// created by Open. cred may be nil.
func NewConnection(host string, cred credential.TokenCredential, opts ConnectionOptions, events ConnectionEvents) (*Connection, error) {
	if host == "" {
		return nil, errors.New("connection host must not be empty")
	}
	if opts.HostName == "" {
		opts.HostName = host
	}
	c, err := newConnection(opts, events)
	if err != nil {
		return nil, err
	}
	c.host, c.credential = host, cred
	return c, nil
}

// NewConnectionFromTransport creates a connection over t, for Listen on
// accepted sockets or for Open over a prepared transport.
func NewConnectionFromTransport(t Transport, opts ConnectionOptions, events ConnectionEvents) (*Connection, error) {
	c, err := newConnection(opts, events)
	if err != nil {
		return nil, err
	}
	c.host, c.transport = opts.HostName, t
	return c, nil
}

func newConnection(opts ConnectionOptions, events ConnectionEvents) (*Connection, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	if events == nil {
		events = nopConnectionEvents{}
	}
	c := &Connection{
		opts:           opts,
		events:         events,
		channels:       newBitmap(uint32(opts.MaxChannelCount)),
		endpoints:      make(map[uint16]*Endpoint),
		sessions:       make(map[uint16]*Session),
		remoteSessions: make(map[uint16]*Session),
	}
	c.log = log.WithField("container", opts.ContainerID)
	c.trace = tracer{entry: c.log, enabled: opts.EnableTrace}
	return c, nil
}

func (c *Connection) String() string { return fmt.Sprintf("%s@%s", c.opts.ContainerID, c.host) }

// unlock releases c.mu after reporting state changes, then runs deferred
// callbacks.
func (c *Connection) unlock() {
	c.checkState()
	c.mu.Unlock()
	c.dispatch()
}

// Defer runs f on a polling goroutine after the connection lock is
// released. Session and link events use it to call locking methods.
func (c *Connection) Defer(f func()) {
	c.dmu.Lock()
	c.deferred = append(c.deferred, f)
	c.dmu.Unlock()
}

// dispatch runs deferred callbacks. Only one goroutine dispatches at a time.
func (c *Connection) dispatch() {
	c.dmu.Lock()
	if c.dispatching {
		c.dmu.Unlock()
		return
	}
	c.dispatching = true
	for len(c.deferred) > 0 {
		fns := c.deferred
		c.deferred = nil
		c.dmu.Unlock()
		for _, f := range fns {
			f()
		}
		c.dmu.Lock()
	}
	c.dispatching = false
	c.dmu.Unlock()
}

func (c *Connection) computeState() ConnectionState {
	switch {
	case c.failed:
		return ConnectionStateError
	case c.closedIdle, c.closeSent && c.closeRcvd:
		return ConnectionStateEnd
	case c.closeRcvd:
		return ConnectionStateCloseReceived
	case c.closeSent && c.openRcvd:
		if c.closeErr {
			return ConnectionStateDiscarding
		}
		return ConnectionStateCloseSent
	case c.openSent && c.openRcvd:
		return ConnectionStateOpened
	case c.openRcvd:
		return ConnectionStateOpenReceived
	case c.openSent && !c.headerRcvd:
		if c.closeSent {
			return ConnectionStateOcPipe
		}
		return ConnectionStateOpenPipe
	case c.openSent:
		if c.closeSent {
			return ConnectionStateClosePipe
		}
		return ConnectionStateOpenSent
	case c.headerSent && c.headerRcvd:
		return ConnectionStateHeaderExchanged
	case c.headerSent:
		return ConnectionStateHeaderSent
	case c.headerRcvd:
		return ConnectionStateHeaderReceived
	}
	return ConnectionStateStart
}

// checkState reports connection, session and link state changes. Must be
// called with c.mu held.
func (c *Connection) checkState() {
	for _, s := range c.sessions {
		s.checkState()
	}
	old, state := c.reported, c.computeState()
	if state == old {
		return
	}
	c.reported = state
	c.state.Store(int32(state))
	c.trace.event("connection %s -> %s", old, state)
	if state == ConnectionStateOpened {
		connectionsOpened.Inc()
	}
	c.Defer(func() { c.events.OnConnectionStateChanged(c, state, old) })
}

// State is the current connection state. It does not lock and may be
// called from event handlers.
func (c *Connection) State() ConnectionState { return ConnectionState(c.state.Load()) }

// Error returns the first error that affected the connection.
func (c *Connection) Error() error { return c.err.Get() }

// Open starts the client handshake: it opens the transport, then sends the
// protocol header and OPEN. It does not wait for the peer's OPEN; see
// WaitOpened.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()
	if c.started {
		return errors.Wrap(ErrIllegalState, "connection already opened")
	}
	if c.transport == nil {
		t, err := c.newTransport()
		if err != nil {
			return err
		}
		c.transport = t
	}
	return c.start(ctx, false)
}

// Listen waits for a client on the transport: the peer's header and OPEN
// are answered with ours.
func (c *Connection) Listen() error {
	c.mu.Lock()
	defer c.unlock()
	if c.started {
		return errors.Wrap(ErrIllegalState, "connection already opened")
	}
	if c.transport == nil {
		return errors.Wrap(ErrIllegalState, "listening connection has no transport")
	}
	return c.start(context.Background(), true)
}

func (c *Connection) newTransport() (Transport, error) {
	var t Transport
	var err error
	switch {
	case c.opts.TransportFactory != nil:
		t, err = c.opts.TransportFactory(c.host, c.opts.Port)
	case c.opts.UseWebSockets:
		t = NewWebSocketTransport(WebSocketURL(c.host), nil)
	default:
		t, err = DefaultTransportFactory(c.host, c.opts.Port)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create transport for %s:%d", c.host, c.opts.Port)
	}
	mechanism := c.opts.SaslCredentials
	if mechanism == nil && c.credential != nil {
		mechanism = SaslAnonymous()
	}
	if mechanism != nil {
		t = NewSaslClientTransport(t, mechanism, c.opts.HostName)
	}
	return t, nil
}

func (c *Connection) start(ctx context.Context, listen bool) error {
	c.started, c.listening = true, listen
	c.transport.SetEventHandler(&connectionTransportEvents{c})
	if err := c.transport.Open(ctx); err != nil {
		return errors.Wrap(err, "open transport")
	}
	GlobalStateInstance().AddPollable(c)
	connectionsOpen.Inc()
	now := time.Now()
	c.lastSend, c.lastRecv = now, now
	return nil
}

// WaitOpened polls until the peer's OPEN has been received.
func (c *Connection) WaitOpened(ctx context.Context) error {
	return c.WaitFor(ctx, func() (bool, error) {
		switch c.State() {
		case ConnectionStateOpened:
			return true, nil
		case ConnectionStateError, ConnectionStateEnd, ConnectionStateCloseReceived, ConnectionStateDiscarding:
			return true, c.closedError()
		}
		return false, nil
	})
}

// WaitClosed polls until the close handshake is finished or the connection
// failed.
func (c *Connection) WaitClosed(ctx context.Context) error {
	return c.WaitFor(ctx, func() (bool, error) {
		switch c.State() {
		case ConnectionStateEnd:
			return true, nil
		case ConnectionStateError:
			return true, c.Error()
		}
		return false, nil
	})
}

// WaitFor polls c until cond returns true or ctx is done. cond is called
// without the connection lock.
func (c *Connection) WaitFor(ctx context.Context, cond func() (bool, error)) error {
	var err error
	werr := pollUntil(ctx, nil, func() bool {
		var done bool
		done, err = cond()
		return done
	}, c)
	if werr != nil {
		return ContextError(werr)
	}
	return err
}

func (c *Connection) closedError() error {
	if err := c.Error(); err != nil {
		return err
	}
	return ErrConnectionClosed
}

// Ready is signalled when the transport has events for Poll.
func (c *Connection) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	return c.transport.Ready()
}

// Poll processes transport events and deadlines. Frames are handled under
// the connection lock; ConnectionEvents run after it is released.
func (c *Connection) Poll() {
	c.mu.Lock()
	defer c.unlock()
	if c.transport == nil || c.destroyed {
		return
	}
	c.transport.Poll()
	c.handleDeadlines(time.Now())
}

// HandleDeadlines sends a keep-alive frame when the peer's idle-timeout
// requires one, and fails the connection when the peer has been silent
// longer than our idle-timeout.
func (c *Connection) HandleDeadlines() {
	c.mu.Lock()
	defer c.unlock()
	c.handleDeadlines(time.Now())
}

func (c *Connection) handleDeadlines(now time.Time) {
	if !c.headerSent || c.failed || c.closedIdle {
		return
	}
	if c.remoteOpen != nil && c.remoteOpen.IdleTimeout > 0 && !c.closeSent {
		interval := time.Duration(float64(c.remoteOpen.IdleTimeout) * c.opts.EmptyFrameSendRatio)
		if now.Sub(c.lastSend) >= interval {
			c.writeFrame(0, nil, nil, nil)
		}
	}
	if c.opts.IdleTimeout > 0 && c.openSent && !c.closeRcvd && now.Sub(c.lastRecv) > c.opts.IdleTimeout {
		err := amqp.Errorf(amqp.ResourceLimitExceeded, "no frames received for %v", c.opts.IdleTimeout)
		c.log.Warn(err)
		c.sendClose(&err)
		c.fail(err)
	}
}

// Close sends CLOSE, with an error if condition is not empty. A CLOSE from
// the peer is answered as it arrives, so Close after it, or a second Close,
// is a no-op.
func (c *Connection) Close(condition, description string, info map[amqp.Symbol]interface{}) error {
	c.mu.Lock()
	defer c.unlock()
	if c.closeSent || c.closedIdle || c.failed {
		return nil
	}
	var e *amqp.Error
	if condition != "" {
		e = &amqp.Error{Name: condition, Description: description, Info: info}
	}
	if !c.headerSent {
		c.closedIdle = true
		c.teardown(ErrConnectionClosed)
		return nil
	}
	c.sendClose(e)
	return nil
}

func (c *Connection) sendClose(e *amqp.Error) {
	if c.closeSent {
		return
	}
	if !c.openSent { // CLOSE must follow OPEN.
		c.sendOpen()
	}
	c.closeSent, c.closeErr = true, e != nil
	c.writeFrame(0, &Close{Error: e}, nil, nil)
	if e != nil {
		c.err.Set(*e)
	}
	c.teardown(c.closedError())
}

// Destroy releases the connection. All sessions must have ended.
func (c *Connection) Destroy() {
	c.mu.Lock()
	defer c.unlock()
	if len(c.sessions) > 0 {
		panic(fmt.Sprintf("proton: destroying connection %s with %d sessions", c, len(c.sessions)))
	}
	if c.destroyed {
		return
	}
	c.destroyed = true
	if c.started {
		GlobalStateInstance().RemovePollable(c)
		connectionsOpen.Dec()
	}
	if c.transport != nil {
		if err := c.transport.Close(nil); err != nil {
			c.log.Debugf("close transport: %v", err)
		}
	}
}

// fail puts the connection in the error state and fails every session.
func (c *Connection) fail(err error) {
	if c.failed {
		return
	}
	c.err.Set(err)
	c.failed = true
	if e := condition(err); e != nil {
		protocolErrors.WithLabelValues(e.Name).Inc()
	} else {
		protocolErrors.WithLabelValues(amqp.ProtonIo).Inc()
	}
	c.teardown(err)
}

// protocolError closes the connection with err after a peer violation.
func (c *Connection) protocolError(err amqp.Error) {
	c.log.Warnf("protocol error: %v", err)
	protocolErrors.WithLabelValues(err.Name).Inc()
	c.err.Set(err)
	c.sendClose(&err)
}

func (c *Connection) teardown(err error) {
	early := c.early
	c.early = nil
	for _, f := range early {
		if f.onSent != nil {
			f.onSent(err)
		}
	}
	for _, s := range c.sessions {
		s.teardown(err)
	}
	for ch := range c.endpoints {
		delete(c.endpoints, ch)
		c.channels.remove(uint32(ch))
	}
}

type earlyFrame struct {
	channel uint16
	body    interface{}
	payload []byte
	onSent  func(error)
}

// EncodeFrame sends performative and payload on channel. A TRANSFER whose
// payload does not fit the negotiated max-frame-size is split over several
// frames, any other oversized frame is a framing error.
func (c *Connection) EncodeFrame(channel uint16, performative interface{}, payload []byte) error {
	c.mu.Lock()
	defer c.unlock()
	if c.failed || c.destroyed || c.closeSent {
		return c.closedError()
	}
	buf, err := appendFrame(nil, frameTypeAMQP, channel, performative, payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s", performativeName(performative))
	}
	max := c.effectiveMaxFrameSize()
	if uint64(len(buf)) <= uint64(max) {
		c.writeFrame(channel, performative, payload, nil)
		return nil
	}
	t, ok := performative.(*Transfer)
	if !ok {
		return amqp.Errorf(amqp.ConnectionFramingError, "%s frame of %d bytes exceeds max-frame-size %d", performativeName(performative), len(buf), max)
	}
	frames, err := splitTransfer(t, payload, int64(max))
	if err != nil {
		return err
	}
	for _, f := range frames {
		c.writeFrame(channel, f, f.Payload, nil)
	}
	return nil
}

func (c *Connection) writeFrame(channel uint16, body interface{}, payload []byte, onSent func(error)) {
	if c.failed || c.destroyed || c.closedIdle {
		if onSent != nil {
			onSent(c.closedError())
		}
		return
	}
	if !c.openSent {
		c.early = append(c.early, earlyFrame{channel, body, payload, onSent})
		return
	}
	buf, err := appendFrame(nil, frameTypeAMQP, channel, body, payload)
	if err != nil {
		// Only a programming error produces an unencodable performative.
		panic(errors.Wrapf(err, "encode %s", performativeName(body)))
	}
	c.trace.frame("->", channel, body)
	framesSent.WithLabelValues(performativeName(body)).Inc()
	var done func(TransportSendResult)
	if onSent != nil {
		done = func(r TransportSendResult) {
			if r == TransportSendOk {
				onSent(nil)
			} else {
				onSent(amqp.Errorf(amqp.ProtonIo, "send failed: %s", r))
			}
		}
	}
	if err := c.transport.Send(buf, done); err != nil {
		if onSent != nil {
			onSent(err)
		}
		c.fail(err)
		return
	}
	c.lastSend = time.Now()
}

func (c *Connection) sendHeader() {
	if c.headerSent {
		return
	}
	c.headerSent = true
	c.trace.frame("->", 0, "AMQP header")
	if err := c.transport.Send(append([]byte(nil), amqpHeader...), nil); err != nil {
		c.fail(err)
	}
	c.lastSend = time.Now()
}

func (c *Connection) sendOpen() {
	if c.openSent {
		return
	}
	c.sendHeader()
	c.openSent = true
	idle := c.opts.IdleTimeout
	if idle < 0 {
		idle = 0
	}
	c.writeFrame(0, &Open{
		ContainerID:  c.opts.ContainerID,
		Hostname:     c.opts.HostName,
		MaxFrameSize: c.opts.MaxFrameSize,
		ChannelMax:   c.opts.MaxChannelCount,
		IdleTimeout:  idle,
		Properties:   c.opts.Properties,
	}, nil, nil)
	early := c.early
	c.early = nil
	for _, f := range early {
		c.writeFrame(f.channel, f.body, f.payload, f.onSent)
	}
}

// connectionTransportEvents keeps the TransportEvents methods off the
// Connection API. They run inside Transport.Poll with c.mu held.
type connectionTransportEvents struct{ c *Connection }

func (h *connectionTransportEvents) OnOpenComplete(result TransportOpenResult, err error) {
	c := h.c
	if result != TransportOpenOk {
		if err == nil {
			err = errors.Errorf("transport open %s", result)
		}
		c.log.Warnf("transport open failed: %v", err)
		if e := condition(err); e != nil {
			c.fail(*e)
		} else {
			c.fail(amqp.Errorf(amqp.ProtonIo, "%v", err))
		}
		c.Defer(func() { c.events.OnIOError(c) })
		return
	}
	c.lastRecv = time.Now()
	if !c.listening && !c.closedIdle {
		c.sendOpen()
	}
}

func (h *connectionTransportEvents) OnIOError(err error) {
	c := h.c
	if c.failed || (c.closeSent && c.closeRcvd) {
		return
	}
	c.log.Warnf("transport error: %v", err)
	c.fail(amqp.Errorf(amqp.ProtonIo, "%v", err))
	c.Defer(func() { c.events.OnIOError(c) })
}

func (h *connectionTransportEvents) OnBytesReceived(data []byte) {
	c := h.c
	c.lastRecv = time.Now()
	if c.failed {
		return
	}
	c.input = append(c.input, data...)
	if !c.headerRcvd {
		if len(c.input) < len(amqpHeader) {
			return
		}
		if hdr := c.input[:len(amqpHeader)]; string(hdr) != string(amqpHeader) {
			c.fail(amqp.Errorf(amqp.ConnectionFramingError, "bad protocol header %q", hdr))
			return
		}
		c.trace.frame("<-", 0, "AMQP header")
		c.headerRcvd = true
		c.input = c.input[len(amqpHeader):]
		if c.listening {
			c.sendHeader()
		}
	}
	for !c.failed {
		f, n, err := readFrame(c.input, c.opts.MaxFrameSize)
		if err != nil {
			if e := condition(err); e != nil {
				c.protocolError(*e)
			}
			c.fail(err)
			return
		}
		if n == 0 {
			break
		}
		c.input = c.input[n:]
		c.handleFrame(f)
	}
	for _, s := range c.sessions {
		s.replenish()
	}
	if len(c.input) == 0 {
		c.input = nil // Release the backing array.
	}
}

func (c *Connection) handleFrame(f frame) {
	c.trace.frame("<-", f.channel, f.body)
	framesReceived.WithLabelValues(performativeName(f.body)).Inc()
	if f.frameType != frameTypeAMQP {
		c.protocolError(amqp.Errorf(amqp.ConnectionFramingError, "unexpected frame type %d", f.frameType))
		return
	}
	switch b := f.body.(type) {
	case nil: // Keep-alive.
	case *Open:
		if c.openRcvd {
			c.protocolError(amqp.Errorf(amqp.IllegalState, "duplicate OPEN"))
			return
		}
		c.openRcvd, c.remoteOpen = true, b
		if b.ChannelMax < c.opts.MaxChannelCount {
			c.channels.max = uint32(b.ChannelMax)
		}
		if c.listening {
			c.sendOpen()
		}
	case *Close:
		c.closeRcvd, c.remoteError = true, b.Error
		if b.Error != nil {
			c.log.Infof("peer closed connection: %v", *b.Error)
			c.err.Set(*b.Error)
		}
		if !c.closeSent {
			c.sendClose(nil) // Answer the peer, the connection ends.
			return
		}
		c.teardown(c.closedError())
	case *Begin:
		c.handleBegin(f.channel, b)
	default:
		s := c.remoteSessions[f.channel]
		if s == nil {
			c.protocolError(amqp.Errorf(amqp.ConnectionFramingError, "%s on unmapped channel %d", performativeName(b), f.channel))
			return
		}
		s.handleFrame(b)
	}
}

func (c *Connection) handleBegin(channel uint16, b *Begin) {
	if _, ok := c.remoteSessions[channel]; ok {
		c.protocolError(amqp.Errorf(amqp.IllegalState, "BEGIN on channel %d already in use", channel))
		return
	}
	if b.RemoteChannel != nil { // Reply to our BEGIN.
		s := c.sessions[*b.RemoteChannel]
		if s == nil || !s.beginSent || s.beginRcvd {
			c.protocolError(amqp.Errorf(amqp.IllegalState, "BEGIN for unknown channel %d", *b.RemoteChannel))
			return
		}
		c.remoteSessions[channel] = s
		s.handleBegin(channel, b)
		return
	}
	ep, err := c.createEndpoint()
	if err != nil {
		c.protocolError(amqp.Errorf(amqp.ResourceLimitExceeded, "%v", err))
		return
	}
	ep.remoteChannel, ep.begin = channel, b
	accepted := c.events.OnNewEndpoint(c, ep) && ep.configured
	if !accepted {
		ep.opts, ep.events = SessionOptions{}, nil
	}
	s := c.startEndpoint(ep, ep.opts, ep.events)
	c.remoteSessions[channel] = s
	s.handleBegin(channel, b)
	s.begin()
	if !accepted {
		s.end(&amqp.Error{Name: amqp.NotAllowed, Description: "session rejected"})
	}
}

// CreateEndpoint reserves the lowest free channel for a new session.
func (c *Connection) CreateEndpoint() (*Endpoint, error) {
	c.mu.Lock()
	defer c.unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}
	return c.createEndpoint()
}

func (c *Connection) createEndpoint() (*Endpoint, error) {
	ch, ok := c.channels.next()
	if !ok {
		return nil, amqp.Errorf(amqp.ResourceLimitExceeded, "no free channel, channel-max is %d", c.channels.max)
	}
	ep := &Endpoint{c: c, channel: uint16(ch)}
	c.endpoints[ep.channel] = ep
	return ep, nil
}

// StartEndpoint creates the session for an endpoint from CreateEndpoint.
// The session is not begun.
func (c *Connection) StartEndpoint(ep *Endpoint, opts SessionOptions, events SessionEvents) (*Session, error) {
	c.mu.Lock()
	defer c.unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}
	if ep.c != c || c.endpoints[ep.channel] != ep {
		return nil, ErrInvalidHandle
	}
	return c.startEndpoint(ep, opts, events), nil
}

func (c *Connection) startEndpoint(ep *Endpoint, opts SessionOptions, events SessionEvents) *Session {
	delete(c.endpoints, ep.channel)
	s := newSession(c, ep.channel, opts, events)
	ep.session = s
	c.sessions[ep.channel] = s
	return s
}

// DestroyEndpoint releases an endpoint that was not started.
func (c *Connection) DestroyEndpoint(ep *Endpoint) {
	c.mu.Lock()
	defer c.unlock()
	if c.endpoints[ep.channel] == ep {
		delete(c.endpoints, ep.channel)
		c.channels.remove(uint32(ep.channel))
	}
}

// CreateSession creates a session on the lowest free channel.
func (c *Connection) CreateSession(opts SessionOptions, events SessionEvents) (*Session, error) {
	c.mu.Lock()
	defer c.unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}
	ep, err := c.createEndpoint()
	if err != nil {
		return nil, err
	}
	return c.startEndpoint(ep, opts, events), nil
}

// removeSession unregisters an ended session.
func (c *Connection) removeSession(s *Session) {
	if c.sessions[s.channel] == s {
		delete(c.sessions, s.channel)
		c.channels.remove(uint32(s.channel))
	}
	if s.remoteMapped && c.remoteSessions[s.remoteChannel] == s {
		delete(c.remoteSessions, s.remoteChannel)
	}
}

// usable returns an error if new endpoints cannot be created.
func (c *Connection) usable() error {
	switch {
	case c.destroyed:
		return ErrInvalidHandle
	case c.failed, c.closeSent, c.closeRcvd, c.closedIdle:
		return c.closedError()
	}
	return nil
}

// effectiveMaxFrameSize is the smaller of our and the peer's max-frame-size.
func (c *Connection) effectiveMaxFrameSize() uint32 {
	if c.remoteOpen != nil && c.remoteOpen.MaxFrameSize < c.opts.MaxFrameSize {
		return c.remoteOpen.MaxFrameSize
	}
	return c.opts.MaxFrameSize
}

func (c *Connection) locked(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f()
}

// setOption applies f before the connection is started.
func (c *Connection) setOption(f func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.Wrap(ErrIllegalState, "connection options cannot change after open")
	}
	f()
	return nil
}

func (c *Connection) ContainerID() string                    { return c.opts.ContainerID }
func (c *Connection) Host() string                           { return c.host }
func (c *Connection) Port() uint16                           { return c.opts.Port }
func (c *Connection) Credential() credential.TokenCredential { return c.credential }
func (c *Connection) AuthenticationScopes() []string         { return c.opts.AuthenticationScopes }
func (c *Connection) EnableTrace() bool                      { return c.opts.EnableTrace }

func (c *Connection) SetIdleTimeout(d time.Duration) error {
	return c.setOption(func() { c.opts.IdleTimeout = d })
}

func (c *Connection) SetMaxChannelCount(n uint16) error {
	return c.setOption(func() {
		c.opts.MaxChannelCount = n
		c.channels.max = uint32(n)
	})
}

func (c *Connection) SetProperties(p map[amqp.Symbol]interface{}) error {
	return c.setOption(func() { c.opts.Properties = p })
}

// SetMaxFrameSize sets the advertised max-frame-size; it must be at least
// MinMaxFrameSize.
func (c *Connection) SetMaxFrameSize(n uint32) error {
	if n < MinMaxFrameSize {
		return errors.Errorf("max frame size %d is below the minimum %d", n, MinMaxFrameSize)
	}
	return c.setOption(func() { c.opts.MaxFrameSize = n })
}

func (c *Connection) MaxFrameSize() (n uint32) {
	c.locked(func() { n = c.opts.MaxFrameSize })
	return
}

func (c *Connection) MaxChannelCount() (n uint16) {
	c.locked(func() { n = c.opts.MaxChannelCount })
	return
}

func (c *Connection) IdleTimeout() (d time.Duration) {
	c.locked(func() { d = c.opts.IdleTimeout })
	return
}

func (c *Connection) Properties() (p map[amqp.Symbol]interface{}) {
	c.locked(func() { p = c.opts.Properties })
	return
}

// RemoteMaxFrameSize is the peer's max-frame-size, 0 before its OPEN.
func (c *Connection) RemoteMaxFrameSize() (n uint32) {
	c.locked(func() {
		if c.remoteOpen != nil {
			n = c.remoteOpen.MaxFrameSize
		}
	})
	return
}

// RemoteIdleTimeout is the peer's idle-timeout, 0 before its OPEN.
func (c *Connection) RemoteIdleTimeout() (d time.Duration) {
	c.locked(func() {
		if c.remoteOpen != nil {
			d = c.remoteOpen.IdleTimeout
		}
	})
	return
}

// RemoteContainerID is the peer's container-id, empty before its OPEN.
func (c *Connection) RemoteContainerID() (id string) {
	c.locked(func() {
		if c.remoteOpen != nil {
			id = c.remoteOpen.ContainerID
		}
	})
	return
}

// RemoteProperties are the properties in the peer's OPEN.
func (c *Connection) RemoteProperties() (p map[amqp.Symbol]interface{}) {
	c.locked(func() {
		if c.remoteOpen != nil {
			p = c.remoteOpen.Properties
		}
	})
	return
}

// RemoteError is the error in the peer's CLOSE, if any.
func (c *Connection) RemoteError() (e *amqp.Error) {
	c.locked(func() { e = c.remoteError })
	return
}
