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
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreamqp/coreamqp/go/internal/test"
	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timeout = 5 * time.Second

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// peer records the events of one end of a test connection. By default it
// accepts every incoming session and link.
type peer struct {
	c *Connection

	sessionOpts SessionOptions
	linkOpts    LinkOptions
	rejectLinks bool
	outcome     amqp.DeliveryState

	sessions   chan *Session
	links      chan *Link
	deliveries chan *Delivery

	mu     sync.Mutex
	states []ConnectionState
	ioErrs int
}

func newPeer() *peer {
	return &peer{
		outcome:    amqp.Accepted{},
		sessions:   make(chan *Session, 100),
		links:      make(chan *Link, 100),
		deliveries: make(chan *Delivery, 100),
	}
}

func (p *peer) OnConnectionStateChanged(c *Connection, state, old ConnectionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

func (p *peer) OnIOError(*Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ioErrs++
}

func (p *peer) OnNewEndpoint(c *Connection, ep *Endpoint) bool {
	ep.Configure(p.sessionOpts, p)
	return true
}

func (p *peer) OnSessionStateChanged(s *Session, state, old SessionState) {
	if state == SessionStateMapped {
		p.sessions <- s
	}
}

func (p *peer) OnLinkEndpoint(s *Session, ep *LinkEndpoint) bool {
	if p.rejectLinks {
		return false
	}
	ep.Configure(p.linkOpts, p)
	return true
}

func (p *peer) OnLinkStateChanged(l *Link, state, old LinkState) {
	if state == LinkStateAttached {
		p.links <- l
	}
}

func (p *peer) OnTransferReceived(l *Link, d *Delivery) amqp.DeliveryState {
	p.deliveries <- d
	return p.outcome
}

func (p *peer) OnLinkFlow(*Link) {}

func (p *peer) connectionStates() []ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectionState(nil), p.states...)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for %T", *new(T))
	}
	panic("unreachable")
}

// newPair opens a client connection to a listening server over a net.Pipe.
func newPair(t *testing.T, client, server *peer, clientOpts, serverOpts ConnectionOptions) {
	t.Helper()
	cConn, sConn := net.Pipe()
	var err error
	server.c, err = NewConnectionFromTransport(NewConnTransport(sConn), serverOpts, server)
	test.FatalIf(t, err)
	client.c, err = NewConnectionFromTransport(NewConnTransport(cConn), clientOpts, client)
	test.FatalIf(t, err)
	test.FatalIf(t, server.c.Listen())
	ctx := testContext(t)
	test.FatalIf(t, client.c.Open(ctx))
	test.FatalIf(t, client.c.WaitOpened(ctx))
	test.FatalIf(t, server.c.WaitOpened(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = client.c.Close("", "", nil)
		_ = server.c.Close("", "", nil)
		_ = client.c.WaitClosed(ctx)
		_ = server.c.WaitClosed(ctx)
		client.c.Destroy()
		server.c.Destroy()
	})
}

func openPair(t *testing.T) (client, server *peer) {
	client, server = newPeer(), newPeer()
	newPair(t, client, server, ConnectionOptions{ContainerID: "client"}, ConnectionOptions{ContainerID: "server"})
	return
}

// beginSession begins a client session and returns both ends.
func beginSession(t *testing.T, client, server *peer) (cs, ss *Session) {
	t.Helper()
	cs, err := client.c.CreateSession(client.sessionOpts, client)
	test.FatalIf(t, err)
	test.FatalIf(t, cs.Begin())
	assert.Equal(t, cs, receive(t, client.sessions))
	return cs, receive(t, server.sessions)
}

func attachLink(t *testing.T, client, server *peer, cs *Session, role Role, opts LinkOptions) (cl, sl *Link) {
	t.Helper()
	l, err := cs.CreateLink("link-"+role.String(), role, &amqp.Source{Address: "src"}, &amqp.Target{Address: "tgt"}, opts, client)
	test.FatalIf(t, err)
	test.FatalIf(t, l.Attach())
	assert.Equal(t, l, receive(t, client.links))
	return l, receive(t, server.links)
}

func TestConnectionOpenClose(t *testing.T) {
	client, server := newPeer(), newPeer()
	props := map[amqp.Symbol]interface{}{"product": "test"}
	newPair(t, client, server,
		ConnectionOptions{ContainerID: "client", MaxFrameSize: 1024, IdleTimeout: time.Minute, Properties: props},
		ConnectionOptions{ContainerID: "server", MaxChannelCount: 7})

	assert.Equal(t, ConnectionStateOpened, client.c.State())
	assert.Equal(t, "server", client.c.RemoteContainerID())
	assert.Equal(t, "client", server.c.RemoteContainerID())
	assert.Equal(t, uint32(1024), server.c.RemoteMaxFrameSize())
	assert.Equal(t, time.Minute, server.c.RemoteIdleTimeout())
	test.ErrorIf(t, test.Differ(props, server.c.RemoteProperties()))

	ctx := testContext(t)
	test.FatalIf(t, client.c.Close("", "", nil))
	test.FatalIf(t, client.c.WaitClosed(ctx), "server answers CLOSE")
	test.FatalIf(t, server.c.WaitClosed(ctx))
	assert.Nil(t, server.c.RemoteError())
	assert.NoError(t, server.c.Close("", "", nil), "close after the peer's CLOSE")
	assert.Equal(t, ConnectionStateEnd, client.c.State())
	assert.Equal(t, ConnectionStateEnd, server.c.State())

	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) {
		states := client.connectionStates()
		return len(states) > 0 && states[len(states)-1] == ConnectionStateEnd, nil
	}))
	states := client.connectionStates()
	assert.Contains(t, states, ConnectionStateOpened)
	assert.Contains(t, states, ConnectionStateCloseSent)

	_, err := client.c.CreateSession(SessionOptions{}, nil)
	assert.Error(t, err)
	assert.NoError(t, client.c.Close("", "", nil), "second close is a no-op")
}

func TestConnectionCloseWithError(t *testing.T) {
	client, server := openPair(t)
	test.FatalIf(t, client.c.Close(amqp.ConnectionForced, "going away", nil))
	ctx := testContext(t)
	test.FatalIf(t, server.c.WaitFor(ctx, func() (bool, error) { return server.c.RemoteError() != nil, nil }))
	e := server.c.RemoteError()
	require.NotNil(t, e)
	assert.Equal(t, amqp.ConnectionForced, e.Name)
	assert.Equal(t, "going away", e.Description)
	test.FatalIf(t, client.c.WaitClosed(ctx))
	assert.Equal(t, ConnectionStateEnd, client.c.State())
}

func TestConnectionRemoteClose(t *testing.T) {
	client, server := openPair(t)
	cs, _ := beginSession(t, client, server)
	test.FatalIf(t, server.c.Close(amqp.ConnectionForced, "shutting down", nil))
	ctx := testContext(t)
	test.FatalIf(t, client.c.WaitClosed(ctx), "client answers without calling Close")
	test.FatalIf(t, server.c.WaitClosed(ctx))
	assert.Equal(t, ConnectionStateEnd, client.c.State())
	assert.Equal(t, ConnectionStateEnd, server.c.State())
	assert.Equal(t, amqp.ConnectionForced, client.c.RemoteError().Name)
	assert.Equal(t, amqp.ConnectionForced, condition(cs.Error()).Name)
	assert.NoError(t, client.c.Close("", "", nil))
}

func TestConnectionOptions(t *testing.T) {
	_, err := NewConnection("", nil, ConnectionOptions{}, nil)
	assert.Error(t, err, "empty host")
	_, err = NewConnection("example.com", nil, ConnectionOptions{MaxFrameSize: 100}, nil)
	assert.Error(t, err, "max frame size below minimum")

	c, err := NewConnection("example.com", nil, ConnectionOptions{}, nil)
	test.FatalIf(t, err)
	assert.NotEmpty(t, c.ContainerID())
	assert.Equal(t, uint16(amqp.TLSPort), c.Port())
	assert.Equal(t, DefaultIdleTimeout, c.IdleTimeout())
	test.ErrorIf(t, c.SetMaxFrameSize(4096))
	assert.Equal(t, uint32(4096), c.MaxFrameSize())
	assert.Error(t, c.SetMaxFrameSize(10))
	test.ErrorIf(t, c.SetMaxChannelCount(3))
	assert.Equal(t, uint16(3), c.MaxChannelCount())
	assert.Equal(t, ConnectionStateStart, c.State())

	// Closing a connection that never sent its header ends it at once.
	test.ErrorIf(t, c.Close("", "", nil))
	assert.Equal(t, ConnectionStateEnd, c.State())
	c.Destroy()
}

func TestSessionBeginEnd(t *testing.T) {
	client, server := openPair(t)
	client.sessionOpts = SessionOptions{IncomingWindow: 10, OutgoingWindow: 20, HandleMax: 5}
	cs, ss := beginSession(t, client, server)

	assert.Equal(t, SessionStateMapped, cs.State())
	assert.Equal(t, uint32(10), cs.IncomingWindow())
	assert.Equal(t, uint32(20), cs.OutgoingWindow())
	assert.Equal(t, uint32(5), cs.HandleMax())
	var handleMax uint32
	ss.locked(func() { handleMax = ss.handles.max })
	assert.Equal(t, uint32(5), handleMax, "server takes the lower handle-max")
	ch, ok := ss.RemoteChannel()
	assert.True(t, ok)
	assert.Equal(t, cs.Channel(), ch)
	assert.Equal(t, uint32(DefaultIncomingWindow), ss.IncomingWindow())
	assert.Error(t, cs.SetOutgoingWindow(1), "window is fixed after begin")

	test.FatalIf(t, cs.End(amqp.NotAllowed, "done"))
	ctx := testContext(t)
	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) {
		return cs.State() == SessionStateUnmapped, nil
	}))
	e := ss.RemoteError()
	require.NotNil(t, e)
	assert.Equal(t, amqp.NotAllowed, e.Name)
	assert.Equal(t, ErrInvalidHandle, cs.Begin(), "ended session is an invalid handle")
	assert.NoError(t, cs.End("", ""), "second end is a no-op")
}

func TestSessionChannels(t *testing.T) {
	client, server := openPair(t)
	s1, _ := beginSession(t, client, server)
	s2, _ := beginSession(t, client, server)
	assert.Equal(t, uint16(0), s1.Channel())
	assert.Equal(t, uint16(1), s2.Channel())

	ep, err := client.c.CreateEndpoint()
	test.FatalIf(t, err)
	assert.Equal(t, uint16(2), ep.Channel())
	assert.False(t, ep.Incoming())
	client.c.DestroyEndpoint(ep)
	ep, err = client.c.CreateEndpoint()
	test.FatalIf(t, err)
	assert.Equal(t, uint16(2), ep.Channel(), "destroyed endpoint frees its channel")
	s3, err := client.c.StartEndpoint(ep, SessionOptions{}, client)
	test.FatalIf(t, err)
	test.FatalIf(t, s3.Begin())
	assert.Equal(t, s3, receive(t, client.sessions))
}

func TestChannelMax(t *testing.T) {
	client, server := newPeer(), newPeer()
	newPair(t, client, server, ConnectionOptions{}, ConnectionOptions{MaxChannelCount: 1})
	beginSession(t, client, server)
	beginSession(t, client, server)
	_, err := client.c.CreateSession(SessionOptions{}, nil)
	assert.Equal(t, amqp.ResourceLimitExceeded, condition(err).Name)
}

func TestDestroyWithSessionsPanics(t *testing.T) {
	client, server := openPair(t)
	beginSession(t, client, server)
	assert.Panics(t, func() { client.c.Destroy() })
}

func TestLinkTransfer(t *testing.T) {
	client, server := openPair(t)
	server.linkOpts = LinkOptions{MaxLinkCredit: 10}
	cs, _ := beginSession(t, client, server)
	cl, sl := attachLink(t, client, server, cs, RoleSender, LinkOptions{})

	assert.Equal(t, RoleReceiver, sl.Role())
	assert.Equal(t, "src", sl.Source().Address)
	assert.Equal(t, "tgt", sl.Target().Address)
	ctx := testContext(t)
	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) { return cl.Credit() == 10, nil }))

	msg := amqp.NewMessageWith("hello")
	msg.SetSubject("greeting")
	outcomes := make(chan amqp.DeliveryState, 1)
	test.FatalIf(t, cl.Transfer(msg, false, func(state amqp.DeliveryState, err error) {
		test.ErrorIf(t, err)
		outcomes <- state
	}))
	d := receive(t, server.deliveries)
	assert.False(t, d.Settled)
	assert.Equal(t, "hello", d.Message.Body())
	assert.Equal(t, "greeting", d.Message.Subject())
	assert.Len(t, d.Tag, 8)
	assert.Equal(t, amqp.Accepted{}, receive(t, outcomes))
	assert.Equal(t, 0, cl.Unsettled())
	assert.Equal(t, uint32(1), cl.DeliveryCount())
}

func TestLinkSettledTransfer(t *testing.T) {
	client, server := openPair(t)
	server.linkOpts = LinkOptions{MaxLinkCredit: 10}
	cs, _ := beginSession(t, client, server)
	cl, _ := attachLink(t, client, server, cs, RoleSender, LinkOptions{SenderSettleMode: SenderSettleModeSettled})

	done := make(chan error, 1)
	test.FatalIf(t, cl.TransferPayload(mustEncode(t, amqp.NewMessageWith(int32(1))), false, func(state amqp.DeliveryState, err error) {
		assert.Nil(t, state)
		done <- err
	}))
	test.FatalIf(t, receive(t, done))
	assert.True(t, receive(t, server.deliveries).Settled, "settle mode forces settled")
}

func mustEncode(t *testing.T, m amqp.Message) []byte {
	t.Helper()
	b, err := m.Encode(nil)
	test.FatalIf(t, err)
	return b
}

func TestLinkLargeTransfer(t *testing.T) {
	client, server := newPeer(), newPeer()
	server.linkOpts = LinkOptions{MaxLinkCredit: 10}
	newPair(t, client, server, ConnectionOptions{}, ConnectionOptions{MaxFrameSize: 512})
	cs, _ := beginSession(t, client, server)
	cl, _ := attachLink(t, client, server, cs, RoleSender, LinkOptions{})

	body := []byte(strings.Repeat("x", 5000))
	ctx := testContext(t)
	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) { return cl.Credit() > 0, nil }))
	test.FatalIf(t, cl.Transfer(amqp.NewMessageWith(body), true, nil))
	d := receive(t, server.deliveries)
	assert.Equal(t, amqp.Binary(body), d.Message.Body())
}

func TestLinkCredit(t *testing.T) {
	client, server := openPair(t)
	cs, _ := beginSession(t, client, server)
	cl, sl := attachLink(t, client, server, cs, RoleReceiver, LinkOptions{})
	assert.Equal(t, RoleSender, sl.Role())

	test.FatalIf(t, sl.Transfer(amqp.NewMessageWith("a"), true, nil))
	test.FatalIf(t, sl.Transfer(amqp.NewMessageWith("b"), true, nil))
	assert.Equal(t, 2, sl.Queued(), "no credit")
	select {
	case d := <-client.deliveries:
		t.Fatalf("unexpected delivery %v", d.Message)
	case <-time.After(50 * time.Millisecond):
	}

	test.FatalIf(t, cl.Flow(1, false))
	assert.Equal(t, "a", receive(t, client.deliveries).Message.Body())
	ctx := testContext(t)
	test.FatalIf(t, server.c.WaitFor(ctx, func() (bool, error) { return sl.Queued() == 1, nil }))

	test.FatalIf(t, cl.Flow(5, false))
	assert.Equal(t, "b", receive(t, client.deliveries).Message.Body())
	assert.Error(t, sl.Flow(1, false), "flow on a sender")
	assert.Error(t, cl.Transfer(amqp.NewMessage(), true, nil), "transfer on a receiver")
}

func TestLinkDrain(t *testing.T) {
	client, server := openPair(t)
	cs, _ := beginSession(t, client, server)
	cl, sl := attachLink(t, client, server, cs, RoleReceiver, LinkOptions{})
	test.FatalIf(t, cl.Flow(10, true))
	ctx := testContext(t)
	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) {
		return cl.Credit() == 0 && cl.DeliveryCount() == 10, nil
	}), "sender gives back unused credit")
	assert.Equal(t, uint32(0), sl.Credit())
}

func TestLinkCreditRevokedMidDelivery(t *testing.T) {
	client, server := openPair(t)
	cs, _ := beginSession(t, client, server)
	cl, _ := attachLink(t, client, server, cs, RoleReceiver, LinkOptions{})
	test.FatalIf(t, cl.Flow(1, false))
	transfer := func(tr *Transfer) {
		client.c.mu.Lock()
		cl.handleTransfer(tr)
		client.c.unlock()
	}

	payload := mustEncode(t, amqp.NewMessageWith("split"))
	first, second := uint32(0), uint32(1)
	transfer(&Transfer{DeliveryID: &first, DeliveryTag: []byte("a"), Settled: true, More: true, Payload: payload[:3]})
	assert.Equal(t, uint32(0), cl.Credit(), "first frame uses the credit")
	assert.Equal(t, uint32(1), cl.DeliveryCount())
	test.FatalIf(t, cl.Flow(0, false))
	transfer(&Transfer{Settled: true, Payload: payload[3:]})
	assert.Equal(t, "split", receive(t, client.deliveries).Message.Body())
	assert.Equal(t, uint32(0), cl.Credit())
	assert.Equal(t, uint32(1), cl.DeliveryCount())

	transfer(&Transfer{DeliveryID: &second, DeliveryTag: []byte("b"), Settled: true, Payload: payload})
	assert.Equal(t, amqp.LinkTransferLimit, condition(cl.Error()).Name)
}

func TestSessionWindowViolation(t *testing.T) {
	client, server := openPair(t)
	cs, ss := beginSession(t, client, server)
	client.c.mu.Lock()
	cs.incomingAvail = 0
	cs.handleTransfer(&Transfer{Handle: 0, Payload: []byte{0}})
	client.c.unlock()
	assert.Equal(t, amqp.SessionWindowViolation, condition(cs.Error()).Name)
	ctx := testContext(t)
	test.FatalIf(t, server.c.WaitFor(ctx, func() (bool, error) { return ss.RemoteError() != nil, nil }))
	assert.Equal(t, amqp.SessionWindowViolation, ss.RemoteError().Name)
}

func TestSessionWindowReplenish(t *testing.T) {
	client, server := openPair(t)
	client.sessionOpts = SessionOptions{IncomingWindow: 2}
	cs, ss := beginSession(t, client, server)
	cl, sl := attachLink(t, client, server, cs, RoleReceiver, LinkOptions{})
	test.FatalIf(t, cl.Flow(10, false))
	ctx := testContext(t)
	test.FatalIf(t, server.c.WaitFor(ctx, func() (bool, error) { return sl.Credit() == 10, nil }))

	for _, body := range []string{"a", "b", "c", "d", "e"} {
		test.FatalIf(t, sl.Transfer(amqp.NewMessageWith(body), true, nil))
	}
	for _, body := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, body, receive(t, client.deliveries).Message.Body(), "window reopened by FLOW")
	}
	test.FatalIf(t, server.c.WaitFor(ctx, func() (bool, error) { return ss.RemoteIncomingWindow() == 2, nil }))
	assert.Equal(t, uint32(2), cs.IncomingWindow())
}

func TestReceiverSettleSecond(t *testing.T) {
	client, server := openPair(t)
	server.linkOpts = LinkOptions{MaxLinkCredit: 10}
	cs, _ := beginSession(t, client, server)
	cl, sl := attachLink(t, client, server, cs, RoleSender, LinkOptions{ReceiverSettleMode: ReceiverSettleModeSecond})
	assert.Equal(t, ReceiverSettleModeSecond, sl.ReceiverSettleMode())

	outcomes := make(chan amqp.DeliveryState, 1)
	test.FatalIf(t, cl.Transfer(amqp.NewMessageWith("x"), false, func(state amqp.DeliveryState, err error) {
		outcomes <- state
	}))
	receive(t, server.deliveries)
	assert.Equal(t, amqp.Accepted{}, receive(t, outcomes))
	ctx := testContext(t)
	test.FatalIf(t, server.c.WaitFor(ctx, func() (bool, error) {
		var n int
		sl.locked(func() { n = len(sl.received) })
		return n == 0, nil
	}), "sender settles after the receiver's outcome")
}

func TestManualDisposition(t *testing.T) {
	client, server := openPair(t)
	server.linkOpts = LinkOptions{MaxLinkCredit: 10}
	server.outcome = nil
	cs, _ := beginSession(t, client, server)
	cl, sl := attachLink(t, client, server, cs, RoleSender, LinkOptions{})

	outcomes := make(chan amqp.DeliveryState, 1)
	test.FatalIf(t, cl.Transfer(amqp.NewMessageWith("x"), false, func(state amqp.DeliveryState, err error) {
		outcomes <- state
	}))
	d := receive(t, server.deliveries)
	assert.Equal(t, 1, cl.Unsettled())
	reject := amqp.Rejected{Error: &amqp.Error{Name: amqp.InvalidField, Description: "bad"}}
	test.FatalIf(t, sl.SendDisposition(d.ID, true, reject))
	test.ErrorIf(t, test.Differ(reject, receive(t, outcomes)))
	assert.Error(t, sl.SendDisposition(d.ID, true, amqp.Accepted{}), "already settled")
}

func TestLinkDetach(t *testing.T) {
	client, server := openPair(t)
	cs, _ := beginSession(t, client, server)
	cl, sl := attachLink(t, client, server, cs, RoleSender, LinkOptions{})
	test.FatalIf(t, sl.Flow(1, false))
	ctx := testContext(t)
	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) { return cl.Credit() == 1, nil }))

	failed := make(chan error, 1)
	// Uses the only credit, the next transfer waits.
	test.FatalIf(t, cl.Transfer(amqp.NewMessageWith("a"), true, nil))
	receive(t, server.deliveries)
	test.FatalIf(t, cl.Transfer(amqp.NewMessageWith("b"), false, func(state amqp.DeliveryState, err error) {
		failed <- err
	}))
	test.FatalIf(t, sl.Detach(true, amqp.LinkDetachForced, "bye"))
	err := receive(t, failed)
	assert.Equal(t, amqp.LinkDetachForced, condition(err).Name)

	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) { return cl.State() == LinkStateDetached, nil }))
	assert.Equal(t, amqp.LinkDetachForced, cl.RemoteError().Name)
	assert.Error(t, cl.Attach(), "detached link is removed")
	assert.NoError(t, cl.Detach(true, "", ""), "second detach is a no-op")
}

func TestLinkRejected(t *testing.T) {
	client, server := openPair(t)
	server.rejectLinks = true
	cs, _ := beginSession(t, client, server)
	cl, err := cs.CreateLink("rejected", RoleSender, nil, &amqp.Target{Address: "t"}, LinkOptions{}, client)
	test.FatalIf(t, err)
	test.FatalIf(t, cl.Attach())
	ctx := testContext(t)
	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) { return cl.RemoteError() != nil, nil }))
	assert.Equal(t, amqp.NotAllowed, cl.RemoteError().Name)
	assert.Nil(t, cl.RemoteTarget())
}

func TestLinkNoTarget(t *testing.T) {
	client, server := openPair(t)
	cs, _ := beginSession(t, client, server)
	cl, err := cs.CreateLink("no-target", RoleSender, &amqp.Source{}, nil, LinkOptions{}, client)
	test.FatalIf(t, err)
	test.FatalIf(t, cl.Attach())
	ctx := testContext(t)
	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) { return cl.RemoteError() != nil, nil }))
	assert.Equal(t, amqp.NotFound, cl.RemoteError().Name)
}

func TestLinkNames(t *testing.T) {
	client, server := openPair(t)
	cs, _ := beginSession(t, client, server)
	_, err := cs.CreateLinkEndpoint("same", RoleSender)
	test.FatalIf(t, err)
	_, err = cs.CreateLinkEndpoint("same", RoleSender)
	assert.Error(t, err, "duplicate name and role")
	ep, err := cs.CreateLinkEndpoint("same", RoleReceiver)
	test.FatalIf(t, err)
	assert.Equal(t, uint32(1), ep.Handle())
}

func TestMaxMessageSize(t *testing.T) {
	client, server := openPair(t)
	server.linkOpts = LinkOptions{MaxLinkCredit: 10, MaxMessageSize: 100}
	cs, _ := beginSession(t, client, server)
	cl, _ := attachLink(t, client, server, cs, RoleSender, LinkOptions{})
	assert.Equal(t, uint64(100), cl.RemoteMaxMessageSize())
	err := cl.Transfer(amqp.NewMessageWith(strings.Repeat("x", 200)), true, nil)
	assert.Equal(t, amqp.LinkMessageSizeExceeded, condition(err).Name)
}

func TestKeepAlive(t *testing.T) {
	client, server := newPeer(), newPeer()
	newPair(t, client, server, ConnectionOptions{IdleTimeout: 200 * time.Millisecond}, ConnectionOptions{})
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, ConnectionStateOpened, client.c.State(), "server sends empty frames")
}

func TestEncodeFrame(t *testing.T) {
	client, server := newPeer(), newPeer()
	newPair(t, client, server, ConnectionOptions{}, ConnectionOptions{MaxFrameSize: MinMaxFrameSize})
	test.ErrorIf(t, client.c.EncodeFrame(0, nil, nil), "empty frame")
	err := client.c.EncodeFrame(0, nil, make([]byte, MinMaxFrameSize))
	assert.Equal(t, amqp.ConnectionFramingError, condition(err).Name)

	test.FatalIf(t, client.c.Close("", "", nil))
	assert.Error(t, client.c.EncodeFrame(0, nil, nil), "after close")
}

func TestEncodeFrameSplitsTransfer(t *testing.T) {
	client, server := newPeer(), newPeer()
	server.sessionOpts = SessionOptions{IncomingWindow: 100}
	server.linkOpts = LinkOptions{MaxLinkCredit: 10}
	newPair(t, client, server, ConnectionOptions{}, ConnectionOptions{MaxFrameSize: MinMaxFrameSize})
	cs, _ := beginSession(t, client, server)
	cl, _ := attachLink(t, client, server, cs, RoleSender, LinkOptions{})
	ctx := testContext(t)
	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) { return cl.Credit() > 0, nil }))

	body := strings.Repeat("y", 3*MinMaxFrameSize)
	id, format := uint32(0), uint32(0)
	tr := &Transfer{Handle: cl.Handle(), DeliveryID: &id, DeliveryTag: []byte("raw"), MessageFormat: &format, Settled: true}
	test.FatalIf(t, client.c.EncodeFrame(cs.Channel(), tr, mustEncode(t, amqp.NewMessageWith(body))))
	d := receive(t, server.deliveries)
	assert.Equal(t, body, d.Message.Body())
	assert.Equal(t, []byte("raw"), d.Tag)
	assert.Nil(t, tr.Payload, "caller's transfer is not modified")
}

func TestSplitTransfer(t *testing.T) {
	id := uint32(7)
	frames, err := splitTransfer(&Transfer{Handle: 1, DeliveryID: &id, More: true}, make([]byte, 1000), 300)
	test.FatalIf(t, err)
	require.Greater(t, len(frames), 3)
	var n int
	for i, f := range frames {
		n += len(f.Payload)
		assert.True(t, f.More, "frame %d", i)
		assert.Equal(t, i == 0, f.DeliveryID != nil, "frame %d", i)
	}
	assert.Equal(t, 1000, n)

	frames, err = splitTransfer(&Transfer{Handle: 1}, []byte("small"), 300)
	test.FatalIf(t, err)
	require.Len(t, frames, 1)
	assert.False(t, frames[0].More)
	_, err = splitTransfer(&Transfer{Handle: 1, DeliveryTag: make([]byte, 64)}, []byte("x"), 40)
	assert.Equal(t, amqp.ConnectionFramingError, condition(err).Name)
}

func TestIdleTimeout(t *testing.T) {
	client, server := newPeer(), newPeer()
	newPair(t, client, server, ConnectionOptions{IdleTimeout: time.Second}, ConnectionOptions{})
	client.c.mu.Lock()
	client.c.handleDeadlines(time.Now().Add(2 * time.Second))
	client.c.unlock()
	assert.Equal(t, ConnectionStateError, client.c.State())
	assert.Equal(t, amqp.ResourceLimitExceeded, condition(client.c.Error()).Name)

	ctx := testContext(t)
	test.FatalIf(t, server.c.WaitFor(ctx, func() (bool, error) { return server.c.RemoteError() != nil, nil }))
	assert.Equal(t, amqp.ResourceLimitExceeded, server.c.RemoteError().Name)
}

func TestPeerDisconnect(t *testing.T) {
	client, server := openPair(t)
	cs, _ := beginSession(t, client, server)
	test.FatalIf(t, server.c.transport.Close(nil)) // Drop the connection without CLOSE.
	ctx := testContext(t)
	err := client.c.WaitClosed(ctx)
	assert.Equal(t, amqp.ProtonIo, condition(err).Name)
	test.FatalIf(t, client.c.WaitFor(ctx, func() (bool, error) {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.ioErrs == 1, nil
	}))
	assert.Equal(t, SessionStateError, cs.State())
	assert.Equal(t, ErrInvalidHandle, cs.Begin())
}

func TestWaitTimeout(t *testing.T) {
	client, _ := openPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.c.WaitClosed(ctx)
	assert.Equal(t, ErrTimeout, err)
}

func TestDeferFromEvent(t *testing.T) {
	_, server := openPair(t)
	done := make(chan error, 1)
	server.c.Defer(func() { done <- server.c.SetIdleTimeout(time.Second) })
	server.c.Poll()
	assert.Error(t, receive(t, done), "options are fixed once open")
}
