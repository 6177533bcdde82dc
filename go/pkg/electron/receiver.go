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

package electron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MessageReceiverState is the state of a MessageReceiver.
type MessageReceiverState int

const (
	MessageReceiverStateInvalid MessageReceiverState = iota
	MessageReceiverStateClosed
	MessageReceiverStateOpening
	MessageReceiverStateOpen
	MessageReceiverStateClosing
	MessageReceiverStateError
)

var receiverStateNames = []string{"Invalid", "Closed", "Opening", "Open", "Closing", "Error"}

func (s MessageReceiverState) String() string {
	if s >= 0 && int(s) < len(receiverStateNames) {
		return receiverStateNames[s]
	}
	return fmt.Sprintf("MessageReceiverState(%d)", int(s))
}

func receiverState(s proton.LinkState) MessageReceiverState {
	return MessageReceiverState(senderState(s))
}

// MessageReceiverOptions configures a MessageReceiver.
type MessageReceiverOptions struct {
	// Name of the link, "receiver-" and a UUID by default.
	Name string
	// SettleMode is the receiver settle mode. In ReceiverSettleModeFirst
	// messages are accepted on receipt; in ReceiverSettleModeSecond the
	// caller settles each ReceivedMessage.
	SettleMode proton.ReceiverSettleMode
	// MessageTarget is the target address, the link name by default.
	MessageTarget  string
	MaxMessageSize uint64
	// MaxLinkCredit is the credit kept outstanding, 1 by default.
	MaxLinkCredit          uint32
	EnableTrace            bool
	AuthenticationRequired bool
	Authenticator          *Authenticator
	// Filter is sent as the source filter-set.
	Filter     map[amqp.Symbol]interface{}
	Properties map[amqp.Symbol]interface{}
}

// MessageReceiverEvents receives MessageReceiver notifications on the
// polling goroutine, outside the connection lock.
type MessageReceiverEvents interface {
	OnMessageReceiverStateChanged(r *MessageReceiver, newState, oldState MessageReceiverState)
	OnMessageReceiverDisconnected(r *MessageReceiver, err error)
}

// MessageHandler may also be implemented by MessageReceiverEvents to take
// messages as they arrive instead of queueing them for
// WaitForIncomingMessage. It is called with the connection locked and must
// not block or call Connection, Session or Link methods. A non-nil result
// settles the delivery with that state.
type MessageHandler interface {
	OnMessageReceived(r *MessageReceiver, m *ReceivedMessage) amqp.DeliveryState
}

type nopReceiverEvents struct{}

func (nopReceiverEvents) OnMessageReceiverStateChanged(*MessageReceiver, MessageReceiverState, MessageReceiverState) {}
func (nopReceiverEvents) OnMessageReceiverDisconnected(*MessageReceiver, error)                                     {}

// ReceivedMessage is a message with the delivery it arrived on.
type ReceivedMessage struct {
	amqp.Message
	DeliveryID  uint32
	DeliveryTag []byte

	r       *MessageReceiver
	link    *proton.Link
	settled atomic.Bool
}

// Settled is true once the delivery has an outcome.
func (m *ReceivedMessage) Settled() bool { return m.settled.Load() }

// Accept settles the delivery as Accepted.
func (m *ReceivedMessage) Accept() error { return m.settle(amqp.Accepted{}) }

// Reject settles the delivery as Rejected with an optional error.
func (m *ReceivedMessage) Reject(e *amqp.Error) error { return m.settle(amqp.Rejected{Error: e}) }

// Release settles the delivery as Released, for redelivery.
func (m *ReceivedMessage) Release() error { return m.settle(amqp.Released{}) }

// Modify settles the delivery as Modified.
func (m *ReceivedMessage) Modify(deliveryFailed, undeliverableHere bool, annotations map[amqp.Symbol]interface{}) error {
	return m.settle(amqp.Modified{DeliveryFailed: deliveryFailed, UndeliverableHere: undeliverableHere, MessageAnnotations: annotations})
}

func (m *ReceivedMessage) settle(state amqp.DeliveryState) error {
	if m.settled.Swap(true) {
		return nil
	}
	settled := m.r.opts.SettleMode == proton.ReceiverSettleModeFirst
	return m.link.SendDisposition(m.DeliveryID, settled, state)
}

// incoming is a received message or the error that ended the link.
type incoming struct {
	msg *ReceivedMessage
	err *amqp.Error
}

// MessageReceiver receives messages from a source address over one link.
type MessageReceiver struct {
	session *proton.Session
	conn    *proton.Connection
	source  string
	opts    MessageReceiverOptions
	events  MessageReceiverEvents
	handler MessageHandler
	log     *logrus.Entry
	queue   *proton.AsyncOperationQueue[incoming]

	mu      sync.Mutex
	link    *proton.Link
	closing atomic.Bool
}

// NewMessageReceiver creates a receiver for source on session. It is
// attached by Open.
func NewMessageReceiver(session *proton.Session, source string, opts MessageReceiverOptions, events MessageReceiverEvents) *MessageReceiver {
	if events == nil {
		events = nopReceiverEvents{}
	}
	opts.Name = linkName(opts.Name, "receiver-")
	if opts.MessageTarget == "" {
		opts.MessageTarget = opts.Name
	}
	if opts.MaxLinkCredit == 0 {
		opts.MaxLinkCredit = 1
	}
	r := &MessageReceiver{
		session: session,
		conn:    session.Connection(),
		source:  source,
		opts:    opts,
		events:  events,
		log:     log.WithFields(logrus.Fields{"link": opts.Name, "source": source}),
		queue:   proton.NewAsyncOperationQueue[incoming](),
	}
	r.handler, _ = events.(MessageHandler)
	return r
}

// Name is the link name.
func (r *MessageReceiver) Name() string { return r.opts.Name }

// State of the receiver.
func (r *MessageReceiver) State() MessageReceiverState {
	l := r.currentLink()
	if l == nil {
		return MessageReceiverStateClosed
	}
	return receiverState(l.State())
}

// Link is the underlying link, nil before Open.
func (r *MessageReceiver) Link() *proton.Link { return r.currentLink() }

func (r *MessageReceiver) currentLink() *proton.Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link
}

// Open authenticates if required, then attaches the link, granting
// MaxLinkCredit, and waits for the peer's ATTACH.
func (r *MessageReceiver) Open(ctx context.Context) error {
	if r.opts.AuthenticationRequired {
		if err := authenticate(ctx, r.session, r.opts.Authenticator, r.source); err != nil {
			return err
		}
	}
	if old := r.currentLink(); old != nil && old.State() != proton.LinkStateDetached && old.State() != proton.LinkStateError {
		return errors.Wrap(proton.ErrIllegalState, "receiver already open")
	}
	l, err := r.session.CreateLink(r.opts.Name, proton.RoleReceiver,
		&amqp.Source{Address: r.source, Filter: r.opts.Filter},
		&amqp.Target{Address: r.opts.MessageTarget},
		proton.LinkOptions{
			ReceiverSettleMode: r.opts.SettleMode,
			MaxMessageSize:     r.opts.MaxMessageSize,
			MaxLinkCredit:      r.opts.MaxLinkCredit,
			Properties:         r.opts.Properties,
		}, (*receiverLinkEvents)(r))
	if err != nil {
		return errors.Wrapf(err, "create receiver %s", r.opts.Name)
	}
	r.mu.Lock()
	r.link = l
	r.mu.Unlock()
	r.closing.Store(false)
	if r.opts.EnableTrace {
		r.log.Info("attaching")
	}
	if err := l.Attach(); err != nil {
		return err
	}
	if err := waitAttached(ctx, l); err != nil {
		return errors.Wrapf(err, "attach receiver %s", r.opts.Name)
	}
	return nil
}

// Close detaches the link. Messages already received stay queued.
func (r *MessageReceiver) Close(ctx context.Context) error {
	r.closing.Store(true)
	l := r.currentLink()
	if l == nil {
		return nil
	}
	return closeLink(ctx, l)
}

// WaitForIncomingMessage polls the connection until a message arrives or
// the link is detached by the peer, which gives the detach error. A
// deadline gives proton.ErrTimeout, a cancellation proton.ErrCancelled.
func (r *MessageReceiver) WaitForIncomingMessage(ctx context.Context) (*ReceivedMessage, *amqp.Error, error) {
	in, err := r.queue.WaitForPolledResult(ctx, r.conn)
	if err != nil {
		return nil, nil, proton.ContextError(err)
	}
	return in.msg, in.err, nil
}

// TryWaitForIncomingMessage returns a queued message or error without
// waiting. ok is false if there is none.
func (r *MessageReceiver) TryWaitForIncomingMessage() (msg *ReceivedMessage, e *amqp.Error, ok bool) {
	in, ok := r.queue.TryWaitForResult()
	return in.msg, in.err, ok
}

// receiverLinkEvents adapts proton.LinkEvents, called with the connection
// locked.
type receiverLinkEvents MessageReceiver

func (e *receiverLinkEvents) OnLinkStateChanged(l *proton.Link, newState, oldState proton.LinkState) {
	r := (*MessageReceiver)(e)
	n, o := receiverState(newState), receiverState(oldState)
	if n != o {
		r.conn.Defer(func() { r.events.OnMessageReceiverStateChanged(r, n, o) })
	}
	if remoteDetached(newState, oldState) && !r.closing.Load() {
		err := l.Error()
		if err == nil {
			err = proton.ErrLinkDetached
		}
		r.log.Warnf("receiver disconnected: %v", err)
		ae := amqp.Error{Name: amqp.LinkDetachForced, Description: err.Error()}
		if e, ok := errors.Cause(err).(amqp.Error); ok {
			ae = e
		}
		r.queue.CompleteOperation(incoming{err: &ae})
		r.conn.Defer(func() { r.events.OnMessageReceiverDisconnected(r, err) })
	}
}

func (e *receiverLinkEvents) OnTransferReceived(l *proton.Link, d *proton.Delivery) amqp.DeliveryState {
	r := (*MessageReceiver)(e)
	m := &ReceivedMessage{Message: d.Message, DeliveryID: d.ID, DeliveryTag: d.Tag, r: r, link: l}
	if r.opts.EnableTrace {
		r.log.Infof("received delivery %d", d.ID)
	}
	var state amqp.DeliveryState
	switch {
	case r.handler != nil:
		state = r.handler.OnMessageReceived(r, m)
	case r.opts.SettleMode == proton.ReceiverSettleModeFirst:
		state = amqp.Accepted{}
	}
	if state != nil || d.Settled {
		m.settled.Store(true)
	}
	if r.handler == nil {
		r.queue.CompleteOperation(incoming{msg: m})
	}
	return state
}

func (e *receiverLinkEvents) OnLinkFlow(*proton.Link) {}
