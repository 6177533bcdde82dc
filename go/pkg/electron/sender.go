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

// MessageSendStatus is the result of sending one message.
type MessageSendStatus int

const (
	// MessageSendStatusInvalid is the zero value.
	MessageSendStatusInvalid MessageSendStatus = iota
	// MessageSendStatusOk means the message was accepted, or written when
	// the sender settles on send.
	MessageSendStatusOk
	// MessageSendStatusError means the message was refused or could not be
	// sent. SendResult.Err holds the reason.
	MessageSendStatusError
	// MessageSendStatusTimeout means the wait reached its deadline.
	MessageSendStatusTimeout
	// MessageSendStatusCancelled means the wait was cancelled.
	MessageSendStatusCancelled
)

func (s MessageSendStatus) String() string {
	switch s {
	case MessageSendStatusInvalid:
		return "invalid"
	case MessageSendStatusOk:
		return "ok"
	case MessageSendStatusError:
		return "error"
	case MessageSendStatusTimeout:
		return "timeout"
	case MessageSendStatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("MessageSendStatus(%d)", int(s))
}

// MessageSenderState is the state of a MessageSender.
type MessageSenderState int

const (
	MessageSenderStateInvalid MessageSenderState = iota
	MessageSenderStateClosed
	MessageSenderStateOpening
	MessageSenderStateOpen
	MessageSenderStateClosing
	MessageSenderStateError
)

var senderStateNames = []string{"Invalid", "Closed", "Opening", "Open", "Closing", "Error"}

func (s MessageSenderState) String() string {
	if s >= 0 && int(s) < len(senderStateNames) {
		return senderStateNames[s]
	}
	return fmt.Sprintf("MessageSenderState(%d)", int(s))
}

// senderState maps the link state to the sender state.
func senderState(s proton.LinkState) MessageSenderState {
	switch s {
	case proton.LinkStateHalfAttachedAttachSent, proton.LinkStateHalfAttachedAttachReceived:
		return MessageSenderStateOpening
	case proton.LinkStateAttached:
		return MessageSenderStateOpen
	case proton.LinkStateDetachSent, proton.LinkStateDetachReceived:
		return MessageSenderStateClosing
	case proton.LinkStateError:
		return MessageSenderStateError
	}
	return MessageSenderStateClosed
}

// MessageSenderOptions configures a MessageSender.
type MessageSenderOptions struct {
	// Name of the link, "sender-" and a UUID by default.
	Name string
	// SettleMode is the sender settle mode. With SenderSettleModeSettled a
	// send completes when the transfer is written.
	SettleMode proton.SenderSettleMode
	// MessageSource is the source address, the link name by default.
	MessageSource        string
	MaxMessageSize       uint64
	InitialDeliveryCount uint32
	// MaxLinkCredits limits how many messages may wait for credit. 0 is
	// unlimited.
	MaxLinkCredits uint32
	EnableTrace    bool
	// AuthenticationRequired puts a token for the target through
	// claims-based security before the link is attached.
	AuthenticationRequired bool
	// Authenticator is shared by links of the same session. When nil a
	// temporary one is used and closed once the token is put.
	Authenticator *Authenticator
	Properties    map[amqp.Symbol]interface{}
}

// MessageSenderEvents receives MessageSender notifications on the polling
// goroutine, outside the connection lock.
type MessageSenderEvents interface {
	OnMessageSenderStateChanged(s *MessageSender, newState, oldState MessageSenderState)
	// OnMessageSenderDisconnected is called when the peer detaches the link
	// or the session fails.
	OnMessageSenderDisconnected(s *MessageSender, err error)
}

type nopSenderEvents struct{}

func (nopSenderEvents) OnMessageSenderStateChanged(*MessageSender, MessageSenderState, MessageSenderState) {}
func (nopSenderEvents) OnMessageSenderDisconnected(*MessageSender, error)                                 {}

// SendResult is the outcome of one send.
type SendResult struct {
	Status MessageSendStatus
	// State is the delivery state from the peer, nil for a settled send.
	State amqp.DeliveryState
	// Err is the reason for any status other than Ok. A rejection carries
	// the peer's amqp.Error.
	Err error
}

// sendResult maps a link disposition to a SendResult.
func sendResult(state amqp.DeliveryState, err error) SendResult {
	if err != nil {
		return SendResult{Status: MessageSendStatusError, Err: err}
	}
	switch s := state.(type) {
	case nil, amqp.Accepted:
		return SendResult{Status: MessageSendStatusOk, State: state}
	case amqp.Rejected:
		if s.Error != nil {
			return SendResult{Status: MessageSendStatusError, State: state, Err: *s.Error}
		}
		return SendResult{Status: MessageSendStatusError, State: state, Err: errors.New("message rejected")}
	default:
		return SendResult{Status: MessageSendStatusError, State: state, Err: errors.Errorf("message %v", state)}
	}
}

// contextResult is the SendResult for an abandoned wait.
func contextResult(err error) SendResult {
	err = proton.ContextError(err)
	switch err {
	case proton.ErrTimeout:
		return SendResult{Status: MessageSendStatusTimeout, Err: err}
	case proton.ErrCancelled:
		return SendResult{Status: MessageSendStatusCancelled, Err: err}
	}
	return SendResult{Status: MessageSendStatusError, Err: err}
}

// SendOperation is a queued send.
type SendOperation struct {
	conn   *proton.Connection
	result *proton.AsyncOperationQueue[SendResult]
}

// WaitForOperationResult polls the connection until the send completes or
// ctx is done.
func (op *SendOperation) WaitForOperationResult(ctx context.Context) SendResult {
	r, err := op.result.WaitForPolledResult(ctx, op.conn)
	if err != nil {
		return contextResult(err)
	}
	return r
}

// MessageSender sends messages to a target address over one link.
type MessageSender struct {
	session *proton.Session
	conn    *proton.Connection
	target  string
	opts    MessageSenderOptions
	events  MessageSenderEvents
	log     *logrus.Entry

	mu      sync.Mutex
	link    *proton.Link
	closing atomic.Bool // Close was called, detach is not a disconnect.
}

// NewMessageSender creates a sender for target on session. It is attached
// by Open.
func NewMessageSender(session *proton.Session, target string, opts MessageSenderOptions, events MessageSenderEvents) *MessageSender {
	if events == nil {
		events = nopSenderEvents{}
	}
	opts.Name = linkName(opts.Name, "sender-")
	if opts.MessageSource == "" {
		opts.MessageSource = opts.Name
	}
	return &MessageSender{
		session: session,
		conn:    session.Connection(),
		target:  target,
		opts:    opts,
		events:  events,
		log:     log.WithFields(logrus.Fields{"link": opts.Name, "target": target}),
	}
}

// Name is the link name.
func (s *MessageSender) Name() string { return s.opts.Name }

// State of the sender.
func (s *MessageSender) State() MessageSenderState {
	l := s.currentLink()
	if l == nil {
		return MessageSenderStateClosed
	}
	return senderState(l.State())
}

// Link is the underlying link, nil before Open.
func (s *MessageSender) Link() *proton.Link { return s.currentLink() }

func (s *MessageSender) currentLink() *proton.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Open authenticates if required, then attaches the link and waits for the
// peer's ATTACH.
func (s *MessageSender) Open(ctx context.Context) error {
	if s.opts.AuthenticationRequired {
		if err := authenticate(ctx, s.session, s.opts.Authenticator, s.target); err != nil {
			return err
		}
	}
	if old := s.currentLink(); old != nil && old.State() != proton.LinkStateDetached && old.State() != proton.LinkStateError {
		return errors.Wrap(proton.ErrIllegalState, "sender already open")
	}
	l, err := s.session.CreateLink(s.opts.Name, proton.RoleSender,
		&amqp.Source{Address: s.opts.MessageSource},
		&amqp.Target{Address: s.target},
		proton.LinkOptions{
			SenderSettleMode:     s.opts.SettleMode,
			MaxMessageSize:       s.opts.MaxMessageSize,
			InitialDeliveryCount: s.opts.InitialDeliveryCount,
			Properties:           s.opts.Properties,
		}, (*senderLinkEvents)(s))
	if err != nil {
		return errors.Wrapf(err, "create sender %s", s.opts.Name)
	}
	s.mu.Lock()
	s.link = l
	s.mu.Unlock()
	s.closing.Store(false)
	if s.opts.EnableTrace {
		s.log.Info("attaching")
	}
	if err := l.Attach(); err != nil {
		return err
	}
	if err := waitAttached(ctx, l); err != nil {
		return errors.Wrapf(err, "attach sender %s", s.opts.Name)
	}
	return nil
}

// Close detaches the link. Closing a closed sender does nothing.
func (s *MessageSender) Close(ctx context.Context) error {
	s.closing.Store(true)
	l := s.currentLink()
	if l == nil {
		return nil
	}
	return closeLink(ctx, l)
}

// Send sends msg and waits for its outcome. The error is the reason for
// any status other than MessageSendStatusOk.
func (s *MessageSender) Send(ctx context.Context, msg amqp.Message) (MessageSendStatus, error) {
	r := s.QueueSend(msg).WaitForOperationResult(ctx)
	return r.Status, r.Err
}

// SendAsync sends msg and calls done once with the outcome, on the polling
// goroutine outside the connection lock. An error is returned, and done is
// not called, if the message cannot be queued.
func (s *MessageSender) SendAsync(msg amqp.Message, done func(SendResult)) error {
	l := s.currentLink()
	if l == nil {
		return errors.Wrap(proton.ErrIllegalState, "sender is not open")
	}
	if max := s.opts.MaxLinkCredits; max > 0 && uint32(l.Queued()) >= max {
		return amqp.Errorf(amqp.ResourceLimitExceeded, "%d messages already wait for credit", max)
	}
	settled := s.opts.SettleMode == proton.SenderSettleModeSettled
	return l.Transfer(msg, settled, func(state amqp.DeliveryState, err error) {
		r := sendResult(state, err)
		if s.opts.EnableTrace {
			s.log.Infof("send completed: %v", r.Status)
		}
		if done != nil {
			s.conn.Defer(func() { done(r) })
		}
	})
}

// QueueSend sends msg and returns an operation to wait on.
func (s *MessageSender) QueueSend(msg amqp.Message) *SendOperation {
	op := &SendOperation{conn: s.conn, result: proton.NewAsyncOperationQueue[SendResult]()}
	if err := s.SendAsync(msg, op.result.CompleteOperation); err != nil {
		op.result.CompleteOperation(SendResult{Status: MessageSendStatusError, Err: err})
	}
	return op
}

// senderLinkEvents adapts proton.LinkEvents. Calls are made with the
// connection locked, so user events are deferred.
type senderLinkEvents MessageSender

func (e *senderLinkEvents) OnLinkStateChanged(l *proton.Link, newState, oldState proton.LinkState) {
	s := (*MessageSender)(e)
	n, o := senderState(newState), senderState(oldState)
	if n != o {
		s.conn.Defer(func() { s.events.OnMessageSenderStateChanged(s, n, o) })
	}
	if remoteDetached(newState, oldState) && !s.closing.Load() {
		err := l.Error()
		if err == nil {
			err = proton.ErrLinkDetached
		}
		s.log.Warnf("sender disconnected: %v", err)
		s.conn.Defer(func() { s.events.OnMessageSenderDisconnected(s, err) })
	}
}

func (e *senderLinkEvents) OnTransferReceived(*proton.Link, *proton.Delivery) amqp.DeliveryState {
	return amqp.Released{}
}

func (e *senderLinkEvents) OnLinkFlow(*proton.Link) {}
