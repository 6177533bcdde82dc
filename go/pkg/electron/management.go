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

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Application property keys of management requests and responses.
const (
	ManagementOperationKey = "operation"
	ManagementTypeKey      = "type"
	ManagementLocalesKey   = "locales"

	DefaultManagementNodeName         = "$management"
	DefaultStatusCodeKeyName          = "statusCode"
	DefaultStatusDescriptionKeyName   = "statusDescription"
	alternateStatusCodeKeyName        = "status-code"
	alternateStatusDescriptionKeyName = "status-description"
	managementLinkCredit              = 100
	managementSenderSuffix            = "-sender"
	managementReceiverSuffix          = "-receiver"
)

// ManagementState is the state of a Management client.
type ManagementState int

const (
	ManagementStateIdle ManagementState = iota
	ManagementStateOpening
	ManagementStateOpen
	ManagementStateClosing
	ManagementStateError
)

var managementStateNames = []string{"Idle", "Opening", "Open", "Closing", "Error"}

func (s ManagementState) String() string {
	if s >= 0 && int(s) < len(managementStateNames) {
		return managementStateNames[s]
	}
	return fmt.Sprintf("ManagementState(%d)", int(s))
}

// ManagementOpenStatus is the result of Management.Open.
type ManagementOpenStatus int

const (
	ManagementOpenStatusInvalid ManagementOpenStatus = iota
	ManagementOpenStatusOk
	ManagementOpenStatusError
	ManagementOpenStatusCancelled
)

func (s ManagementOpenStatus) String() string {
	switch s {
	case ManagementOpenStatusOk:
		return "ok"
	case ManagementOpenStatusError:
		return "error"
	case ManagementOpenStatusCancelled:
		return "cancelled"
	}
	return "invalid"
}

// ManagementOperationStatus is the result of one management operation.
type ManagementOperationStatus int

const (
	// ManagementOperationStatusInvalid means the response had no status code.
	ManagementOperationStatusInvalid ManagementOperationStatus = iota
	// ManagementOperationStatusOk means the status code was 2xx.
	ManagementOperationStatusOk
	// ManagementOperationStatusError means the request could not be sent or
	// the links failed.
	ManagementOperationStatusError
	// ManagementOperationStatusFailedBadStatus means the node answered with
	// a status code outside 2xx.
	ManagementOperationStatusFailedBadStatus
	// ManagementOperationStatusCancelled means the wait was cancelled.
	ManagementOperationStatusCancelled
)

func (s ManagementOperationStatus) String() string {
	switch s {
	case ManagementOperationStatusOk:
		return "ok"
	case ManagementOperationStatusError:
		return "error"
	case ManagementOperationStatusFailedBadStatus:
		return "failed-bad-status"
	case ManagementOperationStatusCancelled:
		return "cancelled"
	}
	return "invalid"
}

// ManagementOperationResult is the outcome of ExecuteOperation.
type ManagementOperationResult struct {
	Status      ManagementOperationStatus
	StatusCode  uint32
	Description string
	// Message is the response, nil if none arrived.
	Message amqp.Message

	err error
}

// ManagementOptions configures a Management client.
type ManagementOptions struct {
	EnableTrace bool
	// ExpectedStatusCodeKeyName is the response property holding the
	// status, "statusCode" by default. "status-code" is also accepted.
	ExpectedStatusCodeKeyName        string
	ExpectedStatusDescriptionKeyName string
	// ManagementNodeName names the links and the reply address,
	// "$management" by default.
	ManagementNodeName string
}

// ManagementEvents receives errors that end the management links.
type ManagementEvents interface {
	OnError(m *Management, e amqp.Error)
}

type nopManagementEvents struct{}

func (nopManagementEvents) OnError(*Management, amqp.Error) {}

// Management runs request/response operations against a management node.
// Requests go out on a sender link to the node; responses come back on a
// receiver link whose target is a private reply address and are matched to
// requests by correlation-id.
type Management struct {
	session *proton.Session
	conn    *proton.Connection
	entity  string
	opts    ManagementOptions
	events  ManagementEvents
	log     *logrus.Entry

	mu       sync.Mutex
	state    ManagementState
	sender   *MessageSender
	receiver *MessageReceiver
	replyTo  string
	pending  map[string]*proton.AsyncOperationQueue[ManagementOperationResult]
}

// NewManagement creates a management client for the node at entity.
func NewManagement(session *proton.Session, entity string, opts ManagementOptions, events ManagementEvents) *Management {
	if opts.ManagementNodeName == "" {
		opts.ManagementNodeName = DefaultManagementNodeName
	}
	if opts.ExpectedStatusCodeKeyName == "" {
		opts.ExpectedStatusCodeKeyName = DefaultStatusCodeKeyName
	}
	if opts.ExpectedStatusDescriptionKeyName == "" {
		opts.ExpectedStatusDescriptionKeyName = DefaultStatusDescriptionKeyName
	}
	if events == nil {
		events = nopManagementEvents{}
	}
	return &Management{
		session: session,
		conn:    session.Connection(),
		entity:  entity,
		opts:    opts,
		events:  events,
		log:     log.WithField("management", entity),
		pending: make(map[string]*proton.AsyncOperationQueue[ManagementOperationResult]),
	}
}

// State of the management client.
func (m *Management) State() ManagementState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReplyTo is the reply address of the current links.
func (m *Management) ReplyTo() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replyTo
}

func (m *Management) setState(s ManagementState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// Open attaches the sender and receiver links concurrently and waits until
// both are attached. A closed Management may be opened again.
func (m *Management) Open(ctx context.Context) (ManagementOpenStatus, error) {
	m.mu.Lock()
	if m.state == ManagementStateOpening || m.state == ManagementStateOpen {
		m.mu.Unlock()
		return ManagementOpenStatusError, errors.Wrapf(proton.ErrIllegalState, "management %s is %s", m.entity, m.state)
	}
	node := m.opts.ManagementNodeName
	m.state = ManagementStateOpening
	m.replyTo = node + managementReceiverSuffix + "-" + amqp.NewUUID().String()
	m.sender = NewMessageSender(m.session, m.entity, MessageSenderOptions{
		Name:        node + managementSenderSuffix,
		SettleMode:  proton.SenderSettleModeUnsettled,
		EnableTrace: m.opts.EnableTrace,
	}, (*managementSenderEvents)(m))
	m.receiver = NewMessageReceiver(m.session, m.entity, MessageReceiverOptions{
		Name:          node + managementReceiverSuffix,
		SettleMode:    proton.ReceiverSettleModeFirst,
		MessageTarget: m.replyTo,
		MaxLinkCredit: managementLinkCredit,
		EnableTrace:   m.opts.EnableTrace,
	}, (*managementReceiverEvents)(m))
	sender, receiver := m.sender, m.receiver
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sender.Open(gctx) })
	g.Go(func() error { return receiver.Open(gctx) })
	if err := g.Wait(); err != nil {
		m.log.Warnf("open failed: %v", err)
		m.setState(ManagementStateError)
		_ = sender.Close(ctx)
		_ = receiver.Close(ctx)
		if errors.Cause(err) == proton.ErrCancelled {
			return ManagementOpenStatusCancelled, err
		}
		return ManagementOpenStatusError, err
	}
	m.setState(ManagementStateOpen)
	if m.opts.EnableTrace {
		m.log.Infof("open, replies to %s", m.replyTo)
	}
	return ManagementOpenStatusOk, nil
}

// Close detaches both links and cancels operations still waiting.
func (m *Management) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state == ManagementStateIdle {
		m.mu.Unlock()
		return nil
	}
	m.state = ManagementStateClosing
	sender, receiver := m.sender, m.receiver
	pending := m.takePending()
	m.mu.Unlock()

	for _, q := range pending {
		q.CompleteOperation(ManagementOperationResult{Status: ManagementOperationStatusCancelled, err: proton.ErrCancelled})
	}
	err := sender.Close(ctx)
	if rerr := receiver.Close(ctx); err == nil {
		err = rerr
	}
	m.mu.Lock()
	m.state, m.sender, m.receiver = ManagementStateIdle, nil, nil
	m.mu.Unlock()
	return err
}

// takePending must be called with m.mu held.
func (m *Management) takePending() map[string]*proton.AsyncOperationQueue[ManagementOperationResult] {
	pending := m.pending
	m.pending = make(map[string]*proton.AsyncOperationQueue[ManagementOperationResult])
	return pending
}

// ExecuteOperation sends msg as a request for operation on an entity of
// typ and waits for the response. locales may be empty. A status code
// outside 2xx is reported as ManagementOperationStatusFailedBadStatus with a
// nil error; the error is set for Error and Cancelled results.
func (m *Management) ExecuteOperation(ctx context.Context, operation, typ, locales string, msg amqp.Message) (ManagementOperationResult, error) {
	id := amqp.NewUUID().String()
	q := proton.NewAsyncOperationQueue[ManagementOperationResult]()
	m.mu.Lock()
	if m.state != ManagementStateOpen {
		state := m.state
		m.mu.Unlock()
		return ManagementOperationResult{Status: ManagementOperationStatusError},
			errors.Wrapf(proton.ErrIllegalState, "management %s is %s", m.entity, state)
	}
	sender, replyTo := m.sender, m.replyTo
	m.pending[id] = q
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}()

	msg.SetMessageId(id)
	msg.SetReplyTo(replyTo)
	props := msg.ApplicationProperties()
	props[ManagementOperationKey] = operation
	props[ManagementTypeKey] = typ
	if locales != "" {
		props[ManagementLocalesKey] = locales
	}
	if m.opts.EnableTrace {
		m.log.Infof("request %s %s %s", id, operation, typ)
	}
	err := sender.SendAsync(msg, func(r SendResult) {
		if r.Status != MessageSendStatusOk {
			q.CompleteOperation(ManagementOperationResult{Status: ManagementOperationStatusError, err: errors.Wrap(r.Err, "send request")})
		}
	})
	if err != nil {
		return ManagementOperationResult{Status: ManagementOperationStatusError}, errors.Wrap(err, "send request")
	}
	res, err := q.WaitForPolledResult(ctx, m.conn)
	if err != nil {
		err = proton.ContextError(err)
		if err == proton.ErrCancelled {
			return ManagementOperationResult{Status: ManagementOperationStatusCancelled}, err
		}
		return ManagementOperationResult{Status: ManagementOperationStatusError}, err
	}
	return res, res.err
}

// response builds the result of a response message.
func (m *Management) response(msg amqp.Message) ManagementOperationResult {
	props := msg.ApplicationProperties()
	res := ManagementOperationResult{Message: msg}
	code, ok := uint32Property(props, m.opts.ExpectedStatusCodeKeyName, alternateStatusCodeKeyName, DefaultStatusCodeKeyName)
	if !ok {
		res.err = errors.Errorf("response has no %s property", m.opts.ExpectedStatusCodeKeyName)
		return res
	}
	res.StatusCode = code
	res.Description = stringProperty(props, m.opts.ExpectedStatusDescriptionKeyName, alternateStatusDescriptionKeyName, DefaultStatusDescriptionKeyName)
	if code >= 200 && code < 300 {
		res.Status = ManagementOperationStatusOk
	} else {
		res.Status = ManagementOperationStatusFailedBadStatus
	}
	return res
}

// fail completes waiting operations with err and reports it.
func (m *Management) fail(err error) {
	m.mu.Lock()
	if m.state != ManagementStateOpen {
		m.mu.Unlock()
		return
	}
	m.state = ManagementStateError
	pending := m.takePending()
	m.mu.Unlock()
	for _, q := range pending {
		q.CompleteOperation(ManagementOperationResult{Status: ManagementOperationStatusError, err: err})
	}
	m.log.Warnf("links failed: %v", err)
	m.events.OnError(m, amqp.MakeError(errors.Cause(err)))
}

func uint32Property(props map[string]interface{}, keys ...string) (uint32, bool) {
	for _, k := range keys {
		switch v := props[k].(type) {
		case int8:
			return uint32(v), true
		case int16:
			return uint32(v), true
		case int32:
			return uint32(v), true
		case int64:
			return uint32(v), true
		case int:
			return uint32(v), true
		case uint8:
			return uint32(v), true
		case uint16:
			return uint32(v), true
		case uint32:
			return v, true
		case uint64:
			return uint32(v), true
		}
	}
	return 0, false
}

func stringProperty(props map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := props[k].(type) {
		case string:
			return v
		case amqp.Symbol:
			return string(v)
		}
	}
	return ""
}

type managementSenderEvents Management

func (e *managementSenderEvents) OnMessageSenderStateChanged(*MessageSender, MessageSenderState, MessageSenderState) {}

func (e *managementSenderEvents) OnMessageSenderDisconnected(_ *MessageSender, err error) {
	(*Management)(e).fail(err)
}

type managementReceiverEvents Management

func (e *managementReceiverEvents) OnMessageReceiverStateChanged(*MessageReceiver, MessageReceiverState, MessageReceiverState) {}

func (e *managementReceiverEvents) OnMessageReceiverDisconnected(_ *MessageReceiver, err error) {
	(*Management)(e).fail(err)
}

// OnMessageReceived routes a response to the waiting operation.
func (e *managementReceiverEvents) OnMessageReceived(_ *MessageReceiver, rm *ReceivedMessage) amqp.DeliveryState {
	m := (*Management)(e)
	key := fmt.Sprint(rm.CorrelationId())
	m.mu.Lock()
	q := m.pending[key]
	m.mu.Unlock()
	if q == nil {
		m.log.Warnf("dropping response with unknown correlation-id %v", rm.CorrelationId())
		return amqp.Accepted{}
	}
	q.CompleteOperation(m.response(rm.Message))
	return amqp.Accepted{}
}
