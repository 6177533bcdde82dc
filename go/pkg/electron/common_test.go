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
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coreamqp/coreamqp/go/internal/broker"
	"github.com/coreamqp/coreamqp/go/internal/test"
	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/credential"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
)

const (
	timeout  = 5 * time.Second
	testHost = "test.servicebus.windows.net"
)

var testHub = broker.EventHub{
	Name:         "hub",
	CreatedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	PartitionIDs: []string{"0", "1", "2"},
}

func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// pair is a client session connected to an in-process broker over a net.Pipe.
type pair struct {
	t       testing.TB
	broker  *broker.Broker
	conn    *proton.Connection
	session *proton.Session
}

func newPair(t testing.TB, cred credential.TokenCredential) *pair {
	t.Helper()
	p := &pair{t: t, broker: broker.New(broker.Options{EventHub: testHub})}
	cConn, sConn := net.Pipe()
	_, err := p.broker.Accept(sConn)
	test.FatalIf(t, err)
	p.conn, err = proton.NewConnection(testHost, cred, proton.ConnectionOptions{
		ContainerID:     "client",
		SaslCredentials: proton.SaslAnonymous(),
		TransportFactory: func(string, uint16) (proton.Transport, error) {
			return proton.NewConnTransport(cConn), nil
		},
	}, nil)
	test.FatalIf(t, err)
	ctx := testContext(t)
	test.FatalIf(t, p.conn.Open(ctx))
	test.FatalIf(t, p.conn.WaitOpened(ctx))
	t.Cleanup(p.close)
	p.session = p.newSession()
	return p
}

func (p *pair) newSession() *proton.Session {
	p.t.Helper()
	s, err := p.conn.CreateSession(proton.SessionOptions{IncomingWindow: 100, OutgoingWindow: 100}, nil)
	test.FatalIf(p.t, err)
	test.FatalIf(p.t, s.Begin())
	test.FatalIf(p.t, p.conn.WaitFor(testContext(p.t), func() (bool, error) {
		return s.State() == proton.SessionStateMapped, s.Error()
	}))
	return s
}

func (p *pair) close() {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = p.conn.Close("", "", nil)
	_ = p.conn.WaitClosed(ctx)
	p.conn.Destroy()
}

// sender opens a sender to target.
func (p *pair) sender(target string, opts MessageSenderOptions, events MessageSenderEvents) *MessageSender {
	p.t.Helper()
	s := NewMessageSender(p.session, target, opts, events)
	test.FatalIf(p.t, s.Open(testContext(p.t)))
	return s
}

// receiver opens a receiver from source.
func (p *pair) receiver(source string, opts MessageReceiverOptions, events MessageReceiverEvents) *MessageReceiver {
	p.t.Helper()
	r := NewMessageReceiver(p.session, source, opts, events)
	test.FatalIf(p.t, r.Open(testContext(p.t)))
	return r
}

func (p *pair) send(s *MessageSender, bodies ...string) {
	p.t.Helper()
	for _, b := range bodies {
		status, err := s.Send(testContext(p.t), amqp.NewMessageWith(b))
		test.FatalIf(p.t, err)
		if status != MessageSendStatusOk {
			p.t.Fatalf("send %q: %v", b, status)
		}
	}
}

func (p *pair) receive(r *MessageReceiver) *ReceivedMessage {
	p.t.Helper()
	m, e, err := r.WaitForIncomingMessage(testContext(p.t))
	test.FatalIf(p.t, err)
	if e != nil {
		p.t.Fatalf("receive: %v", *e)
	}
	return m
}

// recorder records sender and receiver events.
type recorder struct {
	mu             sync.Mutex
	senderStates   []MessageSenderState
	receiverStates []MessageReceiverState
	disconnected   []error
}

func (r *recorder) OnMessageSenderStateChanged(_ *MessageSender, newState, _ MessageSenderState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senderStates = append(r.senderStates, newState)
}

func (r *recorder) OnMessageSenderDisconnected(_ *MessageSender, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, err)
}

func (r *recorder) OnMessageReceiverStateChanged(_ *MessageReceiver, newState, _ MessageReceiverState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receiverStates = append(r.receiverStates, newState)
}

func (r *recorder) OnMessageReceiverDisconnected(_ *MessageReceiver, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, err)
}

func (r *recorder) disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disconnected)
}
