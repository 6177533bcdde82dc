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
	"bytes"
	"context"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/pkg/errors"
)

const (
	saslAnonymous = amqp.Symbol("ANONYMOUS")
	saslPlain     = amqp.Symbol("PLAIN")
)

// SaslMechanism is the client side of a SASL mechanism.
type SaslMechanism interface {
	Name() amqp.Symbol
	InitialResponse() []byte
	// Challenge returns the response to a server challenge.
	Challenge(challenge []byte) ([]byte, error)
}

type anonymous struct{}

// SaslAnonymous is the ANONYMOUS mechanism.
func SaslAnonymous() SaslMechanism { return anonymous{} }

func (anonymous) Name() amqp.Symbol                { return saslAnonymous }
func (anonymous) InitialResponse() []byte          { return []byte{} }
func (anonymous) Challenge([]byte) ([]byte, error) { return []byte{}, nil }

type plain struct{ user, password string }

// SaslPlain is the PLAIN mechanism with the given user and password.
func SaslPlain(user, password string) SaslMechanism { return plain{user, password} }

func (plain) Name() amqp.Symbol { return saslPlain }

func (p plain) InitialResponse() []byte {
	return []byte("\x00" + p.user + "\x00" + p.password)
}

func (plain) Challenge([]byte) ([]byte, error) {
	return nil, errors.New("PLAIN does not expect a challenge")
}

// SaslServerOptions configures the server side of the SASL handshake.
type SaslServerOptions struct {
	// AllowAnonymous offers ANONYMOUS.
	AllowAnonymous bool
	// CheckPlain, if set, offers PLAIN and validates credentials.
	CheckPlain func(user, password string) bool
}

func (o SaslServerOptions) mechanisms() []amqp.Symbol {
	var m []amqp.Symbol
	if o.CheckPlain != nil {
		m = append(m, saslPlain)
	}
	if o.AllowAnonymous {
		m = append(m, saslAnonymous)
	}
	return m
}

// saslTransport runs the SASL exchange on an inner transport, then hands
// the byte stream to the outer handler.
type saslTransport struct {
	inner   Transport
	handler TransportEvents
	trace   tracer

	// Client side.
	mechanism SaslMechanism
	hostname  string

	// Server side.
	server *SaslServerOptions

	headerRcvd bool
	done       bool
	input      []byte
	pending    []pendingWrite
}

// NewSaslClientTransport negotiates mechanism with the server before
// reporting OnOpenComplete.
func NewSaslClientTransport(inner Transport, mechanism SaslMechanism, hostname string) Transport {
	t := &saslTransport{
		inner:     inner,
		mechanism: mechanism,
		hostname:  hostname,
		trace:     tracer{entry: log.WithField("layer", "sasl")},
	}
	inner.SetEventHandler(t)
	return t
}

// NewSaslServerTransport authenticates the client before reporting
// OnOpenComplete.
func NewSaslServerTransport(inner Transport, opts SaslServerOptions) Transport {
	t := &saslTransport{
		inner:  inner,
		server: &opts,
		trace:  tracer{entry: log.WithField("layer", "sasl")},
	}
	inner.SetEventHandler(t)
	return t
}

func (t *saslTransport) SetEventHandler(h TransportEvents) { t.handler = h }
func (t *saslTransport) Open(ctx context.Context) error    { return t.inner.Open(ctx) }
func (t *saslTransport) Close(onComplete func()) error     { return t.inner.Close(onComplete) }
func (t *saslTransport) Poll()                             { t.inner.Poll() }
func (t *saslTransport) Ready() <-chan struct{}            { return t.inner.Ready() }

func (t *saslTransport) Send(buf []byte, onComplete func(TransportSendResult)) error {
	if !t.done {
		t.pending = append(t.pending, pendingWrite{buf: buf, done: onComplete})
		return nil
	}
	return t.inner.Send(buf, onComplete)
}

func (t *saslTransport) send(body interface{}, withHeader bool) {
	var buf []byte
	if withHeader {
		buf = append(buf, saslHeader...)
	}
	buf, err := appendFrame(buf, frameTypeSASL, 0, body, nil)
	if err == nil {
		t.trace.frame("->", 0, body)
		framesSent.WithLabelValues(performativeName(body)).Inc()
		err = t.inner.Send(buf, nil)
	}
	if err != nil {
		t.fail(err)
	}
}

func (t *saslTransport) fail(err error) {
	if t.done {
		return
	}
	t.done = true
	if t.handler != nil {
		t.handler.OnOpenComplete(TransportOpenError, err)
	}
}

func (t *saslTransport) OnOpenComplete(result TransportOpenResult, err error) {
	if result != TransportOpenOk {
		t.done = true
		if t.handler != nil {
			t.handler.OnOpenComplete(result, err)
		}
		return
	}
	if t.server != nil {
		t.send(&SaslMechanisms{Mechanisms: t.server.mechanisms()}, true)
	} else {
		if err := t.inner.Send(append([]byte(nil), saslHeader...), nil); err != nil {
			t.fail(err)
		}
	}
}

func (t *saslTransport) OnIOError(err error) {
	if !t.done {
		t.fail(err)
		return
	}
	if t.handler != nil {
		t.handler.OnIOError(err)
	}
}

func (t *saslTransport) OnBytesReceived(data []byte) {
	if t.done {
		if t.handler != nil {
			t.handler.OnBytesReceived(data)
		}
		return
	}
	t.input = append(t.input, data...)
	if !t.headerRcvd {
		if len(t.input) < len(saslHeader) {
			return
		}
		if !bytes.Equal(t.input[:len(saslHeader)], saslHeader) {
			t.fail(amqp.Errorf(amqp.ConnectionFramingError, "expected SASL header, got %q", t.input[:len(saslHeader)]))
			return
		}
		t.headerRcvd = true
		t.input = t.input[len(saslHeader):]
	}
	for !t.done {
		f, n, err := readFrame(t.input, 0)
		if err != nil {
			t.fail(err)
			return
		}
		if n == 0 {
			return
		}
		t.input = t.input[n:]
		if f.frameType != frameTypeSASL {
			t.fail(amqp.Errorf(amqp.ConnectionFramingError, "unexpected frame type %d during SASL", f.frameType))
			return
		}
		t.trace.frame("<-", f.channel, f.body)
		framesReceived.WithLabelValues(performativeName(f.body)).Inc()
		if t.server != nil {
			t.serverFrame(f.body)
		} else {
			t.clientFrame(f.body)
		}
	}
}

func (t *saslTransport) clientFrame(body interface{}) {
	switch b := body.(type) {
	case *SaslMechanisms:
		name := t.mechanism.Name()
		for _, m := range b.Mechanisms {
			if m == name {
				t.send(&SaslInit{Mechanism: name, InitialResponse: t.mechanism.InitialResponse(), Hostname: t.hostname}, false)
				return
			}
		}
		t.fail(amqp.Errorf(amqp.NotImplemented, "server does not offer SASL mechanism %s, offered %v", name, b.Mechanisms))
	case *SaslChallenge:
		resp, err := t.mechanism.Challenge(b.Challenge)
		if err != nil {
			t.fail(amqp.Errorf(amqp.UnauthorizedAccess, "%v", err))
			return
		}
		t.send(&SaslResponse{Response: resp}, false)
	case *SaslOutcome:
		if b.Code != SaslOk {
			t.fail(amqp.Errorf(amqp.UnauthorizedAccess, "SASL authentication failed: outcome %s", b.Code))
			return
		}
		t.complete()
	default:
		t.fail(amqp.Errorf(amqp.ConnectionFramingError, "unexpected SASL frame %v", body))
	}
}

func (t *saslTransport) serverFrame(body interface{}) {
	b, ok := body.(*SaslInit)
	if !ok {
		t.fail(amqp.Errorf(amqp.ConnectionFramingError, "unexpected SASL frame %v", body))
		return
	}
	code := SaslAuth
	switch {
	case b.Mechanism == saslAnonymous && t.server.AllowAnonymous:
		code = SaslOk
	case b.Mechanism == saslPlain && t.server.CheckPlain != nil:
		parts := bytes.SplitN(b.InitialResponse, []byte{0}, 3)
		if len(parts) == 3 && t.server.CheckPlain(string(parts[1]), string(parts[2])) {
			code = SaslOk
		}
	}
	t.send(&SaslOutcome{Code: code}, false)
	if code != SaslOk {
		t.fail(amqp.Errorf(amqp.UnauthorizedAccess, "SASL %s authentication failed", b.Mechanism))
		return
	}
	t.complete()
}

// complete ends the exchange, flushes writes queued during it and passes
// on any bytes that followed the outcome.
func (t *saslTransport) complete() {
	t.done = true
	pending, rest := t.pending, t.input
	t.pending, t.input = nil, nil
	if t.handler != nil {
		t.handler.OnOpenComplete(TransportOpenOk, nil)
	}
	for _, w := range pending {
		if err := t.inner.Send(w.buf, w.done); err != nil && w.done != nil {
			w.done(TransportSendError)
		}
	}
	if len(rest) > 0 && t.handler != nil {
		t.handler.OnBytesReceived(rest)
	}
}
