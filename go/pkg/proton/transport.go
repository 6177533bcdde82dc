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
	"crypto/tls"
	"net"
	"strconv"
	"sync"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/pkg/errors"
)

// TransportOpenResult reports how a Transport.Open completed.
type TransportOpenResult int

const (
	TransportOpenInvalid TransportOpenResult = iota
	TransportOpenOk
	TransportOpenError
	TransportOpenTimeout
)

func (r TransportOpenResult) String() string {
	switch r {
	case TransportOpenOk:
		return "ok"
	case TransportOpenError:
		return "error"
	case TransportOpenTimeout:
		return "timeout"
	}
	return "invalid"
}

// TransportSendResult reports how a Transport.Send completed.
type TransportSendResult int

const (
	TransportSendInvalid TransportSendResult = iota
	TransportSendOk
	TransportSendError
)

func (r TransportSendResult) String() string {
	switch r {
	case TransportSendOk:
		return "ok"
	case TransportSendError:
		return "error"
	}
	return "invalid"
}

// TransportEvents receives transport notifications. All methods are called
// from Transport.Poll, on the polling goroutine.
type TransportEvents interface {
	OnOpenComplete(result TransportOpenResult, err error)
	OnBytesReceived(data []byte)
	OnIOError(err error)
}

// Transport moves bytes between a Connection and the network. I/O runs on
// internal goroutines; results are handed to the TransportEvents only from
// Poll, which never blocks.
type Transport interface {
	// Open starts connecting. Completion is reported by OnOpenComplete.
	Open(ctx context.Context) error
	// Send queues buf for writing. onComplete, if not nil, is called from
	// Poll once the bytes are written or the write failed.
	Send(buf []byte, onComplete func(TransportSendResult)) error
	// Close shuts the transport down. onComplete, if not nil, is called once
	// the I/O goroutines have exited.
	Close(onComplete func()) error
	// Poll delivers pending events to the event handler.
	Poll()
	// Ready is signalled when Poll has events to deliver.
	Ready() <-chan struct{}
	SetEventHandler(h TransportEvents)
}

// TransportFactory creates the transport for a connection to host:port.
type TransportFactory func(host string, port uint16) (Transport, error)

// DefaultTransportFactory uses TLS on amqp.TLSPort and plain TCP otherwise.
func DefaultTransportFactory(host string, port uint16) (Transport, error) {
	if port == amqp.TLSPort {
		return NewSocketTransport(host, port, &tls.Config{ServerName: host}), nil
	}
	return NewSocketTransport(host, port, nil), nil
}

type transportState int

const (
	transportIdle transportState = iota
	transportOpening
	transportOpen
	transportClosed
)

type pendingWrite struct {
	buf  []byte
	done func(TransportSendResult)
}

// socketTransport runs a net.Conn with a reader and a writer goroutine.
// Completed I/O is queued as events for Poll.
type socketTransport struct {
	dial func(ctx context.Context) (net.Conn, error)

	mu      sync.Mutex
	cond    *sync.Cond // Signals writes or close to the writer.
	state   transportState
	conn    net.Conn
	handler TransportEvents
	events  []func(TransportEvents)
	writes  []pendingWrite
	failed  bool
	running sync.WaitGroup
	ready   chan struct{}
}

func newSocketTransport(dial func(ctx context.Context) (net.Conn, error)) *socketTransport {
	t := &socketTransport{dial: dial, ready: make(chan struct{}, 1)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// NewSocketTransport returns a transport that dials host:port over TCP, or
// over TLS when config is not nil.
func NewSocketTransport(host string, port uint16, config *tls.Config) Transport {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	return newSocketTransport(func(ctx context.Context) (net.Conn, error) {
		if config != nil {
			if config.ServerName == "" {
				config = config.Clone()
				config.ServerName = host
			}
			d := &tls.Dialer{Config: config}
			return d.DialContext(ctx, "tcp", addr)
		}
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	})
}

// NewConnTransport returns a transport over an already connected conn, for
// example an accepted socket or one end of a net.Pipe.
func NewConnTransport(conn net.Conn) Transport {
	return newSocketTransport(func(context.Context) (net.Conn, error) { return conn, nil })
}

func (t *socketTransport) SetEventHandler(h TransportEvents) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *socketTransport) Ready() <-chan struct{} { return t.ready }

func (t *socketTransport) signal() {
	select {
	case t.ready <- struct{}{}:
	default:
	}
}

// queue adds an event for Poll. Must be called with t.mu held.
func (t *socketTransport) queue(e func(TransportEvents)) {
	t.events = append(t.events, e)
	t.signal()
}

func (t *socketTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != transportIdle {
		return errors.Wrap(ErrIllegalState, "transport already opened")
	}
	t.state = transportOpening
	t.running.Add(1)
	go func() {
		defer t.running.Done()
		conn, err := t.dial(ctx)
		t.mu.Lock()
		defer t.mu.Unlock()
		if err != nil {
			result := TransportOpenError
			if errors.Cause(ctx.Err()) == context.DeadlineExceeded {
				result = TransportOpenTimeout
			}
			t.state = transportClosed
			t.queue(func(h TransportEvents) { h.OnOpenComplete(result, err) })
			return
		}
		if t.state == transportClosed { // Closed while dialing.
			_ = conn.Close()
			return
		}
		t.conn = conn
		t.state = transportOpen
		t.running.Add(2)
		go t.reader(conn)
		go t.writer(conn)
		t.queue(func(h TransportEvents) { h.OnOpenComplete(TransportOpenOk, nil) })
	}()
	return nil
}

// fail reports the first I/O error. Must be called with t.mu held.
func (t *socketTransport) fail(err error) {
	if t.failed || t.state == transportClosed {
		return
	}
	t.failed = true
	t.queue(func(h TransportEvents) { h.OnIOError(err) })
}

func (t *socketTransport) reader(conn net.Conn) {
	defer t.running.Done()
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			bytesReceived.Add(float64(n))
			t.mu.Lock()
			t.queue(func(h TransportEvents) { h.OnBytesReceived(data) })
			t.mu.Unlock()
		}
		if err != nil {
			t.mu.Lock()
			t.fail(errors.Wrap(err, "read"))
			t.mu.Unlock()
			return
		}
	}
}

func (t *socketTransport) writer(conn net.Conn) {
	defer t.running.Done()
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		for len(t.writes) == 0 && t.state == transportOpen && !t.failed {
			t.cond.Wait()
		}
		if t.state != transportOpen || t.failed {
			for _, w := range t.writes {
				if w.done != nil {
					done := w.done
					t.queue(func(TransportEvents) { done(TransportSendError) })
				}
			}
			t.writes = nil
			return
		}
		w := t.writes[0]
		t.writes = t.writes[1:]
		t.mu.Unlock()
		_, err := conn.Write(w.buf)
		t.mu.Lock()
		result := TransportSendOk
		if err != nil {
			result = TransportSendError
			t.fail(errors.Wrap(err, "write"))
		} else {
			bytesSent.Add(float64(len(w.buf)))
		}
		if w.done != nil {
			done := w.done
			t.queue(func(TransportEvents) { done(result) })
		}
	}
}

func (t *socketTransport) Send(buf []byte, onComplete func(TransportSendResult)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.state == transportClosed:
		return ErrConnectionClosed
	case t.failed:
		return amqp.Errorf(amqp.ProtonIo, "transport failed")
	case t.state == transportIdle:
		return errors.Wrap(ErrIllegalState, "transport not opened")
	}
	t.writes = append(t.writes, pendingWrite{buf: buf, done: onComplete})
	t.cond.Signal()
	return nil
}

func (t *socketTransport) Close(onComplete func()) error {
	t.mu.Lock()
	if t.state == transportClosed {
		t.mu.Unlock()
		if onComplete != nil {
			onComplete()
		}
		return nil
	}
	t.state = transportClosed
	conn := t.conn
	t.cond.Broadcast()
	t.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	go func() {
		t.running.Wait()
		if onComplete != nil {
			t.mu.Lock()
			t.queue(func(TransportEvents) { onComplete() })
			t.mu.Unlock()
		}
	}()
	return err
}

func (t *socketTransport) Poll() {
	t.mu.Lock()
	events, h := t.events, t.handler
	t.events = nil
	t.mu.Unlock()
	for _, e := range events {
		if h != nil {
			e(h)
		}
	}
}
