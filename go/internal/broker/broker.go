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

// Package broker is a small in-process AMQP 1.0 peer for tests and the
// example broker. It stores messages in a FIFO queue per address, and serves
// the "$cbs", "$management" and "$echo" request/response nodes.
package broker

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("pkg", "broker")

const (
	linkCredit    = 100
	sessionWindow = 5000
)

// EventHub is what "$management" reports for READ requests.
type EventHub struct {
	Name         string
	CreatedAt    time.Time
	PartitionIDs []string
}

// Options configures a Broker.
type Options struct {
	ContainerID string
	EnableTrace bool
	// Users enables SASL PLAIN with these user names and passwords.
	// ANONYMOUS is always offered.
	Users    map[string]string
	EventHub EventHub
}

// Broker accepts AMQP connections and routes messages between them.
//
// Engine callbacks only schedule work with Connection.Defer, so b.mu is
// never taken with a connection locked.
type Broker struct {
	opts Options
	log  *logrus.Entry

	mu     sync.Mutex
	queues map[string]*queue
	conns  map[*proton.Connection]bool
	tokens map[string]time.Time // Authorized audience to expiry.
}

// New returns a broker with no connections.
func New(opts Options) *Broker {
	if opts.ContainerID == "" {
		opts.ContainerID = "broker"
	}
	if opts.EventHub.Name == "" {
		opts.EventHub = EventHub{Name: "eventhub", CreatedAt: time.Now().UTC().Truncate(time.Millisecond), PartitionIDs: []string{"0", "1"}}
	}
	return &Broker{
		opts:   opts,
		log:    log.WithField("container", opts.ContainerID),
		queues: make(map[string]*queue),
		conns:  make(map[*proton.Connection]bool),
		tokens: make(map[string]time.Time),
	}
}

// Serve accepts connections on l until ctx is done or Accept fails. It
// closes l and every connection before returning.
func (b *Broker) Serve(ctx context.Context, l net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "accept")
			}
			if _, err := b.Accept(conn); err != nil {
				b.log.Warnf("connection from %s: %v", conn.RemoteAddr(), err)
				_ = conn.Close()
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		_ = l.Close()
		return nil
	})
	err := g.Wait()
	b.Close()
	return err
}

// Accept starts serving conn. The client must begin with SASL.
func (b *Broker) Accept(conn net.Conn) (*proton.Connection, error) {
	sasl := proton.SaslServerOptions{AllowAnonymous: true}
	if len(b.opts.Users) > 0 {
		sasl.CheckPlain = func(user, password string) bool {
			p, ok := b.opts.Users[user]
			return ok && p == password
		}
	}
	t := proton.NewSaslServerTransport(proton.NewConnTransport(conn), sasl)
	c, err := proton.NewConnectionFromTransport(t, proton.ConnectionOptions{
		ContainerID: b.opts.ContainerID,
		EnableTrace: b.opts.EnableTrace,
	}, (*connectionEvents)(b))
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.conns[c] = true
	b.mu.Unlock()
	if err := c.Listen(); err != nil {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		return nil, err
	}
	b.log.Debugf("accepted %s", conn.RemoteAddr())
	return c, nil
}

// Close closes every connection.
func (b *Broker) Close() {
	b.mu.Lock()
	conns := make([]*proton.Connection, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(amqp.ConnectionForced, "broker shutting down", nil)
	}
}

// Connections is the number of open connections.
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Authorized is true if a token was put for audience and has not expired.
func (b *Broker) Authorized(audience string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiry, ok := b.tokens[audience]
	return ok && (expiry.IsZero() || time.Now().Before(expiry))
}

type connectionEvents Broker

func (e *connectionEvents) OnConnectionStateChanged(c *proton.Connection, newState, oldState proton.ConnectionState) {
	b := (*Broker)(e)
	switch newState {
	case proton.ConnectionStateEnd, proton.ConnectionStateError:
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		if err := c.Error(); err != nil && newState == proton.ConnectionStateError {
			b.log.Infof("connection %s failed: %v", c, err)
		}
		c.Destroy()
	}
}

func (e *connectionEvents) OnIOError(c *proton.Connection) {
	(*Broker)(e).log.Debugf("connection %s: %v", c, c.Error())
}

func (e *connectionEvents) OnNewEndpoint(c *proton.Connection, ep *proton.Endpoint) bool {
	ep.Configure(proton.SessionOptions{IncomingWindow: sessionWindow, OutgoingWindow: sessionWindow}, (*sessionEvents)(e))
	return true
}

type sessionEvents Broker

func (e *sessionEvents) OnSessionStateChanged(*proton.Session, proton.SessionState, proton.SessionState) {}

// OnLinkEndpoint accepts every link. A sending link on a node serves the
// replies addressed to its target.
func (e *sessionEvents) OnLinkEndpoint(s *proton.Session, ep *proton.LinkEndpoint) bool {
	a := ep.RemoteAttach()
	bl := &link{b: (*Broker)(e)}
	if ep.Role() == proton.RoleReceiver {
		if a.Target == nil {
			return false
		}
		bl.address = a.Target.Address
		ep.Configure(proton.LinkOptions{MaxLinkCredit: linkCredit}, bl)
		return true
	}
	if a.Source == nil {
		return false
	}
	bl.address = a.Source.Address
	if isNode(bl.address) && a.Target != nil {
		bl.address = a.Target.Address
	}
	ep.Configure(proton.LinkOptions{}, bl)
	return true
}

// link is the broker end of a client link, named by the queue or node
// address it serves.
type link struct {
	b       *Broker
	address string
}

func (bl *link) OnLinkStateChanged(l *proton.Link, newState, oldState proton.LinkState) {
	if l.Role() != proton.RoleSender {
		return
	}
	c := l.Session().Connection()
	switch newState {
	case proton.LinkStateAttached:
		c.Defer(func() { bl.b.subscribe(bl.address, l) })
	case proton.LinkStateDetached, proton.LinkStateError:
		c.Defer(func() { bl.b.unsubscribe(bl.address, l) })
	}
}

func (bl *link) OnTransferReceived(l *proton.Link, d *proton.Delivery) amqp.DeliveryState {
	msg, payload := d.Message, d.Payload
	l.Session().Connection().Defer(func() {
		if isNode(bl.address) {
			bl.b.request(bl.address, msg)
		} else {
			bl.b.publish(bl.address, payload)
		}
	})
	return amqp.Accepted{}
}

func (bl *link) OnLinkFlow(l *proton.Link) {
	if l.Role() == proton.RoleSender {
		l.Session().Connection().Defer(func() { bl.b.pump(bl.address) })
	}
}
