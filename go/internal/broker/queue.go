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

package broker

import (
	"time"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
)

// queue holds encoded messages for an address and the links consuming them.
type queue struct {
	messages  [][]byte
	consumers []*proton.Link
	next      int // Round-robin position in consumers.

	enqueued     int64
	lastEnqueued time.Time
}

// queue must be called with b.mu held.
func (b *Broker) queue(address string) *queue {
	q := b.queues[address]
	if q == nil {
		q = &queue{}
		b.queues[address] = q
	}
	return q
}

// Depth is the number of messages waiting at address.
func (b *Broker) Depth(address string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q := b.queues[address]; q != nil {
		return len(q.messages)
	}
	return 0
}

func (b *Broker) subscribe(address string, l *proton.Link) {
	b.mu.Lock()
	q := b.queue(address)
	q.consumers = append(q.consumers, l)
	b.mu.Unlock()
	b.pump(address)
}

func (b *Broker) unsubscribe(address string, l *proton.Link) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q := b.queues[address]; q != nil {
		q.remove(l)
	}
}

func (q *queue) remove(l *proton.Link) {
	for i, c := range q.consumers {
		if c == l {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			return
		}
	}
}

// publish appends an encoded message to address.
func (b *Broker) publish(address string, payload []byte) {
	b.mu.Lock()
	q := b.queue(address)
	q.messages = append(q.messages, payload)
	q.enqueued++
	q.lastEnqueued = time.Now().UTC()
	b.mu.Unlock()
	b.pump(address)
}

// requeue returns a released message to the head of its queue.
func (b *Broker) requeue(address string, payload []byte) {
	b.mu.Lock()
	q := b.queue(address)
	q.messages = append([][]byte{payload}, q.messages...)
	b.mu.Unlock()
	b.pump(address)
}

// consumer picks the next link with unused credit, or nil.
func (q *queue) consumer() *proton.Link {
	for range q.consumers {
		q.next = (q.next + 1) % len(q.consumers)
		l := q.consumers[q.next]
		if l.Credit() > uint32(l.Queued()) {
			return l
		}
	}
	return nil
}

// pump sends waiting messages to consumers that have credit.
func (b *Broker) pump(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[address]
	if q == nil {
		return
	}
	for len(q.messages) > 0 {
		l := q.consumer()
		if l == nil {
			return
		}
		payload := q.messages[0]
		q.messages = q.messages[1:]
		c := l.Session().Connection()
		err := l.TransferPayload(payload, false, func(state amqp.DeliveryState, err error) {
			switch state.(type) {
			case amqp.Released, amqp.Modified:
				c.Defer(func() { b.requeue(address, payload) })
			case nil:
				if err != nil {
					c.Defer(func() { b.requeue(address, payload) })
				}
			}
		})
		if err != nil {
			q.messages = append([][]byte{payload}, q.messages...)
			q.remove(l)
		}
	}
}
