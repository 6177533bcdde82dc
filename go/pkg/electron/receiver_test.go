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
	"sync"
	"testing"
	"time"

	"github.com/coreamqp/coreamqp/go/internal/test"
	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiverSettleSecond(t *testing.T) {
	p := newPair(t, nil)
	p.send(p.sender("q", MessageSenderOptions{}, nil), "again")
	r := p.receiver("q", MessageReceiverOptions{SettleMode: proton.ReceiverSettleModeSecond}, nil)

	m := p.receive(r)
	assert.False(t, m.Settled())
	test.FatalIf(t, m.Release())
	assert.True(t, m.Settled())
	test.FatalIf(t, m.Release(), "second settle does nothing")

	m = p.receive(r)
	test.ErrorIf(t, test.Differ("again", m.Body()), "released message is redelivered")
	test.FatalIf(t, m.Accept())
	_, _, ok := r.TryWaitForIncomingMessage()
	assert.False(t, ok)
	test.Eventually(t, timeout, func() bool { return p.broker.Depth("q") == 0 })
}

func TestReceiverReject(t *testing.T) {
	p := newPair(t, nil)
	p.send(p.sender("q", MessageSenderOptions{}, nil), "bad", "modified")
	r := p.receiver("q", MessageReceiverOptions{SettleMode: proton.ReceiverSettleModeSecond, MaxLinkCredit: 5}, nil)
	test.FatalIf(t, p.receive(r).Reject(&amqp.Error{Name: amqp.DecodeError}))
	m := p.receive(r)
	test.ErrorIf(t, test.Differ("modified", m.Body()))
	test.FatalIf(t, m.Modify(true, false, nil))
	m = p.receive(r)
	test.ErrorIf(t, test.Differ("modified", m.Body()), "modified message is redelivered")
	test.FatalIf(t, m.Accept())
}

func TestReceiverTimeout(t *testing.T) {
	p := newPair(t, nil)
	r := p.receiver("empty", MessageReceiverOptions{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m, e, err := r.WaitForIncomingMessage(ctx)
	assert.Equal(t, proton.ErrTimeout, err)
	assert.Nil(t, m)
	assert.Nil(t, e)

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, _, err = r.WaitForIncomingMessage(ctx)
	assert.Equal(t, proton.ErrCancelled, err)
}

func TestReceiverCredit(t *testing.T) {
	p := newPair(t, nil)
	p.send(p.sender("q", MessageSenderOptions{}, nil), "1", "2", "3", "4")
	r := p.receiver("q", MessageReceiverOptions{MaxLinkCredit: 2}, nil)
	for i := 0; i < 4; i++ {
		p.receive(r)
		assert.LessOrEqual(t, r.Link().Credit(), uint32(2))
	}
}

// handler takes messages from a receiver's callback.
type handler struct {
	recorder
	mu       sync.Mutex
	received []interface{}
	state    amqp.DeliveryState
}

func (h *handler) OnMessageReceived(_ *MessageReceiver, m *ReceivedMessage) amqp.DeliveryState {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, m.Body())
	return h.state
}

func (h *handler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func TestReceiverHandler(t *testing.T) {
	p := newPair(t, nil)
	h := &handler{state: amqp.Accepted{}}
	r := p.receiver("q", MessageReceiverOptions{MaxLinkCredit: 10}, h)
	p.send(p.sender("q", MessageSenderOptions{}, nil), "a", "b")
	test.Eventually(t, timeout, func() bool { return h.count() == 2 })
	test.ErrorIf(t, test.Differ([]interface{}{"a", "b"}, h.received))
	_, _, ok := r.TryWaitForIncomingMessage()
	assert.False(t, ok, "handled messages are not queued")
	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	assert.Equal(t, []MessageReceiverState{MessageReceiverStateOpening, MessageReceiverStateOpen}, h.receiverStates)
}

func TestReceiverDisconnected(t *testing.T) {
	p := newPair(t, nil)
	var events recorder
	r := p.receiver("q", MessageReceiverOptions{}, &events)
	p.broker.Close()
	m, e, err := r.WaitForIncomingMessage(testContext(t))
	test.FatalIf(t, err)
	assert.Nil(t, m)
	require.NotNil(t, e)
	assert.Equal(t, amqp.ConnectionForced, e.Name)
	test.Eventually(t, timeout, func() bool { return events.disconnects() == 1 })
	assert.Equal(t, MessageReceiverStateError, r.State())
}

func TestReceiverFilter(t *testing.T) {
	p := newPair(t, nil)
	filter := map[amqp.Symbol]interface{}{"apache.org:selector-filter:string": "x > 1"}
	r := p.receiver("q", MessageReceiverOptions{Name: "filtered", Filter: filter}, nil)
	assert.Equal(t, filter, r.Link().Source().Filter)
	assert.Equal(t, "filtered", r.Link().Target().Address, "target defaults to the link name")
}
