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
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreamqp/coreamqp/go/internal/test"
	"github.com/stretchr/testify/assert"
)

type countingPollable struct {
	polls  atomic.Int32
	ready  chan struct{}
	onPoll func(n int32)
}

func (p *countingPollable) Poll() {
	n := p.polls.Add(1)
	if p.onPoll != nil {
		p.onPoll(n)
	}
}

func (p *countingPollable) Ready() <-chan struct{} { return p.ready }

func TestAsyncOperationQueue(t *testing.T) {
	var q AsyncOperationQueue[int]
	_, ok := q.TryWaitForResult()
	assert.False(t, ok)
	q.CompleteOperation(1)
	q.CompleteOperation(2)
	assert.Equal(t, 2, q.Len())
	ctx := testContext(t)
	for _, want := range []int{1, 2} {
		got, err := q.WaitForResult(ctx)
		test.FatalIf(t, err)
		assert.Equal(t, want, got)
	}
	q.CompleteOperation(3)
	q.Clear()
	assert.Zero(t, q.Len())
}

func TestAsyncOperationQueueWait(t *testing.T) {
	q := NewAsyncOperationQueue[string]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.CompleteOperation("done")
	}()
	got, err := q.WaitForResult(testContext(t))
	test.FatalIf(t, err)
	assert.Equal(t, "done", got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.WaitForResult(ctx)
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, ErrCancelled, ContextError(err))
}

func TestWaitForPolledResult(t *testing.T) {
	q := NewAsyncOperationQueue[int32]()
	p := &countingPollable{}
	p.onPoll = func(n int32) {
		if n == 3 {
			q.CompleteOperation(n)
		}
	}
	got, err := q.WaitForPolledResult(testContext(t), p)
	test.FatalIf(t, err)
	assert.Equal(t, int32(3), got)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = q.WaitForPolledResult(ctx, p)
	assert.Equal(t, ErrTimeout, ContextError(err))
}

func TestGlobalState(t *testing.T) {
	g := GlobalStateInstance()
	assert.Same(t, g, GlobalStateInstance())
	p := &countingPollable{}
	g.SetPollInterval(time.Millisecond)
	defer g.SetPollInterval(DefaultPollInterval)
	before := g.Pollables()
	g.AddPollable(p)
	g.AddPollable(p)
	assert.Equal(t, before+1, g.Pollables(), "added once")
	test.Eventually(t, timeout, func() bool { return p.polls.Load() >= 3 })
	g.RemovePollable(p)
	assert.Equal(t, before, g.Pollables())
}

func TestGlobalStateShutdown(t *testing.T) {
	g := &GlobalState{
		interval: time.Millisecond,
		reset:    make(chan time.Duration, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go g.run()
	p := &countingPollable{}
	g.AddPollable(p)
	assert.Panics(t, g.AssertIdle)
	assert.Panics(t, g.Shutdown, "shutdown with pollables")
	g.RemovePollable(p)
	g.Shutdown()
	g.Shutdown()
}
