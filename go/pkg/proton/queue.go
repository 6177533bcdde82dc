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
	"sync"
	"time"
)

// pollTick bounds how long a poll-driven wait sleeps between polls when no
// wake-up signal arrives.
const pollTick = 5 * time.Millisecond

// Pollable is something that must be polled to make progress, normally a
// Connection.
type Pollable interface {
	Poll()
	// Ready is signalled when Poll has work to do.
	Ready() <-chan struct{}
}

// AsyncOperationQueue is an unbounded FIFO of completed results. Results
// are added by callbacks on the polling goroutine and taken by a waiting
// caller. The zero value is ready to use.
type AsyncOperationQueue[T any] struct {
	mu      sync.Mutex
	results []T
	signal  chan struct{}
}

// NewAsyncOperationQueue returns an empty queue.
func NewAsyncOperationQueue[T any]() *AsyncOperationQueue[T] {
	return &AsyncOperationQueue[T]{}
}

// wake must be called with q.mu held.
func (q *AsyncOperationQueue[T]) wake() chan struct{} {
	if q.signal == nil {
		q.signal = make(chan struct{}, 1)
	}
	return q.signal
}

// CompleteOperation adds a result. It never blocks.
func (q *AsyncOperationQueue[T]) CompleteOperation(result T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, result)
	select {
	case q.wake() <- struct{}{}:
	default:
	}
}

// TryWaitForResult removes and returns the oldest result, if there is one.
func (q *AsyncOperationQueue[T]) TryWaitForResult() (result T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.results) == 0 {
		return result, false
	}
	result = q.results[0]
	var zero T
	q.results[0] = zero
	q.results = q.results[1:]
	return result, true
}

// Len returns the number of waiting results.
func (q *AsyncOperationQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results)
}

// Clear drops all waiting results.
func (q *AsyncOperationQueue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = nil
}

func (q *AsyncOperationQueue[T]) ready() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wake()
}

// WaitForResult blocks until a result is available or ctx is done. Some
// other goroutine must be polling the producer.
func (q *AsyncOperationQueue[T]) WaitForResult(ctx context.Context) (T, error) {
	return q.WaitForPolledResult(ctx)
}

// WaitForPolledResult polls each of pollers until a result is available or
// ctx is done. The context error is returned unchanged; use ContextError to
// map it.
func (q *AsyncOperationQueue[T]) WaitForPolledResult(ctx context.Context, pollers ...Pollable) (T, error) {
	var result T
	err := pollUntil(ctx, q.ready(), func() bool {
		var ok bool
		result, ok = q.TryWaitForResult()
		return ok
	}, pollers...)
	return result, err
}

// pollUntil polls pollers until done returns true or ctx is done. It sleeps
// on wake, the first poller's Ready channel, or pollTick.
func pollUntil(ctx context.Context, wake <-chan struct{}, done func() bool, pollers ...Pollable) error {
	if done() {
		return nil
	}
	var ready <-chan struct{}
	if len(pollers) > 0 {
		ready = pollers[0].Ready()
	}
	tick := time.NewTicker(pollTick)
	defer tick.Stop()
	for {
		for _, p := range pollers {
			p.Poll()
		}
		if done() {
			return nil
		}
		select {
		case <-ctx.Done():
			if done() {
				return nil
			}
			return ctx.Err()
		case <-wake:
		case <-ready:
		case <-tick.C:
		}
	}
}
