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
	"fmt"
	"sync"
	"time"
)

// DefaultPollInterval is how often GlobalState polls registered pollables.
const DefaultPollInterval = 10 * time.Millisecond

// GlobalState owns the process-wide polling goroutine. Connections register
// themselves while open so that callbacks keep flowing when no caller is
// blocked in a poll-driven wait.
type GlobalState struct {
	mu        sync.Mutex
	pollables []Pollable
	interval  time.Duration
	reset     chan time.Duration
	stop      chan struct{}
	stopped   chan struct{}
}

var (
	globalMu sync.Mutex
	global   *GlobalState
)

// GlobalStateInstance returns the GlobalState, starting it on first use or
// after Shutdown.
func GlobalStateInstance() *GlobalState {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &GlobalState{
			interval: DefaultPollInterval,
			reset:    make(chan time.Duration, 1),
			stop:     make(chan struct{}),
			stopped:  make(chan struct{}),
		}
		go global.run()
	}
	return global
}

func (g *GlobalState) run() {
	defer close(g.stopped)
	g.mu.Lock()
	interval := g.interval
	g.mu.Unlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case d := <-g.reset:
			ticker.Reset(d)
		case <-ticker.C:
			g.mu.Lock()
			pollables := append([]Pollable(nil), g.pollables...)
			g.mu.Unlock()
			for _, p := range pollables {
				p.Poll()
			}
		}
	}
}

// SetPollInterval changes the polling period.
func (g *GlobalState) SetPollInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultPollInterval
	}
	g.mu.Lock()
	g.interval = d
	g.mu.Unlock()
	select {
	case <-g.reset: // Replace an unconsumed reset.
	default:
	}
	select {
	case g.reset <- d:
	default:
	}
}

// AddPollable registers p for polling.
func (g *GlobalState) AddPollable(p Pollable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, x := range g.pollables {
		if x == p {
			return
		}
	}
	g.pollables = append(g.pollables, p)
}

// RemovePollable unregisters p.
func (g *GlobalState) RemovePollable(p Pollable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, x := range g.pollables {
		if x == p {
			g.pollables = append(g.pollables[:i], g.pollables[i+1:]...)
			return
		}
	}
}

// Pollables returns the number of registered pollables.
func (g *GlobalState) Pollables() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pollables)
}

// AssertIdle panics if any pollable is still registered.
func (g *GlobalState) AssertIdle() {
	if n := g.Pollables(); n != 0 {
		panic(fmt.Sprintf("proton: %d pollables still registered", n))
	}
}

// Shutdown stops the polling goroutine. The state must be idle. The next
// GlobalStateInstance call starts a new one.
func (g *GlobalState) Shutdown() {
	g.AssertIdle()
	globalMu.Lock()
	if global == g {
		global = nil
	}
	globalMu.Unlock()
	select {
	case <-g.stop:
	default:
		close(g.stop)
	}
	<-g.stopped
}
