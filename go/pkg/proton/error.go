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
	"sync/atomic"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/pkg/errors"
)

var (
	// ErrConnectionClosed is returned by operations on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrInvalidHandle is returned when a session or link is used after it,
	// or its parent, was destroyed.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrTimeout is returned when a wait reaches its deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrCancelled is returned when a wait is cancelled.
	ErrCancelled = errors.New("operation cancelled")
	// ErrLinkDetached is returned by operations on a detached link.
	ErrLinkDetached = errors.New("link detached")
	// ErrIllegalState is returned when an operation does not fit the endpoint state.
	ErrIllegalState = errors.New("illegal state")
)

// ContextError maps context errors to ErrTimeout and ErrCancelled.
func ContextError(err error) error {
	switch errors.Cause(err) {
	case context.DeadlineExceeded:
		return ErrTimeout
	case context.Canceled:
		return ErrCancelled
	}
	return err
}

// ErrorHolder is a goroutine-safe error holder that keeps the first error that is set.
type ErrorHolder struct {
	once  sync.Once
	value atomic.Value
}

// Set the error if not already set
func (e *ErrorHolder) Set(err error) {
	if err != nil {
		e.once.Do(func() { e.value.Store(err) })
	}
}

// Get the error.
func (e *ErrorHolder) Get() (err error) {
	err, _ = e.value.Load().(error)
	return
}

// condition returns err as an *amqp.Error if it carries one.
func condition(err error) *amqp.Error {
	switch e := errors.Cause(err).(type) {
	case amqp.Error:
		return &e
	case *amqp.Error:
		return e
	}
	return nil
}

// errorOrNil returns a nil error for a nil *amqp.Error.
func errorOrNil(e *amqp.Error) error {
	if e == nil {
		return nil
	}
	return *e
}
