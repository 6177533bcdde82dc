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

package amqp

import (
	"fmt"
)

// Error is an AMQP error condition. It has a name, a description and optional
// extra information.
// It implements the Go error interface so can be returned as an error value.
//
// You can pass amqp.Error to methods that send an error to a remote endpoint,
// this gives you full control over what the remote endpoint will see.
//
// You can also pass any Go error to such functions, the remote peer
// will see the equivalent of MakeError(error)
type Error struct {
	Name, Description string
	Info              map[Symbol]interface{}
}

// Error implements the Go error interface for AMQP error errors.
func (c Error) Error() string {
	if c.Description == "" {
		return c.Name
	}
	return fmt.Sprintf("%s: %s", c.Name, c.Description)
}

// IsZero is true if c carries no condition.
func (c Error) IsZero() bool { return c.Name == "" && c.Description == "" && len(c.Info) == 0 }

// Errorf makes a Error with name and formatted description as per fmt.Sprintf
func Errorf(name, format string, arg ...interface{}) Error {
	return Error{Name: name, Description: fmt.Sprintf(format, arg...)}
}

// MakeError makes an AMQP error from a go error: {Name: InternalError, Description: err.Error()}
// If err is already an amqp.Error it is returned unchanged.
func MakeError(err error) Error {
	switch e := err.(type) {
	case Error:
		return e
	case *Error:
		return *e
	default:
		return Error{Name: InternalError, Description: err.Error()}
	}
}

// MarshalAMQP encodes the error as the described amqp:error:list.
func (c Error) MarshalAMQP() interface{} {
	l := List{Symbol(c.Name), nil, nil}
	if c.Description != "" {
		l[1] = c.Description
	}
	if len(c.Info) > 0 {
		l[2] = c.Info
	}
	return Described{uint64(0x1d), trimList(l)}
}

// ErrorFromValue converts a decoded amqp:error:list to an Error.
// Returns nil if v is null.
func ErrorFromValue(v interface{}) (*Error, error) {
	if v == nil {
		return nil, nil
	}
	d, ok := v.(Described)
	if !ok || !d.Is(0x1d, "amqp:error:list") {
		return nil, fmt.Errorf("expected amqp:error:list, got %#v", v)
	}
	l, _ := d.Value.(List)
	e := &Error{}
	f := Fields(l)
	e.Name = string(f.Symbol(0))
	e.Description = f.String(1)
	if m, ok := f.Get(2).(Map); ok {
		e.Info = make(map[Symbol]interface{}, len(m))
		for k, x := range m {
			if s, ok := k.(Symbol); ok {
				e.Info[s] = x
			}
		}
	}
	return e, nil
}

// Standard AMQP 1.0 error conditions.
var (
	InternalError         = "amqp:internal-error"
	NotFound              = "amqp:not-found"
	UnauthorizedAccess    = "amqp:unauthorized-access"
	DecodeError           = "amqp:decode-error"
	ResourceLimitExceeded = "amqp:resource-limit-exceeded"
	NotAllowed            = "amqp:not-allowed"
	InvalidField          = "amqp:invalid-field"
	NotImplemented        = "amqp:not-implemented"
	ResourceLocked        = "amqp:resource-locked"
	PreconditionFailed    = "amqp:precondition-failed"
	ResourceDeleted       = "amqp:resource-deleted"
	IllegalState          = "amqp:illegal-state"
	FrameSizeTooSmall     = "amqp:frame-size-too-small"
)

// Connection, session and link error conditions.
var (
	ConnectionForced        = "amqp:connection:forced"
	ConnectionFramingError  = "amqp:connection:framing-error"
	ConnectionRedirect      = "amqp:connection:redirect"
	SessionWindowViolation  = "amqp:session:window-violation"
	SessionErrantLink       = "amqp:session:errant-link"
	SessionHandleInUse      = "amqp:session:handle-in-use"
	SessionUnattachedHandle = "amqp:session:unattached-handle"
	LinkDetachForced        = "amqp:link:detach-forced"
	LinkTransferLimit       = "amqp:link:transfer-limit-exceeded"
	LinkMessageSizeExceeded = "amqp:link:message-size-exceeded"
	LinkRedirect            = "amqp:link:redirect"
	LinkStolen              = "amqp:link:stolen"
)

// Broker specific conditions reported by Event Hubs and Service Bus.
var (
	ServerBusyError         = "com.microsoft:server-busy"
	ArgumentError           = "com.microsoft:argument-error"
	ArgumentOutOfRangeError = "com.microsoft:argument-out-of-range"
	EntityDisabledError     = "com.microsoft:entity-disabled"
	PartitionNotOwnedError  = "com.microsoft:partition-not-owned"
	StoreLockLostError      = "com.microsoft:store-lock-lost"
	PublisherRevokedError   = "com.microsoft:publisher-revoked"
	TimeoutError            = "com.microsoft:timeout"
	TrackingIDProperty      = "com.microsoft:tracking-id"
	ProtonIo                = "proton:io"
	OperationCancelled      = "com.microsoft:operation-cancelled"
	MessageLockLost         = "com.microsoft:message-lock-lost"
	SessionLockLost         = "com.microsoft:session-lock-lost"
	SessionCannotBeLocked   = "com.microsoft:session-cannot-be-locked"
	MessageNotFound         = "com.microsoft:message-not-found"
	SessionNotFound         = "com.microsoft:session-not-found"
	EntityAlreadyExists     = "com.microsoft:entity-already-exists"
)
