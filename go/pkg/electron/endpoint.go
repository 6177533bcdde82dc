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
	"fmt"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("pkg", "electron")

// AuthenticationError is returned when claims-based security refuses the
// token for an entity. It is distinct from errors of the operation that
// needed the token.
type AuthenticationError struct {
	Status      uint32
	Description string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed with status %d: %s", e.Status, e.Description)
}

// IsAuthenticationError is true if the cause of err is an *AuthenticationError.
func IsAuthenticationError(err error) bool {
	_, ok := errors.Cause(err).(*AuthenticationError)
	return ok
}

// linkName returns name, or prefix followed by a random UUID.
func linkName(name, prefix string) string {
	if name != "" {
		return name
	}
	return prefix + amqp.NewUUID().String()
}

// detachError is the reason l is no longer attached.
func detachError(l *proton.Link) error {
	if e := l.RemoteError(); e != nil {
		return *e
	}
	if err := l.Error(); err != nil {
		return err
	}
	return proton.ErrLinkDetached
}

// refused is true when the peer answered our ATTACH without a terminus. A
// DETACH with the reason follows.
func refused(l *proton.Link) bool {
	if l.Role() == proton.RoleSender {
		return l.RemoteTarget() == nil
	}
	return l.RemoteSource() == nil
}

// waitAttached polls until l is attached or detached.
func waitAttached(ctx context.Context, l *proton.Link) error {
	return l.Session().Connection().WaitFor(ctx, func() (bool, error) {
		switch l.State() {
		case proton.LinkStateHalfAttachedAttachSent:
			return false, nil
		case proton.LinkStateAttached:
			return !refused(l), nil
		}
		return true, detachError(l)
	})
}

// closeLink detaches l and waits for the peer's DETACH.
func closeLink(ctx context.Context, l *proton.Link) error {
	if err := l.Detach(true, "", ""); err != nil {
		if errors.Cause(err) == proton.ErrInvalidHandle {
			return nil // Session already gone.
		}
		return err
	}
	return l.Session().Connection().WaitFor(ctx, func() (bool, error) {
		switch l.State() {
		case proton.LinkStateDetached, proton.LinkStateError:
			return true, nil
		}
		return false, nil
	})
}

// remoteDetached is true for link state changes caused by the peer.
func remoteDetached(newState, oldState proton.LinkState) bool {
	switch newState {
	case proton.LinkStateDetachReceived, proton.LinkStateError:
		return true
	case proton.LinkStateDetached:
		return oldState == proton.LinkStateAttached || oldState == proton.LinkStateHalfAttachedAttachSent
	}
	return false
}
