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
	"time"

	"github.com/coreamqp/coreamqp/go/pkg/credential"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
)

const (
	// TokenRefreshMargin is how long before expiry a cached authorization is
	// renewed.
	TokenRefreshMargin = 5 * time.Minute
	authCacheSize      = 256
)

// Authenticator puts tokens from the connection's credential to the CBS node
// of a session, and remembers which audiences are authorized.
type Authenticator struct {
	session *proton.Session
	cbs     *ClaimsBasedSecurity
	cache   *expirable.LRU[string, time.Time] // Audience to token expiry.
	now     func() time.Time

	mu     sync.Mutex
	opened bool
}

// NewAuthenticator creates an authenticator for session. The CBS links are
// attached on first use.
func NewAuthenticator(session *proton.Session) *Authenticator {
	return &Authenticator{
		session: session,
		cbs:     NewClaimsBasedSecurity(session, CbsOptions{EnableTrace: session.Connection().EnableTrace()}),
		cache:   expirable.NewLRU[string, time.Time](authCacheSize, nil, 0),
		now:     time.Now,
	}
}

// Audience is the CBS audience of entity on the session's host.
func (a *Authenticator) Audience(entity string) string {
	return credential.Audience(a.session.Connection().Host(), entity)
}

// Authorized is true if entity has a token that does not need renewal.
func (a *Authenticator) Authorized(entity string) bool {
	expiry, ok := a.cache.Get(a.Audience(entity))
	return ok && a.now().Before(expiry.Add(-TokenRefreshMargin))
}

// Authenticate puts a token for entity unless a valid one was already put.
// A refused token gives an *AuthenticationError.
func (a *Authenticator) Authenticate(ctx context.Context, entity string) error {
	if a.Authorized(entity) {
		return nil
	}
	conn := a.session.Connection()
	cred := conn.Credential()
	if cred == nil {
		return errors.Errorf("connection %s has no credential", conn)
	}
	audience := a.Audience(entity)
	typ, scopes := CbsTokenTypeJwt, conn.AuthenticationScopes()
	if _, ok := cred.(*credential.SharedKeyCredential); ok {
		typ, scopes = CbsTokenTypeSas, []string{audience}
	}
	token, err := cred.GetToken(ctx, scopes)
	if err != nil {
		return errors.Wrapf(err, "get token for %s", audience)
	}
	if err := a.open(ctx); err != nil {
		return err
	}
	result, status, description, err := a.cbs.PutToken(ctx, typ, audience, token.Token, token.ExpiresOn)
	if err != nil {
		return errors.Wrapf(err, "put token for %s", audience)
	}
	if result != CbsOperationResultOk {
		log.Warnf("token for %s refused: %d %s", audience, status, description)
		return &AuthenticationError{Status: status, Description: description}
	}
	a.cache.Add(audience, token.ExpiresOn)
	return nil
}

func (a *Authenticator) open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened && a.cbs.State() == ManagementStateOpen {
		return nil
	}
	if a.opened { // Failed links, start again.
		_ = a.cbs.Close(ctx)
	}
	if _, err := a.cbs.Open(ctx); err != nil {
		return errors.Wrap(err, "open claims-based security")
	}
	a.opened = true
	return nil
}

// Close detaches the CBS links. Cached authorizations are kept.
func (a *Authenticator) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.opened {
		return nil
	}
	a.opened = false
	return a.cbs.Close(ctx)
}

// authenticate uses a, or a temporary Authenticator when a is nil.
func authenticate(ctx context.Context, session *proton.Session, a *Authenticator, entity string) error {
	if a == nil {
		a = NewAuthenticator(session)
		defer func() { _ = a.Close(ctx) }()
	}
	return a.Authenticate(ctx, entity)
}
