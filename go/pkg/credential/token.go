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

// Package credential holds the token sources a connection authenticates with:
// Event Hubs style connection strings, shared access signatures and
// pre-issued bearer tokens.
package credential

import (
	"context"
	"time"
)

// AccessToken is a bearer token and the time it stops being valid.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// IsZero is true if no token is present.
func (t AccessToken) IsZero() bool { return t.Token == "" }

// Expired reports whether the token expires within margin of now.
func (t AccessToken) Expired(now time.Time, margin time.Duration) bool {
	return !t.ExpiresOn.After(now.Add(margin))
}

// TokenCredential issues access tokens for a set of scopes.
type TokenCredential interface {
	GetToken(ctx context.Context, scopes []string) (AccessToken, error)
}

// StaticCredential returns the same token regardless of scope. It is handy
// for JWTs obtained out of band.
type StaticCredential struct{ token AccessToken }

// NewStaticCredential returns a TokenCredential that always returns token.
func NewStaticCredential(token string, expiresOn time.Time) *StaticCredential {
	return &StaticCredential{AccessToken{Token: token, ExpiresOn: expiresOn}}
}

func (c *StaticCredential) GetToken(ctx context.Context, scopes []string) (AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return AccessToken{}, err
	}
	return c.token, nil
}
