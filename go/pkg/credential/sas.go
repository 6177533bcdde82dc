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

package credential

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SasPrefix starts every shared access signature token.
const SasPrefix = "SharedAccessSignature "

// DefaultTokenValidity is how long generated signatures remain valid.
const DefaultTokenValidity = time.Hour

// SharedKeyCredential signs shared access tokens with the key from a
// connection string.
type SharedKeyCredential struct {
	cs       ConnectionString
	validity time.Duration
	now      func() time.Time
}

// SharedKeyOption configures a SharedKeyCredential.
type SharedKeyOption func(*SharedKeyCredential)

// TokenValidity sets how long generated tokens remain valid.
func TokenValidity(d time.Duration) SharedKeyOption {
	return func(c *SharedKeyCredential) { c.validity = d }
}

// NewSharedKeyCredential parses connStr and returns a credential for it.
func NewSharedKeyCredential(connStr string, opts ...SharedKeyOption) (*SharedKeyCredential, error) {
	cs, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	c := &SharedKeyCredential{cs: cs, validity: DefaultTokenValidity, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ConnectionString returns the parsed connection string.
func (c *SharedKeyCredential) ConnectionString() ConnectionString { return c.cs }

// GetToken returns a token for the audience in scopes[0], or for the
// connection string's entity when no scope is given. A signature embedded in
// the connection string is returned unchanged.
func (c *SharedKeyCredential) GetToken(ctx context.Context, scopes []string) (AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return AccessToken{}, err
	}
	if sig := c.cs.SharedAccessSignature; sig != "" {
		return AccessToken{Token: sig, ExpiresOn: signatureExpiry(sig)}, nil
	}
	audience := c.cs.Audience()
	if len(scopes) > 0 && scopes[0] != "" {
		audience = scopes[0]
	}
	expiry := c.now().Add(c.validity)
	return AccessToken{
		Token:     Sign(audience, c.cs.SharedAccessKeyName, c.cs.SharedAccessKey, expiry),
		ExpiresOn: expiry.Truncate(time.Second),
	}, nil
}

// Sign produces a shared access signature for audience valid until expiry.
func Sign(audience, keyName, key string, expiry time.Time) string {
	sr := url.QueryEscape(audience)
	se := strconv.FormatInt(expiry.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(sr + "\n" + se))
	sig := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return fmt.Sprintf("%ssr=%s&sig=%s&se=%s&skn=%s", SasPrefix, sr, sig, se, keyName)
}

// ParseSignature splits a shared access signature into its fields.
func ParseSignature(token string) (url.Values, error) {
	if !strings.HasPrefix(token, SasPrefix) {
		return nil, errors.New("not a shared access signature")
	}
	return url.ParseQuery(strings.TrimPrefix(token, SasPrefix))
}

// signatureExpiry reads the se field, or assumes the default validity.
func signatureExpiry(token string) time.Time {
	if v, err := ParseSignature(token); err == nil {
		if se, err := strconv.ParseInt(v.Get("se"), 10, 64); err == nil {
			return time.Unix(se, 0)
		}
	}
	return time.Now().Add(DefaultTokenValidity)
}
