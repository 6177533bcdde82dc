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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConnStr = "Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=a2V5Cg==;EntityPath=hub"

func TestParseConnectionString(t *testing.T) {
	cs, err := ParseConnectionString(testConnStr)
	require.NoError(t, err)
	assert.Equal(t, "ns.servicebus.windows.net", cs.HostName())
	assert.Equal(t, uint16(DefaultPort), cs.Port())
	assert.Equal(t, "hub", cs.EntityPath)
	assert.Equal(t, "RootManageSharedAccessKey", cs.SharedAccessKeyName)
	assert.Equal(t, "a2V5Cg==", cs.SharedAccessKey, "trailing padding is kept")
	assert.Equal(t, "amqps://ns.servicebus.windows.net/hub", cs.Audience())
}

func TestParseConnectionStringCaseAndEmulator(t *testing.T) {
	cs, err := ParseConnectionString("endpoint=sb://localhost;SHAREDACCESSKEYNAME=n;sharedaccesskey=k;UseDevelopmentEmulator=true;")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cs.HostName())
	assert.Equal(t, uint16(EmulatorPort), cs.Port())

	cs, err = ParseConnectionString("Endpoint=sb://localhost:6000;SharedAccessSignature=SharedAccessSignature sr=x&sig=y&se=1&skn=n")
	require.NoError(t, err)
	assert.Equal(t, uint16(6000), cs.Port())
	assert.Equal(t, "SharedAccessSignature sr=x&sig=y&se=1&skn=n", cs.SharedAccessSignature)
}

func TestParseConnectionStringErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"Endpoint",
		"SharedAccessKeyName=n;SharedAccessKey=k",
		"Endpoint=sb://h;SharedAccessKeyName=n",
		"Endpoint=sb://h;SharedAccessKey=k",
		"Endpoint=sb://h;SharedAccessKeyName=n;SharedAccessKey=k;UseDevelopmentEmulator=maybe",
	} {
		_, err := ParseConnectionString(s)
		assert.Error(t, err, "%q", s)
	}
}

func TestSharedKeyCredential(t *testing.T) {
	c, err := NewSharedKeyCredential(testConnStr, TokenValidity(time.Minute))
	require.NoError(t, err)
	fixed := time.Unix(1700000000, 0)
	c.now = func() time.Time { return fixed }

	tok, err := c.GetToken(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok.Token, SasPrefix))
	assert.Equal(t, fixed.Add(time.Minute), tok.ExpiresOn)
	assert.Equal(t, Sign("amqps://ns.servicebus.windows.net/hub", "RootManageSharedAccessKey", "a2V5Cg==", fixed.Add(time.Minute)), tok.Token)

	v, err := ParseSignature(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "amqps://ns.servicebus.windows.net/hub", v.Get("sr"))
	assert.Equal(t, "1700000060", v.Get("se"))
	assert.Equal(t, "RootManageSharedAccessKey", v.Get("skn"))
	assert.NotEmpty(t, v.Get("sig"))

	tok, err = c.GetToken(context.Background(), []string{"amqps://other/x"})
	require.NoError(t, err)
	v, err = ParseSignature(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "amqps://other/x", v.Get("sr"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.GetToken(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbeddedSignature(t *testing.T) {
	sig := "SharedAccessSignature sr=x&sig=y&se=1800000000&skn=n"
	c, err := NewSharedKeyCredential("Endpoint=sb://h/;SharedAccessSignature=" + sig)
	require.NoError(t, err)
	tok, err := c.GetToken(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, sig, tok.Token)
	assert.Equal(t, time.Unix(1800000000, 0), tok.ExpiresOn)
}

func TestAccessToken(t *testing.T) {
	now := time.Now()
	tok := AccessToken{Token: "t", ExpiresOn: now.Add(10 * time.Minute)}
	assert.False(t, tok.IsZero())
	assert.False(t, tok.Expired(now, 5*time.Minute))
	assert.True(t, tok.Expired(now, 10*time.Minute))
	assert.True(t, AccessToken{}.IsZero())

	c := NewStaticCredential("a.b.c", tok.ExpiresOn)
	got, err := c.GetToken(context.Background(), []string{"ignored"})
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", got.Token)
}
