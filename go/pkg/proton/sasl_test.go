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
	"net"
	"testing"

	"github.com/coreamqp/coreamqp/go/internal/test"
	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/stretchr/testify/assert"
)

// saslPair starts a SASL client and server connection over a net.Pipe.
func saslPair(t *testing.T, mechanism SaslMechanism, opts SaslServerOptions) (client, server *Connection) {
	t.Helper()
	cConn, sConn := net.Pipe()
	var err error
	server, err = NewConnectionFromTransport(NewSaslServerTransport(NewConnTransport(sConn), opts), ConnectionOptions{}, nil)
	test.FatalIf(t, err)
	client, err = NewConnectionFromTransport(NewSaslClientTransport(NewConnTransport(cConn), mechanism, "localhost"), ConnectionOptions{}, nil)
	test.FatalIf(t, err)
	test.FatalIf(t, server.Listen())
	test.FatalIf(t, client.Open(testContext(t)))
	t.Cleanup(func() {
		_ = client.Close("", "", nil)
		_ = server.Close("", "", nil)
		client.Destroy()
		server.Destroy()
	})
	return client, server
}

func TestSaslPlain(t *testing.T) {
	var user, password string
	client, server := saslPair(t, SaslPlain("alice", "secret"), SaslServerOptions{
		CheckPlain: func(u, p string) bool {
			user, password = u, p
			return true
		},
	})
	ctx := testContext(t)
	test.FatalIf(t, client.WaitOpened(ctx))
	test.FatalIf(t, server.WaitOpened(ctx))
	assert.Equal(t, "alice", user)
	assert.Equal(t, "secret", password)
}

func TestSaslAnonymous(t *testing.T) {
	client, server := saslPair(t, SaslAnonymous(), SaslServerOptions{AllowAnonymous: true})
	ctx := testContext(t)
	test.FatalIf(t, client.WaitOpened(ctx))
	test.FatalIf(t, server.WaitOpened(ctx))
}

func TestSaslRejected(t *testing.T) {
	client, _ := saslPair(t, SaslPlain("alice", "wrong"), SaslServerOptions{
		CheckPlain: func(u, p string) bool { return p == "secret" },
	})
	err := client.WaitOpened(testContext(t))
	assert.Equal(t, amqp.UnauthorizedAccess, condition(err).Name)
	assert.Equal(t, ConnectionStateError, client.State())
}

func TestSaslMechanismNotOffered(t *testing.T) {
	client, _ := saslPair(t, SaslAnonymous(), SaslServerOptions{CheckPlain: func(string, string) bool { return true }})
	err := client.WaitOpened(testContext(t))
	assert.Equal(t, amqp.NotImplemented, condition(err).Name)
}

func TestSaslPlainResponse(t *testing.T) {
	assert.Equal(t, []byte("\x00u\x00p"), SaslPlain("u", "p").InitialResponse())
	assert.Equal(t, amqp.Symbol("PLAIN"), SaslPlain("u", "p").Name())
	_, err := SaslPlain("u", "p").Challenge(nil)
	assert.Error(t, err)
	assert.Equal(t, amqp.Symbol("ANONYMOUS"), SaslAnonymous().Name())
}
