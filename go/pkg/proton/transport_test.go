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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coreamqp/coreamqp/go/internal/test"
	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketTransport(t *testing.T) {
	server := newPeer()
	upgrader := websocket.Upgrader{Subprotocols: []string{WebSocketSubprotocol}}
	accepted := make(chan error, 1)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			server.c, err = NewConnectionFromTransport(NewConnTransport(WebSocketConn(ws)), ConnectionOptions{ContainerID: "ws-server"}, server)
		}
		if err == nil {
			err = server.c.Listen()
		}
		accepted <- err
	}))
	defer hs.Close()

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/$servicebus/websocket"
	client, err := NewConnectionFromTransport(NewWebSocketTransport(url, nil), ConnectionOptions{}, nil)
	test.FatalIf(t, err)
	ctx := testContext(t)
	test.FatalIf(t, client.Open(ctx))
	test.FatalIf(t, receive(t, accepted))
	test.FatalIf(t, client.WaitOpened(ctx))
	assert.Equal(t, "ws-server", client.RemoteContainerID())

	test.FatalIf(t, client.Close("", "", nil))
	test.FatalIf(t, client.WaitClosed(ctx))
	test.FatalIf(t, server.c.WaitClosed(ctx))
	client.Destroy()
	server.c.Destroy()
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "wss://ns.example.com/$servicebus/websocket", WebSocketURL("ns.example.com"))
}

func TestTransportOpenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	test.FatalIf(t, err)
	addr := l.Addr().(*net.TCPAddr)
	test.FatalIf(t, l.Close()) // Nothing listens on addr now.

	client, err := NewConnectionFromTransport(NewSocketTransport("127.0.0.1", uint16(addr.Port), nil), ConnectionOptions{}, nil)
	test.FatalIf(t, err)
	ctx := testContext(t)
	test.FatalIf(t, client.Open(ctx))
	err = client.WaitOpened(ctx)
	assert.Equal(t, amqp.ProtonIo, condition(err).Name)
	client.Destroy()
}

func TestTransportFactory(t *testing.T) {
	cConn, sConn := net.Pipe()
	server := newPeer()
	var err error
	server.c, err = NewConnectionFromTransport(NewConnTransport(sConn), ConnectionOptions{}, server)
	test.FatalIf(t, err)
	test.FatalIf(t, server.c.Listen())

	var gotHost string
	var gotPort uint16
	client, err := NewConnection("broker.example.com", nil, ConnectionOptions{
		Port: 5672,
		TransportFactory: func(host string, port uint16) (Transport, error) {
			gotHost, gotPort = host, port
			return NewConnTransport(cConn), nil
		},
	}, nil)
	test.FatalIf(t, err)
	ctx := testContext(t)
	test.FatalIf(t, client.Open(ctx))
	test.FatalIf(t, client.WaitOpened(ctx))
	assert.Equal(t, "broker.example.com", gotHost)
	assert.Equal(t, uint16(5672), gotPort)
	assert.Equal(t, "broker.example.com", client.Host())

	test.FatalIf(t, client.Close("", "", nil))
	test.FatalIf(t, server.c.Close("", "", nil))
	test.FatalIf(t, client.WaitClosed(ctx))
	client.Destroy()
	server.c.Destroy()
}

func TestBadProtocolHeader(t *testing.T) {
	cConn, sConn := net.Pipe()
	server, err := NewConnectionFromTransport(NewConnTransport(sConn), ConnectionOptions{}, nil)
	test.FatalIf(t, err)
	test.FatalIf(t, server.Listen())
	go func() { _, _ = cConn.Write([]byte("HTTP/1.1 GET\r\n")) }()
	err = server.WaitOpened(testContext(t))
	assert.Equal(t, amqp.ConnectionFramingError, condition(err).Name)
	server.Destroy()
	_ = cConn.Close()
}

func TestMetrics(t *testing.T) {
	client, server := openPair(t)
	beginSession(t, client, server)

	families, err := MetricsRegistry().Gather()
	test.FatalIf(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			name := f.GetName()
			for _, l := range m.GetLabel() {
				name += "/" + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				values[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[name] = m.GetGauge().GetValue()
			}
		}
	}
	require.Contains(t, values, "coreamqp_frames_sent_total/open")
	assert.GreaterOrEqual(t, values["coreamqp_frames_sent_total/open"], 2.0)
	assert.GreaterOrEqual(t, values["coreamqp_frames_received_total/begin"], 2.0)
	assert.GreaterOrEqual(t, values["coreamqp_connections_opened_total"], 2.0)
	assert.GreaterOrEqual(t, values["coreamqp_connections_open"], 2.0)
	assert.Greater(t, values["coreamqp_bytes_sent_total"], 0.0)
}
