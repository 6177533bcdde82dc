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
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebSocketSubprotocol is the subprotocol negotiated for AMQP over WebSocket.
const WebSocketSubprotocol = "amqp"

// WebSocketURL is the Service Bus WebSocket endpoint for host.
func WebSocketURL(host string) string { return "wss://" + host + "/$servicebus/websocket" }

// NewWebSocketTransport returns a transport that carries AMQP frames in
// binary WebSocket messages to url.
func NewWebSocketTransport(url string, header http.Header) Transport {
	return newSocketTransport(func(ctx context.Context) (net.Conn, error) {
		d := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
			Subprotocols:     []string{WebSocketSubprotocol},
		}
		ws, resp, err := d.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, errors.Wrapf(err, "websocket dial %s", url)
		}
		return WebSocketConn(ws), nil
	})
}

// WebSocketConn adapts ws to a net.Conn byte stream. Writes are sent as
// binary messages; reads concatenate incoming messages.
func WebSocketConn(ws *websocket.Conn) net.Conn { return &wsConn{Conn: ws} }

type wsConn struct {
	*websocket.Conn
	r io.Reader
}

func (c *wsConn) Read(b []byte) (int, error) {
	for {
		if c.r == nil {
			kind, r, err := c.NextReader()
			if err != nil {
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				return 0, errors.Errorf("unexpected websocket message type %d", kind)
			}
			c.r = r
		}
		n, err := c.r.Read(b)
		if err == io.EOF {
			c.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *wsConn) Write(b []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}
