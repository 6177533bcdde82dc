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

// Package sample holds the connection setup shared by the example commands.
package sample

import (
	"context"
	"time"

	"github.com/coreamqp/coreamqp/go/pkg/credential"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config is read from the environment.
type Config struct {
	ConnectionString string `envconfig:"EVENTHUB_CONNECTION_STRING" required:"true"`
	// EntityPath overrides the entity of the connection string.
	EntityPath string        `envconfig:"EVENTHUB_NAME"`
	Trace      bool          `envconfig:"EVENTHUB_TRACE"`
	Timeout    time.Duration `envconfig:"EVENTHUB_TIMEOUT" default:"30s"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, errors.Wrap(err, "load configuration")
	}
	if c.Trace {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return c, nil
}

// Client is an open connection with one mapped session.
type Client struct {
	Conn    *proton.Connection
	Session *proton.Session
	// Entity is the Event Hub named by the configuration.
	Entity string
}

// Dial connects to the endpoint of the connection string, authenticating
// with its shared key.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cred, err := credential.NewSharedKeyCredential(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}
	cs := cred.ConnectionString()
	conn, err := proton.NewConnection(cs.HostName(), cred, proton.ConnectionOptions{
		Port:        cs.Port(),
		EnableTrace: cfg.Trace,
	}, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{Conn: conn, Entity: cs.EntityPath}
	if cfg.EntityPath != "" {
		c.Entity = cfg.EntityPath
	}
	if err := conn.Open(ctx); err != nil {
		conn.Destroy()
		return nil, err
	}
	if err := conn.WaitOpened(ctx); err != nil {
		c.Close(ctx)
		return nil, errors.Wrapf(err, "open %s", cs.HostName())
	}
	s, err := conn.CreateSession(proton.SessionOptions{IncomingWindow: 5000, OutgoingWindow: 5000}, nil)
	if err == nil {
		err = s.Begin()
	}
	if err == nil {
		err = conn.WaitFor(ctx, func() (bool, error) {
			return s.State() == proton.SessionStateMapped, s.Error()
		})
	}
	if err != nil {
		c.Close(ctx)
		return nil, errors.Wrap(err, "begin session")
	}
	c.Session = s
	return c, nil
}

// Close ends the session and closes the connection.
func (c *Client) Close(ctx context.Context) {
	if c.Session != nil {
		_ = c.Session.End("", "")
	}
	_ = c.Conn.Close("", "", nil)
	if err := c.Conn.WaitClosed(ctx); err != nil {
		logrus.Debugf("close: %v", err)
	}
	c.Conn.Destroy()
}
