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

// Command send sends messages to the Event Hub of EVENTHUB_CONNECTION_STRING,
// retrying transient failures.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/coreamqp/coreamqp/go/examples/internal/sample"
	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/electron"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("send", pflag.ExitOnError)
	count := fs.IntP("count", "n", 1, "number of messages")
	partition := fs.String("partition", "", "send to this partition instead of the hub")
	retries := fs.Int("retries", electron.DefaultMaxRetries, "retries per message")
	_ = fs.Parse(os.Args[1:])

	cfg, err := sample.LoadConfig()
	if err != nil {
		logrus.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	c, err := sample.Dial(ctx, cfg)
	if err != nil {
		logrus.Fatal(err)
	}
	defer c.Close(ctx)

	target := c.Entity
	if *partition != "" {
		target += "/Partitions/" + *partition
	}
	s := electron.NewMessageSender(c.Session, target, electron.MessageSenderOptions{
		AuthenticationRequired: true,
		EnableTrace:            cfg.Trace,
	}, nil)
	opts := electron.RetryOptions{MaxRetries: *retries}
	if err := electron.Retry(ctx, opts, func(ctx context.Context) (bool, error) {
		return true, s.Open(ctx)
	}); err != nil {
		logrus.Fatalf("open sender: %v", err)
	}
	defer func() { _ = s.Close(ctx) }()

	for i := 0; i < *count; i++ {
		body := fmt.Sprintf("message %d", i)
		err := electron.Retry(ctx, opts, func(ctx context.Context) (bool, error) {
			status, err := s.Send(ctx, amqp.NewMessageWith(body))
			if err != nil && s.State() != electron.MessageSenderStateOpen {
				// The link was lost, attach again before the next attempt.
				_ = s.Close(ctx)
				if oerr := s.Open(ctx); oerr != nil {
					return false, oerr
				}
			}
			return status == electron.MessageSendStatusOk, err
		})
		if err != nil {
			logrus.Fatalf("send %q: %v", body, err)
		}
	}
	fmt.Printf("sent %d messages to %s\n", *count, target)
}
