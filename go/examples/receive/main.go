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

// Command receive prints messages from a partition of the Event Hub of
// EVENTHUB_CONNECTION_STRING.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/coreamqp/coreamqp/go/examples/internal/sample"
	"github.com/coreamqp/coreamqp/go/pkg/electron"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("receive", pflag.ExitOnError)
	count := fs.IntP("count", "n", 1, "stop after this many messages")
	partition := fs.String("partition", "0", "partition to receive from")
	group := fs.String("consumer-group", "$Default", "consumer group, empty to read the partition queue directly")
	credit := fs.Uint32("credit", 10, "link credit")
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

	source := c.Entity + "/Partitions/" + *partition
	if *group != "" {
		source = c.Entity + "/ConsumerGroups/" + *group + "/Partitions/" + *partition
	}
	r := electron.NewMessageReceiver(c.Session, source, electron.MessageReceiverOptions{
		AuthenticationRequired: true,
		MaxLinkCredit:          *credit,
		EnableTrace:            cfg.Trace,
	}, nil)
	if err := electron.Retry(ctx, electron.RetryOptions{}, func(ctx context.Context) (bool, error) {
		return true, r.Open(ctx)
	}); err != nil {
		logrus.Fatalf("open receiver: %v", err)
	}
	defer func() { _ = r.Close(ctx) }()

	for i := 0; i < *count; i++ {
		m, e, err := r.WaitForIncomingMessage(ctx)
		switch {
		case err != nil:
			logrus.Fatalf("receive: %v", err)
		case e != nil:
			logrus.Fatalf("receiver detached: %v", *e)
		}
		fmt.Printf("%d: %v\n", m.DeliveryID, m.Body())
	}
}
