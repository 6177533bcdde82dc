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

// Command broker runs an in-memory AMQP peer with queues, claims-based
// security and a "$management" node describing one Event Hub.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/coreamqp/coreamqp/go/internal/broker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("broker", pflag.ExitOnError)
	addr := fs.String("addr", ":5672", "address to listen on")
	hub := fs.String("hub", "eventhub", "Event Hub name reported by $management")
	partitions := fs.StringSlice("partitions", []string{"0", "1"}, "partition IDs of the Event Hub")
	users := fs.StringToString("user", nil, "enable SASL PLAIN with user=password, may be repeated")
	trace := fs.Bool("trace", false, "log every frame")
	debug := fs.Bool("debug", false, "debug logging")
	_ = fs.Parse(os.Args[1:])
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	l, err := net.Listen("tcp", *addr)
	if err != nil {
		logrus.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	b := broker.New(broker.Options{
		ContainerID: "broker",
		EnableTrace: *trace,
		Users:       *users,
		EventHub: broker.EventHub{
			Name:         *hub,
			CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
			PartitionIDs: *partitions,
		},
	})
	logrus.Infof("listening on %s, event hub %s partitions %s", l.Addr(), *hub, strings.Join(*partitions, ","))
	if err := b.Serve(ctx, l); err != nil {
		logrus.Fatal(err)
	}
}
