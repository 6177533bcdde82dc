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

// Command properties prints the properties of the Event Hub of
// EVENTHUB_CONNECTION_STRING and of each of its partitions.
package main

import (
	"context"
	"fmt"

	"github.com/coreamqp/coreamqp/go/examples/internal/sample"
	"github.com/coreamqp/coreamqp/go/pkg/electron"
	"github.com/sirupsen/logrus"
)

func main() {
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

	hub, err := electron.GetEventHubProperties(ctx, c.Session, c.Entity)
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Printf("%s created %v\n", hub.Name, hub.CreatedAt)
	for _, id := range hub.PartitionIDs {
		p, err := electron.GetPartitionProperties(ctx, c.Session, c.Entity, id)
		if err != nil {
			logrus.Fatal(err)
		}
		fmt.Printf("  partition %s: sequence %d..%d, offset %s, empty %t\n",
			p.PartitionID, p.BeginningSequenceNumber, p.LastEnqueuedSequenceNumber, p.LastEnqueuedOffset, p.IsEmpty)
	}
}
