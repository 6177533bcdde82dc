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

package electron

import (
	"context"
	"fmt"
	"time"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Management operation and entity types of Event Hubs.
const (
	ReadOperation    = "READ"
	EventHubType     = "com.microsoft:eventhub"
	PartitionType    = "com.microsoft:partition"
	entityNameKey    = "name"
	partitionNameKey = "partition"
	securityTokenKey = "security_token"
)

// EventHubProperties describes an Event Hub.
type EventHubProperties struct {
	Name         string    `mapstructure:"name"`
	CreatedAt    time.Time `mapstructure:"created_at"`
	PartitionIDs []string  `mapstructure:"partition_ids"`
}

// PartitionProperties describes one partition of an Event Hub.
type PartitionProperties struct {
	Name                       string    `mapstructure:"name"`
	PartitionID                string    `mapstructure:"partition"`
	BeginningSequenceNumber    int64     `mapstructure:"begin_sequence_number"`
	LastEnqueuedSequenceNumber int64     `mapstructure:"last_enqueued_sequence_number"`
	LastEnqueuedOffset         string    `mapstructure:"last_enqueued_offset"`
	LastEnqueuedTimeUTC        time.Time `mapstructure:"last_enqueued_time_utc"`
	IsEmpty                    bool      `mapstructure:"is_partition_empty"`
}

// GetEventHubProperties reads the properties of the Event Hub name through
// the "$management" node of session.
func GetEventHubProperties(ctx context.Context, session *proton.Session, name string) (EventHubProperties, error) {
	var props EventHubProperties
	msg := amqp.NewMessage()
	msg.ApplicationProperties()[entityNameKey] = name
	err := readProperties(ctx, session, EventHubType, msg, &props)
	return props, err
}

// GetPartitionProperties reads the properties of one partition.
func GetPartitionProperties(ctx context.Context, session *proton.Session, name, partition string) (PartitionProperties, error) {
	var props PartitionProperties
	msg := amqp.NewMessage()
	msg.ApplicationProperties()[entityNameKey] = name
	msg.ApplicationProperties()[partitionNameKey] = partition
	err := readProperties(ctx, session, PartitionType, msg, &props)
	return props, err
}

func readProperties(ctx context.Context, session *proton.Session, typ string, msg amqp.Message, out interface{}) error {
	if cred := session.Connection().Credential(); cred != nil {
		token, err := cred.GetToken(ctx, []string{NewAuthenticator(session).Audience("")})
		if err != nil {
			return errors.Wrap(err, "get management token")
		}
		msg.ApplicationProperties()[securityTokenKey] = token.Token
	}
	m := NewManagement(session, DefaultManagementNodeName, ManagementOptions{
		EnableTrace: session.Connection().EnableTrace(),
	}, nil)
	if _, err := m.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = m.Close(ctx) }()
	res, err := m.ExecuteOperation(ctx, ReadOperation, typ, "", msg)
	if err != nil {
		return err
	}
	if res.Status != ManagementOperationStatusOk {
		return errors.Errorf("%s %s failed with status %d: %s", ReadOperation, typ, res.StatusCode, res.Description)
	}
	return decodeProperties(res.Message.Body(), out)
}

// decodeProperties decodes a response map body into out.
func decodeProperties(body interface{}, out interface{}) error {
	var in map[string]interface{}
	switch b := body.(type) {
	case amqp.Map:
		in = make(map[string]interface{}, len(b))
		for k, v := range b {
			in[fmt.Sprint(k)] = v
		}
	case map[string]interface{}:
		in = b
	default:
		return errors.Errorf("management response body is %T, not a map", body)
	}
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(d.Decode(in), "decode management response")
}
