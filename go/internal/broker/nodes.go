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

package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/credential"
)

// Request/response node addresses.
const (
	CbsNode        = "$cbs"
	ManagementNode = "$management"
	EchoNode       = "$echo"
)

func isNode(address string) bool {
	switch address {
	case CbsNode, ManagementNode, EchoNode:
		return true
	}
	return false
}

// response is the status and body of a node reply.
type response struct {
	code        int32
	description string
	body        interface{}
}

// request answers a node request on the queue named by its reply-to.
func (b *Broker) request(node string, msg amqp.Message) {
	props := msg.ApplicationProperties()
	operation, _ := props["operation"].(string)
	var r response
	codeKey, descriptionKey := "status-code", "status-description"
	switch node {
	case CbsNode:
		r = b.cbs(operation, msg)
	case ManagementNode:
		r = b.management(operation, msg)
	case EchoNode:
		r = response{code: 200, description: "OK", body: msg.Body()}
		codeKey, descriptionKey = "statusCode", "statusDescription"
	}
	b.log.Debugf("%s %s: %d %s", node, operation, r.code, r.description)
	if msg.ReplyTo() == "" {
		return
	}
	reply := amqp.NewMessage()
	reply.SetCorrelationId(msg.MessageId())
	reply.ApplicationProperties()[codeKey] = r.code
	reply.ApplicationProperties()[descriptionKey] = r.description
	if r.body != nil {
		reply.SetBody(r.body)
	}
	payload, err := reply.Encode(nil)
	if err != nil {
		b.log.Warnf("encode %s reply: %v", node, err)
		return
	}
	b.publish(msg.ReplyTo(), payload)
}

// validToken accepts shared access signatures and anything shaped like a
// JWT. Signatures are not verified.
func validToken(token string) bool {
	if strings.HasPrefix(token, credential.SasPrefix) {
		return true
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

func (b *Broker) cbs(operation string, msg amqp.Message) response {
	props := msg.ApplicationProperties()
	audience, _ := props["name"].(string)
	switch operation {
	case "put-token":
		token, _ := msg.Body().(string)
		if !validToken(token) {
			return response{code: 401, description: fmt.Sprintf("invalid token for %s", audience)}
		}
		expiry, _ := props["expiration"].(time.Time)
		b.mu.Lock()
		b.tokens[audience] = expiry
		b.mu.Unlock()
		return response{code: 202, description: "Accepted"}
	case "delete-token":
		b.mu.Lock()
		delete(b.tokens, audience)
		b.mu.Unlock()
		return response{code: 200, description: "OK"}
	}
	return response{code: 400, description: fmt.Sprintf("unknown operation %q", operation)}
}

func (b *Broker) management(operation string, msg amqp.Message) response {
	if operation != "READ" {
		return response{code: 400, description: fmt.Sprintf("unknown operation %q", operation)}
	}
	props := msg.ApplicationProperties()
	hub := b.opts.EventHub
	if name, _ := props["name"].(string); name != hub.Name {
		return response{code: 404, description: fmt.Sprintf("event hub %q not found", name)}
	}
	switch typ, _ := props["type"].(string); typ {
	case "com.microsoft:eventhub":
		return response{code: 200, description: "OK", body: map[string]interface{}{
			"name":          hub.Name,
			"created_at":    hub.CreatedAt,
			"partition_ids": hub.PartitionIDs,
		}}
	case "com.microsoft:partition":
		id, _ := props["partition"].(string)
		for _, p := range hub.PartitionIDs {
			if p == id {
				return response{code: 200, description: "OK", body: b.partition(hub.Name, id)}
			}
		}
		return response{code: 404, description: fmt.Sprintf("partition %q not found", id)}
	default:
		return response{code: 400, description: fmt.Sprintf("unknown type %q", typ)}
	}
}

// PartitionAddress is the queue address of an Event Hub partition.
func PartitionAddress(hub, partition string) string {
	return hub + "/Partitions/" + partition
}

func (b *Broker) partition(hub, id string) map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	var enqueued int64
	var last time.Time
	if q := b.queues[PartitionAddress(hub, id)]; q != nil {
		enqueued, last = q.enqueued, q.lastEnqueued
	}
	return map[string]interface{}{
		"name":                          hub,
		"partition":                     id,
		"begin_sequence_number":         int64(0),
		"last_enqueued_sequence_number": enqueued - 1,
		"last_enqueued_offset":          fmt.Sprint(enqueued),
		"last_enqueued_time_utc":        last,
		"is_partition_empty":            enqueued == 0,
	}
}
