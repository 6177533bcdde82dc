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

package amqp

import "fmt"

// Descriptor codes of the delivery states.
const (
	descriptorReceived = 0x23
	descriptorAccepted = 0x24
	descriptorRejected = 0x25
	descriptorReleased = 0x26
	descriptorModified = 0x27
)

// DeliveryState is the state of a delivery carried by transfer and
// disposition frames. Accepted, Rejected, Released and Modified are outcomes,
// terminal states of a delivery.
type DeliveryState interface {
	Marshaler
	fmt.Stringer
	deliveryState()
}

// Received records how much of a message has been received, for resuming.
type Received struct {
	SectionNumber uint32
	SectionOffset uint64
}

// Accepted means the receiver processed the message.
type Accepted struct{}

// Rejected means the message was invalid and will not be processed.
type Rejected struct{ Error *Error }

// Released means the message was not processed and may be redelivered.
type Released struct{}

// Modified is Released with changes the sender should apply before redelivery.
type Modified struct {
	DeliveryFailed     bool
	UndeliverableHere  bool
	MessageAnnotations map[Symbol]interface{}
}

func (Received) deliveryState() {}
func (Accepted) deliveryState() {}
func (Rejected) deliveryState() {}
func (Released) deliveryState() {}
func (Modified) deliveryState() {}

func (s Received) MarshalAMQP() interface{} {
	return Described{uint64(descriptorReceived), List{s.SectionNumber, s.SectionOffset}}
}
func (Accepted) MarshalAMQP() interface{} { return Described{uint64(descriptorAccepted), List{}} }
func (Released) MarshalAMQP() interface{} { return Described{uint64(descriptorReleased), List{}} }

func (s Rejected) MarshalAMQP() interface{} {
	if s.Error == nil {
		return Described{uint64(descriptorRejected), List{}}
	}
	return Described{uint64(descriptorRejected), List{*s.Error}}
}

func (s Modified) MarshalAMQP() interface{} {
	l := List{nil, nil, nil}
	if s.DeliveryFailed {
		l[0] = true
	}
	if s.UndeliverableHere {
		l[1] = true
	}
	if len(s.MessageAnnotations) > 0 {
		l[2] = s.MessageAnnotations
	}
	return Described{uint64(descriptorModified), trimList(l)}
}

func (s Received) String() string {
	return fmt.Sprintf("Received{section: %d, offset: %d}", s.SectionNumber, s.SectionOffset)
}
func (Accepted) String() string { return "Accepted" }
func (Released) String() string { return "Released" }
func (s Rejected) String() string {
	if s.Error == nil {
		return "Rejected"
	}
	return fmt.Sprintf("Rejected{%v}", *s.Error)
}
func (s Modified) String() string {
	return fmt.Sprintf("Modified{failed: %v, undeliverable: %v}", s.DeliveryFailed, s.UndeliverableHere)
}

// IsOutcome is true for the terminal delivery states.
func IsOutcome(s DeliveryState) bool {
	switch s.(type) {
	case Accepted, Rejected, Released, Modified:
		return true
	}
	return false
}

// DeliveryStateFromValue converts a decoded delivery state. Returns nil for null.
func DeliveryStateFromValue(v interface{}) (DeliveryState, error) {
	if v == nil {
		return nil, nil
	}
	d, ok := v.(Described)
	if !ok {
		return nil, fmt.Errorf("expected delivery state, got %#v", v)
	}
	f := Fields(asList(d.Value))
	switch {
	case d.Is(descriptorReceived, "amqp:received:list"):
		return Received{f.Uint32(0), f.Uint64(1)}, nil
	case d.Is(descriptorAccepted, "amqp:accepted:list"):
		return Accepted{}, nil
	case d.Is(descriptorRejected, "amqp:rejected:list"):
		e, err := ErrorFromValue(f.Get(0))
		if err != nil {
			return nil, err
		}
		return Rejected{e}, nil
	case d.Is(descriptorReleased, "amqp:released:list"):
		return Released{}, nil
	case d.Is(descriptorModified, "amqp:modified:list"):
		return Modified{f.Bool(0), f.Bool(1), f.SymbolMap(2)}, nil
	}
	return nil, fmt.Errorf("unknown delivery state %v", d.Descriptor)
}
