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

import (
	"fmt"
	"time"
)

// TerminusDurability is what state of a terminus the peer retains.
type TerminusDurability uint32

const (
	DurableNone          TerminusDurability = 0
	DurableConfiguration TerminusDurability = 1
	DurableUnsettled     TerminusDurability = 2
)

// ExpiryPolicy says when the timeout of a terminus starts to run.
type ExpiryPolicy Symbol

const (
	ExpireLinkDetach      ExpiryPolicy = "link-detach"
	ExpireSessionEnd      ExpiryPolicy = "session-end"
	ExpireConnectionClose ExpiryPolicy = "connection-close"
	ExpireNever           ExpiryPolicy = "never"
)

// Lifetime policies for dynamic nodes, used as the "lifetime-policy" value
// in DynamicNodeProperties.
var (
	DeleteOnClose             = Described{uint64(0x2b), List{}}
	DeleteOnNoLinks           = Described{uint64(0x2c), List{}}
	DeleteOnNoMessages        = Described{uint64(0x2d), List{}}
	DeleteOnNoLinksOrMessages = Described{uint64(0x2e), List{}}
)

const (
	descriptorSource = 0x28
	descriptorTarget = 0x29
)

// Source is the source terminus of a link.
type Source struct {
	Address               string
	Durable               TerminusDurability
	ExpiryPolicy          ExpiryPolicy
	Timeout               time.Duration
	Dynamic               bool
	DynamicNodeProperties map[Symbol]interface{}
	DistributionMode      Symbol
	Filter                map[Symbol]interface{}
	DefaultOutcome        interface{}
	Outcomes              []Symbol
	Capabilities          []Symbol
}

// Target is the target terminus of a link.
type Target struct {
	Address               string
	Durable               TerminusDurability
	ExpiryPolicy          ExpiryPolicy
	Timeout               time.Duration
	Dynamic               bool
	DynamicNodeProperties map[Symbol]interface{}
	Capabilities          []Symbol
}

func symbolsOrNil(s []Symbol) interface{} {
	if len(s) == 0 {
		return nil
	}
	return s
}

func mapOrNil(m map[Symbol]interface{}) interface{} {
	if len(m) == 0 {
		return nil
	}
	return m
}

func expiryOrNil(e ExpiryPolicy) interface{} {
	if e == "" {
		return nil
	}
	return Symbol(e)
}

func seconds(d time.Duration) interface{} {
	if d <= 0 {
		return nil
	}
	return uint32(d / time.Second)
}

func (s *Source) MarshalAMQP() interface{} {
	l := List{
		nil,
		nil,
		expiryOrNil(s.ExpiryPolicy),
		seconds(s.Timeout),
		nil,
		mapOrNil(s.DynamicNodeProperties),
		nil,
		mapOrNil(s.Filter),
		s.DefaultOutcome,
		symbolsOrNil(s.Outcomes),
		symbolsOrNil(s.Capabilities),
	}
	if s.Address != "" {
		l[0] = s.Address
	}
	if s.Durable != DurableNone {
		l[1] = uint32(s.Durable)
	}
	if s.Dynamic {
		l[4] = true
	}
	if s.DistributionMode != "" {
		l[6] = s.DistributionMode
	}
	return Described{uint64(descriptorSource), trimList(l)}
}

func (s *Source) String() string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Source{address: %q, durable: %d, dynamic: %v, filter: %v}", s.Address, s.Durable, s.Dynamic, s.Filter)
}

func (t *Target) MarshalAMQP() interface{} {
	l := List{
		nil,
		nil,
		expiryOrNil(t.ExpiryPolicy),
		seconds(t.Timeout),
		nil,
		mapOrNil(t.DynamicNodeProperties),
		symbolsOrNil(t.Capabilities),
	}
	if t.Address != "" {
		l[0] = t.Address
	}
	if t.Durable != DurableNone {
		l[1] = uint32(t.Durable)
	}
	if t.Dynamic {
		l[4] = true
	}
	return Described{uint64(descriptorTarget), trimList(l)}
}

func (t *Target) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Target{address: %q, durable: %d, dynamic: %v}", t.Address, t.Durable, t.Dynamic)
}

func describedList(v interface{}, code uint64, name Symbol) (Fields, error) {
	d, ok := v.(Described)
	if !ok || !d.Is(code, name) {
		return nil, fmt.Errorf("expected %s, got %#v", name, v)
	}
	return Fields(asList(d.Value)), nil
}

// SourceFromValue converts a decoded source. Returns nil for null.
func SourceFromValue(v interface{}) (*Source, error) {
	if v == nil {
		return nil, nil
	}
	f, err := describedList(v, descriptorSource, "amqp:source:list")
	if err != nil {
		return nil, err
	}
	return &Source{
		Address:               f.String(0),
		Durable:               TerminusDurability(f.Uint32(1)),
		ExpiryPolicy:          ExpiryPolicy(f.Symbol(2)),
		Timeout:               time.Duration(f.Uint32(3)) * time.Second,
		Dynamic:               f.Bool(4),
		DynamicNodeProperties: f.SymbolMap(5),
		DistributionMode:      f.Symbol(6),
		Filter:                f.SymbolMap(7),
		DefaultOutcome:        f.Get(8),
		Outcomes:              f.Symbols(9),
		Capabilities:          f.Symbols(10),
	}, nil
}

// TargetFromValue converts a decoded target. Returns nil for null.
func TargetFromValue(v interface{}) (*Target, error) {
	if v == nil {
		return nil, nil
	}
	f, err := describedList(v, descriptorTarget, "amqp:target:list")
	if err != nil {
		return nil, err
	}
	return &Target{
		Address:               f.String(0),
		Durable:               TerminusDurability(f.Uint32(1)),
		ExpiryPolicy:          ExpiryPolicy(f.Symbol(2)),
		Timeout:               time.Duration(f.Uint32(3)) * time.Second,
		Dynamic:               f.Bool(4),
		DynamicNodeProperties: f.SymbolMap(5),
		Capabilities:          f.Symbols(6),
	}, nil
}
