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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripValue(t *testing.T, v interface{}) interface{} {
	t.Helper()
	b, err := Marshal(v, nil)
	require.NoError(t, err)
	out, n, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	return out
}

func TestSourceTarget(t *testing.T) {
	src := &Source{
		Address:      "queue",
		Durable:      DurableUnsettled,
		ExpiryPolicy: ExpireNever,
		Timeout:      30 * time.Second,
		Filter:       map[Symbol]interface{}{"apache.org:selector-filter:string": Described{Symbol("apache.org:selector-filter:string"), "x > 1"}},
		Capabilities: []Symbol{"queue"},
	}
	got, err := SourceFromValue(roundTripValue(t, src))
	require.NoError(t, err)
	assert.Equal(t, src, got)

	tgt := &Target{Address: "topic", Dynamic: true, DynamicNodeProperties: map[Symbol]interface{}{"lifetime-policy": DeleteOnClose}}
	gotT, err := TargetFromValue(roundTripValue(t, tgt))
	require.NoError(t, err)
	assert.Equal(t, tgt.Address, gotT.Address)
	assert.True(t, gotT.Dynamic)
	assert.Equal(t, DeleteOnClose, gotT.DynamicNodeProperties["lifetime-policy"])

	s, err := SourceFromValue(nil)
	assert.NoError(t, err)
	assert.Nil(t, s)
	_, err = TargetFromValue(roundTripValue(t, src))
	assert.Error(t, err)
}

func TestDeliveryStates(t *testing.T) {
	e := Errorf(NotAllowed, "no")
	for _, s := range []DeliveryState{
		Received{SectionNumber: 1, SectionOffset: 300},
		Accepted{},
		Rejected{Error: &e},
		Rejected{},
		Released{},
		Modified{DeliveryFailed: true, MessageAnnotations: map[Symbol]interface{}{"x-opt": "v"}},
	} {
		got, err := DeliveryStateFromValue(roundTripValue(t, s))
		require.NoError(t, err)
		assert.Equal(t, s, got, s.String())
	}
	assert.True(t, IsOutcome(Accepted{}))
	assert.False(t, IsOutcome(Received{}))
	_, err := DeliveryStateFromValue(Described{uint64(0x99), List{}})
	assert.Error(t, err)
}
