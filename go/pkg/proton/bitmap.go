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

package proton

import "math/bits"

// bitmap allocates the lowest free number up to max, for link handles.
type bitmap struct {
	max  uint32
	bits []uint64
}

func newBitmap(max uint32) *bitmap { return &bitmap{max: max} }

// add marks n as used. No effect if n > max.
func (b *bitmap) add(n uint32) {
	if n > b.max {
		return
	}
	idx, offset := n/64, n%64
	if l := len(b.bits); int(idx) >= l {
		b.bits = append(b.bits, make([]uint64, int(idx)-l+1)...)
	}
	b.bits[idx] |= 1 << offset
}

func (b *bitmap) remove(n uint32) {
	idx, offset := n/64, n%64
	if int(idx) >= len(b.bits) {
		return
	}
	b.bits[idx] &^= 1 << offset
}

func (b *bitmap) has(n uint32) bool {
	idx, offset := n/64, n%64
	return int(idx) < len(b.bits) && b.bits[idx]&(1<<offset) != 0
}

// next marks and returns the lowest free number, false if none is left.
func (b *bitmap) next() (uint32, bool) {
	for i, v := range b.bits {
		if v == ^uint64(0) {
			continue
		}
		offset := bits.TrailingZeros64(^v)
		n := uint32(i*64 + offset)
		if n > b.max {
			return 0, false
		}
		b.bits[i] |= 1 << uint(offset)
		return n, true
	}
	if uint64(len(b.bits))*64 > uint64(b.max) {
		return 0, false
	}
	b.bits = append(b.bits, 1)
	return uint32(len(b.bits)-1) * 64, true
}
