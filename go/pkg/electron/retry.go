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
	"io"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
	"github.com/pkg/errors"
)

// Retry defaults, used for zero RetryOptions fields.
const (
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 800 * time.Millisecond
	DefaultMaxRetryDelay = time.Minute
	DefaultJitterMin     = 0.8
	DefaultJitterMax     = 1.3
)

// RetryOptions configures Retry. The delay before retry n (from 0) is
// RetryDelay * 2^n * j, capped at MaxRetryDelay, where j is random in
// [Jitter[0], Jitter[1]). Jitter bounds outside [0.8, 1.3), or inverted,
// are replaced by the defaults.
type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt. Negative
	// means no retries.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Jitter        [2]float64
}

func (o RetryOptions) withDefaults() RetryOptions {
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = DefaultMaxRetryDelay
	}
	lo, hi := o.Jitter[0], o.Jitter[1]
	if lo < DefaultJitterMin || hi > DefaultJitterMax || lo > hi {
		o.Jitter = [2]float64{DefaultJitterMin, DefaultJitterMax}
	}
	return o
}

// exponentialBackOff implements backoff.BackOff with jittered doubling.
type exponentialBackOff struct {
	opts    RetryOptions
	attempt int
	rand    *rand.Rand
}

func newExponentialBackOff(opts RetryOptions) *exponentialBackOff {
	return &exponentialBackOff{opts: opts.withDefaults(), rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (b *exponentialBackOff) delay(attempt int) time.Duration {
	lo, hi := b.opts.Jitter[0], b.opts.Jitter[1]
	jitter := lo + b.rand.Float64()*(hi-lo)
	d := float64(b.opts.RetryDelay) * math.Pow(2, float64(attempt)) * jitter
	if d > float64(b.opts.MaxRetryDelay) {
		return b.opts.MaxRetryDelay
	}
	return time.Duration(d)
}

func (b *exponentialBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.opts.MaxRetries {
		return backoff.Stop
	}
	d := b.delay(b.attempt)
	b.attempt++
	return d
}

func (b *exponentialBackOff) Reset() { b.attempt = 0 }

var errIncomplete = errors.New("operation incomplete")

// transientConditions are the AMQP error conditions worth retrying.
var transientConditions = map[string]bool{
	amqp.ServerBusyError:       true,
	amqp.TimeoutError:          true,
	amqp.ConnectionForced:      true,
	amqp.LinkDetachForced:      true,
	amqp.ResourceLimitExceeded: true,
	amqp.ProtonIo:              true,
}

// IsTransient is true for errors that a retry may overcome: transport
// failures and AMQP errors with a transient condition.
func IsTransient(err error) bool {
	cause := errors.Cause(err)
	switch e := cause.(type) {
	case amqp.Error:
		return transientConditions[e.Name]
	case *amqp.Error:
		return transientConditions[e.Name]
	case net.Error:
		return true
	}
	return cause == io.EOF || cause == io.ErrUnexpectedEOF || cause == proton.ErrConnectionClosed
}

// Retry calls op until it reports done, fails with an error that is not
// transient, or runs out of retries. op returns (false, nil) to ask for a
// retry. The last error is returned; running out of retries on an
// incomplete operation gives an error as well.
func Retry(ctx context.Context, opts RetryOptions, op func(ctx context.Context) (bool, error)) error {
	b := newExponentialBackOff(opts)
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		done, err := op(ctx)
		switch {
		case err != nil && !IsTransient(err):
			return backoff.Permanent(err)
		case err != nil:
			return err
		case !done:
			return errIncomplete
		}
		return nil
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		log.Debugf("attempt %d failed, retrying in %v: %v", attempt, d, err)
	})
	if err == errIncomplete {
		return errors.Errorf("operation incomplete after %d attempts", attempt)
	}
	if err != nil && ctx.Err() != nil && errors.Cause(err) == ctx.Err() {
		return proton.ContextError(err)
	}
	return err
}
