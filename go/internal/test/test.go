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

// Package test supplements the standard Go testing package.
package test

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func message(err error, args ...interface{}) (msg string) {
	if len(args) > 0 {
		msg = fmt.Sprintf(args[0].(string), args[1:]...) + ": "
	}
	msg = msg + err.Error()
	return
}

// ErrorIf calls t.Error() if err != nil, with optional format message
func ErrorIf(t testing.TB, err error, format ...interface{}) error {
	t.Helper()
	if err != nil {
		t.Error(message(err, format...))
	}
	return err
}

// FatalIf calls t.Fatal() if err != nil, with optional format message
func FatalIf(t testing.TB, err error, format ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatal(message(err, format...))
	}
}

// TB extends the methods on testing.TB
type TB struct{ testing.TB }

func (t *TB) ErrorIf(err error, format ...interface{}) error {
	t.Helper()
	return ErrorIf(t, err, format...)
}
func (t *TB) FatalIf(err error, format ...interface{}) { t.Helper(); FatalIf(t, err, format...) }

// Unexported fields take part in comparison, values like amqp.AnnotationKey hide their content.
var cmpOptions = []cmp.Option{cmp.Exporter(func(reflect.Type) bool { return true })}

// Differ returns nil if want and got are equal, else an error showing the difference.
func Differ(want interface{}, got interface{}) error {
	if diff := cmp.Diff(want, got, cmpOptions...); diff != "" {
		return fmt.Errorf("(%T)%#v != (%T)%#v)\n%s", want, want, got, got, diff)
	}
	return nil
}

// Eventually polls cond every tick until it is true or timeout expires.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, format ...interface{}) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(message(fmt.Errorf("condition not met after %v", timeout), format...))
		}
		time.Sleep(time.Millisecond)
	}
}
