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

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("pkg", "proton")

func envBool(name string) bool {
	v := strings.ToLower(os.Getenv(name))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// PN_TRACE_FRM logs every frame, PN_TRACE_EVT every endpoint state change.
var (
	traceFrames = envBool("PN_TRACE_FRM")
	traceEvents = envBool("PN_TRACE_EVT")
)

// tracer logs frames at Info level when tracing is on, Debug otherwise.
type tracer struct {
	entry   *logrus.Entry
	enabled bool
}

func (t tracer) frame(dir string, channel uint16, body interface{}) {
	if t.enabled || traceFrames {
		t.entry.Infof("%s [%d] %v", dir, channel, body)
	} else if t.entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		t.entry.Debugf("%s [%d] %v", dir, channel, body)
	}
}

func (t tracer) event(format string, args ...interface{}) {
	if t.enabled || traceEvents {
		t.entry.Infof(format, args...)
	} else {
		t.entry.Debugf(format, args...)
	}
}
