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
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "coreamqp"

var (
	registry = prometheus.NewRegistry()

	framesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "frames_sent_total",
		Help:      "AMQP frames written, by performative.",
	}, []string{"performative"})

	framesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "frames_received_total",
		Help:      "AMQP frames read, by performative.",
	}, []string{"performative"})

	bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "bytes_sent_total",
		Help:      "Bytes written to transports.",
	})

	bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "bytes_received_total",
		Help:      "Bytes read from transports.",
	})

	connectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "connections_open",
		Help:      "Connections registered for polling.",
	})

	connectionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "connections_opened_total",
		Help:      "Connections that reached the opened state.",
	})

	protocolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "protocol_errors_total",
		Help:      "Endpoints closed locally because of a protocol or transport error, by condition.",
	}, []string{"condition"})
)

func init() {
	registry.MustRegister(framesSent, framesReceived, bytesSent, bytesReceived,
		connectionsOpen, connectionsOpened, protocolErrors)
}

// MetricsRegistry returns the registry holding the engine's metrics, for
// exposing through promhttp or gathering directly.
func MetricsRegistry() *prometheus.Registry { return registry }

func performativeName(body interface{}) string {
	switch body.(type) {
	case nil:
		return "empty"
	case *Open:
		return "open"
	case *Begin:
		return "begin"
	case *Attach:
		return "attach"
	case *Flow:
		return "flow"
	case *Transfer:
		return "transfer"
	case *Disposition:
		return "disposition"
	case *Detach:
		return "detach"
	case *End:
		return "end"
	case *Close:
		return "close"
	case *SaslMechanisms, *SaslInit, *SaslChallenge, *SaslResponse, *SaslOutcome:
		return "sasl"
	}
	return "unknown"
}
