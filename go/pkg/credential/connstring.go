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

package credential

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	keyEndpoint              = "endpoint"
	keyEntityPath            = "entitypath"
	keySharedAccessKeyName   = "sharedaccesskeyname"
	keySharedAccessKey       = "sharedaccesskey"
	keySharedAccessSignature = "sharedaccesssignature"
	keyUseEmulator           = "usedevelopmentemulator"

	// DefaultPort is used for TLS endpoints.
	DefaultPort = 5671
	// EmulatorPort is used when UseDevelopmentEmulator is set.
	EmulatorPort = 5672
)

// ConnectionString is a parsed Event Hubs or Service Bus connection string.
type ConnectionString struct {
	Endpoint               string
	EntityPath             string
	SharedAccessKeyName    string
	SharedAccessKey        string
	SharedAccessSignature  string
	UseDevelopmentEmulator bool

	host string
	port uint16
}

// ParseConnectionString parses s, a ';' separated list of key=value pairs.
// Keys are case insensitive. A value extends to the end of its segment, so
// base64 padding such as a trailing "=" is kept.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	if strings.TrimSpace(s) == "" {
		return cs, errors.New("connection string is empty")
	}
	for _, segment := range strings.Split(s, ";") {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		i := strings.IndexByte(segment, '=')
		if i < 0 {
			return cs, errors.Errorf("connection string segment %q has no '='", segment)
		}
		key, value := strings.ToLower(strings.TrimSpace(segment[:i])), segment[i+1:]
		switch key {
		case keyEndpoint:
			cs.Endpoint = value
		case keyEntityPath:
			cs.EntityPath = value
		case keySharedAccessKeyName:
			cs.SharedAccessKeyName = value
		case keySharedAccessKey:
			cs.SharedAccessKey = value
		case keySharedAccessSignature:
			cs.SharedAccessSignature = value
		case keyUseEmulator:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return cs, errors.Wrapf(err, "bad UseDevelopmentEmulator value %q", value)
			}
			cs.UseDevelopmentEmulator = b
		}
	}
	if cs.Endpoint == "" {
		return cs, errors.New("connection string has no Endpoint")
	}
	if cs.SharedAccessSignature == "" && (cs.SharedAccessKeyName == "" || cs.SharedAccessKey == "") {
		return cs, errors.New("connection string needs SharedAccessKeyName and SharedAccessKey, or SharedAccessSignature")
	}
	if err := cs.parseEndpoint(); err != nil {
		return cs, err
	}
	return cs, nil
}

func (cs *ConnectionString) parseEndpoint() error {
	u, err := url.Parse(cs.Endpoint)
	if err != nil {
		return errors.Wrapf(err, "bad Endpoint %q", cs.Endpoint)
	}
	hostport := u.Host
	if hostport == "" {
		// Accept a bare host name.
		hostport = strings.TrimSuffix(cs.Endpoint, "/")
	}
	cs.port = DefaultPort
	if cs.UseDevelopmentEmulator {
		cs.port = EmulatorPort
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	} else {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return errors.Wrapf(err, "bad port in Endpoint %q", cs.Endpoint)
		}
		cs.port = uint16(n)
	}
	if host == "" {
		return errors.Errorf("Endpoint %q has no host", cs.Endpoint)
	}
	cs.host = host
	return nil
}

// HostName is the fully qualified host of the endpoint.
func (cs ConnectionString) HostName() string { return cs.host }

// Port is the endpoint port, or the default for the endpoint kind.
func (cs ConnectionString) Port() uint16 { return cs.port }

// Audience returns the CBS audience for the entity, amqps://host/entity.
func (cs ConnectionString) Audience() string {
	return Audience(cs.host, cs.EntityPath)
}

// Audience builds the CBS audience for entity on host.
func Audience(host, entity string) string {
	if entity == "" {
		return "amqps://" + host
	}
	return "amqps://" + host + "/" + strings.TrimPrefix(entity, "/")
}
