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

/*
Package proton is an AMQP 1.0 protocol engine: connection, session and link
state machines over a pluggable byte Transport.

A Connection is created with NewConnection for a client, which makes its own
transport from ConnectionOptions, or with NewConnectionFromTransport for an
existing one. Open starts the client handshake, Listen answers one. The
engine does no I/O of its own: Transport implementations run reader and
writer goroutines and queue events, and Connection.Poll processes them. A
process-wide GlobalState polls every open connection, and the Wait methods
poll while they block, so callbacks are delivered whether or not a caller is
waiting.

Sessions are created with Connection.CreateSession and begun with
Session.Begin. Links are created with Session.CreateLink and attached with
Link.Attach. Incoming sessions and links are offered to
ConnectionEvents.OnNewEndpoint and SessionEvents.OnLinkEndpoint; configure
the endpoint and return true to accept it.

Objects are handles into their connection. Once a session has ended its
methods return ErrInvalidHandle, and so do those of its links.

Set PN_TRACE_FRM=1 to log every frame and PN_TRACE_EVT=1 to log state
changes.
*/
package proton

/* DEVELOPER NOTES

All engine state of a connection, including its sessions and links, is
guarded by Connection.mu. Public methods lock it and release it with
Connection.unlock, which first reports state changes.

Session and link events run inline with the lock held. They may read state
with the lock-free State and Error methods and use Connection.Defer for
anything else. Connection events are always deferred.

Transport events are only delivered inside Transport.Poll, which is called
with the lock held, so transport goroutines never touch engine state.

*/
