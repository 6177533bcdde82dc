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
Package electron is a blocking API for AMQP 1.0 clients built on the proton
engine.

Start with a proton.Connection and a begun proton.Session. A MessageSender
sends messages to a target address and a MessageReceiver receives them from a
source. Both can authenticate with claims-based security before attaching,
using the connection's credential.

Management runs request/response operations against a management node such
as "$management", correlating replies by message-id. ClaimsBasedSecurity is a
Management on the "$cbs" node that puts tokens for an audience.

Blocking calls take a context.Context. While they wait they poll the
connection themselves, so they make progress whether or not the
proton.GlobalState goroutine is running. A deadline gives proton.ErrTimeout, a
cancellation proton.ErrCancelled.
*/
package electron

/* DEVELOPER NOTES

Engine callbacks (proton.LinkEvents and proton.SessionEvents) run with the
connection locked. Anything that calls back into the engine, including the
user's event interfaces, is scheduled with Connection.Defer and runs after
the lock is released.

Results flow from callbacks to waiting callers through
proton.AsyncOperationQueue, which never blocks the producer.
*/
