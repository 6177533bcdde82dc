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
	"time"

	"github.com/coreamqp/coreamqp/go/pkg/amqp"
	"github.com/coreamqp/coreamqp/go/pkg/proton"
	"github.com/pkg/errors"
)

// CbsNodeName is the address of the claims-based security node.
const CbsNodeName = "$cbs"

// CBS request values.
const (
	cbsPutToken      = "put-token"
	cbsDeleteToken   = "delete-token"
	cbsNameKey       = "name"
	cbsExpirationKey = "expiration"
)

// CbsTokenType is the type of a token put to the CBS node.
type CbsTokenType string

const (
	CbsTokenTypeSas CbsTokenType = "servicebus.windows.net:sastoken"
	CbsTokenTypeJwt CbsTokenType = "jwt"
)

// CbsOpenResult is the result of ClaimsBasedSecurity.Open.
type CbsOpenResult int

const (
	CbsOpenResultInvalid CbsOpenResult = iota
	CbsOpenResultOk
	CbsOpenResultError
	CbsOpenResultCancelled
)

// CbsOperationResult is the result of a token operation.
type CbsOperationResult int

const (
	CbsOperationResultInvalid CbsOperationResult = iota
	CbsOperationResultOk
	// CbsOperationResultError means the request could not be completed.
	CbsOperationResultError
	// CbsOperationResultFailed means the node refused the request.
	CbsOperationResultFailed
	CbsOperationResultCancelled
)

func (r CbsOperationResult) String() string {
	switch r {
	case CbsOperationResultOk:
		return "ok"
	case CbsOperationResultError:
		return "error"
	case CbsOperationResultFailed:
		return "failed"
	case CbsOperationResultCancelled:
		return "cancelled"
	}
	return "invalid"
}

// CbsOptions configures a ClaimsBasedSecurity client.
type CbsOptions struct {
	EnableTrace bool
}

// ClaimsBasedSecurity puts and deletes tokens on the "$cbs" node.
type ClaimsBasedSecurity struct {
	m *Management
}

// NewClaimsBasedSecurity creates a CBS client on session.
func NewClaimsBasedSecurity(session *proton.Session, opts CbsOptions) *ClaimsBasedSecurity {
	return &ClaimsBasedSecurity{m: NewManagement(session, CbsNodeName, ManagementOptions{
		EnableTrace:                      opts.EnableTrace,
		ExpectedStatusCodeKeyName:        alternateStatusCodeKeyName,
		ExpectedStatusDescriptionKeyName: alternateStatusDescriptionKeyName,
		ManagementNodeName:               CbsNodeName,
	}, nil)}
}

// Open attaches the CBS links.
func (c *ClaimsBasedSecurity) Open(ctx context.Context) (CbsOpenResult, error) {
	status, err := c.m.Open(ctx)
	switch status {
	case ManagementOpenStatusOk:
		return CbsOpenResultOk, nil
	case ManagementOpenStatusCancelled:
		return CbsOpenResultCancelled, err
	}
	return CbsOpenResultError, err
}

// Close detaches the CBS links.
func (c *ClaimsBasedSecurity) Close(ctx context.Context) error { return c.m.Close(ctx) }

// State of the underlying management client.
func (c *ClaimsBasedSecurity) State() ManagementState { return c.m.State() }

// PutToken authorizes audience with token until expiresOn. A refused token
// gives CbsOperationResultFailed and a nil error.
func (c *ClaimsBasedSecurity) PutToken(ctx context.Context, typ CbsTokenType, audience, token string, expiresOn time.Time) (CbsOperationResult, uint32, string, error) {
	msg := amqp.NewMessageWith(token)
	msg.ApplicationProperties()[cbsNameKey] = audience
	msg.ApplicationProperties()[cbsExpirationKey] = expiresOn
	return c.execute(ctx, cbsPutToken, typ, msg)
}

// DeleteToken removes the authorization of audience.
func (c *ClaimsBasedSecurity) DeleteToken(ctx context.Context, typ CbsTokenType, audience string) (CbsOperationResult, uint32, string, error) {
	msg := amqp.NewMessage()
	msg.ApplicationProperties()[cbsNameKey] = audience
	return c.execute(ctx, cbsDeleteToken, typ, msg)
}

func (c *ClaimsBasedSecurity) execute(ctx context.Context, operation string, typ CbsTokenType, msg amqp.Message) (CbsOperationResult, uint32, string, error) {
	res, err := c.m.ExecuteOperation(ctx, operation, string(typ), "", msg)
	switch res.Status {
	case ManagementOperationStatusOk:
		return CbsOperationResultOk, res.StatusCode, res.Description, nil
	case ManagementOperationStatusFailedBadStatus:
		return CbsOperationResultFailed, res.StatusCode, res.Description, nil
	case ManagementOperationStatusCancelled:
		return CbsOperationResultCancelled, 0, "", err
	case ManagementOperationStatusInvalid:
		return CbsOperationResultError, 0, "", errors.Wrapf(err, "%s", operation)
	}
	return CbsOperationResultError, res.StatusCode, res.Description, err
}
