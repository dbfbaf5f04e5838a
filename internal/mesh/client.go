// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mesh is a client for the MESH mailbox API: send a file to an
// outbox, list an inbox and acknowledge inbox messages.  Every call is
// signed with a fresh authorization header.
package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matta/meshtools/internal/logging"
	"github.com/matta/meshtools/internal/meshauth"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://msg.intspineservices.nhs.uk"

	AcceptV2  = "application/vnd.mesh.v2+json"
	AcceptAny = "*/*"
)

var (
	ErrMissingFile     = errors.New("file to send does not exist")
	ErrInvalidResponse = errors.New("unexpected MESH response")
	ErrMissingID       = errors.New("missing message id")
)

// StatusError is returned when MESH answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: MESH returned HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to one MESH environment.
type Client struct {
	baseURL   string
	sharedKey string
	transport Transport
	limiter   *rate.Limiter
	now       func() time.Time
}

type Option func(*Client)

// WithRateLimit paces requests to rps per second.  Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithClock replaces time.Now when signing requests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New returns a client for the environment at baseURL, which defaults to
// DefaultBaseURL.  Trailing slashes on baseURL are ignored.  sharedKey is the environment wide HMAC key.
func New(baseURL, sharedKey string, t Transport, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   baseURL,
		sharedKey: sharedKey,
		transport: t,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(mailboxID string, elem ...string) string {
	parts := append([]string{"messageexchange", url.PathEscape(mailboxID)}, elem...)
	u := c.baseURL
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// authorize returns a fresh header; the nonce differs on every call.
func (c *Client) authorize(mb Mailbox) (string, error) {
	return meshauth.Header(meshauth.Params{
		MailboxID: mb.ID,
		Password:  mb.Password,
		SharedKey: c.sharedKey,
		Timestamp: c.now(),
	})
}

func (c *Client) do(ctx context.Context, op string, req *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return resp, errors.Wrap(err, op)
	}
	if resp.StatusCode != 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return resp, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return resp, nil
}

// Send posts the file named by msg to from's outbox.  The returned
// Response carries the raw output even when err is not nil.
func (c *Client) Send(ctx context.Context, from Mailbox, msg Outbound) (*SendResult, *Response, error) {
	if _, err := os.Stat(msg.FilePath); err != nil {
		return nil, nil, errors.Wrapf(ErrMissingFile, "%s: %v", msg.FilePath, err)
	}
	auth, err := c.authorize(from)
	if err != nil {
		return nil, nil, err
	}
	contentType, encoding := ContentType(msg.FilePath)
	headers := []Header{
		{"accept", AcceptV2},
		{"authorization", auth},
		{"content-type", contentType},
	}
	if encoding != "" {
		headers = append(headers, Header{"content-encoding", encoding})
	}
	headers = append(headers,
		Header{"mex-from", from.ID},
		Header{"mex-to", msg.To},
		Header{"mex-workflowid", msg.WorkflowID},
		Header{"mex-filename", filepath.Base(msg.FilePath)},
	)
	if msg.LocalID != "" {
		headers = append(headers, Header{"mex-localid", msg.LocalID})
	}

	log := logging.FromContext(ctx).WithFields(logging.Fields{
		logging.MailboxFieldKey: from.ID,
		logging.FileFieldKey:    msg.FilePath,
	})
	log.WithField("authorization", auth).Debug("sending to outbox")

	resp, err := c.do(ctx, "send to outbox", &Request{
		Method:   "POST",
		URL:      c.endpoint(from.ID, "outbox"),
		Headers:  headers,
		BodyPath: msg.FilePath,
	})
	if err != nil {
		return nil, resp, err
	}
	result := &SendResult{}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		log.WithError(err).Debug("outbox response is not JSON")
	}
	return result, resp, nil
}

// ListInbox lists the message identifiers in mb's inbox.
func (c *Client) ListInbox(ctx context.Context, mb Mailbox) (*Inbox, *Response, error) {
	auth, err := c.authorize(mb)
	if err != nil {
		return nil, nil, err
	}
	logging.FromContext(ctx).
		WithField(logging.MailboxFieldKey, mb.ID).
		WithField("authorization", auth).
		Debug("listing inbox")

	resp, err := c.do(ctx, "list inbox", &Request{
		Method: "GET",
		URL:    c.endpoint(mb.ID, "inbox"),
		Headers: []Header{
			{"accept", AcceptV2},
			{"authorization", auth},
		},
	})
	if err != nil {
		return nil, resp, err
	}
	inbox := &Inbox{}
	if err := json.Unmarshal(resp.Body, inbox); err != nil {
		return nil, resp, errors.Wrapf(ErrInvalidResponse, "inbox listing %q: %v", resp.Body, err)
	}
	return inbox, resp, nil
}

// Acknowledge marks one inbox message as acknowledged, removing it from
// the inbox.
func (c *Client) Acknowledge(ctx context.Context, mb Mailbox, messageID string) (*Response, error) {
	if messageID == "" {
		return nil, ErrMissingID
	}
	auth, err := c.authorize(mb)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithFields(logging.Fields{
		logging.MailboxFieldKey:   mb.ID,
		logging.MessageIDFieldKey: messageID,
		"authorization":           auth,
	}).Debug("acknowledging message")

	return c.do(ctx, "acknowledge "+messageID, &Request{
		Method: "PUT",
		URL:    c.endpoint(mb.ID, "inbox", url.PathEscape(messageID), "status", "acknowledged"),
		Headers: []Header{
			{"accept", AcceptAny},
			{"authorization", auth},
		},
	})
}
