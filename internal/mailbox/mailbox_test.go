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

package mailbox

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/matta/meshtools/internal/config"
	"github.com/matta/meshtools/internal/journal"
	"github.com/matta/meshtools/internal/mesh"
	"github.com/matta/meshtools/internal/mesh/meshtest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.January, 2, 15, 4, 0, 0, time.UTC)

type fakeJournal struct {
	sent  []journal.Sent
	acked []journal.Ack
}

func (j *fakeJournal) RecordSent(ctx context.Context, s journal.Sent) error {
	j.sent = append(j.sent, s)
	return nil
}

func (j *fakeJournal) RecordAcknowledged(ctx context.Context, a journal.Ack) error {
	j.acked = append(j.acked, a)
	return nil
}

func testConfig(t *testing.T) config.Mesh {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600))
	return config.Mesh{
		FromMailbox:  "X26ABC1",
		FromPassword: meshtest.Passwords["X26ABC1"],
		ToMailbox:    "X26ABC2",
		ToPassword:   meshtest.Passwords["X26ABC2"],
		SharedKey:    meshtest.SharedKey,
		FilePath:     path,
		WorkflowID:   "WF_TEST",
	}
}

func newSession(t *testing.T) (*Session, *meshtest.Server, *bytes.Buffer, *fakeJournal) {
	t.Helper()
	srv := meshtest.NewServer(t)
	cfg := testConfig(t)
	var out bytes.Buffer
	j := &fakeJournal{}
	s := &Session{
		Config:     cfg,
		Client:     mesh.New(srv.URL, cfg.SharedKey, mesh.NewHTTPTransport(srv.Client())),
		Out:        &out,
		Journal:    j,
		Now:        func() time.Time { return fixedNow },
		NewLocalID: func() string { return "local-1" },
	}
	return s, srv, &out, j
}

func TestSendFile(t *testing.T) {
	s, srv, out, j := newSession(t)

	require.NoError(t, s.SendFile(context.Background()))

	inbox := srv.Inbox("X26ABC2")
	require.Len(t, inbox, 1)
	assert.Contains(t, out.String(), "Result from sending to Mesh Mailbox X26ABC1 (Outbox): ")
	assert.Contains(t, out.String(), inbox[0])

	require.Len(t, j.sent, 1)
	assert.Equal(t, journal.Sent{
		LocalID:     "local-1",
		MessageID:   inbox[0],
		FromMailbox: "X26ABC1",
		ToMailbox:   "X26ABC2",
		WorkflowID:  "WF_TEST",
		FileName:    "payload.csv",
		StatusCode:  202,
		SentAt:      fixedNow,
	}, j.sent[0])
	assert.Equal(t, "local-1", srv.Requests()[0].Header.Get("Mex-Localid"))
}

func TestSendFileConfiguredLocalID(t *testing.T) {
	s, srv, _, _ := newSession(t)
	s.Config.LocalID = "fixed-id"
	require.NoError(t, s.SendFile(context.Background()))
	assert.Equal(t, "fixed-id", srv.Requests()[0].Header.Get("Mex-Localid"))
}

func TestSendFileGeneratesLocalIDs(t *testing.T) {
	s, srv, _, _ := newSession(t)
	s.NewLocalID = nil
	require.NoError(t, s.SendFile(context.Background()))
	require.NoError(t, s.SendFile(context.Background()))
	reqs := srv.Requests()
	a, b := reqs[0].Header.Get("Mex-Localid"), reqs[1].Header.Get("Mex-Localid")
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestEmptyInbox(t *testing.T) {
	s, srv, out, j := newSession(t)
	srv.Deliver("X26ABC2", "m1", "m2", "m3")

	n, err := s.EmptyInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, srv.Inbox("X26ABC2"))

	text := out.String()
	for _, want := range []string{
		"Viewing Mesh Mailbox X26ABC2 (Inbox): ",
		"List of Messages in the Inbox:",
		"Message ID: m1\nMessage ID: m2\nMessage ID: m3\n",
		"Acknowledging Message m3: ",
	} {
		assert.Contains(t, text, want)
	}

	var ackPaths []string
	for _, r := range srv.Requests()[1:] {
		ackPaths = append(ackPaths, r.Path)
	}
	assert.Equal(t, []string{
		"/messageexchange/X26ABC2/inbox/m1/status/acknowledged",
		"/messageexchange/X26ABC2/inbox/m2/status/acknowledged",
		"/messageexchange/X26ABC2/inbox/m3/status/acknowledged",
	}, ackPaths)
	require.Len(t, j.acked, 3)
	assert.Equal(t, journal.Ack{Mailbox: "X26ABC2", MessageID: "m2", AcknowledgedAt: fixedNow}, j.acked[1])
}

// flakyAcks fails the acknowledgement of chosen ids.
type flakyAcks struct {
	Client
	fail  map[string]bool
	calls []string
}

func (f *flakyAcks) Acknowledge(ctx context.Context, mb mesh.Mailbox, id string) (*mesh.Response, error) {
	f.calls = append(f.calls, id)
	if f.fail[id] {
		return &mesh.Response{StatusCode: 500, Body: []byte("boom")}, errors.New("HTTP 500")
	}
	return f.Client.Acknowledge(ctx, mb, id)
}

func TestEmptyInboxKeepsGoing(t *testing.T) {
	s, srv, out, _ := newSession(t)
	srv.Deliver("X26ABC2", "m1", "m2", "m3")
	flaky := &flakyAcks{Client: s.Client, fail: map[string]bool{"m2": true}}
	s.Client = flaky

	n, err := s.EmptyInbox(context.Background())
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 1)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"m1", "m2", "m3"}, flaky.calls)
	assert.Equal(t, []string{"m2"}, srv.Inbox("X26ABC2"))
	assert.Contains(t, out.String(), "Acknowledging Message m2: boom")
}

func TestEmptyInboxListFailure(t *testing.T) {
	s, srv, _, _ := newSession(t)
	srv.FailWith(403)
	n, err := s.EmptyInbox(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.Len(t, srv.Requests(), 1)
}

func TestRoundtrip(t *testing.T) {
	s, srv, out, _ := newSession(t)
	require.NoError(t, s.Roundtrip(context.Background()))

	inbox := srv.Inbox("X26ABC2")
	require.Len(t, inbox, 1)
	text := out.String()
	send := strings.Index(text, "(Outbox)")
	view := strings.Index(text, "(Inbox)")
	assert.True(t, send >= 0 && view > send, "output out of order:\n%s", text)
	assert.Contains(t, text[view:], inbox[0])
}

func TestNewSessionNativeBadCert(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport = config.TransportNative
	cfg.CertPath = filepath.Join(t.TempDir(), "missing.pem")
	cfg.KeyPath = cfg.CertPath
	_, err := NewSession(cfg, &bytes.Buffer{}, nil, false)
	assert.Error(t, err)
}

func TestNewSessionCurl(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport = config.TransportCurl
	s, err := NewSession(cfg, &bytes.Buffer{}, nil, false)
	require.NoError(t, err)
	assert.IsType(t, &mesh.Client{}, s.Client)
}

// refusedSend fails every send with 403.
type refusedSend struct {
	Client
}

func (r *refusedSend) Send(ctx context.Context, from mesh.Mailbox, msg mesh.Outbound) (*mesh.SendResult, *mesh.Response, error) {
	resp := &mesh.Response{StatusCode: 403, Body: []byte("forbidden")}
	return nil, resp, &mesh.StatusError{Op: "send to outbox", StatusCode: 403, Body: resp.Body}
}

func TestRoundtripViewsInboxAfterFailedSend(t *testing.T) {
	s, srv, out, _ := newSession(t)
	srv.Deliver("X26ABC2", "m1")
	s.Client = &refusedSend{Client: s.Client}

	err := s.Roundtrip(context.Background())
	var status *mesh.StatusError
	require.True(t, errors.As(err, &status), "error = %v", err)
	assert.Equal(t, 403, status.StatusCode)

	text := out.String()
	assert.Contains(t, text, "(Outbox): forbidden")
	assert.Contains(t, text, "Viewing Mesh Mailbox X26ABC2 (Inbox): ")
	assert.Contains(t, text, "m1")
	require.Len(t, srv.Requests(), 1)
	assert.Equal(t, "/messageexchange/X26ABC2/inbox", srv.Requests()[0].Path)
}

// cancellingAcks fails the first acknowledgement and cancels the drain.
type cancellingAcks struct {
	Client
	cancel context.CancelFunc
}

func (c *cancellingAcks) Acknowledge(ctx context.Context, mb mesh.Mailbox, id string) (*mesh.Response, error) {
	c.cancel()
	return &mesh.Response{StatusCode: 500, Body: []byte("boom")}, errors.New("HTTP 500")
}

func TestEmptyInboxCancelledKeepsFailures(t *testing.T) {
	s, srv, _, _ := newSession(t)
	srv.Deliver("X26ABC2", "m1", "m2", "m3")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Client = &cancellingAcks{Client: s.Client, cancel: cancel}

	n, err := s.EmptyInbox(ctx)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "acknowledging m1")
	assert.True(t, errors.Is(err, context.Canceled), "error = %v", err)
}
