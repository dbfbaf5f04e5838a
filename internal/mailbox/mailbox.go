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

// Package mailbox runs the MESH mailbox test operations: send a file, view
// an inbox, empty an inbox, and an interactive menu over the three.
package mailbox

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/matta/meshtools/internal/config"
	"github.com/matta/meshtools/internal/journal"
	"github.com/matta/meshtools/internal/logging"
	"github.com/matta/meshtools/internal/mesh"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
)

// Session holds one loaded configuration and the client built from it.
type Session struct {
	Config  config.Mesh
	Client  Client
	Out     io.Writer
	Journal Journal

	// Now and NewLocalID default to time.Now and a fresh xid.
	Now        func() time.Time
	NewLocalID func() string
}

// NewSession builds the transport named by cfg and a client over it.
func NewSession(cfg config.Mesh, out io.Writer, j Journal, trace bool) (*Session, error) {
	var t mesh.Transport
	switch cfg.Transport {
	case config.TransportNative:
		native, err := mesh.NewNativeTransport(mesh.NativeOptions{
			CertPath:   cfg.CertPath,
			KeyPath:    cfg.KeyPath,
			CACertPath: cfg.CACertPath,
			VerifyTLS:  cfg.VerifyTLS,
			MaxRetries: cfg.MaxRetries,
			Trace:      trace,
		})
		if err != nil {
			return nil, err
		}
		t = native
	default:
		t = mesh.NewCurlTransport(mesh.CurlOptions{
			Path:       cfg.CurlPath,
			CertPath:   cfg.CertPath,
			KeyPath:    cfg.KeyPath,
			CACertPath: cfg.CACertPath,
			VerifyTLS:  cfg.VerifyTLS,
			MaxRetries: cfg.MaxRetries,
		}, nil)
	}
	return &Session{
		Config:  cfg,
		Client:  mesh.New(cfg.BaseURL, cfg.SharedKey, t, mesh.WithRateLimit(cfg.RateLimit)),
		Out:     out,
		Journal: j,
	}, nil
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Session) localID() string {
	if s.Config.LocalID != "" {
		return s.Config.LocalID
	}
	if s.NewLocalID != nil {
		return s.NewLocalID()
	}
	return xid.New().String()
}

func (s *Session) from() mesh.Mailbox {
	return mesh.Mailbox{ID: s.Config.FromMailbox, Password: s.Config.FromPassword}
}

func (s *Session) to() mesh.Mailbox {
	return mesh.Mailbox{ID: s.Config.ToMailbox, Password: s.Config.ToPassword}
}

func output(resp *mesh.Response) string {
	if resp == nil {
		return ""
	}
	return strings.TrimSpace(string(resp.Body))
}

// SendFile sends the configured file from the sending mailbox to the
// receiving one and prints what MESH answered.
func (s *Session) SendFile(ctx context.Context) error {
	from := s.from()
	localID := s.localID()
	ctx = logging.AddFields(ctx, logging.Fields{logging.MailboxFieldKey: from.ID})
	log := logging.FromContext(ctx)

	result, resp, err := s.Client.Send(ctx, from, mesh.Outbound{
		To:         s.Config.ToMailbox,
		WorkflowID: s.Config.WorkflowID,
		FilePath:   s.Config.FilePath,
		LocalID:    localID,
	})
	fmt.Fprintf(s.Out, "\nResult from sending to Mesh Mailbox %s (Outbox): %s\n", from.ID, output(resp))

	if s.Journal != nil && resp != nil {
		rec := journal.Sent{
			LocalID:     localID,
			FromMailbox: from.ID,
			ToMailbox:   s.Config.ToMailbox,
			WorkflowID:  s.Config.WorkflowID,
			FileName:    filepath.Base(s.Config.FilePath),
			StatusCode:  resp.StatusCode,
			SentAt:      s.now(),
		}
		if result != nil {
			rec.MessageID = result.MessageID
		}
		if jerr := s.Journal.RecordSent(ctx, rec); jerr != nil {
			log.WithError(jerr).Warn("could not record send in journal")
		}
	}
	if err != nil {
		return errors.Wrapf(err, "sending %s", s.Config.FilePath)
	}
	log.WithField("local_id", localID).Info("file sent")
	return nil
}

// ViewInbox prints the receiving mailbox's inbox listing.
func (s *Session) ViewInbox(ctx context.Context) (*mesh.Inbox, error) {
	to := s.to()
	inbox, resp, err := s.Client.ListInbox(ctx, to)
	fmt.Fprintf(s.Out, "\nViewing Mesh Mailbox %s (Inbox): %s\n", to.ID, output(resp))
	if err != nil {
		return nil, errors.Wrapf(err, "viewing inbox of %s", to.ID)
	}
	return inbox, nil
}

// EmptyInbox lists the receiving mailbox's inbox and acknowledges every
// message in it, in order, each with its own authorization header.  A
// failed acknowledgement does not stop the rest; all failures are
// returned together.  It returns how many messages were acknowledged.
func (s *Session) EmptyInbox(ctx context.Context) (int, error) {
	inbox, err := s.ViewInbox(ctx)
	if err != nil {
		return 0, err
	}

	fmt.Fprintln(s.Out, "\nList of Messages in the Inbox:")
	for _, id := range inbox.Messages {
		fmt.Fprintf(s.Out, "Message ID: %s\n", id)
	}

	grp, gctx := errgroup.WithContext(ctx)
	ids := make(chan string)
	grp.Go(func() error {
		defer close(ids)
		for _, id := range inbox.Messages {
			if err := gctx.Err(); err != nil {
				return err
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			case ids <- id:
			}
		}
		return nil
	})

	var failures *multierror.Error
	acked := 0
	grp.Go(func() error {
		for id := range ids {
			if err := s.acknowledge(gctx, id); err != nil {
				failures = multierror.Append(failures, err)
				continue
			}
			acked++
		}
		return nil
	})
	if err := grp.Wait(); err != nil {
		return acked, multierror.Append(failures, errors.Wrap(err, "emptying inbox")).ErrorOrNil()
	}
	return acked, failures.ErrorOrNil()
}

func (s *Session) acknowledge(ctx context.Context, id string) error {
	to := s.to()
	resp, err := s.Client.Acknowledge(ctx, to, id)
	fmt.Fprintf(s.Out, "\nAcknowledging Message %s: %s\n", id, output(resp))
	if err != nil {
		logging.FromContext(ctx).
			WithField(logging.MessageIDFieldKey, id).
			WithError(err).Warn("acknowledgement failed")
		return errors.Wrapf(err, "acknowledging %s", id)
	}
	if s.Journal != nil {
		if jerr := s.Journal.RecordAcknowledged(ctx, journal.Ack{
			Mailbox:        to.ID,
			MessageID:      id,
			AcknowledgedAt: s.now(),
		}); jerr != nil {
			logging.FromContext(ctx).WithError(jerr).Warn("could not record acknowledgement in journal")
		}
	}
	return nil
}

// Roundtrip sends the configured file and then views the receiving inbox.
// The inbox is viewed even when the send failed; both errors are returned.
func (s *Session) Roundtrip(ctx context.Context) error {
	var result *multierror.Error
	if err := s.SendFile(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := s.ViewInbox(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
