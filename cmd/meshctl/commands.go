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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/matta/meshtools/internal/config"
	"github.com/matta/meshtools/internal/journal"
	"github.com/matta/meshtools/internal/logging"
	"github.com/matta/meshtools/internal/mailbox"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send the configured file to the outbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, config.NeedSend, func(s *mailbox.Session) error {
			return s.SendFile(cmd.Context())
		})
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List the receiving mailbox's inbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, config.NeedInbox, func(s *mailbox.Session) error {
			_, err := s.ViewInbox(cmd.Context())
			return err
		})
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Acknowledge every message in the receiving inbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, config.NeedInbox, func(s *mailbox.Session) error {
			n, err := s.EmptyInbox(cmd.Context())
			logging.FromContext(cmd.Context()).
				WithField(logging.MailboxFieldKey, s.Config.ToMailbox).
				Infof("acknowledged %d messages", n)
			return err
		})
	},
}

var roundtripCmd = &cobra.Command{
	Use:   "roundtrip",
	Short: "Send the configured file, then view the receiving inbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, config.NeedAll, func(s *mailbox.Session) error {
			return s.Roundtrip(cmd.Context())
		})
	},
}

var flagPlain bool

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Choose operations interactively until Quit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		db, err := openJournal(ctx)
		if err != nil {
			return err
		}
		var j mailbox.Journal
		if db != nil {
			defer db.Close()
			j = db
		}

		var ch mailbox.Chooser
		if flagPlain || !term.IsTerminal(int(os.Stdin.Fd())) {
			ch = mailbox.NewLineChooser(cmd.InOrStdin(), out)
		} else {
			ch = &mailbox.PromptChooser{Stdin: os.Stdin, Stdout: os.Stdout}
		}
		open := func(ctx context.Context, need config.MeshNeed) (*mailbox.Session, error) {
			cfg, err := loadMesh(need)
			if err != nil {
				return nil, err
			}
			return mailbox.NewSession(cfg, out, j, flagTrace)
		}
		return mailbox.Menu(ctx, ch, out, open)
	},
}

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show sent and acknowledged messages from the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openJournal(ctx)
		if err != nil {
			return err
		}
		if db == nil {
			return errors.New("the journal is disabled")
		}
		defer db.Close()

		tx, err := db.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		return printHistory(ctx, cmd.OutOrStdout(), tx, flagHistoryLimit)
	},
}

func init() {
	menuCmd.Flags().BoolVar(&flagPlain, "plain", false, "read numbered choices from stdin instead of showing a selector")
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "entries per table; 0 shows all")
}

func printHistory(ctx context.Context, out io.Writer, tx *journal.Tx, limit int) error {
	sent := table.NewWriter()
	sent.SetStyle(table.StyleLight)
	sent.AppendHeader(table.Row{"sent", "local id", "message id", "from", "to", "workflow", "file", "status"})
	err := tx.ListSent(ctx, limit, func(s journal.Sent) error {
		sent.AppendRow(table.Row{
			s.SentAt.Local().Format(time.DateTime), s.LocalID, s.MessageID,
			s.FromMailbox, s.ToMailbox, s.WorkflowID, s.FileName, s.StatusCode,
		})
		return nil
	})
	if err != nil {
		return err
	}

	acked := table.NewWriter()
	acked.SetStyle(table.StyleLight)
	acked.AppendHeader(table.Row{"acknowledged", "mailbox", "message id"})
	err = tx.ListAcknowledged(ctx, limit, func(a journal.Ack) error {
		acked.AppendRow(table.Row{a.AcknowledgedAt.Local().Format(time.DateTime), a.Mailbox, a.MessageID})
		return nil
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n\n%s\n", sent.Render(), acked.Render())
	return err
}
