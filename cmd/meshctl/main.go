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

// Command meshctl exercises a MESH mailbox: send a file, view or empty an
// inbox, or do either from an interactive menu.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/matta/meshtools/internal/config"
	"github.com/matta/meshtools/internal/journal"
	"github.com/matta/meshtools/internal/logging"
	"github.com/matta/meshtools/internal/mailbox"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const defaultJournal = "~/.meshctl.db"

var (
	flagEnvFile    string
	flagLogLevel   string
	flagLogFormat  string
	flagLogOutputs []string
	flagTrace      bool
	flagJournal    string

	// Overrides for individual configuration keys.
	flagFile      string
	flagMeshURL   string
	flagTransport string
)

var rootCmd = &cobra.Command{
	Use:           "meshctl",
	Short:         "Send to and read from MESH mailboxes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := flagLogLevel
		if flagTrace {
			level = "trace"
		}
		logging.Setup(level, flagLogFormat, flagLogOutputs)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagEnvFile, "env-file", "", "dotenv file to read (default .env when present)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level: trace, debug, info, warn, error, none")
	pf.StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
	pf.StringSliceVar(&flagLogOutputs, "log-output", []string{"="}, `log outputs: "-" stdout, "=" stderr, or a file`)
	pf.BoolVarP(&flagTrace, "trace", "T", false, "trace HTTP requests (native transport)")
	pf.StringVar(&flagJournal, "journal", defaultJournal, `sqlite journal of sent and acknowledged messages; "" disables`)
	pf.StringVar(&flagFile, "file", "", "file to send (overrides "+config.FilePath+")")
	pf.StringVar(&flagMeshURL, "mesh-url", "", "MESH base URL (overrides "+config.MeshURL+")")
	pf.StringVar(&flagTransport, "transport", "", "curl or native (overrides "+config.MeshTransport+")")

	rootCmd.AddCommand(sendCmd, inboxCmd, drainCmd, roundtripCmd, menuCmd, historyCmd)
}

// loadMesh reads the MESH settings needed for need, applying flag
// overrides on top of the environment.
func loadMesh(need config.MeshNeed) (config.Mesh, error) {
	src, err := config.New(flagEnvFile)
	if err != nil {
		return config.Mesh{}, err
	}
	for key, value := range map[string]string{
		config.FilePath:      flagFile,
		config.MeshURL:       flagMeshURL,
		config.MeshTransport: flagTransport,
	} {
		if value != "" {
			src.Set(key, value)
		}
	}
	return src.Mesh(need)
}

// openJournal returns nil when the journal is disabled.
func openJournal(ctx context.Context) (*journal.DB, error) {
	if flagJournal == "" {
		return nil, nil
	}
	path, err := homedir.Expand(flagJournal)
	if err != nil {
		return nil, errors.Wrapf(err, "expanding %s", flagJournal)
	}
	db, err := journal.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize journal")
	}
	return db, nil
}

// withSession loads configuration, opens the journal and runs fn.
func withSession(cmd *cobra.Command, need config.MeshNeed, fn func(*mailbox.Session) error) error {
	ctx := cmd.Context()
	cfg, err := loadMesh(need)
	if err != nil {
		return err
	}
	db, err := openJournal(ctx)
	if err != nil {
		return err
	}
	var j mailbox.Journal
	if db != nil {
		defer db.Close()
		j = db
	}
	s, err := mailbox.NewSession(cfg, cmd.OutOrStdout(), j, flagTrace)
	if err != nil {
		return errors.Wrap(err, "unable to initialize MESH client")
	}
	return fn(s)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}
