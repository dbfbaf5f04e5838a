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

// Command azurite-setup creates the blob containers used in local
// development and seeds the rules container.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/matta/meshtools/internal/azurite"
	"github.com/matta/meshtools/internal/config"
	"github.com/matta/meshtools/internal/logging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	flagEnvFile          string
	flagConnectionString string
	flagSeedDir          string
	flagNoSeed           bool
	flagOverwrite        bool
	flagLogLevel         string
	flagLogFormat        string
)

var rootCmd = &cobra.Command{
	Use:           "azurite-setup",
	Short:         "Create and seed the Azurite blob containers",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(flagLogLevel, flagLogFormat, []string{"="})
	},
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagEnvFile, "env-file", "", "dotenv file to read (default .env when present)")
	f.StringVar(&flagConnectionString, "connection-string", "", "blob connection string (overrides "+config.AzuriteConnectionString+")")
	f.StringVar(&flagSeedDir, "seed-dir", "", "directory uploaded into the seed container (overrides "+config.AzuriteSeedDir+")")
	f.BoolVar(&flagNoSeed, "no-seed", false, "only create and list containers")
	f.BoolVar(&flagOverwrite, "overwrite", false, "replace blobs that already exist")
	f.StringVar(&flagLogLevel, "log-level", "info", "log level")
	f.StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
}

func run(cmd *cobra.Command, args []string) error {
	src, err := config.New(flagEnvFile)
	if err != nil {
		return err
	}
	if flagConnectionString != "" {
		src.Set(config.AzuriteConnectionString, flagConnectionString)
	}
	if flagSeedDir != "" {
		src.Set(config.AzuriteSeedDir, flagSeedDir)
	}
	cfg := src.Azurite()

	client, err := azurite.NewClient(cfg.ConnectionString)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Connected to Azurite")

	opts := azurite.Options{
		Containers:    cfg.Containers,
		SeedDir:       cfg.SeedDir,
		SeedContainer: cfg.SeedContainer,
		Overwrite:     flagOverwrite,
		Out:           out,
	}
	if flagNoSeed {
		opts.SeedDir = ""
	}
	report, err := azurite.Bootstrap(cmd.Context(), client, opts)
	if err != nil {
		return errors.Wrap(err, "bootstrapping Azurite")
	}
	logging.FromContext(cmd.Context()).WithFields(logging.Fields{
		"created":  len(report.Created),
		"existing": len(report.Existing),
		"uploaded": len(report.Uploaded),
		"skipped":  len(report.Skipped),
	}).Info("Azurite ready")
	return nil
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
