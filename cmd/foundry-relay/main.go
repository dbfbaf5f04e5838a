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

// Command foundry-relay is an Azure Functions custom handler that uploads
// the JSON payloads it receives to Foundry.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matta/meshtools/internal/logging"
	"github.com/matta/meshtools/internal/relay"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	// Set by the Functions host for custom handlers.
	portEnv = "FUNCTIONS_CUSTOMHANDLER_PORT"

	shutdownTimeout = 10 * time.Second
)

var (
	flagListen     string
	flagEnvFile    string
	flagTrace      bool
	flagLogLevel   string
	flagLogFormat  string
	flagLogOutputs []string
)

var rootCmd = &cobra.Command{
	Use:           "foundry-relay",
	Short:         "Relay JSON payloads to Foundry",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := flagLogLevel
		if flagTrace {
			level = "trace"
		}
		logging.Setup(level, flagLogFormat, flagLogOutputs)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), listenAddr(), relay.NewRouter(relay.New(flagEnvFile, flagTrace)))
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagListen, "listen", ":7071", "listen address when "+portEnv+" is unset")
	f.StringVar(&flagEnvFile, "env-file", "", "dotenv file to read (default .env when present)")
	f.BoolVarP(&flagTrace, "trace", "T", false, "trace requests to Foundry")
	f.StringVar(&flagLogLevel, "log-level", "info", "log level")
	f.StringVar(&flagLogFormat, "log-format", "json", "log format: text or json")
	f.StringSliceVar(&flagLogOutputs, "log-output", []string{"-"}, `log outputs: "-" stdout, "=" stderr, or a file`)
}

func listenAddr() string {
	if port := os.Getenv(portEnv); port != "" {
		return net.JoinHostPort("", port)
	}
	return flagListen
}

// serve runs h on addr until ctx is done, then drains in flight requests.
func serve(ctx context.Context, addr string, h http.Handler) error {
	log := logging.FromContext(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serving")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
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
