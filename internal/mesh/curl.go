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

package mesh

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/matta/meshtools/internal/logging"
	"github.com/pkg/errors"
)

// statusMarker prefixes the status line curl appends with --write-out.
const statusMarker = "mesh-http-status:"

// Runner runs a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CurlOptions configures the curl transport.
type CurlOptions struct {
	// Path of the curl binary; empty means "curl" from $PATH.
	Path string

	CertPath   string
	KeyPath    string
	CACertPath string
	VerifyTLS  bool

	// MaxRetries is passed to curl's --retry.
	MaxRetries int
}

// CurlTransport sends each request by running the curl command line tool.
type CurlTransport struct {
	opts CurlOptions
	run  Runner
}

// NewCurlTransport returns a curl transport.  A nil run means ExecRunner.
func NewCurlTransport(opts CurlOptions, run Runner) *CurlTransport {
	if opts.Path == "" {
		opts.Path = "curl"
	}
	if run == nil {
		run = ExecRunner
	}
	return &CurlTransport{opts: opts, run: run}
}

// Args returns the curl arguments for req.
func (t *CurlTransport) Args(req *Request) []string {
	args := []string{"--silent", "--show-error"}
	if !t.opts.VerifyTLS {
		args = append(args, "-k")
	}
	args = append(args, "--request", req.Method)
	if t.opts.CertPath != "" {
		args = append(args, "--cert", t.opts.CertPath)
	}
	if t.opts.KeyPath != "" {
		args = append(args, "--key", t.opts.KeyPath)
	}
	if t.opts.CACertPath != "" {
		args = append(args, "--cacert", t.opts.CACertPath)
	}
	if t.opts.MaxRetries > 0 {
		args = append(args, "--retry", strconv.Itoa(t.opts.MaxRetries))
	}
	for _, h := range req.Headers {
		args = append(args, "--header", h.Name+": "+h.Value)
	}
	if req.BodyPath != "" {
		args = append(args, "--data-binary", "@"+req.BodyPath)
	}
	args = append(args, "--write-out", "\n"+statusMarker+"%{http_code}", req.URL)
	return args
}

func (t *CurlTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	args := t.Args(req)
	log := logging.FromContext(ctx)
	if log.IsDebugging() {
		log.Debugf("executing curl command: %s %s", t.opts.Path, strings.Join(redactArgs(args), " "))
	}
	out, err := t.run(ctx, t.opts.Path, args...)
	body, status := splitStatus(out)
	resp := &Response{StatusCode: status, Body: body}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return resp, errors.Wrapf(err, "curl: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return resp, errors.Wrap(err, "curl")
	}
	return resp, nil
}

// splitStatus separates curl's output from the trailing status line.
func splitStatus(out []byte) ([]byte, int) {
	i := bytes.LastIndex(out, []byte("\n"+statusMarker))
	if i < 0 {
		return out, 0
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(out[i+1+len(statusMarker):])))
	if err != nil {
		return out, 0
	}
	return out[:i], code
}

func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if strings.HasPrefix(strings.ToLower(arg), "authorization:") {
			arg = "authorization: [REDACTED]"
		}
		out[i] = arg
	}
	return out
}
