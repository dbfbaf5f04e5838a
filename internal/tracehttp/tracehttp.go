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

// Package tracehttp dumps HTTP exchanges to the trace log.
package tracehttp

import (
	"net/http"
	"net/http/httputil"
	"regexp"

	"github.com/matta/meshtools/internal/logging"
)

// Credentials are replaced in dumps.  MESH puts the HMAC token in
// "authorization"; Foundry puts a bearer token there.
var authorizationRe = regexp.MustCompile(`(?im)^(authorization:[ \t]*(?:\w+[ \t]+)?)[^\r\n]+`)

const redacted = "${1}[REDACTED]"

// traceTransport is an http.RoundTripper that logs the request and
// response while delegating the real work to another http.RoundTripper.
type traceTransport struct {
	delegate http.RoundTripper
	log      logging.Logger
}

// RoundTrip logs a dump of the request and response while delegating the
// round trip to the delegate.  Bodies are only dumped when the logger is
// at trace level.
func (t *traceTransport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	log := t.logger(req)
	if !log.IsTracing() {
		return t.delegate.RoundTrip(req)
	}
	dump, dumpErr := httputil.DumpRequestOut(req, true)
	if dumpErr == nil {
		log.Trace(Redact(string(dump)))
	}
	resp, err = t.delegate.RoundTrip(req)
	if err != nil {
		log.WithError(err).Trace("round trip failed")
		return resp, err
	}
	dump, dumpErr = httputil.DumpResponse(resp, true)
	if dumpErr == nil {
		log.Trace(Redact(string(dump)))
	}
	return resp, err
}

func (t *traceTransport) logger(req *http.Request) logging.Logger {
	if t.log != nil {
		return t.log
	}
	return logging.FromContext(req.Context())
}

// Redact hides authorization credentials in an HTTP dump.
func Redact(dump string) string {
	return authorizationRe.ReplaceAllString(dump, redacted)
}

// Wrap returns d wrapped in a tracing transport that logs through the
// request context's logger.  A nil d means http.DefaultTransport.
func Wrap(d http.RoundTripper) http.RoundTripper {
	if d == nil {
		d = http.DefaultTransport
	}
	return &traceTransport{delegate: d}
}

// WrapWithLogger is Wrap with a fixed logger.
func WrapWithLogger(d http.RoundTripper, log logging.Logger) http.RoundTripper {
	if d == nil {
		d = http.DefaultTransport
	}
	return &traceTransport{delegate: d, log: log}
}
