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

// Package httpretry builds *http.Clients that retry transient failures.
package httpretry

import (
	"context"
	"crypto/x509"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var (
	// these errors aren't typed, so we match by regexp
	redirectsErrorRe  = regexp.MustCompile(`stopped after \d+ redirects\z`)
	schemeErrorRe     = regexp.MustCompile(`unsupported protocol scheme`)
	notTrustedErrorRe = regexp.MustCompile(`certificate is not trusted`)
)

// Config controls retries.  MaxRetries of zero sends each request once.
type Config struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	// Statuses are the response codes worth another attempt.  Nil means
	// DefaultStatuses.
	Statuses Statuses
}

// Statuses is a set of retryable HTTP status codes.
type Statuses []int

func (s Statuses) Retry(status int) bool {
	return slices.Contains(s, status)
}

// DefaultStatuses are retried when Config.Statuses is nil.
var DefaultStatuses = Statuses{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// NewClient returns a client that sends requests through transport, which
// may be nil for http.DefaultTransport.  After the last attempt the final
// response is returned as is, so callers still see the upstream status.
func NewClient(cfg Config, transport http.RoundTripper) *http.Client {
	statuses := cfg.Statuses
	if statuses == nil {
		statuses = DefaultStatuses
	}
	retryClient := retryablehttp.NewClient()
	if transport != nil {
		retryClient.HTTPClient.Transport = transport
	}
	retryClient.Logger = nil
	retryClient.RetryMax = cfg.MaxRetries
	if cfg.MinWait > 0 {
		retryClient.RetryWaitMin = cfg.MinWait
	}
	if cfg.MaxWait > 0 {
		retryClient.RetryWaitMax = cfg.MaxWait
	}
	retryClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		return CheckRetry(ctx, resp, err, statuses)
	}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return retryClient.StandardClient()
}

// CheckRetry never retries a cancelled context, a bad scheme, too many
// redirects or an untrusted certificate.  Other transport errors are
// retried, and responses are retried when should lists their status.
func CheckRetry(ctx context.Context, resp *http.Response, err error, should Statuses) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		if v, ok := err.(*url.Error); ok {
			if redirectsErrorRe.MatchString(v.Error()) ||
				schemeErrorRe.MatchString(v.Error()) ||
				notTrustedErrorRe.MatchString(v.Error()) {
				return false, errors.Unwrap(v)
			}
			var unknownAuthority x509.UnknownAuthorityError
			if errors.As(v.Err, &unknownAuthority) {
				return false, errors.Unwrap(v)
			}
		}
		return true, nil
	}

	return should.Retry(resp.StatusCode), nil
}
