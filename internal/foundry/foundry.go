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

// Package foundry uploads JSON documents to the Foundry data platform.
package foundry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/matta/meshtools/internal/config"
	"github.com/matta/meshtools/internal/httpretry"
	"github.com/matta/meshtools/internal/logging"
	"github.com/matta/meshtools/internal/tracehttp"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const (
	contentTypeOctetStream = "application/octet-stream"
	contentTypeJSON        = "application/json"

	// Upstream error bodies are truncated to this many bytes.
	maxErrorBody = 4 << 10
)

var ErrEmptyName = errors.New("file name is empty")

// APIError is returned when Foundry answers with a non-2xx status.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("foundry %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to one Foundry host.
type Client struct {
	base       *url.URL
	resourceID string
	branch     string
	mode       string
	http       *http.Client
}

// NewHTTPClient returns a client that authenticates every request with
// token and retries transient failures maxRetries times.
func NewHTTPClient(token string, maxRetries int, trace bool) *http.Client {
	var base http.RoundTripper = http.DefaultTransport
	if trace {
		base = tracehttp.Wrap(base)
	}
	retry := httpretry.NewClient(httpretry.Config{MaxRetries: maxRetries}, base)
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   retry.Transport,
		},
	}
}

// New returns a client for cfg.  A nil hc means NewHTTPClient with cfg's
// token and retry count.
func New(cfg config.Foundry, hc *http.Client) (*Client, error) {
	base, err := NormalizeURL(cfg.APIURL)
	if err != nil {
		return nil, err
	}
	if hc == nil {
		hc = NewHTTPClient(cfg.APIToken, cfg.MaxRetries, false)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = config.ModeDataset
	}
	return &Client{
		base:       base,
		resourceID: cfg.ResourceID,
		branch:     cfg.Branch,
		mode:       mode,
		http:       hc,
	}, nil
}

// NormalizeURL parses raw, accepting a bare host name as an https URL.
func NormalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.Errorf("%s is empty", config.FoundryAPIURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", config.FoundryAPIURL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("%s %q has no host", config.FoundryAPIURL, raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

// Upload stores body under name, as a dataset file or as a plain POST
// depending on the configured mode.
func (c *Client) Upload(ctx context.Context, name string, body []byte) error {
	if c.mode == config.ModePost {
		return c.PostJSON(ctx, body)
	}
	return c.UploadDatasetFile(ctx, c.resourceID, name, body)
}

// UploadDatasetFile writes body to the file at name in dataset rid.
func (c *Client) UploadDatasetFile(ctx context.Context, rid, name string, body []byte) error {
	if name == "" {
		return ErrEmptyName
	}
	u := *c.base
	u.Path = c.base.Path + "/api/v2/datasets/" + rid + "/files/" + name + "/upload"
	u.RawPath = c.base.EscapedPath() + "/api/v2/datasets/" + url.PathEscape(rid) +
		"/files/" + url.PathEscape(name) + "/upload"
	if c.branch != "" {
		q := u.Query()
		q.Set("branchName", c.branch)
		u.RawQuery = q.Encode()
	}
	log := logging.FromContext(ctx).WithFields(logging.Fields{
		"dataset":             rid,
		logging.FileFieldKey: name,
	})
	log.Debug("uploading dataset file")
	return c.post(ctx, "upload "+name, u.String(), contentTypeOctetStream, body)
}

// PostJSON sends body verbatim to the configured URL.
func (c *Client) PostJSON(ctx context.Context, body []byte) error {
	logging.FromContext(ctx).Debug("posting payload")
	return c.post(ctx, "post", c.base.String(), contentTypeJSON, body)
}

func (c *Client) post(ctx context.Context, op, target, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "foundry %s", op)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "foundry %s", op)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return nil
}
