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
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"os"

	"github.com/matta/meshtools/internal/httpretry"
	"github.com/matta/meshtools/internal/tracehttp"
	"github.com/pkg/errors"
)

// Header is one request header.  Requests keep headers in a slice so the
// curl command line is stable.
type Header struct {
	Name  string
	Value string
}

// Request is a single MESH API call.
type Request struct {
	Method  string
	URL     string
	Headers []Header

	// BodyPath names a file to send as the request body, or is empty.
	BodyPath string
}

// Response is what came back.  StatusCode is zero when the transport could
// not determine it.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport performs a Request.  A transport error may come with a
// partial Response holding whatever output was captured.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// NativeOptions configures the Go HTTP transport.
type NativeOptions struct {
	CertPath   string
	KeyPath    string
	CACertPath string
	VerifyTLS  bool
	MaxRetries int
	Trace      bool
}

// HTTPTransport sends requests with an *http.Client.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

// NewNativeTransport builds a mutual TLS client from opts.
func NewNativeTransport(opts NativeOptions) (*HTTPTransport, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !opts.VerifyTLS, //nolint:gosec
	}
	if opts.CertPath != "" || opts.KeyPath != "" {
		pair, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
		if err != nil {
			return nil, errors.Wrap(err, "loading client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{pair}
	}
	if opts.CACertPath != "" {
		pem, err := os.ReadFile(opts.CACertPath)
		if err != nil {
			return nil, errors.Wrap(err, "reading CA bundle")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", opts.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsConfig
	var rt http.RoundTripper = base
	if opts.Trace {
		rt = tracehttp.Wrap(rt)
	}
	return NewHTTPTransport(httpretry.NewClient(httpretry.Config{MaxRetries: opts.MaxRetries}, rt)), nil
}

func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.BodyPath != "" {
		data, err := os.ReadFile(req.BodyPath)
		if err != nil {
			return nil, errors.Wrap(err, "reading request body")
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	for _, h := range req.Headers {
		httpReq.Header.Set(h.Name, h.Value)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Response{StatusCode: resp.StatusCode, Body: data}, errors.Wrap(err, "reading response")
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
