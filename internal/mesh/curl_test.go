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
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCurlArgs(t *testing.T) {
	tr := NewCurlTransport(CurlOptions{CertPath: "c.pem", KeyPath: "k.pem"}, nil)
	got := tr.Args(&Request{
		Method: "POST",
		URL:    "https://mesh.example/messageexchange/X26ABC1/outbox",
		Headers: []Header{
			{"accept", AcceptV2},
			{"mex-filename", "a.csv"},
		},
		BodyPath: "/tmp/a.csv",
	})
	want := []string{
		"--silent", "--show-error", "-k",
		"--request", "POST",
		"--cert", "c.pem",
		"--key", "k.pem",
		"--header", "accept: application/vnd.mesh.v2+json",
		"--header", "mex-filename: a.csv",
		"--data-binary", "@/tmp/a.csv",
		"--write-out", "\nmesh-http-status:%{http_code}",
		"https://mesh.example/messageexchange/X26ABC1/outbox",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Args() mismatch (-want +got):\n%s", diff)
	}
}

func TestCurlArgsVerifyAndRetry(t *testing.T) {
	tr := NewCurlTransport(CurlOptions{VerifyTLS: true, CACertPath: "ca.pem", MaxRetries: 2}, nil)
	got := tr.Args(&Request{Method: "GET", URL: "u"})
	want := []string{
		"--silent", "--show-error",
		"--request", "GET",
		"--cacert", "ca.pem",
		"--retry", "2",
		"--write-out", "\nmesh-http-status:%{http_code}",
		"u",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Args() mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitStatus(t *testing.T) {
	cases := []struct {
		in       string
		wantBody string
		wantCode int
	}{
		{"{\"messages\":[]}\nmesh-http-status:200", `{"messages":[]}`, 200},
		{"\nmesh-http-status:000", "", 0},
		{"no marker", "no marker", 0},
		{"a\nmesh-http-status:x", "a\nmesh-http-status:x", 0},
	}
	for _, c := range cases {
		body, code := splitStatus([]byte(c.in))
		if string(body) != c.wantBody || code != c.wantCode {
			t.Errorf("splitStatus(%q) = %q, %d, want %q, %d", c.in, body, code, c.wantBody, c.wantCode)
		}
	}
}

func TestCurlDo(t *testing.T) {
	var gotName string
	var gotArgs []string
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte("{\"message_id\":\"m1\"}\nmesh-http-status:202"), nil
	}
	tr := NewCurlTransport(CurlOptions{Path: "/usr/bin/curl"}, run)
	resp, err := tr.Do(context.Background(), &Request{Method: "GET", URL: "u"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if gotName != "/usr/bin/curl" || gotArgs[len(gotArgs)-1] != "u" {
		t.Errorf("ran %s %v", gotName, gotArgs)
	}
	if resp.StatusCode != 202 || string(resp.Body) != `{"message_id":"m1"}` {
		t.Errorf("Do() = %d %q", resp.StatusCode, resp.Body)
	}
}

func TestCurlDoFailureKeepsOutput(t *testing.T) {
	failure := errors.New("exit status 7")
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("partial"), failure
	}
	tr := NewCurlTransport(CurlOptions{}, run)
	resp, err := tr.Do(context.Background(), &Request{Method: "GET", URL: "u"})
	if !errors.Is(err, failure) {
		t.Errorf("Do() error = %v, want it to wrap %v", err, failure)
	}
	if resp == nil || string(resp.Body) != "partial" {
		t.Errorf("Do() response = %#v, want the captured output", resp)
	}
}

func TestRedactArgs(t *testing.T) {
	got := redactArgs([]string{"--header", "authorization: NHSMESH X:n:0:t:d", "--header", "accept: */*"})
	want := []string{"--header", "authorization: [REDACTED]", "--header", "accept: */*"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("redactArgs() mismatch (-want +got):\n%s", diff)
	}
}

func TestContentType(t *testing.T) {
	cases := []struct {
		name         string
		wantType     string
		wantEncoding string
	}{
		{"data.zzqx", "application/octet-stream", ""},
		{"data.zzqx.gz", "application/octet-stream", "gzip"},
		{"DATA.ZZQX.GZ", "application/octet-stream", "gzip"},
		{"noext", "application/octet-stream", ""},
	}
	for _, c := range cases {
		gotType, gotEncoding := ContentType(c.name)
		if gotType != c.wantType || gotEncoding != c.wantEncoding {
			t.Errorf("ContentType(%q) = %q, %q, want %q, %q", c.name, gotType, gotEncoding, c.wantType, c.wantEncoding)
		}
	}
	if typ, enc := ContentType("x.csv.gz"); enc != "gzip" || typ == "" {
		t.Errorf("ContentType(x.csv.gz) = %q, %q", typ, enc)
	}
}
