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

// Package meshtest provides an in-memory MESH server for tests.
package meshtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/matta/meshtools/internal/meshauth"
)

// SharedKey is the HMAC key the server expects.
const SharedKey = "secret"

// Passwords known to a new Server.
var Passwords = map[string]string{
	"X26ABC1": "frompw",
	"X26ABC2": "topw",
}

// Request is a request the server received.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

// Server verifies every authorization header, rejects replayed nonces and
// keeps one inbox per mailbox.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	inbox    map[string][]string
	requests []Request
	nonces   map[string]bool
	failWith int
	next     int
}

// NewServer starts a server that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	s := &Server{
		inbox:  map[string][]string{},
		nonces: map[string]bool{},
	}
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Close)
	return s
}

// FailWith makes every following request fail with status; zero restores
// normal behaviour.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = status
}

// Deliver puts ids into mailbox's inbox.
func (s *Server) Deliver(mailbox string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox[mailbox] = append(s.inbox[mailbox], ids...)
}

// Inbox returns a copy of mailbox's inbox.
func (s *Server) Inbox(mailbox string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inbox[mailbox]...)
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, Request{r.Method, r.URL.Path, r.Header.Clone(), string(body)})

	if s.failWith != 0 {
		http.Error(w, `{"errorDescription":"forced failure"}`, s.failWith)
		return
	}

	tok, err := meshauth.Parse(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	password, ok := Passwords[tok.MailboxID]
	if !ok || !tok.Verify(password, SharedKey) {
		http.Error(w, "authorization failed", http.StatusForbidden)
		return
	}
	if s.nonces[tok.Nonce] {
		http.Error(w, "nonce replayed", http.StatusForbidden)
		return
	}
	s.nonces[tok.Nonce] = true

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "messageexchange" || parts[1] != tok.MailboxID {
		http.NotFound(w, r)
		return
	}
	switch {
	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "outbox":
		s.next++
		id := fmt.Sprintf("20240102150400000000_%06d", s.next)
		to := r.Header.Get("Mex-To")
		s.inbox[to] = append(s.inbox[to], id)
		w.Header().Set("Content-Type", "application/vnd.mesh.v2+json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"message_id": id})
	case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "inbox":
		msgs := s.inbox[tok.MailboxID]
		if msgs == nil {
			msgs = []string{}
		}
		w.Header().Set("Content-Type", "application/vnd.mesh.v2+json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages":           msgs,
			"approx_inbox_count": len(msgs),
		})
	case r.Method == http.MethodPut && len(parts) == 6 && parts[2] == "inbox" &&
		parts[4] == "status" && parts[5] == "acknowledged":
		if !s.remove(tok.MailboxID, parts[3]) {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) remove(mailbox, id string) bool {
	msgs := s.inbox[mailbox]
	for i, m := range msgs {
		if m == id {
			s.inbox[mailbox] = append(msgs[:i:i], msgs[i+1:]...)
			return true
		}
	}
	return false
}
