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

// Package meshauth builds the value of the MESH "authorization" header.
//
// The header is a challenge-response token:
//
//	NHSMESH <mailbox>:<nonce>:<nonce count>:<timestamp>:<digest>
//
// where digest is the hex encoded HMAC-SHA256, keyed with the environment
// shared key, of "<mailbox>:<nonce>:<nonce count>:<password>:<timestamp>".
// The timestamp is UTC with minute granularity, so a header is only accepted
// for a short window and a fresh one is built for every request.
package meshauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// Scheme is the authorization scheme name.
	Scheme = "NHSMESH"

	// TimestampLayout is the time.Format layout of the timestamp field.
	TimestampLayout = "200601021504"
)

var (
	ErrMissingCredential = errors.New("missing MESH credential")
	ErrInvalidNonceCount = errors.New("nonce count must not be negative")
	ErrMalformedHeader   = errors.New("malformed MESH authorization header")
)

// Params holds the inputs to a header.  Nonce and Timestamp are optional:
// an empty Nonce is replaced by a random UUID and a zero Timestamp by the
// current time.
type Params struct {
	MailboxID string
	Password  string
	SharedKey string

	Nonce      string
	NonceCount int
	Timestamp  time.Time
}

// Header returns the authorization header value for p.
func Header(p Params) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	if p.Nonce == "" {
		p.Nonce = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	ts := FormatTimestamp(p.Timestamp)
	count := strconv.Itoa(p.NonceCount)
	digest := Digest(p.SharedKey, p.MailboxID, p.Nonce, count, p.Password, ts)

	var sb strings.Builder
	sb.Grow(len(Scheme) + 1 + len(p.MailboxID) + len(p.Nonce) + len(count) + len(ts) + len(digest) + 4)
	sb.WriteString(Scheme)
	sb.WriteByte(' ')
	sb.WriteString(strings.Join([]string{p.MailboxID, p.Nonce, count, ts, digest}, ":"))
	return sb.String(), nil
}

func (p Params) validate() error {
	switch {
	case p.MailboxID == "":
		return errors.Wrap(ErrMissingCredential, "mailbox id")
	case p.Password == "":
		return errors.Wrap(ErrMissingCredential, "mailbox password")
	case p.SharedKey == "":
		return errors.Wrap(ErrMissingCredential, "shared key")
	case p.NonceCount < 0:
		return errors.Wrapf(ErrInvalidNonceCount, "got %d", p.NonceCount)
	}
	return nil
}

// FormatTimestamp renders t in UTC at minute granularity.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Digest returns the lower case hex HMAC-SHA256 of the colon joined fields,
// keyed with sharedKey.
func Digest(sharedKey string, fields ...string) string {
	mac := hmac.New(sha256.New, []byte(sharedKey))
	mac.Write([]byte(strings.Join(fields, ":")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Token is a parsed authorization header.
type Token struct {
	MailboxID  string
	Nonce      string
	NonceCount int
	Timestamp  string
	Digest     string
}

// Parse splits a header value produced by Header.  It does not verify the
// digest; use Verify for that.
func Parse(header string) (Token, error) {
	rest, ok := strings.CutPrefix(header, Scheme+" ")
	if !ok {
		return Token{}, errors.Wrap(ErrMalformedHeader, "missing scheme")
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 5 {
		return Token{}, errors.Wrapf(ErrMalformedHeader, "expected 5 fields, got %d", len(parts))
	}
	count, err := strconv.Atoi(parts[2])
	if err != nil {
		return Token{}, errors.Wrap(ErrMalformedHeader, "nonce count")
	}
	return Token{
		MailboxID:  parts[0],
		Nonce:      parts[1],
		NonceCount: count,
		Timestamp:  parts[3],
		Digest:     parts[4],
	}, nil
}

// Verify reports whether t was signed with password and sharedKey.
func (t Token) Verify(password, sharedKey string) bool {
	want := Digest(sharedKey, t.MailboxID, t.Nonce, strconv.Itoa(t.NonceCount), password, t.Timestamp)
	return hmac.Equal([]byte(want), []byte(t.Digest))
}
