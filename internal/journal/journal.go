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

// Package journal records MESH sends and acknowledgements in a local
// SQLite database so a tester can see what a session did after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/matta/meshtools/internal/logging"
	"github.com/pkg/errors"

	// Registers the "sqlite3" driver.
	_ "github.com/mattn/go-sqlite3"
)

var (
	createTableSql = []string{
		// The mesh_sent table holds one row per file posted to an
		// outbox.
		//
		// Field: local_id
		//
		//   The mex-localid header value.  Chosen by the sender; a
		//   configured id repeats across sends.
		//
		// Field: message_id
		//
		//   The identifier MESH assigned, from the outbox response.
		//   Empty when the send failed or the response was not JSON.
		//
		// Field: status_code
		//
		//   The HTTP status of the outbox call, or 0 if unknown.
		`
CREATE TABLE IF NOT EXISTS mesh_sent (
id INTEGER PRIMARY KEY AUTOINCREMENT,
local_id TEXT NOT NULL,
message_id TEXT NOT NULL,
from_mailbox TEXT NOT NULL,
to_mailbox TEXT NOT NULL,
workflow_id TEXT NOT NULL,
file_name TEXT NOT NULL,
status_code INTEGER NOT NULL,
sent_at TEXT NOT NULL
);`,
		// The mesh_acknowledged table holds one row per inbox message
		// acknowledged.  A message acknowledged twice keeps the
		// later time.
		`
CREATE TABLE IF NOT EXISTS mesh_acknowledged (
mailbox TEXT NOT NULL,
message_id TEXT NOT NULL,
acknowledged_at TEXT NOT NULL,
PRIMARY KEY (mailbox, message_id)
);`,
	}
)

// Sent is a row of mesh_sent.
type Sent struct {
	LocalID     string
	MessageID   string
	FromMailbox string
	ToMailbox   string
	WorkflowID  string
	FileName    string
	StatusCode  int
	SentAt      time.Time
}

// Ack is a row of mesh_acknowledged.
type Ack struct {
	Mailbox        string
	MessageID      string
	AcknowledgedAt time.Time
}

type DB struct {
	db *sql.DB
}

type Tx struct {
	tx *sql.Tx
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Open opens or creates the journal at path.
func Open(ctx context.Context, path string) (*DB, error) {
	// How long SQLite polls a locked database before giving up.  Two
	// meshctl processes may share one journal.
	var busyTimeout = int(30*time.Second) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)}})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from the given path", path)
	}
	logging.FromContext(ctx).Debugf("opening journal at %q", dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "Open(%q) failed: could not open database at %q", path, dsn)
	}

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "Open(%q) failed: could not initialize the database schema", path)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction failed")
	}
	return &Tx{tx}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, sql := range createTableSql {
		logging.FromContext(ctx).Tracef("SQL Exec: %q", sql)
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "while executing %q", sql)
		}
	}
	return nil
}

// update runs fn in a transaction and commits it if fn succeeds.
func (db *DB) update(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordSent stores s in its own transaction.
func (db *DB) RecordSent(ctx context.Context, s Sent) error {
	return db.update(ctx, func(tx *Tx) error { return tx.InsertSent(ctx, s) })
}

// RecordAcknowledged stores a in its own transaction.
func (db *DB) RecordAcknowledged(ctx context.Context, a Ack) error {
	return db.update(ctx, func(tx *Tx) error { return tx.InsertAck(ctx, a) })
}

// timeLayout has a fixed width so stored times sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	return t, errors.Wrapf(err, "bad timestamp %q", s)
}

func (tx *Tx) InsertSent(ctx context.Context, s Sent) error {
	if s.LocalID == "" {
		return errors.New("sent record has no local id")
	}
	const q = `INSERT INTO mesh_sent
		(local_id, message_id, from_mailbox, to_mailbox, workflow_id, file_name, status_code, sent_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.tx.ExecContext(ctx, q, s.LocalID, s.MessageID, s.FromMailbox, s.ToMailbox,
		s.WorkflowID, s.FileName, s.StatusCode, formatTime(s.SentAt))
	return errors.Wrap(err, "db insert into mesh_sent failed")
}

func (tx *Tx) InsertAck(ctx context.Context, a Ack) error {
	if a.Mailbox == "" || a.MessageID == "" {
		return errors.New("acknowledgement record needs a mailbox and a message id")
	}
	const q = `INSERT INTO mesh_acknowledged (mailbox, message_id, acknowledged_at)
		values ($1, $2, $3)
		ON CONFLICT (mailbox, message_id) DO UPDATE SET acknowledged_at = excluded.acknowledged_at`
	_, err := tx.tx.ExecContext(ctx, q, a.Mailbox, a.MessageID, formatTime(a.AcknowledgedAt))
	return errors.Wrap(err, "db insert into mesh_acknowledged failed")
}

// ListSent calls handler for the newest limit sends, newest first.  A
// limit of zero or less means no limit.
func (tx *Tx) ListSent(ctx context.Context, limit int, handler func(Sent) error) error {
	const q = `
SELECT local_id, message_id, from_mailbox, to_mailbox, workflow_id, file_name, status_code, sent_at
FROM mesh_sent
ORDER BY sent_at DESC, id DESC
LIMIT $1
`
	rows, err := tx.tx.QueryContext(ctx, q, sqlLimit(limit))
	if err != nil {
		return errors.Wrap(err, "db query failed in ListSent")
	}
	defer rows.Close()

	for rows.Next() {
		var s Sent
		var sentAt string
		if err := rows.Scan(&s.LocalID, &s.MessageID, &s.FromMailbox, &s.ToMailbox,
			&s.WorkflowID, &s.FileName, &s.StatusCode, &sentAt); err != nil {
			return errors.Wrap(err, "db scan failed in ListSent")
		}
		if s.SentAt, err = parseTime(sentAt); err != nil {
			return err
		}
		if err := handler(s); err != nil {
			return err
		}
	}
	return errors.Wrap(rows.Err(), "ListSent")
}

// ListAcknowledged calls handler for the newest limit acknowledgements,
// newest first.
func (tx *Tx) ListAcknowledged(ctx context.Context, limit int, handler func(Ack) error) error {
	const q = `
SELECT mailbox, message_id, acknowledged_at
FROM mesh_acknowledged
ORDER BY acknowledged_at DESC, message_id
LIMIT $1
`
	rows, err := tx.tx.QueryContext(ctx, q, sqlLimit(limit))
	if err != nil {
		return errors.Wrap(err, "db query failed in ListAcknowledged")
	}
	defer rows.Close()

	for rows.Next() {
		var a Ack
		var at string
		if err := rows.Scan(&a.Mailbox, &a.MessageID, &at); err != nil {
			return errors.Wrap(err, "db scan failed in ListAcknowledged")
		}
		if a.AcknowledgedAt, err = parseTime(at); err != nil {
			return err
		}
		if err := handler(a); err != nil {
			return err
		}
	}
	return errors.Wrap(rows.Err(), "ListAcknowledged")
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
