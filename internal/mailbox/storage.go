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

package mailbox

// This file declares the services a Session drives.

import (
	"context"

	"github.com/matta/meshtools/internal/journal"
	"github.com/matta/meshtools/internal/mesh"
)

// Sender posts a file to an outbox.
type Sender interface {
	Send(ctx context.Context, from mesh.Mailbox, msg mesh.Outbound) (*mesh.SendResult, *mesh.Response, error)
}

// InboxLister lists an inbox.
type InboxLister interface {
	ListInbox(ctx context.Context, mb mesh.Mailbox) (*mesh.Inbox, *mesh.Response, error)
}

// Acknowledger acknowledges one inbox message.
type Acknowledger interface {
	Acknowledge(ctx context.Context, mb mesh.Mailbox, messageID string) (*mesh.Response, error)
}

// Client provides every MESH action a Session uses.  *mesh.Client
// satisfies it.
type Client interface {
	Sender
	InboxLister
	Acknowledger
}

// Journal records what a session did.  *journal.DB satisfies it.
type Journal interface {
	RecordSent(ctx context.Context, s journal.Sent) error
	RecordAcknowledged(ctx context.Context, a journal.Ack) error
}
