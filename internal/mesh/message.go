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

// Mailbox identifies and authenticates one MESH mailbox.
type Mailbox struct {
	// The mailbox identifier, e.g. "X26ABC1".  Sent as mex-from and used
	// as the path segment of the mailbox's endpoints.
	ID string

	// The mailbox password.  Only ever used as HMAC input; it is never
	// sent on the wire.
	Password string
}

// Outbound describes a file to send.
type Outbound struct {
	// The recipient mailbox identifier, sent as mex-to.
	To string

	// The agreed workflow, sent as mex-workflowid.
	WorkflowID string

	// Local path of the file.  Its base name is sent as mex-filename.
	FilePath string

	// An identifier chosen by the sender, sent as mex-localid when not
	// empty.
	LocalID string
}

// SendResult is the outbox response.
type SendResult struct {
	// The identifier MESH assigned to the message.  Empty when the
	// response body could not be decoded.
	MessageID string `json:"message_id"`
}

// Inbox is the inbox listing.
type Inbox struct {
	// Opaque message identifiers, oldest first.
	Messages []string `json:"messages"`

	// MESH caps a listing at 500 messages; this is the server's estimate
	// of the full count.
	ApproxInboxCount int `json:"approx_inbox_count,omitempty"`
}
