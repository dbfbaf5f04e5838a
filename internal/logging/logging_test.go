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

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestAddFieldsMerges(t *testing.T) {
	ctx := AddFields(context.Background(), Fields{MailboxFieldKey: "X26ABC1"})
	ctx = AddFields(ctx, Fields{MessageIDFieldKey: "m1"})

	got, _ := ctx.Value(fieldsContextKey).(Fields)
	if got[MailboxFieldKey] != "X26ABC1" || got[MessageIDFieldKey] != "m1" {
		t.Errorf("fields = %#v, want both mailbox and message_id", got)
	}
}

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")
	log.Info("hidden")
	log.WithField(FileFieldKey, "a.csv").Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "file=a.csv") {
		t.Errorf("output = %q, want the warning with its field", out)
	}
	if log.IsDebugging() {
		t.Error("IsDebugging() = true at warn level")
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel(Level())
	SetLevel("debug")
	if got := Level(); got != "debug" {
		t.Errorf("Level() = %q, want %q", got, "debug")
	}
	SetLevel("bogus")
	if got := Level(); got != "debug" {
		t.Errorf("unknown level changed Level() to %q", got)
	}
}
