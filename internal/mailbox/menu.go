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

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/matta/meshtools/internal/config"
	"github.com/matta/meshtools/internal/logging"
	"github.com/pkg/errors"
)

const (
	ChoiceSend  = "1"
	ChoiceView  = "2"
	ChoiceEmpty = "3"
	ChoiceQuit  = "4"
)

// MenuItems are the menu entries, in choice order.
var MenuItems = []string{
	"1. Send to Outbox",
	"2. View Inbox",
	"3. Empty Inbox",
	"4. Quit",
}

const invalidChoice = "Invalid choice. Please enter 1, 2, 3 or 4."

// Chooser asks the user for a menu choice.  io.EOF means the user has
// gone away and is treated as Quit.
type Chooser interface {
	Choose(ctx context.Context) (string, error)
}

// OpenFunc loads configuration for need and returns a ready session.
type OpenFunc func(ctx context.Context, need config.MeshNeed) (*Session, error)

// Menu loops over choices until Quit.  Configuration is loaded afresh for
// every action, so edits to the environment file take effect without a
// restart.  Missing configuration ends the loop with an error; a failed
// MESH call is reported and the loop continues.
func Menu(ctx context.Context, ch Chooser, out io.Writer, open OpenFunc) error {
	log := logging.FromContext(ctx)
	for {
		choice, err := ch.Choose(ctx)
		if errors.Cause(err) == io.EOF {
			choice = ChoiceQuit
		} else if err != nil {
			return err
		}

		var need config.MeshNeed
		switch strings.TrimSpace(choice) {
		case ChoiceSend:
			need = config.NeedSend
		case ChoiceView, ChoiceEmpty:
			need = config.NeedInbox
		case ChoiceQuit:
			fmt.Fprintln(out, "Exiting the program.")
			return nil
		default:
			fmt.Fprintln(out, invalidChoice)
			continue
		}

		s, err := open(ctx, need)
		if err != nil {
			return err
		}
		switch strings.TrimSpace(choice) {
		case ChoiceSend:
			err = s.SendFile(ctx)
		case ChoiceView:
			_, err = s.ViewInbox(ctx)
		case ChoiceEmpty:
			var n int
			n, err = s.EmptyInbox(ctx)
			log.Infof("acknowledged %d messages", n)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "\nError: %v\n", err)
		}
	}
}

// LineChooser prints the numbered menu and reads one line per choice.
type LineChooser struct {
	in  *bufio.Reader
	out io.Writer
}

func NewLineChooser(in io.Reader, out io.Writer) *LineChooser {
	return &LineChooser{in: bufio.NewReader(in), out: out}
}

func (c *LineChooser) Choose(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintln(c.out, "\nChoose an option:")
	for _, item := range MenuItems {
		fmt.Fprintln(c.out, item)
	}
	fmt.Fprint(c.out, "Enter your choice (1, 2, 3 or 4): ")
	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// PromptChooser shows an arrow-key selector on a terminal.
type PromptChooser struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

func (c *PromptChooser) Choose(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sel := promptui.Select{
		Label:  "Choose an option",
		Items:  MenuItems,
		Size:   len(MenuItems),
		Stdin:  c.Stdin,
		Stdout: c.Stdout,
	}
	i, _, err := sel.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
		return "", io.EOF
	case err != nil:
		return "", errors.Wrap(err, "menu prompt")
	}
	return strconv.Itoa(i + 1), nil
}
