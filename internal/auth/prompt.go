package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// CodePrompter asks a human for Slack's one-time security code.
type CodePrompter interface {
	// Interactive reports whether a human can answer at all.
	Interactive() bool
	PromptCode(ctx context.Context) (string, error)
}

// TerminalPrompter reads the code from the controlling terminal.
type TerminalPrompter struct {
	in  *os.File
	out io.Writer
}

// NewTerminalPrompter prompts on stderr and reads stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr}
}

// Interactive is false when stdin is a pipe, a file or /dev/null, e.g. a
// container started without -it.
func (p *TerminalPrompter) Interactive() bool {
	return term.IsTerminal(int(p.in.Fd()))
}

// PromptCode prints the prompt and waits for one line. The read cannot be
// interrupted, so on cancellation the goroutine is left to finish when the
// line arrives or stdin closes.
func (p *TerminalPrompter) PromptCode(ctx context.Context) (string, error) {
	fmt.Fprint(p.out, "Enter Slack security code: ")

	type line struct {
		s   string
		err error
	}
	ch := make(chan line, 1)
	go func() {
		s, err := bufio.NewReader(p.in).ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		ch <- line{s, err}
	}()

	select {
	case l := <-ch:
		if l.err != nil {
			return "", fmt.Errorf("reading security code: %w", l.err)
		}
		return strings.TrimSpace(l.s), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
