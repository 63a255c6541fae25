package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// LinePrompter reads answers one line at a time. An empty line accepts
// the initial value. When the input is not a terminal a rejected value
// is an error rather than a reason to ask again.
type LinePrompter struct {
	in          *bufio.Scanner
	out         io.Writer
	interactive bool
}

// NewLinePrompter prompts on out and reads from in.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{
		in:          bufio.NewScanner(in),
		out:         out,
		interactive: isTerminal(in),
	}
}

func isTerminal(r io.Reader) bool {
	if f, ok := r.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Text implements Prompter.
func (lp *LinePrompter) Text(ctx context.Context, p TextPrompt) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if p.Initial != "" {
			fmt.Fprintf(lp.out, "%s [%s]: ", p.Message, p.Initial)
		} else {
			fmt.Fprintf(lp.out, "%s: ", p.Message)
		}

		if !lp.in.Scan() {
			if err := lp.in.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		answer := strings.TrimSpace(lp.in.Text())
		if answer == "" {
			answer = p.Initial
		}
		if !lp.interactive {
			fmt.Fprintln(lp.out)
		}

		if p.Validate == nil {
			return answer, nil
		}
		msg := p.Validate(answer)
		if msg == "" {
			return answer, nil
		}
		if !lp.interactive {
			return "", errors.New(msg)
		}
		fmt.Fprintf(lp.out, "  %s\n", msg)
	}
}
