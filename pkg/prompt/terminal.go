// Package prompt asks the operator to confirm risky actions on a terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/openfroyo/converge/pkg/engine"
)

// ErrNotInteractive is returned when confirmation is needed but input is
// not a terminal. The gate treats it as a decline.
var ErrNotInteractive = errors.New("confirmation required but input is not a terminal")

var (
	riskColor   = color.New(color.FgYellow, color.Bold)
	reasonColor = color.New(color.FgYellow)
	keyColor    = color.New(color.FgCyan)
	dimColor    = color.New(color.FgHiBlack)
)

var termIsTerminal = func(fd int) bool {
	return term.IsTerminal(fd)
}

// Terminal is an engine.Approver that prompts with [y/N]. Anything other
// than "y" or "yes" declines.
type Terminal struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

var _ engine.Approver = (*Terminal)(nil)

// NewTerminal creates a prompt reading answers from in and writing
// questions to out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: IsTerminal(in),
	}
}

// IsTerminal reports whether r is a terminal.
func IsTerminal(r any) bool {
	if file, ok := r.(*os.File); ok {
		return termIsTerminal(int(file.Fd()))
	}
	return false
}

// Approve implements engine.Approver.
func (t *Terminal) Approve(ctx context.Context, ref engine.ResourceRef, action engine.Action, reasons []string) (bool, error) {
	_, _ = riskColor.Fprintf(t.out, "\n! %s %s\n", strings.ToUpper(string(action.Kind)), ref)
	_, _ = fmt.Fprintf(t.out, "  %s\n", Describe(action))
	for _, reason := range reasons {
		_, _ = reasonColor.Fprintf(t.out, "  - %s\n", reason)
	}

	return t.Confirm(ctx, "Apply this change?")
}

// Confirm asks a yes/no question.
func (t *Terminal) Confirm(ctx context.Context, question string) (bool, error) {
	if !t.interactive {
		return false, ErrNotInteractive
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, _ = fmt.Fprintf(t.out, "%s [y/N]: ", question)

	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			_, _ = fmt.Fprintln(t.out)
			return false, nil
		}
		return false, err
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// Describe renders an action as "key: current -> desired".
func Describe(action engine.Action) string {
	key := keyColor.Sprint(action.Directive.Key)

	switch action.Kind {
	case engine.ActionAdd:
		return fmt.Sprintf("%s: %s -> %q", key, dimColor.Sprint("(absent)"), action.Directive.Value)
	case engine.ActionReplace:
		return fmt.Sprintf("%s: %q -> %q", key, action.Current, action.Directive.Value)
	case engine.ActionRemove:
		return fmt.Sprintf("%s: %q -> %s", key, action.Current, dimColor.Sprint("(absent)"))
	default:
		return fmt.Sprintf("%s: %s", key, action.Rationale)
	}
}
