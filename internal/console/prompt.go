// Package console holds the interactive pieces of the CLI: prompts for the
// lease parameters, the teardown confirmation and the countdown display.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/cochaviz/tpn/internal/catalog"
)

// DefaultMinutes is offered when the user just presses enter.
const DefaultMinutes = 15.0

// ErrNotInteractive means a value had to be prompted for but input is not a
// terminal.
var ErrNotInteractive = errors.New("input is not interactive")

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Prompter asks questions on out and reads answers line by line from in.
// A single reader goroutine owns in, so a prompt abandoned on timeout does
// not swallow the next answer.
type Prompter struct {
	out         io.Writer
	in          io.Reader
	interactive bool

	once  sync.Once
	lines chan inputLine
	err   error
}

type inputLine struct {
	text string
	at   time.Time
}

// NewPrompter builds a Prompter. Prompts fail with ErrNotInteractive when
// interactive is false.
func NewPrompter(in io.Reader, out io.Writer, interactive bool) *Prompter {
	return &Prompter{in: in, out: out, interactive: interactive}
}

// Stdio prompts on the process terminal.
func Stdio() *Prompter {
	return NewPrompter(os.Stdin, os.Stderr, IsTerminal(os.Stdin))
}

// Interactive reports whether prompting is possible.
func (p *Prompter) Interactive() bool {
	return p.interactive
}

func (p *Prompter) start() {
	p.once.Do(func() {
		p.lines = make(chan inputLine)
		go func() {
			scanner := bufio.NewScanner(p.in)
			for scanner.Scan() {
				p.lines <- inputLine{text: scanner.Text(), at: time.Now()}
			}
			p.err = scanner.Err()
			if p.err == nil {
				p.err = io.EOF
			}
			close(p.lines)
		}()
	})
}

func (p *Prompter) readLine(ctx context.Context) (string, error) {
	return p.readLineSince(ctx, time.Time{})
}

// readLineSince skips lines entered before since, such as an answer typed
// after an earlier prompt was abandoned.
func (p *Prompter) readLineSince(ctx context.Context, since time.Time) (string, error) {
	if !p.interactive {
		return "", ErrNotInteractive
	}
	p.start()
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return "", fmt.Errorf("read answer: %w", p.err)
			}
			if line.at.Before(since) {
				continue
			}
			return strings.TrimSpace(line.text), nil
		case <-ctx.Done():
			fmt.Fprintln(p.out)
			return "", ctx.Err()
		}
	}
}

// Confirm asks a yes/no question; anything but y or yes is a no. Only input
// entered after the question is shown counts as an answer.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	asked := time.Now()
	fmt.Fprintf(p.out, "\n%s [y/N]: ", question)
	answer, err := p.readLineSince(ctx, asked)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// SelectRegion shows a numbered list and returns the chosen region. Typing
// text instead of a number narrows the list; a unique match is selected.
func (p *Prompter) SelectRegion(ctx context.Context, regions []catalog.Region) (catalog.Region, error) {
	if len(regions) == 0 {
		return catalog.Region{}, fmt.Errorf("%w: validator offers no regions", catalog.ErrUnknownRegion)
	}
	shown := regions
	for {
		fmt.Fprintln(p.out, "Available regions:")
		for i, region := range shown {
			fmt.Fprintf(p.out, "  %2d) %s\n", i+1, region)
		}
		fmt.Fprint(p.out, "Select a region (number, or text to filter): ")

		answer, err := p.readLine(ctx)
		if err != nil {
			return catalog.Region{}, err
		}
		if answer == "" {
			shown = regions
			continue
		}
		if n, err := strconv.Atoi(answer); err == nil {
			if n >= 1 && n <= len(shown) {
				return shown[n-1], nil
			}
			fmt.Fprintf(p.out, "Pick a number between 1 and %d.\n", len(shown))
			continue
		}
		matches := catalog.FilterRegions(regions, answer)
		switch len(matches) {
		case 0:
			fmt.Fprintf(p.out, "No region matches %q.\n", answer)
			shown = regions
		case 1:
			return matches[0], nil
		default:
			shown = matches
		}
	}
}

// SelectValidator returns the only validator, or asks which one to use.
func (p *Prompter) SelectValidator(ctx context.Context, validators []catalog.Validator) (catalog.Validator, error) {
	switch len(validators) {
	case 0:
		return catalog.Validator{}, catalog.ErrEmptyCatalog
	case 1:
		return validators[0], nil
	}
	for {
		fmt.Fprintln(p.out, "Available validators:")
		for i, v := range validators {
			fmt.Fprintf(p.out, "  %2d) %s\n", i+1, v)
		}
		fmt.Fprint(p.out, "Select a validator: ")

		answer, err := p.readLine(ctx)
		if err != nil {
			return catalog.Validator{}, err
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(validators) {
			return validators[n-1], nil
		}
		for _, v := range validators {
			if v.ID == answer {
				return v, nil
			}
		}
		fmt.Fprintf(p.out, "Unknown validator %q.\n", answer)
	}
}

// AskMinutes asks for the lease length, defaulting to DefaultMinutes.
func (p *Prompter) AskMinutes(ctx context.Context) (float64, error) {
	for {
		fmt.Fprintf(p.out, "Lease length in minutes [%g]: ", DefaultMinutes)
		answer, err := p.readLine(ctx)
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return DefaultMinutes, nil
		}
		minutes, err := strconv.ParseFloat(answer, 64)
		if err != nil || minutes <= 0 || math.IsInf(minutes, 0) || math.IsNaN(minutes) {
			fmt.Fprintln(p.out, "Enter a positive number of minutes.")
			continue
		}
		return minutes, nil
	}
}
