package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Terminal reads lines from an io.Reader, printing a prompt before each read
// when the reader is an interactive TTY.
type Terminal struct {
	r      io.Reader
	out    io.Writer
	prompt func() string
	isTTY  bool
}

// NewTerminal creates a terminal source over r. The prompt callback is
// invoked before every read; it may return styled text.
func NewTerminal(r io.Reader, out io.Writer, prompt func() string) *Terminal {
	isTTY := false
	if f, ok := r.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &Terminal{r: r, out: out, prompt: prompt, isTTY: isTTY}
}

func (t *Terminal) Name() string { return "terminal" }

// Run reads lines until EOF or context cancellation. EOF is a clean stop:
// the engine treats it like /quit once the channel drains.
func (t *Terminal) Run(ctx context.Context, lines chan<- Line) error {
	scanner := bufio.NewScanner(t.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if t.isTTY && t.prompt != nil {
			fmt.Fprint(t.out, t.prompt())
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read terminal: %w", err)
			}
			// EOF: tell the engine to wind down.
			select {
			case lines <- Line{Text: "/quit", Source: t.Name()}:
			case <-ctx.Done():
			}
			return nil
		}

		select {
		case lines <- Line{Text: scanner.Text(), Source: t.Name()}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ Source = (*Terminal)(nil)
