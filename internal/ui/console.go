package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// ErrNoInput is returned when the input ends before a line was read
var ErrNoInput = errors.New("no input")

// ConsoleUI implements console-based interactive UI
type ConsoleUI struct {
	out     io.Writer
	scanner *bufio.Scanner
	fd      int
	tty     bool
}

// NewConsoleUI creates a console UI on stdin and stdout
func NewConsoleUI() *ConsoleUI {
	fd := int(os.Stdin.Fd())
	ui := NewConsoleUIWith(os.Stdin, os.Stdout)
	ui.fd = fd
	ui.tty = term.IsTerminal(fd)
	return ui
}

// NewConsoleUIWith creates a console UI on the given streams
func NewConsoleUIWith(in io.Reader, out io.Writer) *ConsoleUI {
	return &ConsoleUI{
		out:     out,
		scanner: bufio.NewScanner(in),
		fd:      -1,
	}
}

// Writer returns the stream the UI prints to
func (c *ConsoleUI) Writer() io.Writer {
	return c.out
}

// ShowMessage displays a message to the user
func (c *ConsoleUI) ShowMessage(message string) {
	fmt.Fprintln(c.out, message)
}

// ShowTable displays rows in aligned columns
func (c *ConsoleUI) ShowTable(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// InputLine prompts for one line of input
func (c *ConsoleUI) InputLine(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)

	// Scan in the background so a cancelled context is not stuck on stdin
	inputCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		if c.scanner.Scan() {
			inputCh <- strings.TrimSpace(c.scanner.Text())
			return
		}
		if err := c.scanner.Err(); err != nil {
			errCh <- fmt.Errorf("failed to read input: %w", err)
			return
		}
		errCh <- ErrNoInput
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-inputCh:
		return line, nil
	case err := <-errCh:
		return "", err
	}
}

// InputPassword prompts for a password. Echo is disabled when stdin is a
// terminal; otherwise a plain line is read.
func (c *ConsoleUI) InputPassword(prompt string) (string, error) {
	if !c.tty {
		return c.InputLine(context.Background(), prompt)
	}

	fmt.Fprint(c.out, prompt)
	secret, err := term.ReadPassword(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}
