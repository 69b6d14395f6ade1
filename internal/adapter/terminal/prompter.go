package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads hidden input from a terminal. When in is not a terminal
// (input piped by a supervisor) it reads one line per prompt instead.
type Prompter struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

// NewPrompter creates a prompter reading from in and writing prompts to out.
func NewPrompter(in *os.File, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out, reader: bufio.NewReader(in)}
}

// NewStdPrompter prompts on stderr and reads stdin.
func NewStdPrompter() *Prompter {
	return NewPrompter(os.Stdin, os.Stderr)
}

// PromptPassword prints prompt and reads a line without echo.
func (p *Prompter) PromptPassword(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)

	fd := int(p.in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out) // newline after hidden input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
