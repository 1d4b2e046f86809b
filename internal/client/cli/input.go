package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a seam for term.ReadPassword.
var readPassword = term.ReadPassword

// isTerminal is a seam for term.IsTerminal.
var isTerminal = term.IsTerminal

// prompt prints label and reads one trimmed line.
func prompt(r *bufio.Reader, w io.Writer, label string) (string, error) {
	if _, err := fmt.Fprint(w, label+": "); err != nil {
		return "", err
	}
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echo when stdin is a terminal,
// and as a plain line otherwise.
func promptPassword(r *bufio.Reader, w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return prompt(r, w, "Password")
	}
	if _, err := fmt.Fprint(w, "Password: "); err != nil {
		return "", err
	}
	pw, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// ReadPassword prompts for a password on out and reads it from in.
func ReadPassword(in io.Reader, out io.Writer) (string, error) {
	return promptPassword(bufio.NewReader(in), out)
}
