package credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptPassword prompts for a password. When reader is a terminal the
// input is hidden; otherwise a single line is read.
func PromptPassword(reader io.Reader, writer io.Writer, email string) (string, error) {
	_, _ = fmt.Fprintf(writer, "Password for %s: ", email)

	if f, ok := reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(writer)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(secret), nil
	}

	scanner := bufio.NewScanner(reader)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no input received")
}
