package askpass

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"
)

// PromptPassword asks the operator for a passphrase on stderr with echo
// disabled, for interactively caching a passphrase the first time.
func PromptPassword(target string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter passphrase for %q: ", target)
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(passwordBytes), nil
}

// PromptAndConfirmPassword prompts twice and requires the two entries to
// match, used when caching a new passphrase rather than just using one.
func PromptAndConfirmPassword(target string) (string, error) {
	first, err := PromptPassword(target)
	if err != nil {
		return "", err
	}

	fmt.Fprintf(os.Stderr, "Confirm passphrase for %q: ", target)
	confirmBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase confirmation: %w", err)
	}

	if first != string(confirmBytes) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}
