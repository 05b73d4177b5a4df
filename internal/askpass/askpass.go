// Package askpass lets a "remote" launch command (ssh/docker/kubectl/cap/
// kamal, per consolle.IsRemoteCommand) prompt for a passphrase without
// hanging the daemon forever on an unattended terminal: the daemon points
// SSH_ASKPASS at its own binary and the child's ssh invocation calls back
// into `consolle askpass`, which forwards the request over the daemon
// socket and prints whatever password comes back on stdout. Grounded on
// the teacher's internal/keyring/askpass.go (token-gated SSH_ASKPASS env
// wiring) and cmd/askpass.go (the callback subcommand), generalized from
// one SSH alias to any target and retargeted to the JSON broker protocol.
package askpass

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
)

// GenerateToken returns a random hex token used to gate askpass callbacks:
// only a child process the daemon itself spawned (and handed the token to
// via its environment) can successfully redeem it.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate askpass token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// BuildEnv returns the extra environment variables a remote launch command
// needs to route SSH's passphrase prompt back through `consolle askpass`,
// plus the token generated for this spawn so the daemon can validate a
// later callback against it. Mirrors the teacher's ConfigureSSHAskpass,
// adapted to return an env slice (consolle.SessionConfig.ExtraEnv) instead
// of mutating an *exec.Cmd directly, since child-process construction is
// owned by the consolle package, not by the daemon. Sets both the modern
// (SSH_ASKPASS_REQUIRE) and legacy (DISPLAY) triggers since OpenSSH
// versions differ on which one they honor.
func BuildEnv(target string) (env []string, token string, err error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve consolle executable path: %w", err)
	}

	token, err = GenerateToken()
	if err != nil {
		return nil, "", err
	}

	env = []string{
		"SSH_ASKPASS=" + execPath,
		"SSH_ASKPASS_REQUIRE=force",
		"DISPLAY=:0",
		"CONSOLLE_ASKPASS_TARGET=" + target,
		"CONSOLLE_ASKPASS_TOKEN=" + token,
	}
	return env, token, nil
}

// PendingValidator tracks tokens the daemon has handed out to spawned
// children, so an askpass callback can be checked against exactly the
// token issued for that spawn rather than any cached credential existing
// for the target.
type PendingValidator struct {
	mu     sync.Mutex
	tokens map[string]string // token -> target
}

// NewPendingValidator returns an empty validator.
func NewPendingValidator() *PendingValidator {
	return &PendingValidator{tokens: make(map[string]string)}
}

// Register records that token was issued for target's current spawn.
func (v *PendingValidator) Register(target, token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = target
}

// Validate reports whether token was issued for target, without consuming
// it: a long-lived remote session may be asked for credentials more than
// once (e.g. ssh reconnecting a multiplexed session).
func (v *PendingValidator) Validate(target, token string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	issuedFor, ok := v.tokens[token]
	return ok && issuedFor == target
}

// Revoke forgets token so it no longer validates. The daemon registers one
// token per run and does not call Revoke.
func (v *PendingValidator) Revoke(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, token)
}
