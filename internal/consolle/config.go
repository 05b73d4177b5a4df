package consolle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Mode selects which Supervisor backend drives a target's child runtime.
type Mode string

const (
	ModePTY        Mode = "pty"
	ModeEmbedIRB   Mode = "embed-irb"
	ModeEmbedRails Mode = "embed-rails"
)

// legacyModeAliases normalizes mode spellings project configs may still use.
var legacyModeAliases = map[string]Mode{
	"embedded": ModeEmbedRails,
	"auto":     ModePTY,
}

// SessionConfig is the immutable configuration a Supervisor is constructed
// with: project root, environment name, the command used to launch the
// child runtime, how long to wait for its initial prompt, and an optional
// regex overriding the built-in Prompt Matcher. RemoteHint is derived once
// at construction time from Command, not re-evaluated per call.
type SessionConfig struct {
	ProjectRoot        string
	Environment        string
	Command            string
	Mode               Mode
	InitialWaitSeconds int
	PromptPattern      string
	RemoteHint         bool

	// ExtraEnv is appended to the child's environment as-is, after the
	// built-in overrides. Used by the daemon to hand a remote (ssh/docker)
	// child its SSH_ASKPASS wiring without the consolle package needing to
	// know anything about credential caching.
	ExtraEnv []string
}

// remoteMarkers are substrings in a launch command that mark a child as
// "remote": one that may itself prompt for credentials or take noticeably
// longer to become ready, per spec.md 4.4.1's "remote children receive
// extra treatment" clause.
var remoteMarkers = []string{"ssh", "docker", "kubectl", "cap ", "kamal"}

// IsRemoteCommand reports whether command looks like it dials out to
// another host or container rather than running the target runtime
// directly in the current process tree.
func IsRemoteCommand(command string) bool {
	lower := strings.ToLower(command)
	for _, marker := range remoteMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// LoadProjectConfig reads <projectRoot>/.consolle.yml, if present, and
// overlays its keys onto cfg. A missing file is not an error: defaults
// apply. Recognized keys are prompt_pattern, mode, and command, matching
// spec.md section 6's configuration file description.
func LoadProjectConfig(cfg SessionConfig) (SessionConfig, error) {
	path := filepath.Join(cfg.ProjectRoot, ".consolle.yml")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			cfg.RemoteHint = IsRemoteCommand(cfg.Command)
			return cfg, nil
		}
		return cfg, fmt.Errorf("stat project config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read project config %s: %w", path, err)
	}

	if pattern := v.GetString("prompt_pattern"); pattern != "" {
		cfg.PromptPattern = pattern
	}
	if mode := v.GetString("mode"); mode != "" {
		cfg.Mode = normalizeMode(mode)
	}
	if command := v.GetString("command"); command != "" {
		cfg.Command = command
	}

	cfg.RemoteHint = IsRemoteCommand(cfg.Command)
	return cfg, nil
}

func normalizeMode(raw string) Mode {
	if alias, ok := legacyModeAliases[raw]; ok {
		return alias
	}
	return Mode(raw)
}
