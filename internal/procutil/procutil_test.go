package procutil

import (
	"os"
	"testing"
)

func TestCommandLineMatches(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		want     bool
	}{
		{
			name:     "all tokens present",
			actual:   "bin/rails console -e development",
			expected: "bin/rails console -e development",
			want:     true,
		},
		{
			name:     "different command entirely",
			actual:   "irb",
			expected: "bin/rails console",
			want:     false,
		},
		{
			name:     "short flags are skipped",
			actual:   "irb",
			expected: "irb -e",
			want:     true,
		},
		{
			name:     "empty expected matches anything",
			actual:   "anything at all",
			expected: "",
			want:     true,
		},
		{
			name:     "missing a required token",
			actual:   "bin/rails console",
			expected: "bin/rails console -e production",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := commandLineMatches(tt.actual, tt.expected)
			if got != tt.want {
				t.Errorf("commandLineMatches(%q, %q) = %v, want %v", tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("expected the current process to be alive")
	}
	if Alive(0) {
		t.Error("expected pid 0 to be reported as not alive")
	}
	if Alive(-1) {
		t.Error("expected a negative pid to be reported as not alive")
	}
}

func TestValidateLaunchRejectsMismatchedCmdline(t *testing.T) {
	// Our own test binary's command line will never contain this token,
	// so a correct implementation must refuse to validate it as a match.
	got := ValidateLaunch(os.Getpid(), "test-target", "bin/rails console -e production-definitely-not-running")
	if got {
		t.Error("expected ValidateLaunch to reject a live process with a mismatched launch command")
	}
}

func TestValidateLaunchRejectsDeadPid(t *testing.T) {
	if ValidateLaunch(0, "test-target", "") {
		t.Error("expected ValidateLaunch to reject pid 0")
	}
}
