package cmd

import "testing"

func TestDaemonForkArgs(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{
			name:    "no command override",
			command: "",
			want:    []string{"daemon", "--target", "console", "--project-root", "/app", "--environment", "development", "--mode", "pty"},
		},
		{
			name:    "with command override",
			command: "bin/rails console",
			want:    []string{"daemon", "--target", "console", "--project-root", "/app", "--environment", "development", "--mode", "pty", "--command", "bin/rails console"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := daemonForkArgs("console", "/app", "development", tt.command, "pty")
			if len(got) != len(tt.want) {
				t.Fatalf("daemonForkArgs() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("daemonForkArgs()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
