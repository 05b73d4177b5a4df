package core

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func testConfig(configPath string) *viper.Viper {
	v := viper.New()
	v.Set("config_path", configPath)
	v.SetDefault("initial_wait_seconds", 15)
	v.SetDefault("restart_window_seconds", 300)
	v.SetDefault("max_restarts", 5)
	v.SetDefault("restart_delay_seconds", 1)
	v.SetDefault("disable_pre_sigint", false)
	v.SetDefault("default_timeout_seconds", 60)
	return v
}

func TestGetSocketPath(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = testConfig("/tmp/test-consolle")

	got := GetSocketPath()
	want := filepath.Join("/tmp/test-consolle", SocketName)
	if got != want {
		t.Errorf("GetSocketPath() = %q, want %q", got, want)
	}
}

func TestGetPIDFilePath(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = testConfig("/tmp/test-consolle")

	got := GetPIDFilePath()
	want := filepath.Join("/tmp/test-consolle", PidFileName)
	if got != want {
		t.Errorf("GetPIDFilePath() = %q, want %q", got, want)
	}
}

func TestConstants(t *testing.T) {
	if BaseDirName != ".config/consolle" {
		t.Errorf("BaseDirName = %q, want %q", BaseDirName, ".config/consolle")
	}
	if PidFileName != "daemon.pid" {
		t.Errorf("PidFileName = %q, want %q", PidFileName, "daemon.pid")
	}
	if SocketName != "daemon.sock" {
		t.Errorf("SocketName = %q, want %q", SocketName, "daemon.sock")
	}
}

func TestTargetPaths(t *testing.T) {
	projectRoot := "/srv/myapp"
	target := "console"

	wantDir := filepath.Join(projectRoot, "tmp", "cone")
	if got := TargetSocketPath(projectRoot, target); got != filepath.Join(wantDir, "console.socket") {
		t.Errorf("TargetSocketPath() = %q, want %q", got, filepath.Join(wantDir, "console.socket"))
	}
	if got := TargetPIDFilePath(projectRoot, target); got != filepath.Join(wantDir, "console.pid") {
		t.Errorf("TargetPIDFilePath() = %q, want %q", got, filepath.Join(wantDir, "console.pid"))
	}
	if got := TargetLogPath(projectRoot, target); got != filepath.Join(wantDir, "console.log") {
		t.Errorf("TargetLogPath() = %q, want %q", got, filepath.Join(wantDir, "console.log"))
	}
	if got := TargetHistoryPath(projectRoot, target); got != filepath.Join(wantDir, "console.history.db") {
		t.Errorf("TargetHistoryPath() = %q, want %q", got, filepath.Join(wantDir, "console.history.db"))
	}
}

func TestRegistryPath(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = testConfig("/tmp/test-consolle")

	got := RegistryPath()
	want := filepath.Join("/tmp/test-consolle", "targets.json")
	if got != want {
		t.Errorf("RegistryPath() = %q, want %q", got, want)
	}
}

func TestRestartDefaults(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = testConfig("/tmp/test-consolle")

	if got := GetRestartWindowSeconds(); got != 300 {
		t.Errorf("GetRestartWindowSeconds() = %d, want 300", got)
	}
	if got := GetMaxRestarts(); got != 5 {
		t.Errorf("GetMaxRestarts() = %d, want 5", got)
	}
	if got := GetRestartDelaySeconds(); got != 1 {
		t.Errorf("GetRestartDelaySeconds() = %v, want 1", got)
	}
	if got := GetDisablePreSigint(); got {
		t.Errorf("GetDisablePreSigint() = %v, want false", got)
	}
	if got := GetDefaultTimeoutSeconds(); got != 60 {
		t.Errorf("GetDefaultTimeoutSeconds() = %d, want 60", got)
	}
}
