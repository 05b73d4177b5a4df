package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BaseDirName = ".config/consolle"
	PidFileName = "daemon.pid"
	SocketName  = "daemon.sock"
)

var Config *viper.Viper

var globalFlagsToConfigKey = map[string]string{
	"config-path": "config_path",
	"verbose":     "verbose",
}

// GetSocketPath and GetPIDFilePath return the *default* global-config
// locations. A running target almost always overrides these with its own
// per-project path under <project>/tmp/cone/<target>.{socket,pid} (see
// TargetSocketPath/TargetPIDFilePath); these helpers back the CLI's
// fallback when no target-specific path is known yet.
func GetSocketPath() string {
	return filepath.Join(Config.GetString("config_path"), SocketName)
}

func GetPIDFilePath() string {
	return filepath.Join(Config.GetString("config_path"), PidFileName)
}

// targetDir returns <projectRoot>/tmp/cone, the filesystem layout spec.md
// section 4.7 mandates for a target's socket, pid file, and log.
func targetDir(projectRoot string) string {
	return filepath.Join(projectRoot, "tmp", "cone")
}

// TargetSocketPath returns <projectRoot>/tmp/cone/<target>.socket.
func TargetSocketPath(projectRoot, target string) string {
	return filepath.Join(targetDir(projectRoot), target+".socket")
}

// TargetPIDFilePath returns <projectRoot>/tmp/cone/<target>.pid.
func TargetPIDFilePath(projectRoot, target string) string {
	return filepath.Join(targetDir(projectRoot), target+".pid")
}

// TargetLogPath returns <projectRoot>/tmp/cone/<target>.log.
func TargetLogPath(projectRoot, target string) string {
	return filepath.Join(targetDir(projectRoot), target+".log")
}

// TargetHistoryPath returns <projectRoot>/tmp/cone/<target>.history.db, the
// sqlite-backed eval/command-history log for one target.
func TargetHistoryPath(projectRoot, target string) string {
	return filepath.Join(targetDir(projectRoot), target+".history.db")
}

// RegistryPath returns the global targets catalog path
// (~/.config/consolle/targets.json), independent of any one project.
func RegistryPath() string {
	return filepath.Join(Config.GetString("config_path"), "targets.json")
}

func GetInitialWaitSeconds() int {
	return Config.GetInt("initial_wait_seconds")
}

func GetRestartWindowSeconds() int {
	return Config.GetInt("restart_window_seconds")
}

func GetMaxRestarts() int {
	return Config.GetInt("max_restarts")
}

func GetRestartDelaySeconds() float64 {
	return Config.GetFloat64("restart_delay_seconds")
}

func GetDisablePreSigint() bool {
	return Config.GetBool("disable_pre_sigint")
}

func GetDefaultTimeoutSeconds() int {
	return Config.GetInt("default_timeout_seconds")
}

func InitializeConfig(cmd *cobra.Command) ([]string, error) {
	Config = viper.New()

	// Set config path from user input
	configPath, err := cmd.Parent().Flags().GetString("config-path")
	if err != nil {
		panic("Unable to determine config path")
	}
	Config.AddConfigPath(configPath)

	// Set config name
	Config.SetConfigName("config")
	Config.SetConfigType("toml")

	// Set defaults
	Config.SetDefault("verbose", 0)
	Config.SetDefault("initial_wait_seconds", 15)
	Config.SetDefault("restart_window_seconds", 300)
	Config.SetDefault("max_restarts", 5)
	Config.SetDefault("restart_delay_seconds", 1)
	Config.SetDefault("disable_pre_sigint", false)
	Config.SetDefault("default_timeout_seconds", 60)

	// Setup env reading
	Config.SetEnvPrefix("consolle")

	// Load config file
	if err := Config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found - create config path and write config with defaults
			err := os.MkdirAll(configPath, 0o755)
			if err != nil {
				panic(err)
			}
			Config.SafeWriteConfig()
		} else {
			// Config file was found but another error occurred
			panic(err)
		}
	}

	// In order to get environment variables mapped into config sections, we need to replace . with _
	Config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Config.AutomaticEnv() // read in environment variables that match

	// Bind the current command's flags to viper
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			// Is this a global flag
			configKey, ok := globalFlagsToConfigKey[f.Name]
			if !ok {
				return
			}

			// Apply the viper config value to the flag when the flag is not set and viper has a value
			if !f.Changed && Config.IsSet(configKey) {
				cmd.Flags().Set(f.Name, fmt.Sprintf("%v", Config.Get(configKey)))
			} else {
				Config.Set(configKey, fmt.Sprintf("%v", f.Value))
			}
		})
	}

	return []string{}, nil
}
