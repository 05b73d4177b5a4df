package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/registry"
)

// addTargetFlags attaches the --target/--project-root flags every
// socket-facing command needs to resolve which daemon to talk to.
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("target", "t", "console", "target name (identifies this console among others for the same project)")
	cmd.Flags().String("project-root", "", "project root directory (defaults to the current directory)")
}

// resolveTarget reads the --target/--project-root flags, defaulting
// project-root to the working directory.
func resolveTarget(cmd *cobra.Command) (target, projectRoot string, err error) {
	target, err = cmd.Flags().GetString("target")
	if err != nil {
		return "", "", err
	}
	projectRoot, err = cmd.Flags().GetString("project-root")
	if err != nil {
		return "", "", err
	}
	if projectRoot == "" {
		projectRoot, err = os.Getwd()
		if err != nil {
			return "", "", err
		}
	}
	return target, projectRoot, nil
}

// targetCompletionFunc offers known target names from the registry,
// replacing the teacher's SSH-host-alias completion (the tunnel concept this
// CLI generalizes from has no notion of host aliases).
func targetCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	reg := registry.New(core.RegistryPath())
	entries, err := reg.List()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Target)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
