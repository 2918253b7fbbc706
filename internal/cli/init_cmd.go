package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/stride-run/stride/internal/config"
)

var initFlagForce bool

// starterConfig is written by `stride init`. It demonstrates the common
// task shapes without assuming a toolchain.
const starterConfig = `[project]
name = "my-project"
version = "0.1.0"

[env]
GREETING = "hello"

[tasks.default]
description = "Default task, run with plain 'stride'"
cmds = ["echo $GREETING from stride"]

[tasks.clean]
description = "Remove build artifacts"
cmds = ["p:rm -rf dist"]

# [tasks.build]
# description = "Example cached task"
# deps = ["clean"]
# sources = ["src/**/*"]
# outputs = ["dist/app"]
# cmds = ["your-build-command"]
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter stride.toml in the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
		path := filepath.Join(wd, config.ConfigFileName)

		if _, err := os.Stat(path); err == nil && !initFlagForce {
			overwrite := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("%s already exists. Overwrite?", config.ConfigFileName)).
					Value(&overwrite),
			))
			if err := form.Run(); err != nil {
				return fmt.Errorf("reading confirmation: %w", err)
			}
			if !overwrite {
				return fmt.Errorf("aborted: %s already exists (use --force to overwrite)", config.ConfigFileName)
			}
		}

		if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		fmt.Printf("Created %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initFlagForce, "force", "f", false, "Overwrite an existing stride.toml without asking")
	rootCmd.AddCommand(initCmd)
}
