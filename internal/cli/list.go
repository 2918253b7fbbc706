package cli

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var descriptionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks defined in the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := loadProject(cmd.Context())
		if err != nil {
			return err
		}

		tasks := proj.loaded.Config.Tasks
		names := make([]string, 0, len(tasks))
		for name := range tasks {
			names = append(names, name)
		}
		sort.Strings(names)

		width := 0
		for _, name := range names {
			if len(name) > width {
				width = len(name)
			}
		}

		for _, name := range names {
			t := tasks[name]
			desc := t.Description
			if desc == "" && len(t.Deps) > 0 {
				desc = fmt.Sprintf("runs %d dependencies", len(t.Deps))
			}
			padded := fmt.Sprintf("%-*s", width, name)
			fmt.Printf("  %s  %s\n", taskNameStyle.Render(padded), descriptionStyle.Render(desc))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
