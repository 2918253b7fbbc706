package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stride-run/stride/internal/config"
)

var envFlagTrace bool

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Inspect the resolved environment",
	Long: `Print the fully resolved environment for this project. With --trace,
each variable is annotated with its provenance layer (system, config,
extension, dotenv, dynamic) and the contributing file or command.

Values matching a project secret pattern are masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := loadProject(cmd.Context())
		if err != nil {
			return err
		}

		for _, name := range proj.env.Names() {
			v, _ := proj.env.Lookup(name)
			value := v.Value
			if proj.redactor != nil {
				value = proj.redactor.Mask(value)
			}

			if !envFlagTrace {
				// Skip inherited system noise unless tracing.
				if v.Source == config.ProvenanceSystem {
					continue
				}
				fmt.Printf("%s=%s\n", name, value)
				continue
			}

			origin := ""
			if v.Origin != "" {
				origin = " (" + v.Origin + ")"
			}
			fmt.Printf("%s=%s\t%s%s\n", name, value, descriptionStyle.Render(string(v.Source)), origin)
		}
		return nil
	},
}

func init() {
	envCmd.Flags().BoolVar(&envFlagTrace, "trace", false, "Show provenance for every variable, including system")
	rootCmd.AddCommand(envCmd)
}
