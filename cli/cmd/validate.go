package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"scenarioflow/loader"
)

var validateServersPath string

var validateCmd = &cobra.Command{
	Use:   "validate <scenario.yaml>",
	Short: "Load and validate a scenario (and optional servers file) without executing it",
	Args:  cobra.ExactArgs(1),
	RunE:  validateScenario,
}

func init() {
	validateCmd.Flags().StringVar(&validateServersPath, "servers", "", "path to a servers YAML file")
}

func validateScenario(_ *cobra.Command, args []string) error {
	scenario, err := loader.LoadScenario(args[0])
	if err != nil {
		return fmt.Errorf("scenario is invalid: %w", err)
	}
	fmt.Printf("scenario %q (%s): ok, %d step(s)\n", scenario.Name, scenario.ID, len(scenario.Steps))

	if validateServersPath != "" {
		servers, err := loader.LoadServers(validateServersPath)
		if err != nil {
			return fmt.Errorf("servers file is invalid: %w", err)
		}
		fmt.Printf("servers file: ok, %d server(s)\n", len(servers))
	}
	return nil
}
