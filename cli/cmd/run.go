package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scenarioflow/engine"
	"scenarioflow/loader"
)

var (
	runServersPath string
	runParamsPath  string
	runStopOnError bool
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Execute a scenario headlessly and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runScenario,
}

func init() {
	runCmd.Flags().StringVar(&runServersPath, "servers", "", "path to a servers YAML file")
	runCmd.Flags().StringVar(&runParamsPath, "params", "", "path to a params JSON file")
	runCmd.Flags().BoolVar(&runStopOnError, "stop-on-error", true, "halt the walk on the first step failure")
}

func runScenario(_ *cobra.Command, args []string) error {
	scenario, err := loader.LoadScenario(args[0])
	if err != nil {
		return fmt.Errorf("failed to load scenario: %w", err)
	}

	servers := map[string]engine.Server{}
	if runServersPath != "" {
		servers, err = loader.LoadServers(runServersPath)
		if err != nil {
			return fmt.Errorf("failed to load servers: %w", err)
		}
	}

	params := map[string]any{}
	if runParamsPath != "" {
		data, err := os.ReadFile(runParamsPath)
		if err != nil {
			return fmt.Errorf("failed to read params file: %w", err)
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return fmt.Errorf("failed to parse params file: %w", err)
		}
	}

	orchestrator := engine.NewOrchestrator()
	stopOnError := runStopOnError
	result := orchestrator.Execute(context.Background(), scenario, servers, params, engine.ExecuteOptions{
		StopOnError: &stopOnError,
	})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution result: %w", err)
	}
	fmt.Println(string(out))

	if result.Status == engine.StatusFailed {
		os.Exit(1)
	}
	return nil
}
