package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"scenarioflow/engine"
	"scenarioflow/loader"
	"scenarioflow/server"
)

var (
	serveAddr        string
	serveServersPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the headless control-plane server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "address to listen on")
	serveCmd.Flags().StringVar(&serveServersPath, "servers", "", "path to a servers YAML file")
}

func runServe(_ *cobra.Command, _ []string) error {
	servers := map[string]engine.Server{}
	if serveServersPath != "" {
		var err error
		servers, err = loader.LoadServers(serveServersPath)
		if err != nil {
			return fmt.Errorf("failed to load servers: %w", err)
		}
	}

	s := server.New(engine.NewOrchestrator(), servers)
	return s.Start(serveAddr)
}
