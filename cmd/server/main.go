package main

import (
	"os"

	"github.com/fylle/workflow-mcp/internal/server"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	server.Version = Version

	root := newRootCommand()
	root.AddCommand(
		newVersionCommand(),
		newHashCommand(),
		newCostCommand(),
		newMCPJSONCommand(),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
