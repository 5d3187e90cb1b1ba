package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fylle/workflow-mcp/pkg/config"
	"github.com/fylle/workflow-mcp/pkg/fxapp"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "workflow-mcp",
		Short: "Workflow MCP Server - content workflows over context cards",
		Long: `The Workflow MCP Server executes content workflows against context cards,
replays idempotent requests and attributes tool costs. It speaks MCP over
stdio or SSE and optionally serves an HTTP API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				viper.SetConfigFile(path)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	addPersistentFlags(root)
	if err := bindFlags(root); err != nil {
		panic(err)
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	})
	return root
}

func runServer() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load the configuration: %w", err)
	}
	fxapp.New(cfg).Run()
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Run: func(cmd *cobra.Command, args []string) {
			// stdout belongs to the stdio transport when serving
			fmt.Fprintf(cmd.ErrOrStderr(), "Workflow MCP Server\n")
			fmt.Fprintf(cmd.ErrOrStderr(), "Version: %s\n", Version)
			fmt.Fprintf(cmd.ErrOrStderr(), "Build time: %s\n", BuildTime)
		},
	}
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.String("config", "", "path to the configuration file")
	flags.String("transport", "stdio", "MCP transport (stdio, sse)")
	flags.String("host", "localhost", "host of the SSE transport")
	flags.Int("port", 8080, "port of the SSE transport")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.Bool("http", false, "serve the HTTP API")
	flags.Int("http-port", 8090, "port of the HTTP API")
	flags.String("replay-backend", "memory", "idempotent replay store (memory, postgres, redis)")
}

// bindFlags binds the command line flags to the viper configuration keys.
func bindFlags(root *cobra.Command) error {
	flagBindings := []struct {
		key  string
		flag string
	}{
		{"transport.type", "transport"},
		{"transport.host", "host"},
		{"transport.port", "port"},
		{"log_level", "log-level"},
		{"log_format", "log-format"},
		{"http.enabled", "http"},
		{"http.port", "http-port"},
		{"replay.backend", "replay-backend"},
	}

	for _, binding := range flagBindings {
		if err := viper.BindPFlag(binding.key, root.PersistentFlags().Lookup(binding.flag)); err != nil {
			return fmt.Errorf("failed to bind flag '%s': %w", binding.flag, err)
		}
	}
	return nil
}
