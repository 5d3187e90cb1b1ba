package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fylle/workflow-mcp/internal/costs"
	"github.com/fylle/workflow-mcp/pkg/config"
)

func newCostCommand() *cobra.Command {
	var toolMeta, execMeta string

	cmd := &cobra.Command{
		Use:   "cost <tool-name>",
		Short: "Attribute a cost to one tool invocation using the configured overrides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load the configuration: %w", err)
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			attributor, err := costs.NewAttributorFromConfig(cfg.Costs, logger)
			if err != nil {
				return err
			}

			in := costs.Invocation{ToolName: args[0]}
			if err := decodeObject(toolMeta, &in.ToolMetadata); err != nil {
				return fmt.Errorf("--tool-metadata: %w", err)
			}
			if err := decodeObject(execMeta, &in.ExecutionMetadata); err != nil {
				return fmt.Errorf("--execution-metadata: %w", err)
			}

			out, err := json.MarshalIndent(attributor.Attribute(in), "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVar(&toolMeta, "tool-metadata", "", "tool metadata as a JSON object")
	cmd.Flags().StringVar(&execMeta, "execution-metadata", "", "execution metadata as a JSON object")
	return cmd
}

func decodeObject(raw string, into *map[string]any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), into)
}
