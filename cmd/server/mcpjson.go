package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fylle/workflow-mcp/pkg/config"
)

type mcpJSON struct {
	MCPServers map[string]serverDef `json:"mcpServers"`
}

type serverDef struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func newMCPJSONCommand() *cobra.Command {
	var command, output string

	cmd := &cobra.Command{
		Use:   "mcp-json",
		Short: "Write an .mcp.json client entry carrying the effective configuration as environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load the configuration: %w", err)
			}
			data, err := renderMCPJSON(command, viper.AllSettings(), cfg.Costs)
			if err != nil {
				return err
			}
			if output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&command, "command", "./build/workflow-mcp", "server binary the client should launch")
	cmd.Flags().StringVarP(&output, "output", "o", ".mcp.json", "output path, - for stdout")
	return cmd
}

// renderMCPJSON turns settings into WORKFLOW_MCP_* variables. encoding/json
// writes map keys sorted, so the file diffs cleanly between runs. Cost overrides
// are a map viper cannot rebuild from the environment, so they are emitted
// as variables under the cost env prefix instead.
func renderMCPJSON(command string, settings map[string]any, costsCfg config.CostsConfig) ([]byte, error) {
	flat := make(map[string]any)
	flattenMap("", settings, flat)
	env := make(map[string]string, len(flat))
	for k, v := range flat {
		if k == "config" || strings.HasPrefix(k, "costs.overrides") {
			continue
		}
		env[toEnvKey(k)] = anyToString(v)
	}
	for tool, rate := range costsCfg.Overrides {
		env[costsCfg.EnvPrefix+strings.ToUpper(tool)] = strconv.FormatFloat(rate, 'f', -1, 64)
	}

	m := mcpJSON{
		MCPServers: map[string]serverDef{
			"workflow": {
				Command: command,
				Args:    []string{},
				Env:     env,
			},
		},
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal .mcp.json: %w", err)
	}
	return append(data, '\n'), nil
}

func toEnvKey(dotKey string) string {
	return "WORKFLOW_MCP_" + strings.ToUpper(strings.ReplaceAll(dotKey, ".", "_"))
}

// flattenMap flattens nested maps into dot-separated keys
func flattenMap(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]any:
			flattenMap(key, t, out)
		case map[string]float64:
			for kk, vv := range t {
				out[key+"."+kk] = vv
			}
		default:
			out[key] = v
		}
	}
}

func anyToString(v any) string {
	switch vv := v.(type) {
	case []string:
		return strings.Join(vv, ",")
	case []any:
		parts := make([]string, 0, len(vv))
		for _, e := range vv {
			parts = append(parts, fmt.Sprint(e))
		}
		return strings.Join(parts, ",")
	case bool:
		return strconv.FormatBool(vv)
	case int:
		return strconv.Itoa(vv)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case string:
		return vv
	default:
		return fmt.Sprint(v)
	}
}
