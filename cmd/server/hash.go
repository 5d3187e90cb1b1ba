package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fylle/workflow-mcp/internal/shared/hashing"
)

func newHashCommand() *cobra.Command {
	var typeHint string

	cmd := &cobra.Command{
		Use:   "hash [file]",
		Short: "Print the content hash of a JSON document",
		Long: `Hash prints the deterministic content hash of a JSON document read from
file, or from stdin when no file is given. Object key order does not affect
the result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}

			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}
			var payload any
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("payload is not valid JSON: %w", err)
			}

			hash, err := hashing.Hash(payload, typeHint)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().StringVar(&typeHint, "type", hashing.UnknownType, "type hint mixed into the hash")
	return cmd
}
