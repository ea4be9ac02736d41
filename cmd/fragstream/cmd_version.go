package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strongdm/fragstream/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "fragstream %s\n", version.Version)
			return err
		},
	}
}
