package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/kernel"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the kernel configuration",
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(newConfigSampleCommand())
	cmd.AddCommand(newConfigDescribeCommand())
	return cmd
}

func newConfigSampleCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print a configuration file with every default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := kernel.GenerateSampleConfig(&kernel.Config{}, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "yaml, toml or json")
	return cmd
}

func newConfigDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "List the configuration fields",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			desc := kernel.DescribeConfig(&kernel.Config{})
			names := make([]string, 0, len(desc))
			for n := range desc {
				names = append(names, n)
			}
			slices.Sort(names)
			for _, n := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", n, desc[n])
			}
		},
	}
}
