package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/kernel"
	"github.com/GoCodeAlone/kernel/descriptor"
)

func newCheckCommand(opts *options) *cobra.Command {
	var deploy bool
	cmd := &cobra.Command{
		Use:   "check <descriptor>...",
		Short: "Validate descriptors",
		Long: `check loads each descriptor and verifies its structure and that its
dependency graph has no cycle. With --deploy every descriptor is also deployed
and undeployed again on a fresh kernel.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			var failed []error
			for _, path := range args {
				if err := checkOne(cmd, cfg, logger, path, deploy); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
					failed = append(failed, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", path)
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d descriptors failed: %w", len(failed), len(args), errors.Join(failed...))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deploy, "deploy", false, "deploy and undeploy each descriptor")
	return cmd
}

func checkOne(cmd *cobra.Command, cfg *kernel.Config, logger kernel.Logger, path string, deploy bool) error {
	d, err := descriptor.Load(path)
	if err != nil {
		return err
	}
	if cycle := kernel.FindCycle(d); cycle != nil {
		return fmt.Errorf("%w: %s", kernel.ErrCircularDependency, strings.Join(cycle, " -> "))
	}
	if !deploy {
		return nil
	}

	k, err := newKernel(cfg, logger)
	if err != nil {
		return err
	}
	unit, err := k.Deploy(cmd.Context(), d)
	if err != nil {
		return err
	}
	return k.Undeploy(cmd.Context(), unit)
}
