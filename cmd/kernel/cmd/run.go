package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/kernel"
	"github.com/GoCodeAlone/kernel/deployer"
	"github.com/GoCodeAlone/kernel/descriptor"
	"github.com/GoCodeAlone/kernel/status"
)

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Deploy the bootstrap descriptor and run until interrupted",
		Long: `run deploys the bootstrap descriptor, or a built-in bootstrap with a main
deployer, a hot deployer on the deploy directory and a status server, then
waits for SIGINT or SIGTERM and undeploys everything in reverse order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg *kernel.Config, logger kernel.Logger) error {
	k, err := newKernel(cfg, logger)
	if err != nil {
		return err
	}

	boot, err := bootstrap(cfg)
	if err != nil {
		return err
	}
	if _, err := k.Deploy(ctx, boot); err != nil {
		shutdown(k, cfg, logger)
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("Kernel running", "bootstrap", boot.String(), "beans", len(k.BeanNames()))

	<-ctx.Done()
	return shutdown(k, cfg, logger)
}

func shutdown(k *kernel.Kernel, cfg *kernel.Config, logger kernel.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := k.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", "error", err)
		return err
	}
	logger.Info("Kernel stopped")
	return nil
}

// bootstrap returns the configured bootstrap descriptor, or the built-in one
// when none is configured.
func bootstrap(cfg *kernel.Config) (*descriptor.Deployment, error) {
	if cfg.Bootstrap != "" {
		if !fileExists(cfg.Bootstrap) {
			return nil, fmt.Errorf("bootstrap descriptor %s not found", cfg.Bootstrap)
		}
		return descriptor.Load(cfg.Bootstrap)
	}

	kernelRef := []descriptor.Value{descriptor.InjectBean(kernel.SelfBeanName)}
	d := &descriptor.Deployment{
		Source: "builtin-bootstrap",
		Beans: []descriptor.Bean{
			{
				Name:        "MainDeployer",
				Class:       deployer.MainDeployerType,
				Constructor: &descriptor.Constructor{Parameters: kernelRef},
				Callbacks: []descriptor.Callback{
					{Kind: descriptor.Incallback, Method: "AddDeployer"},
					{Kind: descriptor.Uncallback, Method: "RemoveDeployer"},
				},
			},
			{
				Name:  "HotDeployer",
				Class: deployer.HotDeployerType,
				Constructor: &descriptor.Constructor{
					Parameters: []descriptor.Value{descriptor.InjectBean("MainDeployer")},
				},
				Properties: []descriptor.Property{
					{Name: "directory", Value: descriptor.Literal(cfg.DeployDirectory)},
					{Name: "schedule", Value: descriptor.Literal(cfg.ScanSchedule)},
					{Name: "watch", Value: descriptor.Literal(strconv.FormatBool(cfg.WatchFilesystem))},
				},
			},
		},
	}
	if cfg.StatusAddress != "" {
		d.Beans = append(d.Beans, descriptor.Bean{
			Name:        "StatusServer",
			Class:       status.ServerType,
			Constructor: &descriptor.Constructor{Parameters: kernelRef},
			Properties: []descriptor.Property{
				{Name: "address", Value: descriptor.Literal(cfg.StatusAddress)},
			},
		})
	}
	return d, nil
}
