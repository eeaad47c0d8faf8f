// Package cmd implements the kernel command line.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/kernel"
	"github.com/GoCodeAlone/kernel/deployer"
	"github.com/GoCodeAlone/kernel/feeders"
	"github.com/GoCodeAlone/kernel/logging"
	"github.com/GoCodeAlone/kernel/status"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// EnvPrefix prefixes the environment variables read into kernel.Config.
const EnvPrefix = "KERNEL"

type options struct {
	configFile string
	envFile    string
	logLevel   string
	devLog     bool
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "kernel",
		Short:         "Bean activation kernel",
		Long:          `kernel deploys bean descriptors, keeps a deploy directory in sync and serves the kernel status.`,
		Version:       fmt.Sprintf("%s (commit: %s, built on: %s)", Version, Commit, Date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "configuration file (yaml, toml or json)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with KERNEL_* settings and substitution properties")
	flags.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	flags.BoolVar(&opts.devLog, "dev-log", false, "human-readable log output")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newConfigCommand())
	return cmd
}

// loadConfig builds the configuration from the config file, the dotenv file
// and the environment, in that order of precedence from lowest to highest.
// Every dotenv entry also becomes a substitution property.
func loadConfig(opts *options) (*kernel.Config, error) {
	cfg := &kernel.Config{}
	var sources []feeders.Feeder
	if opts.configFile != "" {
		f, err := feeders.ForFile(opts.configFile)
		if err != nil {
			return nil, err
		}
		sources = append(sources, f)
	}

	var dotenv map[string]string
	if opts.envFile != "" {
		vars, err := godotenv.Read(opts.envFile)
		switch {
		case err == nil:
			dotenv = vars
			sources = append(sources, feeders.NewDotEnvFeeder(opts.envFile, EnvPrefix))
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read %s: %w", opts.envFile, err)
		}
	}
	sources = append(sources, feeders.NewAffixedEnvFeeder(EnvPrefix, ""))

	if err := feeders.Feed(cfg, sources...); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(dotenv) > 0 && cfg.Properties == nil {
		cfg.Properties = make(map[string]string, len(dotenv))
	}
	for k, v := range dotenv {
		if _, set := cfg.Properties[k]; !set {
			cfg.Properties[k] = v
		}
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := kernel.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newKernel creates a kernel with the deployer and status bean types
// registered.
func newKernel(cfg *kernel.Config, logger kernel.Logger) (*kernel.Kernel, error) {
	types := kernel.NewTypeRegistry()
	if err := deployer.Register(types); err != nil {
		return nil, err
	}
	if err := status.Register(types); err != nil {
		return nil, err
	}
	return kernel.New(types, kernel.WithConfig(cfg), kernel.WithLogger(logger))
}

func newLogger(cfg *kernel.Config, opts *options) (*logging.ZapLogger, error) {
	return logging.New(cfg.LogLevel, opts.devLog)
}

// fileExists reports whether path names an existing file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
