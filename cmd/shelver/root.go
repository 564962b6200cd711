package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/shelver/internal/config"
	"github.com/JonMunkholm/shelver/internal/logging"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var envFlag string

	ctx := newCommandContext(&configFlag, &envFlag)

	rootCmd := &cobra.Command{
		Use:           "shelver",
		Short:         "Bulk book intake, enrichment and shelf placement",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML configuration file (default $"+config.ConfigFileEnv+")")
	rootCmd.PersistentFlags().StringVar(&envFlag, "env-file", ".env", "dotenv file loaded before configuration")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newIngestCommand(ctx))
	rootCmd.AddCommand(newCapacityCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

type commandContext struct {
	configFlag *string
	envFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, envFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, envFlag: envFlag}
}

// ensureConfig loads the dotenv file, then configuration, then installs
// the configured logger. It runs once per process.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.loadEnvFile()

		path := os.Getenv(config.ConfigFileEnv)
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadFile(path)
		if err != nil {
			c.configErr = err
			return
		}
		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
		c.config = cfg
	})
	return c.config, c.configErr
}

// loadEnvFile overlays the dotenv file onto the environment. A missing
// file is normal outside development.
func (c *commandContext) loadEnvFile() {
	name := ".env"
	if c.envFlag != nil {
		name = strings.TrimSpace(*c.envFlag)
	}
	if name == "" {
		return
	}
	if err := godotenv.Overload(name); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not load env file", "path", name, "error", err)
		}
		return
	}
	slog.Debug("loaded env file", "path", name)
}

func (c *commandContext) configValue() (*config.Config, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
