// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepdriver/internal/config"
	"github.com/xkilldash9x/stepdriver/internal/observability"
)

// app carries state shared by the subcommands of one root command. Each
// NewRootCommand call gets its own, so tests do not leak flags or config.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "stepdriver",
		Short: "stepdriver runs natural-language test steps against a browser.",
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initializeConfig(cmd); err != nil {
				// Make sure the failure is visible even without a configured logger.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "stepdriver"})
				return err
			}
			observability.InitializeLogger(a.cfg.Logger())
			observability.GetLogger().Debug("Starting stepdriver", zap.String("version", Version))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newParseCmd(a))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the root command with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Warn("Command aborted.")
		return err
	}
	if errors.Is(err, errScenarioFailed) {
		// The report already says what failed.
		return err
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	observability.GetLogger().Error("Command execution failed", zap.Error(err))
	return err
}

// initializeConfig reads the config file and STEPDRIVER_* environment
// variables, then applies flag overrides bound by the subcommand.
func (a *app) initializeConfig(cmd *cobra.Command) error {
	v := a.v
	config.SetDefaults(v)

	if a.cfgFile != "" {
		path, err := homedir.Expand(a.cfgFile)
		if err != nil {
			return fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("STEPDRIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	if bind, ok := flagBindings[cmd.Name()]; ok {
		for key, flag := range bind {
			if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return fmt.Errorf("failed to bind --%s: %w", flag, err)
				}
			}
		}
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// flagBindings maps, per subcommand, config keys to the flags that override them.
var flagBindings = map[string]map[string]string{
	"run": {
		"browser.driver":            "driver",
		"browser.headless":          "headless",
		"browser.concurrency":       "concurrency",
		"pipeline.ambiguity_policy": "ambiguity",
		"pipeline.step_timeout":     "step-timeout",
		"parser.suggester_enabled":  "suggest",
		"metrics.enabled":           "metrics",
	},
	"parse": {
		"parser.suggester_enabled": "suggest",
	},
}
