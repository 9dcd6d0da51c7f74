package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/charlesng35/sectionlock/internal/app"
	"github.com/charlesng35/sectionlock/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "collabctl",
	Short:         "Inspect and exercise section locks on a sectionlock server",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return logger.InitWithOptions(logger.Options{Level: viper.GetString("log_level"), Encoding: "console"})
	},
}

// Run executes CLI.
func Run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func init() {
	viper.SetEnvPrefix(app.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8000", "Base URL of the sectionlock server")
	flags.String("token", "", "Access token (defaults to $SECTIONLOCK_TOKEN)")
	flags.String("log-level", "warn", "Log level for client diagnostics")
	_ = viper.BindPFlag("server", flags.Lookup("server"))
	_ = viper.BindPFlag("token", flags.Lookup("token"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))

	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
}
