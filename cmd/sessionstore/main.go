package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/secure-session-store/internal/config"
	"github.com/sandeepkv93/secure-session-store/internal/di"
	"github.com/sandeepkv93/secure-session-store/internal/tools/admin"
	"github.com/sandeepkv93/secure-session-store/internal/tools/common"
	"github.com/sandeepkv93/secure-session-store/internal/tools/loadgen"
)

const appName = "sessionstore"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Server-side session store",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before configuration")
	cmd.AddCommand(newServeCommand(), admin.NewRootCommand(), loadgen.NewRootCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP session API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !quiet {
				figure.NewFigure(appName, "cybermedium", true).Print()
				fmt.Println()
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := di.InitializeApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			return application.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "skip the startup banner")
	return cmd
}
