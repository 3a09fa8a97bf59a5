// Package cli implements the giftvault command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/giftvault/giftvault/internal/app"
	"github.com/giftvault/giftvault/internal/config"
	"github.com/giftvault/giftvault/internal/logging"
	"github.com/giftvault/giftvault/internal/security"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// skipConfig marks commands that run without a config file.
const skipConfig = "skip-config"

var (
	configPath string
	loaded     *config.Config
	logCloser  io.Closer
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "giftvault",
		Short:         "Gift card value ledger and redemption engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			conf, err := app.LoadConfig(config.AppConfig{ConfigPath: configPath})
			if err != nil {
				return err
			}
			closer, errLog := logging.Setup(conf.Logging)
			if errLog != nil {
				return errLog
			}
			loaded, logCloser = conf, closer
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default $GIFTVAULT_CONFIG or ./config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(breakageCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(hashKeyCmd())
	return root
}

// Execute runs the command tree.
func Execute(version string) error {
	root := newRootCmd()
	root.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.RunServer(cmd.Context(), loaded)
		},
	}
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "hash-key <key>",
		Short:       "Print a bcrypt hash for server.admin_api_keys",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := security.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.Migrate(cmd.Context(), loaded); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}
