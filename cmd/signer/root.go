package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"signing-relay/config"
	"signing-relay/internal/adapter/terminal"
	"signing-relay/pkg/logger"

	"github.com/spf13/cobra"
)

const serveCmdExample = `# Provision the vault on first launch, then serve
signer
signer serve --config /etc/signer/config.yaml`

func newRootCmd() *cobra.Command {
	var cfgPath string

	serve := func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, cfg, terminal.NewStdPrompter(), cmd.OutOrStdout(), log)
	}

	root := &cobra.Command{
		Use:           "signer",
		Short:         "Serve exchange request signatures from the custody host",
		Long:          "Opens the password-protected vault and signs canonical request strings for allowlisted trading hosts. Without a vault file it provisions one and exits.",
		Example:       serveCmdExample,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config.yaml or ./config/config.yaml)")

	root.AddCommand(&cobra.Command{
		Use:     "serve",
		Short:   "Open the vault and serve signatures (default)",
		Example: serveCmdExample,
		Args:    cobra.NoArgs,
		RunE:    serve,
	})
	root.AddCommand(newAuditCmd())

	root.SetContext(context.Background())
	return root
}
