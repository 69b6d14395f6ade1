package main

import (
	"fmt"
	"time"

	"signing-relay/config"
	"signing-relay/internal/adapter/exchange"
	"signing-relay/internal/adapter/tcp"
	"signing-relay/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds the clients shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	signer   *tcp.Client
	exchange *exchange.Client
}

func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	framing, err := tcp.ParseFraming(cfg.Client.Framing)
	if err != nil {
		return nil, err
	}
	signer := tcp.NewClient(tcp.ClientConfig{
		Addr:           cfg.Client.SignerAddr(),
		DialTimeout:    cfg.Client.DialTimeout,
		IOTimeout:      cfg.Client.IOTimeout,
		Framing:        framing,
		MaxMessageSize: cfg.Client.MaxMessageSize,
	})
	ex := exchange.NewClient(exchange.Config{
		BaseURL:     cfg.Exchange.BaseURL,
		APIKey:      cfg.Exchange.APIKey,
		RecvWindow:  cfg.Exchange.RecvWindow,
		Timeout:     cfg.Exchange.Timeout,
		SignRetries: cfg.Exchange.SignRetries,
	}, nil, signer, logger.Component(log, "exchange"))

	return &app{cfg: cfg, log: log, signer: signer, exchange: ex}, nil
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		a       = new(app)
	)

	root := &cobra.Command{
		Use:           "trader",
		Short:         "Trade on the exchange with signatures from the remote signer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			built, err := newApp(cfg, logger.New(cfg.Log.Level, cfg.Log.Pretty))
			if err != nil {
				return err
			}
			*a = *built
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config.yaml or ./config/config.yaml)")

	root.AddCommand(
		newPingCmd(a),
		newSignCmd(a),
		newPriceCmd(a),
		newAccountCmd(a),
		newBalanceCmd(a),
		newOrderCmd(a),
		newCancelCmd(a),
		newOpenOrdersCmd(a),
	)
	return root
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format(time.DateTime)
}
