package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"signing-relay/internal/adapter/exchange"
	"signing-relay/internal/canonical"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to the signing service and the exchange",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			rtt, err := a.signer.Ping(cmd.Context())
			if err != nil {
				return fmt.Errorf("signer %s: %w", a.cfg.Client.SignerAddr(), err)
			}
			fmt.Fprintf(out, "signer    %s  ok  %s\n", a.cfg.Client.SignerAddr(), rtt.Round(time.Microsecond))

			rtt, err = a.exchange.Ping(cmd.Context())
			if err != nil {
				return fmt.Errorf("exchange %s: %w", a.cfg.Exchange.BaseURL, err)
			}
			serverTime, err := a.exchange.ServerTime(cmd.Context())
			if err != nil {
				return fmt.Errorf("exchange %s: %w", a.cfg.Exchange.BaseURL, err)
			}
			fmt.Fprintf(out, "exchange  %s  ok  %s  server time %s\n", a.cfg.Exchange.BaseURL, rtt.Round(time.Microsecond), formatMillis(serverTime))
			return nil
		},
	}
}

func newSignCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "sign key=value...",
		Short:   "Canonicalize parameters and ask the signing service to sign them",
		Example: "trader sign symbol=BTCUSDT side=BUY type=LIMIT quantity=0.001 price=50000 timestamp=1690000000000",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseKeyValues(args)
			if err != nil {
				return err
			}
			s, err := canonical.Canonicalize(params)
			if err != nil {
				return err
			}
			sig, err := a.signer.RequestSignature(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "canonical: %s\nsignature: %s\n", s, sig)
			return nil
		},
	}
}

// parseKeyValues turns key=value arguments into parameters, in argument order.
func parseKeyValues(args []string) (canonical.Params, error) {
	params := make(canonical.Params, 0, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", arg)
		}
		params = append(params, canonical.Param{Key: k, Value: v})
	}
	return params, nil
}

func newPriceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "price <symbol>",
		Short: "Show the latest price of a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tp, err := a.exchange.TickerPrice(cmd.Context(), strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", tp.Symbol, tp.Price)
			return nil
		},
	}
}

func newAccountCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show account permissions and non-zero balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.exchange.Account(cmd.Context())
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), acct, all)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include zero balances")
	return cmd
}

func printAccount(w io.Writer, acct *exchange.Account, all bool) {
	fmt.Fprintf(w, "type: %s  trade: %t  withdraw: %t  deposit: %t  updated: %s\n",
		acct.AccountType, acct.CanTrade, acct.CanWithdraw, acct.CanDeposit, formatMillis(acct.UpdateTime))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tFREE\tLOCKED")
	for _, b := range acct.Balances {
		if !all && b.Free.IsZero() && b.Locked.IsZero() {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Asset, b.Free, b.Locked)
	}
	tw.Flush()
}

func newBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <asset>",
		Short: "Show the free and locked balance of one asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.exchange.AssetBalance(cmd.Context(), strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s free=%s locked=%s\n", b.Asset, b.Free, b.Locked)
			return nil
		},
	}
}

type orderFlags struct {
	symbol    string
	side      string
	orderType string
	quantity  string
	quoteQty  string
	price     string
	stopPrice string
	tif       string
	clientID  string
	test      bool
}

func newOrderCmd(a *app) *cobra.Command {
	var f orderFlags

	cmd := &cobra.Command{
		Use:     "order",
		Short:   "Place a new order",
		Example: "trader order --symbol BTCUSDT --side BUY --type LIMIT --quantity 0.001 --price 50000 --tif GTC",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildOrderRequest(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if f.test {
				if err := a.exchange.TestOrder(cmd.Context(), req); err != nil {
					return err
				}
				fmt.Fprintln(out, "test order accepted")
				return nil
			}

			order, err := a.exchange.CreateOrder(cmd.Context(), req)
			if err != nil {
				return err
			}
			printOrders(out, []exchange.Order{*order})
			return nil
		},
	}
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "trading pair, e.g. BTCUSDT")
	cmd.Flags().StringVar(&f.side, "side", "", "BUY or SELL")
	cmd.Flags().StringVar(&f.orderType, "type", exchange.OrderTypeLimit, "order type")
	cmd.Flags().StringVar(&f.quantity, "quantity", "", "base asset quantity")
	cmd.Flags().StringVar(&f.quoteQty, "quote-qty", "", "quote asset quantity (MARKET only)")
	cmd.Flags().StringVar(&f.price, "price", "", "limit price")
	cmd.Flags().StringVar(&f.stopPrice, "stop-price", "", "stop price")
	cmd.Flags().StringVar(&f.tif, "tif", "", "time in force: GTC, IOC or FOK")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "client order ID")
	cmd.Flags().BoolVar(&f.test, "test", false, "validate only, do not place the order")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("side")
	return cmd
}

func buildOrderRequest(f orderFlags) (exchange.OrderRequest, error) {
	req := exchange.OrderRequest{
		Symbol:           strings.ToUpper(f.symbol),
		Side:             strings.ToUpper(f.side),
		Type:             strings.ToUpper(f.orderType),
		TimeInForce:      strings.ToUpper(f.tif),
		NewClientOrderID: f.clientID,
	}
	if req.Symbol == "" {
		return req, fmt.Errorf("--symbol is required")
	}
	if req.Side != exchange.SideBuy && req.Side != exchange.SideSell {
		return req, fmt.Errorf("--side must be BUY or SELL, got %q", f.side)
	}

	var err error
	if req.Quantity, err = parseDecimalFlag("quantity", f.quantity); err != nil {
		return req, err
	}
	if req.QuoteOrderQty, err = parseDecimalFlag("quote-qty", f.quoteQty); err != nil {
		return req, err
	}
	if req.Price, err = parseDecimalFlag("price", f.price); err != nil {
		return req, err
	}
	if req.StopPrice, err = parseDecimalFlag("stop-price", f.stopPrice); err != nil {
		return req, err
	}

	if req.Quantity == nil && req.QuoteOrderQty == nil {
		return req, fmt.Errorf("one of --quantity or --quote-qty is required")
	}
	switch req.Type {
	case exchange.OrderTypeLimit, exchange.OrderTypeStopLossLimit, exchange.OrderTypeTakeProfitLimit:
		if req.Price == nil {
			return req, fmt.Errorf("--price is required for %s orders", req.Type)
		}
		if req.TimeInForce == "" {
			req.TimeInForce = exchange.TimeInForceGTC
		}
	case exchange.OrderTypeLimitMaker:
		if req.Price == nil {
			return req, fmt.Errorf("--price is required for %s orders", req.Type)
		}
	}
	return req, nil
}

func parseDecimalFlag(name, value string) (*decimal.Decimal, error) {
	if value == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("--%s must be positive, got %s", name, value)
	}
	return &d, nil
}

func newCancelCmd(a *app) *cobra.Command {
	var (
		symbol  string
		orderID int64
		all     bool
	)

	cmd := &cobra.Command{
		Use:     "cancel",
		Short:   "Cancel an open order, or every open order on a symbol",
		Example: "trader cancel --symbol BTCUSDT --order-id 28\ntrader cancel --symbol BTCUSDT --all",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol = strings.ToUpper(symbol)
			if all {
				orders, err := a.exchange.CancelOpenOrders(cmd.Context(), symbol)
				if err != nil {
					return err
				}
				printOrders(cmd.OutOrStdout(), orders)
				return nil
			}
			if orderID <= 0 {
				return fmt.Errorf("--order-id or --all is required")
			}
			order, err := a.exchange.CancelOrder(cmd.Context(), symbol, orderID)
			if err != nil {
				return err
			}
			printOrders(cmd.OutOrStdout(), []exchange.Order{*order})
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "trading pair, e.g. BTCUSDT")
	cmd.Flags().Int64Var(&orderID, "order-id", 0, "exchange order ID")
	cmd.Flags().BoolVar(&all, "all", false, "cancel every open order on the symbol")
	cmd.MarkFlagRequired("symbol")
	return cmd
}

func newOpenOrdersCmd(a *app) *cobra.Command {
	var symbol string

	cmd := &cobra.Command{
		Use:   "open-orders",
		Short: "List open orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := a.exchange.OpenOrders(cmd.Context(), strings.ToUpper(symbol))
			if err != nil {
				return err
			}
			printOrders(cmd.OutOrStdout(), orders)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "only orders on this pair")
	return cmd
}

func printOrders(w io.Writer, orders []exchange.Order) {
	if len(orders) == 0 {
		fmt.Fprintln(w, "no orders")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER ID\tSYMBOL\tSIDE\tTYPE\tPRICE\tQTY\tFILLED\tSTATUS")
	for _, o := range orders {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.OrderID, o.Symbol, o.Side, o.Type, o.Price, o.OrigQty, o.ExecutedQty, o.Status)
	}
	tw.Flush()
}
