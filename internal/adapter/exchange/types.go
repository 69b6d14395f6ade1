package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit           = "LIMIT"
	OrderTypeMarket          = "MARKET"
	OrderTypeStopLoss        = "STOP_LOSS"
	OrderTypeStopLossLimit   = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfit      = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit = "TAKE_PROFIT_LIMIT"
	OrderTypeLimitMaker      = "LIMIT_MAKER"

	TimeInForceGTC = "GTC"
	TimeInForceIOC = "IOC"
	TimeInForceFOK = "FOK"
)

// Exchange error codes the trading logic branches on.
const (
	CodeFilterFailure       = -1013 // e.g. MIN_NOTIONAL
	CodeInsufficientBalance = -2010
)

// APIError is a non-2xx reply from the exchange.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status=%d code=%d: %s", e.Status, e.Code, e.Msg)
}

// OrderRequest describes a new order. Nil or empty optional fields are omitted.
type OrderRequest struct {
	Symbol           string
	Side             string
	Type             string
	TimeInForce      string
	Quantity         *decimal.Decimal
	QuoteOrderQty    *decimal.Decimal
	Price            *decimal.Decimal
	StopPrice        *decimal.Decimal
	NewClientOrderID string
}

type ServerTime struct {
	ServerTime int64 `json:"serverTime"`
}

type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

type Account struct {
	MakerCommission int64     `json:"makerCommission"`
	TakerCommission int64     `json:"takerCommission"`
	CanTrade        bool      `json:"canTrade"`
	CanWithdraw     bool      `json:"canWithdraw"`
	CanDeposit      bool      `json:"canDeposit"`
	UpdateTime      int64     `json:"updateTime"`
	AccountType     string    `json:"accountType"`
	Balances        []Balance `json:"balances"`
}

// Balance returns the balance of asset, or false if the account holds none.
func (a *Account) Balance(asset string) (Balance, bool) {
	for _, b := range a.Balances {
		if b.Asset == asset {
			return b, true
		}
	}
	return Balance{}, false
}

type Fill struct {
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
}

type Order struct {
	Symbol              string          `json:"symbol"`
	OrderID             int64           `json:"orderId"`
	ClientOrderID       string          `json:"clientOrderId"`
	TransactTime        int64           `json:"transactTime,omitempty"`
	Time                int64           `json:"time,omitempty"`
	Price               decimal.Decimal `json:"price"`
	OrigQty             decimal.Decimal `json:"origQty"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Status              string          `json:"status"`
	TimeInForce         string          `json:"timeInForce"`
	Type                string          `json:"type"`
	Side                string          `json:"side"`
	Fills               []Fill          `json:"fills,omitempty"`
}

type TickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}
