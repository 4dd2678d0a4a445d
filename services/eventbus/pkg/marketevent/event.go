// Package marketevent defines the normalized market events accepted by the
// publishing pipeline. Events are immutable values produced by a source
// (realtime feed, replay) and consumed once by the canonical encoder.
package marketevent

import (
	"time"
)

// Kind discriminates the closed set of Event variants.
type Kind int

const (
	KindUnknown Kind = iota
	KindTrade
	KindBookChange
	KindBookSnapshot
	KindGroupedBookSnapshot
	KindQuote
	KindDerivativeTicker
	KindLiquidation
	KindOptionSummary
	KindBookTicker
	KindTradeBar
	KindDisconnect
	KindError
)

var kindNames = [...]string{
	KindUnknown:             "unknown",
	KindTrade:               "trade",
	KindBookChange:          "book_change",
	KindBookSnapshot:        "book_snapshot",
	KindGroupedBookSnapshot: "grouped_book_snapshot",
	KindQuote:               "quote",
	KindDerivativeTicker:    "derivative_ticker",
	KindLiquidation:         "liquidation",
	KindOptionSummary:       "option_summary",
	KindBookTicker:          "book_ticker",
	KindTradeBar:            "trade_bar",
	KindDisconnect:          "disconnect",
	KindError:               "error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// Event is implemented by every market event variant in this package only.
type Event interface {
	Kind() Kind
	Venue() string
	Instrument() string
	EventTime() time.Time
	ReceiveTime() time.Time

	sealed()
}

// Header carries the fields common to every instrument-level event.
type Header struct {
	Exchange       string
	Symbol         string
	Timestamp      time.Time // exchange time
	LocalTimestamp time.Time // receive time
}

func (h Header) Venue() string          { return h.Exchange }
func (h Header) Instrument() string     { return h.Symbol }
func (h Header) EventTime() time.Time   { return h.Timestamp }
func (h Header) ReceiveTime() time.Time { return h.LocalTimestamp }
func (Header) sealed()                  {}

// Side of a trade, liquidation or book level.
type Side int

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// OptionType of an option instrument.
type OptionType int

const (
	OptionTypeUnknown OptionType = iota
	OptionTypePut
	OptionTypeCall
)

// BookLevel is a single price level; Amount == 0 removes the level.
type BookLevel struct {
	Price  float64
	Amount float64
}

// Trade is a single execution.
type Trade struct {
	Header
	ID     string
	Price  float64
	Amount float64
	Side   Side
}

func (Trade) Kind() Kind { return KindTrade }

// BookChange is an incremental order book update, or a full snapshot when
// IsSnapshot is set.
type BookChange struct {
	Header
	IsSnapshot bool
	Bids       []BookLevel
	Asks       []BookLevel
	// Sequence is the venue update id: int, int64, uint64, *big.Int,
	// string or json.Number. Nil when the venue does not provide one.
	Sequence any
}

func (BookChange) Kind() Kind { return KindBookChange }

// BookSnapshot is a periodically sampled top-N order book. It is a grouped
// snapshot when Grouping is set.
type BookSnapshot struct {
	Header
	Name     string
	Depth    int
	Interval time.Duration
	Bids     []BookLevel
	Asks     []BookLevel
	// Grouping is the price bucket size of a grouped snapshot.
	Grouping *float64
	// RemoveCrossedLevels is true when nil.
	RemoveCrossedLevels *bool
	Sequence            any
}

func (s BookSnapshot) Kind() Kind {
	if s.Grouping != nil {
		return KindGroupedBookSnapshot
	}
	return KindBookSnapshot
}

// Quote is the best bid/ask. Missing sides are NaN.
type Quote struct {
	Header
	BidPrice  float64
	BidAmount float64
	AskPrice  float64
	AskAmount float64
}

func (Quote) Kind() Kind { return KindQuote }

// BookTicker is the venue's own top-of-book stream. Missing values are NaN.
type BookTicker struct {
	Header
	BidPrice  float64
	BidAmount float64
	AskPrice  float64
	AskAmount float64
}

func (BookTicker) Kind() Kind { return KindBookTicker }

// DerivativeTicker describes perpetual/futures state. Missing values are NaN.
type DerivativeTicker struct {
	Header
	LastPrice            float64
	OpenInterest         float64
	FundingRate          float64
	IndexPrice           float64
	MarkPrice            float64
	PredictedFundingRate float64
	FundingTimestamp     time.Time
}

func (DerivativeTicker) Kind() Kind { return KindDerivativeTicker }

// Liquidation is a forced execution.
type Liquidation struct {
	Header
	ID     string
	Price  float64
	Amount float64
	Side   Side
}

func (Liquidation) Kind() Kind { return KindLiquidation }

// OptionSummary is the option chain state for one contract. Missing values
// are NaN.
type OptionSummary struct {
	Header
	OptionType      OptionType
	StrikePrice     float64
	ExpirationDate  time.Time
	BestBidPrice    float64
	BestBidAmount   float64
	BestBidIV       float64
	BestAskPrice    float64
	BestAskAmount   float64
	BestAskIV       float64
	LastPrice       float64
	OpenInterest    float64
	MarkPrice       float64
	MarkIV          float64
	Delta           float64
	Gamma           float64
	Vega            float64
	Theta           float64
	Rho             float64
	UnderlyingPrice float64
	UnderlyingIndex string
}

func (OptionSummary) Kind() Kind { return KindOptionSummary }

// TradeBar is an OHLCV aggregate over time, volume or tick count.
type TradeBar struct {
	Header
	Name           string
	BarKind        string // "time" | "volume" | "tick"
	Interval       int64  // ms for time bars, units otherwise
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         float64
	BuyVolume      float64
	SellVolume     float64
	Trades         int64
	VWAP           float64
	OpenTimestamp  time.Time
	CloseTimestamp time.Time
}

func (TradeBar) Kind() Kind { return KindTradeBar }

// Disconnect signals the loss of the upstream connection for an exchange.
type Disconnect struct {
	Exchange       string
	LocalTimestamp time.Time
}

func (Disconnect) Kind() Kind               { return KindDisconnect }
func (d Disconnect) Venue() string          { return d.Exchange }
func (Disconnect) Instrument() string       { return "" }
func (Disconnect) EventTime() time.Time     { return time.Time{} }
func (d Disconnect) ReceiveTime() time.Time { return d.LocalTimestamp }
func (Disconnect) sealed()                  {}

// ControlError reports a non-fatal upstream error.
type ControlError struct {
	Exchange       string
	LocalTimestamp time.Time
	Message        string
	Details        string
}

func (ControlError) Kind() Kind               { return KindError }
func (e ControlError) Venue() string          { return e.Exchange }
func (ControlError) Instrument() string       { return "" }
func (ControlError) EventTime() time.Time     { return time.Time{} }
func (e ControlError) ReceiveTime() time.Time { return e.LocalTimestamp }
func (ControlError) sealed()                  {}
