package canonical

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"
)

func (e *Encoder) encodeSilver(ev marketevent.Event, meta marketevent.PublishMeta) []Record {
	var payloads [][]byte

	switch v := ev.(type) {
	case marketevent.Trade:
		payloads = [][]byte{silverTrade(v.Header, v.ID, v.Price, v.Amount, v.Side)}
	case marketevent.Liquidation:
		payloads = [][]byte{silverTrade(v.Header, v.ID, v.Price, v.Amount, v.Side)}
	case marketevent.BookChange:
		payloads = silverBookChange(v)
	case marketevent.BookSnapshot:
		payloads = [][]byte{silverBookSnapshot(v)}
	case marketevent.Quote:
		payloads = [][]byte{silverQuote(v.Header, v.BidPrice, v.BidAmount, v.AskPrice, v.AskAmount)}
	case marketevent.BookTicker:
		payloads = [][]byte{silverQuote(v.Header, v.BidPrice, v.BidAmount, v.AskPrice, v.AskAmount)}
	case marketevent.DerivativeTicker:
		payloads = [][]byte{silverDerivativeTicker(v)}
	case marketevent.OptionSummary:
		payloads = [][]byte{silverOptionSummary(v)}
	case marketevent.TradeBar:
		payloads = [][]byte{silverTradeBar(v)}
	default:
		// Disconnect and ControlError have no Silver representation.
		return nil
	}

	return e.newRecords(ev, meta, nil, payloads...)
}

func silverTrade(h marketevent.Header, id string, price, amount float64, side marketevent.Side) []byte {
	var m message
	m.header(h.Exchange, h.Symbol, h.Timestamp, h.LocalTimestamp)
	m.str(5, id)
	m.sint(6, e8(price))
	m.sint(7, e8(amount))
	m.varint(8, sideValue(side))
	return m.bytes()
}

func silverBookChange(v marketevent.BookChange) [][]byte {
	seq, hasSeq := ParseSequence(v.Sequence)
	level := func(side, action int64, price, amount float64) []byte {
		var m message
		m.header(v.Exchange, v.Symbol, v.Timestamp, v.LocalTimestamp)
		m.boolean(5, v.IsSnapshot)
		m.varint(6, side)
		m.varint(7, action)
		m.sint(8, e8(price))
		m.sint(9, e8(amount))
		if hasSeq {
			m.uvarint(10, seq)
		}
		return m.bytes()
	}

	if len(v.Bids)+len(v.Asks) == 0 {
		return [][]byte{level(sideUnspecified, actionUnspecified, 0, 0)}
	}
	out := make([][]byte, 0, len(v.Bids)+len(v.Asks))
	for _, l := range v.Bids {
		out = append(out, level(sideBuy, actionFor(l.Amount), l.Price, l.Amount))
	}
	for _, l := range v.Asks {
		out = append(out, level(sideSell, actionFor(l.Amount), l.Price, l.Amount))
	}
	return out
}

func silverLevels(m *message, n protowire.Number, levels []marketevent.BookLevel) {
	for _, l := range levels {
		var lm message
		lm.sint(1, e8(l.Price))
		lm.sint(2, e8(l.Amount))
		m.embed(n, lm.bytes())
	}
}

func silverBookSnapshot(v marketevent.BookSnapshot) []byte {
	var m message
	m.header(v.Exchange, v.Symbol, v.Timestamp, v.LocalTimestamp)
	m.str(5, v.Name)
	m.varint(6, int64(v.Depth))
	m.varint(7, v.Interval.Milliseconds())
	silverLevels(&m, 8, v.Bids)
	silverLevels(&m, 9, v.Asks)
	removeCrossed := true
	if v.RemoveCrossedLevels != nil {
		removeCrossed = *v.RemoveCrossedLevels
	}
	m.boolean(10, removeCrossed)
	if seq, ok := ParseSequence(v.Sequence); ok {
		m.uvarint(11, seq)
	}
	if v.Grouping != nil {
		m.sint(12, e8(*v.Grouping))
	}
	return m.bytes()
}

func silverQuote(h marketevent.Header, bidPrice, bidAmount, askPrice, askAmount float64) []byte {
	var m message
	m.header(h.Exchange, h.Symbol, h.Timestamp, h.LocalTimestamp)
	m.sint(5, e8(bidPrice))
	m.sint(6, e8(bidAmount))
	m.sint(7, e8(askPrice))
	m.sint(8, e8(askAmount))
	return m.bytes()
}

func silverDerivativeTicker(v marketevent.DerivativeTicker) []byte {
	var m message
	m.header(v.Exchange, v.Symbol, v.Timestamp, v.LocalTimestamp)
	m.sint(5, e8(v.LastPrice))
	m.sint(6, e8(v.OpenInterest))
	m.sint(7, e9(v.FundingRate))
	m.sint(8, e8(v.IndexPrice))
	m.sint(9, e8(v.MarkPrice))
	m.sint(10, e9(v.PredictedFundingRate))
	m.timestamp(11, v.FundingTimestamp)
	return m.bytes()
}

func silverOptionSummary(v marketevent.OptionSummary) []byte {
	var m message
	m.header(v.Exchange, v.Symbol, v.Timestamp, v.LocalTimestamp)
	m.varint(5, optionTypeValue(v.OptionType))
	m.sint(6, e8(v.StrikePrice))
	m.timestamp(7, v.ExpirationDate)
	m.sint(8, e8(v.BestBidPrice))
	m.sint(9, e8(v.BestBidAmount))
	m.sint(10, e6(v.BestBidIV))
	m.sint(11, e8(v.BestAskPrice))
	m.sint(12, e8(v.BestAskAmount))
	m.sint(13, e6(v.BestAskIV))
	m.sint(14, e8(v.LastPrice))
	m.sint(15, e8(v.OpenInterest))
	m.sint(16, e8(v.MarkPrice))
	m.sint(17, e6(v.MarkIV))
	m.sint(18, e9(v.Delta))
	m.sint(19, e9(v.Gamma))
	m.sint(20, e9(v.Vega))
	m.sint(21, e9(v.Theta))
	m.sint(22, e9(v.Rho))
	m.sint(23, e8(v.UnderlyingPrice))
	m.str(24, v.UnderlyingIndex)
	return m.bytes()
}

func silverTradeBar(v marketevent.TradeBar) []byte {
	var m message
	m.header(v.Exchange, v.Symbol, v.Timestamp, v.LocalTimestamp)
	m.str(5, v.Name)
	m.varint(6, v.Interval)
	m.str(7, v.BarKind)
	m.sint(8, e8(v.Open))
	m.sint(9, e8(v.High))
	m.sint(10, e8(v.Low))
	m.sint(11, e8(v.Close))
	m.sint(12, e8(v.Volume))
	m.sint(13, e8(v.BuyVolume))
	m.sint(14, e8(v.SellVolume))
	m.varint(15, v.Trades)
	m.sint(16, e8(v.VWAP))
	m.timestamp(17, v.OpenTimestamp)
	m.timestamp(18, v.CloseTimestamp)
	return m.bytes()
}

// ParseSequence converts a venue sequence number to uint64. Negative,
// fractional, oversized and unparsable values report false.
func ParseSequence(v any) (uint64, bool) {
	switch s := v.(type) {
	case nil:
		return 0, false
	case int:
		return nonNegative(int64(s))
	case int32:
		return nonNegative(int64(s))
	case int64:
		return nonNegative(s)
	case uint:
		return uint64(s), true
	case uint32:
		return uint64(s), true
	case uint64:
		return s, true
	case float64:
		if s < 0 || s != math.Trunc(s) || s >= math.MaxUint64 || math.IsNaN(s) {
			return 0, false
		}
		return uint64(s), true
	case *big.Int:
		if s == nil || s.Sign() < 0 || !s.IsUint64() {
			return 0, false
		}
		return s.Uint64(), true
	case json.Number:
		return parseUintString(string(s))
	case string:
		return parseUintString(s)
	default:
		return 0, false
	}
}

func nonNegative(v int64) (uint64, bool) {
	if v < 0 {
		return 0, false
	}
	return uint64(v), true
}

func parseUintString(s string) (uint64, bool) {
	u, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return u, true
}
