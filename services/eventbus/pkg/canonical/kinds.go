package canonical

import "github.com/YaganovValera/eventbus/services/eventbus/pkg/marketevent"

var bronzeCases = map[marketevent.Kind]string{
	marketevent.KindTrade:               "trade",
	marketevent.KindBookChange:          "bookChange",
	marketevent.KindBookSnapshot:        "bookSnapshot",
	marketevent.KindGroupedBookSnapshot: "groupedBookSnapshot",
	marketevent.KindQuote:               "quote",
	marketevent.KindDerivativeTicker:    "derivativeTicker",
	marketevent.KindLiquidation:         "liquidation",
	marketevent.KindOptionSummary:       "optionSummary",
	marketevent.KindBookTicker:          "bookTicker",
	marketevent.KindTradeBar:            "tradeBar",
	marketevent.KindDisconnect:          "disconnect",
	marketevent.KindError:               "error",
}

var silverTypes = map[marketevent.Kind]string{
	marketevent.KindTrade:               "trade",
	marketevent.KindBookChange:          "book_change",
	marketevent.KindBookSnapshot:        "book_snapshot",
	marketevent.KindGroupedBookSnapshot: "grouped_book_snapshot",
	marketevent.KindQuote:               "quote",
	marketevent.KindDerivativeTicker:    "derivative_ticker",
	marketevent.KindLiquidation:         "liquidation",
	marketevent.KindOptionSummary:       "option_summary",
	marketevent.KindBookTicker:          "book_ticker",
	marketevent.KindTradeBar:            "trade_bar",
}

// KindTag returns the payload case (Bronze) or record type (Silver) of k,
// or "" when the format has no such record.
func KindTag(f Format, k marketevent.Kind) string {
	switch f {
	case FormatBronze:
		return bronzeCases[k]
	case FormatSilver:
		return silverTypes[k]
	}
	return ""
}

// KindTags lists every record kind of f in declaration order.
func KindTags(f Format) []string {
	var out []string
	for k := marketevent.KindTrade; k <= marketevent.KindError; k++ {
		if tag := KindTag(f, k); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
