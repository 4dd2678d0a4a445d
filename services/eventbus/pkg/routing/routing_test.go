package routing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
)

func TestNormalizeKind(t *testing.T) {
	for _, in := range []string{"bookChange", "book_change", "Book-Change", " BOOK.CHANGE "} {
		assert.Equal(t, "bookchange", NormalizeKind(in), in)
	}
}

func TestTable_Resolve(t *testing.T) {
	_, err := NewTable("  ", nil)
	require.Error(t, err)

	tbl, err := NewTable("market", map[string]string{"book_change": "books", "trade": "trades"})
	require.NoError(t, err)
	assert.Equal(t, "books", tbl.Resolve("bookChange"))
	assert.Equal(t, "trades", tbl.Resolve("trade"))
	assert.Equal(t, "market", tbl.Resolve("quote"))
	assert.ElementsMatch(t, []string{"market", "books", "trades"}, tbl.Destinations())
}

func TestTable_GroupPreservesOrder(t *testing.T) {
	tbl, err := NewTable("base", map[string]string{"trade": "trades"})
	require.NoError(t, err)

	recs := []canonical.Record{
		{Kind: "quote", Key: "q1"},
		{Kind: "trade", Key: "t1"},
		{Kind: "quote", Key: "q2"},
		{Kind: "trade", Key: "t2"},
		{Kind: "trade", Key: "t3"},
	}
	groups := tbl.Group(recs)
	require.Len(t, groups, 2)
	assert.Equal(t, "base", groups[0].Destination)
	assert.Equal(t, "trades", groups[1].Destination)
	assert.Equal(t, []string{"q1", "q2"}, keys(groups[0].Records))
	assert.Equal(t, []string{"t1", "t2", "t3"}, keys(groups[1].Records))

	assert.Nil(t, tbl.Group(nil))
}

func TestFilter(t *testing.T) {
	var f *Filter
	assert.True(t, f.Allows("anything"))
	assert.Nil(t, NewFilter(nil))

	f = NewFilter([]string{"trade", "book_change"})
	assert.True(t, f.Allows("bookChange"))
	assert.True(t, f.Allows("trade"))
	assert.False(t, f.Allows("quote"))
}

func TestParseKindList(t *testing.T) {
	got, err := ParseKindList("trade, Book-Change,trade,,", canonical.FormatBronze)
	require.NoError(t, err)
	assert.Equal(t, []string{"trade", "bookChange"}, got)

	got, err = ParseKindList("book_change,derivativeTicker", canonical.FormatSilver)
	require.NoError(t, err)
	assert.Equal(t, []string{"book_change", "derivative_ticker"}, got)

	empty, err := ParseKindList("", canonical.FormatSilver)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseKindList_AggregateError(t *testing.T) {
	_, err := ParseKindList("trade,bogus,disconnect,alsoBad", canonical.FormatSilver)
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 3)
	for _, tok := range []string{"bogus", "disconnect", "alsoBad"} {
		assert.True(t, strings.Contains(err.Error(), tok), "error should name %q: %v", tok, err)
	}
	var ik *InvalidKindError
	assert.True(t, errors.As(errs[0], &ik))
	assert.Equal(t, "bogus", ik.Token)

	_, err = ParseKindList("disconnect", canonical.FormatBronze)
	assert.NoError(t, err)
}

func TestParseDestinationOverrides(t *testing.T) {
	got, err := ParseDestinationOverrides("trade:trades, bookChange : books,quote:q", canonical.FormatBronze)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"trade": "trades", "bookChange": "books", "quote": "q"}, got)

	_, err = ParseDestinationOverrides("trade,nope:x,quote:,trade:a,trade:b", canonical.FormatBronze)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 4)
	for _, tok := range []string{`"trade"`, `"nope"`, `"quote:"`, `"trade:b"`} {
		assert.Contains(t, err.Error(), tok)
	}
}

func keys(recs []canonical.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key
	}
	return out
}
