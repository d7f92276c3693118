package trades

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/ordercore/internal/domain"
)

type fakeValuer struct {
	holdings map[string]decimal.Decimal
}

func (f *fakeValuer) Value(reference string, price func(string) (decimal.Decimal, bool)) decimal.Decimal {
	total := decimal.Zero
	for asset, qty := range f.holdings {
		if asset == reference {
			total = total.Add(qty)
			continue
		}
		if px, ok := price(asset + "/" + reference); ok {
			total = total.Add(qty.Mul(px))
		}
	}
	return total
}

type fakeJournal struct {
	trades []domain.Trade
	err    error
}

func (j *fakeJournal) RecordTrade(_ context.Context, t domain.Trade) error {
	if j.err != nil {
		return j.err
	}
	j.trades = append(j.trades, t)
	return nil
}

func TestProfitability(t *testing.T) {
	v := &fakeValuer{holdings: map[string]decimal.Decimal{
		"USD": decimal.NewFromInt(1000),
		"BTC": decimal.NewFromInt(10),
	}}
	m := NewManager("USD", v, nil)
	m.UpdatePrice("BTC/USD", decimal.NewFromInt(100))

	p := m.Profitability()
	assert.True(t, p.Absolute.IsZero())
	assert.True(t, p.Percent.IsZero())

	m.UpdatePrice("BTC/USD", decimal.NewFromInt(110))
	p = m.Profitability()
	assert.True(t, p.Absolute.Equal(decimal.NewFromInt(100)))
	assert.True(t, p.Percent.Equal(decimal.NewFromInt(5)))
	assert.True(t, p.Diff.Equal(decimal.NewFromInt(5)))

	cached := m.ProfitabilityWithoutUpdate()
	assert.Equal(t, p, cached)

	p = m.Profitability()
	assert.True(t, p.Diff.IsZero())
}

func TestAddTrade_RecordsHistoryAndJournal(t *testing.T) {
	j := &fakeJournal{}
	m := NewManager("USD", &fakeValuer{}, j)

	tr := domain.Trade{ID: "t1", Symbol: "BTC/USD", Price: decimal.NewFromInt(101), Quantity: decimal.NewFromInt(1)}
	m.AddTrade(context.Background(), tr)

	assert.Equal(t, []domain.Trade{tr}, m.History())
	assert.Equal(t, []domain.Trade{tr}, j.trades)
	px, ok := m.LastPrice("BTC/USD")
	require.True(t, ok)
	assert.True(t, px.Equal(decimal.NewFromInt(101)))
}

func TestAddTrade_JournalFailureIsLogged(t *testing.T) {
	m := NewManager("USD", &fakeValuer{}, &fakeJournal{err: errors.New("disk full")})
	m.AddTrade(context.Background(), domain.Trade{ID: "t1", Symbol: "BTC/USD"})
	assert.Len(t, m.History(), 1)
}
