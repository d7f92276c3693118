package trader

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/notify"
	"github.com/betbot/ordercore/internal/portfolio"
	"github.com/betbot/ordercore/internal/trades"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type spyPublisher struct {
	mu     sync.Mutex
	pushes []string
}

func (s *spyPublisher) Push(_ context.Context, symbol string, o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, symbol+":"+string(o.Status()))
}

func (s *spyPublisher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pushes)
}

type endRecorder struct {
	mu     sync.Mutex
	events []notify.OrderEndEvent
}

func (r *endRecorder) OnOrderEnd(ev notify.OrderEndEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *endRecorder) all() []notify.OrderEndEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.OrderEndEvent(nil), r.events...)
}

type fixture struct {
	trader    *Trader
	portfolio *portfolio.Portfolio
	trades    *trades.Manager
	publisher *spyPublisher
	ends      *endRecorder
}

func newFixture(t *testing.T, balances map[string]decimal.Decimal) *fixture {
	t.Helper()
	pf := portfolio.New(balances)
	tm := trades.NewManager("USD", pf, nil)
	pub := &spyPublisher{}
	ends := &endRecorder{}
	tr := New(Config{Exchange: "sim", Enabled: true, Simulate: true, Risk: d("0.5")}, pf, tm, pub, ends)
	return &fixture{trader: tr, portfolio: pf, trades: tm, publisher: pub, ends: ends}
}

func TestSetRisk_Clamps(t *testing.T) {
	f := newFixture(t, nil)
	tr := f.trader

	tr.SetRisk(d("0.01"))
	assert.True(t, tr.Risk().Equal(RiskMin))

	tr.SetRisk(d("2"))
	assert.True(t, tr.Risk().Equal(RiskMax))

	tr.SetRisk(d("0.3"))
	assert.True(t, tr.Risk().Equal(d("0.3")))
}

func TestCreateOrder_UnknownKind(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.trader.CreateOrder(context.Background(), "iceberg", "BTC/USD", d("100"), d("1"), d("100"), decimal.Zero, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownOrderKind)
	assert.Equal(t, 0, f.trader.OrdersManager().Len())
	assert.Equal(t, 0, f.portfolio.Reservations())
}

func TestCreateOrder_ReservesAndPublishes(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USD": d("1000")})
	ctx := context.Background()

	o, err := f.trader.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("101"), decimal.Zero, nil)
	require.NoError(t, err)

	assert.True(t, o.IsOpen())
	assert.True(t, f.portfolio.Available("USD").Equal(d("899")))
	assert.True(t, f.portfolio.Total("USD").Equal(d("1000")))
	assert.Equal(t, []*domain.Order{o}, f.trader.OpenOrders())
	assert.Equal(t, 1, f.publisher.count())
}

func TestCreateOrder_LinkedSharesNotifier(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"BTC": d("1")})
	ctx := context.Background()

	o1, err := f.trader.CreateOrder(ctx, domain.OrderKindSellLimit, "BTC/USD", d("100"), d("1"), d("110"), decimal.Zero, nil)
	require.NoError(t, err)
	o2, err := f.trader.CreateOrder(ctx, domain.OrderKindStopLoss, "BTC/USD", d("100"), d("1"), decimal.Zero, d("90"), o1)
	require.NoError(t, err)

	assert.Same(t, o1.Notifier(), o2.Notifier())
	assert.True(t, o1.IsLinkedTo(o2))
	assert.True(t, o2.IsLinkedTo(o1))
	n, ok := o1.Notifier().(*notify.OrderNotifier)
	require.True(t, ok)
	assert.Equal(t, o1.ID, n.ID())
}

func TestCancelOrder_NoLedgerChange(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USD": d("1000")})
	ctx := context.Background()

	o, err := f.trader.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("100"), decimal.Zero, nil)
	require.NoError(t, err)

	assert.True(t, f.trader.CancelOrder(ctx, o))
	assert.True(t, o.IsCanceled())
	assert.Equal(t, 0, f.trader.OrdersManager().Len())
	assert.True(t, f.portfolio.Available("USD").Equal(d("900")))
	assert.False(t, f.trader.CancelOrder(ctx, o))
}

func TestNotifyOrderClose_CancelPathSingleFullRecompute(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USD": d("1000"), "BTC": d("2"), "ETH": d("5")})
	ctx := context.Background()
	tr := f.trader

	o1, err := tr.CreateOrder(ctx, domain.OrderKindSellLimit, "BTC/USD", d("100"), d("1"), d("120"), decimal.Zero, nil)
	require.NoError(t, err)
	o2, err := tr.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("90"), decimal.Zero, o1)
	require.NoError(t, err)
	o3, err := tr.CreateOrder(ctx, domain.OrderKindSellLimit, "ETH/USD", d("10"), d("2"), d("12"), decimal.Zero, nil)
	require.NoError(t, err)

	before := f.portfolio.Stats().FullResets
	tr.NotifyOrderClose(ctx, o1, true)

	assert.Equal(t, before+1, f.portfolio.Stats().FullResets)
	assert.True(t, o1.IsCanceled())
	assert.True(t, o2.IsCanceled())
	assert.True(t, o3.IsOpen())
	assert.Equal(t, []*domain.Order{o3}, tr.OpenOrders())

	assert.True(t, f.portfolio.Available("USD").Equal(d("1000")))
	assert.True(t, f.portfolio.Available("BTC").Equal(d("2")))
	assert.True(t, f.portfolio.Available("ETH").Equal(d("3")))

	events := f.ends.all()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Closed)
	assert.False(t, events[0].Activated)
	assert.ElementsMatch(t, []*domain.Order{o1, o2}, events[0].Canceled)
}

func TestNotifyOrderClose_FillPathIncrementalAndTrade(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USD": d("1000")})
	ctx := context.Background()
	tr := f.trader

	o, err := tr.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("101"), decimal.Zero, nil)
	require.NoError(t, err)
	assert.True(t, f.portfolio.Available("USD").Equal(d("899")))

	before := f.portfolio.Stats().FullResets
	tr.NotifyOrderClose(ctx, o, false)

	assert.True(t, o.IsFilled())
	assert.True(t, o.FilledPrice().Equal(d("101")))
	assert.Equal(t, before, f.portfolio.Stats().FullResets)
	assert.True(t, f.portfolio.Total("USD").Equal(d("899")))
	assert.True(t, f.portfolio.Available("USD").Equal(d("899")))
	assert.True(t, f.portfolio.Total("BTC").Equal(d("1")))
	assert.True(t, f.portfolio.Available("BTC").Equal(d("1")))
	assert.Equal(t, 0, f.portfolio.Reservations())

	history := f.trades.History()
	require.Len(t, history, 1)
	assert.Equal(t, o.ID, history[0].OrderID)

	events := f.ends.all()
	require.Len(t, events, 1)
	assert.Same(t, o, events[0].Closed)
	assert.True(t, events[0].Activated)
	assert.Empty(t, events[0].Canceled)
	assert.Equal(t, 0, tr.OrdersManager().Len())
}

func TestNotifyOrderClose_OCOClosesOnce(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"BTC": d("1")})
	ctx := context.Background()
	tr := f.trader

	sell, err := tr.CreateOrder(ctx, domain.OrderKindSellLimit, "BTC/USD", d("100"), d("1"), d("110"), decimal.Zero, nil)
	require.NoError(t, err)
	stop, err := tr.CreateOrder(ctx, domain.OrderKindStopLoss, "BTC/USD", d("100"), d("1"), decimal.Zero, d("90"), sell)
	require.NoError(t, err)
	assert.True(t, f.portfolio.Available("BTC").IsZero())

	filled := tr.OrdersManager().UpdateLastPrice(ctx, "BTC/USD", d("111"))
	assert.Equal(t, 1, filled)
	assert.True(t, sell.IsFilled())
	assert.True(t, stop.IsCanceled())

	// 已被级联取消的一腿不会再成交
	assert.Equal(t, 0, tr.OrdersManager().UpdateLastPrice(ctx, "BTC/USD", d("80")))
	tr.NotifyOrderClose(ctx, sell, false)
	tr.NotifyOrderClose(ctx, stop, false)

	n := sell.Notifier().(*notify.OrderNotifier)
	assert.Equal(t, 1, n.EndCount())
	events := f.ends.all()
	require.Len(t, events, 1)
	assert.Same(t, sell, events[0].Closed)
	assert.Equal(t, []*domain.Order{stop}, events[0].Canceled)

	assert.Len(t, f.trades.History(), 1)
	assert.True(t, f.portfolio.Total("BTC").IsZero())
	assert.True(t, f.portfolio.Available("BTC").IsZero())
	assert.True(t, f.portfolio.Total("USD").Equal(d("110")))
	assert.Equal(t, 0, f.portfolio.Reservations())
	assert.Equal(t, 0, f.portfolio.Stats().Violations)
}

func TestCancelOrder_KeepsFilledOrderClaimable(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USD": d("1000")})
	ctx := context.Background()

	o, err := f.trader.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("100"), decimal.Zero, nil)
	require.NoError(t, err)
	require.True(t, o.UpdateStatus(d("100")))

	assert.False(t, f.trader.CancelOrder(ctx, o))
	assert.True(t, f.trader.OrdersManager().Contains(o))
}

func TestCancelOpenOrders_LinkedLegFilledBeforeSettlement(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USD": d("1000")})
	ctx := context.Background()
	tr := f.trader

	entry, err := tr.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("100"), decimal.Zero, nil)
	require.NoError(t, err)
	stop, err := tr.CreateOrder(ctx, domain.OrderKindStopLoss, "BTC/USD", d("100"), d("1"), decimal.Zero, d("90"), entry)
	require.NoError(t, err)

	// 价格循环已迁移为成交，但还未走到结算
	require.True(t, entry.UpdateStatus(d("100")))
	tr.CancelOpenOrders(ctx, "BTC/USD")

	assert.True(t, entry.IsFilled())
	assert.True(t, stop.IsOpen())
	assert.Empty(t, f.ends.all())

	tr.NotifyOrderClose(ctx, entry, false)

	assert.True(t, stop.IsCanceled())
	assert.Equal(t, 0, tr.OrdersManager().Len())
	assert.True(t, f.portfolio.Total("USD").Equal(d("900")))
	assert.True(t, f.portfolio.Available("USD").Equal(d("900")))
	assert.True(t, f.portfolio.Total("BTC").Equal(d("1")))
	assert.Equal(t, 0, f.portfolio.Reservations())
	assert.Equal(t, 0, f.portfolio.Stats().Violations)
	assert.Len(t, f.trades.History(), 1)

	events := f.ends.all()
	require.Len(t, events, 1)
	assert.Same(t, entry, events[0].Closed)
	assert.True(t, events[0].Activated)
	assert.Equal(t, []*domain.Order{stop}, events[0].Canceled)
}

func TestCancelOpenOrders_OtherSymbolDuringPendingFill(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USD": d("1000")})
	ctx := context.Background()
	tr := f.trader

	btc, err := tr.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("100"), decimal.Zero, nil)
	require.NoError(t, err)
	eth, err := tr.CreateOrder(ctx, domain.OrderKindBuyLimit, "ETH/USD", d("10"), d("2"), d("10"), decimal.Zero, nil)
	require.NoError(t, err)

	require.True(t, btc.UpdateStatus(d("100")))
	tr.CancelOpenOrders(ctx, "ETH/USD")

	assert.True(t, eth.IsCanceled())
	assert.True(t, f.portfolio.Available("USD").Equal(d("900")))

	tr.NotifyOrderClose(ctx, btc, false)

	assert.True(t, f.portfolio.Total("USD").Equal(d("900")))
	assert.True(t, f.portfolio.Available("USD").Equal(d("900")))
	assert.True(t, f.portfolio.Total("BTC").Equal(d("1")))
	assert.Equal(t, 0, f.portfolio.Reservations())
	assert.Equal(t, 0, f.portfolio.Stats().Violations)
	assert.Len(t, f.trades.History(), 1)

	events := f.ends.all()
	require.Len(t, events, 2)
	assert.Nil(t, events[0].Closed)
	assert.Equal(t, []*domain.Order{eth}, events[0].Canceled)
	assert.Same(t, btc, events[1].Closed)
	assert.True(t, events[1].Activated)
}

func TestNotifyOrderClose_RepeatCancelIsIgnored(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USD": d("1000")})
	ctx := context.Background()

	o, err := f.trader.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("100"), decimal.Zero, nil)
	require.NoError(t, err)

	f.trader.NotifyOrderClose(ctx, o, true)
	f.trader.NotifyOrderClose(ctx, o, true)

	assert.Len(t, f.ends.all(), 1)
	assert.Equal(t, 1, o.Notifier().(*notify.OrderNotifier).EndCount())
}

func TestCancelOpenOrders_OnlySymbol(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USD": d("1000")})
	ctx := context.Background()
	tr := f.trader

	b1, err := tr.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("100"), decimal.Zero, nil)
	require.NoError(t, err)
	b2, err := tr.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("95"), decimal.Zero, nil)
	require.NoError(t, err)
	e1, err := tr.CreateOrder(ctx, domain.OrderKindBuyLimit, "ETH/USD", d("10"), d("1"), d("10"), decimal.Zero, nil)
	require.NoError(t, err)

	tr.CancelOpenOrders(ctx, "BTC/USD")

	assert.True(t, b1.IsCanceled())
	assert.True(t, b2.IsCanceled())
	assert.True(t, e1.IsOpen())
	assert.True(t, f.portfolio.Available("USD").Equal(d("990")))
	assert.Len(t, f.ends.all(), 2)
}

func TestTrader_ConcurrentCreateAndCancel(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"USD": d("100000")})
	ctx := context.Background()
	tr := f.trader

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				o, err := tr.CreateOrder(ctx, domain.OrderKindBuyLimit, "BTC/USD", d("100"), d("1"), d("10"), decimal.Zero, nil)
				if err != nil {
					t.Error(err)
					return
				}
				if j%2 == 0 {
					tr.NotifyOrderClose(ctx, o, true)
				}
			}
		}()
	}
	wg.Wait()

	open := tr.OpenOrders()
	assert.Len(t, open, 8*12)
	assert.Equal(t, len(open), f.portfolio.Reservations())
	expected := d("100000").Sub(d("10").Mul(decimal.NewFromInt(int64(len(open)))))
	assert.True(t, f.portfolio.Available("USD").Equal(expected))
	assert.Equal(t, 0, f.portfolio.Stats().Violations)
}
