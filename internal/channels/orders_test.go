package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/pkg/channel"
)

type spyStore struct {
	mu      sync.Mutex
	upserts []string
	err     error
}

func (s *spyStore) UpsertOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.upserts = append(s.upserts, o.ID)
	return nil
}

func (s *spyStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserts)
}

type collector struct {
	mu     sync.Mutex
	orders []*domain.Order
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 16)}
}

func (c *collector) callback(_ context.Context, _ string, o *domain.Order) error {
	c.mu.Lock()
	c.orders = append(c.orders, o)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func (c *collector) wait(t *testing.T, n int) []*domain.Order {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for update %d/%d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.Order(nil), c.orders...)
}

func (c *collector) none(t *testing.T) {
	t.Helper()
	select {
	case <-c.got:
		t.Fatal("unexpected update")
	case <-time.After(50 * time.Millisecond):
	}
}

func newOrder(t *testing.T, symbol string) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(domain.OrderKindBuyLimit)
	require.NoError(t, err)
	o.Init("sim", symbol, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(99), decimal.Zero, nil)
	return o
}

func TestPerform_NoConsumersSkipsStore(t *testing.T) {
	store := &spyStore{}
	ch := NewOrdersChannel(store)
	defer ch.Stop()

	require.NoError(t, ch.Producer().Perform(context.Background(), "BTC/USD", newOrder(t, "BTC/USD")))
	assert.Equal(t, 0, store.count())
}

func TestPerform_SymbolAndWildcardFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &spyStore{}
	ch := NewOrdersChannel(store)
	defer ch.Stop()

	c1, c2 := newCollector(), newCollector()
	_, err := ch.NewConsumer(ctx, c1.callback, 0, "BTC/USD")
	require.NoError(t, err)
	_, err = ch.NewConsumer(ctx, c2.callback, 0, "")
	require.NoError(t, err)

	o1, o2 := newOrder(t, "BTC/USD"), newOrder(t, "ETH/USD")
	p := ch.Producer()
	p.Push(ctx, "BTC/USD", o1)
	p.Push(ctx, "ETH/USD", o2)

	assert.Equal(t, []*domain.Order{o1}, c1.wait(t, 1))
	assert.Equal(t, []*domain.Order{o1, o2}, c2.wait(t, 2))
	c1.none(t)
	assert.Equal(t, 2, store.count())
}

func TestPerform_WildcardSymbolDeliversOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewOrdersChannel(&spyStore{})
	defer ch.Stop()

	c := newCollector()
	_, err := ch.NewConsumer(ctx, c.callback, 0, "")
	require.NoError(t, err)

	o := newOrder(t, "BTC/USD")
	require.NoError(t, ch.Producer().Perform(ctx, channel.Wildcard, o))

	assert.Equal(t, []*domain.Order{o}, c.wait(t, 1))
	c.none(t)
}

func TestPerform_OnlySymbolConsumerStillUpserts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &spyStore{}
	ch := NewOrdersChannel(store)
	defer ch.Stop()

	c := newCollector()
	_, err := ch.NewConsumer(ctx, c.callback, 0, "ETH/USD")
	require.NoError(t, err)

	p := ch.Producer()
	p.Push(ctx, "BTC/USD", newOrder(t, "BTC/USD"))
	assert.Equal(t, 0, store.count())

	o := newOrder(t, "ETH/USD")
	p.Push(ctx, "ETH/USD", o)
	assert.Equal(t, []*domain.Order{o}, c.wait(t, 1))
	assert.Equal(t, 1, store.count())
}

func TestPerform_StoreFailureIsReturnedAndPushSuppresses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &spyStore{err: errors.New("boom")}
	ch := NewOrdersChannel(store)
	defer ch.Stop()

	c := newCollector()
	_, err := ch.NewConsumer(ctx, c.callback, 0, "")
	require.NoError(t, err)

	p := ch.Producer()
	o := newOrder(t, "BTC/USD")
	assert.Error(t, p.Perform(ctx, "BTC/USD", o))
	assert.NotPanics(t, func() { p.Push(ctx, "BTC/USD", o) })
	c.none(t)
}

func TestPerform_CanceledContextStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewOrdersChannel(&spyStore{})
	defer ch.Stop()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	_, err := ch.NewConsumer(ctx, func(context.Context, string, *domain.Order) error {
		started <- struct{}{}
		<-block
		return nil
	}, 1, "BTC/USD")
	require.NoError(t, err)
	defer close(block)

	p := ch.Producer()
	// 第一条被回调占住，第二条填满队列
	p.Push(ctx, "BTC/USD", newOrder(t, "BTC/USD"))
	<-started
	p.Push(ctx, "BTC/USD", newOrder(t, "BTC/USD"))

	pushCtx, pushCancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer pushCancel()
	err = p.Perform(pushCtx, "BTC/USD", newOrder(t, "BTC/USD"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotPanics(t, func() { p.Push(pushCtx, "BTC/USD", newOrder(t, "BTC/USD")) })
}

func TestPerform_StoppedConsumerIsSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewOrdersChannel(&spyStore{})
	defer ch.Stop()

	stopped, live := newCollector(), newCollector()
	c, err := ch.NewConsumer(ctx, stopped.callback, 0, "")
	require.NoError(t, err)
	_, err = ch.NewConsumer(ctx, live.callback, 0, "")
	require.NoError(t, err)
	c.Stop()

	o := newOrder(t, "BTC/USD")
	require.NoError(t, ch.Producer().Perform(ctx, "BTC/USD", o))
	assert.Equal(t, []*domain.Order{o}, live.wait(t, 1))
	stopped.none(t)
}
