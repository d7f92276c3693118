package notify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/ordercore/internal/domain"
)

func TestOrderNotifier_EndFansOutToSinks(t *testing.T) {
	o, err := domain.NewOrder(domain.OrderKindSellLimit)
	require.NoError(t, err)
	n := NewOrderNotifier(nil)
	o.Init("paper", "BTC/USD", decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.Zero, n)
	n.Bind(o)

	var got []OrderEndEvent
	n.sinks = append(n.sinks, SinkFunc(func(ev OrderEndEvent) { got = append(got, ev) }), NewLogSink(), nil)

	canceled := []*domain.Order{o}
	n.End(nil, canceled, decimal.Zero, decimal.NewFromFloat(1.5), decimal.NewFromFloat(0.5), false)

	require.Len(t, got, 1)
	assert.Equal(t, o.ID, got[0].NotifierID)
	assert.Nil(t, got[0].Closed)
	assert.Equal(t, canceled, got[0].Canceled)
	assert.False(t, got[0].Activated)
	assert.True(t, got[0].ProfitabilityPercent.Equal(decimal.NewFromFloat(1.5)))
	assert.Equal(t, 1, n.EndCount())

	// 事件里的取消列表是副本
	canceled[0] = nil
	assert.NotNil(t, got[0].Canceled[0])
}
