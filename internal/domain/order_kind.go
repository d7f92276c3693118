package domain

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrUnknownOrderKind 表示订单类型未在注册表中
var ErrUnknownOrderKind = errors.New("unknown order kind")

// OrderKind 订单类型（tagged variant 的 tag）
type OrderKind string

const (
	OrderKindBuyMarket       OrderKind = "buy_market"
	OrderKindBuyLimit        OrderKind = "buy_limit"
	OrderKindSellMarket      OrderKind = "sell_market"
	OrderKindSellLimit       OrderKind = "sell_limit"
	OrderKindStopLoss        OrderKind = "stop_loss"
	OrderKindStopLossLimit   OrderKind = "stop_loss_limit"
	OrderKindTakeProfit      OrderKind = "take_profit"
	OrderKindTakeProfitLimit OrderKind = "take_profit_limit"
	OrderKindTrailingStop    OrderKind = "trailing_stop"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TriggerFunc 判断订单在最新价格下是否成交，返回成交价
type TriggerFunc func(o *Order, last decimal.Decimal) (fillPrice decimal.Decimal, ok bool)

// KindSpec 描述一种订单类型的行为
type KindSpec struct {
	Side Side
	// Protective 保护性订单（止损/止盈）不单独占用资金：
	// 它保护的仓位已经由同组的入场/出场腿占用。
	Protective bool
	// Market 市价单：价格取创建时的当前价
	Market  bool
	Trigger TriggerFunc
}

// Constructor 根据类型构造一个空订单
type Constructor func() *Order

var (
	registryMu sync.RWMutex
	registry   = map[OrderKind]Constructor{}
)

// RegisterOrderKind 注册订单类型构造器（重复注册覆盖）
func RegisterOrderKind(kind OrderKind, spec KindSpec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = func() *Order {
		return &Order{Kind: kind, Side: spec.Side, spec: spec, status: OrderStatusOpen}
	}
}

// NewOrder 按类型构造订单，未知类型返回 ErrUnknownOrderKind
func NewOrder(kind OrderKind) (*Order, error) {
	registryMu.RLock()
	ctor, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOrderKind, kind)
	}
	return ctor(), nil
}

// RegisteredKinds 返回已注册的订单类型（排序后）
func RegisteredKinds() []OrderKind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]OrderKind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func fillImmediately(o *Order, last decimal.Decimal) (decimal.Decimal, bool) {
	if last.IsPositive() {
		return last, true
	}
	return o.Price, true
}

// 买入限价：价格跌到限价及以下成交
func buyLimitTrigger(o *Order, last decimal.Decimal) (decimal.Decimal, bool) {
	return o.Price, last.LessThanOrEqual(o.Price)
}

// 卖出限价 / 止盈限价：价格涨到限价及以上成交
func sellLimitTrigger(o *Order, last decimal.Decimal) (decimal.Decimal, bool) {
	return o.Price, last.GreaterThanOrEqual(o.Price)
}

// 止盈市价：触及止盈价后按最新价成交
func takeProfitTrigger(o *Order, last decimal.Decimal) (decimal.Decimal, bool) {
	return last, last.GreaterThanOrEqual(o.triggerPrice())
}

// 止损：价格跌破止损价后按最新价成交
func stopLossTrigger(o *Order, last decimal.Decimal) (decimal.Decimal, bool) {
	return last, last.LessThanOrEqual(o.triggerPrice())
}

// 止损限价：跌破止损价后以限价成交
func stopLossLimitTrigger(o *Order, last decimal.Decimal) (decimal.Decimal, bool) {
	return o.Price, last.LessThanOrEqual(o.triggerPrice())
}

func init() {
	RegisterOrderKind(OrderKindBuyMarket, KindSpec{Side: SideBuy, Market: true, Trigger: fillImmediately})
	RegisterOrderKind(OrderKindBuyLimit, KindSpec{Side: SideBuy, Trigger: buyLimitTrigger})
	RegisterOrderKind(OrderKindSellMarket, KindSpec{Side: SideSell, Market: true, Trigger: fillImmediately})
	RegisterOrderKind(OrderKindSellLimit, KindSpec{Side: SideSell, Trigger: sellLimitTrigger})
	RegisterOrderKind(OrderKindStopLoss, KindSpec{Side: SideSell, Protective: true, Trigger: stopLossTrigger})
	RegisterOrderKind(OrderKindStopLossLimit, KindSpec{Side: SideSell, Protective: true, Trigger: stopLossLimitTrigger})
	RegisterOrderKind(OrderKindTakeProfit, KindSpec{Side: SideSell, Protective: true, Trigger: takeProfitTrigger})
	RegisterOrderKind(OrderKindTakeProfitLimit, KindSpec{Side: SideSell, Protective: true, Trigger: sellLimitTrigger})
	RegisterOrderKind(OrderKindTrailingStop, KindSpec{Side: SideSell, Protective: true, Trigger: stopLossTrigger})
}
