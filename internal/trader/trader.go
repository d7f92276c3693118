// Package trader 订单生命周期协调：创建、关联、取消与关闭订单，
// 同时维护资金账本与交易历史的一致性。
package trader

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/notify"
	"github.com/betbot/ordercore/internal/portfolio"
	"github.com/betbot/ordercore/internal/ports"
	"github.com/betbot/ordercore/internal/trades"
)

var (
	// RiskMin 风险系数下限
	RiskMin = decimal.RequireFromString("0.05")
	// RiskMax 风险系数上限
	RiskMax = decimal.NewFromInt(1)
)

// Config 交易器配置
type Config struct {
	Exchange string
	Enabled  bool
	Simulate bool // 模拟盘：只在本地账本撮合
	Risk     decimal.Decimal
}

// Trader 订单生命周期协调器
type Trader struct {
	exchange string
	enabled  bool
	simulate bool

	riskMu sync.RWMutex
	risk   decimal.Decimal

	closeMu sync.Mutex

	portfolio *portfolio.Portfolio
	trades    *trades.Manager
	orders    *OrdersManager
	publisher ports.OrderPublisher
	sinks     []notify.Sink

	log *logrus.Entry
}

var _ ports.OrderCloser = (*Trader)(nil)

// New 创建交易器。publisher 可为 nil（不广播订单更新）。
func New(cfg Config, pf *portfolio.Portfolio, tm *trades.Manager, publisher ports.OrderPublisher, sinks ...notify.Sink) *Trader {
	t := &Trader{
		exchange:  cfg.Exchange,
		enabled:   cfg.Enabled,
		simulate:  cfg.Simulate,
		portfolio: pf,
		trades:    tm,
		publisher: publisher,
		sinks:     sinks,
		log:       logrus.WithFields(logrus.Fields{"component": "trader", "exchange": cfg.Exchange}),
	}
	t.orders = NewOrdersManager(t, tm)
	t.SetRisk(cfg.Risk)

	if t.simulate {
		t.log.Warn("📝 模拟交易模式已启用：订单只在本地账本撮合")
	}
	return t
}

func (t *Trader) Exchange() string                { return t.exchange }
func (t *Trader) Enabled() bool                   { return t.enabled }
func (t *Trader) Simulate() bool                  { return t.simulate }
func (t *Trader) Portfolio() *portfolio.Portfolio { return t.portfolio }
func (t *Trader) TradesManager() *trades.Manager  { return t.trades }
func (t *Trader) OrdersManager() *OrdersManager   { return t.orders }
func (t *Trader) OpenOrders() []*domain.Order     { return t.orders.OpenOrders() }

// SetRisk 设置风险系数，超出 [RiskMin, RiskMax] 时截断
func (t *Trader) SetRisk(risk decimal.Decimal) {
	switch {
	case risk.LessThan(RiskMin):
		risk = RiskMin
	case risk.GreaterThan(RiskMax):
		risk = RiskMax
	}
	t.riskMu.Lock()
	t.risk = risk
	t.riskMu.Unlock()
}

// Risk 当前风险系数
func (t *Trader) Risk() decimal.Decimal {
	t.riskMu.RLock()
	defer t.riskMu.RUnlock()
	return t.risk
}

// CreateOrder 创建订单并占用资金。linkedTo 非空时两单互相关联并共享通知端点。
func (t *Trader) CreateOrder(ctx context.Context, kind domain.OrderKind, symbol string, currentPrice, quantity, price, stopPrice decimal.Decimal, linkedTo *domain.Order) (*domain.Order, error) {
	t.log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"kind":     kind,
		"price":    price.String(),
		"quantity": quantity.String(),
	}).Info("📝 创建订单")

	order, err := domain.NewOrder(kind)
	if err != nil {
		return nil, err
	}

	var notifier domain.Notifier
	var fresh *notify.OrderNotifier
	if linkedTo != nil {
		notifier = linkedTo.Notifier()
	} else {
		fresh = notify.NewOrderNotifier(nil, t.sinks...)
		notifier = fresh
	}

	order.Init(t.exchange, symbol, currentPrice, quantity, price, stopPrice, notifier)
	if fresh != nil {
		fresh.Bind(order)
	}

	// 占用与加入未结集合在同一把账本锁内完成，全量重算不会漏掉新订单
	if err := t.portfolio.WithLock(func(tx *portfolio.Tx) error {
		if err := tx.ReserveOrder(order); err != nil {
			return err
		}
		t.orders.Add(order)
		return nil
	}); err != nil {
		return nil, err
	}

	if linkedTo != nil {
		linkedTo.AddLinkedOrder(order)
		order.AddLinkedOrder(linkedTo)
	}

	metrics.OrdersCreated.Add(1)
	t.publish(ctx, order)
	return order, nil
}

// CancelOrder 取消订单并移出未结集合，不触碰账本。返回是否发生了状态迁移。
// 已成交但尚未结算的订单留在集合中，由成交路径认领。
func (t *Trader) CancelOrder(ctx context.Context, order *domain.Order) bool {
	canceled := order.Cancel()
	if !canceled && !order.IsCanceled() {
		return false
	}
	t.orders.Remove(order)
	if canceled {
		metrics.OrdersCanceled.Add(1)
		t.log.WithFields(logrus.Fields{"orderID": order.ID, "symbol": order.Symbol}).Info("🚫 订单已取消")
		t.publish(ctx, order)
	}
	return canceled
}

// CancelOpenOrders 取消 symbol 下所有未取消的未结订单
func (t *Trader) CancelOpenOrders(ctx context.Context, symbol string) {
	for _, o := range t.orders.OpenOrders() {
		if o.Symbol == symbol && !o.IsCanceled() {
			t.NotifyOrderClose(ctx, o, true)
		}
	}
}

// NotifyOrderClose 结束订单生命周期。
//
// forceCancel 为 true 时走取消路径：关联订单与本单全部取消，账本全量重算。
// 否则走成交路径：关联订单被级联取消，账本增量结算，记录交易。
// 两条路径都只触发一次通知；关闭流程之间互斥执行。
func (t *Trader) NotifyOrderClose(ctx context.Context, order *domain.Order, forceCancel bool) {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()

	if !t.orders.Contains(order) {
		t.log.WithField("orderID", order.ID).Debug("订单不在未结集合中，忽略关闭通知")
		return
	}
	if forceCancel {
		t.closeCanceled(ctx, order)
		return
	}
	t.closeFilled(ctx, order)
}

func (t *Trader) closeCanceled(ctx context.Context, order *domain.Order) {
	if order.IsFilled() {
		t.log.WithField("orderID", order.ID).Warn("订单已成交，忽略取消")
		return
	}
	linked := order.LinkedOrders()
	for _, l := range linked {
		if l.IsFilled() {
			t.log.WithFields(logrus.Fields{"orderID": order.ID, "filledLeg": l.ID}).
				Warn("关联订单已成交待结算，忽略取消")
			return
		}
	}

	for _, l := range linked {
		t.CancelOrder(ctx, l)
	}
	t.CancelOrder(ctx, order)
	group := append(linked, order)

	p := t.trades.ProfitabilityWithoutUpdate()
	t.portfolio.ResetAvailable(t.orders.OpenOrders())

	// 级联期间某一腿被价格循环成交：由该腿的成交路径通知
	for _, o := range group {
		if o.IsFilled() {
			t.log.WithFields(logrus.Fields{"orderID": order.ID, "filledLeg": o.ID}).
				Warn("取消期间关联订单成交，通知交给成交路径")
			return
		}
	}
	t.end(order, nil, group, p)
}

func (t *Trader) closeFilled(ctx context.Context, order *domain.Order) {
	if order.IsOpen() {
		order.Fill(t.fillPrice(order))
	}
	if !order.IsFilled() {
		t.log.WithField("orderID", order.ID).Warn("订单已被取消，忽略成交")
		return
	}

	var released, canceled []*domain.Order
	for _, l := range order.LinkedOrders() {
		if t.CancelOrder(ctx, l) {
			released = append(released, l)
		}
		if l.IsCanceled() {
			canceled = append(canceled, l)
		}
	}

	// 移出未结集合与增量结算在同一把账本锁内完成，全量重算看不到中间状态
	claimed := false
	if err := t.portfolio.WithLock(func(tx *portfolio.Tx) error {
		if !t.orders.Remove(order) {
			return nil
		}
		claimed = true
		return tx.UpdatePortfolio(order, released)
	}); err != nil {
		t.log.WithError(err).WithField("orderID", order.ID).Error("❌ 成交入账失败")
	}
	if !claimed {
		t.log.WithField("orderID", order.ID).Debug("订单已关闭，忽略重复成交通知")
		return
	}

	p := t.trades.Profitability()
	t.log.WithFields(logrus.Fields{
		"orderID":   order.ID,
		"symbol":    order.Symbol,
		"absolute":  p.Absolute.StringFixed(8),
		"percent":   p.Percent.StringFixed(4),
		"reference": t.trades.Reference(),
	}).Info("✅ 订单成交，当前组合收益")

	t.trades.AddTrade(ctx, domain.NewTrade(t.exchange, order))
	metrics.OrdersFilled.Add(1)
	t.publish(ctx, order)

	t.end(order, order, canceled, p)
}

func (t *Trader) fillPrice(order *domain.Order) decimal.Decimal {
	if order.Price.IsPositive() {
		return order.Price
	}
	if last, ok := t.trades.LastPrice(order.Symbol); ok {
		return last
	}
	return order.CreationPrice
}

func (t *Trader) end(order, closed *domain.Order, canceled []*domain.Order, p trades.Profitability) {
	n := order.Notifier()
	if n == nil {
		return
	}
	n.End(closed, canceled, order.Profitability(), p.Percent, p.Diff, closed != nil)
}

func (t *Trader) publish(ctx context.Context, order *domain.Order) {
	if t.publisher == nil {
		return
	}
	t.publisher.Push(ctx, order.Symbol, order)
}
