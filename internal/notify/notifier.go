// Package notify 订单终态通知。
//
// 一个 OrderNotifier 对应一个逻辑仓位：同组关联订单共享同一个实例，
// 每次关闭流程只触发一次 End。具体投递方式由 Sink 决定。
package notify

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
)

// OrderEndEvent 终态事件
type OrderEndEvent struct {
	NotifierID           string
	Closed               *domain.Order   // 实际成交的订单；纯取消时为 nil
	Canceled             []*domain.Order // 作为副作用被取消的订单
	OrderProfitability   decimal.Decimal
	ProfitabilityPercent decimal.Decimal
	ProfitabilityDiff    decimal.Decimal
	Activated            bool // 是否发生了真实成交
	Timestamp            time.Time
}

// Sink 终态事件的接收方
type Sink interface {
	OnOrderEnd(ev OrderEndEvent)
}

// SinkFunc 函数适配器
type SinkFunc func(ev OrderEndEvent)

func (f SinkFunc) OnOrderEnd(ev OrderEndEvent) { f(ev) }

// OrderNotifier 单个仓位的通知端点
type OrderNotifier struct {
	id    string
	sinks []Sink

	mu    sync.Mutex
	ended int
}

var _ domain.Notifier = (*OrderNotifier)(nil)

// NewOrderNotifier 为首个订单创建通知端点
func NewOrderNotifier(order *domain.Order, sinks ...Sink) *OrderNotifier {
	id := ""
	if order != nil {
		id = order.ID
	}
	return &OrderNotifier{id: id, sinks: sinks}
}

// ID 返回创建该通知端点的订单 ID
func (n *OrderNotifier) ID() string {
	return n.id
}

// Bind 在订单 ID 生成后补记 ID（订单构造先于 Init）
func (n *OrderNotifier) Bind(order *domain.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.id == "" && order != nil {
		n.id = order.ID
	}
}

// EndCount 已触发的终态次数
func (n *OrderNotifier) EndCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ended
}

// End 触发终态事件（fire-and-forget）
func (n *OrderNotifier) End(closed *domain.Order, canceled []*domain.Order, orderProfitability, profitabilityPercent, profitabilityDiff decimal.Decimal, activated bool) {
	n.mu.Lock()
	n.ended++
	id := n.id
	n.mu.Unlock()

	ev := OrderEndEvent{
		NotifierID:           id,
		Closed:               closed,
		Canceled:             append([]*domain.Order(nil), canceled...),
		OrderProfitability:   orderProfitability,
		ProfitabilityPercent: profitabilityPercent,
		ProfitabilityDiff:    profitabilityDiff,
		Activated:            activated,
		Timestamp:            time.Now(),
	}
	for _, s := range n.sinks {
		if s != nil {
			s.OnOrderEnd(ev)
		}
	}
}

// LogSink 把终态事件写入日志
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink 创建日志 sink
func NewLogSink() *LogSink {
	return &LogSink{log: logrus.WithField("component", "order_notifier")}
}

func (s *LogSink) OnOrderEnd(ev OrderEndEvent) {
	canceledIDs := make([]string, 0, len(ev.Canceled))
	for _, o := range ev.Canceled {
		canceledIDs = append(canceledIDs, o.ID)
	}
	fields := logrus.Fields{
		"notifier":   ev.NotifierID,
		"canceled":   canceledIDs,
		"orderPnL":   ev.OrderProfitability.String(),
		"pnlPercent": ev.ProfitabilityPercent.StringFixed(4),
		"pnlDiff":    ev.ProfitabilityDiff.StringFixed(4),
	}
	if ev.Closed != nil {
		fields["closed"] = ev.Closed.ID
		fields["symbol"] = ev.Closed.Symbol
		s.log.WithFields(fields).Info("✅ 订单成交结束")
		return
	}
	s.log.WithFields(fields).Info("🛑 订单已取消")
}
