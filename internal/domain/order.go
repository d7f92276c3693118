package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"     // 开放中
	OrderStatusFilled   OrderStatus = "filled"   // 已成交
	OrderStatusCanceled OrderStatus = "canceled" // 已取消
)

// Notifier 订单终态通知端点。
// 同一组关联订单共享同一个 Notifier 实例（观察者按仓位订阅，而不是按腿）。
type Notifier interface {
	End(closed *Order, canceled []*Order, orderProfitability, profitabilityPercent, profitabilityDiff decimal.Decimal, activated bool)
}

// Order 订单领域模型
//
// 创建后不变的字段直接导出；状态相关字段由订单自身的锁保护，
// 与账本锁相互独立，避免无关订单被一把全局锁串行化。
type Order struct {
	ID            string          // 订单 ID
	Exchange      string          // 所属交易所
	Symbol        string          // 交易对 BASE/QUOTE
	Kind          OrderKind       // 订单类型
	Side          Side            // 订单方向
	Price         decimal.Decimal // 订单价格（市价单为创建时价格）
	StopPrice     decimal.Decimal // 触发价（可选）
	Quantity      decimal.Decimal // 数量
	CreationPrice decimal.Decimal // 创建时的市场价格快照
	CreatedAt     time.Time       // 创建时间

	spec KindSpec

	mu            sync.Mutex
	status        OrderStatus
	filledPrice   decimal.Decimal
	profitability decimal.Decimal
	filledAt      time.Time
	canceledAt    time.Time

	linkMu sync.RWMutex
	linked []*Order

	notifier Notifier
}

// Init 用下单参数初始化订单
func (o *Order) Init(exchange, symbol string, currentPrice, quantity, price, stopPrice decimal.Decimal, notifier Notifier) {
	o.ID = uuid.NewString()
	o.Exchange = exchange
	o.Symbol = symbol
	o.CreationPrice = currentPrice
	o.Quantity = quantity
	o.Price = price
	if o.spec.Market && !price.IsPositive() {
		o.Price = currentPrice
	}
	o.StopPrice = stopPrice
	o.CreatedAt = time.Now()
	o.notifier = notifier

	o.mu.Lock()
	o.status = OrderStatusOpen
	o.mu.Unlock()
}

// Notifier 返回订单的通知端点
func (o *Order) Notifier() Notifier {
	return o.notifier
}

// Protective 是否为保护性订单（止损/止盈类）
func (o *Order) Protective() bool {
	return o.spec.Protective
}

// Cost 订单名义价值（价格 * 数量）
func (o *Order) Cost() decimal.Decimal {
	return o.Price.Mul(o.Quantity)
}

// Status 当前状态
func (o *Order) Status() OrderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Order) IsOpen() bool     { return o.Status() == OrderStatusOpen }
func (o *Order) IsFilled() bool   { return o.Status() == OrderStatusFilled }
func (o *Order) IsCanceled() bool { return o.Status() == OrderStatusCanceled }

// FilledPrice 成交价（未成交为 0）
func (o *Order) FilledPrice() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filledPrice
}

// Profitability 订单自身的已实现盈亏（报价货币）
func (o *Order) Profitability() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.profitability
}

// FilledAt 成交时间（未成交为零值）
func (o *Order) FilledAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filledAt
}

// CanceledAt 取消时间（未取消为零值）
func (o *Order) CanceledAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.canceledAt
}

// Cancel 底层取消状态迁移（持有订单锁）。
// 只有 open 订单会迁移，返回是否发生了迁移。
func (o *Order) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != OrderStatusOpen {
		return false
	}
	o.status = OrderStatusCanceled
	o.canceledAt = time.Now()
	return true
}

// Fill 以给定价格成交（持有订单锁），只有 open 订单会迁移
func (o *Order) Fill(price decimal.Decimal) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fillLocked(price)
}

// UpdateStatus 用最新价格检查触发条件，触发则成交。返回本次是否成交。
func (o *Order) UpdateStatus(last decimal.Decimal) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != OrderStatusOpen || o.spec.Trigger == nil {
		return false
	}
	fillPrice, ok := o.spec.Trigger(o, last)
	if !ok {
		return false
	}
	return o.fillLocked(fillPrice)
}

func (o *Order) fillLocked(price decimal.Decimal) bool {
	if o.status != OrderStatusOpen {
		return false
	}
	o.status = OrderStatusFilled
	o.filledPrice = price
	o.filledAt = time.Now()

	// 相对创建时价格的已实现盈亏
	diff := price.Sub(o.CreationPrice)
	if o.Side == SideBuy {
		diff = diff.Neg()
	}
	o.profitability = diff.Mul(o.Quantity)
	return true
}

func (o *Order) triggerPrice() decimal.Decimal {
	if o.StopPrice.IsPositive() {
		return o.StopPrice
	}
	return o.Price
}

// AddLinkedOrder 添加关联订单（单向，调用方负责对称）
func (o *Order) AddLinkedOrder(other *Order) {
	if other == nil || other == o {
		return
	}
	o.linkMu.Lock()
	defer o.linkMu.Unlock()
	for _, l := range o.linked {
		if l == other {
			return
		}
	}
	o.linked = append(o.linked, other)
}

// LinkedOrders 返回关联订单副本
func (o *Order) LinkedOrders() []*Order {
	o.linkMu.RLock()
	defer o.linkMu.RUnlock()
	return append([]*Order(nil), o.linked...)
}

// IsLinkedTo 是否与 other 关联
func (o *Order) IsLinkedTo(other *Order) bool {
	o.linkMu.RLock()
	defer o.linkMu.RUnlock()
	for _, l := range o.linked {
		if l == other {
			return true
		}
	}
	return false
}

// OrderSnapshot 订单在某一时刻的只读快照（用于存储与日志）
type OrderSnapshot struct {
	ID            string          `json:"id"`
	Exchange      string          `json:"exchange"`
	Symbol        string          `json:"symbol"`
	Kind          OrderKind       `json:"kind"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	CreationPrice decimal.Decimal `json:"creation_price"`
	FilledPrice   decimal.Decimal `json:"filled_price"`
	Profitability decimal.Decimal `json:"profitability"`
	Status        OrderStatus     `json:"status"`
	LinkedIDs     []string        `json:"linked_ids,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	FilledAt      *time.Time      `json:"filled_at,omitempty"`
	CanceledAt    *time.Time      `json:"canceled_at,omitempty"`
}

// Snapshot 生成快照
func (o *Order) Snapshot() OrderSnapshot {
	s := OrderSnapshot{
		ID:            o.ID,
		Exchange:      o.Exchange,
		Symbol:        o.Symbol,
		Kind:          o.Kind,
		Side:          o.Side,
		Price:         o.Price,
		StopPrice:     o.StopPrice,
		Quantity:      o.Quantity,
		CreationPrice: o.CreationPrice,
		CreatedAt:     o.CreatedAt,
	}
	for _, l := range o.LinkedOrders() {
		s.LinkedIDs = append(s.LinkedIDs, l.ID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	s.Status = o.status
	s.FilledPrice = o.filledPrice
	s.Profitability = o.profitability
	if !o.filledAt.IsZero() {
		t := o.filledAt
		s.FilledAt = &t
	}
	if !o.canceledAt.IsZero() {
		t := o.canceledAt
		s.CanceledAt = &t
	}
	return s
}
