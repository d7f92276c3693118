package trader

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/ports"
	"github.com/betbot/ordercore/pkg/syncgroup"
)

const defaultPriceBuffer = 1000

// PriceRecorder 接收最新价格（用于估值）
type PriceRecorder interface {
	UpdatePrice(symbol string, price decimal.Decimal)
}

// PriceUpdate 一次价格推送
type PriceUpdate struct {
	Symbol string
	Price  decimal.Decimal
}

// OrdersManager 未结订单集合 + 价格驱动的触发循环。
//
// 价格经 SubmitPrice 进入缓冲通道，由单一 goroutine 顺序处理；
// 触发成交的订单交给 OrderCloser 结束生命周期。
type OrdersManager struct {
	closer ports.OrderCloser
	prices PriceRecorder

	mu     sync.RWMutex
	orders []*domain.Order

	priceC chan PriceUpdate

	runMu  sync.Mutex
	cancel context.CancelFunc
	group  *syncgroup.SyncGroup

	log *logrus.Entry
}

// NewOrdersManager 创建订单管理器；prices 可为 nil
func NewOrdersManager(closer ports.OrderCloser, prices PriceRecorder) *OrdersManager {
	return &OrdersManager{
		closer: closer,
		prices: prices,
		priceC: make(chan PriceUpdate, defaultPriceBuffer),
		group:  syncgroup.NewSyncGroup(),
		log:    logrus.WithField("component", "orders_manager"),
	}
}

// Add 加入未结订单集合（重复加入忽略）
func (m *OrdersManager) Add(order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o == order {
			return
		}
	}
	m.orders = append(m.orders, order)
}

// Remove 从未结订单集合移除，返回是否确实移除
func (m *OrdersManager) Remove(order *domain.Order) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.orders {
		if o == order {
			m.orders = append(m.orders[:i], m.orders[i+1:]...)
			return true
		}
	}
	return false
}

// Contains 是否在未结订单集合中
func (m *OrdersManager) Contains(order *domain.Order) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o == order {
			return true
		}
	}
	return false
}

// OpenOrders 未结订单快照（按加入顺序）
func (m *OrdersManager) OpenOrders() []*domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.Order(nil), m.orders...)
}

// OpenOrdersFor 交易对 symbol 的未结订单快照
func (m *OrdersManager) OpenOrdersFor(symbol string) []*domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

// Len 未结订单数量
func (m *OrdersManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// UpdateLastPrice 用最新价格检查 symbol 下所有未结订单，返回本次触发成交的数量
func (m *OrdersManager) UpdateLastPrice(ctx context.Context, symbol string, price decimal.Decimal) int {
	if m.prices != nil {
		m.prices.UpdatePrice(symbol, price)
	}
	filled := 0
	for _, o := range m.OpenOrdersFor(symbol) {
		if !o.UpdateStatus(price) {
			continue
		}
		filled++
		m.log.WithFields(logrus.Fields{
			"orderID": o.ID,
			"symbol":  symbol,
			"kind":    o.Kind,
			"price":   price.String(),
		}).Info("🎯 订单触发成交")
		m.closer.NotifyOrderClose(ctx, o, false)
	}
	return filled
}

// SubmitPrice 异步提交价格（线程安全），通道满时丢弃并返回 false
func (m *OrdersManager) SubmitPrice(symbol string, price decimal.Decimal) bool {
	select {
	case m.priceC <- PriceUpdate{Symbol: symbol, Price: price}:
		return true
	default:
		m.log.Errorf("价格通道已满，价格被丢弃: %s %s", symbol, price)
		return false
	}
}

// Start 启动价格处理循环（重复调用无效）
func (m *OrdersManager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.group.Go(func() { m.run(runCtx) })
}

// Stop 停止价格处理循环并等待其退出（缓冲中的价格会先处理完）
func (m *OrdersManager) Stop() {
	m.runMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.group.Wait()
}

func (m *OrdersManager) run(ctx context.Context) {
	m.log.Info("🚀 订单管理器启动")
	for {
		select {
		case u := <-m.priceC:
			m.UpdateLastPrice(ctx, u.Symbol, u.Price)
		case <-ctx.Done():
			m.drain(context.WithoutCancel(ctx))
			m.log.Info("🛑 订单管理器停止")
			return
		}
	}
}

// drain 处理停止前已进入缓冲的价格
func (m *OrdersManager) drain(ctx context.Context) {
	for {
		select {
		case u := <-m.priceC:
			m.UpdateLastPrice(ctx, u.Symbol, u.Price)
		default:
			return
		}
	}
}
