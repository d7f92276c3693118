// Package portfolio 资金账本：按资产记录总额与可用额，并为每个未结订单记一笔占用。
//
// 所有修改都必须通过 WithLock 在独占访问下进行；Tx 只在回调内有效。
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
)

var (
	// ErrReservationMissing 释放了不存在的占用（重复释放或从未占用）
	ErrReservationMissing = errors.New("reservation missing")
	// ErrReservationExists 同一订单重复占用
	ErrReservationExists = errors.New("reservation already exists")
)

// Balance 单个资产的余额
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

type reservation struct {
	asset  string
	amount decimal.Decimal
}

// Stats 账本操作计数（按实例）
type Stats struct {
	Reserves    int
	FullResets  int
	FillUpdates int
	Violations  int
}

// Portfolio 资金账本
type Portfolio struct {
	mu           sync.Mutex
	balances     map[string]*Balance
	reservations map[string]reservation
	stats        Stats

	log *logrus.Entry
}

// New 用初始余额创建账本（初始可用额 = 总额）
func New(initial map[string]decimal.Decimal) *Portfolio {
	p := &Portfolio{
		balances:     make(map[string]*Balance, len(initial)),
		reservations: make(map[string]reservation),
		log:          logrus.WithField("component", "portfolio"),
	}
	for asset, amount := range initial {
		p.balances[asset] = &Balance{Total: amount, Available: amount}
	}
	return p
}

// WithLock 在独占访问下执行 fn；无论 fn 如何返回都会释放锁
func (p *Portfolio) WithLock(fn func(tx *Tx) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(&Tx{p: p})
}

// ResetAvailable 加锁执行全量重算
func (p *Portfolio) ResetAvailable(openOrders []*domain.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	(&Tx{p: p}).ResetAvailable(openOrders)
}

// Total 资产总额
func (p *Portfolio) Total(asset string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance(asset).Total
}

// Available 资产可用额
func (p *Portfolio) Available(asset string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance(asset).Available
}

// Reserved 订单当前的占用额（不存在返回 false）
func (p *Portfolio) Reserved(orderID string) (string, decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reservations[orderID]
	return r.asset, r.amount, ok
}

// Reservations 当前占用笔数
func (p *Portfolio) Reservations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reservations)
}

// Stats 返回操作计数
func (p *Portfolio) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Snapshot 返回余额副本
func (p *Portfolio) Snapshot() map[string]Balance {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Balance, len(p.balances))
	for asset, b := range p.balances {
		out[asset] = *b
	}
	return out
}

// Assets 返回所有资产（排序后）
func (p *Portfolio) Assets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.balances))
	for asset := range p.balances {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

// Value 以 reference 计价的总资产。price 返回 "ASSET/REFERENCE" 的最新价，
// 无价格的资产不计入。
func (p *Portfolio) Value(reference string, price func(symbol string) (decimal.Decimal, bool)) decimal.Decimal {
	snapshot := p.Snapshot()
	total := decimal.Zero
	for asset, b := range snapshot {
		if asset == reference {
			total = total.Add(b.Total)
			continue
		}
		if px, ok := price(domain.MergeSymbol(asset, reference)); ok {
			total = total.Add(b.Total.Mul(px))
		}
	}
	return total
}

func (p *Portfolio) balance(asset string) *Balance {
	b, ok := p.balances[asset]
	if !ok {
		b = &Balance{Total: decimal.Zero, Available: decimal.Zero}
		p.balances[asset] = b
	}
	return b
}

// violation 记录账本不变量被破坏：程序错误，响亮地记录，不做静默修正
func (p *Portfolio) violation(err error, order *domain.Order) error {
	p.stats.Violations++
	metrics.LedgerViolations.Add(1)
	p.log.WithError(err).WithFields(logrus.Fields{
		"orderID": order.ID,
		"symbol":  order.Symbol,
	}).Error("🚨 账本不变量被破坏")
	return fmt.Errorf("order %s: %w", order.ID, err)
}

// requirement 计算订单需要占用的资产与数量：
// 买单占用报价货币 price*quantity；卖单占用基础货币 quantity；保护性订单占用 0。
func requirement(order *domain.Order) (string, decimal.Decimal, error) {
	base, quote, err := domain.SplitSymbol(order.Symbol)
	if err != nil {
		return "", decimal.Zero, err
	}
	if order.Side == domain.SideBuy {
		return quote, order.Cost(), nil
	}
	if order.Protective() {
		return base, decimal.Zero, nil
	}
	return base, order.Quantity, nil
}
