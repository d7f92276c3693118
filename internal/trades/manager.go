// Package trades 交易历史与收益统计
package trades

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/ports"
)

var hundred = decimal.NewFromInt(100)

// Valuer 以参考货币估值的资产组合
type Valuer interface {
	Value(reference string, price func(symbol string) (decimal.Decimal, bool)) decimal.Decimal
}

// Profitability 收益快照
type Profitability struct {
	Absolute decimal.Decimal // 相对初始估值的绝对收益
	Percent  decimal.Decimal // 百分比收益
	Diff     decimal.Decimal // 与上一次计算相比的百分比变化
}

// Manager 交易历史与收益统计
type Manager struct {
	reference string
	valuer    Valuer
	journal   ports.TradeJournal

	mu          sync.Mutex
	history     []domain.Trade
	prices      map[string]decimal.Decimal
	originValue decimal.Decimal
	last        Profitability

	log *logrus.Entry
}

// NewManager 创建统计器；journal 可为 nil
func NewManager(reference string, valuer Valuer, journal ports.TradeJournal) *Manager {
	return &Manager{
		reference: reference,
		valuer:    valuer,
		journal:   journal,
		prices:    make(map[string]decimal.Decimal),
		log:       logrus.WithField("component", "trades_manager"),
	}
}

// Reference 参考货币
func (m *Manager) Reference() string {
	return m.reference
}

// UpdatePrice 记录交易对最新价格（用于估值）
func (m *Manager) UpdatePrice(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
}

// LastPrice 交易对最新价格
func (m *Manager) LastPrice(symbol string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[symbol]
	return p, ok
}

// AddTrade 追加一条交易记录；写 journal 失败只记录日志
func (m *Manager) AddTrade(ctx context.Context, trade domain.Trade) {
	m.mu.Lock()
	m.history = append(m.history, trade)
	if trade.Price.IsPositive() {
		m.prices[trade.Symbol] = trade.Price
	}
	m.mu.Unlock()
	metrics.TradesRecorded.Add(1)

	if m.journal == nil {
		return
	}
	if err := m.journal.RecordTrade(ctx, trade); err != nil {
		metrics.TradeJournalErrors.Add(1)
		m.log.WithError(err).WithField("tradeID", trade.ID).Error("❌ 写入交易记录失败")
	}
}

// History 交易历史副本
func (m *Manager) History() []domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Trade(nil), m.history...)
}

// Profitability 重新估值并返回收益；首次有效估值作为初始估值
func (m *Manager) Profitability() Profitability {
	current := m.valuer.Value(m.reference, m.LastPrice)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.originValue.IsZero() {
		m.originValue = current
	}
	p := Profitability{Absolute: current.Sub(m.originValue)}
	if m.originValue.IsPositive() {
		p.Percent = p.Absolute.Div(m.originValue).Mul(hundred)
	}
	p.Diff = p.Percent.Sub(m.last.Percent)
	m.last = p
	return p
}

// ProfitabilityWithoutUpdate 返回上一次计算的结果，不重新估值
func (m *Manager) ProfitabilityWithoutUpdate() Profitability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
