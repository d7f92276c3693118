package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade 交易记录（由一次成交的订单派生）
// Order 是订单（可能未成交），Trade 是已执行的交易
type Trade struct {
	ID            string          `json:"id"`
	Exchange      string          `json:"exchange"`
	OrderID       string          `json:"order_id"`
	Symbol        string          `json:"symbol"`
	Kind          OrderKind       `json:"kind"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Profitability decimal.Decimal `json:"profitability"`
	Time          time.Time       `json:"time"`
}

// NewTrade 由交易所与成交订单生成交易记录
func NewTrade(exchange string, order *Order) Trade {
	s := order.Snapshot()
	t := Trade{
		ID:            uuid.NewString(),
		Exchange:      exchange,
		OrderID:       s.ID,
		Symbol:        s.Symbol,
		Kind:          s.Kind,
		Side:          s.Side,
		Price:         s.FilledPrice,
		Quantity:      s.Quantity,
		Profitability: s.Profitability,
		Time:          time.Now(),
	}
	if s.FilledAt != nil {
		t.Time = *s.FilledAt
	}
	return t
}

// Cost 成交金额
func (t Trade) Cost() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}
