package portfolio

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
)

// Tx 持锁期间对账本的操作视图，只能在 WithLock 回调内使用
type Tx struct {
	p *Portfolio
}

// Available 资产可用额
func (tx *Tx) Available(asset string) decimal.Decimal {
	return tx.p.balance(asset).Available
}

// Total 资产总额
func (tx *Tx) Total(asset string) decimal.Decimal {
	return tx.p.balance(asset).Total
}

// ReserveOrder 为新订单占用资金
func (tx *Tx) ReserveOrder(order *domain.Order) error {
	p := tx.p
	if _, ok := p.reservations[order.ID]; ok {
		return p.violation(ErrReservationExists, order)
	}
	asset, amount, err := requirement(order)
	if err != nil {
		return err
	}
	b := p.balance(asset)
	b.Available = b.Available.Sub(amount)
	p.reservations[order.ID] = reservation{asset: asset, amount: amount}
	p.stats.Reserves++

	p.log.WithFields(logrus.Fields{
		"orderID":   order.ID,
		"asset":     asset,
		"amount":    amount.String(),
		"available": b.Available.String(),
	}).Debug("占用资金")
	return nil
}

// ResetAvailable 全量重算可用额：可用 = 总额 - 所有未结订单的占用。
// 级联取消可能涉及任意数量的关联订单，因此取消路径总是全量重算而不是逐笔释放。
// 已成交但仍在未结集合中的订单保留占用，直到成交路径增量结算。
func (tx *Tx) ResetAvailable(openOrders []*domain.Order) {
	p := tx.p
	for _, b := range p.balances {
		b.Available = b.Total
	}
	p.reservations = make(map[string]reservation, len(openOrders))
	for _, o := range openOrders {
		if o.IsCanceled() {
			continue
		}
		asset, amount, err := requirement(o)
		if err != nil {
			p.log.WithError(err).WithField("orderID", o.ID).Warn("重算时跳过无法解析的订单")
			continue
		}
		b := p.balance(asset)
		b.Available = b.Available.Sub(amount)
		p.reservations[o.ID] = reservation{asset: asset, amount: amount}
	}
	p.stats.FullResets++
	metrics.LedgerFullResets.Add(1)
	p.log.WithField("openOrders", len(p.reservations)).Debug("全量重算可用额")
}

// UpdatePortfolio 应用一笔成交（增量）：释放该订单的占用并结算余额，
// 同时释放随之被级联取消的关联订单的占用。
func (tx *Tx) UpdatePortfolio(filled *domain.Order, canceled []*domain.Order) error {
	p := tx.p
	base, quote, err := domain.SplitSymbol(filled.Symbol)
	if err != nil {
		return err
	}

	r, ok := p.reservations[filled.ID]
	if !ok {
		// 重复结算会让余额二次入账，直接拒绝
		return p.violation(ErrReservationMissing, filled)
	}
	reserved := r.amount
	delete(p.reservations, filled.ID)

	price := filled.FilledPrice()
	if !price.IsPositive() {
		price = filled.Price
	}
	qty := filled.Quantity
	cost := price.Mul(qty)

	baseBal, quoteBal := p.balance(base), p.balance(quote)
	if filled.Side == domain.SideBuy {
		quoteBal.Total = quoteBal.Total.Sub(cost)
		quoteBal.Available = quoteBal.Available.Add(reserved).Sub(cost)
		baseBal.Total = baseBal.Total.Add(qty)
		baseBal.Available = baseBal.Available.Add(qty)
	} else {
		baseBal.Total = baseBal.Total.Sub(qty)
		baseBal.Available = baseBal.Available.Add(reserved).Sub(qty)
		quoteBal.Total = quoteBal.Total.Add(cost)
		quoteBal.Available = quoteBal.Available.Add(cost)
	}

	var firstErr error
	for _, o := range canceled {
		if err := tx.release(o); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.stats.FillUpdates++

	p.log.WithFields(logrus.Fields{
		"orderID": filled.ID,
		"symbol":  filled.Symbol,
		"side":    filled.Side,
		"price":   price.String(),
		"qty":     qty.String(),
	}).Debug("成交入账")
	return firstErr
}

// release 释放单笔占用
func (tx *Tx) release(order *domain.Order) error {
	p := tx.p
	r, ok := p.reservations[order.ID]
	if !ok {
		return p.violation(ErrReservationMissing, order)
	}
	b := p.balance(r.asset)
	b.Available = b.Available.Add(r.amount)
	delete(p.reservations, order.ID)
	return nil
}
