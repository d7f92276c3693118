// Package channels 订单更新的发布/订阅通道
package channels

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/ports"
	"github.com/betbot/ordercore/pkg/channel"
)

// OrdersChannelName 订单通道名
const OrdersChannelName = "orders"

// OrderUpdate 一条订单更新
type OrderUpdate struct {
	Symbol string
	Order  *domain.Order
}

// OrdersCallback 订阅方回调：交易对 + 订单
type OrdersCallback func(ctx context.Context, symbol string, order *domain.Order) error

// OrdersConsumer 订单订阅者
type OrdersConsumer = channel.Consumer[OrderUpdate]

// OrdersChannel 订单通道：按交易对（或 Wildcard）扇出订单更新
type OrdersChannel struct {
	ch    *channel.Channel[OrderUpdate]
	store ports.OrderStore
}

// NewOrdersChannel 创建订单通道，store 为权威订单状态存储
func NewOrdersChannel(store ports.OrderStore) *OrdersChannel {
	return &OrdersChannel{
		ch:    channel.New[OrderUpdate](OrdersChannelName),
		store: store,
	}
}

// NewConsumer 订阅交易对 symbol 的订单更新；symbol 为空时订阅所有交易对。
// size > 0 为有界队列，0 为无界。
func (c *OrdersChannel) NewConsumer(ctx context.Context, callback OrdersCallback, size int, symbol string) (*OrdersConsumer, error) {
	key := symbol
	if key == "" {
		key = channel.Wildcard
	}
	return c.ch.NewConsumer(ctx, key, func(ctx context.Context, u OrderUpdate) error {
		return callback(ctx, u.Symbol, u.Order)
	}, size)
}

// Consumers 返回 key 下的订阅者（精确匹配）
func (c *OrdersChannel) Consumers(key string) []*OrdersConsumer {
	return c.ch.ConsumersFor(key)
}

// Producer 返回绑定到该通道的生产者
func (c *OrdersChannel) Producer() *OrdersProducer {
	return &OrdersProducer{
		channel: c,
		log:     logrus.WithField("component", "orders_producer"),
	}
}

// Stop 停止所有订阅者
func (c *OrdersChannel) Stop() {
	c.ch.Stop()
}

// OrdersProducer 订单更新生产者
type OrdersProducer struct {
	channel *OrdersChannel
	log     *logrus.Entry
}

var _ ports.OrderPublisher = (*OrdersProducer)(nil)

// Push 发布订单更新。永远不会把错误抛给调用方：
// 取消只记 info，其它错误（包括 panic）记 error 后吞掉。
func (p *OrdersProducer) Push(ctx context.Context, symbol string, order *domain.Order) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"symbol": symbol,
				"panic":  r,
			}).Errorf("❌ 发布订单更新 panic\n%s", debug.Stack())
		}
	}()

	err := p.Perform(ctx, symbol, order)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.BroadcastsCanceled.Add(1)
		p.log.WithField("symbol", symbol).Infof("订单更新发布被取消: %v", err)
	default:
		p.log.WithError(err).WithField("symbol", symbol).Error("❌ 发布订单更新失败")
	}
}

// Perform 发布一条订单更新：
// 没有任何订阅者时直接返回（不写存储）；否则先写存储，再依次投递给 symbol 和 Wildcard 的订阅者。
func (p *OrdersProducer) Perform(ctx context.Context, symbol string, order *domain.Order) error {
	ch := p.channel.ch
	if !ch.HasConsumers(channel.Wildcard) && !ch.HasConsumers(symbol) {
		metrics.OrderUpdatesSkipped.Add(1)
		return nil
	}

	if p.channel.store != nil {
		if err := p.channel.store.UpsertOrder(ctx, order); err != nil {
			metrics.OrderStoreErrors.Add(1)
			return fmt.Errorf("upsert order %s: %w", order.ID, err)
		}
	}

	update := OrderUpdate{Symbol: symbol, Order: order}
	if err := p.send(ctx, symbol, update); err != nil {
		return err
	}
	if symbol == channel.Wildcard {
		return nil
	}
	return p.send(ctx, channel.Wildcard, update)
}

func (p *OrdersProducer) send(ctx context.Context, key string, update OrderUpdate) error {
	for _, c := range p.channel.ch.ConsumersFor(key) {
		if c.IsStopped() {
			continue
		}
		err := c.Put(ctx, update)
		switch {
		case err == nil:
			metrics.OrderUpdatesBroadcast.Add(1)
		case errors.Is(err, channel.ErrConsumerStopped):
			metrics.OrderUpdatesDropped.Add(1)
		default:
			return err
		}
	}
	return nil
}
