// Package channel 提供按订阅 key 扇出的广播通道。
//
// 一个 Channel 把订阅 key（具体交易对或 Wildcard）映射到有序的 Consumer 列表；
// Wildcard 只是另一个字面 key，只有显式向它投递的生产者才会命中。
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/pkg/syncgroup"
)

// Wildcard 表示“所有交易对”的订阅 key
const Wildcard = "*"

// ErrAlreadyRegistered 表示 consumer 已注册在某个 key 下（一个 consumer 只能属于一个 key）
var ErrAlreadyRegistered = errors.New("consumer already registered")

// Channel 订阅 key -> consumers 的注册表
type Channel[T any] struct {
	name string

	mu        sync.RWMutex
	consumers map[string][]*Consumer[T]

	group *syncgroup.SyncGroup
	log   *logrus.Entry
}

// New 创建 Channel
func New[T any](name string) *Channel[T] {
	return &Channel[T]{
		name:      name,
		consumers: make(map[string][]*Consumer[T]),
		group:     syncgroup.NewSyncGroup(),
		log:       logrus.WithFields(logrus.Fields{"component": "channel", "channel": name}),
	}
}

// Name 返回通道名
func (ch *Channel[T]) Name() string {
	return ch.name
}

// NewConsumer 创建 consumer，注册到 key 下并启动分发循环
func (ch *Channel[T]) NewConsumer(ctx context.Context, key string, callback Callback[T], size int) (*Consumer[T], error) {
	c := NewConsumer(callback, size)
	if err := ch.RegisterConsumer(ctx, key, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RegisterConsumer 把 consumer 注册到 key 下并启动其分发循环。
// 分发循环的生命周期由 ctx 与 Stop() 共同决定。
func (ch *Channel[T]) RegisterConsumer(ctx context.Context, key string, c *Consumer[T]) error {
	c.mu.Lock()
	if c.key != "" {
		c.mu.Unlock()
		return ErrAlreadyRegistered
	}
	c.key = key
	c.mu.Unlock()

	ch.mu.Lock()
	ch.consumers[key] = append(ch.consumers[key], c)
	ch.mu.Unlock()

	ch.group.Go(func() { c.Run(ctx) })
	ch.log.Debugf("注册 consumer: key=%s", key)
	return nil
}

// ConsumersFor 按注册顺序返回 key 下的所有 consumer（精确匹配，返回副本）
func (ch *Channel[T]) ConsumersFor(key string) []*Consumer[T] {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	list := ch.consumers[key]
	if len(list) == 0 {
		return nil
	}
	out := make([]*Consumer[T], len(list))
	copy(out, list)
	return out
}

// HasConsumers key 下是否有已注册的 consumer
func (ch *Channel[T]) HasConsumers(key string) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.consumers[key]) > 0
}

// Keys 返回所有已使用的订阅 key
func (ch *Channel[T]) Keys() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	keys := make([]string, 0, len(ch.consumers))
	for k := range ch.consumers {
		keys = append(keys, k)
	}
	return keys
}

// Stop 停止所有 consumer 并等待分发循环退出
func (ch *Channel[T]) Stop() {
	ch.mu.RLock()
	for _, list := range ch.consumers {
		for _, c := range list {
			c.Stop()
		}
	}
	ch.mu.RUnlock()
	ch.group.Wait()
	ch.log.Info("channel 已停止")
}
