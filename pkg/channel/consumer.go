package channel

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/pkg/sigchan"
)

// ErrConsumerStopped 表示 consumer 已停止，不再接收新的元素
var ErrConsumerStopped = errors.New("consumer stopped")

// Callback 是订阅方的回调。返回的错误只会被记录，不会中断分发循环。
type Callback[T any] func(ctx context.Context, item T) error

// Consumer 持有一个私有 FIFO 队列和一个分发循环。
//
// size > 0 时队列有界，Put 会阻塞直到有空位；size <= 0 时队列无界。
// 队列允许多个生产者并发 Put，只有 Run 一个消费者。
type Consumer[T any] struct {
	callback Callback[T]
	size     int

	mu      sync.Mutex
	items   []T
	stopped bool
	key     string

	itemC  *sigchan.Chan
	spaceC *sigchan.Chan
	stopC  chan struct{}

	log *logrus.Entry
}

// NewConsumer 创建 consumer（尚未启动分发循环，由 Channel 注册时启动）
func NewConsumer[T any](callback Callback[T], size int) *Consumer[T] {
	return &Consumer[T]{
		callback: callback,
		size:     size,
		itemC:    sigchan.New(1),
		spaceC:   sigchan.New(1),
		stopC:    make(chan struct{}),
		log:      logrus.WithField("component", "channel_consumer"),
	}
}

// Key 返回注册时使用的订阅 key（未注册时为空）
func (c *Consumer[T]) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Len 返回当前排队中的元素数量
func (c *Consumer[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Put 将元素放入队列，可在任意 goroutine 中调用。
// 有界队列已满时阻塞，直到出现空位、consumer 停止或 ctx 结束。
func (c *Consumer[T]) Put(ctx context.Context, item T) error {
	for {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return ErrConsumerStopped
		}
		if c.size <= 0 || len(c.items) < c.size {
			c.items = append(c.items, item)
			hasSpace := c.size > 0 && len(c.items) < c.size
			c.mu.Unlock()
			c.itemC.Emit()
			if hasSpace {
				// 把空位信号传给下一个可能在等待的生产者
				c.spaceC.Emit()
			}
			return nil
		}
		c.mu.Unlock()

		select {
		case <-c.spaceC.C():
		case <-c.stopC:
			return ErrConsumerStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop 设置停止标记并唤醒分发循环。已入队但未分发的元素不保证被处理。
func (c *Consumer[T]) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	close(c.stopC)
}

// IsStopped 是否已停止
func (c *Consumer[T]) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Run 分发循环：阻塞等待元素并调用回调，直到 Stop 或 ctx 结束。
func (c *Consumer[T]) Run(ctx context.Context) {
	for !c.IsStopped() {
		item, ok := c.next(ctx)
		if !ok {
			return
		}
		c.dispatch(ctx, item)
	}
}

func (c *Consumer[T]) next(ctx context.Context) (T, bool) {
	var zero T
	for {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return zero, false
		}
		if len(c.items) > 0 {
			item := c.items[0]
			c.items[0] = zero
			c.items = c.items[1:]
			c.mu.Unlock()
			if c.size > 0 {
				c.spaceC.Emit()
			}
			return item, true
		}
		c.mu.Unlock()

		select {
		case <-c.itemC.C():
		case <-c.stopC:
			return zero, false
		case <-ctx.Done():
			return zero, false
		}
	}
}

func (c *Consumer[T]) dispatch(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{
				"key":   c.Key(),
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("❌ consumer 回调 panic，继续分发")
		}
	}()
	if err := c.callback(ctx, item); err != nil {
		c.log.WithError(err).WithField("key", c.Key()).Error("❌ consumer 回调返回错误，继续分发")
	}
}
