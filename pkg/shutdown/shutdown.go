package shutdown

import (
	"context"
	"sort"
	"sync"

	"github.com/betbot/ordercore/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
//
// 同一阶段（stage）的回调并发执行；阶段之间按注册的阶段号从小到大依次执行，
// 例如先停止价格循环，再停止通道，最后落盘。
type Manager struct {
	mu     sync.Mutex
	stages map[int][]namedHandler
	done   bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{stages: make(map[int][]namedHandler)}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(stage int, name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage] = append(m.stages[stage], namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）。
// ctx 应该是一个带超时的 context，避免无限等待；返回失败的回调数量。
func (m *Manager) Shutdown(ctx context.Context) int {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return 0
	}
	m.done = true
	order := make([]int, 0, len(m.stages))
	for s := range m.stages {
		order = append(order, s)
	}
	stages := m.stages
	m.mu.Unlock()

	sort.Ints(order)
	if len(order) == 0 {
		logger.Info("没有注册的关闭回调")
		return 0
	}

	failed := 0
	for _, s := range order {
		failed += m.runStage(ctx, s, stages[s])
		if ctx.Err() != nil {
			logger.Warnf("关闭超时: %v", ctx.Err())
			return failed
		}
	}
	logger.Info("所有关闭回调已完成")
	return failed
}

func (m *Manager) runStage(ctx context.Context, stage int, handlers []namedHandler) int {
	logger.Infof("开始关闭阶段 %d，共 %d 个回调", stage, len(handlers))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	wg.Add(len(handlers))
	for _, h := range handlers {
		go func(h namedHandler) {
			defer wg.Done()
			if err := h.fn(ctx); err != nil {
				logger.Errorf("关闭回调 %s 失败: %v", h.name, err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	mu.Lock()
	defer mu.Unlock()
	return failed
}
