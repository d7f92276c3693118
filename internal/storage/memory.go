// Package storage 订单状态与交易记录的存储实现。
package storage

import (
	"context"
	"sync"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/ports"
)

// MemoryOrderStore 进程内订单状态存储
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.OrderSnapshot
}

var _ ports.OrderStore = (*MemoryOrderStore)(nil)

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]domain.OrderSnapshot)}
}

// UpsertOrder 按订单 ID 写入（存在则覆盖）
func (s *MemoryOrderStore) UpsertOrder(_ context.Context, order *domain.Order) error {
	snap := order.Snapshot()
	s.mu.Lock()
	s.orders[snap.ID] = snap
	s.mu.Unlock()
	return nil
}

// GetOrder 按 ID 读取
func (s *MemoryOrderStore) GetOrder(_ context.Context, id string) (domain.OrderSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok, nil
}

// Len 当前条目数
func (s *MemoryOrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
