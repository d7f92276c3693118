package storage

import (
	"context"
	"encoding/json"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/ports"
)

const orderKeyPrefix = "order:"

// BadgerOrderStore 基于 Badger 的持久化订单状态存储
type BadgerOrderStore struct {
	db *badger.DB
}

var _ ports.OrderStore = (*BadgerOrderStore)(nil)

// BadgerOptions 打开参数；Path 为空时使用内存模式
type BadgerOptions struct {
	Path     string
	ReadOnly bool
}

func OpenBadgerOrderStore(opts BadgerOptions) (*BadgerOrderStore, error) {
	var bopts badger.Options
	if strings.TrimSpace(opts.Path) == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Path).WithReadOnly(opts.ReadOnly)
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "open badger order store")
	}
	return &BadgerOrderStore{db: db}, nil
}

func (s *BadgerOrderStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertOrder 以 JSON 快照写入，后写覆盖
func (s *BadgerOrderStore) UpsertOrder(_ context.Context, order *domain.Order) error {
	snap := order.Snapshot()
	v, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrapf(err, "marshal order %s", snap.ID)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(orderKeyPrefix+snap.ID), v)
	})
	return errors.Wrapf(err, "upsert order %s", snap.ID)
}

// GetOrder 按 ID 读取
func (s *BadgerOrderStore) GetOrder(_ context.Context, id string) (domain.OrderSnapshot, bool, error) {
	var out domain.OrderSnapshot
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(orderKeyPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		return domain.OrderSnapshot{}, false, errors.Wrapf(err, "get order %s", id)
	}
	return out, found, nil
}

// ListOrders 返回所有订单快照
func (s *BadgerOrderStore) ListOrders(_ context.Context) ([]domain.OrderSnapshot, error) {
	var out []domain.OrderSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(orderKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var snap domain.OrderSnapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return err
			}
			out = append(out, snap)
		}
		return nil
	})
	return out, errors.Wrap(err, "list orders")
}
