package metrics

import "expvar"

var (
	// 广播
	OrderUpdatesBroadcast = expvar.NewInt("order_updates_broadcast")
	OrderUpdatesSkipped   = expvar.NewInt("order_updates_skipped_no_consumer")
	OrderUpdatesDropped   = expvar.NewInt("order_updates_dropped")
	BroadcastsCanceled    = expvar.NewInt("order_broadcasts_canceled")

	// 订单生命周期
	OrdersCreated  = expvar.NewInt("orders_created")
	OrdersFilled   = expvar.NewInt("orders_filled")
	OrdersCanceled = expvar.NewInt("orders_canceled")

	// 账本
	LedgerFullResets = expvar.NewInt("ledger_full_resets")
	LedgerViolations = expvar.NewInt("ledger_invariant_violations")

	// 交易历史
	TradesRecorded     = expvar.NewInt("trades_recorded")
	TradeJournalErrors = expvar.NewInt("trade_journal_errors")
	OrderStoreErrors   = expvar.NewInt("order_store_errors")
)

var counters = map[string]*expvar.Int{
	"order_updates_broadcast":           OrderUpdatesBroadcast,
	"order_updates_skipped_no_consumer": OrderUpdatesSkipped,
	"order_updates_dropped":             OrderUpdatesDropped,
	"order_broadcasts_canceled":         BroadcastsCanceled,
	"orders_created":                    OrdersCreated,
	"orders_filled":                     OrdersFilled,
	"orders_canceled":                   OrdersCanceled,
	"ledger_full_resets":                LedgerFullResets,
	"ledger_invariant_violations":       LedgerViolations,
	"trades_recorded":                   TradesRecorded,
	"trade_journal_errors":              TradeJournalErrors,
	"order_store_errors":                OrderStoreErrors,
}

// Snapshot 当前计数器取值，供状态日志使用
func Snapshot() map[string]int64 {
	out := make(map[string]int64, len(counters))
	for name, c := range counters {
		out[name] = c.Value()
	}
	return out
}
