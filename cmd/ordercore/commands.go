package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/trader"
)

// 命令类型
const (
	opTick   = "tick"   // tick SYMBOL PRICE
	opOrder  = "order"  // order KIND SYMBOL QTY PRICE [STOP] [link=ORDER_ID]
	opCancel = "cancel" // cancel SYMBOL
	opFill   = "fill"   // fill ORDER_ID
	opRisk   = "risk"   // risk VALUE
	opStatus = "status" // status
)

// command 一行输入解析后的命令
type command struct {
	op       string
	symbol   string
	kind     domain.OrderKind
	quantity decimal.Decimal
	price    decimal.Decimal
	stop     decimal.Decimal
	linkID   string
	orderID  string
}

// parseCommand 解析一行输入；空行与 # 注释返回 ok=false
func parseCommand(line string) (cmd command, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return command{}, false, nil
	}
	fields := strings.Fields(line)
	cmd.op = strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd.op {
	case opTick:
		if len(args) != 2 {
			return cmd, false, fmt.Errorf("用法: tick SYMBOL PRICE")
		}
		if cmd.symbol, err = normalizeSymbol(args[0]); err != nil {
			return cmd, false, err
		}
		if cmd.price, err = parsePositive("price", args[1]); err != nil {
			return cmd, false, err
		}

	case opOrder:
		if len(args) < 4 {
			return cmd, false, fmt.Errorf("用法: order KIND SYMBOL QTY PRICE [STOP] [link=ORDER_ID]")
		}
		cmd.kind = domain.OrderKind(strings.ToLower(args[0]))
		if cmd.symbol, err = normalizeSymbol(args[1]); err != nil {
			return cmd, false, err
		}
		if cmd.quantity, err = parsePositive("quantity", args[2]); err != nil {
			return cmd, false, err
		}
		if cmd.price, err = decimal.NewFromString(args[3]); err != nil {
			return cmd, false, fmt.Errorf("price 无效: %w", err)
		}
		for _, a := range args[4:] {
			if id, found := strings.CutPrefix(a, "link="); found {
				cmd.linkID = id
				continue
			}
			if cmd.stop, err = decimal.NewFromString(a); err != nil {
				return cmd, false, fmt.Errorf("stop 无效: %w", err)
			}
		}

	case opCancel:
		if len(args) != 1 {
			return cmd, false, fmt.Errorf("用法: cancel SYMBOL")
		}
		if cmd.symbol, err = normalizeSymbol(args[0]); err != nil {
			return cmd, false, err
		}

	case opFill:
		if len(args) != 1 {
			return cmd, false, fmt.Errorf("用法: fill ORDER_ID")
		}
		cmd.orderID = args[0]

	case opRisk:
		if len(args) != 1 {
			return cmd, false, fmt.Errorf("用法: risk VALUE")
		}
		if cmd.price, err = decimal.NewFromString(args[0]); err != nil {
			return cmd, false, fmt.Errorf("risk 无效: %w", err)
		}

	case opStatus:

	default:
		return cmd, false, fmt.Errorf("未知命令: %s", fields[0])
	}
	return cmd, true, nil
}

func normalizeSymbol(s string) (string, error) {
	base, quote, err := domain.SplitSymbol(strings.ToUpper(s))
	if err != nil {
		return "", err
	}
	return domain.MergeSymbol(base, quote), nil
}

func parsePositive(name, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s 无效: %w", name, err)
	}
	if !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s 必须大于 0", name)
	}
	return v, nil
}

// executor 把命令落到交易器上
type executor struct {
	trader *trader.Trader

	mu     sync.Mutex
	orders map[string]*domain.Order // 本次运行创建的订单

	log *logrus.Entry
}

func newExecutor(t *trader.Trader) *executor {
	return &executor{
		trader: t,
		orders: make(map[string]*domain.Order),
		log:    logrus.WithField("component", "command"),
	}
}

func (e *executor) lookup(id string) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return nil, fmt.Errorf("订单不存在: %s", id)
	}
	return o, nil
}

// execute 执行一条命令
func (e *executor) execute(ctx context.Context, cmd command) error {
	t := e.trader
	switch cmd.op {
	case opTick:
		t.OrdersManager().SubmitPrice(cmd.symbol, cmd.price)

	case opOrder:
		if !t.Enabled() {
			return fmt.Errorf("交易器未启用")
		}
		var linked *domain.Order
		if cmd.linkID != "" {
			o, err := e.lookup(cmd.linkID)
			if err != nil {
				return err
			}
			linked = o
		}
		current, ok := t.TradesManager().LastPrice(cmd.symbol)
		if !ok {
			current = cmd.price
		}
		order, err := t.CreateOrder(ctx, cmd.kind, cmd.symbol, current, cmd.quantity, cmd.price, cmd.stop, linked)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.orders[order.ID] = order
		e.mu.Unlock()
		e.log.WithFields(logrus.Fields{"orderID": order.ID, "symbol": order.Symbol}).Info("订单已创建")

	case opCancel:
		t.CancelOpenOrders(ctx, cmd.symbol)

	case opFill:
		o, err := e.lookup(cmd.orderID)
		if err != nil {
			return err
		}
		t.NotifyOrderClose(ctx, o, false)

	case opRisk:
		t.SetRisk(cmd.price)
		e.log.Infof("风险系数: %s", t.Risk())

	case opStatus:
		e.logStatus()
	}
	return nil
}

func (e *executor) logStatus() {
	t := e.trader
	p := t.TradesManager().Profitability()
	fields := logrus.Fields{
		"openOrders": len(t.OpenOrders()),
		"trades":     len(t.TradesManager().History()),
		"pnl":        p.Absolute.StringFixed(8),
		"pnlPercent": p.Percent.StringFixed(4),
	}
	for asset, b := range t.Portfolio().Snapshot() {
		fields[asset] = b.Available.String() + "/" + b.Total.String()
	}
	counters := metrics.Snapshot()
	fields["fullResets"] = counters["ledger_full_resets"]
	fields["violations"] = counters["ledger_invariant_violations"]
	e.log.WithFields(fields).Info("📊 状态")
}
