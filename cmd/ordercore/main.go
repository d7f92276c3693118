package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/channels"
	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/notify"
	"github.com/betbot/ordercore/internal/portfolio"
	"github.com/betbot/ordercore/internal/ports"
	"github.com/betbot/ordercore/internal/storage"
	"github.com/betbot/ordercore/internal/trader"
	"github.com/betbot/ordercore/internal/trades"
	"github.com/betbot/ordercore/pkg/config"
	"github.com/betbot/ordercore/pkg/logger"
	"github.com/betbot/ordercore/pkg/persistence"
	"github.com/betbot/ordercore/pkg/shutdown"
)

const portfolioStateID = "ordercore"

// 关闭阶段
const (
	stagePrices = iota
	stageChannel
	stageStorage
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	envPath := flag.String("env", ".env", ".env 文件路径（不存在则忽略）")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "加载 %s 失败: %v\n", *envPath, err)
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置无效: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, os.Stdin); err != nil {
		logrus.Errorf("运行失败: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, input io.Reader) error {
	sm := shutdown.NewManager()

	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr); err != nil {
			logrus.Errorf("metrics/pprof 启动失败: %v", err)
		}
	}

	store, err := openOrderStore(cfg, sm)
	if err != nil {
		return err
	}
	journal, err := openTradeJournal(cfg, sm)
	if err != nil {
		return err
	}

	pf := portfolio.New(cfg.StartingPortfolio)
	if cfg.Storage.StateDir != "" {
		svc := persistence.NewJSONFileService(cfg.Storage.StateDir)
		if found, err := pf.Load(svc, portfolioStateID); err != nil {
			logrus.Warnf("加载组合快照失败: %v", err)
		} else if found {
			logrus.Infof("已从快照恢复组合: %v", pf.Assets())
		}
		sm.OnShutdown(stageStorage, "portfolio", func(context.Context) error {
			return pf.Save(svc, portfolioStateID)
		})
	}

	tm := trades.NewManager(cfg.ReferenceMarket, pf, journal)

	ordersChannel := channels.NewOrdersChannel(store)
	if _, err := ordersChannel.NewConsumer(ctx, logOrderUpdate, cfg.ConsumerQueueSize, ""); err != nil {
		return err
	}
	sm.OnShutdown(stageChannel, "orders_channel", func(context.Context) error {
		ordersChannel.Stop()
		return nil
	})

	t := trader.New(trader.Config{
		Exchange: cfg.Trader.Exchange,
		Enabled:  cfg.Trader.Enabled,
		Simulate: cfg.Trader.Simulate,
		Risk:     cfg.Trader.Risk,
	}, pf, tm, ordersChannel.Producer(), notify.NewLogSink())
	if !t.Enabled() {
		logrus.Warn("⚠️ 交易器未启用：只处理价格，不接受下单")
	}

	t.OrdersManager().Start(ctx)
	sm.OnShutdown(stagePrices, "orders_manager", func(context.Context) error {
		t.OrdersManager().Stop()
		return nil
	})

	logrus.Infof("✅ ordercore 已启动: exchange=%s reference=%s risk=%s", t.Exchange(), tm.Reference(), t.Risk())
	replay(ctx, newExecutor(t), input)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if failed := sm.Shutdown(shutdownCtx); failed > 0 {
		return fmt.Errorf("%d 个关闭回调失败", failed)
	}
	_ = logger.Close()
	return nil
}

// replay 逐行读取命令直到输入结束或 ctx 取消
func replay(ctx context.Context, exec *executor, input io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logrus.Errorf("读取输入失败: %v", err)
		}
	}()

	lineNo := 0
	for {
		select {
		case <-ctx.Done():
			logrus.Info("🛑 收到退出信号")
			return
		case line, ok := <-lines:
			if !ok {
				logrus.Info("输入结束")
				return
			}
			lineNo++
			cmd, ok, err := parseCommand(line)
			if err != nil {
				logrus.Warnf("第 %d 行: %v", lineNo, err)
				continue
			}
			if !ok {
				continue
			}
			if err := exec.execute(ctx, cmd); err != nil {
				logrus.Warnf("第 %d 行执行失败: %v", lineNo, err)
			}
		}
	}
}

func openOrderStore(cfg *config.Config, sm *shutdown.Manager) (ports.OrderStore, error) {
	if cfg.Storage.OrderStorePath == "" {
		logrus.Info("订单状态存储: 内存")
		return storage.NewMemoryOrderStore(), nil
	}
	s, err := storage.OpenBadgerOrderStore(storage.BadgerOptions{Path: cfg.Storage.OrderStorePath})
	if err != nil {
		return nil, err
	}
	sm.OnShutdown(stageStorage, "order_store", func(context.Context) error { return s.Close() })
	logrus.Infof("订单状态存储: badger %s", cfg.Storage.OrderStorePath)
	return s, nil
}

func openTradeJournal(cfg *config.Config, sm *shutdown.Manager) (ports.TradeJournal, error) {
	if cfg.Storage.TradeJournalPath == "" {
		return nil, nil
	}
	j, err := storage.OpenSQLiteTradeJournal(cfg.Storage.TradeJournalPath)
	if err != nil {
		return nil, err
	}
	sm.OnShutdown(stageStorage, "trade_journal", func(context.Context) error { return j.Close() })
	logrus.Infof("交易记录: sqlite %s", cfg.Storage.TradeJournalPath)
	return j, nil
}

func logOrderUpdate(_ context.Context, symbol string, order *domain.Order) error {
	s := order.Snapshot()
	logrus.WithFields(logrus.Fields{
		"component": "order_feed",
		"symbol":    symbol,
		"orderID":   s.ID,
		"kind":      s.Kind,
		"status":    s.Status,
	}).Info("📬 订单更新")
	return nil
}
