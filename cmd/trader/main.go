package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"futures-trader/internal/app"
	"futures-trader/internal/config"
	"futures-trader/internal/grid"
	"futures-trader/internal/log"
	"futures-trader/internal/order"
	"futures-trader/internal/store"
	"futures-trader/internal/strategy"
)

const usage = `用法: trader <子命令> [参数]

子命令:
  market      提交市价单
  limit       提交限价单
  stop-limit  提交止损限价单
  oco         建立 OCO 订单对并监控至结束
  twap        启动 TWAP 拆单并执行至结束
  grid        启动网格策略，Ctrl-C 停止
  status      查看本会话登记的订单与策略
  history     查看历史数据库中的订单与策略

每个子命令都接受 -config 与 -live（默认使用模拟网关）。`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var run func([]string) error
	switch cmd {
	case "market":
		run = runMarket
	case "limit":
		run = runLimit
	case "stop-limit":
		run = runStopLimit
	case "oco":
		run = runOCO
	case "twap":
		run = runTWAP
	case "grid":
		run = runGrid
	case "status":
		run = runStatus
	case "history":
		run = runHistory
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "未知子命令: %s\n\n%s\n", cmd, usage)
		os.Exit(1)
	}

	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags 注册各子命令共享的旗标。
func commonFlags(fs *flag.FlagSet) (configPath *string, live *bool) {
	configPath = fs.String("config", "", "配置文件路径，默认使用 configs/config.yaml")
	live = fs.Bool("live", false, "接入真实交易所网关，默认使用模拟网关")
	return
}

// bootstrap 加载配置并组装系统，调用方负责 teardown。
func bootstrap(configPath string, live bool) (*app.App, *zap.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	journal, err := store.NewSQLite(cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	a, err := app.New(cfg, live, logger, journal)
	if err != nil {
		_ = journal.Close()
		_ = logger.Sync()
		return nil, nil, nil, err
	}

	teardown := func() {
		if closeErr := journal.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
		_ = logger.Sync()
	}
	return a, logger, teardown, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runMarket(args []string) error {
	fs := flag.NewFlagSet("market", flag.ExitOnError)
	configPath, live := commonFlags(fs)
	symbol := fs.String("symbol", "", "交易对，如 BTCUSDT")
	side := fs.String("side", "", "方向: BUY 或 SELL")
	qty := fs.Float64("quantity", 0, "数量")
	_ = fs.Parse(args)

	a, _, teardown, err := bootstrap(*configPath, *live)
	if err != nil {
		return err
	}
	defer teardown()

	ctx, stop := signalContext()
	defer stop()

	placed, err := a.Executor.PlaceMarket(ctx, *symbol, *side, *qty)
	if err != nil {
		return err
	}
	printOrder(placed)
	return nil
}

func runLimit(args []string) error {
	fs := flag.NewFlagSet("limit", flag.ExitOnError)
	configPath, live := commonFlags(fs)
	symbol := fs.String("symbol", "", "交易对，如 BTCUSDT")
	side := fs.String("side", "", "方向: BUY 或 SELL")
	qty := fs.Float64("quantity", 0, "数量")
	price := fs.Float64("price", 0, "限价")
	tif := fs.String("tif", string(order.TimeInForceGTC), "有效方式: GTC/IOC/FOK")
	postOnly := fs.Bool("post-only", false, "只做 Maker")
	_ = fs.Parse(args)

	a, _, teardown, err := bootstrap(*configPath, *live)
	if err != nil {
		return err
	}
	defer teardown()

	ctx, stop := signalContext()
	defer stop()

	placed, err := a.Executor.PlaceLimit(ctx, *symbol, *side, *qty, *price, order.TimeInForce(strings.ToUpper(*tif)), *postOnly)
	if err != nil {
		return err
	}
	printOrder(placed)
	return nil
}

func runStopLimit(args []string) error {
	fs := flag.NewFlagSet("stop-limit", flag.ExitOnError)
	configPath, live := commonFlags(fs)
	symbol := fs.String("symbol", "", "交易对，如 BTCUSDT")
	side := fs.String("side", "", "方向: BUY 或 SELL")
	qty := fs.Float64("quantity", 0, "数量")
	stopPrice := fs.Float64("stop", 0, "触发价")
	limitPrice := fs.Float64("limit", 0, "触发后的限价")
	workingType := fs.String("working-type", string(order.WorkingTypeContract), "触发参考价: CONTRACT_PRICE 或 MARK_PRICE")
	_ = fs.Parse(args)

	a, _, teardown, err := bootstrap(*configPath, *live)
	if err != nil {
		return err
	}
	defer teardown()

	ctx, stop := signalContext()
	defer stop()

	placed, err := a.Executor.PlaceStopLimit(ctx, *symbol, *side, *qty, *stopPrice, *limitPrice, order.WorkingType(strings.ToUpper(*workingType)))
	if err != nil {
		return err
	}
	printOrder(placed)
	return nil
}

func runOCO(args []string) error {
	fs := flag.NewFlagSet("oco", flag.ExitOnError)
	configPath, live := commonFlags(fs)
	symbol := fs.String("symbol", "", "交易对，如 BTCUSDT")
	side := fs.String("side", "", "方向: BUY 或 SELL")
	qty := fs.Float64("quantity", 0, "数量")
	takeProfit := fs.Float64("take-profit", 0, "止盈价")
	stopLoss := fs.Float64("stop-loss", 0, "止损触发价")
	stopLossLimit := fs.Float64("stop-loss-limit", 0, "止损限价，默认等于触发价")
	_ = fs.Parse(args)

	a, logger, teardown, err := bootstrap(*configPath, *live)
	if err != nil {
		return err
	}
	defer teardown()

	ctx, stop := signalContext()
	defer stop()

	pair, err := a.OCO.Create(ctx, *symbol, *side, *qty, *takeProfit, *stopLoss, *stopLossLimit)
	if err != nil {
		return err
	}
	fmt.Printf("OCO 订单对 %s 已建立: 止盈单 %s / 止损单 %s\n",
		pair.ID, pair.TakeProfitOrder, pair.StopLossOrder)

	waitCh := make(chan struct{})
	go func() {
		a.OCO.Wait(pair.ID)
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("收到退出信号，撤销 OCO 订单对", zap.String("pairId", pair.ID))
		if _, cancelErr := a.OCO.Cancel(context.Background(), pair.ID); cancelErr != nil {
			return cancelErr
		}
	case <-waitCh:
	}

	final, err := a.OCO.Status(pair.ID)
	if err != nil {
		return err
	}
	fmt.Printf("OCO 订单对 %s 结束，状态: %s\n", final.ID, final.Status)
	return nil
}

func runTWAP(args []string) error {
	fs := flag.NewFlagSet("twap", flag.ExitOnError)
	configPath, live := commonFlags(fs)
	symbol := fs.String("symbol", "", "交易对，如 BTCUSDT")
	side := fs.String("side", "", "方向: BUY 或 SELL")
	qty := fs.Float64("quantity", 0, "总数量")
	splits := fs.Int("splits", 0, "拆单份数")
	interval := fs.Duration("interval", time.Minute, "拆单间隔")
	limitPrice := fs.Float64("limit", 0, "子单限价，0 表示使用市价子单")
	_ = fs.Parse(args)

	a, logger, teardown, err := bootstrap(*configPath, *live)
	if err != nil {
		return err
	}
	defer teardown()

	ctx, stop := signalContext()
	defer stop()

	kind := order.KindMarket
	if *limitPrice > 0 {
		kind = order.KindLimit
	}

	id, err := a.TWAP.Start(ctx, *symbol, *side, *qty, *splits, *interval, kind, *limitPrice, nil)
	if err != nil {
		return err
	}
	fmt.Printf("TWAP 策略 %s 已启动: %d 份，每 %s 一份\n", id, *splits, *interval)

	waitCh := make(chan struct{})
	go func() {
		a.TWAP.Wait(id)
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("收到退出信号，取消 TWAP 策略", zap.String("strategyId", id))
		if cancelErr := a.TWAP.Cancel(id); cancelErr != nil {
			return cancelErr
		}
		<-waitCh
	case <-waitCh:
	}

	snap, err := a.TWAP.Status(id)
	if err != nil {
		return err
	}
	fmt.Printf("TWAP 策略 %s 结束，状态: %s，已提交 %d/%d 份\n",
		snap.ID, snap.Status, snap.SlicesEmitted, snap.Splits)
	return nil
}

func runGrid(args []string) error {
	fs := flag.NewFlagSet("grid", flag.ExitOnError)
	configPath, live := commonFlags(fs)
	symbol := fs.String("symbol", "", "交易对，如 BTCUSDT")
	lower := fs.Float64("lower", 0, "网格下界")
	upper := fs.Float64("upper", 0, "网格上界")
	grids := fs.Int("grids", 0, "网格数量")
	qty := fs.Float64("quantity", 0, "总数量")
	direction := fs.String("direction", string(order.GridLong), "方向: LONG 或 SHORT")
	_ = fs.Parse(args)

	a, logger, teardown, err := bootstrap(*configPath, *live)
	if err != nil {
		return err
	}
	defer teardown()

	ctx, stop := signalContext()
	defer stop()

	id, err := a.Grid.Start(ctx, *symbol, *lower, *upper, *grids, *qty, order.GridDirection(strings.ToUpper(*direction)))
	if err != nil {
		return err
	}
	fmt.Printf("网格策略 %s 已启动: [%g, %g] 共 %d 格，Ctrl-C 停止\n", id, *lower, *upper, *grids)

	<-ctx.Done()
	logger.Info("收到退出信号，停止网格策略", zap.String("strategyId", id))
	if stopErr := a.Grid.Stop(context.Background(), id); stopErr != nil {
		fmt.Fprintf(os.Stderr, "部分挂单撤销失败: %v\n", stopErr)
	}

	snap, err := a.Grid.Status(id)
	if err != nil {
		return err
	}
	printGridSnapshot(snap)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath, live := commonFlags(fs)
	_ = fs.Parse(args)

	a, _, teardown, err := bootstrap(*configPath, *live)
	if err != nil {
		return err
	}
	defer teardown()

	orders := a.Ledger.Orders()
	strategies := a.Ledger.Strategies()
	fmt.Printf("本会话订单 %d 笔，策略 %d 个\n", len(orders), len(strategies))
	for _, o := range orders {
		printOrder(o)
	}
	for _, rec := range strategies {
		printStrategy(rec.ID, rec.Kind, rec.Symbol, rec.Status, len(rec.Children))
	}
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "配置文件路径，默认使用 configs/config.yaml")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	journal, err := store.NewSQLite(cfg.Database)
	if err != nil {
		return fmt.Errorf("打开历史数据库失败: %w", err)
	}
	defer journal.Close()

	orders, err := journal.ListOrders()
	if err != nil {
		return err
	}
	strategies, err := journal.ListStrategies()
	if err != nil {
		return err
	}

	fmt.Printf("历史订单 %d 笔，历史策略 %d 个\n", len(orders), len(strategies))
	for _, o := range orders {
		printOrder(o)
	}
	for _, rec := range strategies {
		printStrategy(rec.ID, rec.Kind, rec.Symbol, rec.Status, len(rec.Children))
	}
	return nil
}

func printOrder(o order.Order) {
	fmt.Printf("订单 %s  %s %s %s  数量 %g  状态 %s  成交 %g @ %g\n",
		o.ID, o.Symbol, o.Side, o.Kind, o.Quantity, o.Status, o.FilledQty, o.AvgPrice)
}

func printStrategy(id string, kind strategy.Kind, symbol string, status strategy.Status, children int) {
	fmt.Printf("策略 %s  %s %s  状态 %s  子订单 %d 笔\n", id, kind, symbol, status, children)
}

func printGridSnapshot(snap grid.Snapshot) {
	fmt.Printf("网格策略 %s 状态 %s，累计盈亏 %g\n", snap.ID, snap.Status, snap.TotalPnL)
	for _, lvl := range snap.Levels {
		open := lvl.OpenOrder
		if open == "" {
			open = "-"
		}
		fmt.Printf("  价位 %2d  %g  方向 %s  挂单 %s  循环 %d  盈亏 %g\n",
			lvl.Index, lvl.Price, lvl.NextSide, open, lvl.Cycles, lvl.RealizedPnL)
	}
}
