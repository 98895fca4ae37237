// Package app 组装系统各组件：网关、台账、执行器与三类策略。
package app

import (
	"go.uber.org/zap"

	"futures-trader/internal/config"
	"futures-trader/internal/execution"
	"futures-trader/internal/gateway"
	"futures-trader/internal/grid"
	"futures-trader/internal/ledger"
	"futures-trader/internal/oco"
	"futures-trader/internal/order"
	"futures-trader/internal/store"
	"futures-trader/internal/twap"
)

// App 聚合核心依赖，命令行各子命令通过它访问系统组件。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Gateway  gateway.Gateway
	Ledger   *ledger.Ledger
	Executor *execution.Executor
	OCO      *oco.Coordinator
	TWAP     *twap.Scheduler
	Grid     *grid.Engine
}

// New 按配置构建全部组件。live 为 false 时使用内置模拟网关，
// 不触达真实交易所。
func New(cfg *config.Config, live bool, logger *zap.Logger, journal *store.Store) (*App, error) {
	var gw gateway.Gateway
	if live {
		client, err := gateway.NewClient(cfg.Gateway, logger)
		if err != nil {
			return nil, err
		}
		gw = client
	} else {
		gw = gateway.NewSimulator(logger)
	}

	led := ledger.New(journal, logger)
	validator := order.NewValidator(cfg.OrderLimits())
	exec := execution.NewExecutor(gw, led, validator, logger)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		Gateway:  gw,
		Ledger:   led,
		Executor: exec,
		OCO:      oco.NewCoordinator(exec, led, cfg.OCO.PollInterval, logger),
		TWAP:     twap.NewScheduler(exec, led, cfg.TWAP.MaxSliceFailures, logger),
		Grid:     grid.NewEngine(exec, gw, led, cfg.Grid.PollInterval, logger),
	}

	logger.Info("交易系统已初始化",
		zap.String("environment", cfg.App.Environment),
		zap.Bool("live", live),
		zap.Int("symbols", len(cfg.Limits.Symbols)),
	)
	return a, nil
}
