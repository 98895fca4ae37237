// Package grid 实现网格策略：在价格区间内铺设等距价位，
// 成交后立即在同一价位挂出反向订单，使网格自我维持。
package grid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"futures-trader/internal/execution"
	"futures-trader/internal/gateway"
	"futures-trader/internal/ledger"
	"futures-trader/internal/order"
	"futures-trader/internal/strategy"
)

const quantityPrecision = 8

// Level 为单个网格价位的快照。同一价位最多只有一笔挂单。
type Level struct {
	Index       int
	Price       float64
	NextSide    order.Side
	OpenOrder   string
	RealizedPnL float64
	Cycles      int
}

// Snapshot 为网格策略的状态快照。
type Snapshot struct {
	ID               string
	Symbol           string
	Direction        order.GridDirection
	LowerPrice       float64
	UpperPrice       float64
	Grids            int
	QuantityPerLevel float64
	Status           strategy.Status
	Levels           []Level
	TotalPnL         float64
}

type gridState struct {
	id     string
	spec   order.GridSpec
	qty    float64
	status strategy.Status
	levels []Level
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine 调度后台网格策略。
type Engine struct {
	exec         *execution.Executor
	gateway      gateway.Gateway
	ledger       *ledger.Ledger
	logger       *zap.Logger
	pollInterval time.Duration

	mu         sync.Mutex
	strategies map[string]*gridState
}

// NewEngine 创建网格引擎。
func NewEngine(exec *execution.Executor, gw gateway.Gateway, led *ledger.Ledger, pollInterval time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Engine{
		exec:         exec,
		gateway:      gw,
		ledger:       led,
		logger:       logger,
		pollInterval: pollInterval,
		strategies:   make(map[string]*gridState),
	}
}

// Start 校验并启动网格策略：计算 grids+1 个等距价位，
// 低于参考价的价位挂买单，其余挂卖单（SHORT 镜像），
// 然后由后台任务监控成交并再平衡。
func (e *Engine) Start(ctx context.Context, symbol string, lower, upper float64, grids int, totalQty float64, direction order.GridDirection) (string, error) {
	spec, err := e.exec.Validator().Grid(symbol, lower, upper, grids, totalQty, direction)
	if err != nil {
		e.logger.Warn("网格校验未通过", zap.String("symbol", symbol), zap.Error(err))
		return "", err
	}

	refPrice, err := e.gateway.GetPrice(ctx, spec.Symbol)
	if err != nil {
		return "", fmt.Errorf("grid: 获取参考价失败: %w", err)
	}

	prices := Levels(spec.LowerPrice, spec.UpperPrice, spec.Grids)
	qtyPerLevel := quantityPerLevel(spec.TotalQuantity, spec.Grids)

	levels := make([]Level, len(prices))
	for i, price := range prices {
		levels[i] = Level{
			Index:    i,
			Price:    price,
			NextSide: initialSide(price, refPrice, spec.Direction),
		}
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	if err := e.ledger.RegisterStrategy(ledger.StrategyRecord{
		ID:        id,
		Kind:      strategy.KindGrid,
		Symbol:    spec.Symbol,
		Status:    strategy.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	state := &gridState{
		id:     id,
		spec:   spec,
		qty:    qtyPerLevel,
		status: strategy.StatusActive,
		levels: levels,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.placeInitialOrders(ctx, state)

	e.mu.Lock()
	e.strategies[id] = state
	e.mu.Unlock()

	go e.watch(runCtx, state)

	e.logger.Info("网格策略已启动",
		zap.String("strategyId", id),
		zap.String("symbol", spec.Symbol),
		zap.String("direction", string(spec.Direction)),
		zap.Float64("lowerPrice", spec.LowerPrice),
		zap.Float64("upperPrice", spec.UpperPrice),
		zap.Int("grids", spec.Grids),
		zap.Float64("referencePrice", refPrice),
	)
	return id, nil
}

// Stop 尽力撤销全部挂单并关闭策略。单个撤单失败不阻断
// 其余价位的撤销，失败汇总后返回给调用方。
func (e *Engine) Stop(ctx context.Context, id string) error {
	e.mu.Lock()
	state, ok := e.strategies[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("grid: 策略 %s 不存在", id)
	}
	if state.status != strategy.StatusActive {
		status := state.status
		e.mu.Unlock()
		return &strategy.StateError{ID: id, Status: status, Op: "stop"}
	}
	state.status = strategy.StatusCancelled
	e.mu.Unlock()

	state.cancel()
	<-state.done

	// 监控协程已退出，期间在途的再平衡挂单也已登记完毕，
	// 此时收集的挂单集合不会再变化。
	e.mu.Lock()
	open := make(map[int]string)
	for _, lvl := range state.levels {
		if lvl.OpenOrder != "" {
			open[lvl.Index] = lvl.OpenOrder
		}
	}
	e.mu.Unlock()

	var cancelErrs error
	for idx, orderID := range open {
		if _, err := e.exec.Cancel(ctx, state.spec.Symbol, orderID); err != nil {
			cancelErrs = multierr.Append(cancelErrs, fmt.Errorf("grid: 价位 %d 订单 %s 撤销失败: %w", idx, orderID, err))
			continue
		}
		e.clearOpenOrder(state, idx, orderID)
	}

	if _, err := e.ledger.UpdateStrategyStatus(id, strategy.StatusCancelled); err != nil {
		e.logger.Warn("网格状态登记失败", zap.String("strategyId", id), zap.Error(err))
	}

	e.logger.Info("网格策略已停止",
		zap.String("strategyId", id),
		zap.Int("openOrders", len(open)),
		zap.Bool("cancelFailures", cancelErrs != nil),
	)
	return cancelErrs
}

// Status 返回策略快照及各价位累计盈亏。
func (e *Engine) Status(id string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.strategies[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("grid: 策略 %s 不存在", id)
	}

	snap := Snapshot{
		ID:               state.id,
		Symbol:           state.spec.Symbol,
		Direction:        state.spec.Direction,
		LowerPrice:       state.spec.LowerPrice,
		UpperPrice:       state.spec.UpperPrice,
		Grids:            state.spec.Grids,
		QuantityPerLevel: state.qty,
		Status:           state.status,
		Levels:           append([]Level(nil), state.levels...),
	}
	for _, lvl := range state.levels {
		snap.TotalPnL += lvl.RealizedPnL
	}
	return snap, nil
}

// Wait 阻塞直到策略的后台任务退出。
func (e *Engine) Wait(id string) {
	e.mu.Lock()
	state, ok := e.strategies[id]
	e.mu.Unlock()
	if ok {
		<-state.done
	}
}

// placeInitialOrders 并发铺设各价位的首批挂单。
// 单个价位失败只使该价位闲置，不放弃整个策略。
func (e *Engine) placeInitialOrders(ctx context.Context, state *gridState) {
	group, groupCtx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i := range state.levels {
		idx := i
		group.Go(func() error {
			lvl := state.levels[idx]
			placed, err := e.exec.PlaceLimit(groupCtx, state.spec.Symbol, string(lvl.NextSide), state.qty, lvl.Price, order.TimeInForceGTC, true)
			if err != nil {
				e.logger.Warn("网格价位挂单失败",
					zap.String("strategyId", state.id),
					zap.Int("level", idx),
					zap.Float64("price", lvl.Price),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			state.levels[idx].OpenOrder = placed.ID
			mu.Unlock()
			if err := e.ledger.AppendChild(state.id, placed.ID); err != nil {
				e.logger.Warn("网格子单登记失败", zap.String("strategyId", state.id), zap.Error(err))
			}
			return nil
		})
	}
	_ = group.Wait()
}

func (e *Engine) watch(ctx context.Context, state *gridState) {
	defer close(state.done)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for i := range state.levels {
			e.mu.Lock()
			if state.status != strategy.StatusActive {
				e.mu.Unlock()
				return
			}
			lvl := state.levels[i]
			e.mu.Unlock()

			if lvl.OpenOrder == "" {
				continue
			}

			refreshed, err := e.exec.Refresh(ctx, state.spec.Symbol, lvl.OpenOrder)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if !refreshed.Status.IsFilled() {
				continue
			}

			e.rebalance(ctx, state, i, refreshed)
		}
	}
}

// rebalance 在价位成交后记账并在同一价位挂出反向订单。
// 再平衡前检查取消标志，挂单中的网关调用允许自然完成。
func (e *Engine) rebalance(ctx context.Context, state *gridState, idx int, filled order.Order) {
	e.mu.Lock()
	if state.status != strategy.StatusActive {
		e.mu.Unlock()
		return
	}
	lvl := &state.levels[idx]
	contribution := cycleContribution(filled, lvl.Price, state.spec.Direction)
	lvl.RealizedPnL += contribution
	lvl.Cycles++
	lvl.OpenOrder = ""
	nextSide := filled.Side.Opposite()
	lvl.NextSide = nextSide
	price := lvl.Price
	cycles := lvl.Cycles
	e.mu.Unlock()

	e.logger.Info("网格价位成交，执行再平衡",
		zap.String("strategyId", state.id),
		zap.Int("level", idx),
		zap.Float64("price", price),
		zap.Float64("fillPrice", filled.AvgPrice),
		zap.Float64("pnlContribution", contribution),
		zap.Int("cycles", cycles),
		zap.String("nextSide", string(nextSide)),
	)

	placed, err := e.exec.PlaceLimit(ctx, state.spec.Symbol, string(nextSide), state.qty, price, order.TimeInForceGTC, true)
	if err != nil {
		e.logger.Warn("网格反向挂单失败",
			zap.String("strategyId", state.id),
			zap.Int("level", idx),
			zap.Error(err),
		)
		return
	}

	e.mu.Lock()
	state.levels[idx].OpenOrder = placed.ID
	e.mu.Unlock()

	if err := e.ledger.AppendChild(state.id, placed.ID); err != nil {
		e.logger.Warn("网格子单登记失败", zap.String("strategyId", state.id), zap.Error(err))
	}
}

func (e *Engine) clearOpenOrder(state *gridState, idx int, orderID string) {
	e.mu.Lock()
	if state.levels[idx].OpenOrder == orderID {
		state.levels[idx].OpenOrder = ""
	}
	e.mu.Unlock()
}

// Levels 计算 grids+1 个等距价位，首尾分别精确等于上下界。
func Levels(lower, upper float64, grids int) []float64 {
	lowerDec := decimal.NewFromFloat(lower)
	upperDec := decimal.NewFromFloat(upper)
	step := upperDec.Sub(lowerDec).Div(decimal.NewFromInt(int64(grids)))

	out := make([]float64, grids+1)
	out[0] = lower
	for i := 1; i < grids; i++ {
		out[i] = lowerDec.Add(step.Mul(decimal.NewFromInt(int64(i)))).InexactFloat64()
	}
	out[grids] = upper
	return out
}

func quantityPerLevel(total float64, grids int) float64 {
	return decimal.NewFromFloat(total).
		Div(decimal.NewFromInt(int64(grids))).
		Truncate(quantityPrecision).
		InexactFloat64()
}

// initialSide 决定某价位的首单方向：低于参考价挂买单，
// 其余挂卖单；SHORT 网格在参考价上的边界取向相反。
func initialSide(price, refPrice float64, direction order.GridDirection) order.Side {
	if direction == order.GridShort {
		if price > refPrice {
			return order.SideSell
		}
		return order.SideBuy
	}
	if price < refPrice {
		return order.SideBuy
	}
	return order.SideSell
}

// cycleContribution 计算一次买卖循环的已实现盈亏贡献：
// 成交价相对价位参考价的有利偏移，按方向取符号。
func cycleContribution(filled order.Order, levelPrice float64, direction order.GridDirection) float64 {
	fillPrice := filled.AvgPrice
	if fillPrice <= 0 {
		fillPrice = levelPrice
	}

	var favorable float64
	if filled.Side == order.SideBuy {
		favorable = (levelPrice - fillPrice) * filled.FilledQty
	} else {
		favorable = (fillPrice - levelPrice) * filled.FilledQty
	}
	if direction == order.GridShort {
		return -favorable
	}
	return favorable
}
