// Package oco 实现 One-Cancels-the-Other 订单对的协调。
// 任意一条腿成交后，协调器撤销另一条腿并关闭订单对。
package oco

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"futures-trader/internal/execution"
	"futures-trader/internal/gateway"
	"futures-trader/internal/ledger"
	"futures-trader/internal/order"
	"futures-trader/internal/strategy"
)

// Pair 为一个 OCO 订单对的快照。
type Pair struct {
	ID              string
	Symbol          string
	Side            order.Side
	Quantity        float64
	TakeProfitOrder string
	StopLossOrder   string
	Status          strategy.Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type pairState struct {
	pair   Pair
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator 管理 OCO 订单对的生命周期。
// 单个监控协程按固定顺序观察两条腿，先观察到的成交获胜，
// 因此两腿"同时"成交时不会死锁，也只会发起一次撤单。
type Coordinator struct {
	exec         *execution.Executor
	ledger       *ledger.Ledger
	logger       *zap.Logger
	pollInterval time.Duration

	mu    sync.Mutex
	pairs map[string]*pairState
}

// NewCoordinator 创建 OCO 协调器。
func NewCoordinator(exec *execution.Executor, led *ledger.Ledger, pollInterval time.Duration, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Coordinator{
		exec:         exec,
		ledger:       led,
		logger:       logger,
		pollInterval: pollInterval,
		pairs:        make(map[string]*pairState),
	}
}

// Create 校验并提交订单对的两条腿，随后启动监控。
// 第二条腿被拒时撤销已受理的第一条腿并放弃整个订单对。
func (c *Coordinator) Create(ctx context.Context, symbol, side string, qty, takeProfit, stopLoss, stopLossLimit float64) (Pair, error) {
	spec, err := c.exec.Validator().OCO(symbol, side, qty, takeProfit, stopLoss, stopLossLimit)
	if err != nil {
		c.logger.Warn("OCO 校验未通过", zap.String("symbol", symbol), zap.Error(err))
		return Pair{}, err
	}

	tpLeg, err := c.exec.Submit(ctx, gateway.Request{
		ClientID:    uuid.NewString(),
		Symbol:      spec.Symbol,
		Side:        spec.Side,
		Kind:        order.KindLimit,
		Quantity:    spec.Quantity,
		Price:       spec.TakeProfit,
		TimeInForce: order.TimeInForceGTC,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("oco: 止盈腿提交失败: %w", err)
	}

	slLeg, err := c.exec.Submit(ctx, gateway.Request{
		ClientID:    uuid.NewString(),
		Symbol:      spec.Symbol,
		Side:        spec.Side,
		Kind:        order.KindStopLimit,
		Quantity:    spec.Quantity,
		Price:       spec.StopLossLimit,
		StopPrice:   spec.StopLoss,
		WorkingType: order.WorkingTypeContract,
		TimeInForce: order.TimeInForceGTC,
	})
	if err != nil {
		c.logger.Warn("OCO 止损腿被拒，撤销止盈腿",
			zap.String("takeProfitOrder", tpLeg.ID),
			zap.Error(err),
		)
		if _, cancelErr := c.exec.Cancel(ctx, spec.Symbol, tpLeg.ID); cancelErr != nil {
			c.logger.Warn("止盈腿撤销失败", zap.String("orderId", tpLeg.ID), zap.Error(cancelErr))
		}
		return Pair{}, fmt.Errorf("oco: 止损腿提交失败: %w", err)
	}

	now := time.Now().UTC()
	pair := Pair{
		ID:              uuid.NewString(),
		Symbol:          spec.Symbol,
		Side:            spec.Side,
		Quantity:        spec.Quantity,
		TakeProfitOrder: tpLeg.ID,
		StopLossOrder:   slLeg.ID,
		Status:          strategy.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := c.ledger.RegisterStrategy(ledger.StrategyRecord{
		ID:        pair.ID,
		Kind:      strategy.KindOCO,
		Symbol:    pair.Symbol,
		Status:    pair.Status,
		Children:  []string{tpLeg.ID, slLeg.ID},
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return Pair{}, err
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	state := &pairState{
		pair:   pair,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.pairs[pair.ID] = state
	c.mu.Unlock()

	go c.monitor(monitorCtx, state)

	c.logger.Info("OCO 订单对已建立",
		zap.String("pairId", pair.ID),
		zap.String("symbol", pair.Symbol),
		zap.String("takeProfitOrder", tpLeg.ID),
		zap.String("stopLossOrder", slLeg.ID),
	)
	return pair, nil
}

// Cancel 撤销一个仍然活跃的订单对及其两条腿。
func (c *Coordinator) Cancel(ctx context.Context, id string) (Pair, error) {
	c.mu.Lock()
	state, ok := c.pairs[id]
	if !ok {
		c.mu.Unlock()
		return Pair{}, fmt.Errorf("oco: 订单对 %s 不存在", id)
	}
	if state.pair.Status != strategy.StatusActive {
		status := state.pair.Status
		c.mu.Unlock()
		return Pair{}, &strategy.StateError{ID: id, Status: status, Op: "cancel"}
	}
	pair := state.pair
	c.mu.Unlock()

	state.cancel()
	<-state.done

	// 监控协程可能在我们等待期间把订单对推进到了终态。
	c.mu.Lock()
	if state.pair.Status != strategy.StatusActive {
		pair = state.pair
		c.mu.Unlock()
		if pair.Status != strategy.StatusCancelled {
			return pair, &strategy.StateError{ID: id, Status: pair.Status, Op: "cancel"}
		}
		return pair, nil
	}
	c.mu.Unlock()

	for _, legID := range []string{pair.TakeProfitOrder, pair.StopLossOrder} {
		if _, err := c.exec.Cancel(ctx, pair.Symbol, legID); err != nil {
			c.logger.Warn("OCO 腿撤销失败", zap.String("pairId", id), zap.String("orderId", legID), zap.Error(err))
		}
	}

	return c.conclude(state, strategy.StatusCancelled), nil
}

// Status 返回订单对快照。
func (c *Coordinator) Status(id string) (Pair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.pairs[id]
	if !ok {
		return Pair{}, fmt.Errorf("oco: 订单对 %s 不存在", id)
	}
	return state.pair, nil
}

// Wait 阻塞直到订单对的监控结束，用于测试与命令行同步场景。
func (c *Coordinator) Wait(id string) {
	c.mu.Lock()
	state, ok := c.pairs[id]
	c.mu.Unlock()
	if ok {
		<-state.done
	}
}

func (c *Coordinator) monitor(ctx context.Context, state *pairState) {
	defer close(state.done)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	pair := state.pair
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tp, tpErr := c.exec.Refresh(ctx, pair.Symbol, pair.TakeProfitOrder)
		sl, slErr := c.exec.Refresh(ctx, pair.Symbol, pair.StopLossOrder)
		if tpErr != nil || slErr != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		// 先观察到的成交获胜。
		if tp.Status.IsFilled() {
			c.resolveFill(ctx, state, pair.TakeProfitOrder, pair.StopLossOrder)
			return
		}
		if sl.Status.IsFilled() {
			c.resolveFill(ctx, state, pair.StopLossOrder, pair.TakeProfitOrder)
			return
		}

		if tp.Status == order.StatusCanceled && sl.Status == order.StatusCanceled {
			c.logger.Info("OCO 两条腿均已被外部撤销", zap.String("pairId", pair.ID))
			c.conclude(state, strategy.StatusCancelled)
			return
		}
	}
}

// resolveFill 在一条腿成交后撤销另一条腿并关闭订单对。
// 撤单失败只记录，不重试：单边成交的经济意图已经达成。
func (c *Coordinator) resolveFill(ctx context.Context, state *pairState, filledID, siblingID string) {
	pair := state.pair
	c.logger.Info("OCO 一条腿成交，撤销另一条腿",
		zap.String("pairId", pair.ID),
		zap.String("filledOrder", filledID),
		zap.String("siblingOrder", siblingID),
	)

	if _, err := c.exec.Cancel(ctx, pair.Symbol, siblingID); err != nil {
		c.logger.Warn("OCO 兄弟腿撤销失败",
			zap.String("pairId", pair.ID),
			zap.String("orderId", siblingID),
			zap.Error(err),
		)
	}

	c.conclude(state, strategy.StatusCompleted)
}

func (c *Coordinator) conclude(state *pairState, status strategy.Status) Pair {
	c.mu.Lock()
	state.pair.Status = status
	state.pair.UpdatedAt = time.Now().UTC()
	pair := state.pair
	c.mu.Unlock()

	if _, err := c.ledger.UpdateStrategyStatus(pair.ID, status); err != nil {
		c.logger.Warn("OCO 状态登记失败", zap.String("pairId", pair.ID), zap.Error(err))
	}
	return pair
}
