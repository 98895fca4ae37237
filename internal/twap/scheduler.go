// Package twap 实现时间加权拆单：把一笔大单拆成 N 笔子单，
// 按固定间隔在后台依次提交。
package twap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-trader/internal/execution"
	"futures-trader/internal/ledger"
	"futures-trader/internal/order"
	"futures-trader/internal/strategy"
)

// 子单数量保留到合约数量精度，余量并入最后一笔，
// 保证子单数量之和与请求总量完全一致。
const quantityPrecision = 8

// Snapshot 为 TWAP 策略的状态快照。
type Snapshot struct {
	ID              string
	Symbol          string
	Side            order.Side
	TotalQuantity   float64
	Splits          int
	Interval        time.Duration
	Kind            order.Kind
	LimitPrice      float64
	Status          strategy.Status
	SlicesEmitted   int
	SlicesRemaining int
	Children        []string
}

// OnSlice 在子单到达终态后被调用，不阻塞后续拆单。
type OnSlice func(child order.Order)

type twapState struct {
	id       string
	spec     order.TWAPSpec
	status   strategy.Status
	emitted  int
	children []string
	onSlice  OnSlice
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler 调度后台 TWAP 策略。
type Scheduler struct {
	exec             *execution.Executor
	ledger           *ledger.Ledger
	logger           *zap.Logger
	maxSliceFailures int

	mu         sync.Mutex
	strategies map[string]*twapState
}

// NewScheduler 创建 TWAP 调度器。
func NewScheduler(exec *execution.Executor, led *ledger.Ledger, maxSliceFailures int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSliceFailures <= 0 {
		maxSliceFailures = 3
	}
	return &Scheduler{
		exec:             exec,
		ledger:           led,
		logger:           logger,
		maxSliceFailures: maxSliceFailures,
		strategies:       make(map[string]*twapState),
	}
}

// Start 校验并启动一个 TWAP 策略，立即返回策略号。
func (s *Scheduler) Start(ctx context.Context, symbol, side string, totalQty float64, splits int, interval time.Duration, kind order.Kind, limitPrice float64, onSlice OnSlice) (string, error) {
	spec, err := s.exec.Validator().TWAP(symbol, side, totalQty, splits, interval, kind, limitPrice)
	if err != nil {
		s.logger.Warn("TWAP 校验未通过", zap.String("symbol", symbol), zap.Error(err))
		return "", err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	if err := s.ledger.RegisterStrategy(ledger.StrategyRecord{
		ID:        id,
		Kind:      strategy.KindTWAP,
		Symbol:    spec.Symbol,
		Status:    strategy.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	state := &twapState{
		id:      id,
		spec:    spec,
		status:  strategy.StatusRunning,
		onSlice: onSlice,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.strategies[id] = state
	s.mu.Unlock()

	go s.run(runCtx, state)

	s.logger.Info("TWAP 策略已启动",
		zap.String("strategyId", id),
		zap.String("symbol", spec.Symbol),
		zap.String("side", string(spec.Side)),
		zap.Float64("totalQuantity", spec.TotalQuantity),
		zap.Int("splits", spec.Splits),
		zap.Duration("interval", spec.Interval),
	)
	return id, nil
}

// Cancel 取消一个运行中的策略。调度器在下一次拆单检查点停止。
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	state, ok := s.strategies[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("twap: 策略 %s 不存在", id)
	}
	if state.status != strategy.StatusRunning {
		status := state.status
		s.mu.Unlock()
		return &strategy.StateError{ID: id, Status: status, Op: "cancel"}
	}
	state.status = strategy.StatusCancelled
	s.mu.Unlock()

	state.cancel()

	if _, err := s.ledger.UpdateStrategyStatus(id, strategy.StatusCancelled); err != nil {
		s.logger.Warn("TWAP 状态登记失败", zap.String("strategyId", id), zap.Error(err))
	}
	s.logger.Info("TWAP 策略已取消", zap.String("strategyId", id))
	return nil
}

// Status 返回策略快照。
func (s *Scheduler) Status(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.strategies[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("twap: 策略 %s 不存在", id)
	}
	return s.snapshotLocked(state), nil
}

// Wait 阻塞直到策略的后台任务退出。
func (s *Scheduler) Wait(id string) {
	s.mu.Lock()
	state, ok := s.strategies[id]
	s.mu.Unlock()
	if ok {
		<-state.done
	}
}

func (s *Scheduler) run(ctx context.Context, state *twapState) {
	defer close(state.done)

	quantities := SliceQuantities(state.spec.TotalQuantity, state.spec.Splits)
	consecutiveFailures := 0

	for i := 0; i < state.spec.Splits; i++ {
		if i > 0 {
			timer := time.NewTimer(state.spec.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		// 取消检查发生在每次拆单提交之前，而不只在启动时。
		s.mu.Lock()
		if state.status != strategy.StatusRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}

		child, err := s.emitSlice(ctx, state, quantities[i])
		if err != nil {
			consecutiveFailures++
			s.logger.Warn("TWAP 子单提交失败",
				zap.String("strategyId", state.id),
				zap.Int("slice", i+1),
				zap.Int("consecutiveFailures", consecutiveFailures),
				zap.Error(err),
			)
			if i == 0 || consecutiveFailures >= s.maxSliceFailures {
				s.conclude(state, strategy.StatusFailed)
				return
			}
			continue
		}

		consecutiveFailures = 0

		s.mu.Lock()
		state.emitted++
		state.children = append(state.children, child.ID)
		emitted := state.emitted
		s.mu.Unlock()

		if err := s.ledger.AppendChild(state.id, child.ID); err != nil {
			s.logger.Warn("TWAP 子单登记失败", zap.String("strategyId", state.id), zap.Error(err))
		}

		s.logger.Info("TWAP 子单已提交",
			zap.String("strategyId", state.id),
			zap.Int("slice", emitted),
			zap.Int("splits", state.spec.Splits),
			zap.String("orderId", child.ID),
			zap.Float64("quantity", child.Quantity),
		)

		if state.onSlice != nil {
			go s.notifySlice(ctx, state, child)
		}
	}

	s.conclude(state, strategy.StatusCompleted)
}

func (s *Scheduler) emitSlice(ctx context.Context, state *twapState, qty float64) (order.Order, error) {
	spec := state.spec
	switch spec.Kind {
	case order.KindLimit:
		return s.exec.PlaceLimit(ctx, spec.Symbol, string(spec.Side), qty, spec.LimitPrice, order.TimeInForceGTC, false)
	default:
		return s.exec.PlaceMarket(ctx, spec.Symbol, string(spec.Side), qty)
	}
}

// notifySlice 等待子单进入终态后触发回调，不阻塞后续拆单。
// 策略结束时上下文被取消，回调协程做最后一次查询后退出，
// 仍未成交的子单不再守候。
func (s *Scheduler) notifySlice(ctx context.Context, state *twapState, child order.Order) {
	current := child
	for !current.Status.IsTerminal() {
		timer := time.NewTimer(state.spec.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			refreshed, err := s.exec.Refresh(context.Background(), current.Symbol, current.ID)
			if err == nil && refreshed.Status.IsTerminal() {
				state.onSlice(refreshed)
			}
			return
		case <-timer.C:
		}
		refreshed, err := s.exec.Refresh(ctx, current.Symbol, current.ID)
		if err != nil {
			continue
		}
		current = refreshed
	}
	state.onSlice(current)
}

func (s *Scheduler) conclude(state *twapState, status strategy.Status) {
	s.mu.Lock()
	if state.status != strategy.StatusRunning {
		s.mu.Unlock()
		return
	}
	state.status = status
	s.mu.Unlock()

	// 终态后回收运行上下文，回调协程随之退出。
	state.cancel()

	if _, err := s.ledger.UpdateStrategyStatus(state.id, status); err != nil {
		s.logger.Warn("TWAP 状态登记失败", zap.String("strategyId", state.id), zap.Error(err))
	}
	s.logger.Info("TWAP 策略结束",
		zap.String("strategyId", state.id),
		zap.String("status", string(status)),
		zap.Int("slicesEmitted", state.emitted),
	)
}

func (s *Scheduler) snapshotLocked(state *twapState) Snapshot {
	return Snapshot{
		ID:              state.id,
		Symbol:          state.spec.Symbol,
		Side:            state.spec.Side,
		TotalQuantity:   state.spec.TotalQuantity,
		Splits:          state.spec.Splits,
		Interval:        state.spec.Interval,
		Kind:            state.spec.Kind,
		LimitPrice:      state.spec.LimitPrice,
		Status:          state.status,
		SlicesEmitted:   state.emitted,
		SlicesRemaining: state.spec.Splits - state.emitted,
		Children:        append([]string(nil), state.children...),
	}
}

// SliceQuantities 把总量拆成 splits 份：前 splits-1 份按数量精度
// 截断，余量并入最后一份，因此各份之和恰好等于总量。
func SliceQuantities(total float64, splits int) []float64 {
	totalDec := decimal.NewFromFloat(total)
	per := totalDec.Div(decimal.NewFromInt(int64(splits))).Truncate(quantityPrecision)

	out := make([]float64, splits)
	for i := 0; i < splits-1; i++ {
		out[i] = per.InexactFloat64()
	}
	last := totalDec.Sub(per.Mul(decimal.NewFromInt(int64(splits - 1))))
	out[splits-1] = last.InexactFloat64()
	return out
}
