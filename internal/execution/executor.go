// Package execution 实现核心订单通道：校验、提交网关、登记台账。
package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"futures-trader/internal/gateway"
	"futures-trader/internal/ledger"
	"futures-trader/internal/order"
)

// Executor 将订单请求转化为网关委托并登记到台账。
// 调用期间不持有任何共享锁，网关阻塞不影响其他任务。
type Executor struct {
	gateway   gateway.Gateway
	ledger    *ledger.Ledger
	validator *order.Validator
	logger    *zap.Logger
}

// NewExecutor 创建执行器。
func NewExecutor(gw gateway.Gateway, led *ledger.Ledger, validator *order.Validator, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		gateway:   gw,
		ledger:    led,
		validator: validator,
		logger:    logger,
	}
}

// Validator 返回底层校验器，供策略在提交前做交叉校验。
func (e *Executor) Validator() *order.Validator {
	return e.validator
}

// PlaceMarket 提交市价单。
func (e *Executor) PlaceMarket(ctx context.Context, symbol, side string, qty float64) (order.Order, error) {
	spec, err := e.validator.Market(symbol, side, qty)
	if err != nil {
		e.logValidationFailure("MARKET", symbol, err)
		return order.Order{}, err
	}

	req := gateway.Request{
		ClientID: uuid.NewString(),
		Symbol:   spec.Symbol,
		Side:     spec.Side,
		Kind:     order.KindMarket,
		Quantity: spec.Quantity,
	}
	return e.submit(ctx, req)
}

// PlaceLimit 提交限价单。
func (e *Executor) PlaceLimit(ctx context.Context, symbol, side string, qty, price float64, tif order.TimeInForce, postOnly bool) (order.Order, error) {
	spec, err := e.validator.Limit(symbol, side, qty, price, tif)
	if err != nil {
		e.logValidationFailure("LIMIT", symbol, err)
		return order.Order{}, err
	}

	req := gateway.Request{
		ClientID:    uuid.NewString(),
		Symbol:      spec.Symbol,
		Side:        spec.Side,
		Kind:        order.KindLimit,
		Quantity:    spec.Quantity,
		Price:       spec.Price,
		TimeInForce: spec.TimeInForce,
		PostOnly:    postOnly,
	}
	return e.submit(ctx, req)
}

// PlaceStopLimit 提交止损限价单。
func (e *Executor) PlaceStopLimit(ctx context.Context, symbol, side string, qty, stopPrice, limitPrice float64, workingType order.WorkingType) (order.Order, error) {
	spec, err := e.validator.StopLimit(symbol, side, qty, stopPrice, limitPrice, workingType)
	if err != nil {
		e.logValidationFailure("STOP_LIMIT", symbol, err)
		return order.Order{}, err
	}

	req := gateway.Request{
		ClientID:    uuid.NewString(),
		Symbol:      spec.Symbol,
		Side:        spec.Side,
		Kind:        order.KindStopLimit,
		Quantity:    spec.Quantity,
		Price:       spec.LimitPrice,
		StopPrice:   spec.StopPrice,
		WorkingType: spec.WorkingType,
		TimeInForce: order.TimeInForceGTC,
	}
	return e.submit(ctx, req)
}

// Cancel 撤销订单并刷新台账记录。
func (e *Executor) Cancel(ctx context.Context, symbol, orderID string) (order.Order, error) {
	ack, err := e.gateway.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		e.logger.Warn("撤单失败",
			zap.String("orderId", orderID),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return order.Order{}, err
	}

	updated, err := e.ledger.ApplyAck(orderID, ack.Status, ack.FilledQty, ack.AvgPrice)
	if err != nil {
		return order.Order{}, err
	}

	e.logger.Info("订单状态变更",
		zap.String("orderId", orderID),
		zap.String("symbol", symbol),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// Refresh 查询网关并把最新状态写回台账。
func (e *Executor) Refresh(ctx context.Context, symbol, orderID string) (order.Order, error) {
	ack, err := e.gateway.QueryOrder(ctx, symbol, orderID)
	if err != nil {
		return order.Order{}, err
	}

	before, _ := e.ledger.Order(orderID)
	updated, err := e.ledger.ApplyAck(orderID, ack.Status, ack.FilledQty, ack.AvgPrice)
	if err != nil {
		return order.Order{}, err
	}

	if before.Status != updated.Status {
		e.logger.Info("订单状态变更",
			zap.String("orderId", orderID),
			zap.String("symbol", symbol),
			zap.String("from", string(before.Status)),
			zap.String("to", string(updated.Status)),
		)
	}
	return updated, nil
}

// Submit 提交一条已经完成校验的网关委托并登记台账。
// 供策略在通过各自的交叉校验后直接构造委托使用。
func (e *Executor) Submit(ctx context.Context, req gateway.Request) (order.Order, error) {
	return e.submit(ctx, req)
}

func (e *Executor) submit(ctx context.Context, req gateway.Request) (order.Order, error) {
	ack, err := e.gateway.SubmitOrder(ctx, req)
	if err != nil {
		e.logger.Error("委托提交失败",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.String("kind", string(req.Kind)),
			zap.Float64("quantity", req.Quantity),
			zap.Error(err),
		)
		return order.Order{}, err
	}

	now := time.Now().UTC()
	recorded := order.Order{
		ID:          ack.OrderID,
		ClientID:    req.ClientID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Kind:        req.Kind,
		Quantity:    req.Quantity,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		WorkingType: req.WorkingType,
		TimeInForce: req.TimeInForce,
		Status:      ack.Status,
		FilledQty:   ack.FilledQty,
		AvgPrice:    ack.AvgPrice,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.ledger.InsertOrder(recorded); err != nil {
		return order.Order{}, err
	}

	e.logger.Info("委托已提交",
		zap.String("orderId", recorded.ID),
		zap.String("symbol", recorded.Symbol),
		zap.String("side", string(recorded.Side)),
		zap.String("kind", string(recorded.Kind)),
		zap.Float64("quantity", recorded.Quantity),
		zap.String("status", string(recorded.Status)),
	)
	return recorded, nil
}

func (e *Executor) logValidationFailure(kind, symbol string, err error) {
	e.logger.Warn("订单校验未通过",
		zap.String("kind", kind),
		zap.String("symbol", symbol),
		zap.Error(err),
	)
}
