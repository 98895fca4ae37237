package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"futures-trader/internal/order"
)

// 模拟器参考价表，未列出的交易对使用默认价。
var simulatedPrices = map[string]float64{
	"BTCUSDT":  42500.50,
	"ETHUSDT":  2350.25,
	"BNBUSDT":  615.80,
	"ADAUSDT":  0.98,
	"DOGEUSDT": 0.38,
}

const defaultSimulatedPrice = 100.0

type simulatedOrder struct {
	req       Request
	status    order.Status
	filledQty float64
	avgPrice  float64
}

// Simulator 为确定性网关实现：市价单立即按参考价全部成交，
// 限价与止损限价单保持挂单，等待测试钩子驱动成交。
type Simulator struct {
	mu     sync.Mutex
	seq    int64
	orders map[string]*simulatedOrder
	prices map[string]float64
	logger *zap.Logger

	rejectNext    bool
	transientNext bool
}

// NewSimulator 创建模拟网关。
func NewSimulator(logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	prices := make(map[string]float64, len(simulatedPrices))
	for k, v := range simulatedPrices {
		prices[k] = v
	}
	return &Simulator{
		seq:    12345678,
		orders: make(map[string]*simulatedOrder),
		prices: prices,
		logger: logger,
	}
}

// SubmitOrder 受理委托。市价单立即成交。
func (s *Simulator) SubmitOrder(ctx context.Context, req Request) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transientNext {
		s.transientNext = false
		return Ack{}, fmt.Errorf("%w: simulated timeout", ErrTransient)
	}
	if s.rejectNext {
		s.rejectNext = false
		return Ack{}, fmt.Errorf("%w: simulated rejection", ErrRejected)
	}

	s.seq++
	id := strconv.FormatInt(s.seq, 10)
	sim := &simulatedOrder{req: req, status: order.StatusNew}

	if req.Kind == order.KindMarket {
		price := s.priceLocked(req.Symbol)
		sim.status = order.StatusFilled
		sim.filledQty = req.Quantity
		sim.avgPrice = price
	}

	s.orders[id] = sim
	s.logger.Debug("模拟网关受理委托",
		zap.String("orderId", id),
		zap.String("symbol", req.Symbol),
		zap.String("kind", string(req.Kind)),
		zap.String("status", string(sim.status)),
	)

	return s.ackLocked(id, sim), nil
}

// CancelOrder 撤销挂单。已终态订单返回当前状态。
func (s *Simulator) CancelOrder(ctx context.Context, symbol, orderID string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sim, ok := s.orders[orderID]
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if sim.status.IsOpen() {
		sim.status = order.StatusCanceled
	}
	return s.ackLocked(orderID, sim), nil
}

// QueryOrder 返回订单最新状态。
func (s *Simulator) QueryOrder(ctx context.Context, symbol, orderID string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sim, ok := s.orders[orderID]
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return s.ackLocked(orderID, sim), nil
}

// GetPrice 返回参考价。
func (s *Simulator) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priceLocked(symbol), nil
}

// SetPrice 覆盖某交易对的参考价。
func (s *Simulator) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// FillOrder 将一笔挂单按给定价格完全成交，用于驱动测试场景。
func (s *Simulator) FillOrder(orderID string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sim, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if !sim.status.IsOpen() {
		return fmt.Errorf("simulator: 订单 %s 已处于终态 %s", orderID, sim.status)
	}
	if price <= 0 {
		price = s.priceLocked(sim.req.Symbol)
	}
	sim.status = order.StatusFilled
	sim.filledQty = sim.req.Quantity
	sim.avgPrice = price
	return nil
}

// RejectNext 使下一次提交返回拒单错误。
func (s *Simulator) RejectNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = true
}

// FailNextTransient 使下一次提交返回瞬时错误。
func (s *Simulator) FailNextTransient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transientNext = true
}

// OpenOrders 返回指定交易对当前挂单号，按受理顺序排序由调用方负责。
func (s *Simulator) OpenOrders(symbol string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, sim := range s.orders {
		if sim.req.Symbol == symbol && sim.status.IsOpen() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Simulator) priceLocked(symbol string) float64 {
	if p, ok := s.prices[symbol]; ok {
		return p
	}
	return defaultSimulatedPrice
}

func (s *Simulator) ackLocked(id string, sim *simulatedOrder) Ack {
	return Ack{
		OrderID:   id,
		Status:    sim.status,
		FilledQty: sim.filledQty,
		AvgPrice:  sim.avgPrice,
	}
}
