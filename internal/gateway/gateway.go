package gateway

import (
	"context"

	"futures-trader/internal/order"
)

// Request 描述一次提交到交易所的委托。
type Request struct {
	ClientID    string
	Symbol      string
	Side        order.Side
	Kind        order.Kind
	Quantity    float64
	Price       float64
	StopPrice   float64
	WorkingType order.WorkingType
	TimeInForce order.TimeInForce
	PostOnly    bool
	ReduceOnly  bool
}

// Ack 为交易所对委托的最新回执。
type Ack struct {
	OrderID   string
	Status    order.Status
	FilledQty float64
	AvgPrice  float64
}

// Gateway 抽象交易所能力，真实网络客户端与确定性模拟器
// 提供相同语义，引擎逻辑对二者完全一致。
type Gateway interface {
	SubmitOrder(ctx context.Context, req Request) (Ack, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (Ack, error)
	QueryOrder(ctx context.Context, symbol, orderID string) (Ack, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
}
