package order

import "time"

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Kind 表示订单类型，取值集合封闭。
type Kind string

const (
	KindMarket    Kind = "MARKET"
	KindLimit     Kind = "LIMIT"
	KindStopLimit Kind = "STOP_LIMIT"
)

// Status 表示交易所上报的订单状态。
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// IsTerminal 判断状态是否为终态。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsFilled 判断订单是否已完全成交。
func (s Status) IsFilled() bool {
	return s == StatusFilled
}

// IsOpen 判断订单是否仍在挂单中。
func (s Status) IsOpen() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// TimeInForce 表示订单有效方式。
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// WorkingType 表示止损触发所参考的价格类型。
type WorkingType string

const (
	WorkingTypeContract WorkingType = "CONTRACT_PRICE"
	WorkingTypeMark     WorkingType = "MARK_PRICE"
)

// Order 为台账中的订单记录。提交后由台账独占持有，
// 仅通过状态更新事件修改。
type Order struct {
	ID          string
	ClientID    string
	Symbol      string
	Side        Side
	Kind        Kind
	Quantity    float64
	Price       float64
	StopPrice   float64
	WorkingType WorkingType
	TimeInForce TimeInForce
	Status      Status
	FilledQty   float64
	AvgPrice    float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
