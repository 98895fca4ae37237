package order

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError 描述校验失败的字段、规则与原始取值。
// 校验失败的请求永远不会提交到交易所。
type ValidationError struct {
	Field string
	Rule  string
	Value interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order: 字段 %s 校验失败 (%s), 取值: %v", e.Field, e.Rule, e.Value)
}

// Limits 为校验器的域约束配置。
type Limits struct {
	Symbols     map[string]struct{}
	MinQuantity float64
	MaxQuantity float64
	MinPrice    float64
	MaxPrice    float64
	MinSplits   int
	MaxSplits   int
	MinInterval time.Duration
	MinGrids    int
	MaxGrids    int
}

// DefaultSymbols 为常见 USDT 本位合约交易对。
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "DOGEUSDT",
	"XRPUSDT", "MATICUSDT", "SOLUSDT", "LTCUSDT", "LINKUSDT",
	"AVAXUSDT", "ATOMUSDT", "ARBUSDT", "UNIUSDT", "APTUSDT",
	"GALAUSDT", "OPUSDT", "GMXUSDT", "RDNTUSDT", "PEPEUSDT",
}

// DefaultLimits 返回默认域约束。
func DefaultLimits() Limits {
	symbols := make(map[string]struct{}, len(DefaultSymbols))
	for _, s := range DefaultSymbols {
		symbols[s] = struct{}{}
	}
	return Limits{
		Symbols:     symbols,
		MinQuantity: 0.001,
		MaxQuantity: 1000000,
		MinPrice:    0.00001,
		MaxPrice:    999999,
		MinSplits:   2,
		MaxSplits:   100,
		MinInterval: time.Second,
		MinGrids:    2,
		MaxGrids:    100,
	}
}

// Validator 对订单与策略请求做同步、无副作用的校验。
type Validator struct {
	limits Limits
}

// NewValidator 创建校验器。
func NewValidator(limits Limits) *Validator {
	if limits.Symbols == nil {
		limits = DefaultLimits()
	}
	return &Validator{limits: limits}
}

// Symbol 归一化并校验交易对。
func (v *Validator) Symbol(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return "", &ValidationError{Field: "symbol", Rule: "required", Value: symbol}
	}
	if _, ok := v.limits.Symbols[normalized]; !ok {
		return "", &ValidationError{Field: "symbol", Rule: "unsupported", Value: normalized}
	}
	return normalized, nil
}

// Side 归一化并校验方向。
func (v *Validator) Side(side string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(side))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", &ValidationError{Field: "side", Rule: "must be BUY or SELL", Value: side}
}

// Quantity 校验下单数量范围。
func (v *Validator) Quantity(qty float64) (float64, error) {
	if qty <= 0 {
		return 0, &ValidationError{Field: "quantity", Rule: "must be positive", Value: qty}
	}
	if qty < v.limits.MinQuantity {
		return 0, &ValidationError{Field: "quantity", Rule: fmt.Sprintf("below minimum %v", v.limits.MinQuantity), Value: qty}
	}
	if qty > v.limits.MaxQuantity {
		return 0, &ValidationError{Field: "quantity", Rule: fmt.Sprintf("exceeds maximum %v", v.limits.MaxQuantity), Value: qty}
	}
	return qty, nil
}

// Price 校验价格范围。
func (v *Validator) Price(field string, price float64) (float64, error) {
	if price <= 0 {
		return 0, &ValidationError{Field: field, Rule: "must be positive", Value: price}
	}
	if price < v.limits.MinPrice {
		return 0, &ValidationError{Field: field, Rule: fmt.Sprintf("below minimum %v", v.limits.MinPrice), Value: price}
	}
	if price > v.limits.MaxPrice {
		return 0, &ValidationError{Field: field, Rule: fmt.Sprintf("exceeds maximum %v", v.limits.MaxPrice), Value: price}
	}
	return price, nil
}

// MarketSpec 为市价单请求。
type MarketSpec struct {
	Symbol   string
	Side     Side
	Quantity float64
}

// Market 校验市价单请求。
func (v *Validator) Market(symbol, side string, qty float64) (MarketSpec, error) {
	var spec MarketSpec
	var err error
	if spec.Symbol, err = v.Symbol(symbol); err != nil {
		return MarketSpec{}, err
	}
	if spec.Side, err = v.Side(side); err != nil {
		return MarketSpec{}, err
	}
	if spec.Quantity, err = v.Quantity(qty); err != nil {
		return MarketSpec{}, err
	}
	return spec, nil
}

// LimitSpec 为限价单请求。
type LimitSpec struct {
	Symbol      string
	Side        Side
	Quantity    float64
	Price       float64
	TimeInForce TimeInForce
}

// Limit 校验限价单请求。
func (v *Validator) Limit(symbol, side string, qty, price float64, tif TimeInForce) (LimitSpec, error) {
	var spec LimitSpec
	var err error
	if spec.Symbol, err = v.Symbol(symbol); err != nil {
		return LimitSpec{}, err
	}
	if spec.Side, err = v.Side(side); err != nil {
		return LimitSpec{}, err
	}
	if spec.Quantity, err = v.Quantity(qty); err != nil {
		return LimitSpec{}, err
	}
	if spec.Price, err = v.Price("price", price); err != nil {
		return LimitSpec{}, err
	}
	switch tif {
	case "", TimeInForceGTC:
		spec.TimeInForce = TimeInForceGTC
	case TimeInForceIOC, TimeInForceFOK:
		spec.TimeInForce = tif
	default:
		return LimitSpec{}, &ValidationError{Field: "timeInForce", Rule: "must be GTC, IOC or FOK", Value: string(tif)}
	}
	return spec, nil
}

// StopLimitSpec 为止损限价单请求。
type StopLimitSpec struct {
	Symbol      string
	Side        Side
	Quantity    float64
	StopPrice   float64
	LimitPrice  float64
	WorkingType WorkingType
}

// StopLimit 校验止损限价单请求。
// BUY 止损在价格上行时触发，要求 stop < limit；SELL 相反。
func (v *Validator) StopLimit(symbol, side string, qty, stopPrice, limitPrice float64, workingType WorkingType) (StopLimitSpec, error) {
	var spec StopLimitSpec
	var err error
	if spec.Symbol, err = v.Symbol(symbol); err != nil {
		return StopLimitSpec{}, err
	}
	if spec.Side, err = v.Side(side); err != nil {
		return StopLimitSpec{}, err
	}
	if spec.Quantity, err = v.Quantity(qty); err != nil {
		return StopLimitSpec{}, err
	}
	if spec.StopPrice, err = v.Price("stopPrice", stopPrice); err != nil {
		return StopLimitSpec{}, err
	}
	if spec.LimitPrice, err = v.Price("limitPrice", limitPrice); err != nil {
		return StopLimitSpec{}, err
	}
	switch spec.Side {
	case SideBuy:
		if stopPrice >= limitPrice {
			return StopLimitSpec{}, &ValidationError{
				Field: "stopPrice",
				Rule:  fmt.Sprintf("BUY requires stop price < limit price %v", limitPrice),
				Value: stopPrice,
			}
		}
	case SideSell:
		if stopPrice <= limitPrice {
			return StopLimitSpec{}, &ValidationError{
				Field: "stopPrice",
				Rule:  fmt.Sprintf("SELL requires stop price > limit price %v", limitPrice),
				Value: stopPrice,
			}
		}
	}
	switch workingType {
	case "", WorkingTypeContract:
		spec.WorkingType = WorkingTypeContract
	case WorkingTypeMark:
		spec.WorkingType = WorkingTypeMark
	default:
		return StopLimitSpec{}, &ValidationError{Field: "workingType", Rule: "must be CONTRACT_PRICE or MARK_PRICE", Value: string(workingType)}
	}
	return spec, nil
}

// OCOSpec 为 OCO 订单对请求。
type OCOSpec struct {
	Symbol        string
	Side          Side
	Quantity      float64
	TakeProfit    float64
	StopLoss      float64
	StopLossLimit float64
}

// OCO 校验 OCO 请求。BUY 要求止盈价高于止损价，SELL 相反。
func (v *Validator) OCO(symbol, side string, qty, takeProfit, stopLoss, stopLossLimit float64) (OCOSpec, error) {
	var spec OCOSpec
	var err error
	if spec.Symbol, err = v.Symbol(symbol); err != nil {
		return OCOSpec{}, err
	}
	if spec.Side, err = v.Side(side); err != nil {
		return OCOSpec{}, err
	}
	if spec.Quantity, err = v.Quantity(qty); err != nil {
		return OCOSpec{}, err
	}
	if spec.TakeProfit, err = v.Price("takeProfit", takeProfit); err != nil {
		return OCOSpec{}, err
	}
	if spec.StopLoss, err = v.Price("stopLoss", stopLoss); err != nil {
		return OCOSpec{}, err
	}
	switch spec.Side {
	case SideBuy:
		if takeProfit <= stopLoss {
			return OCOSpec{}, &ValidationError{
				Field: "takeProfit",
				Rule:  fmt.Sprintf("BUY requires take profit > stop loss %v", stopLoss),
				Value: takeProfit,
			}
		}
	case SideSell:
		if takeProfit >= stopLoss {
			return OCOSpec{}, &ValidationError{
				Field: "takeProfit",
				Rule:  fmt.Sprintf("SELL requires take profit < stop loss %v", stopLoss),
				Value: takeProfit,
			}
		}
	}
	if stopLossLimit == 0 {
		spec.StopLossLimit = spec.StopLoss
	} else if spec.StopLossLimit, err = v.Price("stopLossLimit", stopLossLimit); err != nil {
		return OCOSpec{}, err
	}
	return spec, nil
}

// TWAPSpec 为时间加权拆单策略请求。
type TWAPSpec struct {
	Symbol        string
	Side          Side
	TotalQuantity float64
	Splits        int
	Interval      time.Duration
	Kind          Kind
	LimitPrice    float64
}

// TWAP 校验 TWAP 策略请求。
func (v *Validator) TWAP(symbol, side string, totalQty float64, splits int, interval time.Duration, kind Kind, limitPrice float64) (TWAPSpec, error) {
	var spec TWAPSpec
	var err error
	if spec.Symbol, err = v.Symbol(symbol); err != nil {
		return TWAPSpec{}, err
	}
	if spec.Side, err = v.Side(side); err != nil {
		return TWAPSpec{}, err
	}
	if spec.TotalQuantity, err = v.Quantity(totalQty); err != nil {
		return TWAPSpec{}, err
	}
	if splits < v.limits.MinSplits {
		return TWAPSpec{}, &ValidationError{Field: "splits", Rule: fmt.Sprintf("must be at least %d", v.limits.MinSplits), Value: splits}
	}
	if splits > v.limits.MaxSplits {
		return TWAPSpec{}, &ValidationError{Field: "splits", Rule: fmt.Sprintf("cannot exceed %d", v.limits.MaxSplits), Value: splits}
	}
	spec.Splits = splits
	if interval < v.limits.MinInterval {
		return TWAPSpec{}, &ValidationError{Field: "interval", Rule: fmt.Sprintf("minimum is %s", v.limits.MinInterval), Value: interval.String()}
	}
	spec.Interval = interval
	switch kind {
	case "", KindMarket:
		spec.Kind = KindMarket
	case KindLimit:
		spec.Kind = KindLimit
		if spec.LimitPrice, err = v.Price("price", limitPrice); err != nil {
			return TWAPSpec{}, err
		}
	default:
		return TWAPSpec{}, &ValidationError{Field: "orderType", Rule: "must be MARKET or LIMIT", Value: string(kind)}
	}
	return spec, nil
}

// GridDirection 表示网格的运行方向。
type GridDirection string

const (
	GridLong  GridDirection = "LONG"
	GridShort GridDirection = "SHORT"
)

// GridSpec 为网格策略请求。
type GridSpec struct {
	Symbol        string
	LowerPrice    float64
	UpperPrice    float64
	Grids         int
	TotalQuantity float64
	Direction     GridDirection
}

// Grid 校验网格策略请求。
func (v *Validator) Grid(symbol string, lower, upper float64, grids int, totalQty float64, direction GridDirection) (GridSpec, error) {
	var spec GridSpec
	var err error
	if spec.Symbol, err = v.Symbol(symbol); err != nil {
		return GridSpec{}, err
	}
	if spec.LowerPrice, err = v.Price("lowerPrice", lower); err != nil {
		return GridSpec{}, err
	}
	if spec.UpperPrice, err = v.Price("upperPrice", upper); err != nil {
		return GridSpec{}, err
	}
	if lower >= upper {
		return GridSpec{}, &ValidationError{
			Field: "lowerPrice",
			Rule:  fmt.Sprintf("must be below upper price %v", upper),
			Value: lower,
		}
	}
	if grids < v.limits.MinGrids {
		return GridSpec{}, &ValidationError{Field: "grids", Rule: fmt.Sprintf("must be at least %d", v.limits.MinGrids), Value: grids}
	}
	if grids > v.limits.MaxGrids {
		return GridSpec{}, &ValidationError{Field: "grids", Rule: fmt.Sprintf("cannot exceed %d", v.limits.MaxGrids), Value: grids}
	}
	spec.Grids = grids
	if spec.TotalQuantity, err = v.Quantity(totalQty); err != nil {
		return GridSpec{}, err
	}
	switch direction {
	case "", GridLong:
		spec.Direction = GridLong
	case GridShort:
		spec.Direction = GridShort
	default:
		return GridSpec{}, &ValidationError{Field: "direction", Rule: "must be LONG or SHORT", Value: string(direction)}
	}
	return spec, nil
}
