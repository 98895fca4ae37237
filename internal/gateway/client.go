package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"futures-trader/internal/config"
	"futures-trader/internal/order"
)

type exchangeClient interface {
	CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error)
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
}

// Client 为基于 ccxt 的 Binance USDⓈ-M 网关实现。
type Client struct {
	cfg      config.GatewayConfig
	exchange exchangeClient
	logger   *zap.Logger
}

// NewClient 构造真实网关客户端。
func NewClient(cfg config.GatewayConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseTestnet {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		exchange: ex,
		logger:   logger,
	}, nil
}

// SubmitOrder 提交委托并返回交易所回执。
func (c *Client) SubmitOrder(ctx context.Context, req Request) (Ack, error) {
	params := map[string]interface{}{
		"newClientOrderId": req.ClientID,
	}

	orderType := "market"
	opts := []ccxt.CreateOrderOptions{}
	switch req.Kind {
	case order.KindMarket:
	case order.KindLimit:
		orderType = "limit"
		opts = append(opts, ccxt.WithCreateOrderPrice(req.Price))
		if req.TimeInForce != "" {
			params["timeInForce"] = string(req.TimeInForce)
		}
	case order.KindStopLimit:
		orderType = "limit"
		opts = append(opts, ccxt.WithCreateOrderPrice(req.Price))
		params["stopPrice"] = req.StopPrice
		params["workingType"] = string(req.WorkingType)
		if req.TimeInForce != "" {
			params["timeInForce"] = string(req.TimeInForce)
		}
	default:
		return Ack{}, fmt.Errorf("gateway: 不支持的订单类型 %s", req.Kind)
	}
	if req.PostOnly {
		params["postOnly"] = true
	}
	if req.ReduceOnly {
		params["reduceOnly"] = true
	}
	opts = append(opts, ccxt.WithCreateOrderParams(params))

	var raw ccxt.Order
	err := c.callWithRetry(ctx, "create_order", func() error {
		var callErr error
		raw, callErr = c.exchange.CreateOrder(toExchangeSymbol(req.Symbol), orderType, strings.ToLower(string(req.Side)), req.Quantity, opts...)
		return callErr
	})
	if err != nil {
		return Ack{}, err
	}

	return convertOrder(raw), nil
}

// CancelOrder 撤销指定订单。
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (Ack, error) {
	var raw ccxt.Order
	err := c.callWithRetry(ctx, "cancel_order", func() error {
		var callErr error
		raw, callErr = c.exchange.CancelOrder(orderID, ccxt.WithCancelOrderSymbol(toExchangeSymbol(symbol)))
		return callErr
	})
	if err != nil {
		return Ack{}, err
	}
	ack := convertOrder(raw)
	if ack.Status == "" {
		ack.Status = order.StatusCanceled
	}
	return ack, nil
}

// QueryOrder 查询订单最新状态。
func (c *Client) QueryOrder(ctx context.Context, symbol, orderID string) (Ack, error) {
	var raw ccxt.Order
	err := c.callWithRetry(ctx, "fetch_order", func() error {
		var callErr error
		raw, callErr = c.exchange.FetchOrder(orderID, ccxt.WithFetchOrderSymbol(toExchangeSymbol(symbol)))
		return callErr
	})
	if err != nil {
		return Ack{}, err
	}
	return convertOrder(raw), nil
}

// GetPrice 获取最新成交价。
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var ticker ccxt.Ticker
	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		var callErr error
		ticker, callErr = c.exchange.FetchTicker(toExchangeSymbol(symbol))
		return callErr
	})
	if err != nil {
		return 0, err
	}
	if ticker.Last == nil || *ticker.Last <= 0 {
		return 0, fmt.Errorf("gateway: %s 无有效最新价", symbol)
	}
	return *ticker.Last, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				c.logger.Info("网关调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		classified := classifyError(err)
		if !IsTransient(classified) || attempt >= maxAttempts {
			c.logger.Error("网关调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Error(classified),
			)
			return classified
		}

		c.logger.Warn("网关调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", delay),
			zap.Error(classified),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// toExchangeSymbol 将 BTCUSDT 形式转换为 ccxt 的统一符号。
func toExchangeSymbol(symbol string) string {
	if strings.Contains(symbol, "/") {
		return symbol
	}
	if base, ok := strings.CutSuffix(symbol, "USDT"); ok {
		return base + "/USDT:USDT"
	}
	return symbol
}

func convertOrder(raw ccxt.Order) Ack {
	ack := Ack{}
	if raw.Id != nil {
		ack.OrderID = *raw.Id
	}
	if raw.Status != nil {
		ack.Status = convertStatus(*raw.Status, raw.Filled)
	}
	if raw.Filled != nil {
		ack.FilledQty = *raw.Filled
	}
	if raw.Average != nil {
		ack.AvgPrice = *raw.Average
	}
	return ack
}

func convertStatus(status string, filled *float64) order.Status {
	switch strings.ToLower(status) {
	case "open":
		if filled != nil && *filled > 0 {
			return order.StatusPartiallyFilled
		}
		return order.StatusNew
	case "closed":
		return order.StatusFilled
	case "canceled", "cancelled":
		return order.StatusCanceled
	case "rejected":
		return order.StatusRejected
	case "expired":
		return order.StatusExpired
	}
	// 交易所原生状态直接透传。
	return order.Status(strings.ToUpper(status))
}
