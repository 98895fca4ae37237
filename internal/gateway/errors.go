package gateway

import (
	"context"
	"errors"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrTransient 表示网络或限流类瞬时故障，调用方可自行重试。
	ErrTransient = errors.New("gateway transient error")
	// ErrRejected 表示交易所拒绝了委托，对该笔订单为终态。
	ErrRejected = errors.New("gateway rejected order")
	// ErrOrderNotFound 表示交易所侧不存在该订单。
	ErrOrderNotFound = errors.New("gateway order not found")
)

// IsTransient 判断错误是否为瞬时故障。
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRejected 判断错误是否为交易所拒单。
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// classifyError 将底层错误归一到网关错误分类。
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return errors.Join(ErrTransient, err)
		case ccxt.OrderNotFoundErrType:
			return errors.Join(ErrOrderNotFound, err)
		default:
			return errors.Join(ErrRejected, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Join(ErrTransient, err)
	}

	return errors.Join(ErrRejected, err)
}
