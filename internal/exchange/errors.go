package exchange

import (
	"context"
	"errors"
	"fmt"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrUnavailable 表示网关尚未构造（缺少API凭证）。
	ErrUnavailable = errors.New("exchange: 交易网关不可用，请检查API凭证")
)

// CallError 表示一次交易所调用失败，携带操作名便于定位。
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("exchange: 调用 %s 失败: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// wrapCall 统一包装调用失败，保留上下文取消类错误原样返回。
func wrapCall(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &CallError{Op: op, Err: err}
}

// IsRetryable 判断调用失败是否属于可重试的传输类错误。
// 当前没有任何调用路径自动重试，该判定仅用于区分传输错误与编程错误。
func IsRetryable(err error) bool {
	if err == nil {
		return false
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
			return true
		default:
			return false
		}
	}

	return false
}
