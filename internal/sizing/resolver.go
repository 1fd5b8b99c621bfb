package sizing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrInvalidPolicy 表示仓位策略无效或缺少必需参数。
var ErrInvalidPolicy = errors.New("sizing: 无效的仓位策略或参数")

// Policy 表示仓位计算策略。
type Policy string

const (
	PolicyFixed      Policy = "fixed"
	PolicyPercentage Policy = "percentage"
	PolicyFull       Policy = "full"
)

// ParsePolicy 解析外部传入的策略标签。
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case PolicyFixed:
		return PolicyFixed, nil
	case PolicyPercentage:
		return PolicyPercentage, nil
	case PolicyFull:
		return PolicyFull, nil
	default:
		return "", fmt.Errorf("%w: 未知策略 %q", ErrInvalidPolicy, raw)
	}
}

// Request 为一次仓位计算的输入。
type Request struct {
	Policy     Policy
	Amount     float64
	Percentage float64
}

type balanceClient interface {
	FetchFreeBalance(ctx context.Context, asset string) (float64, error)
}

// Resolver 将仓位策略换算为绝对下单数量。
type Resolver struct {
	client balanceClient
	quote  string
	logger *zap.Logger
}

// NewResolver 创建仓位计算器，quote 为余额计价币种（如 USDT）。
func NewResolver(client balanceClient, quote string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client: client,
		quote:  quote,
		logger: logger,
	}
}

// Resolve 按策略返回绝对数量。fixed 不访问网关；
// percentage 与 full 各发起一次余额查询，币种缺失时余额按0处理。
func (r *Resolver) Resolve(ctx context.Context, req Request) (float64, error) {
	switch req.Policy {
	case PolicyFixed:
		if req.Amount <= 0 {
			return 0, fmt.Errorf("%w: fixed 策略需要正的固定数量", ErrInvalidPolicy)
		}
		return req.Amount, nil

	case PolicyPercentage:
		if req.Percentage <= 0 || req.Percentage > 100 {
			return 0, fmt.Errorf("%w: percentage 策略需要位于(0,100]的百分比", ErrInvalidPolicy)
		}
		free, err := r.client.FetchFreeBalance(ctx, r.quote)
		if err != nil {
			return 0, err
		}
		amount := free * req.Percentage / 100
		r.logger.Debug("按百分比计算仓位",
			zap.Float64("free_balance", free),
			zap.Float64("percentage", req.Percentage),
			zap.Float64("amount", amount),
		)
		return amount, nil

	case PolicyFull:
		free, err := r.client.FetchFreeBalance(ctx, r.quote)
		if err != nil {
			return 0, err
		}
		return free, nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, req.Policy)
	}
}
