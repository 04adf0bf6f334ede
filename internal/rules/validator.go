package rules

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"futures-orders/internal/exchange"
)

// Reason 枚举订单被拒绝的原因。
type Reason string

const (
	ReasonUnknownSymbol      Reason = "unknown_symbol"
	ReasonQuantityOutOfRange Reason = "quantity_out_of_range"
	ReasonPriceOutOfRange    Reason = "price_out_of_range"
	ReasonBelowMinNotional   Reason = "below_min_notional"
	ReasonPositionMismatch   Reason = "position_mismatch"
)

// ValidationError 表示订单在提交交易所之前被本地校验拒绝。
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("订单校验未通过(%s): %s", e.Reason, e.Message)
}

// Reject 构造一个带原因的校验错误。
func Reject(reason Reason, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

// RejectReason 提取校验错误的原因枚举，非校验错误返回空。
func RejectReason(err error) Reason {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Reason
	}
	return ""
}

type priceSource interface {
	FetchLastPrice(ctx context.Context, symbol string) (float64, error)
}

// Validator 在提交前组合符号、数量、价格与名义价值检查。
// 各项检查按固定顺序短路，返回第一个未通过的原因。
type Validator struct {
	rules       *Rules
	prices      priceSource
	minNotional float64
	logger      *zap.Logger
}

// NewValidator 创建订单校验器。minNotional 为交易所未提供过滤器时的兜底值。
func NewValidator(rules *Rules, prices priceSource, minNotional float64, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		rules:       rules,
		prices:      prices,
		minNotional: minNotional,
		logger:      logger,
	}
}

// Rules 返回底层的规则校验器。
func (v *Validator) Rules() *Rules {
	return v.rules
}

// MinNotional 返回交易对生效的最小名义价值。
func (v *Validator) MinNotional(ctx context.Context, symbol string) float64 {
	if filters, err := v.rules.Filters(ctx, symbol); err == nil && filters.MinNotional > 0 {
		return filters.MinNotional
	}
	return v.minNotional
}

// Validate 校验一笔拟提交的订单。price 为 nil 时跳过价格检查（市价单）。
// 检查顺序固定：符号 → 数量 → 价格 → 名义价值。
func (v *Validator) Validate(ctx context.Context, symbol string, side exchange.OrderSide, quantity float64, price *float64) error {
	if !v.rules.ValidSymbol(ctx, symbol) {
		return Reject(ReasonUnknownSymbol, "交易对 %s 不存在", symbol)
	}

	if !v.rules.IsValidQuantity(ctx, symbol, quantity) {
		return Reject(ReasonQuantityOutOfRange, "数量 %v 不满足 %s 的限额或步长要求", quantity, symbol)
	}

	if price != nil && !v.rules.ValidatePrice(ctx, symbol, *price) {
		return Reject(ReasonPriceOutOfRange, "价格 %v 不满足 %s 的限额或 tick 要求", *price, symbol)
	}

	// 名义价值检查依赖实时价格，价格不可得时跳过而非拒绝。
	notionalPrice := 0.0
	if price != nil {
		notionalPrice = *price
	} else if current, err := v.prices.FetchLastPrice(ctx, symbol); err == nil {
		notionalPrice = current
	} else {
		v.logger.Warn("获取现价失败，跳过名义价值检查", zap.String("symbol", symbol), zap.Error(err))
	}

	if notionalPrice > 0 {
		minNotional := v.MinNotional(ctx, symbol)
		if quantity*notionalPrice < minNotional {
			return Reject(ReasonBelowMinNotional,
				"名义价值 %.4f 低于最小要求 %.2f，当前价格下最小数量为 %.6f",
				quantity*notionalPrice, minNotional, minNotional/notionalPrice)
		}
	}

	return nil
}
