package strategy

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"futures-orders/internal/exchange"
	"futures-orders/internal/journal"
	"futures-orders/internal/rules"
)

// BracketParams 描述一组双腿保护单（止盈+止损）的参数。
type BracketParams struct {
	Symbol          string
	Side            exchange.OrderSide
	Quantity        float64
	TakeProfitPrice float64
	StopLossPrice   float64
}

// BracketResult 为双腿保护单的下单结果，两腿要么同时存在要么都不存在。
type BracketResult struct {
	TakeProfit exchange.OrderRecord
	StopLoss   exchange.OrderRecord
}

// Bracket 在既有持仓上放置只减仓的止盈与止损两腿。
// 保护单只用于平掉既有敞口，持仓快照在每次下单前实时获取，绝不缓存。
// 两腿具有原子性契约：任一腿在另一腿成功后失败，必须先撤销该交易对的
// 全部挂单再返回错误，系统绝不能以单腿裸挂的状态结束。
type Bracket struct {
	gateway   Gateway
	validator *rules.Validator
	sink      EventSink
	logger    *zap.Logger
}

// NewBracket 创建双腿保护单策略。
func NewBracket(gateway Gateway, validator *rules.Validator, sink EventSink, logger *zap.Logger) *Bracket {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Bracket{
		gateway:   gateway,
		validator: validator,
		sink:      sink,
		logger:    logger,
	}
}

// Place 按固定顺序检查前置条件后提交两腿。检查顺序：
// 符号 → 数量 → 最小名义价值 → 持仓存在 → 方向为平仓方向 → 数量不超持仓 →
// 止盈止损价位与持仓方向一致。任何一项不满足都在触达交易所之前拒绝。
func (b *Bracket) Place(ctx context.Context, params BracketParams) (BracketResult, error) {
	var result BracketResult

	r := b.validator.Rules()
	if !r.ValidSymbol(ctx, params.Symbol) {
		return result, rules.Reject(rules.ReasonUnknownSymbol, "交易对 %s 不存在", params.Symbol)
	}
	if !r.IsValidQuantity(ctx, params.Symbol, params.Quantity) {
		return result, rules.Reject(rules.ReasonQuantityOutOfRange, "数量 %v 不满足 %s 的限额或步长要求", params.Quantity, params.Symbol)
	}

	// 标记价格与持仓并行获取；触发腿以标记价格为参照，方向检查保持同一基准。
	var (
		markPrice float64
		position  float64
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		price, err := b.gateway.FetchMarkPrice(groupCtx, params.Symbol)
		if err != nil {
			return fmt.Errorf("获取 %s 标记价格失败: %w", params.Symbol, err)
		}
		markPrice = price
		return nil
	})
	group.Go(func() error {
		amount, err := b.gateway.FetchPosition(groupCtx, params.Symbol)
		if err != nil {
			return fmt.Errorf("获取 %s 持仓失败: %w", params.Symbol, err)
		}
		position = amount
		return nil
	})
	if err := group.Wait(); err != nil {
		return result, err
	}

	minNotional := b.validator.MinNotional(ctx, params.Symbol)
	if params.Quantity*markPrice < minNotional {
		return result, rules.Reject(rules.ReasonBelowMinNotional,
			"名义价值 %.4f 低于最小要求 %.2f，当前价格下最小数量为 %.6f",
			params.Quantity*markPrice, minNotional, minNotional/markPrice)
	}

	if position == 0 {
		return result, rules.Reject(rules.ReasonPositionMismatch, "%s 当前无持仓，保护单仅用于平掉既有仓位", params.Symbol)
	}

	closingSide := exchange.OrderSideSell
	if position < 0 {
		closingSide = exchange.OrderSideBuy
	}
	if params.Side != closingSide {
		return result, rules.Reject(rules.ReasonPositionMismatch,
			"持仓方向要求平仓方向为 %s，请求方向为 %s", closingSide, params.Side)
	}

	if params.Quantity > math.Abs(position) {
		return result, rules.Reject(rules.ReasonPositionMismatch,
			"平仓数量 %v 超过当前持仓 %v", params.Quantity, math.Abs(position))
	}

	if position > 0 {
		if params.TakeProfitPrice <= markPrice || params.StopLossPrice >= markPrice {
			return result, rules.Reject(rules.ReasonPriceOutOfRange,
				"多头平仓要求止盈价高于现价 %.4f 且止损价低于现价", markPrice)
		}
	} else {
		if params.TakeProfitPrice >= markPrice || params.StopLossPrice <= markPrice {
			return result, rules.Reject(rules.ReasonPriceOutOfRange,
				"空头平仓要求止盈价低于现价 %.4f 且止损价高于现价", markPrice)
		}
	}

	takeProfitPrice, err := r.NormalizePrice(ctx, params.Symbol, params.TakeProfitPrice)
	if err != nil {
		return result, fmt.Errorf("规范化止盈价失败: %w", err)
	}
	stopLossPrice, err := r.NormalizePrice(ctx, params.Symbol, params.StopLossPrice)
	if err != nil {
		return result, fmt.Errorf("规范化止损价失败: %w", err)
	}
	if !r.ValidatePrice(ctx, params.Symbol, takeProfitPrice) {
		return result, rules.Reject(rules.ReasonPriceOutOfRange, "止盈价 %v 不满足 %s 的价格约束", takeProfitPrice, params.Symbol)
	}
	if !r.ValidatePrice(ctx, params.Symbol, stopLossPrice) {
		return result, rules.Reject(rules.ReasonPriceOutOfRange, "止损价 %v 不满足 %s 的价格约束", stopLossPrice, params.Symbol)
	}

	// 保护单要求独占交易对的挂单控制权，先清空既有挂单。
	if err := b.gateway.CancelAllOpenOrders(ctx, params.Symbol); err != nil {
		return result, fmt.Errorf("清理 %s 既有挂单失败: %w", params.Symbol, err)
	}

	takeProfit, err := b.gateway.SubmitOrder(ctx, exchange.OrderRequest{
		Kind:       exchange.KindTakeProfit,
		Symbol:     params.Symbol,
		Side:       params.Side,
		Quantity:   params.Quantity,
		StopPrice:  takeProfitPrice,
		ReduceOnly: true,
	})
	if err != nil {
		return result, fmt.Errorf("止盈腿提交失败: %w", err)
	}

	stopLoss, err := b.gateway.SubmitOrder(ctx, exchange.OrderRequest{
		Kind:       exchange.KindStopLoss,
		Symbol:     params.Symbol,
		Side:       params.Side,
		Quantity:   params.Quantity,
		StopPrice:  stopLossPrice,
		ReduceOnly: true,
	})
	if err != nil {
		err = fmt.Errorf("止损腿提交失败: %w", err)
		b.logger.Error("止损腿失败，回滚止盈腿",
			zap.String("symbol", params.Symbol),
			zap.String("take_profit_order", takeProfit.OrderID),
			zap.Error(err),
		)
		if cancelErr := b.gateway.CancelAllOpenOrders(ctx, params.Symbol); cancelErr != nil {
			err = multierr.Append(err, fmt.Errorf("回滚撤单失败: %w", cancelErr))
		}
		b.sink.RecordAsync(ctx, journal.Event{
			Type:   journal.EventBracketRollback,
			Symbol: params.Symbol,
			Payload: map[string]interface{}{
				"take_profit_order": takeProfit.OrderID,
				"error":             err.Error(),
			},
		})
		return result, err
	}

	result.TakeProfit = takeProfit
	result.StopLoss = stopLoss

	b.sink.RecordAsync(ctx, journal.Event{
		Type:   journal.EventBracketPlaced,
		Symbol: params.Symbol,
		Payload: map[string]interface{}{
			"take_profit_order": takeProfit.OrderID,
			"stop_loss_order":   stopLoss.OrderID,
			"take_profit_price": takeProfitPrice,
			"stop_loss_price":   stopLossPrice,
			"quantity":          params.Quantity,
		},
	})
	b.logger.Info("双腿保护单已就位",
		zap.String("symbol", params.Symbol),
		zap.String("take_profit_order", takeProfit.OrderID),
		zap.String("stop_loss_order", stopLoss.OrderID),
		zap.Float64("take_profit_price", takeProfitPrice),
		zap.Float64("stop_loss_price", stopLossPrice),
	)

	return result, nil
}
