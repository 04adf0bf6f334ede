package strategy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"futures-orders/internal/exchange"
	"futures-orders/internal/journal"
	"futures-orders/internal/rules"
)

// PriceLevels 为基于现价偏移推算出的各类挂单参考价。
type PriceLevels struct {
	Current    float64
	Limit      float64
	Stop       float64
	LimitMaker float64
	StopLimit  float64
}

// Single 处理一次性的限价、市价与止损限价委托。
// 这些都是同步调用，没有后台监控组件。
type Single struct {
	gateway   Gateway
	validator *rules.Validator
	sink      EventSink
	logger    *zap.Logger

	baseDeviation float64
}

// NewSingle 创建一次性订单执行器。baseDeviation 为自动报价相对现价的偏移比例。
func NewSingle(gateway Gateway, validator *rules.Validator, sink EventSink, baseDeviation float64, logger *zap.Logger) *Single {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = nopSink{}
	}
	if baseDeviation <= 0 {
		baseDeviation = 0.02
	}
	return &Single{
		gateway:       gateway,
		validator:     validator,
		sink:          sink,
		logger:        logger,
		baseDeviation: baseDeviation,
	}
}

// PlaceMarket 提交市价单。
func (s *Single) PlaceMarket(ctx context.Context, symbol string, side exchange.OrderSide, quantity float64) (exchange.OrderRecord, error) {
	if err := s.validator.Validate(ctx, symbol, side, quantity, nil); err != nil {
		return exchange.OrderRecord{}, err
	}

	record, err := s.gateway.SubmitOrder(ctx, exchange.OrderRequest{
		Kind:     exchange.KindMarket,
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
	})
	if err != nil {
		return exchange.OrderRecord{}, err
	}

	s.recordSubmitted(ctx, record)
	return record, nil
}

// PlaceLimit 提交限价单。price 为 nil 时按现价偏移自动取价，
// 给定价格会先按 tick size 规范化再校验。
func (s *Single) PlaceLimit(ctx context.Context, symbol string, side exchange.OrderSide, quantity float64, price *float64) (exchange.OrderRecord, error) {
	r := s.validator.Rules()

	var rawPrice float64
	if price != nil {
		rawPrice = *price
	} else {
		levels, err := s.AutoPriceLevels(ctx, symbol, side)
		if err != nil {
			return exchange.OrderRecord{}, fmt.Errorf("自动计算限价失败: %w", err)
		}
		rawPrice = levels.Limit
		s.logger.Info("未提供限价，按现价偏移自动取价",
			zap.String("symbol", symbol),
			zap.Float64("current_price", levels.Current),
			zap.Float64("limit_price", rawPrice),
		)
	}

	normalized, err := r.NormalizePrice(ctx, symbol, rawPrice)
	if err != nil {
		return exchange.OrderRecord{}, fmt.Errorf("规范化限价失败: %w", err)
	}
	if normalized != rawPrice {
		s.logger.Info("限价已按 tick size 修正",
			zap.String("symbol", symbol),
			zap.Float64("original", rawPrice),
			zap.Float64("formatted", normalized),
		)
	}

	if err := s.validator.Validate(ctx, symbol, side, quantity, &normalized); err != nil {
		return exchange.OrderRecord{}, err
	}

	record, err := s.gateway.SubmitOrder(ctx, exchange.OrderRequest{
		Kind:     exchange.KindLimit,
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    normalized,
	})
	if err != nil {
		return exchange.OrderRecord{}, err
	}

	s.recordSubmitted(ctx, record)
	return record, nil
}

// PlaceStopLimit 提交止损限价单，触发价与限价都会被规范化并校验。
func (s *Single) PlaceStopLimit(ctx context.Context, symbol string, side exchange.OrderSide, quantity, stopPrice, limitPrice float64) (exchange.OrderRecord, error) {
	r := s.validator.Rules()

	normalizedStop, err := r.NormalizePrice(ctx, symbol, stopPrice)
	if err != nil {
		return exchange.OrderRecord{}, fmt.Errorf("规范化触发价失败: %w", err)
	}
	normalizedLimit, err := r.NormalizePrice(ctx, symbol, limitPrice)
	if err != nil {
		return exchange.OrderRecord{}, fmt.Errorf("规范化限价失败: %w", err)
	}

	if err := s.validator.Validate(ctx, symbol, side, quantity, &normalizedLimit); err != nil {
		return exchange.OrderRecord{}, err
	}
	if !r.ValidatePrice(ctx, symbol, normalizedStop) {
		return exchange.OrderRecord{}, rules.Reject(rules.ReasonPriceOutOfRange,
			"触发价 %v 不满足 %s 的价格约束", normalizedStop, symbol)
	}

	switch side {
	case exchange.OrderSideSell:
		if normalizedStop > normalizedLimit {
			return exchange.OrderRecord{}, rules.Reject(rules.ReasonPriceOutOfRange,
				"卖出止损要求触发价 %v 不高于限价 %v", normalizedStop, normalizedLimit)
		}
	case exchange.OrderSideBuy:
		if normalizedStop < normalizedLimit {
			return exchange.OrderRecord{}, rules.Reject(rules.ReasonPriceOutOfRange,
				"买入止损要求触发价 %v 不低于限价 %v", normalizedStop, normalizedLimit)
		}
	}

	record, err := s.gateway.SubmitOrder(ctx, exchange.OrderRequest{
		Kind:      exchange.KindStopLimit,
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     normalizedLimit,
		StopPrice: normalizedStop,
	})
	if err != nil {
		return exchange.OrderRecord{}, err
	}

	s.recordSubmitted(ctx, record)
	return record, nil
}

// AutoPriceLevels 按现价上下偏移推算各类挂单参考价，每个价位都对齐到 tick size。
// 买单在现价下方挂限价、上方设触发；卖单相反。
func (s *Single) AutoPriceLevels(ctx context.Context, symbol string, side exchange.OrderSide) (PriceLevels, error) {
	current, err := s.gateway.FetchMarkPrice(ctx, symbol)
	if err != nil {
		return PriceLevels{}, err
	}

	deviation := s.baseDeviation
	var levels PriceLevels
	levels.Current = current

	if side == exchange.OrderSideBuy {
		levels.Limit = current * (1 - deviation)
		levels.Stop = current * (1 + deviation)
		levels.LimitMaker = current * (1 - deviation*1.5)
		levels.StopLimit = current * (1 + deviation*1.2)
	} else {
		levels.Limit = current * (1 + deviation)
		levels.Stop = current * (1 - deviation)
		levels.LimitMaker = current * (1 + deviation*1.5)
		levels.StopLimit = current * (1 - deviation*1.2)
	}

	r := s.validator.Rules()
	for _, price := range []*float64{&levels.Limit, &levels.Stop, &levels.LimitMaker, &levels.StopLimit} {
		normalized, err := r.NormalizePrice(ctx, symbol, *price)
		if err != nil {
			return PriceLevels{}, err
		}
		*price = normalized
	}

	s.logger.Debug("已推算挂单参考价",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("current_price", levels.Current),
		zap.Float64("limit_price", levels.Limit),
		zap.Float64("stop_price", levels.Stop),
		zap.Float64("limit_maker_price", levels.LimitMaker),
		zap.Float64("stop_limit_price", levels.StopLimit),
	)

	return levels, nil
}

func (s *Single) recordSubmitted(ctx context.Context, record exchange.OrderRecord) {
	s.sink.RecordAsync(ctx, journal.Event{
		Type:   journal.EventOrderSubmitted,
		Symbol: record.Symbol,
		Payload: map[string]interface{}{
			"order_id": record.OrderID,
			"kind":     string(record.Kind),
			"side":     string(record.Side),
			"quantity": record.Quantity,
			"price":    record.Price,
			"status":   record.Status,
		},
	})
}
