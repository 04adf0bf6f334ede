package rules

import (
	"context"
	"math"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"futures-orders/internal/exchange"
)

// stepTolerance 为步长对齐判断的浮点容差。
const stepTolerance = 1e-10

type filtersSource interface {
	FetchInstrumentFilters(ctx context.Context, symbol string) (exchange.InstrumentFilters, error)
}

// Rules 基于交易所过滤器实现价格与数量的规范化和校验。
// 所有布尔校验遵循 fail-closed 策略：任何元数据获取失败都视为校验不通过。
type Rules struct {
	source filtersSource
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]exchange.InstrumentFilters
}

// NewRules 创建规则校验器。
func NewRules(source filtersSource, logger *zap.Logger) *Rules {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rules{
		source: source,
		logger: logger,
		cache:  make(map[string]exchange.InstrumentFilters),
	}
}

// Filters 返回交易对的过滤器，按符号缓存。
func (r *Rules) Filters(ctx context.Context, symbol string) (exchange.InstrumentFilters, error) {
	r.mu.Lock()
	cached, ok := r.cache[symbol]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	return r.Refresh(ctx, symbol)
}

// Refresh 强制重新拉取交易对过滤器并更新缓存。
func (r *Rules) Refresh(ctx context.Context, symbol string) (exchange.InstrumentFilters, error) {
	filters, err := r.source.FetchInstrumentFilters(ctx, symbol)
	if err != nil {
		return exchange.InstrumentFilters{}, err
	}

	r.mu.Lock()
	r.cache[symbol] = filters
	r.mu.Unlock()

	return filters, nil
}

// ValidSymbol 判断交易对是否存在。
func (r *Rules) ValidSymbol(ctx context.Context, symbol string) bool {
	if _, err := r.Filters(ctx, symbol); err != nil {
		r.logger.Warn("交易对校验失败", zap.String("symbol", symbol), zap.Error(err))
		return false
	}
	return true
}

// NormalizePrice 将价格按 tick size 取整并格式化到对应精度。
// 规范化只做对齐修正，范围校验由 ValidatePrice 单独完成。
func (r *Rules) NormalizePrice(ctx context.Context, symbol string, price float64) (float64, error) {
	filters, err := r.Filters(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return snapToUnit(price, filters.TickSize), nil
}

// NormalizeQuantity 将数量按 step size 取整并格式化到对应精度。
func (r *Rules) NormalizeQuantity(ctx context.Context, symbol string, quantity float64) (float64, error) {
	filters, err := r.Filters(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return snapToUnit(quantity, filters.StepSize), nil
}

// IsValidQuantity 校验数量处于限额之内且与 step size 对齐。
func (r *Rules) IsValidQuantity(ctx context.Context, symbol string, quantity float64) bool {
	filters, err := r.Filters(ctx, symbol)
	if err != nil {
		r.logger.Warn("数量校验失败", zap.String("symbol", symbol), zap.Error(err))
		return false
	}

	if quantity < filters.MinQty || quantity > filters.MaxQty {
		r.logger.Warn("数量超出限额",
			zap.String("symbol", symbol),
			zap.Float64("quantity", quantity),
			zap.Float64("min_qty", filters.MinQty),
			zap.Float64("max_qty", filters.MaxQty),
		)
		return false
	}

	if !alignedToUnit(quantity, filters.StepSize) {
		r.logger.Warn("数量未对齐 step size",
			zap.String("symbol", symbol),
			zap.Float64("quantity", quantity),
			zap.Float64("step_size", filters.StepSize),
		)
		return false
	}

	return true
}

// ValidatePrice 校验价格处于限额之内且已与 tick size 对齐。
// 此处不做静默修正：对齐修正是调用方显式的 NormalizePrice 步骤。
func (r *Rules) ValidatePrice(ctx context.Context, symbol string, price float64) bool {
	filters, err := r.Filters(ctx, symbol)
	if err != nil {
		r.logger.Warn("价格校验失败", zap.String("symbol", symbol), zap.Error(err))
		return false
	}

	if price < filters.MinPrice || price > filters.MaxPrice {
		r.logger.Warn("价格超出限额",
			zap.String("symbol", symbol),
			zap.Float64("price", price),
			zap.Float64("min_price", filters.MinPrice),
			zap.Float64("max_price", filters.MaxPrice),
		)
		return false
	}

	if snapped := snapToUnit(price, filters.TickSize); snapped != price {
		r.logger.Warn("价格未对齐 tick size",
			zap.String("symbol", symbol),
			zap.Float64("price", price),
			zap.Float64("tick_size", filters.TickSize),
			zap.Float64("suggested_price", snapped),
		)
		return false
	}

	return true
}

// snapToUnit 将数值取整到最近的 unit 倍数，并按 unit 推导的十进制精度重新格式化，
// 消除乘除带来的浮点尾差。
func snapToUnit(value, unit float64) float64 {
	precision := int(math.Round(-math.Log10(unit)))
	if precision < 0 {
		precision = 0
	}

	rounded := math.Round(value/unit) * unit
	formatted, err := strconv.ParseFloat(strconv.FormatFloat(rounded, 'f', precision, 64), 64)
	if err != nil {
		return rounded
	}
	return formatted
}

// alignedToUnit 判断数值是否为 unit 的整数倍。
// math.Mod 的结果可能因浮点尾差落在 0 或 unit 的邻域，两侧都视为对齐。
func alignedToUnit(value, unit float64) bool {
	remainder := math.Abs(math.Mod(value, unit))
	return remainder < stepTolerance || unit-remainder < stepTolerance
}
