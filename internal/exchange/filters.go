package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// filtersFromInfo 从交易所返回的原始市场元数据中提取过滤器。
// Binance 合约的 filters 数组包含 PRICE_FILTER / LOT_SIZE / MIN_NOTIONAL 等条目。
func filtersFromInfo(info map[string]interface{}) (InstrumentFilters, error) {
	var filters InstrumentFilters

	rawFilters, ok := info["filters"].([]interface{})
	if !ok {
		return filters, fmt.Errorf("%w: filters", ErrFilterMissing)
	}

	for _, raw := range rawFilters {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		switch entry["filterType"] {
		case "PRICE_FILTER":
			filters.MinPrice = parseNumeric(entry["minPrice"])
			filters.MaxPrice = parseNumeric(entry["maxPrice"])
			filters.TickSize = parseNumeric(entry["tickSize"])
		case "LOT_SIZE":
			filters.MinQty = parseNumeric(entry["minQty"])
			filters.MaxQty = parseNumeric(entry["maxQty"])
			filters.StepSize = parseNumeric(entry["stepSize"])
		case "MIN_NOTIONAL":
			filters.MinNotional = parseNumeric(entry["notional"])
			if filters.MinNotional == 0 {
				filters.MinNotional = parseNumeric(entry["minNotional"])
			}
		}
	}

	if filters.TickSize <= 0 {
		return filters, fmt.Errorf("%w: PRICE_FILTER.tickSize", ErrFilterMissing)
	}
	if filters.StepSize <= 0 {
		return filters, fmt.Errorf("%w: LOT_SIZE.stepSize", ErrFilterMissing)
	}

	return filters, nil
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case fmt.Stringer:
		s := strings.TrimSpace(v.String())
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
