package exchange

import "time"

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite 返回相反方向。
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderKind 表示委托类型。
type OrderKind string

const (
	KindMarket     OrderKind = "market"
	KindLimit      OrderKind = "limit"
	KindStopLimit  OrderKind = "stop_limit"
	KindTakeProfit OrderKind = "take_profit"
	KindStopLoss   OrderKind = "stop_loss"
)

// InstrumentFilters 描述单个交易对的价格与数量约束。
type InstrumentFilters struct {
	MinPrice    float64
	MaxPrice    float64
	TickSize    float64
	MinQty      float64
	MaxQty      float64
	StepSize    float64
	MinNotional float64
}

// OrderRequest 抽象提交给交易所的委托参数。
type OrderRequest struct {
	Kind        OrderKind
	Symbol      string
	Side        OrderSide
	Quantity    float64
	Price       float64
	StopPrice   float64
	ReduceOnly  bool
	TimeInForce string
}

// OrderRecord 为交易所返回的委托记录。
type OrderRecord struct {
	OrderID     string
	Symbol      string
	Side        OrderSide
	Kind        OrderKind
	Quantity    float64
	Price       float64
	Status      string
	SubmittedAt time.Time
}

// OpenOrder 表示一条在途挂单。
type OpenOrder struct {
	OrderID string
	Side    OrderSide
	Price   float64
}
