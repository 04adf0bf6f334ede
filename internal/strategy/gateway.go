package strategy

import (
	"context"

	"futures-orders/internal/exchange"
	"futures-orders/internal/journal"
)

// Gateway 为策略层消费的交易所契约，便于在测试中替换为模拟实现。
type Gateway interface {
	FetchInstrumentFilters(ctx context.Context, symbol string) (exchange.InstrumentFilters, error)
	FetchLastPrice(ctx context.Context, symbol string) (float64, error)
	FetchMarkPrice(ctx context.Context, symbol string) (float64, error)
	FetchPosition(ctx context.Context, symbol string) (float64, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error)
	SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderRecord, error)
	CancelAllOpenOrders(ctx context.Context, symbol string) error
}

var _ Gateway = (*exchange.Client)(nil)

// EventSink 接收策略产生的流水事件。
type EventSink interface {
	RecordAsync(ctx context.Context, event journal.Event)
}

var _ EventSink = (*journal.Recorder)(nil)

// nopSink 在未配置流水记录器时使用。
type nopSink struct{}

func (nopSink) RecordAsync(context.Context, journal.Event) {}
