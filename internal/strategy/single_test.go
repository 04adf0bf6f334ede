package strategy

import (
	"context"
	"errors"
	"testing"

	"futures-orders/internal/exchange"
	"futures-orders/internal/journal"
	"futures-orders/internal/rules"
)

func newTestSingle(mock *mockGateway, sink EventSink) *Single {
	return NewSingle(mock, newTestValidator(mock), sink, 0.02, nil)
}

func TestPlaceMarket(t *testing.T) {
	mock := newMockGateway()
	sink := &recordingSink{}
	single := newTestSingle(mock, sink)
	ctx := context.Background()

	record, err := single.PlaceMarket(ctx, "BTC/USDT:USDT", exchange.OrderSideBuy, 0.01)
	if err != nil {
		t.Fatalf("PlaceMarket returned error: %v", err)
	}
	if record.OrderID == "" {
		t.Errorf("expected order id in record")
	}

	orders := mock.submittedOrders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Kind != exchange.KindMarket {
		t.Errorf("order kind: got %s want market", orders[0].Kind)
	}
	if events := sink.eventsOfType(journal.EventOrderSubmitted); len(events) != 1 {
		t.Errorf("expected 1 order_submitted event, got %d", len(events))
	}
}

func TestPlaceMarket_RejectedBeforeExchange(t *testing.T) {
	mock := newMockGateway()
	single := newTestSingle(mock, nil)

	_, err := single.PlaceMarket(context.Background(), "BTC/USDT:USDT", exchange.OrderSideBuy, 0.0005)
	if got := rules.RejectReason(err); got != rules.ReasonQuantityOutOfRange {
		t.Fatalf("reject reason: got %q want %q", got, rules.ReasonQuantityOutOfRange)
	}
	if got := len(mock.submittedOrders()); got != 0 {
		t.Errorf("rejected order must not reach exchange, got %d", got)
	}
}

func TestPlaceLimit_NormalizesExplicitPrice(t *testing.T) {
	mock := newMockGateway()
	single := newTestSingle(mock, nil)

	price := 35000.14
	record, err := single.PlaceLimit(context.Background(), "BTC/USDT:USDT", exchange.OrderSideBuy, 0.01, &price)
	if err != nil {
		t.Fatalf("PlaceLimit returned error: %v", err)
	}
	if record.Price != 35000.1 {
		t.Errorf("submitted price: got %v want 35000.1", record.Price)
	}

	orders := mock.submittedOrders()
	if len(orders) != 1 || orders[0].Kind != exchange.KindLimit {
		t.Fatalf("expected single limit order, got %+v", orders)
	}
	if orders[0].Price != 35000.1 {
		t.Errorf("order price: got %v want 35000.1", orders[0].Price)
	}
}

func TestPlaceLimit_AutoPriceFromMark(t *testing.T) {
	mock := newMockGateway()
	mock.markPrice = 35000
	single := newTestSingle(mock, nil)

	_, err := single.PlaceLimit(context.Background(), "BTC/USDT:USDT", exchange.OrderSideBuy, 0.01, nil)
	if err != nil {
		t.Fatalf("PlaceLimit returned error: %v", err)
	}

	orders := mock.submittedOrders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	// 35000 * (1 - 0.02) = 34300
	if orders[0].Price != 34300 {
		t.Errorf("auto price: got %v want 34300", orders[0].Price)
	}
}

func TestPlaceLimit_AutoPriceFetchFailure(t *testing.T) {
	mock := newMockGateway()
	mock.markPriceErr = errors.New("ticker unavailable")
	single := newTestSingle(mock, nil)

	if _, err := single.PlaceLimit(context.Background(), "BTC/USDT:USDT", exchange.OrderSideBuy, 0.01, nil); err == nil {
		t.Fatalf("expected error when mark price is unavailable")
	}
	if got := len(mock.submittedOrders()); got != 0 {
		t.Errorf("expected no submissions, got %d", got)
	}
}

func TestPlaceStopLimit_DirectionRules(t *testing.T) {
	ctx := context.Background()

	t.Run("sell stop above limit rejected", func(t *testing.T) {
		mock := newMockGateway()
		single := newTestSingle(mock, nil)
		_, err := single.PlaceStopLimit(ctx, "BTC/USDT:USDT", exchange.OrderSideSell, 0.01, 34500, 34000)
		if got := rules.RejectReason(err); got != rules.ReasonPriceOutOfRange {
			t.Fatalf("reject reason: got %q want %q", got, rules.ReasonPriceOutOfRange)
		}
	})

	t.Run("buy stop below limit rejected", func(t *testing.T) {
		mock := newMockGateway()
		single := newTestSingle(mock, nil)
		_, err := single.PlaceStopLimit(ctx, "BTC/USDT:USDT", exchange.OrderSideBuy, 0.01, 35000, 35500)
		if got := rules.RejectReason(err); got != rules.ReasonPriceOutOfRange {
			t.Fatalf("reject reason: got %q want %q", got, rules.ReasonPriceOutOfRange)
		}
	})

	t.Run("sell stop at or below limit accepted", func(t *testing.T) {
		mock := newMockGateway()
		single := newTestSingle(mock, nil)
		record, err := single.PlaceStopLimit(ctx, "BTC/USDT:USDT", exchange.OrderSideSell, 0.01, 34000, 34500)
		if err != nil {
			t.Fatalf("PlaceStopLimit returned error: %v", err)
		}
		if record.Kind != exchange.KindStopLimit {
			t.Errorf("record kind: got %s want stop_limit", record.Kind)
		}

		orders := mock.submittedOrders()
		if len(orders) != 1 {
			t.Fatalf("expected 1 order, got %d", len(orders))
		}
		if orders[0].StopPrice != 34000 || orders[0].Price != 34500 {
			t.Errorf("prices: got stop=%v limit=%v want 34000/34500", orders[0].StopPrice, orders[0].Price)
		}
	})
}

func TestAutoPriceLevels(t *testing.T) {
	mock := newMockGateway()
	mock.markPrice = 35000
	single := newTestSingle(mock, nil)

	buy, err := single.AutoPriceLevels(context.Background(), "BTC/USDT:USDT", exchange.OrderSideBuy)
	if err != nil {
		t.Fatalf("AutoPriceLevels returned error: %v", err)
	}
	if buy.Limit != 34300 {
		t.Errorf("buy limit: got %v want 34300", buy.Limit)
	}
	if buy.Stop != 35700 {
		t.Errorf("buy stop: got %v want 35700", buy.Stop)
	}
	if buy.LimitMaker != 33950 {
		t.Errorf("buy limit maker: got %v want 33950", buy.LimitMaker)
	}
	if buy.StopLimit != 35840 {
		t.Errorf("buy stop limit: got %v want 35840", buy.StopLimit)
	}

	sell, err := single.AutoPriceLevels(context.Background(), "BTC/USDT:USDT", exchange.OrderSideSell)
	if err != nil {
		t.Fatalf("AutoPriceLevels returned error: %v", err)
	}
	if sell.Limit != 35700 {
		t.Errorf("sell limit: got %v want 35700", sell.Limit)
	}
	if sell.Stop != 34300 {
		t.Errorf("sell stop: got %v want 34300", sell.Stop)
	}
}
