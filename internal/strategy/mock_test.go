package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"futures-orders/internal/exchange"
	"futures-orders/internal/journal"
	"futures-orders/internal/rules"
)

// mockGateway is a scriptable Gateway implementation recording every call.
type mockGateway struct {
	mu sync.Mutex

	filters    exchange.InstrumentFilters
	filtersErr error

	lastPrice    float64
	lastPriceErr error

	markPrice    float64
	markPriceErr error

	position    float64
	positionErr error

	openOrders    []exchange.OpenOrder
	openOrdersErr error

	cancelErr error

	// submitErr, when set, decides per call (1-based) whether SubmitOrder fails.
	submitErr func(call int, req exchange.OrderRequest) error
	// onSubmit runs after a successful submission, with the lock held.
	onSubmit func(call int, req exchange.OrderRequest)

	submitted   []exchange.OrderRequest
	cancelCalls []string
	nextID      int
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		filters: exchange.InstrumentFilters{
			MinPrice:    100,
			MaxPrice:    1000000,
			TickSize:    0.1,
			MinQty:      0.001,
			MaxQty:      1000,
			StepSize:    0.001,
			MinNotional: 100,
		},
		lastPrice: 35000,
		markPrice: 35000,
	}
}

func (m *mockGateway) FetchInstrumentFilters(ctx context.Context, symbol string) (exchange.InstrumentFilters, error) {
	if m.filtersErr != nil {
		return exchange.InstrumentFilters{}, m.filtersErr
	}
	return m.filters, nil
}

func (m *mockGateway) FetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	if m.lastPriceErr != nil {
		return 0, m.lastPriceErr
	}
	return m.lastPrice, nil
}

func (m *mockGateway) FetchMarkPrice(ctx context.Context, symbol string) (float64, error) {
	if m.markPriceErr != nil {
		return 0, m.markPriceErr
	}
	return m.markPrice, nil
}

func (m *mockGateway) FetchPosition(ctx context.Context, symbol string) (float64, error) {
	if m.positionErr != nil {
		return 0, m.positionErr
	}
	return m.position, nil
}

func (m *mockGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openOrdersErr != nil {
		return nil, m.openOrdersErr
	}
	orders := make([]exchange.OpenOrder, len(m.openOrders))
	copy(orders, m.openOrders)
	return orders, nil
}

func (m *mockGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.submitted) + 1
	if m.submitErr != nil {
		if err := m.submitErr(call, req); err != nil {
			return exchange.OrderRecord{}, err
		}
	}

	m.submitted = append(m.submitted, req)
	m.nextID++
	record := exchange.OrderRecord{
		OrderID:     fmt.Sprintf("ORDER_%d", m.nextID),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Kind:        req.Kind,
		Quantity:    req.Quantity,
		Price:       req.Price,
		Status:      "open",
		SubmittedAt: time.Now(),
	}

	if m.onSubmit != nil {
		m.onSubmit(call, req)
	}
	return record, nil
}

func (m *mockGateway) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelCalls = append(m.cancelCalls, symbol)
	return nil
}

func (m *mockGateway) submittedOrders() []exchange.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := make([]exchange.OrderRequest, len(m.submitted))
	copy(orders, m.submitted)
	return orders
}

func (m *mockGateway) cancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancelCalls)
}

// recordingSink captures journal events emitted by strategies.
type recordingSink struct {
	mu     sync.Mutex
	events []journal.Event
}

func (s *recordingSink) RecordAsync(ctx context.Context, event journal.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) eventsOfType(eventType journal.EventType) []journal.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []journal.Event
	for _, event := range s.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func newTestValidator(gw *mockGateway) *rules.Validator {
	return rules.NewValidator(rules.NewRules(gw, nil), gw, 100, nil)
}
