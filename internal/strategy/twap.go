package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"futures-orders/internal/exchange"
	"futures-orders/internal/journal"
	"futures-orders/internal/rules"
)

// TwapParams 描述一次时间加权执行的参数。
type TwapParams struct {
	Symbol        string
	Side          exchange.OrderSide
	TotalQuantity float64
	NumChunks     int
	Interval      time.Duration
}

// Twap 将大额订单拆分为等量分片，按固定间隔以市价单逐片执行。
// 取消是协作式的：执行循环在每个分片提交前检查自身是否仍在活跃集合中。
// 任一分片提交失败即终止执行并移除登记，剩余数量不做续传跟踪。
type Twap struct {
	gateway   Gateway
	validator *rules.Validator
	sink      EventSink
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}

	wg sync.WaitGroup
}

// NewTwap 创建TWAP执行策略。
func NewTwap(gateway Gateway, validator *rules.Validator, sink EventSink, logger *zap.Logger) *Twap {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Twap{
		gateway:   gateway,
		validator: validator,
		sink:      sink,
		logger:    logger,
		active:    make(map[string]struct{}),
	}
}

// Start 校验参数后在后台启动分片执行，立即返回订单ID。
func (t *Twap) Start(ctx context.Context, params TwapParams) (string, error) {
	if params.NumChunks < 1 {
		return "", fmt.Errorf("分片数 %d 无效", params.NumChunks)
	}
	if params.Interval <= 0 {
		return "", fmt.Errorf("分片间隔 %v 无效", params.Interval)
	}
	if params.Side != exchange.OrderSideBuy && params.Side != exchange.OrderSideSell {
		return "", fmt.Errorf("方向 %q 无效", params.Side)
	}

	r := t.validator.Rules()
	if !r.ValidSymbol(ctx, params.Symbol) {
		return "", rules.Reject(rules.ReasonUnknownSymbol, "交易对 %s 不存在", params.Symbol)
	}
	if !r.IsValidQuantity(ctx, params.Symbol, params.TotalQuantity) {
		return "", rules.Reject(rules.ReasonQuantityOutOfRange, "总数量 %v 不满足 %s 的限额或步长要求", params.TotalQuantity, params.Symbol)
	}

	chunk := params.TotalQuantity / float64(params.NumChunks)
	if !r.IsValidQuantity(ctx, params.Symbol, chunk) {
		return "", rules.Reject(rules.ReasonQuantityOutOfRange, "分片数量 %v 不满足 %s 的限额或步长要求，可尝试调整 num_chunks", chunk, params.Symbol)
	}

	id := fmt.Sprintf("TWAP_%s", uuid.NewString())

	t.mu.Lock()
	t.active[id] = struct{}{}
	t.mu.Unlock()

	t.logger.Info("TWAP执行已启动",
		zap.String("twap_id", id),
		zap.String("symbol", params.Symbol),
		zap.String("side", string(params.Side)),
		zap.Float64("total_quantity", params.TotalQuantity),
		zap.Int("num_chunks", params.NumChunks),
		zap.Duration("interval", params.Interval),
	)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.run(ctx, id, params); err != nil {
			t.logger.Error("TWAP执行终止",
				zap.String("twap_id", id),
				zap.Error(err),
			)
			t.sink.RecordAsync(ctx, journal.Event{
				Type:      journal.EventError,
				Symbol:    params.Symbol,
				SessionID: id,
				Payload:   map[string]interface{}{"error": err.Error()},
			})
		}
	}()

	return id, nil
}

// Cancel 请求取消执行中的TWAP订单。执行循环在下一个分片前观察到取消并退出。
// 移除操作幂等，循环已自行退出时返回false。
func (t *Twap) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	t.logger.Info("TWAP订单已请求取消", zap.String("twap_id", id))
	return true
}

// Wait 阻塞直到所有执行循环退出。
func (t *Twap) Wait() {
	t.wg.Wait()
}

func (t *Twap) isActive(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[id]
	return ok
}

func (t *Twap) remove(id string) {
	t.mu.Lock()
	delete(t.active, id)
	t.mu.Unlock()
}

func (t *Twap) run(ctx context.Context, id string, params TwapParams) error {
	chunk := params.TotalQuantity / float64(params.NumChunks)

	for i := 0; i < params.NumChunks; i++ {
		if !t.isActive(id) {
			t.logger.Info("TWAP订单已取消", zap.String("twap_id", id))
			t.sink.RecordAsync(ctx, journal.Event{
				Type:      journal.EventTwapCancelled,
				Symbol:    params.Symbol,
				SessionID: id,
				Payload:   map[string]interface{}{"executed_chunks": i},
			})
			return nil
		}

		if _, err := t.gateway.SubmitOrder(ctx, exchange.OrderRequest{
			Kind:     exchange.KindMarket,
			Symbol:   params.Symbol,
			Side:     params.Side,
			Quantity: chunk,
		}); err != nil {
			t.remove(id)
			return fmt.Errorf("TWAP分片 %d/%d 执行失败: %w", i+1, params.NumChunks, err)
		}

		t.sink.RecordAsync(ctx, journal.Event{
			Type:      journal.EventTwapChunk,
			Symbol:    params.Symbol,
			SessionID: id,
			Payload: map[string]interface{}{
				"chunk_number": i + 1,
				"total_chunks": params.NumChunks,
				"quantity":     chunk,
			},
		})
		t.logger.Info("TWAP分片已执行",
			zap.String("twap_id", id),
			zap.Int("chunk_number", i+1),
			zap.Int("total_chunks", params.NumChunks),
			zap.Float64("quantity", chunk),
		)

		if i < params.NumChunks-1 {
			select {
			case <-ctx.Done():
				t.remove(id)
				return ctx.Err()
			case <-time.After(params.Interval):
			}
		}
	}

	t.remove(id)
	t.sink.RecordAsync(ctx, journal.Event{
		Type:      journal.EventTwapCompleted,
		Symbol:    params.Symbol,
		SessionID: id,
	})
	t.logger.Info("TWAP订单执行完成", zap.String("twap_id", id))
	return nil
}
