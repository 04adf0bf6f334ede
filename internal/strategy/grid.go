package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"futures-orders/internal/config"
	"futures-orders/internal/exchange"
	"futures-orders/internal/journal"
	"futures-orders/internal/rules"
)

// GridParams 描述一个网格会话的参数。
type GridParams struct {
	Symbol           string
	LowerPrice       float64
	UpperPrice       float64
	NumLevels        int
	QuantityPerLevel float64
}

// gridLevel 跟踪单个价位的在途挂单。成交后方向翻转、订单号原位替换。
type gridLevel struct {
	price   float64
	side    exchange.OrderSide
	orderID string
}

// gridSession 为单个网格的全部状态，仅由绑定的监控循环修改。
type gridSession struct {
	id     string
	params GridParams
	levels []*gridLevel
}

// Grid 维护活跃网格会话并驱动其监控循环。
// 每个会话由独立协程监控：已成交的挂单在同一价位以反向单补足，使网格
// 在震荡行情中持续低买高卖。会话只能通过显式取消结束，监控错误只会
// 延长轮询间隔，不会终止会话。
type Grid struct {
	gateway   Gateway
	validator *rules.Validator
	sink      EventSink
	logger    *zap.Logger

	pollInterval time.Duration
	errorBackoff time.Duration

	mu       sync.Mutex
	sessions map[string]*gridSession

	wg sync.WaitGroup
}

// NewGrid 创建网格策略。
func NewGrid(gateway Gateway, validator *rules.Validator, sink EventSink, cfg config.GridConfig, logger *zap.Logger) *Grid {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = nopSink{}
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	errorBackoff := cfg.ErrorBackoff
	if errorBackoff <= 0 {
		errorBackoff = 2 * pollInterval
	}

	return &Grid{
		gateway:      gateway,
		validator:    validator,
		sink:         sink,
		logger:       logger,
		pollInterval: pollInterval,
		errorBackoff: errorBackoff,
		sessions:     make(map[string]*gridSession),
	}
}

// Start 校验参数、铺设初始网格挂单并启动监控循环，返回会话ID。
// 所有价位必须全部通过校验才会开始下单；下单阶段的部分失败不会回滚，
// 成功的挂单会照常纳入会话管理。
func (g *Grid) Start(ctx context.Context, params GridParams) (string, error) {
	if params.NumLevels < 2 {
		return "", fmt.Errorf("网格层数 %d 无效，至少需要2层", params.NumLevels)
	}
	if params.LowerPrice <= 0 || params.LowerPrice >= params.UpperPrice {
		return "", fmt.Errorf("网格价格区间 [%v, %v] 无效", params.LowerPrice, params.UpperPrice)
	}

	r := g.validator.Rules()
	if !r.ValidSymbol(ctx, params.Symbol) {
		return "", rules.Reject(rules.ReasonUnknownSymbol, "交易对 %s 不存在", params.Symbol)
	}
	if !r.IsValidQuantity(ctx, params.Symbol, params.QuantityPerLevel) {
		return "", rules.Reject(rules.ReasonQuantityOutOfRange, "单层数量 %v 不满足 %s 的限额或步长要求", params.QuantityPerLevel, params.Symbol)
	}

	rawLevels := gridLevels(params.LowerPrice, params.UpperPrice, params.NumLevels)
	prices := make([]float64, 0, len(rawLevels))
	for _, raw := range rawLevels {
		price, err := r.NormalizePrice(ctx, params.Symbol, raw)
		if err != nil {
			return "", fmt.Errorf("规范化网格价位 %v 失败: %w", raw, err)
		}
		if !r.ValidatePrice(ctx, params.Symbol, price) {
			return "", rules.Reject(rules.ReasonPriceOutOfRange, "网格价位 %v 不满足 %s 的价格约束", price, params.Symbol)
		}
		prices = append(prices, price)
	}

	currentPrice, err := g.gateway.FetchLastPrice(ctx, params.Symbol)
	if err != nil {
		return "", fmt.Errorf("获取 %s 现价失败: %w", params.Symbol, err)
	}

	sess := &gridSession{
		id:     fmt.Sprintf("GRID_%s", uuid.NewString()),
		params: params,
	}

	for _, price := range prices {
		side := exchange.OrderSideSell
		if price < currentPrice {
			side = exchange.OrderSideBuy
		}

		record, err := g.gateway.SubmitOrder(ctx, exchange.OrderRequest{
			Kind:     exchange.KindLimit,
			Symbol:   params.Symbol,
			Side:     side,
			Quantity: params.QuantityPerLevel,
			Price:    price,
		})
		if err != nil {
			// 已铺设的挂单不回滚，失败的价位跳过，会话继续持有成功的部分。
			g.logger.Warn("网格价位下单失败，跳过该层",
				zap.String("grid_id", sess.id),
				zap.String("symbol", params.Symbol),
				zap.Float64("price", price),
				zap.Error(err),
			)
			continue
		}

		sess.levels = append(sess.levels, &gridLevel{
			price:   price,
			side:    side,
			orderID: record.OrderID,
		})
	}

	if len(sess.levels) == 0 {
		return "", fmt.Errorf("网格 %s 所有价位下单均失败", params.Symbol)
	}

	g.mu.Lock()
	g.sessions[sess.id] = sess
	g.mu.Unlock()

	g.sink.RecordAsync(ctx, journal.Event{
		Type:      journal.EventGridStarted,
		Symbol:    params.Symbol,
		SessionID: sess.id,
		Payload: map[string]interface{}{
			"lower_price": params.LowerPrice,
			"upper_price": params.UpperPrice,
			"num_levels":  params.NumLevels,
			"placed":      len(sess.levels),
		},
	})

	g.logger.Info("网格交易已启动",
		zap.String("grid_id", sess.id),
		zap.String("symbol", params.Symbol),
		zap.Float64("lower_price", params.LowerPrice),
		zap.Float64("upper_price", params.UpperPrice),
		zap.Int("num_levels", params.NumLevels),
		zap.Int("placed", len(sess.levels)),
	)

	g.wg.Add(1)
	go g.monitor(ctx, sess)

	return sess.id, nil
}

// Cancel 撤销网格的全部交易所挂单并移除会话。会话不存在时返回false。
// 撤单按交易对整体执行，同一交易对最多承载一个活跃网格。
func (g *Grid) Cancel(ctx context.Context, id string) bool {
	g.mu.Lock()
	sess, ok := g.sessions[id]
	g.mu.Unlock()
	if !ok {
		return false
	}

	if err := g.gateway.CancelAllOpenOrders(ctx, sess.params.Symbol); err != nil {
		g.logger.Error("撤销网格挂单失败",
			zap.String("grid_id", id),
			zap.String("symbol", sess.params.Symbol),
			zap.Error(err),
		)
		return false
	}

	g.mu.Lock()
	delete(g.sessions, id)
	g.mu.Unlock()

	g.sink.RecordAsync(ctx, journal.Event{
		Type:      journal.EventGridCancelled,
		Symbol:    sess.params.Symbol,
		SessionID: id,
	})
	g.logger.Info("网格交易已取消", zap.String("grid_id", id))
	return true
}

// Wait 阻塞直到所有监控循环退出，用于进程优雅停机。
func (g *Grid) Wait() {
	g.wg.Wait()
}

func (g *Grid) active(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.sessions[id]
	return ok
}

// monitor 为单个会话的监控循环。从注册表移除会话是唯一的停止信号，
// 循环在每轮开始时观察；监控错误只会拉长下一次轮询的间隔。
func (g *Grid) monitor(ctx context.Context, sess *gridSession) {
	defer g.wg.Done()

	for {
		if !g.active(sess.id) {
			g.logger.Info("网格监控已停止", zap.String("grid_id", sess.id))
			return
		}

		wait := g.pollInterval
		if err := g.sweep(ctx, sess); err != nil {
			if ctx.Err() != nil {
				g.logger.Info("网格监控随进程退出", zap.String("grid_id", sess.id))
				return
			}
			g.logger.Error("网格监控出错，延长轮询间隔",
				zap.String("grid_id", sess.id),
				zap.Error(err),
			)
			wait = g.errorBackoff
		}

		select {
		case <-ctx.Done():
			g.logger.Info("网格监控随进程退出", zap.String("grid_id", sess.id))
			return
		case <-time.After(wait):
		}
	}
}

// sweep 执行一轮成交检测：不在挂单列表中的订单视为已成交，
// 在同一价位提交反向挂单并原位替换层级状态。
func (g *Grid) sweep(ctx context.Context, sess *gridSession) error {
	openOrders, err := g.gateway.FetchOpenOrders(ctx, sess.params.Symbol)
	if err != nil {
		return err
	}

	open := make(map[string]struct{}, len(openOrders))
	for _, order := range openOrders {
		open[order.OrderID] = struct{}{}
	}

	for _, level := range sess.levels {
		if _, ok := open[level.orderID]; ok {
			continue
		}

		filledSide := level.side
		newSide := filledSide.Opposite()

		record, err := g.gateway.SubmitOrder(ctx, exchange.OrderRequest{
			Kind:     exchange.KindLimit,
			Symbol:   sess.params.Symbol,
			Side:     newSide,
			Quantity: sess.params.QuantityPerLevel,
			Price:    level.price,
		})
		if err != nil {
			// 本轮放弃，未处理的层级留待下一轮补单。
			return err
		}

		level.orderID = record.OrderID
		level.side = newSide

		g.sink.RecordAsync(ctx, journal.Event{
			Type:      journal.EventGridRefill,
			Symbol:    sess.params.Symbol,
			SessionID: sess.id,
			Payload: map[string]interface{}{
				"price":       level.price,
				"filled_side": string(filledSide),
				"new_side":    string(newSide),
				"order_id":    record.OrderID,
			},
		})

		g.logger.Info("网格挂单成交并已补单",
			zap.String("grid_id", sess.id),
			zap.Float64("price", level.price),
			zap.String("filled_side", string(filledSide)),
			zap.String("new_side", string(newSide)),
		)
	}

	return nil
}

// gridLevels 计算等距价位序列，首尾即为区间上下界。
func gridLevels(lower, upper float64, numLevels int) []float64 {
	step := (upper - lower) / float64(numLevels-1)
	levels := make([]float64, 0, numLevels)
	for i := 0; i < numLevels; i++ {
		levels = append(levels, lower+float64(i)*step)
	}
	return levels
}
