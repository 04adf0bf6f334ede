package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"futures-orders/internal/config"
)

// Client 封装 Binance USDⓈ-M 合约接口并实现重试机制。
// 它实现了策略层消费的网关契约：过滤器、行情、持仓、挂单与委托提交。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	marketsMu sync.Mutex
	markets   map[string]ccxt.MarketInterface
}

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseTestnet {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Raw 返回底层 ccxt 客户端。
func (c *Client) Raw() *ccxt.Binanceusdm {
	return c.exchange
}

// FetchInstrumentFilters 获取交易对的价格与数量过滤器。
// 未知交易对返回 ErrSymbolNotFound。
func (c *Client) FetchInstrumentFilters(ctx context.Context, symbol string) (InstrumentFilters, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return InstrumentFilters{}, err
	}

	c.marketsMu.Lock()
	market, ok := c.markets[symbol]
	c.marketsMu.Unlock()
	if !ok {
		return InstrumentFilters{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	return filtersFromInfo(market.Info)
}

// RefreshMarkets 丢弃市场元数据缓存，下次访问时重新拉取。
func (c *Client) RefreshMarkets() {
	c.marketsMu.Lock()
	c.markets = nil
	c.marketsMu.Unlock()
}

// FetchLastPrice 获取最新成交价。
func (c *Client) FetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	var ticker ccxt.Ticker

	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		result, err := c.exchange.FetchTicker(symbol)
		if err != nil {
			return err
		}
		ticker = result
		return nil
	})
	if err != nil {
		return 0, err
	}

	price := derefFloat(ticker.Last)
	if price == 0 {
		price = derefFloat(ticker.Close)
	}
	if price == 0 && ticker.Info != nil {
		price = parseNumeric(ticker.Info["lastPrice"])
	}
	if price <= 0 {
		return 0, fmt.Errorf("无法解析 %s 的最新价格", symbol)
	}

	return price, nil
}

// FetchMarkPrice 获取标记价格，用于触发类订单的参照。
func (c *Client) FetchMarkPrice(ctx context.Context, symbol string) (float64, error) {
	var ticker ccxt.Ticker

	err := c.callWithRetry(ctx, "fetch_mark_price", func() error {
		result, err := c.exchange.FetchMarkPrice(symbol)
		if err != nil {
			return err
		}
		ticker = result
		return nil
	})
	if err != nil {
		return 0, err
	}

	price := 0.0
	if ticker.Info != nil {
		price = parseNumeric(ticker.Info["markPrice"])
	}
	if price == 0 {
		price = derefFloat(ticker.Last)
	}
	if price <= 0 {
		return 0, fmt.Errorf("无法解析 %s 的标记价格", symbol)
	}

	return price, nil
}

// FetchPosition 返回带符号的持仓数量，空仓返回0，做空为负。
func (c *Client) FetchPosition(ctx context.Context, symbol string) (float64, error) {
	var positions []ccxt.Position

	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		result, err := c.exchange.FetchPositions()
		if err != nil {
			return err
		}
		positions = result
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, pos := range positions {
		if !strings.EqualFold(derefString(pos.Symbol), symbol) {
			continue
		}

		size := derefFloat(pos.Contracts)
		if size == 0 {
			continue
		}

		if strings.EqualFold(derefString(pos.Side), "short") {
			size = -size
		}
		return size, nil
	}

	return 0, nil
}

// FetchOpenOrders 获取交易对的全部在途挂单。
func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	var raw []ccxt.Order

	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		result, err := c.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(symbol))
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]OpenOrder, 0, len(raw))
	for _, item := range raw {
		orders = append(orders, OpenOrder{
			OrderID: derefString(item.Id),
			Side:    OrderSide(strings.ToLower(derefString(item.Side))),
			Price:   derefFloat(item.Price),
		})
	}

	return orders, nil
}

// SubmitOrder 按委托类型提交订单。提交失败的交易所错误会在记录后原样返回。
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (OrderRecord, error) {
	params := map[string]interface{}{}
	if req.ReduceOnly {
		params["reduceOnly"] = true
	}
	if req.TimeInForce != "" {
		params["timeInForce"] = req.TimeInForce
	}

	var (
		order ccxt.Order
		err   error
	)

	submit := func() error {
		switch req.Kind {
		case KindMarket:
			var opts []ccxt.CreateMarketOrderOptions
			if len(params) > 0 {
				opts = append(opts, ccxt.WithCreateMarketOrderParams(params))
			}
			order, err = c.exchange.CreateMarketOrder(req.Symbol, string(req.Side), req.Quantity, opts...)
		case KindLimit:
			if _, ok := params["timeInForce"]; !ok {
				params["timeInForce"] = "GTC"
			}
			order, err = c.exchange.CreateLimitOrder(req.Symbol, string(req.Side), req.Quantity, req.Price,
				ccxt.WithCreateLimitOrderParams(params))
		case KindStopLimit:
			if _, ok := params["timeInForce"]; !ok {
				params["timeInForce"] = "GTC"
			}
			params["stopPrice"] = req.StopPrice
			order, err = c.exchange.CreateOrder(req.Symbol, "limit", string(req.Side), req.Quantity,
				ccxt.WithCreateOrderPrice(req.Price),
				ccxt.WithCreateOrderParams(params))
		case KindTakeProfit:
			params["takeProfitPrice"] = req.StopPrice
			params["workingType"] = "MARK_PRICE"
			order, err = c.exchange.CreateOrder(req.Symbol, "market", string(req.Side), req.Quantity,
				ccxt.WithCreateOrderParams(params))
		case KindStopLoss:
			params["stopLossPrice"] = req.StopPrice
			params["workingType"] = "MARK_PRICE"
			order, err = c.exchange.CreateOrder(req.Symbol, "market", string(req.Side), req.Quantity,
				ccxt.WithCreateOrderParams(params))
		default:
			return fmt.Errorf("不支持的委托类型 %s", req.Kind)
		}
		return err
	}

	if callErr := c.callWithRetry(ctx, fmt.Sprintf("submit_%s", req.Kind), submit); callErr != nil {
		c.logger.Error("委托提交失败",
			zap.String("symbol", req.Symbol),
			zap.String("kind", string(req.Kind)),
			zap.String("side", string(req.Side)),
			zap.Float64("quantity", req.Quantity),
			zap.Error(callErr),
		)
		return OrderRecord{}, callErr
	}

	record := OrderRecord{
		OrderID:     derefString(order.Id),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Kind:        req.Kind,
		Quantity:    req.Quantity,
		Price:       derefFloat(order.Price),
		Status:      derefString(order.Status),
		SubmittedAt: time.Now().UTC(),
	}
	if record.Price == 0 {
		record.Price = req.Price
	}

	c.logger.Info("委托已提交",
		zap.String("symbol", record.Symbol),
		zap.String("order_id", record.OrderID),
		zap.String("kind", string(record.Kind)),
		zap.String("side", string(record.Side)),
		zap.Float64("quantity", record.Quantity),
		zap.Float64("price", record.Price),
		zap.String("status", record.Status),
	)

	return record, nil
}

// CancelAllOpenOrders 撤销交易对的全部挂单。
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	return c.callWithRetry(ctx, "cancel_all_orders", func() error {
		_, err := c.exchange.CancelAllOrders(ccxt.WithCancelAllOrdersSymbol(symbol))
		return err
	})
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.markets != nil {
		return nil
	}

	var loaded map[string]ccxt.MarketInterface
	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		markets, err := c.exchange.LoadMarkets()
		if err != nil {
			return err
		}
		loaded = markets
		return nil
	})
	if loadErr != nil {
		return loadErr
	}

	c.markets = loaded
	c.logger.Info("已完成市场元数据加载", zap.Int("markets", len(loaded)))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}
