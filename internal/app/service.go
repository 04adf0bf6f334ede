package app

import (
	"context"

	"go.uber.org/zap"

	"futures-orders/internal/config"
	"futures-orders/internal/exchange"
	"futures-orders/internal/journal"
	"futures-orders/internal/rules"
	"futures-orders/internal/store"
	"futures-orders/internal/strategy"
)

// Service 聚合交易所客户端、规则校验与各执行策略，对外提供统一入口。
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	client   *exchange.Client
	rules    *rules.Rules
	recorder *journal.Recorder

	single  *strategy.Single
	grid    *strategy.Grid
	twap    *strategy.Twap
	bracket *strategy.Bracket
}

// New 按配置装配全部组件。store 可为 nil，此时不记录订单流水。
func New(cfg *config.Config, logger *zap.Logger, st *store.Store) (*Service, error) {
	client, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		return nil, err
	}

	r := rules.NewRules(client, logger)
	validator := rules.NewValidator(r, client, cfg.Strategy.Bracket.MinNotional, logger)

	var sink strategy.EventSink
	var recorder *journal.Recorder
	if st != nil {
		recorder, err = journal.NewRecorder(st, logger)
		if err != nil {
			return nil, err
		}
		sink = recorder
	}

	svc := &Service{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		rules:    r,
		recorder: recorder,
		single:   strategy.NewSingle(client, validator, sink, cfg.Strategy.Price.BaseDeviation, logger),
		grid:     strategy.NewGrid(client, validator, sink, cfg.Strategy.Grid, logger),
		twap:     strategy.NewTwap(client, validator, sink, logger),
		bracket:  strategy.NewBracket(client, validator, sink, logger),
	}

	logger.Info("订单执行服务已初始化",
		zap.String("environment", cfg.App.Environment),
		zap.String("exchange", cfg.Exchange.Name),
		zap.Bool("testnet", cfg.Exchange.UseTestnet),
	)

	return svc, nil
}

// PlaceMarket 提交市价单。
func (s *Service) PlaceMarket(ctx context.Context, symbol string, side exchange.OrderSide, quantity float64) (exchange.OrderRecord, error) {
	return s.single.PlaceMarket(ctx, symbol, side, quantity)
}

// PlaceLimit 提交限价单。price 为 nil 时自动按现价偏移取价。
func (s *Service) PlaceLimit(ctx context.Context, symbol string, side exchange.OrderSide, quantity float64, price *float64) (exchange.OrderRecord, error) {
	return s.single.PlaceLimit(ctx, symbol, side, quantity, price)
}

// PlaceStopLimit 提交止损限价单。
func (s *Service) PlaceStopLimit(ctx context.Context, symbol string, side exchange.OrderSide, quantity, stopPrice, limitPrice float64) (exchange.OrderRecord, error) {
	return s.single.PlaceStopLimit(ctx, symbol, side, quantity, stopPrice, limitPrice)
}

// PlaceBracket 为当前持仓放置止盈止损双腿保护单。
func (s *Service) PlaceBracket(ctx context.Context, params strategy.BracketParams) (strategy.BracketResult, error) {
	return s.bracket.Place(ctx, params)
}

// StartGrid 启动网格交易会话，返回会话 ID。
func (s *Service) StartGrid(ctx context.Context, params strategy.GridParams) (string, error) {
	return s.grid.Start(ctx, params)
}

// CancelGrid 终止网格会话并撤销该交易对的全部挂单。
func (s *Service) CancelGrid(ctx context.Context, id string) bool {
	return s.grid.Cancel(ctx, id)
}

// StartTwap 启动 TWAP 分片执行，返回会话 ID。
func (s *Service) StartTwap(ctx context.Context, params strategy.TwapParams) (string, error) {
	return s.twap.Start(ctx, params)
}

// CancelTwap 请求取消一个在途的 TWAP 会话。
func (s *Service) CancelTwap(id string) bool {
	return s.twap.Cancel(id)
}

// RecentEvents 返回最近的订单流水记录。
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]journal.Event, error) {
	if s.recorder == nil {
		return nil, nil
	}
	return s.recorder.Recent(ctx, limit)
}

// Shutdown 等待全部后台策略退出。
func (s *Service) Shutdown() {
	s.grid.Wait()
	s.twap.Wait()
	s.logger.Info("订单执行服务已停止")
}
