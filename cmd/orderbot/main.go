package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"futures-orders/internal/app"
	"futures-orders/internal/config"
	"futures-orders/internal/exchange"
	"futures-orders/internal/log"
	"futures-orders/internal/store"
	"futures-orders/internal/strategy"
)

const usage = `用法: orderbot [-config 配置文件] <命令> [参数]

命令:
  market      提交市价单
  limit       提交限价单（不指定价格时自动取价）
  stop-limit  提交止损限价单
  bracket     为当前持仓放置止盈止损保护单
  twap        按时间分片执行大单（Ctrl+C 取消）
  grid        启动网格交易（Ctrl+C 停止并撤单）
  events      查看最近的订单流水
`

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// .env 仅用于存放 API 密钥，缺失时静默跳过。
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	svc, err := app.New(cfg, logger, sqliteStore)
	if err != nil {
		logger.Error("初始化服务失败", zap.Error(err))
		os.Exit(1)
	}
	defer svc.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := flag.Arg(0)
	args := flag.Args()[1:]

	if err := runCommand(ctx, svc, logger, command, args); err != nil {
		logger.Error("命令执行失败", zap.String("command", command), zap.Error(err))
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, svc *app.Service, logger *zap.Logger, command string, args []string) error {
	switch command {
	case "market":
		return runMarket(ctx, svc, args)
	case "limit":
		return runLimit(ctx, svc, args)
	case "stop-limit":
		return runStopLimit(ctx, svc, args)
	case "bracket":
		return runBracket(ctx, svc, args)
	case "twap":
		return runTwap(ctx, svc, logger, args)
	case "grid":
		return runGrid(ctx, svc, logger, args)
	case "events":
		return runEvents(ctx, svc, args)
	default:
		flag.Usage()
		return fmt.Errorf("未知命令 %q", command)
	}
}

func parseSide(raw string) (exchange.OrderSide, error) {
	switch raw {
	case "buy":
		return exchange.OrderSideBuy, nil
	case "sell":
		return exchange.OrderSideSell, nil
	default:
		return "", fmt.Errorf("方向必须为 buy 或 sell，收到 %q", raw)
	}
}

func runMarket(ctx context.Context, svc *app.Service, args []string) error {
	fs := flag.NewFlagSet("market", flag.ExitOnError)
	symbol := fs.String("symbol", "", "交易对，例如 BTC/USDT:USDT")
	sideRaw := fs.String("side", "", "方向: buy 或 sell")
	quantity := fs.Float64("quantity", 0, "下单数量")
	if err := fs.Parse(args); err != nil {
		return err
	}

	side, err := parseSide(*sideRaw)
	if err != nil {
		return err
	}

	record, err := svc.PlaceMarket(ctx, *symbol, side, *quantity)
	if err != nil {
		return err
	}
	fmt.Printf("市价单已提交: id=%s status=%s\n", record.OrderID, record.Status)
	return nil
}

func runLimit(ctx context.Context, svc *app.Service, args []string) error {
	fs := flag.NewFlagSet("limit", flag.ExitOnError)
	symbol := fs.String("symbol", "", "交易对")
	sideRaw := fs.String("side", "", "方向: buy 或 sell")
	quantity := fs.Float64("quantity", 0, "下单数量")
	price := fs.Float64("price", 0, "限价，0 表示按现价偏移自动取价")
	if err := fs.Parse(args); err != nil {
		return err
	}

	side, err := parseSide(*sideRaw)
	if err != nil {
		return err
	}

	var pricePtr *float64
	if *price > 0 {
		pricePtr = price
	}

	record, err := svc.PlaceLimit(ctx, *symbol, side, *quantity, pricePtr)
	if err != nil {
		return err
	}
	fmt.Printf("限价单已提交: id=%s price=%v status=%s\n", record.OrderID, record.Price, record.Status)
	return nil
}

func runStopLimit(ctx context.Context, svc *app.Service, args []string) error {
	fs := flag.NewFlagSet("stop-limit", flag.ExitOnError)
	symbol := fs.String("symbol", "", "交易对")
	sideRaw := fs.String("side", "", "方向: buy 或 sell")
	quantity := fs.Float64("quantity", 0, "下单数量")
	stopPrice := fs.Float64("stop", 0, "触发价")
	limitPrice := fs.Float64("price", 0, "限价")
	if err := fs.Parse(args); err != nil {
		return err
	}

	side, err := parseSide(*sideRaw)
	if err != nil {
		return err
	}

	record, err := svc.PlaceStopLimit(ctx, *symbol, side, *quantity, *stopPrice, *limitPrice)
	if err != nil {
		return err
	}
	fmt.Printf("止损限价单已提交: id=%s stop=%v price=%v\n", record.OrderID, *stopPrice, record.Price)
	return nil
}

func runBracket(ctx context.Context, svc *app.Service, args []string) error {
	fs := flag.NewFlagSet("bracket", flag.ExitOnError)
	symbol := fs.String("symbol", "", "交易对")
	sideRaw := fs.String("side", "", "保护单平仓方向: buy 或 sell")
	quantity := fs.Float64("quantity", 0, "保护数量")
	takeProfit := fs.Float64("tp", 0, "止盈触发价")
	stopLoss := fs.Float64("sl", 0, "止损触发价")
	if err := fs.Parse(args); err != nil {
		return err
	}

	side, err := parseSide(*sideRaw)
	if err != nil {
		return err
	}

	result, err := svc.PlaceBracket(ctx, strategy.BracketParams{
		Symbol:          *symbol,
		Side:            side,
		Quantity:        *quantity,
		TakeProfitPrice: *takeProfit,
		StopLossPrice:   *stopLoss,
	})
	if err != nil {
		return err
	}
	fmt.Printf("保护单已放置: tp_id=%s sl_id=%s\n", result.TakeProfit.OrderID, result.StopLoss.OrderID)
	return nil
}

func runTwap(ctx context.Context, svc *app.Service, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("twap", flag.ExitOnError)
	symbol := fs.String("symbol", "", "交易对")
	sideRaw := fs.String("side", "", "方向: buy 或 sell")
	total := fs.Float64("quantity", 0, "总数量")
	chunks := fs.Int("chunks", 5, "分片数量")
	interval := fs.Duration("interval", 30*time.Second, "分片间隔")
	if err := fs.Parse(args); err != nil {
		return err
	}

	side, err := parseSide(*sideRaw)
	if err != nil {
		return err
	}

	id, err := svc.StartTwap(ctx, strategy.TwapParams{
		Symbol:        *symbol,
		Side:          side,
		TotalQuantity: *total,
		NumChunks:     *chunks,
		Interval:      *interval,
	})
	if err != nil {
		return err
	}

	logger.Info("TWAP执行中，按 Ctrl+C 取消剩余分片", zap.String("session_id", id))
	<-ctx.Done()
	if svc.CancelTwap(id) {
		logger.Info("已请求取消 TWAP 会话", zap.String("session_id", id))
	}
	return nil
}

func runGrid(ctx context.Context, svc *app.Service, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("grid", flag.ExitOnError)
	symbol := fs.String("symbol", "", "交易对")
	lower := fs.Float64("lower", 0, "网格下边界价格")
	upper := fs.Float64("upper", 0, "网格上边界价格")
	levels := fs.Int("levels", 10, "网格层数")
	quantity := fs.Float64("quantity", 0, "每层下单数量")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := svc.StartGrid(ctx, strategy.GridParams{
		Symbol:           *symbol,
		LowerPrice:       *lower,
		UpperPrice:       *upper,
		NumLevels:        *levels,
		QuantityPerLevel: *quantity,
	})
	if err != nil {
		return err
	}

	logger.Info("网格运行中，按 Ctrl+C 停止并撤单", zap.String("session_id", id))
	<-ctx.Done()

	// 信号触发的 ctx 已结束，撤单走独立的超时上下文。
	cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if !svc.CancelGrid(cancelCtx, id) {
		logger.Warn("网格撤单未完成，挂单可能仍在交易所", zap.String("session_id", id))
	}
	return nil
}

func runEvents(ctx context.Context, svc *app.Service, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("limit", 20, "返回条数")
	if err := fs.Parse(args); err != nil {
		return err
	}

	events, err := svc.RecentEvents(ctx, *limit)
	if err != nil {
		return err
	}
	for _, event := range events {
		fmt.Printf("%s  %-16s %-24s %s\n",
			event.Timestamp.Format(time.RFC3339), event.Type, event.Symbol, event.SessionID)
	}
	return nil
}
