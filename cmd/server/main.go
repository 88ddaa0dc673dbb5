package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/koopa0/system-design/14-game-relay/internal"
	"github.com/koopa0/system-design/14-game-relay/internal/events"
	"github.com/koopa0/system-design/14-game-relay/internal/limiter"
)

const version = "1.0.0"

func main() {
	// 載入 .env（不存在時忽略）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "載入 .env 失敗: %v\n", err)
	}

	cmd := &cli.Command{
		Name:    "relay-server",
		Usage:   "兩人遊戲配對與訊息轉發服務器",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "配置檔路徑（不存在時使用預設值）",
				Sources: cli.EnvVars("RELAY_CONFIG"),
			},
			&cli.IntFlag{Name: "port", Usage: "服務器端口"},
			&cli.StringFlag{Name: "ws-path", Usage: "WebSocket 路徑"},
			&cli.StringFlag{Name: "log-level", Usage: "日誌級別 (debug, info, warn, error)"},
			&cli.StringFlag{Name: "log-format", Usage: "日誌格式 (text, json)"},
			&cli.StringFlag{Name: "redis-addr", Usage: "Redis 位址，設定後使用分散式連線限流"},
			&cli.StringFlag{Name: "nats-url", Usage: "NATS 位址，設定後發佈房間事件"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "relay-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := internal.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	applyFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	// 房間事件
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return err
		}
		publisher = natsPublisher
		logger.Info("房間事件將發佈到 NATS", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	// 握手限流
	var connectLimiter limiter.Limiter
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = redisClient.Close()
			return fmt.Errorf("連接 Redis 失敗: %w", err)
		}
		connectLimiter = limiter.NewDistributedTokenBucket(redisClient,
			cfg.Limits.ConnectBurst, cfg.Limits.ConnectRate, cfg.Redis.KeyPrefix)
		logger.Info("使用 Redis 連線限流", "addr", cfg.Redis.Addr)
	} else {
		connectLimiter = limiter.NewKeyedTokenBucket(cfg.Limits.ConnectBurst, cfg.Limits.ConnectRate, 10*time.Minute)
	}

	// 核心元件
	manager := internal.NewManager(logger, internal.WithPublisher(publisher))
	registry := internal.NewRegistry(manager, logger,
		internal.WithMessageLimit(cfg.Limits.MessageBurst, cfg.Limits.MessageRate))
	wsHub := internal.NewWebSocketHub(registry, internal.HubConfigFrom(cfg), logger)
	handler := internal.NewHandler(manager, wsHub, logger,
		internal.WithWSPath(cfg.Server.WSPath),
		internal.WithConnectLimiter(connectLimiter))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("遊戲轉發服務器啟動",
			"port", cfg.Server.Port,
			"ws_path", cfg.Server.WSPath,
			"log_level", cfg.Log.Level,
			"version", version)
		serverErrors <- server.ListenAndServe()
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("服務器啟動失敗: %w", err)
		}
	case <-sigCtx.Done():
		logger.Info("收到關閉信號，開始優雅關閉...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 已升級的 WebSocket 不在 http.Server 追蹤範圍內，由 Hub 關閉
	wsHub.Stop()
	manager.Stop()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("關閉 Redis 失敗", "error", err)
		}
	}

	logger.Info("服務器已關閉")
	return nil
}

// applyFlags 命令列參數覆蓋配置
func applyFlags(cfg *internal.Config, cmd *cli.Command) {
	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("ws-path") {
		cfg.Server.WSPath = cmd.String("ws-path")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}
	if cmd.IsSet("redis-addr") {
		cfg.Redis.Addr = cmd.String("redis-addr")
	}
	if cmd.IsSet("nats-url") {
		cfg.NATS.URL = cmd.String("nats-url")
	}
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
