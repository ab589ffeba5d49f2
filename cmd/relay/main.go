package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"signalrelay/internal/config"
	cronrunner "signalrelay/internal/cron"
	"signalrelay/internal/db"
	"signalrelay/internal/delivery"
	"signalrelay/internal/handler"
	"signalrelay/internal/logger"
	"signalrelay/internal/models"
	"signalrelay/internal/pipeline"
	gormrepository "signalrelay/internal/repository/gorm"
	"signalrelay/internal/telegram"
)

func main() {
	cfgPath := os.Getenv("RELAY_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("RELAY_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := gormrepository.New(dbConn.Gorm)
	if err := seedCoinPairs(ctx, store, cfg.Pairs.Default); err != nil {
		logger.Warn("seed default coin pairs failed", zap.Error(err))
	}

	loc, err := time.LoadLocation(cfg.Display.Timezone)
	if err != nil {
		logger.Warn("display timezone unknown, using UTC", zap.String("tz", cfg.Display.Timezone))
		loc = time.UTC
	}
	formatter := pipeline.Formatter{
		Location:     loc,
		ChartBaseURL: cfg.Chart.BaseURL,
	}

	snapshots := &pipeline.SnapshotLoader{
		Store:           store,
		SymbolRoutes:    upperKeys(cfg.Routing.SymbolMap),
		TimeframeRoutes: cfg.Routing.TimeframeMap,
		DefaultChat:     cfg.Telegram.DefaultChatID,
	}

	tgClient := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.Timeout)
	if err := tgClient.GetMe(ctx); err != nil {
		logger.Warn("telegram bot not reachable at startup", zap.Error(err))
	}

	engine := delivery.NewEngine(store, tgClient, logger,
		cfg.Delivery.RetryDelays, cfg.Delivery.MaxAttempts, formatter.Format, ctx)

	pipe := &pipeline.Pipeline{
		Store:     store,
		Snapshots: snapshots,
		Formatter: formatter,
		Delivery:  engine,
		Logger:    logger,
		TTL:       cfg.Idempotency.TTL,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(router)
	ingestHandler := &handler.IngestHandler{
		Pipeline: pipe,
		Secret:   cfg.Ingest.SharedSecret,
		Logger:   logger,
	}
	ingestHandler.Register(router)
	adminHandler := &handler.AdminHandler{Repo: store}
	adminHandler.Register(router)
	signalHandler := &handler.SignalHandler{Repo: store}
	signalHandler.Register(router)

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.Purge, func(ctx context.Context) {
			n, err := store.DeleteExpiredSignals(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn("delete expired signals failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("deleted expired signals", zap.Int64("count", n))
			}
		})
		if err != nil {
			logger.Warn("cron register purge failed", zap.Error(err))
		}

		_, err = cronRunner.Add(cfg.Cron.Redeliver, func(ctx context.Context) {
			engine.RedeliverDue(ctx, 100)
		})
		if err != nil {
			logger.Warn("cron register redeliver failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// seedCoinPairs installs the deploy-time default pairs. Existing rows are
// left untouched so an operator disable survives restarts.
func seedCoinPairs(ctx context.Context, store *gormrepository.Store, symbols []string) error {
	now := time.Now().UTC()
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		item := &models.CoinPair{
			Symbol:  symbol,
			Enabled: true,
			AddedBy: "system",
			AddedAt: now,
		}
		if err := store.SeedCoinPair(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func upperKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-TV-Secret")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
