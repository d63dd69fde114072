// Package main is the entry point for the regimeflow server: it loads
// the dotted-path configuration contract, wires the regime detector,
// risk gate, cost/fill model and portfolio into a single-threaded
// Pipeline, and serves it over the HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/regimeflow/regimeflow/internal/api"
	"github.com/regimeflow/regimeflow/internal/attribution"
	"github.com/regimeflow/regimeflow/internal/config"
	"github.com/regimeflow/regimeflow/internal/data"
	"github.com/regimeflow/regimeflow/internal/engine"
	"github.com/regimeflow/regimeflow/internal/execution"
	"github.com/regimeflow/regimeflow/internal/metrics"
	"github.com/regimeflow/regimeflow/internal/plugins"
	"github.com/regimeflow/regimeflow/internal/regime"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	host := flag.String("host", "0.0.0.0", "API server host")
	port := flag.Int("port", 8080, "API server port")
	dataDir := flag.String("data", "./data", "Historical bar data directory")
	configPath := flag.String("config", "config.yaml", "Path to the dotted-path YAML config file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	startingCash := flag.Float64("cash", 100000, "Starting portfolio cash")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting regimeflow",
		zap.String("host", *host),
		zap.Int("port", *port),
		zap.String("dataDir", *dataDir),
		zap.String("detector", cfg.Detector.Type),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataStore, err := data.NewStore(logger, *dataDir)
	if err != nil {
		logger.Fatal("failed to open data store", zap.Error(err))
	}

	detectorCfg := config.BuildDetectorConfig(cfg)
	detector, err := regime.New(logger.Named("regime"), detectorCfg)
	if err != nil {
		logger.Fatal("failed to build regime detector", zap.Error(err))
	}
	tracker := regime.NewTracker(detector, 1000)

	riskManager, err := config.BuildRiskManager(logger.Named("risk"), cfg)
	if err != nil {
		logger.Fatal("failed to build risk manager", zap.Error(err))
	}

	slippage, err := config.BuildSlippageModel(cfg)
	if err != nil {
		logger.Fatal("failed to build slippage model", zap.Error(err))
	}
	commission, err := config.BuildCommissionModel(cfg)
	if err != nil {
		logger.Fatal("failed to build commission model", zap.Error(err))
	}
	transactionCost, err := config.BuildTransactionCostModel(cfg)
	if err != nil {
		logger.Fatal("failed to build transaction cost model", zap.Error(err))
	}

	portfolio := engine.NewPortfolio(decimal.NewFromFloat(*startingCash))
	attrTracker := attribution.NewTracker()
	metricsCollector := metrics.NewCollector()
	registry := plugins.Default()

	pipeline := engine.NewPipeline(engine.PipelineConfig{
		Logger:     logger.Named("engine"),
		Tracker:    tracker,
		Risk:       riskManager,
		Simulator:  execution.NewSimulator(slippage),
		Commission: commission,
		Cost:       transactionCost,
		Portfolio:  portfolio,
		Metrics:    engine.MultiMetricsSink{attrTracker, metricsCollector},
	})

	serverConfig := api.DefaultConfig()
	serverConfig.Host = *host
	serverConfig.Port = *port

	apiServer := api.NewServer(logger.Named("api"), serverConfig, pipeline, attrTracker, dataStore, registry, metricsCollector.Registry())
	pipeline.Metrics = engine.MultiMetricsSink{attrTracker, metricsCollector, apiServer.EventSink()}

	liveQueue := engine.NewLiveQueue(logger.Named("ingest"), pipeline, engine.DefaultLiveQueueConfig(), nil)
	if err := liveQueue.Start(ctx); err != nil {
		logger.Fatal("failed to start live ingestion queue", zap.Error(err))
	}

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	logger.Info("regimeflow started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", *host, *port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", *host, *port, serverConfig.WebSocketPath)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	liveQueue.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during api server shutdown", zap.Error(err))
	}

	logger.Info("regimeflow stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
