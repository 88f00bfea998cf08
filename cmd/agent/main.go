package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"sensor-agent/internal/agent"
	"sensor-agent/internal/bridge"
	"sensor-agent/internal/config"
	"sensor-agent/internal/ingest"
	"sensor-agent/internal/logging"
	"sensor-agent/internal/mirror"
	"sensor-agent/internal/wifi"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "配置文件路径")
	pflag.Parse()

	// 1. 配置加载
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.Log)
	defer logger.Sync()

	// 2. 基础设施层 (入站消息镜像)
	producer, err := mirror.NewProducer(cfg.MessageQueue, logger)
	if err != nil {
		logger.Fatal("Failed to initialize message queue producer", zap.Error(err))
	}
	defer producer.Close()

	dispatcher := mirror.NewDispatcher(producer, cfg.MQTT.ClientID, cfg.MessageQueue.Workers, 100, logger)
	dispatcher.Start()
	defer dispatcher.Stop()

	// 3. 采样通道与采样输入
	b := bridge.New()
	var srv *ingest.Server
	if cfg.Ingest.Enabled {
		srv = ingest.NewServer(cfg.Ingest, b, logger)
		go func() {
			if err := srv.Start(context.Background()); err != nil {
				logger.Error("Sample ingest failed", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. 无线 → 证书 → 安全会话, 任一步失败直接退出
	app, err := agent.Bootstrap{
		Config: *cfg,
		Radio:  wifi.NewHostRadio(cfg.Wifi.Interface),
		Logger: logger,
	}.Start(ctx)
	if err != nil {
		logger.Fatal("Startup failed", zap.Error(err))
	}

	// 5. 会话循环
	loop := agent.NewLoop(agent.LoopOptions(cfg.Loop), app.Dial, b, dispatcher, nil, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := loop.Run(ctx, app.Client); err != nil {
			logger.Error("Session loop exited", zap.Error(err))
		}
	}()

	// 优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()
	<-done
	if srv != nil {
		_ = srv.Stop(context.Background())
	}
	offered, replaced := b.Stats()
	logger.Info("Bridge stats", zap.Uint64("offered", offered), zap.Uint64("replaced", replaced),
		zap.Any("loop", loop.Stats()))
}
