package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"learnedindex/pkg/api"
	"learnedindex/pkg/config"
	"learnedindex/pkg/core/store"
	"learnedindex/pkg/logger"
	"learnedindex/pkg/network"
)

var log = logger.For("main")

// main 启动学习型索引服务: 加载数据集与模型, 构建索引, 同时提供 HTTP 与 TCP 接口
func main() {
	configPath := flag.String("config", "", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		log.Warnf("Invalid log level %q: %v", cfg.Log.Level, err)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Open store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Errorf("Close store: %v", err)
		}
	}()

	httpSrv := api.NewServer(st)
	tcpSrv := network.NewTCPServer(st)

	errc := make(chan error, 2)
	go func() { errc <- httpSrv.Start(cfg.Server.Addr) }()
	go func() { errc <- tcpSrv.Start(cfg.Server.TCPAddr) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errc:
		if err != nil {
			log.Errorf("Server crashed: %v", err)
		}
	case q := <-quit:
		log.Infof("%s received, stopping gracefully...", q)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	if err := tcpSrv.Shutdown(); err != nil {
		log.Warnf("TCP shutdown: %v", err)
	}
}
