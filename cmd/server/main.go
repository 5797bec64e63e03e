package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"mediarepo/internal/api"
	"mediarepo/internal/config"
	"mediarepo/internal/database"
	"mediarepo/internal/logging"
	"mediarepo/internal/repository/postgres"
	"mediarepo/internal/service"
	"mediarepo/internal/storage"

	"go.uber.org/zap"

	// 注册内置存储后端模块
	_ "mediarepo/internal/storage/local"
	_ "mediarepo/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New()
	defer logger.Sync()
	logger.Info("配置加载完成，开始启动服务")

	ctx := context.Background()

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	defer db.Close()

	repo := postgres.NewMediaRepository(db)

	providers, complete := storage.BuildProviders(ctx, cfg.StorageProviders, logger)
	if !complete {
		logger.Warn("存在被拒绝的存储后端，联邦媒体端点将降级")
	}

	mediaStorage := service.NewMediaStorage(repo, cfg.MediaStorePath, providers, logger)

	mediaHandler := api.NewMediaHandler(mediaStorage, cfg.ServerName, cfg.MaxUploadSize)
	fedHandler := api.NewFederationHandler(mediaStorage, cfg.FederationMediaEnabled && complete, logger)

	router := api.NewRouter(cfg, mediaHandler, fedHandler, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      router,
	}

	logger.Info("服务监听端口", zap.String("port", cfg.HTTPPort))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("监听失败", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("优雅关闭失败", zap.Error(err))
	}

	// 排空仍在后台运行的存储后端写入
	mediaStorage.Wait()

	logger.Info("服务已停止")
}
