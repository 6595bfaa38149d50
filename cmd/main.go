package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pairchat/backend/internal/api/handler"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupDependencies(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		logger.Warn("using in-memory storage, nothing survives a restart")
		return storage.NewMemoryStore(), nil
	}

	// 1. PostgreSQL
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect PostgreSQL")
	}

	// 2. Redis
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse REDIS_URL")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "connect Redis")
	}

	// 3. Міграції (Створення таблиць)
	s := storage.NewStorageService(db, rdb)
	if err := s.Migrate(); err != nil {
		return nil, err
	}

	logger.Info("Database and Redis connections established, migrations complete.")
	return s, nil
}

func main() {
	defer logger.Sync()
	logger.Info("Starting pairchat backend...")

	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file loaded", zap.Error(err))
	}
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)
	if cfg.GinMode == gin.ReleaseMode {
		logger.SetLevel(zapcore.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	s, err := setupDependencies(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("startup failed", zap.Error(err))
	}

	// 2. Ініціалізація Chat Hub
	hub := chathub.NewManagerService(s, cfg.Match)
	if _, err := hub.RecoverStaleMatches(ctx); err != nil {
		logger.Error("stale match recovery failed", zap.Error(err))
	}
	// the publisher outlives the signal context so shutdown events still reach Redis
	hub.Run(context.Background())

	// 3. Налаштування Gin та роутингу
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	handler.NewHandler(hub, s, cfg.HistoryPageLimit, cfg.Match.SendBuffer).Routes(r, cfg.JWTSecret)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	hub.Shutdown(shutdownCtx)
}
