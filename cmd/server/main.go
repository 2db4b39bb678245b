package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/nimo-bom/internal/config"
	"github.com/bitfantasy/nimo-bom/internal/handler"
	"github.com/bitfantasy/nimo-bom/internal/middleware"
	"github.com/bitfantasy/nimo-bom/internal/observability"
	"github.com/bitfantasy/nimo-bom/internal/repository"
	"github.com/bitfantasy/nimo-bom/internal/service"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// .env 可选
	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting nimo-bom service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("sequence_backend", cfg.BOM.SequenceBackend),
	)

	// 链路追踪
	shutdownTracing, err := observability.InitTracing(context.Background(), zapLogger, observability.TracingConfig{
		Enabled:     cfg.OTel.Enabled,
		ServiceName: cfg.OTel.ServiceName,
		Version:     Version,
		SampleRatio: cfg.OTel.SampleRatio,
		Output:      traceOutput(),
	})
	if err != nil {
		zapLogger.Fatal("Failed to init tracing", zap.Error(err))
	}

	// 初始化数据库
	db, err := initDatabase(cfg.Database, cfg.Log)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := repository.AutoMigrate(db); err != nil {
			zapLogger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	// 初始化Redis
	rdb := initRedis(cfg.Redis, zapLogger)
	if rdb == nil && cfg.BOM.SequenceBackend == config.SequenceBackendRedis {
		zapLogger.Fatal("Redis sequence backend configured but redis is unavailable")
	}

	// 初始化依赖
	repos := repository.NewRepositories(db)
	services, err := service.NewServices(repos, rdb, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to init services", zap.Error(err))
	}
	handlers := handler.NewHandlers(services, handler.NewHealthHandler(db, rdb, Version, BuildTime))

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(middleware.Recovery(zapLogger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins...))
	router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	router.Use(observability.GinMetrics())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	router.Use(middleware.BodyLimit(cfg.Server.MaxUploadSize))

	// 注册路由
	registerRoutes(router, handlers, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		zapLogger.Warn("Tracing shutdown failed", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

// traceOutput OTEL_TRACES_OUTPUT=stdout 时导出到标准输出
func traceOutput() io.Writer {
	if config.GetEnvOrDefault("OTEL_TRACES_OUTPUT", "") == "stdout" {
		return os.Stdout
	}
	return nil
}

func initDatabase(cfg config.DatabaseConfig, logCfg config.LogConfig) (*gorm.DB, error) {
	gormLogLevel := logger.Warn
	if logCfg.Level == "debug" {
		gormLogLevel = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverSQLite:
		// 纯Go驱动，无需cgo
		dialector = sqlite.Dialector{DriverName: "sqlite", DSN: cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"}
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		// sqlite 只允许一个写连接
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

// initRedis 未启用或连接失败时返回 nil，服务以无缓存方式运行
func initRedis(cfg config.RedisConfig, zapLogger *zap.Logger) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		zapLogger.Warn("Redis unavailable, continuing without cache", zap.String("addr", cfg.Addr()), zap.Error(err))
		rdb.Close()
		return nil
	}
	return rdb
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查、版本信息
	h.Health.RegisterRoutes(r)

	// 指标
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	// API v1（需要认证，并解析所属公司）
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(cfg.JWT.Secret), middleware.Company())
	h.BOM.RegisterRoutes(v1)
}
