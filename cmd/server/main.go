package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowdesk/internal/config"
	"flowdesk/internal/handlers"
	"flowdesk/internal/models"
	"flowdesk/internal/observability"
	"flowdesk/internal/queue"
	"flowdesk/internal/services"
	"flowdesk/pkg/pushkit"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	// 允许通过 flags/env 覆盖数据库连接与监听地址
	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.SetOutput(os.Stdout)
	flagDSN := flagSet.String("dsn", os.Getenv("DB_DSN"), "Postgres DSN, if set overrides other DB flags")
	dbHost := flagSet.String("db-host", getenvDefault("DB_HOST", cfg.Database.Host), "database host")
	dbPort := flagSet.Int("db-port", cfg.Database.Port, "database port")
	dbUser := flagSet.String("db-user", getenvDefault("DB_USER", cfg.Database.User), "database user")
	dbPass := flagSet.String("db-pass", getenvDefault("DB_PASSWORD", cfg.Database.Password), "database password")
	dbName := flagSet.String("db-name", getenvDefault("DB_NAME", cfg.Database.Name), "database name")
	dbSSLMode := flagSet.String("db-sslmode", getenvDefault("DB_SSLMODE", "disable"), "sslmode (disable, require, verify-ca, verify-full)")
	srvHost := flagSet.String("host", getenvDefault("FLOWDESK_HOST", cfg.Server.Host), "server host (listen)")
	srvPort := flagSet.Int("port", cfg.Server.Port, "server port (listen)")
	_ = flagSet.Parse(os.Args[1:])

	dsn := *flagDSN
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
			*dbHost, *dbUser, *dbPass, *dbName, *dbPort, *dbSSLMode)
	}

	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}
	if err := autoMigrate(db); err != nil {
		appLogger.Fatalf("Failed to migrate schema: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatalf("Failed to connect to redis: %v", err)
	}

	// 组装触发器引擎
	cache := services.NewRedisTriggerCache(redisClient, appLogger)
	lookups := services.NewGormLookupStore(db)
	hub := services.NewWebSocketHub(appLogger)
	go hub.Run()

	var notifier services.Notifier = hub
	if cfg.Push.Enabled {
		notifier = services.CompositeNotifier{hub, newWebhookNotifier(cfg, appLogger)}
	}

	evaluator := services.NewConditionEvaluator(lookups, appLogger)
	executor := services.NewActionExecutor(db, notifier, appLogger)
	varBuilder := services.NewTemplateVarBuilder(lookups, appLogger)
	logs := services.NewExecutionLogStore(db)
	orchestrator := services.NewTriggerOrchestrator(cache, evaluator, executor, varBuilder, logs, cfg.Engine.WaveConcurrency, appLogger)
	triggerSvc := services.NewTriggerService(db, cache, cfg.Engine.MaxActions, appLogger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 事件队列消费
	consumer := queue.NewKafkaConsumer(queue.KafkaConfig{
		Brokers:  cfg.Queue.Brokers,
		Topic:    cfg.Queue.Topic,
		GroupID:  cfg.Queue.GroupID,
		Parallel: cfg.Queue.Parallel,
	}, appLogger)
	go func() {
		if err := consumer.Subscribe(rootCtx, orchestrator.HandleDelivery); err != nil && rootCtx.Err() == nil {
			appLogger.Errorf("queue consumer stopped: %v", err)
		}
	}()
	defer consumer.Close()

	// 缓存周期重建
	reconciler := services.NewCacheReconciler(db, cache, triggerSvc, cfg.Engine.ReconcileInterval, appLogger)
	if err := reconciler.Start(); err != nil {
		appLogger.Warnf("start cache reconciler: %v", err)
	}
	defer reconciler.Stop()

	// HTTP 管理面
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware("flowdesk"))
	}
	router.GET("/health", handlers.Health)
	if cfg.Monitoring.Enabled {
		router.GET(cfg.Monitoring.MetricsPath, handlers.EngineMetrics)
	}
	router.GET("/ws/dashboard", hub.HandleWebSocket)
	handlers.RegisterTriggerRoutes(router, handlers.NewTriggerHandler(triggerSvc, logs, orchestrator))

	addr := fmt.Sprintf("%s:%d", *srvHost, *srvPort)
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		appLogger.Infof("Flowdesk trigger engine listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-rootCtx.Done()
	appLogger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newWebhookNotifier(cfg *config.Config, log *logrus.Logger) *services.WebhookNotifier {
	client := pushkit.NewClient(&pushkit.Config{
		BaseURL: cfg.Push.Endpoint,
		APIKey:  cfg.Push.APIKey,
		Timeout: cfg.Push.Timeout,
	}, log)
	return services.NewWebhookNotifier(client, log)
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Workspace{},
		&models.Department{},
		&models.Visitor{},
		&models.Conversation{},
		&models.ChatMessage{},
		&models.PageVisit{},
		&models.Tag{},
		&models.ConversationTag{},
		&models.Trigger{},
		&models.TriggerConditionGroup{},
		&models.TriggerCondition{},
		&models.TriggerAction{},
		&models.TriggerExecutionLog{},
	)
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
