package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Cooper3516833584/Cooper-bot/config"
	"github.com/Cooper3516833584/Cooper-bot/internal/api/handler"
	"github.com/Cooper3516833584/Cooper-bot/internal/api/router"
	"github.com/Cooper3516833584/Cooper-bot/internal/command"
	"github.com/Cooper3516833584/Cooper-bot/internal/delivery"
	"github.com/Cooper3516833584/Cooper-bot/internal/dispatch"
	"github.com/Cooper3516833584/Cooper-bot/internal/repository"
	"github.com/Cooper3516833584/Cooper-bot/internal/roster"
	"github.com/Cooper3516833584/Cooper-bot/internal/service"
	"github.com/Cooper3516833584/Cooper-bot/internal/session"
	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	"github.com/Cooper3516833584/Cooper-bot/internal/transport/onebot"
	"github.com/Cooper3516833584/Cooper-bot/pkg/database"
	"github.com/Cooper3516833584/Cooper-bot/pkg/keylock"
	applogger "github.com/Cooper3516833584/Cooper-bot/pkg/logger"
	"github.com/Cooper3516833584/Cooper-bot/pkg/redis"
	"github.com/Cooper3516833584/Cooper-bot/pkg/workerpool"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "配置文件路径（默认查找 ./config/config.yaml）")
	pflag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("event_mode", cfg.OneBot.EventMode),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("timezone", cfg.Handin.Location().String()),
	)

	// 3. 任务存储：JSON 文件或 PostgreSQL
	var (
		repo *repository.Repository
		db   *gorm.DB
	)
	switch cfg.Storage.Driver {
	case "postgres":
		db, err = database.NewDB(&cfg.Database, logger)
		if err != nil {
			logger.Fatal("数据库连接失败", zap.Error(err))
		}
		sqlDB, err := db.DB()
		if err != nil {
			logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
		}
		if err := database.RunMigrations(sqlDB, logger); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
		repo = repository.NewRepository(db)
	default:
		repo = repository.NewFileRepository(cfg.Storage.TaskDBPath, logger.Named("repo"))
	}

	// 4. Redis（可选：连接失败时降级运行，不去重、不限流）
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis 连接失败，事件去重与限流将不可用", zap.Error(err))
			rdb = nil
		}
	}

	// 5. 依赖注入: Repository → Service
	rosterCache := roster.NewCache(cfg.Handin.RosterPath, logger.Named("roster"))
	svc := service.NewService(cfg, repo, rosterCache, logger)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := svc.Task.Init(initCtx); err != nil {
		cancelInit()
		logger.Fatal("加载任务失败", zap.Error(err))
	}
	cancelInit()

	// 6. OneBot 协议端
	client := onebot.NewClient(onebot.ClientOptions{
		BaseURL:       cfg.OneBot.HTTPBase,
		AccessToken:   cfg.OneBot.AccessToken,
		ActionTimeout: cfg.OneBot.ActionTimeout,
		UploadTimeout: cfg.OneBot.UploadTimeout,
		FetchTimeout:  cfg.OneBot.FetchTimeout,
	}, logger.Named("onebot"))
	resolver := onebot.NewResolver(client, onebot.ResolverOptions{
		TempContainerDir: cfg.OneBot.TempContainerDir,
		TempHostDir:      cfg.OneBot.TempHostDir,
		FetchTimeout:     cfg.OneBot.FetchTimeout,
	}, logger.Named("resolver"))
	perms := onebot.NewStaticPermissions(cfg.Permission)

	// 7. 会话、投递与命令
	locks := keylock.New(cfg.Dispatch.LockShards)
	pool := workerpool.New(cfg.Dispatch.WorkerPoolSize)

	engine := delivery.NewEngine(client, pool, delivery.Options{
		GroupHostDir:        cfg.Delivery.GroupHostDir,
		GroupContainerDir:   cfg.Delivery.GroupContainerDir,
		PrivateHostDir:      cfg.Delivery.PrivateHostDir,
		PrivateContainerDir: cfg.Delivery.PrivateContainerDir,
		TempDir:             cfg.Handin.TempDir,
		ASCIISafeNames:      cfg.Delivery.ASCIISafeNames,
		RetryDelays:         cfg.Delivery.RetryDelays,
		ZipFallback:         cfg.Delivery.ZipFallback,
	}, logger.Named("delivery"))

	sessions := session.NewManager(svc.Task, rosterCache, client, resolver, engine, pool, locks,
		session.Options{InboxDir: cfg.Handin.InboxDir, TempDir: cfg.Handin.TempDir},
		logger.Named("session"))
	commands := command.NewHandler(svc.Task, sessions, client, logger.Named("command"))
	msgRouter := command.NewRouter(sessions, commands, logger.Named("router"))

	// 8. 调度器：提醒推送、保留期清理、会话超时与上传暂存清理
	scheduler := service.NewScheduler(svc.Task, client, service.SchedulerOptions{
		PollInterval:    cfg.Handin.PollInterval,
		CleanupInterval: cfg.Handin.CleanupInterval,
	}, logger.Named("scheduler"))
	scheduler.AddSweepHook(func(now time.Time) {
		if n := sessions.ExpireIdle(now, cfg.Handin.SessionIdleTimeout); n > 0 {
			logger.Info("回收超时会话", zap.Int("count", n))
		}
	})
	scheduler.AddSweepHook(func(now time.Time) {
		engine.SweepStaged(now, cfg.Handin.InboxRetention)
	})

	// 9. 事件分发
	var guard dispatch.Guard
	if rdb != nil {
		guard = dispatch.NewRedisGuard(rdb, dispatch.GuardOptions{
			RateLimit:       cfg.Redis.RateLimit,
			RateLimitWindow: cfg.Redis.RateLimitWindow,
			DedupeTTL:       cfg.Redis.DedupeTTL,
		}, logger.Named("guard"))
	}
	dispatcher := dispatch.New(msgRouter, guard, locks, dispatch.Options{
		MaxInFlight: cfg.Dispatch.MaxInFlight,
		GracePeriod: cfg.Dispatch.GracePeriod,
	}, logger.Named("dispatch"))

	var (
		source  transport.EventSource
		webhook gin.HandlerFunc
	)
	if cfg.OneBot.EventMode == "webhook" {
		wh := onebot.NewWebhookSource(cfg.OneBot.WebhookSecret, perms, logger.Named("webhook"))
		source, webhook = wh, wh.Handle
	} else {
		source = onebot.NewWSSource(cfg.OneBot.WSURL, cfg.OneBot.AccessToken, perms, logger.Named("ws"))
	}

	// 10. 管理接口
	var srv *http.Server
	if cfg.Server.Enabled {
		h := handler.NewHandler(svc)
		srv = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router.Setup(cfg, h, webhook, rdb, logger.Named("api")),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("HTTP 服务器异常", zap.Error(err))
			}
		}()
	}

	// 11. 连接守护，直到收到系统信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor := dispatch.NewSupervisor(source, dispatcher, scheduler, cfg.Dispatch.ReconnectBackoff, logger)
	_ = supervisor.RunForever(ctx)

	logger.Info("收到关闭信号，开始优雅关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("服务器关闭异常", zap.Error(err))
		}
	}

	if err := svc.Task.Flush(shutdownCtx); err != nil {
		logger.Error("任务写盘失败", zap.Error(err))
	}

	// 关闭数据库连接
	if db != nil {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
	}

	// 关闭 Redis 连接
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("已退出")
}
