package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nft_settlement/config"
	"nft_settlement/contract"
	"nft_settlement/dao"
	"nft_settlement/handler"
	"nft_settlement/service"
	"nft_settlement/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. 初始化配置
	if err := config.InitConfig(); err != nil {
		zap.L().Fatal("初始化配置失败", zap.Error(err))
	}
	cfg := config.GlobalConfig

	// 2. 初始化日志
	if err := utils.InitLogger(cfg.LogLevel); err != nil {
		zap.L().Fatal("初始化日志失败", zap.Error(err))
	}
	defer utils.Logger.Sync()

	// 3. 初始化MySQL
	db, err := dao.OpenMySQL(cfg.MySQLDSN)
	if err != nil {
		utils.Logger.Fatal("连接MySQL失败", zap.Error(err))
	}

	// 自动迁移表结构
	if err := dao.AutoMigrate(db); err != nil {
		utils.Logger.Fatal("迁移表结构失败", zap.Error(err))
	}
	store := dao.NewStore(db)

	// 4. 初始化Redis（分布式锁 + 版税缓存）
	rdb, err := utils.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		utils.Logger.Fatal("连接Redis失败", zap.Error(err))
	}
	defer rdb.Close()
	cache := dao.NewCache(rdb, cfg.CacheTTL)

	opts := service.OptionsFromConfig(cfg)
	if cfg.DistributedLockMode {
		opts.Locker = utils.NewRedisLocker(rdb, cfg.SettlementLockTTL)
	}

	// 5. 初始化RabbitMQ（结算事件广播）
	publisher, err := utils.InitRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		utils.Logger.Fatal("初始化RabbitMQ失败", zap.Error(err))
	}
	defer publisher.Close()
	opts.Publisher = publisher

	// 6. 链上只读合约：版税表与价格预言机
	if cfg.RoyaltyRegistry != "" || cfg.PriceFeed != "" {
		client, err := contract.Dial(cfg.ChainRPCUrl)
		if err != nil {
			utils.Logger.Fatal("连接区块链节点失败", zap.Error(err))
		}
		defer client.Close()

		if cfg.RoyaltyRegistry != "" {
			registry, err := contract.NewRoyaltyRegistry(client, cfg.RoyaltyRegistry)
			if err != nil {
				utils.Logger.Fatal("初始化版税合约失败", zap.Error(err))
			}
			opts.Royalties = service.NewCachedRoyaltyRegistry(registry, cache)
		}
		if cfg.PriceFeed != "" {
			feed, err := contract.NewPriceFeed(client, cfg.PriceFeed)
			if err != nil {
				utils.Logger.Fatal("初始化价格预言机失败", zap.Error(err))
			}
			// 价格使用单独的短缓存（默认不缓存），避免用过期价格校验法币报价
			opts.Oracle = service.NewCachedPriceOracle(feed, dao.NewCache(rdb, cfg.PriceCacheTTL))
		}
	} else {
		utils.Logger.Warn("未配置版税合约与价格预言机，版税与法币报价不可用")
	}

	// 7. 初始化结算引擎和处理器
	engine, err := service.NewEngine(store, opts)
	if err != nil {
		utils.Logger.Fatal("初始化结算引擎失败", zap.Error(err))
	}
	settlementHandler := handler.NewSettlementHandler(engine)

	// 8. 初始化Gin引擎
	r := gin.Default()
	settlementHandler.RegisterRoutes(r)

	// 9. 启动服务（优雅关闭）
	srv := &http.Server{Addr: cfg.ServerPort, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("启动服务失败", zap.Error(err))
		}
	}()
	utils.Logger.Info("结算服务已启动", zap.String("addr", cfg.ServerPort), zap.Int64("chain_id", cfg.ChainID))

	// 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	utils.Logger.Info("服务正在关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		utils.Logger.Error("服务关闭失败", zap.Error(err))
	}
}
