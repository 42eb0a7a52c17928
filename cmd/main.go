package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"paiaHub/internal/agent"
	"paiaHub/internal/autonomy"
	"paiaHub/internal/config"
	"paiaHub/internal/connection"
	"paiaHub/internal/database"
	"paiaHub/internal/discovery"
	"paiaHub/internal/redisclient"
	"paiaHub/internal/responder"
	"paiaHub/internal/router"
	"paiaHub/internal/routing"
	"paiaHub/internal/store"
	"paiaHub/internal/validation"

	"github.com/gin-gonic/gin"
)

func main() {
	// 读取配置
	if err := config.Init(); err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化数据库
	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取数据库连接失败: %v", err)
	}
	defer sqlDB.Close()

	log.Println("数据库初始化成功")

	// 从配置中获取 Redis 地址
	redisConfig := config.GlobalConfig.Redis
	redisAddr := fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port)
	log.Printf("连接Redis: %s, 数据库: %d", redisAddr, redisConfig.DB)

	// 初始化Redis
	redisHandle, err := redisclient.Connect(redisAddr, redisConfig.Password, redisConfig.DB)
	if err != nil {
		log.Printf("警告: Redis 初始化失败: %v", err)
		log.Printf("系统将在无Redis的情况下继续运行，在线状态只保留在本地")
	} else {
		log.Println("Redis 初始化成功")
	}

	// 持久层
	messageStore := store.NewMessageStore(db)
	directoryStore := store.NewDirectoryStore(db)
	autonomyStore := store.NewAutonomyStore(db)

	// 发现服务与自治引擎
	discoverySvc := discovery.NewService(directoryStore)
	autonomyEngine := autonomy.NewEngine(autonomyStore)

	// 连接管理器
	connMgr := connection.NewManager(redisHandle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go connMgr.Run(ctx)

	// 路由引擎
	routerCfg := routing.Config{
		MaxAutoTurns:     config.GlobalConfig.Router.MaxAutoTurns,
		ResponderTimeout: time.Duration(config.GlobalConfig.Router.ResponderTimeoutSecs) * time.Second,
	}
	eng := routing.NewRouter(
		validation.NewValidator(),
		autonomyEngine,
		discoverySvc,
		messageStore,
		connMgr,
		responder.NewWebhookResponder(discoverySvc),
		routerCfg,
	)

	// agent 服务与接口
	agentSvc := agent.NewService(discoverySvc, autonomyEngine)
	agentHandler := agent.NewHandler(agentSvc, discoverySvc)

	// 用户上线后补发待投递消息，并同步 agent 在线状态
	connMgr.SetOnConnect(func(userID string) {
		agentSvc.SetAgentOnline(context.Background(), userID, true)
		if err := eng.DeliverPending(context.Background(), userID); err != nil {
			log.Printf("为用户 %s 补发待投递消息失败: %v", userID, err)
		}
	})
	connMgr.SetOnDisconnect(func(userID string) {
		agentSvc.SetAgentOnline(context.Background(), userID, false)
	})

	// 设置 Gin 路由
	r := router.SetupRouter(connMgr, eng, agentHandler, messageStore)

	// 启动 HTTP 服务器
	httpServerPort := config.GlobalConfig.Server.Port
	httpServer := startHTTPServer(r, httpServerPort)

	log.Printf("WebSocket 入口: ws://localhost:%d/api/ws", httpServerPort)

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务器...")

	// 关闭 HTTP 服务器
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 关闭连接管理器
	if err := connMgr.Close(); err != nil {
		log.Fatalf("连接管理器关闭失败: %v", err)
	}

	// 关闭 Redis
	if err := redisHandle.Close(); err != nil {
		log.Printf("Redis 关闭失败: %v", err)
	}

	log.Println("服务器已安全关闭")
}

// startHTTPServer 启动 HTTP 服务器
func startHTTPServer(r *gin.Engine, port int) *http.Server {
	portStr := ":" + strconv.Itoa(port)

	srv := &http.Server{
		Addr:    portStr,
		Handler: r,
	}

	go func() {
		log.Printf("HTTP服务器已启动，监听端口 %d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	return srv
}
