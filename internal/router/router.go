package router

import (
	"log"
	"net/http"
	"time"

	"paiaHub/internal/agent"
	"paiaHub/internal/connection"
	"paiaHub/internal/middleware"
	"paiaHub/internal/routing"
	"paiaHub/internal/server"
	"paiaHub/internal/store"
	"paiaHub/internal/user"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SetupRouter 配置所有路由
func SetupRouter(connMgr *connection.Manager, eng *routing.Router,
	agentHandler *agent.Handler, msgs *store.MessageStore) *gin.Engine {

	r := gin.Default()

	// CORS 配置
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// API 请求日志中间件
	r.Use(func(c *gin.Context) {
		// 请求ID，方便跟踪
		requestID := uuid.New().String()
		c.Set("requestID", requestID)

		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)

		log.Printf("[%s] 请求: %s %s, 状态: %d, 延迟: %s",
			requestID, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), latency)
	})

	messageHandler := server.NewMessageHandler(eng, msgs)

	// API 路由
	api := r.Group("/api")
	{
		// ----- 无需认证的路由 -----
		api.POST("/register", user.Register)
		api.POST("/login", user.Login)

		// 心跳检测
		api.OPTIONS("/heartbeat", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		// WebSocket 路由 - 直接在 api 组中，token 经查询参数认证
		api.GET("/ws", server.WebSocketHandler(connMgr, eng))

		// ----- 需要认证的路由 -----
		auth := api.Group("/")
		auth.Use(middleware.JWT())
		{
			// ----- 用户相关 -----
			auth.GET("/user/info", user.GetUserInfo)
			auth.GET("/users/search", user.SearchUsers)

			// ----- 社交连接相关 -----
			auth.POST("/connections", user.RequestConnection)
			auth.POST("/connections/:id/respond", user.RespondToConnection)
			auth.GET("/connections", user.ListConnections)

			// ----- agent 相关 -----
			auth.POST("/agents", agentHandler.Register)
			auth.GET("/agents", agentHandler.ListMine)
			auth.GET("/agents/discover", agentHandler.Discover)
			auth.GET("/agents/:id", agentHandler.GetProfile)
			auth.PUT("/agents/:id/autonomy", agentHandler.UpdateAutonomy)
			auth.GET("/agents/:id/autonomy/rules", agentHandler.ListRules)
			auth.POST("/agents/:id/autonomy/rules", agentHandler.AddRule)
			auth.DELETE("/agents/:id/autonomy/rules/:ruleId", agentHandler.RemoveRule)

			// ----- 在线状态相关 -----
			auth.GET("/presence", func(c *gin.Context) {
				users, err := connMgr.OnlineUsers()
				if err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "获取在线用户列表失败"})
					return
				}
				c.JSON(http.StatusOK, gin.H{"online_users": users})
			})
			auth.GET("/presence/:userId", func(c *gin.Context) {
				st, err := connMgr.UserStatus(c.Param("userId"))
				if err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "获取用户状态失败"})
					return
				}
				c.JSON(http.StatusOK, st)
			})

			// ----- 消息相关 -----
			auth.POST("/messages", messageHandler.SendMessage)
			auth.GET("/conversations/:id/messages", messageHandler.GetHistory)
			auth.POST("/conversations/:id/read", messageHandler.MarkRead)
		}
	}

	return r
}
