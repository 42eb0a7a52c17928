package server

import (
	"context"
	"log"
	"net/http"

	"paiaHub/internal/connection"
	"paiaHub/internal/middleware"
	"paiaHub/internal/protocol"
	"paiaHub/internal/routing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 全局 WebSocket 升级器
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源，生产环境应收紧
	},
}

// WebSocketHandler 处理 WebSocket 连接。连接先认证再升级，
// 入站信封交给路由引擎，出站信封由写循环推送。
func WebSocketHandler(connMgr *connection.Manager, router *routing.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token 不能为空"})
			return
		}

		userID, err := middleware.ValidateToken(token)
		if err != nil {
			log.Printf("WebSocket 连接失败 - 无效 token: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的 token"})
			return
		}

		log.Printf("用户 %s 尝试建立 WebSocket 连接", userID)

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("升级 WebSocket 连接失败: %v", err)
			return
		}

		conn := connection.NewWebSocketConnection(ws, userID)
		handleAuthenticatedConnection(conn, userID, connMgr, router)
	}
}

// handleAuthenticatedConnection 处理已认证的连接直到其关闭
func handleAuthenticatedConnection(conn *connection.WebSocketConnection, userID string,
	connMgr *connection.Manager, router *routing.Router) {

	connID := connMgr.RegisterConnection(userID, conn)
	defer connMgr.UnregisterConnection(userID, connID)

	// 写循环单独起 goroutine，避免阻塞读
	go conn.StartWriting()

	// StartReading 阻塞直到连接关闭
	go conn.StartReading(func(env *protocol.Envelope) {
		result := router.RouteMessage(context.Background(), env, userID)
		if result.Error != nil {
			log.Printf("用户 %s 的消息路由失败: %s", userID, result.Error.Error())
		}
	})

	<-conn.GetDoneChan()
	log.Printf("用户 %s 的连接 %s 已关闭", userID, connID)
}
