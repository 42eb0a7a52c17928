package server

import (
	"net/http"
	"strconv"

	"paiaHub/internal/protocol"
	"paiaHub/internal/routing"
	"paiaHub/internal/store"

	"github.com/gin-gonic/gin"
)

// MessageHandler 消息相关的 HTTP 接口
type MessageHandler struct {
	router *routing.Router
	msgs   *store.MessageStore
}

// NewMessageHandler 创建消息接口处理器
func NewMessageHandler(router *routing.Router, msgs *store.MessageStore) *MessageHandler {
	return &MessageHandler{router: router, msgs: msgs}
}

// SendMessage 通过 HTTP 发送一条消息，路由语义与 WebSocket 入口一致
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID := c.GetString("userID")

	var env protocol.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的消息格式"})
		return
	}

	result := h.router.RouteMessage(c.Request.Context(), &env, userID)
	if !result.Success {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  result.Error.Code,
			"error": result.Error.Message,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message_id": result.MessageID,
		"status":     result.Status,
	})
}

// GetHistory 获取会话历史，按持久化顺序升序返回
func (h *MessageHandler) GetHistory(c *gin.Context) {
	conversationID := c.Param("id")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := h.msgs.GetConversationMessages(c.Request.Context(), conversationID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取会话历史失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// MarkRead 把会话中投递给指定 agent 的消息确认为已读。
// read 是终态，只有显式确认才会进入。
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("id")

	var req struct {
		AgentID string `json:"agent_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	if err := h.msgs.MarkConversationRead(c.Request.Context(), conversationID, req.AgentID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "标记已读失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "已标记为已读"})
}
