package user

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Register 注册接口
func Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	service := NewAccountService()
	userID, err := service.Register(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}

// Login 登录接口
func Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	service := NewAccountService()
	resp, err := service.Login(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetUserInfo 获取当前用户信息
func GetUserInfo(c *gin.Context) {
	userID, _ := c.Get("userID")

	service := NewAccountService()
	user, err := service.GetUserByID(c.Request.Context(), userID.(string))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, user)
}

// SearchUsers 搜索用户
func SearchUsers(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		query = c.Query("query")
	}
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少查询参数"})
		return
	}

	service := NewAccountService()
	users, err := service.SearchUsers(c.Request.Context(), query)
	if err != nil {
		log.Printf("搜索用户失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "搜索用户失败"})
		return
	}

	c.JSON(http.StatusOK, users)
}

// RequestConnection 发起社交连接请求
func RequestConnection(c *gin.Context) {
	userID, _ := c.Get("userID")

	var req ConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	service := NewAccountService()
	connID, err := service.RequestConnection(c.Request.Context(), userID.(string), req.RecipientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"connection_id": connID, "status": "pending"})
}

// RespondToConnection 接受或拒绝连接请求
func RespondToConnection(c *gin.Context) {
	userID, _ := c.Get("userID")
	connectionID := c.Param("id")

	var req ConnectionRespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	service := NewAccountService()
	if err := service.RespondToConnection(c.Request.Context(), userID.(string), connectionID, req.Accept); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListConnections 列出连接
func ListConnections(c *gin.Context) {
	userID, _ := c.Get("userID")
	statusFilter := c.Query("status")

	service := NewAccountService()
	conns, err := service.ListConnections(c.Request.Context(), userID.(string), statusFilter)
	if err != nil {
		log.Printf("查询连接失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询连接失败"})
		return
	}

	c.JSON(http.StatusOK, conns)
}
