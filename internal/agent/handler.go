package agent

import (
	"net/http"

	"paiaHub/internal/discovery"

	"github.com/gin-gonic/gin"
)

// Handler agent HTTP 接口
type Handler struct {
	svc       *Service
	discovery *discovery.Service
}

// NewHandler 创建 agent 接口处理器
func NewHandler(svc *Service, disc *discovery.Service) *Handler {
	return &Handler{svc: svc, discovery: disc}
}

// Register 注册 agent
func (h *Handler) Register(c *gin.Context) {
	userID := c.GetString("userID")

	var req RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	agentID, err := h.svc.RegisterAgent(c.Request.Context(), userID, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agent_id": agentID})
}

// GetProfile 获取 agent 档案
func (h *Handler) GetProfile(c *gin.Context) {
	agentID := c.Param("id")

	profile, err := h.discovery.GetProfile(c.Request.Context(), agentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent 不存在"})
		return
	}

	c.JSON(http.StatusOK, profile)
}

// ListMine 列出当前用户的 agent
func (h *Handler) ListMine(c *gin.Context) {
	userID := c.GetString("userID")

	agents, err := h.discovery.AgentsByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// Discover 按专长或能力发现可联系的 agent
func (h *Handler) Discover(c *gin.Context) {
	userID := c.GetString("userID")

	expertise := c.Query("expertise")
	capability := c.Query("capability")

	var (
		profiles []*discovery.Profile
		err      error
	)
	switch {
	case expertise != "":
		profiles, err = h.discovery.DiscoverByExpertise(c.Request.Context(), userID, expertise)
	case capability != "":
		profiles, err = h.discovery.DiscoverByCapability(c.Request.Context(), userID, capability)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "需要 expertise 或 capability 参数"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agents": profiles})
}

// UpdateAutonomy 更新默认自治级别
func (h *Handler) UpdateAutonomy(c *gin.Context) {
	userID := c.GetString("userID")
	agentID := c.Param("id")

	var req struct {
		DefaultLevel string `json:"default_level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	if err := h.svc.UpdateDefaultLevel(c.Request.Context(), userID, agentID, req.DefaultLevel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "更新成功"})
}

// AddRule 添加自治规则
func (h *Handler) AddRule(c *gin.Context) {
	userID := c.GetString("userID")
	agentID := c.Param("id")

	var req AddRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	ruleID, err := h.svc.AddRule(c.Request.Context(), userID, agentID, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rule_id": ruleID})
}

// ListRules 列出自治规则
func (h *Handler) ListRules(c *gin.Context) {
	userID := c.GetString("userID")
	agentID := c.Param("id")

	rules, err := h.svc.ListRules(c.Request.Context(), userID, agentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// RemoveRule 删除自治规则
func (h *Handler) RemoveRule(c *gin.Context) {
	userID := c.GetString("userID")
	agentID := c.Param("id")
	ruleID := c.Param("ruleId")

	if err := h.svc.RemoveRule(c.Request.Context(), userID, agentID, ruleID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}
