package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"paiaHub/internal/autonomy"
	"paiaHub/internal/database"
	"paiaHub/internal/discovery"
	"paiaHub/internal/model"
	"paiaHub/internal/protocol"
	"paiaHub/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service agent 注册与自治配置
type Service struct {
	db        *gorm.DB
	discovery *discovery.Service
	engine    *autonomy.Engine
}

// NewService 创建 agent 服务
func NewService(disc *discovery.Service, engine *autonomy.Engine) *Service {
	return &Service{
		db:        database.GetDB(),
		discovery: disc,
		engine:    engine,
	}
}

// RegisterAgentRequest 注册 agent 请求
type RegisterAgentRequest struct {
	DisplayName  string              `json:"display_name" binding:"required"`
	Expertise    []string            `json:"expertise"`
	IsPublic     *bool               `json:"is_public"`
	EndpointURL  string              `json:"endpoint_url"`
	DefaultLevel string              `json:"default_level"`
	Capabilities []CapabilityRequest `json:"capabilities"`
}

// CapabilityRequest 能力声明
type CapabilityRequest struct {
	Name             string `json:"name" binding:"required"`
	MessageType      string `json:"message_type" binding:"required"`
	RequiresApproval bool   `json:"requires_approval"`
	AutonomyLevel    string `json:"autonomy_level"`
}

// RegisterAgent 注册一个新 agent，同时建立默认自治设置
func (s *Service) RegisterAgent(ctx context.Context, userID string, req *RegisterAgentRequest) (string, error) {
	defaultLevel := protocol.LevelSupervised
	if req.DefaultLevel != "" {
		parsed, err := protocol.ParseAutonomyLevel(req.DefaultLevel)
		if err != nil {
			return "", err
		}
		defaultLevel = parsed
	}

	expertiseJSON := "[]"
	if len(req.Expertise) > 0 {
		data, err := json.Marshal(req.Expertise)
		if err != nil {
			return "", err
		}
		expertiseJSON = string(data)
	}

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	agentID := uuid.New().String()
	now := time.Now()

	tx := s.db.Begin()

	agent := model.Agent{
		ID:          agentID,
		UserID:      userID,
		DisplayName: req.DisplayName,
		Expertise:   expertiseJSON,
		Status:      "offline",
		IsPublic:    isPublic,
		EndpointURL: req.EndpointURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.Create(&agent).Error; err != nil {
		tx.Rollback()
		return "", err
	}

	for _, cap := range req.Capabilities {
		level := string(protocol.LevelSupervised)
		if cap.AutonomyLevel != "" {
			parsed, err := protocol.ParseAutonomyLevel(cap.AutonomyLevel)
			if err != nil {
				tx.Rollback()
				return "", err
			}
			level = string(parsed)
		}
		row := model.AgentCapability{
			ID:               uuid.New().String(),
			AgentID:          agentID,
			Name:             cap.Name,
			MessageType:      cap.MessageType,
			RequiresApproval: cap.RequiresApproval,
			AutonomyLevel:    level,
			CreatedAt:        now,
		}
		if err := tx.Create(&row).Error; err != nil {
			tx.Rollback()
			return "", err
		}
	}

	setting := model.AutonomySetting{
		ID:           uuid.New().String(),
		AgentID:      agentID,
		DefaultLevel: string(defaultLevel),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.Create(&setting).Error; err != nil {
		tx.Rollback()
		return "", err
	}

	if err := tx.Commit().Error; err != nil {
		return "", err
	}

	log.Printf("用户 %s 注册了 agent %s (%s)", userID, agentID, req.DisplayName)
	return agentID, nil
}

// SetAgentOnline 更新 agent 在线状态并刷新发现缓存
func (s *Service) SetAgentOnline(ctx context.Context, userID string, online bool) {
	newStatus := "offline"
	if online {
		newStatus = "online"
	}

	var agents []model.Agent
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&agents).Error; err != nil {
		log.Printf("查询用户 %s 的 agent 失败: %v", userID, err)
		return
	}

	for _, a := range agents {
		if err := s.db.WithContext(ctx).Model(&model.Agent{}).
			Where("id = ?", a.ID).
			Updates(map[string]any{"status": newStatus, "updated_at": time.Now()}).Error; err != nil {
			log.Printf("更新 agent %s 状态失败: %v", a.ID, err)
			continue
		}
		s.discovery.UpdateStatus(a.ID, newStatus)
	}
}

// UpdateDefaultLevel 更新 agent 的默认自治级别
func (s *Service) UpdateDefaultLevel(ctx context.Context, userID, agentID, level string) error {
	parsed, err := protocol.ParseAutonomyLevel(level)
	if err != nil {
		return err
	}

	if err := s.mustOwnAgent(ctx, userID, agentID); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Model(&model.AutonomySetting{}).
		Where("agent_id = ?", agentID).
		Updates(map[string]any{"default_level": string(parsed), "updated_at": time.Now()}).Error
	if err != nil {
		return err
	}

	// 配置更新后逐出引擎缓存
	s.engine.Invalidate(agentID)
	return nil
}

// AddRuleRequest 添加规则请求
type AddRuleRequest struct {
	Predicate string `json:"predicate" binding:"required"` // 谓词 JSON
	Level     string `json:"level" binding:"required"`
	Priority  int    `json:"priority"`
}

// AddRule 为 agent 添加自治规则。谓词和级别在这里解析，
// 不合法的定义在配置阶段就被拒绝，而不是路由时静默失效。
func (s *Service) AddRule(ctx context.Context, userID, agentID string, req *AddRuleRequest) (string, error) {
	if err := s.mustOwnAgent(ctx, userID, agentID); err != nil {
		return "", err
	}

	level, err := protocol.ParseAutonomyLevel(req.Level)
	if err != nil {
		return "", err
	}
	if _, err := autonomy.ParsePredicate(req.Predicate); err != nil {
		return "", err
	}

	autonomyStore := store.NewAutonomyStore(s.db)
	seq, err := autonomyStore.NextRuleSeq(ctx, agentID)
	if err != nil {
		return "", err
	}

	rule := model.AutonomyRule{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Predicate: req.Predicate,
		Level:     string(level),
		Priority:  req.Priority,
		Seq:       seq,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return "", err
	}

	s.engine.Invalidate(agentID)
	return rule.ID, nil
}

// RemoveRule 删除自治规则
func (s *Service) RemoveRule(ctx context.Context, userID, agentID, ruleID string) error {
	if err := s.mustOwnAgent(ctx, userID, agentID); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("id = ? AND agent_id = ?", ruleID, agentID).
		Delete(&model.AutonomyRule{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("规则不存在")
	}

	s.engine.Invalidate(agentID)
	return nil
}

// ListRules 列出 agent 的自治规则（按优先级降序，同优先级按插入顺序）
func (s *Service) ListRules(ctx context.Context, userID, agentID string) ([]model.AutonomyRule, error) {
	if err := s.mustOwnAgent(ctx, userID, agentID); err != nil {
		return nil, err
	}

	var rules []model.AutonomyRule
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("priority desc, seq asc").
		Find(&rules).Error
	return rules, err
}

// mustOwnAgent 校验 agent 存在且归调用用户所有
func (s *Service) mustOwnAgent(ctx context.Context, userID, agentID string) error {
	var agent model.Agent
	if err := s.db.WithContext(ctx).Where("id = ?", agentID).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("agent 不存在")
		}
		return err
	}
	if agent.UserID != userID {
		return errors.New("不是该 agent 的所有者")
	}
	return nil
}
