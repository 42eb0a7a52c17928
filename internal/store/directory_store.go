package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"paiaHub/internal/discovery"
	"paiaHub/internal/model"
	"paiaHub/internal/protocol"

	"gorm.io/gorm"
)

// DirectoryStore 基于数据库实现 discovery.Directory。
// 这里是 agent 记录转归一化档案的唯一适配点。
type DirectoryStore struct {
	db *gorm.DB
}

// NewDirectoryStore 创建目录存储
func NewDirectoryStore(db *gorm.DB) *DirectoryStore {
	return &DirectoryStore{db: db}
}

// GetAgent 查找 agent 并归一化为档案
func (s *DirectoryStore) GetAgent(ctx context.Context, agentID string) (*discovery.Profile, error) {
	var agent model.Agent
	if err := s.db.WithContext(ctx).Where("id = ?", agentID).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, discovery.ErrAgentNotFound
		}
		return nil, err
	}
	return s.toProfile(ctx, &agent)
}

// GetAgentsByUser 列出用户拥有的全部 agent
func (s *DirectoryStore) GetAgentsByUser(ctx context.Context, userID string) ([]*discovery.Profile, error) {
	var agents []model.Agent
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&agents).Error; err != nil {
		return nil, err
	}

	var profiles []*discovery.Profile
	for i := range agents {
		profile, err := s.toProfile(ctx, &agents[i])
		if err != nil {
			log.Printf("归一化 agent %s 失败，跳过: %v", agents[i].ID, err)
			continue
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// GetUserConnections 查找用户的社交连接（不区分请求方向）
func (s *DirectoryStore) GetUserConnections(ctx context.Context, userID string, status string) ([]discovery.Connection, error) {
	var rows []model.SocialConnection
	query := s.db.WithContext(ctx).Where("requester_id = ? OR recipient_id = ?", userID, userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	conns := make([]discovery.Connection, 0, len(rows))
	for _, row := range rows {
		conns = append(conns, discovery.Connection{
			RequesterID: row.RequesterID,
			RecipientID: row.RecipientID,
			Status:      row.Status,
		})
	}
	return conns, nil
}

// SearchUsers 搜索用户
func (s *DirectoryStore) SearchUsers(ctx context.Context, query string) ([]discovery.UserRecord, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Where("username LIKE ? OR nickname LIKE ?", "%"+query+"%", "%"+query+"%").
		Find(&users).Error
	if err != nil {
		return nil, err
	}

	records := make([]discovery.UserRecord, 0, len(users))
	for _, u := range users {
		records = append(records, discovery.UserRecord{
			ID:       u.ID,
			Username: u.Username,
			Nickname: u.Nickname,
		})
	}
	return records, nil
}

// toProfile 把 agent 记录和能力记录归一化为档案
func (s *DirectoryStore) toProfile(ctx context.Context, agent *model.Agent) (*discovery.Profile, error) {
	var expertise []string
	if agent.Expertise != "" {
		if err := json.Unmarshal([]byte(agent.Expertise), &expertise); err != nil {
			log.Printf("agent %s 的专长字段解析失败: %v", agent.ID, err)
			expertise = nil
		}
	}

	var capRows []model.AgentCapability
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agent.ID).Find(&capRows).Error; err != nil {
		return nil, err
	}

	caps := make([]discovery.Capability, 0, len(capRows))
	for _, row := range capRows {
		level, err := protocol.ParseAutonomyLevel(row.AutonomyLevel)
		if err != nil {
			// 不认识的级别按需要审批处理
			level = protocol.LevelSupervised
		}
		caps = append(caps, discovery.Capability{
			ID:               row.ID,
			Name:             row.Name,
			MessageType:      row.MessageType,
			RequiresApproval: row.RequiresApproval,
			AutonomyLevel:    level,
		})
	}

	return &discovery.Profile{
		AgentID:      agent.ID,
		OwnerUserID:  agent.UserID,
		DisplayName:  agent.DisplayName,
		Expertise:    expertise,
		Capabilities: caps,
		Status:       agent.Status,
		IsPublic:     agent.IsPublic,
		EndpointURL:  agent.EndpointURL,
	}, nil
}
