package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"paiaHub/internal/model"
	"paiaHub/internal/protocol"

	"gorm.io/gorm"
)

// MessageStore 持久化消息日志
type MessageStore struct {
	db *gorm.DB
}

// NewMessageStore 创建消息存储
func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// SaveMessage 保存一条消息，信封的载荷和元数据以 JSON 文本落库
func (s *MessageStore) SaveMessage(ctx context.Context, env *protocol.Envelope, status string) error {
	payloadBytes, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("序列化载荷失败: %w", err)
	}
	metadataBytes, err := json.Marshal(env.Metadata)
	if err != nil {
		return fmt.Errorf("序列化元数据失败: %w", err)
	}

	row := model.Message{
		ID:             env.Metadata.MessageID,
		ConversationID: env.Metadata.ConversationID,
		Type:           env.Type,
		FromAgentID:    env.FromAgentID,
		ToAgentID:      env.ToAgentID,
		Payload:        string(payloadBytes),
		Metadata:       string(metadataBytes),
		Status:         status,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Printf("保存消息到数据库失败: %v", err)
		return err
	}
	return nil
}

// UpdateMessageStatus 更新消息状态
func (s *MessageStore) UpdateMessageStatus(ctx context.Context, messageID, status string) error {
	result := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]any{"status": status, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("消息不存在: %s", messageID)
	}
	return nil
}

// GetPendingMessages 获取这些 agent 的全部待投递消息，按持久化顺序（FIFO）返回
func (s *MessageStore) GetPendingMessages(ctx context.Context, agentIDs []string) ([]*protocol.Envelope, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}

	var rows []model.Message
	err := s.db.WithContext(ctx).
		Where("to_agent_id IN ? AND status = ?", agentIDs, protocol.StatusPending).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询待投递消息失败: %w", err)
	}

	var envelopes []*protocol.Envelope
	for _, row := range rows {
		env, err := rowToEnvelope(&row)
		if err != nil {
			log.Printf("待投递消息 %s 反序列化失败，跳过: %v", row.ID, err)
			continue
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// GetOrCreateConversation 获取或创建两个 agent 之间的会话，
// 会话ID是两个 agent ID 的纯函数，谁先调用结果都一样。
func (s *MessageStore) GetOrCreateConversation(ctx context.Context, agentA, agentB string) (string, error) {
	convID := protocol.ConversationID(agentA, agentB)
	if agentA > agentB {
		agentA, agentB = agentB, agentA
	}

	var existing model.Conversation
	err := s.db.WithContext(ctx).Where("id = ?", convID).First(&existing).Error
	if err == nil {
		return convID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", err
	}

	conv := model.Conversation{
		ID:        convID,
		AgentA:    agentA,
		AgentB:    agentB,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		// 并发创建时另一个 worker 可能已经插入同一ID
		var check model.Conversation
		if s.db.WithContext(ctx).Where("id = ?", convID).First(&check).Error == nil {
			return convID, nil
		}
		return "", err
	}
	return convID, nil
}

// GetConversationMessages 获取会话最近的消息，按时间正序返回
func (s *MessageStore) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*protocol.Envelope, error) {
	var rows []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// 反转为时间正序
	var envelopes []*protocol.Envelope
	for i := len(rows) - 1; i >= 0; i-- {
		env, err := rowToEnvelope(&rows[i])
		if err != nil {
			log.Printf("消息 %s 反序列化失败，跳过: %v", rows[i].ID, err)
			continue
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// MarkConversationRead 将会话中投递给该 agent 的消息标记为已读（终态）
func (s *MessageStore) MarkConversationRead(ctx context.Context, conversationID, agentID string) error {
	return s.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND to_agent_id = ? AND status = ?",
			conversationID, agentID, protocol.StatusDelivered).
		Updates(map[string]any{"status": protocol.StatusRead, "updated_at": time.Now()}).Error
}

// rowToEnvelope 把持久化记录还原为协议信封
func rowToEnvelope(row *model.Message) (*protocol.Envelope, error) {
	env := &protocol.Envelope{
		Type:        row.Type,
		FromAgentID: row.FromAgentID,
		ToAgentID:   row.ToAgentID,
	}
	if err := json.Unmarshal([]byte(row.Payload), &env.Payload); err != nil {
		return nil, fmt.Errorf("载荷解析失败: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Metadata), &env.Metadata); err != nil {
		return nil, fmt.Errorf("元数据解析失败: %w", err)
	}
	// 以列值为准
	env.Metadata.MessageID = row.ID
	env.Metadata.ConversationID = row.ConversationID
	return env, nil
}
