package protocol

import (
	"time"

	"github.com/google/uuid"
)

// 协议版本
const Version = "1.0"

// 内置消息类型
const (
	TypeChatMessage = "paia.chat.message"
	TypeError       = "paia.error"
)

// 消息状态（持久化记录的生命周期）
const (
	StatusSent      = "sent"      // 已保存，尚未推送
	StatusPending   = "pending"   // 接收方不在线，等待重连后补发
	StatusDelivered = "delivered" // 已推送到接收方的连接
	StatusRead      = "read"      // 接收方显式确认，终态
)

// Envelope PAIA 协议消息信封
type Envelope struct {
	Type         string         `json:"type"` // 点分命名空间，例如 paia.chat.message
	FromAgentID  string         `json:"from_agent_id"`
	ToAgentID    string         `json:"to_agent_id"`
	Payload      map[string]any `json:"payload"`
	Metadata     Metadata       `json:"metadata"`
	Expectations map[string]any `json:"expectations,omitempty"`
}

// Metadata 信封元数据
type Metadata struct {
	MessageID              string `json:"message_id"` // 幂等键，缺失时生成
	Timestamp              string `json:"timestamp"`  // ISO-8601 UTC
	ProtocolVersion        string `json:"protocol_version"`
	ConversationID         string `json:"conversation_id,omitempty"` // 一旦赋值不可变
	InReplyTo              string `json:"in_reply_to,omitempty"`
	TTLSeconds             int    `json:"ttl_seconds,omitempty"`
	RequiresHumanAttention bool   `json:"requires_human_attention"`
}

// Normalize 补齐缺失的元数据字段（message_id、时间戳、协议版本）
func (e *Envelope) Normalize() {
	if e.Metadata.MessageID == "" {
		e.Metadata.MessageID = uuid.New().String()
	}
	if e.Metadata.Timestamp == "" {
		e.Metadata.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if e.Metadata.ProtocolVersion == "" {
		e.Metadata.ProtocolVersion = Version
	}
}

// ConversationID 根据无序的 agent ID 对推导确定性会话ID。
// 两个 agent 无论谁先发起，得到的会话ID相同。
func ConversationID(agentA, agentB string) string {
	if agentA > agentB {
		agentA, agentB = agentB, agentA
	}
	return agentA + "_" + agentB
}
