package discovery

import (
	"context"
	"errors"

	"paiaHub/internal/protocol"
)

// ErrAgentNotFound 目标 agent 不存在
var ErrAgentNotFound = errors.New("agent 不存在")

// Profile 归一化的 agent 档案。Directory 边界上的适配器是唯一
// 产生该类型的地方，路由和发现组件只会看到这个形状。
type Profile struct {
	AgentID      string       `json:"agent_id"`
	OwnerUserID  string       `json:"owner_user_id"`
	DisplayName  string       `json:"display_name"`
	Expertise    []string     `json:"expertise"`
	Capabilities []Capability `json:"capabilities"`
	Status       string       `json:"status"` // online, offline, busy
	IsPublic     bool         `json:"is_public"`
	EndpointURL  string       `json:"endpoint_url,omitempty"`
}

// Capability agent 能力
type Capability struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	MessageType      string                 `json:"message_type"`
	RequiresApproval bool                   `json:"requires_approval"`
	AutonomyLevel    protocol.AutonomyLevel `json:"autonomy_level"`
}

// Connection 两个用户之间的社交连接边
type Connection struct {
	RequesterID string `json:"requester_id"`
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"` // pending, accepted, rejected
}

// 连接状态
const (
	ConnectionPending  = "pending"
	ConnectionAccepted = "accepted"
	ConnectionRejected = "rejected"
)

// UserRecord 用户查找结果
type UserRecord struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
}

// Directory 用户/agent/连接的持久化查找。实现方（数据库）拥有持久记录，
// Discovery 组件只拥有内存缓存。
type Directory interface {
	GetAgent(ctx context.Context, agentID string) (*Profile, error)
	GetAgentsByUser(ctx context.Context, userID string) ([]*Profile, error)
	GetUserConnections(ctx context.Context, userID string, status string) ([]Connection, error)
	SearchUsers(ctx context.Context, query string) ([]UserRecord, error)
}
