package model

import (
	"time"

	"gorm.io/gorm"
)

// User 用户模型
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username  string    `gorm:"type:varchar(50);uniqueIndex" json:"username"`
	Password  string    `gorm:"type:varchar(100)" json:"-"`
	Nickname  string    `gorm:"type:varchar(50)" json:"nickname"`
	AvatarURL string    `gorm:"type:varchar(255)" json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent 用户的 PAIA agent。每个 agent 归属一个用户。
type Agent struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string    `gorm:"type:varchar(36);index" json:"user_id"` // 所有者
	DisplayName string    `gorm:"type:varchar(100)" json:"display_name"`
	Expertise   string    `gorm:"type:text" json:"expertise"`                       // JSON 数组
	Status      string    `gorm:"type:varchar(20);default:'offline'" json:"status"` // online, offline, busy
	IsPublic    bool      `gorm:"default:true" json:"is_public"`
	EndpointURL string    `gorm:"type:varchar(255)" json:"endpoint_url"` // 应答器回调地址
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AgentCapability agent 声明的能力
type AgentCapability struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AgentID          string    `gorm:"type:varchar(36);index" json:"agent_id"`
	Name             string    `gorm:"type:varchar(100)" json:"name"`
	MessageType      string    `gorm:"type:varchar(100)" json:"message_type"` // 该能力服务的消息类型
	RequiresApproval bool      `gorm:"default:false" json:"requires_approval"`
	AutonomyLevel    string    `gorm:"type:varchar(20);default:'supervised'" json:"autonomy_level"`
	CreatedAt        time.Time `json:"created_at"`
}

// SocialConnection 两个用户之间的社交连接。
// agent 之间的授权永远通过所有者的连接判断，不做 agent 对 agent 的直接授权。
type SocialConnection struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RequesterID string    `gorm:"type:varchar(36);index:idx_conn_pair" json:"requester_id"`
	RecipientID string    `gorm:"type:varchar(36);index:idx_conn_pair" json:"recipient_id"`
	Status      string    `gorm:"type:varchar(20);default:'pending'" json:"status"` // pending, accepted, rejected
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SocialConnection) TableName() string {
	return "social_connections"
}

// Conversation 会话。ID 由两个 agent ID 确定性推导，谁先发起都一样。
type Conversation struct {
	ID        string    `gorm:"primaryKey;type:varchar(100)" json:"id"`
	AgentA    string    `gorm:"type:varchar(36);index" json:"agent_a"` // 字典序较小的一方
	AgentB    string    `gorm:"type:varchar(36);index" json:"agent_b"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message 持久化的消息记录，信封加投递状态
type Message struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"` // metadata.message_id，幂等键
	ConversationID string    `gorm:"type:varchar(100);index" json:"conversation_id"`
	Type           string    `gorm:"type:varchar(100)" json:"type"`
	FromAgentID    string    `gorm:"type:varchar(36);index" json:"from_agent_id"`
	ToAgentID      string    `gorm:"type:varchar(36);index" json:"to_agent_id"`
	Payload        string    `gorm:"type:text" json:"payload"`                      // JSON
	Metadata       string    `gorm:"type:text" json:"metadata"`                     // JSON
	Status         string    `gorm:"type:varchar(20);default:'sent'" json:"status"` // sent, pending, delivered, read
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AutonomySetting agent 的默认自治级别，每个 agent 一条
type AutonomySetting struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AgentID      string    `gorm:"type:varchar(36);uniqueIndex" json:"agent_id"`
	DefaultLevel string    `gorm:"type:varchar(20);default:'supervised'" json:"default_level"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AutonomyRule 自治规则，谓词以 JSON 文本持久化
type AutonomyRule struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AgentID   string    `gorm:"type:varchar(36);index" json:"agent_id"`
	Predicate string    `gorm:"type:text" json:"predicate"`
	Level     string    `gorm:"type:varchar(20)" json:"level"`
	Priority  int       `gorm:"default:0" json:"priority"`
	Seq       int       `gorm:"default:0" json:"seq"` // 插入顺序，同优先级时在前者胜出
	CreatedAt time.Time `json:"created_at"`
}

// SetupDatabase 初始化数据库表结构
func SetupDatabase(db *gorm.DB) error {
	// 自动迁移表结构
	return db.AutoMigrate(
		&User{},
		&Agent{},
		&AgentCapability{},
		&SocialConnection{},
		&Conversation{},
		&Message{},
		&AutonomySetting{},
		&AutonomyRule{},
	)
}
