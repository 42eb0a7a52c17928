package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"paiaHub/internal/redisclient"
)

// 状态过期时间
const StatusTTL = 10 * time.Minute

// UserStatus 表示用户状态
type UserStatus struct {
	UserID     string    `json:"user_id"`
	Online     bool      `json:"online"`
	LastActive time.Time `json:"last_active"`
}

// Manager 统一用户状态管理。本地缓存保证单节点可用，
// Redis 句柄启用时同步过去供其他节点查询。
type Manager struct {
	redis       *redisclient.Client
	statusCache map[string]*UserStatus // 本地状态缓存
	mutex       sync.RWMutex
	ctx         context.Context
}

// NewManager 创建状态管理器。redis 传 nil 或降级句柄时只用本地缓存
func NewManager(ctx context.Context, redis *redisclient.Client) *Manager {
	return &Manager{
		redis:       redis,
		statusCache: make(map[string]*UserStatus),
		ctx:         ctx,
	}
}

// UpdateUserStatus 更新用户状态
func (m *Manager) UpdateUserStatus(userID string, online bool) error {
	now := time.Now()

	m.mutex.Lock()
	status, exists := m.statusCache[userID]
	if !exists {
		status = &UserStatus{UserID: userID}
		m.statusCache[userID] = status
	}
	status.Online = online
	status.LastActive = now
	snapshot := *status
	m.mutex.Unlock()

	// 如果Redis可用，同步到Redis
	if m.redis.Enabled() {
		return m.syncToRedis(userID, &snapshot)
	}
	return nil
}

// syncToRedis 将状态同步到Redis
func (m *Manager) syncToRedis(userID string, status *UserStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("序列化用户状态失败: %w", err)
	}

	pipe := m.redis.Raw().Pipeline()
	pipe.Set(m.ctx, redisclient.PresenceKey(userID), data, StatusTTL)
	if status.Online {
		pipe.SAdd(m.ctx, redisclient.OnlineSetKey, userID)
	} else {
		pipe.SRem(m.ctx, redisclient.OnlineSetKey, userID)
	}

	if _, err := pipe.Exec(m.ctx); err != nil {
		return fmt.Errorf("同步用户状态到Redis失败: %w", err)
	}
	return nil
}

// GetUserStatus 获取用户状态
func (m *Manager) GetUserStatus(userID string) (*UserStatus, error) {
	// 先查本地缓存
	m.mutex.RLock()
	if status, ok := m.statusCache[userID]; ok {
		if time.Since(status.LastActive) < StatusTTL {
			result := *status
			m.mutex.RUnlock()
			return &result, nil
		}
	}
	m.mutex.RUnlock()

	// 查询Redis
	if m.redis.Enabled() {
		data, err := m.redis.Raw().Get(m.ctx, redisclient.PresenceKey(userID)).Bytes()
		if err == nil {
			var status UserStatus
			if err = json.Unmarshal(data, &status); err == nil {
				m.mutex.Lock()
				m.statusCache[userID] = &status
				m.mutex.Unlock()
				return &status, nil
			}
		}
	}

	// 默认离线
	return &UserStatus{UserID: userID, Online: false}, nil
}

// IsUserOnline 检查用户是否在线
func (m *Manager) IsUserOnline(userID string) (bool, error) {
	status, err := m.GetUserStatus(userID)
	if err != nil {
		return false, err
	}
	return status.Online, nil
}

// GetOnlineUsers 获取所有在线用户
func (m *Manager) GetOnlineUsers() ([]string, error) {
	if !m.redis.Enabled() {
		m.mutex.RLock()
		defer m.mutex.RUnlock()

		var onlineUsers []string
		for userID, status := range m.statusCache {
			if status.Online && time.Since(status.LastActive) < StatusTTL {
				onlineUsers = append(onlineUsers, userID)
			}
		}
		return onlineUsers, nil
	}

	users, err := m.redis.Raw().SMembers(m.ctx, redisclient.OnlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("获取在线用户列表失败: %w", err)
	}
	return users, nil
}
