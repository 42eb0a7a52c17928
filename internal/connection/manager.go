package connection

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"paiaHub/internal/protocol"
	"paiaHub/internal/redisclient"
	"paiaHub/internal/status"
)

// Manager 管理所有实时连接，是路由引擎的投递通道：
// IsOnline 和 Push 之间用户断开不会让推送崩溃，Push 只报告投递失败，
// 由路由器把消息降级为 pending。
type Manager struct {
	connections   map[string]map[string]Connection // 用户ID -> 连接ID -> 连接
	statusManager *status.Manager
	onConnect     func(userID string) // 用户上线回调（补发待投递消息）
	onDisconnect  func(userID string)
	mutex         sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewManager 创建连接管理器。redis 传 nil 或降级句柄时状态只存本地
func NewManager(redis *redisclient.Client) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		connections:   make(map[string]map[string]Connection),
		statusManager: status.NewManager(ctx, redis),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetOnConnect 设置用户上线回调
func (m *Manager) SetOnConnect(fn func(userID string)) {
	m.onConnect = fn
}

// SetOnDisconnect 设置用户离线回调
func (m *Manager) SetOnDisconnect(fn func(userID string)) {
	m.onDisconnect = fn
}

// RegisterConnection 注册一个新的连接，返回连接ID
func (m *Manager) RegisterConnection(userID string, conn Connection) string {
	connID := fmt.Sprintf("%s_%d", userID, time.Now().UnixNano())

	m.mutex.Lock()
	if _, ok := m.connections[userID]; !ok {
		m.connections[userID] = make(map[string]Connection)
	}
	m.connections[userID][connID] = conn
	m.mutex.Unlock()

	// 更新用户状态为在线
	if err := m.statusManager.UpdateUserStatus(userID, true); err != nil {
		log.Printf("更新用户 %s 的在线状态失败: %v", userID, err)
	}

	log.Printf("用户 %s 的连接 %s 已注册", userID, connID)

	// 用户上线后，由回调补发待投递消息
	if m.onConnect != nil {
		go m.onConnect(userID)
	}

	return connID
}

// UnregisterConnection 注销一个连接
func (m *Manager) UnregisterConnection(userID string, connID string) {
	m.mutex.Lock()
	var connToClose Connection
	if userConns, ok := m.connections[userID]; ok {
		if conn, ok := userConns[connID]; ok {
			connToClose = conn
			delete(userConns, connID)
		}
		if len(userConns) == 0 {
			delete(m.connections, userID)
		}
	}
	hasOtherConns := len(m.connections[userID]) > 0
	m.mutex.Unlock()

	// 在锁外安全地关闭连接
	if connToClose != nil {
		_ = connToClose.Close()
	}

	// 没有其他连接时，更新用户状态为离线
	if !hasOtherConns {
		if err := m.statusManager.UpdateUserStatus(userID, false); err != nil {
			log.Printf("更新用户 %s 的离线状态失败: %v", userID, err)
		}
		if m.onDisconnect != nil {
			go m.onDisconnect(userID)
		}
	}

	log.Printf("用户 %s 的连接 %s 已注销", userID, connID)
}

// IsOnline 用户是否有本地活跃连接
func (m *Manager) IsOnline(userID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.connections[userID]) > 0
}

// Push 把信封推送到用户的任意一个活跃连接。
// 所有连接都发送失败（或用户已断开）时返回错误，调用方据此降级。
func (m *Manager) Push(userID string, env *protocol.Envelope) error {
	m.mutex.RLock()
	userConns, ok := m.connections[userID]
	var conns []Connection
	var connIDs []string
	if ok {
		for connID, conn := range userConns {
			conns = append(conns, conn)
			connIDs = append(connIDs, connID)
		}
	}
	m.mutex.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("用户 %s 没有活跃连接", userID)
	}

	for i, conn := range conns {
		err := conn.SendEnvelope(env)
		if err == nil {
			return nil
		}
		log.Printf("推送到用户 %s 的连接 %s 失败: %v", userID, connIDs[i], err)
		if err == ErrConnectionClosed {
			m.UnregisterConnection(userID, connIDs[i])
		}
	}

	return fmt.Errorf("用户 %s 的所有连接推送失败", userID)
}

// OnlineUsers 返回当前在线的用户列表，供在线状态查询接口使用
func (m *Manager) OnlineUsers() ([]string, error) {
	return m.statusManager.GetOnlineUsers()
}

// UserStatus 返回单个用户的在线状态和最近活跃时间。
// 多连接时以状态管理器记录的为准，包含其他节点同步过来的状态
func (m *Manager) UserStatus(userID string) (*status.UserStatus, error) {
	return m.statusManager.GetUserStatus(userID)
}

// Run 启动连接管理器，周期性刷新在线状态心跳
func (m *Manager) Run(ctx context.Context) {
	heartbeatTicker := time.NewTicker(1 * time.Minute)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("连接管理器关闭中...")
			return
		case <-m.ctx.Done():
			return
		case <-heartbeatTicker.C:
			m.refreshHeartbeats()
		}
	}
}

// refreshHeartbeats 为所有在线用户续期状态
func (m *Manager) refreshHeartbeats() {
	m.mutex.RLock()
	userIDs := make([]string, 0, len(m.connections))
	for userID := range m.connections {
		userIDs = append(userIDs, userID)
	}
	m.mutex.RUnlock()

	for _, userID := range userIDs {
		if err := m.statusManager.UpdateUserStatus(userID, true); err != nil {
			log.Printf("刷新用户 %s 的心跳失败: %v", userID, err)
		}
	}
}

// Close 关闭连接管理器和所有连接
func (m *Manager) Close() error {
	m.cancel()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, userConns := range m.connections {
		for _, conn := range userConns {
			conn.Close()
		}
	}
	m.connections = make(map[string]map[string]Connection)

	return nil
}
