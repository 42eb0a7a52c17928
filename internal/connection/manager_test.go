package connection

import (
	"sync"
	"testing"
	"time"

	"paiaHub/internal/protocol"
	"paiaHub/internal/redisclient"
)

// fakeConn 内存连接
type fakeConn struct {
	mu      sync.Mutex
	userID  string
	sent    []*protocol.Envelope
	sendErr error
	done    chan struct{}
	closed  bool
}

func newFakeConn(userID string) *fakeConn {
	return &fakeConn{userID: userID, done: make(chan struct{})}
}

func (c *fakeConn) SendEnvelope(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) GetUserID() string            { return c.userID }
func (c *fakeConn) GetDoneChan() <-chan struct{} { return c.done }

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testEnvelope() *protocol.Envelope {
	env := &protocol.Envelope{
		Type:        protocol.TypeChatMessage,
		FromAgentID: "agent-a",
		ToAgentID:   "agent-b",
		Payload:     map[string]any{"content": "hi"},
	}
	env.Normalize()
	return env
}

// --- 注册与在线判断 ---

func TestRegisterMakesUserOnline(t *testing.T) {
	m := NewManager(redisclient.Disabled())
	defer m.Close()

	if m.IsOnline("user-1") {
		t.Error("注册前用户不应在线")
	}

	connID := m.RegisterConnection("user-1", newFakeConn("user-1"))
	if connID == "" {
		t.Fatal("RegisterConnection 应返回连接ID")
	}
	if !m.IsOnline("user-1") {
		t.Error("注册后用户应在线")
	}

	m.UnregisterConnection("user-1", connID)
	if m.IsOnline("user-1") {
		t.Error("注销后用户不应在线")
	}
}

func TestMultipleConnectionsStayOnline(t *testing.T) {
	m := NewManager(redisclient.Disabled())
	defer m.Close()

	id1 := m.RegisterConnection("user-1", newFakeConn("user-1"))
	id2 := m.RegisterConnection("user-1", newFakeConn("user-1"))

	m.UnregisterConnection("user-1", id1)
	if !m.IsOnline("user-1") {
		t.Error("还有其他连接时用户应保持在线")
	}
	m.UnregisterConnection("user-1", id2)
	if m.IsOnline("user-1") {
		t.Error("全部连接注销后用户应离线")
	}
}

func TestOnConnectCallbackFires(t *testing.T) {
	m := NewManager(redisclient.Disabled())
	defer m.Close()

	fired := make(chan string, 1)
	m.SetOnConnect(func(userID string) { fired <- userID })

	m.RegisterConnection("user-1", newFakeConn("user-1"))

	select {
	case userID := <-fired:
		if userID != "user-1" {
			t.Errorf("回调用户 = %q, want %q", userID, "user-1")
		}
	case <-time.After(time.Second):
		t.Error("上线回调未触发")
	}
}

// --- 推送 ---

func TestPushToActiveConnection(t *testing.T) {
	m := NewManager(redisclient.Disabled())
	defer m.Close()

	conn := newFakeConn("user-1")
	m.RegisterConnection("user-1", conn)

	if err := m.Push("user-1", testEnvelope()); err != nil {
		t.Fatalf("Push 报错: %v", err)
	}
	if conn.sentCount() != 1 {
		t.Errorf("连接收到信封数 = %d, want 1", conn.sentCount())
	}
}

func TestPushOfflineUserFails(t *testing.T) {
	m := NewManager(redisclient.Disabled())
	defer m.Close()

	if err := m.Push("user-ghost", testEnvelope()); err == nil {
		t.Error("推送给不在线用户应报错")
	}
}

func TestPushClosedConnectionUnregisters(t *testing.T) {
	m := NewManager(redisclient.Disabled())
	defer m.Close()

	conn := newFakeConn("user-1")
	conn.sendErr = ErrConnectionClosed
	m.RegisterConnection("user-1", conn)

	if err := m.Push("user-1", testEnvelope()); err == nil {
		t.Error("所有连接失败时 Push 应报错")
	}
	if m.IsOnline("user-1") {
		t.Error("已关闭的连接应被注销")
	}
}

func TestPushFallsBackToHealthyConnection(t *testing.T) {
	m := NewManager(redisclient.Disabled())
	defer m.Close()

	bad := newFakeConn("user-1")
	bad.sendErr = ErrConnectionBufferFull
	good := newFakeConn("user-1")
	m.RegisterConnection("user-1", bad)
	m.RegisterConnection("user-1", good)

	if err := m.Push("user-1", testEnvelope()); err != nil {
		t.Fatalf("有健康连接时 Push 不应报错: %v", err)
	}
	if bad.sentCount()+good.sentCount() != 1 {
		t.Errorf("信封应恰好投递一次，bad=%d good=%d", bad.sentCount(), good.sentCount())
	}
}

// --- 在线状态查询 ---

func TestOnlineUsersTracksRegistrations(t *testing.T) {
	m := NewManager(redisclient.Disabled())
	defer m.Close()

	connID := m.RegisterConnection("user-1", newFakeConn("user-1"))
	m.RegisterConnection("user-2", newFakeConn("user-2"))

	users, err := m.OnlineUsers()
	if err != nil {
		t.Fatalf("OnlineUsers 报错: %v", err)
	}
	online := make(map[string]bool)
	for _, u := range users {
		online[u] = true
	}
	if !online["user-1"] || !online["user-2"] {
		t.Errorf("在线用户列表 = %v, want 包含 user-1 和 user-2", users)
	}

	m.UnregisterConnection("user-1", connID)
	users, err = m.OnlineUsers()
	if err != nil {
		t.Fatalf("OnlineUsers 报错: %v", err)
	}
	for _, u := range users {
		if u == "user-1" {
			t.Error("注销后 user-1 不应出现在在线用户列表里")
		}
	}
}

func TestUserStatusAfterDisconnect(t *testing.T) {
	m := NewManager(redisclient.Disabled())
	defer m.Close()

	connID := m.RegisterConnection("user-1", newFakeConn("user-1"))

	st, err := m.UserStatus("user-1")
	if err != nil {
		t.Fatalf("UserStatus 报错: %v", err)
	}
	if !st.Online {
		t.Error("注册后用户状态应为在线")
	}
	if st.LastActive.IsZero() {
		t.Error("在线用户应有最近活跃时间")
	}

	m.UnregisterConnection("user-1", connID)
	st, err = m.UserStatus("user-1")
	if err != nil {
		t.Fatalf("UserStatus 报错: %v", err)
	}
	if st.Online {
		t.Error("注销后用户状态应为离线")
	}

	// 从未出现过的用户默认离线
	st, err = m.UserStatus("user-ghost")
	if err != nil {
		t.Fatalf("UserStatus 报错: %v", err)
	}
	if st.Online {
		t.Error("未知用户默认离线")
	}
}
