package connection

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"paiaHub/internal/protocol"

	"github.com/gorilla/websocket"
)

// WebSocketConnection 实现 WebSocket 连接。
// send 通道从不关闭：关闭状态由 mu 保护的 closed 标志表达，
// 写循环通过 done 退出。投递和关闭可能来自不同的 goroutine
// （读循环的 defer、管理器注销、路由推送），发送和关闭必须在
// 同一个临界区内判定，否则推送会撞上正在关闭的连接。
type WebSocketConnection struct {
	conn   *websocket.Conn
	userID string
	send   chan *protocol.Envelope
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewWebSocketConnection 创建新的 WebSocket 连接
func NewWebSocketConnection(conn *websocket.Conn, userID string) *WebSocketConnection {
	return &WebSocketConnection{
		conn:   conn,
		userID: userID,
		send:   make(chan *protocol.Envelope, 256),
		done:   make(chan struct{}),
	}
}

// SendEnvelope 发送信封到 WebSocket 客户端。
// 连接已关闭时报告投递失败，由调用方降级处理。
func (c *WebSocketConnection) SendEnvelope(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.send <- env:
		return nil
	default:
		return ErrConnectionBufferFull
	}
}

// Close 关闭 WebSocket 连接，可以安全地重复调用
func (c *WebSocketConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	return c.conn.Close()
}

// GetUserID 获取用户 ID
func (c *WebSocketConnection) GetUserID() string {
	return c.userID
}

// GetDoneChan 获取完成通道
func (c *WebSocketConnection) GetDoneChan() <-chan struct{} {
	return c.done
}

// StartReading 开始从 WebSocket 读取信封，每读到一条交给处理函数
func (c *WebSocketConnection) StartReading(handler func(*protocol.Envelope)) {
	defer c.Close()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	log.Printf("用户 %s 的 WebSocket 连接已建立，开始读取消息", c.userID)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("用户 %s 的 WebSocket 读取错误: %v", c.userID, err)
			} else {
				log.Printf("用户 %s 的 WebSocket 连接关闭: %v", c.userID, err)
			}
			break
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("用户 %s 发来的数据不是合法信封: %v", c.userID, err)
			continue
		}

		handler(&env)
	}
}

// StartWriting 开始向 WebSocket 写入信封，并周期性发送 ping 帧保活
func (c *WebSocketConnection) StartWriting() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteJSON(env); err != nil {
				log.Printf("向用户 %s 写入 WebSocket 失败: %v", c.userID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("向用户 %s 发送 ping 失败: %v", c.userID, err)
				return
			}
		}
	}
}
