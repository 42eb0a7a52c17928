package connection

import (
	"fmt"
	"time"

	"paiaHub/internal/protocol"
)

// Connection 表示一个与客户端的实时连接
type Connection interface {
	// SendEnvelope 发送信封到客户端
	SendEnvelope(env *protocol.Envelope) error

	// Close 关闭连接
	Close() error

	// GetUserID 获取用户 ID
	GetUserID() string

	// GetDoneChan 获取完成通道
	GetDoneChan() <-chan struct{}
}

// 连接超时与心跳常量
const (
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 10000
)

// 公共错误定义
var (
	ErrConnectionClosed     = fmt.Errorf("连接已关闭")
	ErrConnectionBufferFull = fmt.Errorf("发送缓冲区已满")
)
