package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// 在线状态在 Redis 中的键布局
const (
	presenceKeyFormat = "presence:user:%s"

	// OnlineSetKey 在线用户集合的键
	OnlineSetKey = "presence:online"
)

// PresenceKey 单个用户在线状态记录的键
func PresenceKey(userID string) string {
	return fmt.Sprintf(presenceKeyFormat, userID)
}

// Client 封装可选的 Redis 连接句柄。连接失败时降级为禁用句柄，
// 在线状态只保留在本地缓存里，单节点仍然可用
type Client struct {
	rdb     *redis.Client
	enabled bool
}

// Connect 建立 Redis 连接。Ping 失败时返回降级句柄和错误，
// 调用方可以记录警告后带着降级句柄继续运行
func Connect(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return &Client{}, fmt.Errorf("Redis连接失败: %w", err)
	}
	return &Client{rdb: rdb, enabled: true}, nil
}

// Disabled 返回永远禁用的句柄，测试和无 Redis 部署使用
func Disabled() *Client {
	return &Client{}
}

// Enabled 报告 Redis 是否可用
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// Raw 暴露底层客户端，仅在 Enabled 为真时有效
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// Close 关闭连接，降级句柄上是空操作
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	c.enabled = false
	return err
}
