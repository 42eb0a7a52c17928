package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"paiaHub/internal/discovery"
	"paiaHub/internal/routing"
)

// WebhookResponder 把应答请求转发到 agent 注册的回调地址。
// 自然语言生成对本系统是不透明能力，这里只做一次受超时约束的 HTTP 调用，
// 超时由调用方通过 context 控制。
type WebhookResponder struct {
	discovery *discovery.Service
	client    *http.Client
}

// NewWebhookResponder 创建 webhook 应答器
func NewWebhookResponder(disc *discovery.Service) *WebhookResponder {
	return &WebhookResponder{
		discovery: disc,
		client: &http.Client{
			// context 控制单次调用的截止时间，这里是兜底
			Timeout: 60 * time.Second,
		},
	}
}

// invokeRequest 回调请求体
type invokeRequest struct {
	AgentID        string `json:"agent_id"`
	ConversationID string `json:"conversation_id"`
	FromAgentID    string `json:"from_agent_id"`
	Content        string `json:"content"`
}

// invokeResponse 回调响应体
type invokeResponse struct {
	Reply string `json:"reply"`
}

// Invoke 调用 agent 的应答回调
func (r *WebhookResponder) Invoke(ctx context.Context, agentID string, prompt *routing.PromptContext) (string, error) {
	profile, err := r.discovery.GetProfile(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("查找 agent %s 失败: %w", agentID, err)
	}
	if profile.EndpointURL == "" {
		return "", fmt.Errorf("agent %s 没有配置应答回调地址", agentID)
	}

	body, err := json.Marshal(invokeRequest{
		AgentID:        agentID,
		ConversationID: prompt.ConversationID,
		FromAgentID:    prompt.FromAgentID,
		Content:        prompt.Content,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, profile.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用应答回调失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("应答回调返回 %d: %s", resp.StatusCode, string(data))
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("解析应答回调响应失败: %w", err)
	}
	if out.Reply == "" {
		return "", fmt.Errorf("应答回调返回空回复")
	}
	return out.Reply, nil
}

// EchoResponder 开发模式用的应答器，原样复述收到的内容
type EchoResponder struct{}

// Invoke 返回固定格式的回声回复
func (EchoResponder) Invoke(ctx context.Context, agentID string, prompt *routing.PromptContext) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	log.Printf("[echo] agent %s 收到来自 %s 的消息", agentID, prompt.FromAgentID)
	return fmt.Sprintf("收到: %s", prompt.Content), nil
}
