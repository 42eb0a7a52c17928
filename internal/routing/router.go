package routing

import (
	"context"
	"errors"
	"log"
	"time"

	"paiaHub/internal/autonomy"
	"paiaHub/internal/discovery"
	"paiaHub/internal/protocol"
	"paiaHub/internal/validation"
)

// Store 持久化消息日志
type Store interface {
	SaveMessage(ctx context.Context, env *protocol.Envelope, status string) error
	UpdateMessageStatus(ctx context.Context, messageID, status string) error
	GetPendingMessages(ctx context.Context, agentIDs []string) ([]*protocol.Envelope, error)
	GetOrCreateConversation(ctx context.Context, agentA, agentB string) (string, error)
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*protocol.Envelope, error)
}

// DeliveryChannel 在线推送通道。实现方必须把"是否在线"和"推送"
// 当作同一个按用户的临界区：检查和推送之间用户断开时，Push 只报告
// 投递失败，不允许崩溃。
type DeliveryChannel interface {
	IsOnline(userID string) bool
	Push(userID string, env *protocol.Envelope) error
}

// PromptContext 应答器的调用上下文
type PromptContext struct {
	ConversationID string               `json:"conversation_id"`
	AgentID        string               `json:"agent_id"`
	FromAgentID    string               `json:"from_agent_id"`
	Content        string               `json:"content"`
	History        []*protocol.Envelope `json:"history,omitempty"`
}

// Responder 不透明的自然语言应答能力，可能又慢又不可靠，
// 调用方必须用超时约束等待时间。
type Responder interface {
	Invoke(ctx context.Context, agentID string, prompt *PromptContext) (string, error)
}

// Config 路由器参数
type Config struct {
	MaxAutoTurns     int           // 聊天自动接续的最大轮数
	ResponderTimeout time.Duration // 单次应答器调用的超时
	HistoryLimit     int           // 传给应答器的历史消息条数
}

// 默认参数
const (
	DefaultMaxAutoTurns     = 8
	DefaultResponderTimeout = 30 * time.Second
	DefaultHistoryLimit     = 20
)

// Router 消息路由引擎。每条入站消息单向流经：
// 校验 → 发送方归属 → 接收方解析 → 社交授权 → 自治闸门 →
// 会话绑定 → 持久化 → 投递 → 聊天自动接续。
// 步骤 1-5 任何一步失败立即短路，结构化错误尽力推回发送方。
type Router struct {
	validator *validation.Validator
	autonomy  *autonomy.Engine
	discovery *discovery.Service
	store     Store
	channel   DeliveryChannel
	responder Responder
	cfg       Config
}

// NewRouter 创建路由器
func NewRouter(v *validation.Validator, engine *autonomy.Engine, disc *discovery.Service,
	store Store, channel DeliveryChannel, responder Responder, cfg Config) *Router {

	if cfg.MaxAutoTurns <= 0 {
		cfg.MaxAutoTurns = DefaultMaxAutoTurns
	}
	if cfg.ResponderTimeout <= 0 {
		cfg.ResponderTimeout = DefaultResponderTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}

	return &Router{
		validator: v,
		autonomy:  engine,
		discovery: disc,
		store:     store,
		channel:   channel,
		responder: responder,
		cfg:       cfg,
	}
}

// RouteMessage 路由一条入站消息。senderUserID 是经过认证的调用方用户ID。
func (r *Router) RouteMessage(ctx context.Context, env *protocol.Envelope, senderUserID string) *protocol.RouteResult {
	if env == nil {
		return &protocol.RouteResult{
			Success: false,
			Error:   protocol.NewRouteError(protocol.CodeInvalidSchema, "信封为空"),
		}
	}

	// 1. 结构校验
	env.Normalize()
	if err := r.validator.Validate(env); err != nil {
		return r.reject(env, senderUserID, protocol.CodeInvalidSchema, err.Error())
	}

	// 2. 发送方归属：from_agent_id 的所有者必须是调用方。
	// 目录暂时不可用不等于越权，归入内部错误
	sender, err := r.discovery.GetProfile(ctx, env.FromAgentID)
	if err != nil && !errors.Is(err, discovery.ErrAgentNotFound) {
		log.Printf("发送方档案查询失败 (%s): %v", env.FromAgentID, err)
		return r.reject(env, senderUserID, protocol.CodeInternalError, "发送方档案查询失败")
	}
	if err != nil || sender.OwnerUserID != senderUserID {
		return r.reject(env, senderUserID, protocol.CodeUnauthorized,
			"发送方不拥有 agent "+env.FromAgentID)
	}

	// 3. 接收方解析
	recipient, err := r.discovery.GetProfile(ctx, env.ToAgentID)
	if err != nil {
		if !errors.Is(err, discovery.ErrAgentNotFound) {
			log.Printf("接收方档案查询失败 (%s): %v", env.ToAgentID, err)
			return r.reject(env, senderUserID, protocol.CodeInternalError, "接收方档案查询失败")
		}
		return r.reject(env, senderUserID, protocol.CodeAgentNotFound,
			"接收 agent 不存在: "+env.ToAgentID)
	}

	// 4. 社交授权
	allowed, reason, err := r.discovery.CanCommunicate(ctx, senderUserID, env.ToAgentID)
	if err != nil {
		log.Printf("授权检查失败 (%s -> %s): %v", senderUserID, env.ToAgentID, err)
		return r.reject(env, senderUserID, protocol.CodeInternalError, "授权检查失败")
	}
	if !allowed {
		return r.reject(env, senderUserID, reason, "不允许与该 agent 通信")
	}

	// 5. 自治闸门：接收方对该消息类型设置 disabled 时拒绝。
	// 和授权失败不同：接收方存在且可达，只是拒绝这一类消息。
	level, err := r.autonomy.Resolve(ctx, recipient.AgentID, env,
		map[string]any{"sender_user_id": senderUserID})
	if err != nil {
		log.Printf("解析 agent %s 的自治级别失败: %v", recipient.AgentID, err)
		return r.reject(env, senderUserID, protocol.CodeInternalError, "自治级别解析失败")
	}
	if level.IsDisabled() {
		return r.reject(env, senderUserID, protocol.CodeCapabilityNotSupported,
			"接收方已禁用消息类型 "+env.Type)
	}
	if level.RequiresApproval() {
		env.Metadata.RequiresHumanAttention = true
	}

	// 6. 会话绑定：没有会话ID时推导确定性ID并写入
	if env.Metadata.ConversationID == "" {
		convID, err := r.store.GetOrCreateConversation(ctx, env.FromAgentID, env.ToAgentID)
		if err != nil {
			log.Printf("绑定会话失败 (%s, %s): %v", env.FromAgentID, env.ToAgentID, err)
			return r.reject(env, senderUserID, protocol.CodeInternalError, "会话绑定失败")
		}
		env.Metadata.ConversationID = convID
	}

	// 7. 持久化
	if err := r.store.SaveMessage(ctx, env, protocol.StatusSent); err != nil {
		log.Printf("持久化消息 %s 失败: %v", env.Metadata.MessageID, err)
		return r.reject(env, senderUserID, protocol.CodeInternalError, "消息保存失败")
	}

	// 8. 投递：接收方所有者在线则立即推送，否则挂起等待重连补发。
	// 推送失败只降级为 pending，持久化已经成功，不清理状态。
	status := r.deliver(ctx, recipient.OwnerUserID, env)

	log.Printf("消息 %s 已路由: %s -> %s, 状态=%s",
		env.Metadata.MessageID, env.FromAgentID, env.ToAgentID, status)

	// 9. 聊天自动接续，仅在投递成功的聊天消息上触发
	if env.Type == protocol.TypeChatMessage && status == protocol.StatusDelivered {
		r.continueChat(ctx, env)
	}

	return &protocol.RouteResult{
		Success:   true,
		MessageID: env.Metadata.MessageID,
		Status:    status,
	}
}

// deliver 尝试推送并落实状态，返回最终状态
func (r *Router) deliver(ctx context.Context, ownerUserID string, env *protocol.Envelope) string {
	status := protocol.StatusPending
	if r.channel.IsOnline(ownerUserID) {
		if err := r.channel.Push(ownerUserID, env); err != nil {
			log.Printf("推送消息 %s 到用户 %s 失败，降级为 pending: %v",
				env.Metadata.MessageID, ownerUserID, err)
		} else {
			status = protocol.StatusDelivered
		}
	}

	if err := r.store.UpdateMessageStatus(ctx, env.Metadata.MessageID, status); err != nil {
		log.Printf("更新消息 %s 状态失败: %v", env.Metadata.MessageID, err)
	}
	return status
}

// DeliverPending 补发该用户全部待投递消息。投递顺序等于持久化顺序（FIFO），
// 不做重排或优先级。每条消息恰好投递一次：状态翻转为 delivered 后
// 第二次调用不会再投递。
func (r *Router) DeliverPending(ctx context.Context, userID string) error {
	profiles, err := r.discovery.AgentsByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		return nil
	}

	agentIDs := make([]string, 0, len(profiles))
	for _, p := range profiles {
		agentIDs = append(agentIDs, p.AgentID)
	}

	pending, err := r.store.GetPendingMessages(ctx, agentIDs)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	log.Printf("为用户 %s 补发 %d 条待投递消息", userID, len(pending))

	for _, env := range pending {
		if err := r.channel.Push(userID, env); err != nil {
			// 用户可能刚刚又断开了，剩余消息保持 pending 等下次重连
			log.Printf("补发消息 %s 失败，保持 pending: %v", env.Metadata.MessageID, err)
			return nil
		}
		if err := r.store.UpdateMessageStatus(ctx, env.Metadata.MessageID, protocol.StatusDelivered); err != nil {
			log.Printf("更新补发消息 %s 状态失败: %v", env.Metadata.MessageID, err)
		}

		// 聊天消息补发后同样进入自动接续
		if env.Type == protocol.TypeChatMessage {
			r.continueChat(ctx, env)
		}
	}

	return nil
}

// reject 构造拒绝结果，并尽力把结构化错误推回发送方的在线通道。
// 发送方不在线时错误静默丢弃——发送方只是收不到确认。
func (r *Router) reject(env *protocol.Envelope, senderUserID, code, message string) *protocol.RouteResult {
	r.pushError(senderUserID, env, code, message)
	return &protocol.RouteResult{
		Success: false,
		Error:   protocol.NewRouteError(code, message),
	}
}

// pushError 把路由错误作为 paia.error 信封推回发送方
func (r *Router) pushError(senderUserID string, ref *protocol.Envelope, code, message string) {
	if senderUserID == "" || !r.channel.IsOnline(senderUserID) {
		return
	}

	errEnv := &protocol.Envelope{
		Type:        protocol.TypeError,
		FromAgentID: "system",
		ToAgentID:   ref.FromAgentID,
		Payload: map[string]any{
			"code":    code,
			"message": message,
			"ref":     ref.Metadata.MessageID,
		},
		Metadata: protocol.Metadata{
			InReplyTo: ref.Metadata.MessageID,
		},
	}
	errEnv.Normalize()

	if err := r.channel.Push(senderUserID, errEnv); err != nil {
		log.Printf("推送错误回执到用户 %s 失败: %v", senderUserID, err)
	}
}
