package routing

import (
	"context"
	"log"

	"paiaHub/internal/protocol"
)

// continueChat 聊天自动接续。收到聊天消息的 agent 通过应答器生成回复，
// 回复持久化并推回原发送方；发送方也在线时换边继续，让两个 agent
// 在没有人工介入的情况下对话。
//
// 用显式循环代替递归，轮数由 MaxAutoTurns 封顶，单次应答器调用由
// ResponderTimeout 封顶——两个永远在线的 agent 不会把资源耗干。
// 任何一边离线、应答失败或超出轮数时终止。
func (r *Router) continueChat(ctx context.Context, inbound *protocol.Envelope) {
	current := inbound

	for turn := 0; turn < r.cfg.MaxAutoTurns; turn++ {
		reply, ok := r.generateReply(ctx, current)
		if !ok {
			return
		}

		// 持久化回复
		if err := r.store.SaveMessage(ctx, reply, protocol.StatusSent); err != nil {
			log.Printf("持久化自动回复 %s 失败，接续终止: %v", reply.Metadata.MessageID, err)
			return
		}

		// 回复的接收方（上一条的发送方）必须在线才能继续
		recipient, err := r.discovery.GetProfile(ctx, reply.ToAgentID)
		if err != nil {
			log.Printf("查找回复接收方 %s 失败，接续终止: %v", reply.ToAgentID, err)
			r.markPending(ctx, reply)
			return
		}

		if !r.channel.IsOnline(recipient.OwnerUserID) {
			r.markPending(ctx, reply)
			log.Printf("用户 %s 不在线，自动回复 %s 挂起，接续终止",
				recipient.OwnerUserID, reply.Metadata.MessageID)
			return
		}
		if err := r.channel.Push(recipient.OwnerUserID, reply); err != nil {
			log.Printf("推送自动回复 %s 失败，降级为 pending: %v", reply.Metadata.MessageID, err)
			r.markPending(ctx, reply)
			return
		}

		if err := r.store.UpdateMessageStatus(ctx, reply.Metadata.MessageID, protocol.StatusDelivered); err != nil {
			log.Printf("更新自动回复 %s 状态失败: %v", reply.Metadata.MessageID, err)
		}

		// 换边：刚才的接收方成为下一轮的应答方
		current = reply
	}

	log.Printf("会话 %s 的自动接续达到 %d 轮上限，停止",
		inbound.Metadata.ConversationID, r.cfg.MaxAutoTurns)
}

// generateReply 调用消息接收方的应答器生成回复信封。
// 应答失败或超时时返回 ok=false，这条回复什么都没持久化，接续就此停止。
func (r *Router) generateReply(ctx context.Context, current *protocol.Envelope) (*protocol.Envelope, bool) {
	content, _ := current.Payload["content"].(string)

	history, err := r.store.GetConversationMessages(ctx, current.Metadata.ConversationID, r.cfg.HistoryLimit)
	if err != nil {
		log.Printf("加载会话 %s 历史失败，不带历史继续: %v", current.Metadata.ConversationID, err)
		history = nil
	}

	prompt := &PromptContext{
		ConversationID: current.Metadata.ConversationID,
		AgentID:        current.ToAgentID,
		FromAgentID:    current.FromAgentID,
		Content:        content,
		History:        history,
	}

	invokeCtx, cancel := context.WithTimeout(ctx, r.cfg.ResponderTimeout)
	defer cancel()

	replyText, err := r.responder.Invoke(invokeCtx, current.ToAgentID, prompt)
	if err != nil {
		log.Printf("agent %s 的应答器调用失败，接续终止: %v", current.ToAgentID, err)
		return nil, false
	}

	reply := &protocol.Envelope{
		Type:        protocol.TypeChatMessage,
		FromAgentID: current.ToAgentID,
		ToAgentID:   current.FromAgentID,
		Payload:     map[string]any{"content": replyText},
		Metadata: protocol.Metadata{
			ConversationID: current.Metadata.ConversationID,
			InReplyTo:      current.Metadata.MessageID,
		},
	}
	reply.Normalize()
	return reply, true
}

// markPending 把已持久化的回复降级为 pending
func (r *Router) markPending(ctx context.Context, env *protocol.Envelope) {
	if err := r.store.UpdateMessageStatus(ctx, env.Metadata.MessageID, protocol.StatusPending); err != nil {
		log.Printf("更新消息 %s 为 pending 失败: %v", env.Metadata.MessageID, err)
	}
}
