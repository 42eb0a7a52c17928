package discovery

import (
	"context"
	"errors"
	"log"
	"sync"

	"paiaHub/internal/protocol"
)

// Service 解析 agent 身份并通过所有者的社交图谱控制跨 agent 通信。
// 档案按需从 Directory 加载并缓存，状态变化时整体替换缓存条目。
type Service struct {
	directory Directory

	mu    sync.RWMutex
	cache map[string]*Profile
}

// NewService 创建发现服务
func NewService(directory Directory) *Service {
	return &Service{
		directory: directory,
		cache:     make(map[string]*Profile),
	}
}

// GetProfile 获取 agent 档案，缓存未命中时从 Directory 惰性加载
func (s *Service) GetProfile(ctx context.Context, agentID string) (*Profile, error) {
	s.mu.RLock()
	profile, ok := s.cache[agentID]
	s.mu.RUnlock()
	if ok {
		return profile, nil
	}

	profile, err := s.directory.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[agentID] = profile
	s.mu.Unlock()
	return profile, nil
}

// Evict 逐出缓存的档案
func (s *Service) Evict(agentID string) {
	s.mu.Lock()
	delete(s.cache, agentID)
	s.mu.Unlock()
}

// UpdateStatus 更新缓存中 agent 的在线状态。缓存条目整体替换，
// 不在旧档案上原地改字段。
func (s *Service) UpdateStatus(agentID string, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.cache[agentID]
	if !ok {
		return
	}
	updated := *old
	updated.Status = status
	s.cache[agentID] = &updated
}

// AgentsByUser 列出某用户拥有的全部 agent
func (s *Service) AgentsByUser(ctx context.Context, userID string) ([]*Profile, error) {
	return s.directory.GetAgentsByUser(ctx, userID)
}

// CanCommunicate 判断 fromUserID 是否可以向 toAgentID 发消息。
// 严格白名单：没有连接记录永远是硬拒绝，不存在"未知，询问"的中间态。
// reason 在拒绝时是协议错误码。
func (s *Service) CanCommunicate(ctx context.Context, fromUserID, toAgentID string) (bool, string, error) {
	target, err := s.GetProfile(ctx, toAgentID)
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			return false, protocol.CodeAgentNotFound, nil
		}
		return false, protocol.CodeInternalError, err
	}

	// 所有者总是可以和自己的 agent 通信
	if target.OwnerUserID == fromUserID {
		return true, "", nil
	}

	// 非公开 agent 只有所有者可以访问
	if !target.IsPublic {
		return false, protocol.CodeNotPublic, nil
	}

	// 其余情况要求双方所有者之间存在已接受的连接
	connected, err := s.hasAcceptedConnection(ctx, fromUserID, target.OwnerUserID)
	if err != nil {
		return false, protocol.CodeInternalError, err
	}
	if !connected {
		return false, protocol.CodeNotConnected, nil
	}
	return true, "", nil
}

// hasAcceptedConnection 双方用户之间是否存在已接受的连接（不区分方向）
func (s *Service) hasAcceptedConnection(ctx context.Context, userA, userB string) (bool, error) {
	conns, err := s.directory.GetUserConnections(ctx, userA, ConnectionAccepted)
	if err != nil {
		return false, err
	}
	for _, c := range conns {
		if c.RequesterID == userB || c.RecipientID == userB {
			return true, nil
		}
	}
	return false, nil
}

// acceptedFriends 返回已接受连接的对端用户ID列表
func (s *Service) acceptedFriends(ctx context.Context, userID string) ([]string, error) {
	conns, err := s.directory.GetUserConnections(ctx, userID, ConnectionAccepted)
	if err != nil {
		return nil, err
	}
	var friends []string
	for _, c := range conns {
		if c.RequesterID == userID {
			friends = append(friends, c.RecipientID)
		} else {
			friends = append(friends, c.RequesterID)
		}
	}
	return friends, nil
}

// DiscoverByExpertise 在请求者自己和已接受好友的 agent 中按专长查找。
// 只遍历好友，绝不返回陌生人的 agent；个别好友查找失败时跳过，
// 返回尽力而为的部分结果。
func (s *Service) DiscoverByExpertise(ctx context.Context, userID, expertise string) ([]*Profile, error) {
	return s.discover(ctx, userID, func(p *Profile) bool {
		for _, e := range p.Expertise {
			if e == expertise {
				return true
			}
		}
		return false
	})
}

// DiscoverByCapability 按能力名称或其服务的消息类型查找
func (s *Service) DiscoverByCapability(ctx context.Context, userID, capability string) ([]*Profile, error) {
	return s.discover(ctx, userID, func(p *Profile) bool {
		for _, c := range p.Capabilities {
			if c.Name == capability || c.MessageType == capability {
				return true
			}
		}
		return false
	})
}

// discover 遍历自己和好友的 agent，按谓词和公开标志过滤
func (s *Service) discover(ctx context.Context, userID string, match func(*Profile) bool) ([]*Profile, error) {
	var results []*Profile

	// 自己的 agent 不受公开标志限制
	own, err := s.directory.GetAgentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range own {
		if match(p) {
			results = append(results, p)
		}
	}

	friends, err := s.acceptedFriends(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, friendID := range friends {
		agents, err := s.directory.GetAgentsByUser(ctx, friendID)
		if err != nil {
			// 部分结果优于整体失败
			log.Printf("查找好友 %s 的 agent 失败，跳过: %v", friendID, err)
			continue
		}
		for _, p := range agents {
			if p.IsPublic && match(p) {
				results = append(results, p)
			}
		}
	}

	return results, nil
}

// SearchUsers 搜索用户
func (s *Service) SearchUsers(ctx context.Context, query string) ([]UserRecord, error) {
	return s.directory.SearchUsers(ctx, query)
}
