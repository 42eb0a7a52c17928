package autonomy

import (
	"context"
	"sort"
	"sync"

	"paiaHub/internal/protocol"
)

// Rule 自治规则。规则列表始终按 Priority 降序保存，
// 第一条谓词成立的规则胜出。
type Rule struct {
	ID        string
	Predicate *Predicate // 为 nil 时（比如持久化的谓词已不可解析）永远不匹配
	Level     protocol.AutonomyLevel
	Priority  int

	seq int // 插入顺序，同优先级时先插入者在前
}

// Settings 单个 agent 的自治设置。规则列表可能被多个路由 worker
// 并发读取、偶尔被配置更新改写，读写锁保证读者看不到排序中途的状态。
type Settings struct {
	AgentID      string
	DefaultLevel protocol.AutonomyLevel

	mu      sync.RWMutex
	rules   []*Rule
	nextSeq int
}

// NewSettings 创建自治设置
func NewSettings(agentID string, defaultLevel protocol.AutonomyLevel) *Settings {
	return &Settings{AgentID: agentID, DefaultLevel: defaultLevel}
}

// AddRule 追加规则并按优先级降序重排。稳定排序：同优先级时
// 先加入的规则保持在前，后加入的同优先级规则排在后面。
func (s *Settings) AddRule(rule *Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule.seq = s.nextSeq
	s.nextSeq++

	rules := make([]*Rule, len(s.rules), len(s.rules)+1)
	copy(rules, s.rules)
	rules = append(rules, rule)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	s.rules = rules
}

// RemoveRule 按 ID 移除规则
func (s *Settings) RemoveRule(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rules {
		if r.ID == ruleID {
			rules := make([]*Rule, 0, len(s.rules)-1)
			rules = append(rules, s.rules[:i]...)
			rules = append(rules, s.rules[i+1:]...)
			s.rules = rules
			return true
		}
	}
	return false
}

// Rules 返回当前规则列表的快照
func (s *Settings) Rules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Resolve 按优先级顺序求值规则，返回第一条匹配规则的级别，
// 全部不匹配时返回默认级别。
func (s *Settings) Resolve(env *protocol.Envelope, extra map[string]any) protocol.AutonomyLevel {
	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()

	evalCtx := buildEvalContext(env, extra)
	for _, rule := range rules {
		if rule.Predicate.Eval(evalCtx) {
			return rule.Level
		}
	}
	return s.DefaultLevel
}

// buildEvalContext 由消息属性和调用方补充的上下文构造谓词求值上下文
func buildEvalContext(env *protocol.Envelope, extra map[string]any) map[string]any {
	evalCtx := map[string]any{
		"message_type":  env.Type,
		"from_agent_id": env.FromAgentID,
	}
	if env.Payload != nil {
		evalCtx["payload"] = env.Payload
	}
	if extra != nil {
		evalCtx["context"] = extra
	}
	return evalCtx
}

// Provider 自治设置的持久化来源
type Provider interface {
	GetAutonomySettings(ctx context.Context, agentID string) (*Settings, error)
}

// Engine 按接收 agent 解析消息的自治级别。设置按 agent 惰性加载并缓存，
// 配置更新后通过 Invalidate 逐出。
type Engine struct {
	provider Provider

	mu    sync.RWMutex
	cache map[string]*Settings
}

// NewEngine 创建自治引擎
func NewEngine(provider Provider) *Engine {
	return &Engine{
		provider: provider,
		cache:    make(map[string]*Settings),
	}
}

// Settings 获取 agent 的自治设置，缓存未命中时从 Provider 加载
func (e *Engine) Settings(ctx context.Context, agentID string) (*Settings, error) {
	e.mu.RLock()
	settings, ok := e.cache[agentID]
	e.mu.RUnlock()
	if ok {
		return settings, nil
	}

	settings, err := e.provider.GetAutonomySettings(ctx, agentID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[agentID] = settings
	e.mu.Unlock()
	return settings, nil
}

// Invalidate 逐出缓存的设置（配置更新后调用）
func (e *Engine) Invalidate(agentID string) {
	e.mu.Lock()
	delete(e.cache, agentID)
	e.mu.Unlock()
}

// Resolve 解析某个 agent 收到某条消息时的自治级别
func (e *Engine) Resolve(ctx context.Context, agentID string, env *protocol.Envelope, extra map[string]any) (protocol.AutonomyLevel, error) {
	settings, err := e.Settings(ctx, agentID)
	if err != nil {
		return "", err
	}
	return settings.Resolve(env, extra), nil
}

// IsDisabled 该 agent 是否拒绝这条消息
func (e *Engine) IsDisabled(ctx context.Context, agentID string, env *protocol.Envelope, extra map[string]any) (bool, error) {
	level, err := e.Resolve(ctx, agentID, env, extra)
	if err != nil {
		return false, err
	}
	return level.IsDisabled(), nil
}

// RequiresApproval 该消息是否需要人工审批
func (e *Engine) RequiresApproval(ctx context.Context, agentID string, env *protocol.Envelope, extra map[string]any) (bool, error) {
	level, err := e.Resolve(ctx, agentID, env, extra)
	if err != nil {
		return false, err
	}
	return level.RequiresApproval(), nil
}

// CanAutoExecute 该消息是否可以自动执行
func (e *Engine) CanAutoExecute(ctx context.Context, agentID string, env *protocol.Envelope, extra map[string]any) (bool, error) {
	level, err := e.Resolve(ctx, agentID, env, extra)
	if err != nil {
		return false, err
	}
	return level.CanAutoExecute(), nil
}
