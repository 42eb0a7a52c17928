package autonomy

import (
	"context"
	"errors"
	"testing"

	"paiaHub/internal/protocol"
)

func chatEnvelope(from string) *protocol.Envelope {
	env := &protocol.Envelope{
		Type:        protocol.TypeChatMessage,
		FromAgentID: from,
		ToAgentID:   "agent-target",
		Payload:     map[string]any{"content": "hi"},
	}
	env.Normalize()
	return env
}

func mustPredicate(t *testing.T, raw string) *Predicate {
	t.Helper()
	p, err := ParsePredicate(raw)
	if err != nil {
		t.Fatalf("解析谓词失败: %v", err)
	}
	return p
}

// --- 规则排序与求值 ---

func TestResolveDefaultLevelWhenNoRules(t *testing.T) {
	s := NewSettings("agent-target", protocol.LevelSupervised)
	if got := s.Resolve(chatEnvelope("agent-a"), nil); got != protocol.LevelSupervised {
		t.Errorf("Resolve = %q, want %q", got, protocol.LevelSupervised)
	}
}

func TestResolveHighestPriorityWins(t *testing.T) {
	s := NewSettings("agent-target", protocol.LevelSupervised)
	matchAll := `{"all":[{"field":"message_type","op":"prefix","value":"paia."}]}`

	s.AddRule(&Rule{ID: "low", Predicate: mustPredicate(t, matchAll), Level: protocol.LevelManual, Priority: 5})
	s.AddRule(&Rule{ID: "high", Predicate: mustPredicate(t, matchAll), Level: protocol.LevelFullAuto, Priority: 10})

	if got := s.Resolve(chatEnvelope("agent-a"), nil); got != protocol.LevelFullAuto {
		t.Errorf("Resolve = %q, want %q（高优先级规则应胜出）", got, protocol.LevelFullAuto)
	}
}

func TestResolveTieBreakFirstAdded(t *testing.T) {
	s := NewSettings("agent-target", protocol.LevelSupervised)
	matchAll := `{"all":[{"field":"message_type","op":"prefix","value":"paia."}]}`

	s.AddRule(&Rule{ID: "first", Predicate: mustPredicate(t, matchAll), Level: protocol.LevelFullAuto, Priority: 10})
	s.AddRule(&Rule{ID: "second", Predicate: mustPredicate(t, matchAll), Level: protocol.LevelDisabled, Priority: 10})
	s.AddRule(&Rule{ID: "lower", Predicate: mustPredicate(t, matchAll), Level: protocol.LevelManual, Priority: 5})

	if got := s.Resolve(chatEnvelope("agent-a"), nil); got != protocol.LevelFullAuto {
		t.Errorf("Resolve = %q, want %q（同优先级先加入者胜出）", got, protocol.LevelFullAuto)
	}

	rules := s.Rules()
	ids := []string{rules[0].ID, rules[1].ID, rules[2].ID}
	want := []string{"first", "second", "lower"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("规则顺序[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestResolveSkipsNonMatchingRules(t *testing.T) {
	s := NewSettings("agent-target", protocol.LevelSupervised)

	s.AddRule(&Rule{
		ID:        "bob-only",
		Predicate: mustPredicate(t, `{"all":[{"field":"from_agent_id","op":"eq","value":"agent-bob"}]}`),
		Level:     protocol.LevelFullAuto,
		Priority:  10,
	})

	if got := s.Resolve(chatEnvelope("agent-alice"), nil); got != protocol.LevelSupervised {
		t.Errorf("Resolve = %q, want 默认级别 %q", got, protocol.LevelSupervised)
	}
	if got := s.Resolve(chatEnvelope("agent-bob"), nil); got != protocol.LevelFullAuto {
		t.Errorf("Resolve = %q, want %q", got, protocol.LevelFullAuto)
	}
}

func TestResolveNilPredicateRuleNeverMatches(t *testing.T) {
	// 持久化的谓词不可解析时规则以 nil 谓词加载，永远不匹配
	s := NewSettings("agent-target", protocol.LevelSupervised)
	s.AddRule(&Rule{ID: "broken", Predicate: nil, Level: protocol.LevelDisabled, Priority: 100})

	if got := s.Resolve(chatEnvelope("agent-a"), nil); got != protocol.LevelSupervised {
		t.Errorf("Resolve = %q, want %q（坏谓词不应影响路由）", got, protocol.LevelSupervised)
	}
}

func TestResolveExtraContext(t *testing.T) {
	s := NewSettings("agent-target", protocol.LevelSupervised)
	s.AddRule(&Rule{
		ID:        "trusted-user",
		Predicate: mustPredicate(t, `{"all":[{"field":"context.sender_user_id","op":"eq","value":"user-1"}]}`),
		Level:     protocol.LevelFullAuto,
		Priority:  1,
	})

	got := s.Resolve(chatEnvelope("agent-a"), map[string]any{"sender_user_id": "user-1"})
	if got != protocol.LevelFullAuto {
		t.Errorf("Resolve = %q, want %q", got, protocol.LevelFullAuto)
	}
}

func TestRemoveRule(t *testing.T) {
	s := NewSettings("agent-target", protocol.LevelSupervised)
	matchAll := `{"all":[{"field":"message_type","op":"prefix","value":"paia."}]}`
	s.AddRule(&Rule{ID: "r1", Predicate: mustPredicate(t, matchAll), Level: protocol.LevelDisabled, Priority: 1})

	if !s.RemoveRule("r1") {
		t.Error("RemoveRule 应返回 true")
	}
	if s.RemoveRule("r1") {
		t.Error("重复移除应返回 false")
	}
	if got := s.Resolve(chatEnvelope("agent-a"), nil); got != protocol.LevelSupervised {
		t.Errorf("移除规则后 Resolve = %q, want %q", got, protocol.LevelSupervised)
	}
}

// --- 引擎缓存 ---

type fakeProvider struct {
	loads    int
	settings map[string]*Settings
	err      error
}

func (f *fakeProvider) GetAutonomySettings(ctx context.Context, agentID string) (*Settings, error) {
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.settings[agentID]; ok {
		return s, nil
	}
	return NewSettings(agentID, protocol.LevelSupervised), nil
}

func TestEngineCachesSettings(t *testing.T) {
	provider := &fakeProvider{settings: map[string]*Settings{}}
	engine := NewEngine(provider)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := engine.Resolve(ctx, "agent-x", chatEnvelope("agent-a"), nil); err != nil {
			t.Fatalf("Resolve 报错: %v", err)
		}
	}
	if provider.loads != 1 {
		t.Errorf("Provider 加载次数 = %d, want 1", provider.loads)
	}
}

func TestEngineInvalidateReloads(t *testing.T) {
	provider := &fakeProvider{settings: map[string]*Settings{}}
	engine := NewEngine(provider)

	ctx := context.Background()
	engine.Resolve(ctx, "agent-x", chatEnvelope("agent-a"), nil)
	engine.Invalidate("agent-x")
	engine.Resolve(ctx, "agent-x", chatEnvelope("agent-a"), nil)

	if provider.loads != 2 {
		t.Errorf("Provider 加载次数 = %d, want 2", provider.loads)
	}
}

func TestEngineProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("数据库不可用")}
	engine := NewEngine(provider)

	if _, err := engine.Resolve(context.Background(), "agent-x", chatEnvelope("agent-a"), nil); err == nil {
		t.Error("Provider 失败时 Resolve 应报错")
	}
}

func TestEngineLevelViews(t *testing.T) {
	disabled := NewSettings("agent-x", protocol.LevelDisabled)
	provider := &fakeProvider{settings: map[string]*Settings{"agent-x": disabled}}
	engine := NewEngine(provider)

	ctx := context.Background()
	env := chatEnvelope("agent-a")

	isDisabled, err := engine.IsDisabled(ctx, "agent-x", env, nil)
	if err != nil || !isDisabled {
		t.Errorf("IsDisabled = (%v, %v), want (true, nil)", isDisabled, err)
	}
	canAuto, err := engine.CanAutoExecute(ctx, "agent-x", env, nil)
	if err != nil || canAuto {
		t.Errorf("CanAutoExecute = (%v, %v), want (false, nil)", canAuto, err)
	}
}
