package protocol

import "testing"

// --- 会话ID推导 ---

func TestConversationIDSymmetric(t *testing.T) {
	a := ConversationID("agent-alice", "agent-bob")
	b := ConversationID("agent-bob", "agent-alice")
	if a != b {
		t.Errorf("ConversationID 不对称: %q vs %q", a, b)
	}
	if a != "agent-alice_agent-bob" {
		t.Errorf("ConversationID = %q, want %q", a, "agent-alice_agent-bob")
	}
}

func TestConversationIDDeterministic(t *testing.T) {
	first := ConversationID("x", "y")
	for i := 0; i < 10; i++ {
		if got := ConversationID("x", "y"); got != first {
			t.Fatalf("第 %d 次推导结果变化: %q vs %q", i, got, first)
		}
	}
}

// --- 信封归一化 ---

func TestNormalizeFillsMissingMetadata(t *testing.T) {
	env := &Envelope{
		Type:        TypeChatMessage,
		FromAgentID: "a",
		ToAgentID:   "b",
		Payload:     map[string]any{"content": "hi"},
	}
	env.Normalize()

	if env.Metadata.MessageID == "" {
		t.Error("Normalize 后 MessageID 仍为空")
	}
	if env.Metadata.Timestamp == "" {
		t.Error("Normalize 后 Timestamp 仍为空")
	}
	if env.Metadata.ProtocolVersion != Version {
		t.Errorf("ProtocolVersion = %q, want %q", env.Metadata.ProtocolVersion, Version)
	}
}

func TestNormalizeKeepsExistingMessageID(t *testing.T) {
	env := &Envelope{
		Type:     TypeChatMessage,
		Metadata: Metadata{MessageID: "fixed-id"},
	}
	env.Normalize()

	if env.Metadata.MessageID != "fixed-id" {
		t.Errorf("MessageID = %q, want %q", env.Metadata.MessageID, "fixed-id")
	}
}

// --- 自治级别解析 ---

func TestParseAutonomyLevelValid(t *testing.T) {
	for _, s := range []string{"full_auto", "supervised", "manual", "disabled"} {
		level, err := ParseAutonomyLevel(s)
		if err != nil {
			t.Errorf("ParseAutonomyLevel(%q) 报错: %v", s, err)
		}
		if string(level) != s {
			t.Errorf("ParseAutonomyLevel(%q) = %q", s, level)
		}
	}
}

func TestParseAutonomyLevelRejectsUnknown(t *testing.T) {
	for _, s := range []string{"", "auto", "FULL_AUTO", "full-auto", "none"} {
		if _, err := ParseAutonomyLevel(s); err == nil {
			t.Errorf("ParseAutonomyLevel(%q) 应该报错", s)
		}
	}
}

func TestAutonomyLevelViews(t *testing.T) {
	if !LevelFullAuto.CanAutoExecute() {
		t.Error("full_auto 应该可以自动执行")
	}
	if LevelSupervised.CanAutoExecute() {
		t.Error("supervised 不应自动执行")
	}
	if !LevelSupervised.RequiresApproval() || !LevelManual.RequiresApproval() {
		t.Error("supervised 和 manual 都应需要审批")
	}
	if LevelFullAuto.RequiresApproval() || LevelDisabled.RequiresApproval() {
		t.Error("full_auto 和 disabled 不应需要审批")
	}
	if !LevelDisabled.IsDisabled() {
		t.Error("disabled 应被视为禁用")
	}
	if LevelManual.IsDisabled() {
		t.Error("manual 不应被视为禁用")
	}
}
