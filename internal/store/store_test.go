package store

import (
	"context"
	"testing"
	"time"

	"paiaHub/internal/discovery"
	"paiaHub/internal/model"
	"paiaHub/internal/protocol"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB 每个测试一个独立的内存数据库
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	if err := model.SetupDatabase(db); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	return db
}

func testEnvelope(from, to, content string) *protocol.Envelope {
	env := &protocol.Envelope{
		Type:        protocol.TypeChatMessage,
		FromAgentID: from,
		ToAgentID:   to,
		Payload:     map[string]any{"content": content},
		Metadata: protocol.Metadata{
			ConversationID: protocol.ConversationID(from, to),
		},
	}
	env.Normalize()
	return env
}

// --- 消息持久化 ---

func TestSaveAndUpdateMessageStatus(t *testing.T) {
	s := NewMessageStore(testDB(t))
	ctx := context.Background()

	env := testEnvelope("agent-a", "agent-b", "你好")
	if err := s.SaveMessage(ctx, env, protocol.StatusSent); err != nil {
		t.Fatalf("SaveMessage 报错: %v", err)
	}

	for _, status := range []string{protocol.StatusPending, protocol.StatusDelivered, protocol.StatusRead} {
		if err := s.UpdateMessageStatus(ctx, env.Metadata.MessageID, status); err != nil {
			t.Fatalf("更新状态为 %s 失败: %v", status, err)
		}
	}
}

func TestUpdateMessageStatusUnknownID(t *testing.T) {
	s := NewMessageStore(testDB(t))
	if err := s.UpdateMessageStatus(context.Background(), "no-such-id", protocol.StatusDelivered); err == nil {
		t.Error("更新不存在的消息应报错")
	}
}

func TestGetPendingMessagesFIFO(t *testing.T) {
	s := NewMessageStore(testDB(t))
	ctx := context.Background()

	var ids []string
	for _, content := range []string{"第一条", "第二条", "第三条"} {
		env := testEnvelope("agent-a", "agent-b", content)
		if err := s.SaveMessage(ctx, env, protocol.StatusPending); err != nil {
			t.Fatalf("SaveMessage 报错: %v", err)
		}
		ids = append(ids, env.Metadata.MessageID)
		time.Sleep(time.Millisecond)
	}

	// 混入其他 agent 和其他状态的消息
	other := testEnvelope("agent-a", "agent-c", "无关")
	s.SaveMessage(ctx, other, protocol.StatusPending)
	delivered := testEnvelope("agent-a", "agent-b", "已投递")
	s.SaveMessage(ctx, delivered, protocol.StatusDelivered)

	pending, err := s.GetPendingMessages(ctx, []string{"agent-b"})
	if err != nil {
		t.Fatalf("GetPendingMessages 报错: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("待投递消息数 = %d, want 3", len(pending))
	}
	for i, env := range pending {
		if env.Metadata.MessageID != ids[i] {
			t.Errorf("投递顺序[%d] = %s, want %s", i, env.Metadata.MessageID, ids[i])
		}
	}
	// 载荷完整还原
	if pending[0].Payload["content"] != "第一条" {
		t.Errorf("载荷 = %v, want %q", pending[0].Payload["content"], "第一条")
	}
}

func TestGetPendingMessagesEmptyAgentList(t *testing.T) {
	s := NewMessageStore(testDB(t))
	pending, err := s.GetPendingMessages(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetPendingMessages 报错: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("空 agent 列表应返回空结果，got %d 条", len(pending))
	}
}

// --- 会话 ---

func TestGetOrCreateConversationIdempotentAndSymmetric(t *testing.T) {
	s := NewMessageStore(testDB(t))
	ctx := context.Background()

	first, err := s.GetOrCreateConversation(ctx, "agent-b", "agent-a")
	if err != nil {
		t.Fatalf("GetOrCreateConversation 报错: %v", err)
	}
	second, err := s.GetOrCreateConversation(ctx, "agent-a", "agent-b")
	if err != nil {
		t.Fatalf("第二次 GetOrCreateConversation 报错: %v", err)
	}
	if first != second {
		t.Errorf("会话ID不对称: %q vs %q", first, second)
	}

	var count int64
	s.db.Model(&model.Conversation{}).Count(&count)
	if count != 1 {
		t.Errorf("会话记录数 = %d, want 1", count)
	}
}

func TestGetConversationMessagesOrderedAscending(t *testing.T) {
	s := NewMessageStore(testDB(t))
	ctx := context.Background()

	convID := protocol.ConversationID("agent-a", "agent-b")
	for _, content := range []string{"旧", "中", "新"} {
		env := testEnvelope("agent-a", "agent-b", content)
		s.SaveMessage(ctx, env, protocol.StatusDelivered)
		time.Sleep(time.Millisecond)
	}

	messages, err := s.GetConversationMessages(ctx, convID, 10)
	if err != nil {
		t.Fatalf("GetConversationMessages 报错: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("消息数 = %d, want 3", len(messages))
	}
	if messages[0].Payload["content"] != "旧" || messages[2].Payload["content"] != "新" {
		t.Errorf("消息未按时间正序返回: %v, %v",
			messages[0].Payload["content"], messages[2].Payload["content"])
	}
}

func TestGetConversationMessagesLimitKeepsNewest(t *testing.T) {
	s := NewMessageStore(testDB(t))
	ctx := context.Background()

	convID := protocol.ConversationID("agent-a", "agent-b")
	for _, content := range []string{"1", "2", "3", "4"} {
		env := testEnvelope("agent-a", "agent-b", content)
		s.SaveMessage(ctx, env, protocol.StatusDelivered)
		time.Sleep(time.Millisecond)
	}

	messages, err := s.GetConversationMessages(ctx, convID, 2)
	if err != nil {
		t.Fatalf("GetConversationMessages 报错: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("消息数 = %d, want 2", len(messages))
	}
	if messages[0].Payload["content"] != "3" || messages[1].Payload["content"] != "4" {
		t.Errorf("limit 应保留最新的消息: %v, %v",
			messages[0].Payload["content"], messages[1].Payload["content"])
	}
}

func TestMarkConversationRead(t *testing.T) {
	s := NewMessageStore(testDB(t))
	ctx := context.Background()

	convID := protocol.ConversationID("agent-a", "agent-b")
	delivered := testEnvelope("agent-a", "agent-b", "已投递")
	s.SaveMessage(ctx, delivered, protocol.StatusDelivered)
	pending := testEnvelope("agent-a", "agent-b", "挂起中")
	s.SaveMessage(ctx, pending, protocol.StatusPending)
	reverse := testEnvelope("agent-b", "agent-a", "反向")
	s.SaveMessage(ctx, reverse, protocol.StatusDelivered)

	if err := s.MarkConversationRead(ctx, convID, "agent-b"); err != nil {
		t.Fatalf("MarkConversationRead 报错: %v", err)
	}

	var rows []model.Message
	s.db.Find(&rows)
	statuses := make(map[string]string)
	for _, r := range rows {
		statuses[r.ID] = r.Status
	}

	if statuses[delivered.Metadata.MessageID] != protocol.StatusRead {
		t.Errorf("delivered 消息应转为 read，got %q", statuses[delivered.Metadata.MessageID])
	}
	// pending 不经过 delivered 不能直接到 read
	if statuses[pending.Metadata.MessageID] != protocol.StatusPending {
		t.Errorf("pending 消息不应被标记已读，got %q", statuses[pending.Metadata.MessageID])
	}
	// 反方向的消息不受影响
	if statuses[reverse.Metadata.MessageID] != protocol.StatusDelivered {
		t.Errorf("反向消息不应被标记已读，got %q", statuses[reverse.Metadata.MessageID])
	}
}

// --- 目录 ---

func seedAgent(t *testing.T, db *gorm.DB, id, userID string, isPublic bool) {
	t.Helper()
	err := db.Create(&model.Agent{
		ID:          id,
		UserID:      userID,
		DisplayName: "测试 agent",
		Expertise:   `["scheduling","travel"]`,
		Status:      "offline",
		IsPublic:    isPublic,
	}).Error
	if err != nil {
		t.Fatalf("写入 agent 失败: %v", err)
	}
}

func TestDirectoryGetAgentNormalizes(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, "agent-x", "user-1", true)
	db.Create(&model.AgentCapability{
		ID: uuid.New().String(), AgentID: "agent-x",
		Name: "schedule", MessageType: "paia.schedule.request",
		AutonomyLevel: "full_auto",
	})
	db.Create(&model.AgentCapability{
		ID: uuid.New().String(), AgentID: "agent-x",
		Name: "chat", MessageType: "paia.chat.message",
		AutonomyLevel: "这不是级别", // 坏数据回退为 supervised
	})

	s := NewDirectoryStore(db)
	profile, err := s.GetAgent(context.Background(), "agent-x")
	if err != nil {
		t.Fatalf("GetAgent 报错: %v", err)
	}

	if profile.OwnerUserID != "user-1" {
		t.Errorf("OwnerUserID = %q, want %q", profile.OwnerUserID, "user-1")
	}
	if len(profile.Expertise) != 2 || profile.Expertise[0] != "scheduling" {
		t.Errorf("Expertise = %v", profile.Expertise)
	}
	if len(profile.Capabilities) != 2 {
		t.Fatalf("能力数 = %d, want 2", len(profile.Capabilities))
	}
	for _, c := range profile.Capabilities {
		if c.Name == "chat" && c.AutonomyLevel != protocol.LevelSupervised {
			t.Errorf("坏级别应回退为 supervised，got %q", c.AutonomyLevel)
		}
	}
}

func TestDirectoryGetAgentNotFound(t *testing.T) {
	s := NewDirectoryStore(testDB(t))
	_, err := s.GetAgent(context.Background(), "agent-ghost")
	if err != discovery.ErrAgentNotFound {
		t.Errorf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestDirectoryConnectionsBothDirections(t *testing.T) {
	db := testDB(t)
	db.Create(&model.SocialConnection{
		ID: uuid.New().String(), RequesterID: "user-1", RecipientID: "user-2", Status: "accepted",
	})
	db.Create(&model.SocialConnection{
		ID: uuid.New().String(), RequesterID: "user-3", RecipientID: "user-1", Status: "pending",
	})

	s := NewDirectoryStore(db)
	all, err := s.GetUserConnections(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("GetUserConnections 报错: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("连接数 = %d, want 2（两个方向都算）", len(all))
	}

	accepted, _ := s.GetUserConnections(context.Background(), "user-1", "accepted")
	if len(accepted) != 1 {
		t.Errorf("已接受连接数 = %d, want 1", len(accepted))
	}
}

// --- 自治设置加载 ---

func TestAutonomyStoreDefaultsWhenMissing(t *testing.T) {
	s := NewAutonomyStore(testDB(t))
	settings, err := s.GetAutonomySettings(context.Background(), "agent-x")
	if err != nil {
		t.Fatalf("GetAutonomySettings 报错: %v", err)
	}
	if settings.DefaultLevel != protocol.LevelSupervised {
		t.Errorf("DefaultLevel = %q, want %q", settings.DefaultLevel, protocol.LevelSupervised)
	}
	if len(settings.Rules()) != 0 {
		t.Errorf("规则数 = %d, want 0", len(settings.Rules()))
	}
}

func TestAutonomyStoreLoadsRulesInSeqOrder(t *testing.T) {
	db := testDB(t)
	db.Create(&model.AutonomySetting{
		ID: uuid.New().String(), AgentID: "agent-x", DefaultLevel: "manual",
	})
	// 同优先级两条规则，seq 决定先后
	db.Create(&model.AutonomyRule{
		ID: "rule-1", AgentID: "agent-x",
		Predicate: `{"all":[{"field":"message_type","op":"prefix","value":"paia."}]}`,
		Level:     "full_auto", Priority: 10, Seq: 0,
	})
	db.Create(&model.AutonomyRule{
		ID: "rule-2", AgentID: "agent-x",
		Predicate: `{"all":[{"field":"message_type","op":"prefix","value":"paia."}]}`,
		Level:     "disabled", Priority: 10, Seq: 1,
	})

	s := NewAutonomyStore(db)
	settings, err := s.GetAutonomySettings(context.Background(), "agent-x")
	if err != nil {
		t.Fatalf("GetAutonomySettings 报错: %v", err)
	}
	if settings.DefaultLevel != protocol.LevelManual {
		t.Errorf("DefaultLevel = %q, want %q", settings.DefaultLevel, protocol.LevelManual)
	}

	env := &protocol.Envelope{Type: protocol.TypeChatMessage, FromAgentID: "agent-a", Payload: map[string]any{}}
	env.Normalize()
	if got := settings.Resolve(env, nil); got != protocol.LevelFullAuto {
		t.Errorf("Resolve = %q, want %q（seq 较小的规则胜出）", got, protocol.LevelFullAuto)
	}
}

func TestAutonomyStoreBadPredicateNeverMatches(t *testing.T) {
	db := testDB(t)
	db.Create(&model.AutonomyRule{
		ID: "rule-bad", AgentID: "agent-x",
		Predicate: `{坏数据`, Level: "disabled", Priority: 100, Seq: 0,
	})

	s := NewAutonomyStore(db)
	settings, err := s.GetAutonomySettings(context.Background(), "agent-x")
	if err != nil {
		t.Fatalf("GetAutonomySettings 报错: %v", err)
	}

	env := &protocol.Envelope{Type: protocol.TypeChatMessage, FromAgentID: "agent-a", Payload: map[string]any{}}
	env.Normalize()
	if got := settings.Resolve(env, nil); got != protocol.LevelSupervised {
		t.Errorf("Resolve = %q, want 默认级别（坏谓词永不匹配）", got)
	}
}

func TestNextRuleSeq(t *testing.T) {
	db := testDB(t)
	s := NewAutonomyStore(db)
	ctx := context.Background()

	seq, err := s.NextRuleSeq(ctx, "agent-x")
	if err != nil {
		t.Fatalf("NextRuleSeq 报错: %v", err)
	}
	if seq != 0 {
		t.Errorf("首条规则 seq = %d, want 0", seq)
	}

	db.Create(&model.AutonomyRule{ID: "r1", AgentID: "agent-x", Predicate: "{}", Level: "manual", Seq: 0})
	db.Create(&model.AutonomyRule{ID: "r2", AgentID: "agent-x", Predicate: "{}", Level: "manual", Seq: 1})

	seq, err = s.NextRuleSeq(ctx, "agent-x")
	if err != nil {
		t.Fatalf("NextRuleSeq 报错: %v", err)
	}
	if seq != 2 {
		t.Errorf("seq = %d, want 2", seq)
	}
}
