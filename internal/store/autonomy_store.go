package store

import (
	"context"
	"errors"
	"log"

	"paiaHub/internal/autonomy"
	"paiaHub/internal/model"
	"paiaHub/internal/protocol"

	"gorm.io/gorm"
)

// AutonomyStore 自治设置的持久化来源，实现 autonomy.Provider
type AutonomyStore struct {
	db *gorm.DB
}

// NewAutonomyStore 创建自治设置存储
func NewAutonomyStore(db *gorm.DB) *AutonomyStore {
	return &AutonomyStore{db: db}
}

// GetAutonomySettings 加载 agent 的自治设置。没有记录时返回默认设置
// （supervised，无规则）。已持久化但解析失败的谓词保留为永不匹配的规则——
// 这和路由期的 fail-closed 行为一致，规则本身在配置入口就应该被拒绝。
func (s *AutonomyStore) GetAutonomySettings(ctx context.Context, agentID string) (*autonomy.Settings, error) {
	var row model.AutonomySetting
	defaultLevel := protocol.LevelSupervised

	err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&row).Error
	if err == nil {
		parsed, perr := protocol.ParseAutonomyLevel(row.DefaultLevel)
		if perr != nil {
			log.Printf("agent %s 的默认自治级别 %q 不合法，按 supervised 处理", agentID, row.DefaultLevel)
		} else {
			defaultLevel = parsed
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	settings := autonomy.NewSettings(agentID, defaultLevel)

	var ruleRows []model.AutonomyRule
	if err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("seq asc").
		Find(&ruleRows).Error; err != nil {
		return nil, err
	}

	for _, r := range ruleRows {
		level, err := protocol.ParseAutonomyLevel(r.Level)
		if err != nil {
			log.Printf("agent %s 的规则 %s 级别 %q 不合法，跳过", agentID, r.ID, r.Level)
			continue
		}
		predicate, err := autonomy.ParsePredicate(r.Predicate)
		if err != nil {
			// 永不匹配，但保留占位，方便配置界面暴露问题
			log.Printf("agent %s 的规则 %s 谓词不可解析: %v", agentID, r.ID, err)
			predicate = nil
		}
		settings.AddRule(&autonomy.Rule{
			ID:        r.ID,
			Predicate: predicate,
			Level:     level,
			Priority:  r.Priority,
		})
	}

	return settings, nil
}

// NextRuleSeq 返回该 agent 下一条规则的插入序号
func (s *AutonomyStore) NextRuleSeq(ctx context.Context, agentID string) (int, error) {
	var maxSeq int
	err := s.db.WithContext(ctx).Model(&model.AutonomyRule{}).
		Where("agent_id = ?", agentID).
		Select("COALESCE(MAX(seq), -1)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}
