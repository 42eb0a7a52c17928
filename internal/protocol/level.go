package protocol

import "fmt"

// AutonomyLevel 自治级别，决定收到的消息是自动执行、需要审批、仅通知还是拒绝
type AutonomyLevel string

const (
	LevelFullAuto   AutonomyLevel = "full_auto"
	LevelSupervised AutonomyLevel = "supervised"
	LevelManual     AutonomyLevel = "manual"
	LevelDisabled   AutonomyLevel = "disabled"
)

// ParseAutonomyLevel 解析自治级别，未识别的值直接拒绝
func ParseAutonomyLevel(s string) (AutonomyLevel, error) {
	switch AutonomyLevel(s) {
	case LevelFullAuto, LevelSupervised, LevelManual, LevelDisabled:
		return AutonomyLevel(s), nil
	}
	return "", fmt.Errorf("未知的自治级别: %q", s)
}

// CanAutoExecute 是否可以自动执行
func (l AutonomyLevel) CanAutoExecute() bool {
	return l == LevelFullAuto
}

// RequiresApproval 是否需要人工审批
func (l AutonomyLevel) RequiresApproval() bool {
	return l == LevelSupervised || l == LevelManual
}

// IsDisabled 是否拒绝该类消息
func (l AutonomyLevel) IsDisabled() bool {
	return l == LevelDisabled
}
