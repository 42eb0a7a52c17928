package autonomy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// 谓词支持的操作符。这是一个封闭的小语言：字段相等、前缀、子串、
// 集合成员，由解释器求值，不提供任何通用表达式求值能力。
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpPrefix   = "prefix"
	OpContains = "contains"
	OpIn       = "in"
)

// Condition 单个条件，对求值上下文中的一个字段做判断。
// Field 是点分路径，如 message_type、from_agent_id、payload.content。
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Predicate 规则谓词。All 中的条件全部成立、或 Any 中任一条件成立时匹配；
// 两者都给出时要求同时满足。
type Predicate struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
}

// ParsePredicate 解析并校验谓词定义。不合法的定义在配置阶段就被拒绝。
func ParsePredicate(raw string) (*Predicate, error) {
	var p Predicate
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("谓词不是合法的 JSON: %w", err)
	}
	if len(p.All) == 0 && len(p.Any) == 0 {
		return nil, fmt.Errorf("谓词至少需要一个条件")
	}
	for _, c := range append(append([]Condition{}, p.All...), p.Any...) {
		if c.Field == "" {
			return nil, fmt.Errorf("谓词条件缺少 field")
		}
		switch c.Op {
		case OpEq, OpNeq, OpPrefix, OpContains, OpIn:
		default:
			return nil, fmt.Errorf("未知的谓词操作符: %q", c.Op)
		}
		if c.Op == OpIn {
			if _, ok := c.Value.([]any); !ok {
				return nil, fmt.Errorf("操作符 in 的 value 必须是数组")
			}
		}
	}
	return &p, nil
}

// Eval 对求值上下文求值。求值是纯函数，不改动消息或全局状态；
// 任何求值错误（字段不存在、类型不符）都按"不匹配"处理，绝不中断路由。
func (p *Predicate) Eval(ctx map[string]any) bool {
	if p == nil {
		return false
	}
	for _, c := range p.All {
		if !evalCondition(c, ctx) {
			return false
		}
	}
	if len(p.Any) > 0 {
		matched := false
		for _, c := range p.Any {
			if evalCondition(c, ctx) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// evalCondition 求值单个条件，失败即不匹配
func evalCondition(c Condition, ctx map[string]any) bool {
	value, ok := lookupField(ctx, c.Field)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return fmt.Sprint(value) == fmt.Sprint(c.Value)
	case OpNeq:
		return fmt.Sprint(value) != fmt.Sprint(c.Value)
	case OpPrefix:
		s, ok := value.(string)
		want, ok2 := c.Value.(string)
		return ok && ok2 && strings.HasPrefix(s, want)
	case OpContains:
		s, ok := value.(string)
		want, ok2 := c.Value.(string)
		return ok && ok2 && strings.Contains(s, want)
	case OpIn:
		members, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, m := range members {
			if fmt.Sprint(value) == fmt.Sprint(m) {
				return true
			}
		}
		return false
	}
	return false
}

// lookupField 按点分路径在上下文中取值
func lookupField(ctx map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = ctx
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
