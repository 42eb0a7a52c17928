package validation

import (
	"fmt"
	"strings"
	"sync"

	"paiaHub/internal/protocol"
)

// FieldSpec 描述载荷中单个字段的结构要求
type FieldSpec struct {
	Type     string // string / number / bool / object / array
	Required bool
}

// Schema 某一消息类型的载荷结构
type Schema struct {
	Fields map[string]FieldSpec
}

// Validator 对信封做两段式结构校验：
// 第一段检查信封本身的必备字段，失败一律拒绝；
// 第二段按消息类型查找载荷 schema，未注册的类型跳过第二段，
// 这样新能力可以在不更新 schema 的情况下引入。
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewValidator 创建校验器并注册内置消息类型的 schema
func NewValidator() *Validator {
	v := &Validator{schemas: make(map[string]*Schema)}

	// 聊天消息
	v.RegisterSchema(protocol.TypeChatMessage, &Schema{
		Fields: map[string]FieldSpec{
			"content": {Type: "string", Required: true},
			"format":  {Type: "string"},
		},
	})

	// 日程协商请求
	v.RegisterSchema("paia.schedule.request", &Schema{
		Fields: map[string]FieldSpec{
			"title":          {Type: "string", Required: true},
			"proposed_times": {Type: "array", Required: true},
			"location":       {Type: "string"},
		},
	})

	// 路由错误回执
	v.RegisterSchema(protocol.TypeError, &Schema{
		Fields: map[string]FieldSpec{
			"code":    {Type: "string", Required: true},
			"message": {Type: "string", Required: true},
			"ref":     {Type: "string"},
		},
	})

	return v
}

// RegisterSchema 注册某消息类型的载荷 schema
func (v *Validator) RegisterSchema(messageType string, schema *Schema) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[messageType] = schema
}

// Validate 校验信封结构。全有或全无：任何一处不合法整条消息拒绝，无副作用。
func (v *Validator) Validate(env *protocol.Envelope) error {
	if env == nil {
		return fmt.Errorf("envelope: 信封为空")
	}

	// 第一段：信封结构
	if env.Type == "" {
		return fmt.Errorf("type: 字段缺失")
	}
	if !strings.Contains(env.Type, ".") {
		return fmt.Errorf("type: 期望点分命名空间（如 paia.chat.message），实际为 %q", env.Type)
	}
	if env.FromAgentID == "" {
		return fmt.Errorf("from_agent_id: 字段缺失")
	}
	if env.ToAgentID == "" {
		return fmt.Errorf("to_agent_id: 字段缺失")
	}
	if env.Payload == nil {
		return fmt.Errorf("payload: 字段缺失")
	}
	if env.Metadata.MessageID == "" {
		return fmt.Errorf("metadata.message_id: 字段缺失")
	}
	if env.Metadata.Timestamp == "" {
		return fmt.Errorf("metadata.timestamp: 字段缺失")
	}
	if env.Metadata.ProtocolVersion == "" {
		return fmt.Errorf("metadata.protocol_version: 字段缺失")
	}
	if env.Metadata.TTLSeconds < 0 {
		return fmt.Errorf("metadata.ttl_seconds: 期望非负整数，实际为 %d", env.Metadata.TTLSeconds)
	}

	// 第二段：按类型查找载荷 schema，未注册则跳过
	v.mu.RLock()
	schema, ok := v.schemas[env.Type]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	return v.validatePayload(env.Type, env.Payload, schema)
}

// validatePayload 按 schema 校验载荷字段
func (v *Validator) validatePayload(messageType string, payload map[string]any, schema *Schema) error {
	for name, spec := range schema.Fields {
		value, present := payload[name]
		if !present {
			if spec.Required {
				return fmt.Errorf("payload.%s: 字段缺失（%s 类型要求该字段）", name, messageType)
			}
			continue
		}
		if !matchesType(value, spec.Type) {
			return fmt.Errorf("payload.%s: 期望 %s，实际为 %T", name, spec.Type, value)
		}
	}
	return nil
}

// matchesType 判断 JSON 解码后的值是否符合期望类型
func matchesType(value any, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	}
	return false
}
