package protocol

// 路由错误码。步骤 1-5 的拒绝对单条消息都是终态，引擎本身不重试。
const (
	CodeInvalidSchema          = "INVALID_SCHEMA"           // 信封或载荷不合法
	CodeUnauthorized           = "UNAUTHORIZED"             // 发送方不拥有 from_agent_id
	CodeAgentNotFound          = "AGENT_NOT_FOUND"          // 接收 agent 不存在
	CodeNotConnected           = "NOT_CONNECTED"            // 双方所有者没有已接受的社交连接
	CodeNotPublic              = "NOT_PUBLIC"               // 目标 agent 非公开且请求者不是所有者
	CodeCapabilityNotSupported = "CAPABILITY_NOT_SUPPORTED" // 接收方对该消息类型设置了 disabled
	CodeInternalError          = "INTERNAL_ERROR"           // 持久化/推送/应答器异常
)

// RouteError 带错误码的路由错误
type RouteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RouteError) Error() string {
	return e.Code + ": " + e.Message
}

// NewRouteError 创建路由错误
func NewRouteError(code, message string) *RouteError {
	return &RouteError{Code: code, Message: message}
}

// RouteResult RouteMessage 的调用结果
type RouteResult struct {
	Success   bool        `json:"success"`
	MessageID string      `json:"message_id,omitempty"`
	Status    string      `json:"status,omitempty"` // sent / pending / delivered
	Error     *RouteError `json:"error,omitempty"`
}
