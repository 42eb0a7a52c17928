package user

import "time"

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required,min=6"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// UserResponse 用户信息
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectionRequest 发起连接请求
type ConnectionRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
}

// ConnectionRespondRequest 应答连接请求
type ConnectionRespondRequest struct {
	Accept bool `json:"accept"`
}

// ConnectionResponse 连接信息
type ConnectionResponse struct {
	ID            string `json:"id"`
	RequesterID   string `json:"requester_id"`
	RecipientID   string `json:"recipient_id"`
	Status        string `json:"status"`
	OtherUserID   string `json:"other_user_id"`
	OtherUsername string `json:"other_username"`
	OtherNickname string `json:"other_nickname"`
}
