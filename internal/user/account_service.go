package user

import (
	"context"
	"errors"
	"log"
	"time"

	"paiaHub/internal/database"
	"paiaHub/internal/discovery"
	"paiaHub/internal/middleware"
	"paiaHub/internal/model"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AccountService struct {
	db *gorm.DB
}

func NewAccountService() *AccountService {
	return &AccountService{
		db: database.GetDB(),
	}
}

// Register 注册新用户
func (s *AccountService) Register(ctx context.Context, req *RegisterRequest) (string, error) {
	// 检查用户名是否已存在
	var count int64
	if err := s.db.Model(&model.User{}).Where("username = ?", req.Username).Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return "", errors.New("用户名已存在")
	}

	// 哈希密码
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	user := model.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Password:  string(hashedPassword),
		Nickname:  req.Nickname,
		AvatarURL: req.AvatarURL,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.db.Create(&user).Error; err != nil {
		return "", err
	}

	return user.ID, nil
}

// Login 用户登录
func (s *AccountService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	var user model.User
	if err := s.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("用户不存在")
		}
		log.Printf("查询用户时数据库错误: %v", err)
		return nil, err
	}

	// 验证密码
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, errors.New("密码错误")
	}

	token, err := middleware.GenerateToken(user.ID)
	if err != nil {
		log.Printf("生成令牌失败: %v", err)
		return nil, err
	}

	log.Printf("用户 %s (ID: %s) 登录成功", user.Username, user.ID)
	return &LoginResponse{
		UserID: user.ID,
		Token:  token,
	}, nil
}

// GetUserByID 通过ID获取用户
func (s *AccountService) GetUserByID(ctx context.Context, userID string) (*UserResponse, error) {
	var user model.User
	if err := s.db.Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("用户不存在")
		}
		return nil, err
	}

	return &UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Nickname:  user.Nickname,
		AvatarURL: user.AvatarURL,
		CreatedAt: user.CreatedAt,
	}, nil
}

// RequestConnection 发起社交连接请求，初始状态 pending
func (s *AccountService) RequestConnection(ctx context.Context, requesterID, recipientID string) (string, error) {
	if requesterID == recipientID {
		return "", errors.New("不能连接自己")
	}

	// 对方必须存在
	var recipient model.User
	if err := s.db.Where("id = ?", recipientID).First(&recipient).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errors.New("用户不存在")
		}
		return "", err
	}

	// 双向查重：任一方向已有非 rejected 连接时不再创建
	var existing model.SocialConnection
	err := s.db.Where(
		"((requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?)) AND status != ?",
		requesterID, recipientID, recipientID, requesterID, discovery.ConnectionRejected,
	).First(&existing).Error
	if err == nil {
		return "", errors.New("连接已存在")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	conn := model.SocialConnection{
		ID:          uuid.New().String(),
		RequesterID: requesterID,
		RecipientID: recipientID,
		Status:      discovery.ConnectionPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.db.Create(&conn).Error; err != nil {
		return "", err
	}

	log.Printf("用户 %s 向 %s 发起连接请求", requesterID, recipientID)
	return conn.ID, nil
}

// RespondToConnection 接受或拒绝连接请求。只有接收方可以应答。
func (s *AccountService) RespondToConnection(ctx context.Context, userID, connectionID string, accept bool) error {
	var conn model.SocialConnection
	if err := s.db.Where("id = ?", connectionID).First(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("连接请求不存在")
		}
		return err
	}

	if conn.RecipientID != userID {
		return errors.New("只有接收方可以应答连接请求")
	}
	if conn.Status != discovery.ConnectionPending {
		return errors.New("连接请求已处理")
	}

	newStatus := discovery.ConnectionRejected
	if accept {
		newStatus = discovery.ConnectionAccepted
	}

	return s.db.Model(&conn).Updates(map[string]any{
		"status":     newStatus,
		"updated_at": time.Now(),
	}).Error
}

// ListConnections 列出用户的连接，可按状态过滤
func (s *AccountService) ListConnections(ctx context.Context, userID, statusFilter string) ([]ConnectionResponse, error) {
	var rows []model.SocialConnection
	query := s.db.Where("requester_id = ? OR recipient_id = ?", userID, userID)
	if statusFilter != "" {
		query = query.Where("status = ?", statusFilter)
	}
	if err := query.Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]ConnectionResponse, 0, len(rows))
	for _, row := range rows {
		// 对端用户
		otherID := row.RecipientID
		if otherID == userID {
			otherID = row.RequesterID
		}

		var other model.User
		nickname := ""
		username := ""
		if err := s.db.Where("id = ?", otherID).First(&other).Error; err == nil {
			nickname = other.Nickname
			username = other.Username
		}

		out = append(out, ConnectionResponse{
			ID:            row.ID,
			RequesterID:   row.RequesterID,
			RecipientID:   row.RecipientID,
			Status:        row.Status,
			OtherUserID:   otherID,
			OtherUsername: username,
			OtherNickname: nickname,
		})
	}
	return out, nil
}

// SearchUsers 搜索用户
func (s *AccountService) SearchUsers(ctx context.Context, query string) ([]*UserResponse, error) {
	var users []model.User
	result := s.db.Where("username LIKE ? OR nickname LIKE ?",
		"%"+query+"%", "%"+query+"%").Find(&users)
	if result.Error != nil {
		return nil, result.Error
	}

	var response []*UserResponse
	for _, user := range users {
		response = append(response, &UserResponse{
			ID:        user.ID,
			Username:  user.Username,
			Nickname:  user.Nickname,
			AvatarURL: user.AvatarURL,
			CreatedAt: user.CreatedAt,
		})
	}
	return response, nil
}
