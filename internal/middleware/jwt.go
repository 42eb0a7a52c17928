package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paiaHub/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWT 中间件验证 token，通过后把验证过的用户ID放进上下文。
// 路由引擎信任这里产出的身份，消息归属检查以它为准。
func JWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从请求头获取 token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "未提供认证token"})
			c.Abort()
			return
		}

		// 验证 token 格式
		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的token格式"})
			c.Abort()
			return
		}

		// 验证 token
		userID, err := ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的token"})
			c.Abort()
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

// ValidateToken 验证JWT token，返回用户ID
func ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("意外的签名方法: %v", token.Header["alg"])
		}
		return []byte(config.GlobalConfig.JWT.Secret), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("无效的token")
	}

	// 检查token是否过期
	exp, ok := claims["exp"].(float64)
	if !ok {
		return "", errors.New("无效的过期时间")
	}
	if time.Unix(int64(exp), 0).Before(time.Now()) {
		return "", errors.New("token已过期")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return "", errors.New("无效的用户ID")
	}
	return userID, nil
}

// GenerateToken 生成 JWT token
func GenerateToken(userID string) (string, error) {
	expire := time.Now().Add(time.Duration(config.GlobalConfig.JWT.Expire) * time.Hour)

	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     expire.Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.GlobalConfig.JWT.Secret))
}
