package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService 负责校验身份提供方签发的访问令牌。
// 私钥可选：仅 cmd/admin 与测试需要本地签发令牌。
type AuthService struct {
	privateKey     *rsa.PrivateKey
	publicKey      *rsa.PublicKey
	accessTokenTTL time.Duration
}

// TokenClaims 表示 JWT 中的业务字段，便于中间件读取用户信息。
type TokenClaims struct {
	UserID    uint   `json:"user_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// NewAuthService 解析 PEM 公钥（必填）与私钥（可选）并构造服务实例。
func NewAuthService(publicKeyPEM, privateKeyPEM []byte, accessTTL time.Duration) (*AuthService, error) {
	if len(publicKeyPEM) == 0 {
		return nil, errors.New("public key pem is required")
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}

	var privateKey *rsa.PrivateKey
	if len(privateKeyPEM) > 0 {
		privateKey, err = jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse rsa private key: %w", err)
		}
	}

	return &AuthService{
		privateKey:     privateKey,
		publicKey:      publicKey,
		accessTokenTTL: accessTTL,
	}, nil
}

// GenerateAccessToken 本地签发一枚访问令牌（需要配置私钥）。
func (s *AuthService) GenerateAccessToken(userID uint) (string, error) {
	if s.privateKey == nil {
		return "", errors.New("private key not configured")
	}

	now := time.Now()
	claims := TokenClaims{
		UserID:    userID,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken 解析并验证 JWT。
func (s *AuthService) ValidateToken(tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token string is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// AccessTokenTTL 暴露访问令牌有效期。
func (s *AuthService) AccessTokenTTL() time.Duration {
	return s.accessTokenTTL
}
