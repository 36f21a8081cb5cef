// Package token 提供了 JSON Web Token (JWT) 的校验功能。
// 令牌由外部认证服务签发，本服务只验证签名、签发者和过期时间。
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 是令牌中的声明。sub 为用户 ID，role 为用户角色。
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity 是从令牌中解析出的调用方身份。
type Identity struct {
	UserID uint
	Role   string
}

// Verifier 负责验证 HS256 令牌。
type Verifier struct {
	secretKey []byte
	issuer    string
}

// NewVerifier 创建一个新的 Verifier。secretBase64 为 true 时密钥按 base64 解码。
func NewVerifier(secret string, secretBase64 bool, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret 不能为空")
	}
	key := []byte(secret)
	if secretBase64 {
		decoded, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("jwt secret 不是合法的 base64: %w", err)
		}
		key = decoded
	}
	return &Verifier{secretKey: key, issuer: issuer}, nil
}

// Verify 验证给定的 token 字符串并返回身份。
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("token subject 不是合法的用户 ID: %q", claims.Subject)
	}
	return &Identity{UserID: uint(uid), Role: claims.Role}, nil
}

// Sign 使用与 Verifier 相同的密钥签发令牌，供本地调试和测试使用。
func (v *Verifier) Sign(userID uint, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    v.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secretKey)
}
