package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nao1215/orderhub/pkg/response"
)

// AuthClaims はJWTトークンのクレーム（ペイロード）を表す。
// subject（ユーザーID）とロール一覧をサービス間で伝播するために使用する。
type AuthClaims struct {
	jwt.RegisteredClaims
	// Roles はユーザーが保持するロールの一覧。
	Roles []string `json:"roles"`
}

// ErrInvalidToken はトークン検証の失敗を表す。
// 署名不一致・発行者/対象者の不一致・期限切れ・形式不正のいずれも
// この1つのエラーに集約し、呼び出し元が失敗理由を区別できないようにする。
var ErrInvalidToken = errors.New("トークンが無効です")

// GenerateToken はユーザーIDとロール一覧から署名付きJWTトークンを生成する。
// Usersサービスがログイン成功時に呼び出す。
func GenerateToken(secret, issuer, audience, userID string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// VerifyToken はJWTトークンを検証し、クレームを返す。
// 署名（HMAC-SHA256、比較はライブラリ内部で定数時間）、発行者、対象者、
// 有効期限のすべてが一致した場合のみ成功する。失敗理由は
// ErrInvalidTokenに集約される。
func VerifyToken(tokenString, secret, issuer, audience string) (*AuthClaims, error) {
	claims := &AuthClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// ヘッダーが欠落している、またはBearer形式でない場合は空文字列を返す。
func BearerToken(authHeader string) string {
	token, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id" と "roles" を設定する。
// GatewayはトークンをそのままのAuthorizationヘッダーで転送するため、
// 各内部サービスはこのミドルウェアで独立に再検証する。
func JWTAuth(secret, issuer, audience string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			response.AbortFail(c, 401, response.CodeUnauthorized, "Bearerトークンが必要です")
			return
		}

		claims, err := VerifyToken(token, secret, issuer, audience)
		if err != nil {
			response.AbortFail(c, 401, response.CodeUnauthorized, "トークンが無効です")
			return
		}

		c.Set("user_id", claims.Subject)
		c.Set("roles", claims.Roles)
		c.Next()
	}
}

// GetUserID はGinコンテキストから認証済みユーザーのIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetRoles はGinコンテキストから認証済みユーザーのロール一覧を取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetRoles(c *gin.Context) []string {
	roles, _ := c.Get("roles")
	if r, ok := roles.([]string); ok {
		return r
	}
	return nil
}
