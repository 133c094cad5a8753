// Package response は全サービス共通のレスポンスエンベロープを提供する。
//
// 成功時は {"success": true, "data": ...}、失敗時は
// {"success": false, "error": {"code": ..., "message": ...}} の形式で返す。
// Gatewayは内部サービスのレスポンスをそのまま中継するため、
// 全サービスがこの形式を共有する必要がある。
package response

import (
	"github.com/gin-gonic/gin"
)

// エラーコード定義。HTTPステータスコードと1対1で対応付ける。
const (
	// CodeValidationError は入力値の不正または不正な状態遷移を表す（400）。
	CodeValidationError = "VALIDATION_ERROR"
	// CodeUnauthorized はトークンの欠落・無効・期限切れを表す（401）。
	CodeUnauthorized = "UNAUTHORIZED"
	// CodeInvalidCredentials はログイン失敗を表す（401）。
	// メールアドレスとパスワードのどちらが誤りかは区別しない。
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	// CodeForbidden は認証済みだが権限がないことを表す（403）。
	CodeForbidden = "FORBIDDEN"
	// CodeNotFound はリソースが存在しないことを表す（404）。
	CodeNotFound = "NOT_FOUND"
	// CodeEmailExists はメールアドレスの一意性違反を表す（409）。
	CodeEmailExists = "EMAIL_EXISTS"
	// CodeUserNotFound は注文の所有者が存在しないことを表す（400）。
	CodeUserNotFound = "USER_NOT_FOUND"
	// CodeRateLimit はレート制限超過を表す（429）。
	CodeRateLimit = "RATE_LIMIT"
	// CodeUpstreamUnavailable は内部サービスとの通信失敗を表す（502）。
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	// CodeUpstreamTimeout は内部サービスのタイムアウトを表す（504）。
	CodeUpstreamTimeout = "UPSTREAM_TIMEOUT"
	// CodeInternalError は予期しないサーバー内部エラーを表す（500）。
	CodeInternalError = "INTERNAL_ERROR"
)

// OK は成功レスポンスをエンベロープ形式で書き込む。
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// Fail は失敗レスポンスをエンベロープ形式で書き込む。
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": message},
	})
}

// AbortFail は失敗レスポンスを書き込み、後続のハンドラを中断する。
// ミドルウェアからの失敗応答に使用する。
func AbortFail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": message},
	})
}
