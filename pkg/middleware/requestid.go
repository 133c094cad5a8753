package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID は相関IDを伝播するためのHTTPヘッダーキー。
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLength は受け入れる相関IDの最大長。
// これを超える値は信用せず、新しいIDを採番する。
const maxRequestIDLength = 128

// RequestID は相関IDを解決するGinミドルウェアを返す。
// 受信リクエストにX-Request-IDヘッダーが存在し長さ制限内であれば
// その値をそのまま再利用し、なければ新しいUUIDを採番する。
// 解決したIDはコンテキストに設定し、レスポンスヘッダーにも必ず付与する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = uuid.New().String()
		}

		c.Set("request_id", rid)
		c.Header(HeaderRequestID, rid)
		c.Next()
	}
}

// GetRequestID はGinコンテキストから相関IDを取得する。
// RequestIDミドルウェアが事前に適用されている必要がある。
func GetRequestID(c *gin.Context) string {
	rid, _ := c.Get("request_id")
	if id, ok := rid.(string); ok {
		return id
	}
	return ""
}
