package middleware

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/orderhub/pkg/response"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時に相関IDと共にログへ出力し、内部情報を漏らさない
// 汎用の500エラーを返す。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[PANIC] %s %s request_id=%s: %v",
					c.Request.Method, c.Request.URL.Path, GetRequestID(c), r)
				response.AbortFail(c, 500, response.CodeInternalError, "内部サーバーエラーが発生しました")
			}
		}()
		c.Next()
	}
}
