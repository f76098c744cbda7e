package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// apiKeyAuth は、x-api-key ヘッダーによる認証ミドルウェアを返します。
// 期待するキーが空の場合、認証は無効になりすべてのリクエストを通します。
func apiKeyAuth(expected string) gin.HandlerFunc {
	expected = strings.TrimSpace(expected)
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}

		got := strings.TrimSpace(c.GetHeader("x-api-key"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Detail: "unauthorized"})
			return
		}
		c.Next()
	}
}
