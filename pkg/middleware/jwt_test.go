package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSecret   = "test-secret"
	testIssuer   = "orderhub"
	testAudience = "orderhub-users"
)

// TestGenerateAndVerifyToken はトークンの生成と検証の往復のテスト。
func TestGenerateAndVerifyToken(t *testing.T) {
	t.Parallel()

	t.Run("生成したトークンを検証できる", func(t *testing.T) {
		t.Parallel()
		token, err := GenerateToken(testSecret, testIssuer, testAudience, "user-1", []string{"user", "admin"}, time.Hour)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}

		claims, err := VerifyToken(token, testSecret, testIssuer, testAudience)
		if err != nil {
			t.Fatalf("トークン検証に失敗: %v", err)
		}
		if claims.Subject != "user-1" {
			t.Errorf("subject: got %s, want user-1", claims.Subject)
		}
		if len(claims.Roles) != 2 || claims.Roles[0] != "user" || claims.Roles[1] != "admin" {
			t.Errorf("roles: got %v, want [user admin]", claims.Roles)
		}
	})

	t.Run("期限切れトークンは拒否される", func(t *testing.T) {
		t.Parallel()
		token, err := GenerateToken(testSecret, testIssuer, testAudience, "user-1", []string{"user"}, -time.Minute)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}

		if _, err := VerifyToken(token, testSecret, testIssuer, testAudience); err != ErrInvalidToken {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("異なる秘密鍵で署名されたトークンは拒否される", func(t *testing.T) {
		t.Parallel()
		token, err := GenerateToken("other-secret", testIssuer, testAudience, "user-1", []string{"user"}, time.Hour)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}

		if _, err := VerifyToken(token, testSecret, testIssuer, testAudience); err != ErrInvalidToken {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("発行者が一致しないトークンは拒否される", func(t *testing.T) {
		t.Parallel()
		token, err := GenerateToken(testSecret, "other-issuer", testAudience, "user-1", []string{"user"}, time.Hour)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}

		if _, err := VerifyToken(token, testSecret, testIssuer, testAudience); err != ErrInvalidToken {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("対象者が一致しないトークンは拒否される", func(t *testing.T) {
		t.Parallel()
		token, err := GenerateToken(testSecret, testIssuer, "other-audience", "user-1", []string{"user"}, time.Hour)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}

		if _, err := VerifyToken(token, testSecret, testIssuer, testAudience); err != ErrInvalidToken {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("形式不正なトークンは拒否される", func(t *testing.T) {
		t.Parallel()
		if _, err := VerifyToken("not-a-jwt", testSecret, testIssuer, testAudience); err != ErrInvalidToken {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})
}

// TestBearerToken はAuthorizationヘッダーの解析のテスト。
func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"Bearer形式のトークンを取り出せる", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"ヘッダーが空の場合は空文字列", "", ""},
		{"Bearerプレフィックスがない場合は空文字列", "abc.def.ghi", ""},
		{"Basic認証は空文字列", "Basic dXNlcjpwYXNz", ""},
		{"小文字のbearerは受け付けない", "bearer abc.def.ghi", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BearerToken(tt.header); got != tt.want {
				t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

// TestJWTAuth はJWT検証ミドルウェアのテスト。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	// setupRouter は保護されたエンドポイントを持つテスト用ルーターを構築する。
	setupRouter := func() *gin.Engine {
		router := gin.New()
		router.Use(JWTAuth(testSecret, testIssuer, testAudience))
		router.GET("/protected", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"user_id": GetUserID(c),
				"roles":   GetRoles(c),
			})
		})
		return router
	}

	t.Run("有効なトークンでコンテキストにクレームが設定される", func(t *testing.T) {
		t.Parallel()
		router := setupRouter()

		token, err := GenerateToken(testSecret, testIssuer, testAudience, "user-1", []string{"user"}, time.Hour)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		var result map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("JSONのデコードに失敗: %v", err)
		}
		if result["user_id"] != "user-1" {
			t.Errorf("user_id: got %v, want user-1", result["user_id"])
		}
	})

	t.Run("トークンがない場合はUnauthorized", func(t *testing.T) {
		t.Parallel()
		router := setupRouter()

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("無効なトークンの場合はUnauthorized", func(t *testing.T) {
		t.Parallel()
		router := setupRouter()

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}

		var result map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("JSONのデコードに失敗: %v", err)
		}
		if result["success"] != false {
			t.Errorf("success: got %v, want false", result["success"])
		}
	})
}
