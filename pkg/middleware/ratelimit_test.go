package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// setupRateLimitedRouter はレート制限付きのテスト用ルーターを構築する。
func setupRateLimitedRouter(t *testing.T, config RateLimiterConfig) *gin.Engine {
	t.Helper()

	rl := NewRateLimiter(config)
	t.Cleanup(rl.Stop)

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

// TestRateLimiterMiddleware はレート制限ミドルウェアのテスト。
func TestRateLimiterMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("バースト内のリクエストは許可される", func(t *testing.T) {
		t.Parallel()
		router := setupRateLimitedRouter(t, RateLimiterConfig{
			Rate:            rate.Limit(1),
			Burst:           3,
			CleanupInterval: time.Minute,
		})

		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			if w.Code != http.StatusOK {
				t.Fatalf("リクエスト%d: got %d, want %d", i+1, w.Code, http.StatusOK)
			}
		}
	})

	t.Run("バーストを超えたリクエストは429を返す", func(t *testing.T) {
		t.Parallel()
		router := setupRateLimitedRouter(t, RateLimiterConfig{
			Rate:            rate.Limit(0.001),
			Burst:           1,
			CleanupInterval: time.Minute,
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("1回目のリクエスト: got %d, want %d", w.Code, http.StatusOK)
		}

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("2回目のリクエスト: got %d, want %d", w.Code, http.StatusTooManyRequests)
		}

		if w.Header().Get("Retry-After") == "" {
			t.Error("Retry-Afterヘッダーが設定されていません")
		}

		var result map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("JSONのデコードに失敗: %v", err)
		}
		if result["success"] != false {
			t.Errorf("success: got %v, want false", result["success"])
		}
		errObj, ok := result["error"].(map[string]any)
		if !ok {
			t.Fatalf("errorオブジェクトがありません: %v", result)
		}
		if errObj["code"] != "RATE_LIMIT" {
			t.Errorf("error.code: got %v, want RATE_LIMIT", errObj["code"])
		}
	})

	t.Run("クライアントごとに独立したリミッターが作成される", func(t *testing.T) {
		t.Parallel()
		rl := NewRateLimiter(RateLimiterConfig{
			Rate:            rate.Limit(1),
			Burst:           1,
			CleanupInterval: time.Minute,
		})
		t.Cleanup(rl.Stop)

		router := gin.New()
		router.Use(rl.Middleware())
		router.GET("/", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})

		req1 := httptest.NewRequest(http.MethodGet, "/", nil)
		req1.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(httptest.NewRecorder(), req1)

		req2 := httptest.NewRequest(http.MethodGet, "/", nil)
		req2.RemoteAddr = "10.0.0.2:1234"
		router.ServeHTTP(httptest.NewRecorder(), req2)

		if got := rl.LimiterCount(); got != 2 {
			t.Errorf("リミッターのエントリ数: got %d, want 2", got)
		}
	})
}

// TestDefaultRateLimiterConfig はデフォルト設定の導出のテスト。
func TestDefaultRateLimiterConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRateLimiterConfig(60)
	if config.Rate != rate.Limit(1) {
		t.Errorf("Rate: got %v, want 1", config.Rate)
	}
	if config.Burst != 60 {
		t.Errorf("Burst: got %d, want 60", config.Burst)
	}
}
