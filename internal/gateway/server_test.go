package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/orderhub/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig はテスト用のGateway設定を返す。
func testConfig(usersURL, ordersURL string) Config {
	return Config{
		Port:               "0",
		JWTSecret:          "test-secret",
		JWTIssuer:          "orderhub",
		JWTAudience:        "orderhub-users",
		UsersServiceURL:    usersURL,
		OrdersServiceURL:   ordersURL,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 10000,
		UpstreamTimeout:    5 * time.Second,
	}
}

// echoBackend はリクエストの内容をJSONで返すモックバックエンドを生成する。
// 呼び出し回数をcallsに記録する。
func echoBackend(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"method":        r.Method,
			"path":          r.URL.Path,
			"query":         r.URL.RawQuery,
			"body":          string(body),
			"authorization": r.Header.Get("Authorization"),
			"request_id":    r.Header.Get("X-Request-ID"),
			"connection":    r.Header.Get("Connection"),
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

// setupTestServer はテスト用のGatewayサーバーとモックバックエンドを構築する。
func setupTestServer(t *testing.T) (*Server, *atomic.Int64, *atomic.Int64) {
	t.Helper()

	var usersCalls, ordersCalls atomic.Int64
	users := echoBackend(t, &usersCalls)
	orders := echoBackend(t, &ordersCalls)

	s, err := NewServer(testConfig(users.URL, orders.URL))
	if err != nil {
		t.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}
	t.Cleanup(s.Stop)

	return s, &usersCalls, &ordersCalls
}

// validToken はテスト用のJWTトークンを発行するヘルパー関数。
func validToken(t *testing.T, cfg Config) string {
	t.Helper()
	token, err := middleware.GenerateToken(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, "user-1", []string{"user"}, time.Hour)
	if err != nil {
		t.Fatalf("トークン生成に失敗: %v", err)
	}
	return token
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにデコードするヘルパー関数。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// TestHealthCheck はヘルスチェックがGateway自身で応答することを検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s, usersCalls, ordersCalls := setupTestServer(t)

	w := doRequest(s, http.MethodGet, "/health", "", "")

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	if usersCalls.Load() != 0 || ordersCalls.Load() != 0 {
		t.Error("ヘルスチェックがバックエンドに転送されました")
	}

	result := parseJSON(t, w)
	data, _ := result["data"].(map[string]any)
	if data["service"] != "gateway" {
		t.Errorf("service: got %v, want gateway", data["service"])
	}

	// すべてのレスポンスに相関IDが付与される
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-IDヘッダーが設定されていません")
	}
}

// TestRouteResolution は転送先の解決のテスト。
func TestRouteResolution(t *testing.T) {
	t.Parallel()

	t.Run("usersプレフィックスはUsersサービスに転送される", func(t *testing.T) {
		t.Parallel()
		s, usersCalls, ordersCalls := setupTestServer(t)

		w := doRequest(s, http.MethodPost, "/v1/users/register", "", `{"email":"a@b.com"}`)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		if usersCalls.Load() != 1 {
			t.Errorf("Usersサービスの呼び出し回数: got %d, want 1", usersCalls.Load())
		}
		if ordersCalls.Load() != 0 {
			t.Errorf("Ordersサービスの呼び出し回数: got %d, want 0", ordersCalls.Load())
		}

		result := parseJSON(t, w)
		if result["path"] != "/v1/users/register" {
			t.Errorf("転送先パス: got %v, want /v1/users/register", result["path"])
		}
	})

	t.Run("ordersプレフィックスはOrdersサービスに転送される", func(t *testing.T) {
		t.Parallel()
		s, usersCalls, ordersCalls := setupTestServer(t)
		token := validToken(t, s.cfg)

		w := doRequest(s, http.MethodGet, "/v1/orders", token, "")

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		if ordersCalls.Load() != 1 {
			t.Errorf("Ordersサービスの呼び出し回数: got %d, want 1", ordersCalls.Load())
		}
		if usersCalls.Load() != 0 {
			t.Errorf("Usersサービスの呼び出し回数: got %d, want 0", usersCalls.Load())
		}
	})

	t.Run("未知のプレフィックスはNotFound", func(t *testing.T) {
		t.Parallel()
		s, usersCalls, ordersCalls := setupTestServer(t)

		w := doRequest(s, http.MethodGet, "/v1/unknown", "", "")

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
		if usersCalls.Load() != 0 || ordersCalls.Load() != 0 {
			t.Error("未知のパスがバックエンドに転送されました")
		}
	})

	t.Run("プレフィックスの前方一致だけでは転送されない", func(t *testing.T) {
		t.Parallel()
		s, usersCalls, _ := setupTestServer(t)

		// /v1/usersXXX は /v1/users とは別のパス
		w := doRequest(s, http.MethodGet, "/v1/usersXXX", "", "")

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
		if usersCalls.Load() != 0 {
			t.Error("別のパスがUsersサービスに転送されました")
		}
	})
}

// TestAuthDecision は認証要否の判定のテスト。
func TestAuthDecision(t *testing.T) {
	t.Parallel()

	t.Run("公開ルートはトークンなしで転送される", func(t *testing.T) {
		t.Parallel()
		s, usersCalls, _ := setupTestServer(t)

		for _, path := range []string{"/v1/users/register", "/v1/users/login"} {
			w := doRequest(s, http.MethodPost, path, "", `{}`)
			if w.Code != http.StatusOK {
				t.Errorf("%s: got %d, want %d", path, w.Code, http.StatusOK)
			}
		}
		if usersCalls.Load() != 2 {
			t.Errorf("Usersサービスの呼び出し回数: got %d, want 2", usersCalls.Load())
		}
	})

	t.Run("保護ルートはトークンなしの場合は転送せずUnauthorized", func(t *testing.T) {
		t.Parallel()
		s, usersCalls, ordersCalls := setupTestServer(t)

		w := doRequest(s, http.MethodGet, "/v1/orders", "", "")

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if usersCalls.Load() != 0 || ordersCalls.Load() != 0 {
			t.Error("認証失敗のリクエストがバックエンドに転送されました")
		}
	})

	t.Run("無効なトークンの場合は転送せずUnauthorized", func(t *testing.T) {
		t.Parallel()
		s, _, ordersCalls := setupTestServer(t)

		w := doRequest(s, http.MethodGet, "/v1/orders", "invalid-token", "")

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if ordersCalls.Load() != 0 {
			t.Error("認証失敗のリクエストがバックエンドに転送されました")
		}
	})

	t.Run("期限切れトークンの場合は転送せずUnauthorized", func(t *testing.T) {
		t.Parallel()
		s, _, ordersCalls := setupTestServer(t)

		expired, err := middleware.GenerateToken(
			s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience, "user-1", []string{"user"}, -time.Minute)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}

		w := doRequest(s, http.MethodGet, "/v1/orders", expired, "")

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if ordersCalls.Load() != 0 {
			t.Error("期限切れトークンのリクエストがバックエンドに転送されました")
		}
	})

	t.Run("公開パスでもメソッドが異なれば認証必須", func(t *testing.T) {
		t.Parallel()
		s, usersCalls, _ := setupTestServer(t)

		w := doRequest(s, http.MethodGet, "/v1/users/register", "", "")

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if usersCalls.Load() != 0 {
			t.Error("認証失敗のリクエストがバックエンドに転送されました")
		}
	})
}

// TestProxyRelay はリクエスト・レスポンスの中継のテスト。
func TestProxyRelay(t *testing.T) {
	t.Parallel()

	t.Run("メソッド・ボディ・クエリ・Authorizationをそのまま転送する", func(t *testing.T) {
		t.Parallel()
		s, _, _ := setupTestServer(t)
		token := validToken(t, s.cfg)

		w := doRequest(s, http.MethodGet, "/v1/orders?page=2&sort=total_sum", token, "")

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseJSON(t, w)
		if result["method"] != http.MethodGet {
			t.Errorf("method: got %v, want GET", result["method"])
		}
		if result["query"] != "page=2&sort=total_sum" {
			t.Errorf("query: got %v, want page=2&sort=total_sum", result["query"])
		}
		// Authorizationヘッダーは変更せずそのまま転送される
		if result["authorization"] != "Bearer "+token {
			t.Errorf("authorization: got %v, want Bearer %s", result["authorization"], token)
		}
		// 相関IDが転送リクエストに付与される
		if result["request_id"] == "" {
			t.Error("X-Request-IDが転送されていません")
		}
	})

	t.Run("リクエストボディをそのまま転送する", func(t *testing.T) {
		t.Parallel()
		s, _, _ := setupTestServer(t)
		token := validToken(t, s.cfg)

		body := `{"items":[{"product":"りんご","quantity":2}],"total_sum":500}`
		w := doRequest(s, http.MethodPost, "/v1/orders", token, body)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseJSON(t, w)
		if result["body"] != body {
			t.Errorf("body: got %v, want %s", result["body"], body)
		}
	})

	t.Run("バックエンドのステータスコードとボディをそのまま中継する", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"success":false,"error":{"code":"EMAIL_EXISTS","message":"重複"}}`)
		}))
		t.Cleanup(backend.Close)

		s, err := NewServer(testConfig(backend.URL, backend.URL))
		if err != nil {
			t.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
		}
		t.Cleanup(s.Stop)

		w := doRequest(s, http.MethodPost, "/v1/users/register", "", `{}`)

		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusConflict)
		}

		result := parseJSON(t, w)
		if result["success"] != false {
			t.Errorf("エラーボディが中継されていません: %s", w.Body.String())
		}
	})

	t.Run("ホップバイホップヘッダーは転送されない", func(t *testing.T) {
		t.Parallel()
		s, _, _ := setupTestServer(t)
		token := validToken(t, s.cfg)

		req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Connection", "keep-alive")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseJSON(t, w)
		if result["connection"] != "" {
			t.Errorf("Connectionヘッダーが転送されました: %v", result["connection"])
		}
	})
}

// TestCorrelationID は相関IDの解決と応答のテスト。
func TestCorrelationID(t *testing.T) {
	t.Parallel()

	t.Run("クライアント指定の相関IDを再利用する", func(t *testing.T) {
		t.Parallel()
		s, _, _ := setupTestServer(t)
		token := validToken(t, s.cfg)

		req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Request-ID", "client-id-1")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got != "client-id-1" {
			t.Errorf("レスポンスのX-Request-ID: got %s, want client-id-1", got)
		}

		result := parseJSON(t, w)
		if result["request_id"] != "client-id-1" {
			t.Errorf("転送されたX-Request-ID: got %v, want client-id-1", result["request_id"])
		}
	})

	t.Run("相関IDがない場合は新しいUUIDを採番して転送する", func(t *testing.T) {
		t.Parallel()
		s, _, _ := setupTestServer(t)
		token := validToken(t, s.cfg)

		w := doRequest(s, http.MethodGet, "/v1/orders", token, "")

		rid := w.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(rid); err != nil {
			t.Errorf("採番されたIDがUUIDではありません: %s", rid)
		}

		result := parseJSON(t, w)
		if result["request_id"] != rid {
			t.Errorf("転送されたIDとレスポンスヘッダーが一致しません: %v vs %s", result["request_id"], rid)
		}
	})

	t.Run("長すぎる相関IDは信用せず新しいIDを採番する", func(t *testing.T) {
		t.Parallel()
		s, _, _ := setupTestServer(t)
		token := validToken(t, s.cfg)

		tooLong := strings.Repeat("x", 129)
		req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Request-ID", tooLong)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got == tooLong {
			t.Error("長さ制限を超える相関IDがそのまま再利用されました")
		}
	})
}

// TestGatewayRateLimit はGatewayのレート制限のテスト。
func TestGatewayRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	backend := echoBackend(t, &calls)

	cfg := testConfig(backend.URL, backend.URL)
	cfg.RateLimitPerMinute = 1
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}
	t.Cleanup(s.Stop)

	first := doRequest(s, http.MethodPost, "/v1/users/login", "", `{}`)
	second := doRequest(s, http.MethodPost, "/v1/users/login", "", `{}`)

	if first.Code != http.StatusOK {
		t.Fatalf("1回目: got %d, want %d", first.Code, http.StatusOK)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("2回目: got %d, want %d", second.Code, http.StatusTooManyRequests)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーが設定されていません")
	}
	// 超過したリクエストはバックエンドに到達しない
	if calls.Load() != 1 {
		t.Errorf("バックエンドの呼び出し回数: got %d, want 1", calls.Load())
	}
}

// TestUpstreamFailure は内部サービス障害時の応答のテスト。
func TestUpstreamFailure(t *testing.T) {
	t.Parallel()

	t.Run("接続できない場合はBadGateway", func(t *testing.T) {
		t.Parallel()
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		backend.Close() // 即座に閉じて接続失敗を再現する

		s, err := NewServer(testConfig(backend.URL, backend.URL))
		if err != nil {
			t.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
		}
		t.Cleanup(s.Stop)

		w := doRequest(s, http.MethodPost, "/v1/users/login", "", `{}`)

		if w.Code != http.StatusBadGateway {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusBadGateway, w.Body.String())
		}

		result := parseJSON(t, w)
		errObj, _ := result["error"].(map[string]any)
		if errObj["code"] != "UPSTREAM_UNAVAILABLE" {
			t.Errorf("error.code: got %v, want UPSTREAM_UNAVAILABLE", errObj["code"])
		}
	})

	t.Run("応答が遅い場合はGatewayTimeout", func(t *testing.T) {
		t.Parallel()
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(500 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(slow.Close)

		cfg := testConfig(slow.URL, slow.URL)
		cfg.UpstreamTimeout = 50 * time.Millisecond
		s, err := NewServer(cfg)
		if err != nil {
			t.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
		}
		t.Cleanup(s.Stop)

		w := doRequest(s, http.MethodPost, "/v1/users/login", "", `{}`)

		if w.Code != http.StatusGatewayTimeout {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusGatewayTimeout, w.Body.String())
		}

		result := parseJSON(t, w)
		errObj, _ := result["error"].(map[string]any)
		if errObj["code"] != "UPSTREAM_TIMEOUT" {
			t.Errorf("error.code: got %v, want UPSTREAM_TIMEOUT", errObj["code"])
		}
	})
}
