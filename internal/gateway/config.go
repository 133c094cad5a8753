package gateway

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はGatewayサービスの設定。
// 起動時に一度だけ構築してNewServerに渡す。ハンドラ内で環境変数を
// 参照することはない。
type Config struct {
	// Port はサーバーのリッスンポート。
	Port string
	// JWTSecret はJWT検証用の共有秘密鍵。
	JWTSecret string
	// JWTIssuer はJWTの発行者（issクレーム）。
	JWTIssuer string
	// JWTAudience はJWTの対象者（audクレーム）。
	JWTAudience string
	// UsersServiceURL はUsersサービスのベースURL。
	UsersServiceURL string
	// OrdersServiceURL はOrdersサービスのベースURL。
	OrdersServiceURL string
	// AllowedOrigins はCORSで許可するオリジンの一覧。
	AllowedOrigins []string
	// RateLimitPerMinute はクライアントIPごとの1分あたりの許容リクエスト数。
	RateLimitPerMinute int
	// UpstreamTimeout は内部サービスへの転送のタイムアウト。
	UpstreamTimeout time.Duration
}

// LoadConfig は環境変数からGatewayサービスの設定を読み込む。
func LoadConfig() Config {
	perMinute := 60
	if v, err := strconv.Atoi(getEnvOr("RATE_LIMIT_PER_MINUTE", "60")); err == nil && v > 0 {
		perMinute = v
	}

	timeoutSec := 30
	if v, err := strconv.Atoi(getEnvOr("UPSTREAM_TIMEOUT_SECONDS", "30")); err == nil && v > 0 {
		timeoutSec = v
	}

	var origins []string
	for _, o := range strings.Split(getEnvOr("CORS_ALLOW_ORIGINS", "*"), ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}

	return Config{
		Port:               getEnvOr("PORT", "8000"),
		JWTSecret:          getEnvOr("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:          getEnvOr("JWT_ISSUER", "orderhub"),
		JWTAudience:        getEnvOr("JWT_AUDIENCE", "orderhub-users"),
		UsersServiceURL:    getEnvOr("USERS_SERVICE_URL", "http://localhost:8001"),
		OrdersServiceURL:   getEnvOr("ORDERS_SERVICE_URL", "http://localhost:8002"),
		AllowedOrigins:     origins,
		RateLimitPerMinute: perMinute,
		UpstreamTimeout:    time.Duration(timeoutSec) * time.Second,
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
