package orders

import (
	"os"
)

// Config は注文サービスの設定。
// 起動時に一度だけ構築してNewServerに渡す。ハンドラ内で環境変数を
// 参照することはない。
type Config struct {
	// Port はサーバーのリッスンポート。
	Port string
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string
	// JWTSecret はJWT署名用の共有秘密鍵。
	JWTSecret string
	// JWTIssuer はJWTの発行者（issクレーム）。
	JWTIssuer string
	// JWTAudience はJWTの対象者（audクレーム）。
	JWTAudience string
	// UsersServiceURL はUsersサービスのベースURL。所有者存在確認に使用する。
	UsersServiceURL string
	// EventsWebhookURL はドメインイベントの送信先コレクタのベースURL。
	// 空の場合はイベントをログ出力のみに留める。
	EventsWebhookURL string
	// DisableUserCheck は所有者存在確認をスキップするかどうか。
	// Usersサービスが存在しない環境向けの意図的に緩い逃げ道であり、
	// 正しさの保証ではない。有効時はスキップを毎回ログに記録する。
	DisableUserCheck bool
}

// LoadConfig は環境変数から注文サービスの設定を読み込む。
func LoadConfig() Config {
	return Config{
		Port:             getEnvOr("PORT", "8002"),
		DatabasePath:     getEnvOr("DATABASE_PATH", "/data/orders.db"),
		JWTSecret:        getEnvOr("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:        getEnvOr("JWT_ISSUER", "orderhub"),
		JWTAudience:      getEnvOr("JWT_AUDIENCE", "orderhub-users"),
		UsersServiceURL:  getEnvOr("USERS_SERVICE_URL", "http://localhost:8001"),
		EventsWebhookURL: os.Getenv("EVENTS_WEBHOOK_URL"),
		DisableUserCheck: os.Getenv("ORDERS_DISABLE_USER_CHECK") == "true",
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
