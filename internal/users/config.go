package users

import (
	"os"
	"strconv"
	"time"
)

// Config はユーザーサービスの設定。
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
	// TokenTTL は発行するトークンの有効期間。
	TokenTTL time.Duration
}

// LoadConfig は環境変数からユーザーサービスの設定を読み込む。
func LoadConfig() Config {
	expMinutes := 60
	if v, err := strconv.Atoi(getEnvOr("JWT_EXP_MINUTES", "60")); err == nil && v > 0 {
		expMinutes = v
	}

	return Config{
		Port:         getEnvOr("PORT", "8001"),
		DatabasePath: getEnvOr("DATABASE_PATH", "/data/users.db"),
		JWTSecret:    getEnvOr("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:    getEnvOr("JWT_ISSUER", "orderhub"),
		JWTAudience:  getEnvOr("JWT_AUDIENCE", "orderhub-users"),
		TokenTTL:     time.Duration(expMinutes) * time.Minute,
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
