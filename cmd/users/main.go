// Usersサービスのエントリポイント。
// ユーザー登録、ログインとJWT発行、プロフィール管理、
// 管理者向け一覧、内部向け存在確認を担当する。
package main

import (
	"log"

	"github.com/nao1215/orderhub/internal/users"
)

func main() {
	cfg := users.LoadConfig()

	server, err := users.NewServer(cfg)
	if err != nil {
		log.Fatalf("Usersサーバーの初期化に失敗: %v", err)
	}

	log.Printf("Usersサービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("Usersサービスの起動に失敗: %v", err)
	}
}
