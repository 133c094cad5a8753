// Ordersサービスのエントリポイント。
// 注文の作成・取得・一覧、ステータス遷移、冪等なキャンセルを担当する。
// 注文作成時はUsersサービスに所有者の存在を問い合わせる。
package main

import (
	"log"

	"github.com/nao1215/orderhub/internal/orders"
)

func main() {
	cfg := orders.LoadConfig()

	server, err := orders.NewServer(cfg)
	if err != nil {
		log.Fatalf("Ordersサーバーの初期化に失敗: %v", err)
	}

	log.Printf("Ordersサービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("Ordersサービスの起動に失敗: %v", err)
	}
}
