package orders

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS orders (
    -- 注文の一意識別子
    id TEXT PRIMARY KEY,
    -- 注文の所有者のユーザーID（値による参照のみ。JOINでは強制しない）
    user_id TEXT NOT NULL,
    -- 注文アイテムのJSON配列
    items_json TEXT NOT NULL,
    -- 注文ステータス
    status TEXT NOT NULL DEFAULT 'created',
    -- 合計金額（非負）
    total_sum REAL NOT NULL DEFAULT 0,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- 所有者での検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_orders_user_id
    ON orders(user_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
