package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound は注文が存在しないことを表す。
var ErrNotFound = errors.New("注文が見つかりません")

// errSkipTransition はトランジションガードが「更新不要・現状のまま成功」
// と判断したことを表す。キャンセルの冪等性の実現に使用する。
var errSkipTransition = errors.New("遷移をスキップ")

// errIllegalTransition は不正な状態遷移の要求を表す。
var errIllegalTransition = errors.New("不正なステータス遷移です")

// Order は注文のDBレコードを表す。
type Order struct {
	// ID は注文の一意識別子。
	ID string
	// UserID は注文の所有者のユーザーID。
	UserID string
	// ItemsJSON は注文アイテムのJSON配列。
	ItemsJSON string
	// Status は注文ステータス。
	Status string
	// TotalSum は合計金額。
	TotalSum float64
	// CreatedAt は作成日時。
	CreatedAt time.Time
	// UpdatedAt は更新日時。
	UpdatedAt time.Time
}

// orderQueries は注文テーブルへのクエリ実行オブジェクト。
type orderQueries struct {
	db *sql.DB
}

// newOrderQueries は新しいクエリ実行オブジェクトを生成する。
func newOrderQueries(db *sql.DB) *orderQueries {
	return &orderQueries{db: db}
}

// orderColumns はSELECT句で使用するカラム一覧。
const orderColumns = "id, user_id, items_json, status, total_sum, created_at, updated_at"

// sortColumns はソート可能なフィールドの明示的な列挙。
// 未知のフィールド名はハンドラで検証エラーとして拒否する。
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"total_sum":  "total_sum",
	"status":     "status",
}

// CreateOrder は新しい注文をcreatedステータスで挿入する。
func (q *orderQueries) CreateOrder(ctx context.Context, id, userID, itemsJSON string, totalSum float64) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, items_json, status, total_sum) VALUES (?, ?, ?, 'created', ?)`,
		id, userID, itemsJSON, totalSum,
	)
	if err != nil {
		return fmt.Errorf("注文の作成に失敗: %w", err)
	}
	return nil
}

// GetOrderByID はIDで注文を取得する。
func (q *orderQueries) GetOrderByID(ctx context.Context, id string) (Order, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)

	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.ItemsJSON, &o.Status, &o.TotalSum, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("注文の読み取りに失敗: %w", err)
	}
	return o, nil
}

// ListOrdersByUser は指定ユーザーの注文一覧をページ指定で取得する。
// sortColumnはsortColumnsの値、descはソート方向を指定する。
func (q *orderQueries) ListOrdersByUser(ctx context.Context, userID, sortColumn string, desc bool, limit, offset int) ([]Order, error) {
	direction := "ASC"
	if desc {
		direction = "DESC"
	}
	query := fmt.Sprintf(
		`SELECT %s FROM orders WHERE user_id = ? ORDER BY %s %s LIMIT ? OFFSET ?`,
		orderColumns, sortColumn, direction,
	)

	rows, err := q.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("注文一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.ItemsJSON, &o.Status, &o.TotalSum, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("注文の読み取りに失敗: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// CountOrdersByUser は指定ユーザーの注文総数（ページング前）を返す。
func (q *orderQueries) CountOrdersByUser(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("注文総数の取得に失敗: %w", err)
	}
	return total, nil
}

// TransitionStatus は注文のステータスを1つのトランザクション内の
// read-modify-writeで更新する。DSNの_txlock=immediateにより
// 同一注文への並行した遷移要求が更新を失うことはない。
//
// guardは現在のステータスを受け取り、遷移の可否を判定する。
// errSkipTransitionを返した場合は更新せず現在の行をそのまま返す
// （changed=false）。その他のエラーはそのまま呼び出し元に伝播する。
func (q *orderQueries) TransitionStatus(ctx context.Context, id, next string, guard func(current string) error) (o Order, changed bool, err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, false, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	scanErr := row.Scan(&o.ID, &o.UserID, &o.ItemsJSON, &o.Status, &o.TotalSum, &o.CreatedAt, &o.UpdatedAt)
	if scanErr == sql.ErrNoRows {
		return Order{}, false, ErrNotFound
	}
	if scanErr != nil {
		return Order{}, false, fmt.Errorf("注文の読み取りに失敗: %w", scanErr)
	}

	if guardErr := guard(o.Status); guardErr != nil {
		if errors.Is(guardErr, errSkipTransition) {
			return o, false, nil
		}
		return Order{}, false, guardErr
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		next, id,
	); err != nil {
		return Order{}, false, fmt.Errorf("注文の更新に失敗: %w", err)
	}

	row = tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	if err := row.Scan(&o.ID, &o.UserID, &o.ItemsJSON, &o.Status, &o.TotalSum, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, false, fmt.Errorf("更新後の注文の読み取りに失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Order{}, false, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return o, true, nil
}
