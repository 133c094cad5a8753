// Package authz は認可の判定ロジックを提供する。
//
// 公開ルートの判定、注文リソースへのアクセス可否、注文ステータスの
// 状態遷移の合法性を判定する純粋関数のみを含む。I/Oは一切行わず、
// GatewayとOrderサービスの両方から同じ判定を参照できるようにする。
package authz

import "slices"

// RoleAdmin は管理者ロールの名称。
const RoleAdmin = "admin"

// RoleUser は一般ユーザーロールの名称。登録時のデフォルトロール。
const RoleUser = "user"

// publicRoutes は認証不要の公開ルートの許可リスト。
// キーは "メソッド パス" 形式。ここに含まれないルートはすべて認証必須
// （デフォルト拒否）として扱う。
var publicRoutes = map[string]struct{}{
	"POST /v1/users/register": {},
	"POST /v1/users/login":    {},
	"GET /health":             {},
}

// RequiresAuth は指定されたメソッドとパスの組み合わせが認証を
// 必要とするかを判定する。許可リストに含まれる公開ルート以外は
// すべて認証必須。
func RequiresAuth(method, path string) bool {
	_, public := publicRoutes[method+" "+path]
	return !public
}

// CanAccessOrder は呼び出し元が注文の取得・更新を行えるかを判定する。
// 注文の所有者本人、または管理者ロールを持つ場合のみ許可する。
func CanAccessOrder(subjectID string, roles []string, ownerID string) bool {
	return subjectID == ownerID || IsAdmin(roles)
}

// CanCancelOrder は呼び出し元が注文をキャンセルできるかを判定する。
// 現在のルールはCanAccessOrderと同一だが、将来キャンセル固有の条件を
// 追加できるよう独立した関数として定義する。
func CanCancelOrder(subjectID string, roles []string, ownerID string) bool {
	return subjectID == ownerID || IsAdmin(roles)
}

// IsAdmin はロール一覧に管理者ロールが含まれるかを判定する。
func IsAdmin(roles []string) bool {
	return slices.Contains(roles, RoleAdmin)
}

// Status は注文のステータスを表す。
type Status string

const (
	// StatusCreated は注文作成直後の初期ステータス。
	StatusCreated Status = "created"
	// StatusInProgress は処理中の注文を表す。
	StatusInProgress Status = "in_progress"
	// StatusCompleted は完了した注文を表す。終端ステータス。
	StatusCompleted Status = "completed"
	// StatusCancelled はキャンセルされた注文を表す。終端ステータス。
	StatusCancelled Status = "cancelled"
)

// transitions は合法な状態遷移のグラフ。
// created → in_progress → completed、および
// created|in_progress → cancelled のみを許可する。
var transitions = map[Status][]Status{
	StatusCreated:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// ParseStatus は文字列をStatusに変換する。
// 未知のステータスリテラルの場合はfalseを返す。
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusCreated, StatusInProgress, StatusCompleted, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// CanTransition は現在のステータスから要求されたステータスへの遷移が
// 合法かを判定する。
func CanTransition(current, next Status) bool {
	return slices.Contains(transitions[current], next)
}
