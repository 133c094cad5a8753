package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound はユーザーが存在しないことを表す。
var ErrNotFound = errors.New("ユーザーが見つかりません")

// ErrEmailTaken はメールアドレスの一意性違反を表す。
var ErrEmailTaken = errors.New("メールアドレスは既に使用されています")

// User はユーザーのDBレコードを表す。
type User struct {
	// ID はユーザーの一意識別子。
	ID string
	// Email はメールアドレス。全ユーザーで一意。
	Email string
	// PasswordHash はbcryptでハッシュ化されたパスワード。外部には公開しない。
	PasswordHash string
	// Name は表示名。
	Name string
	// Roles はカンマ区切りのロール一覧。
	Roles string
	// CreatedAt は作成日時。
	CreatedAt time.Time
	// UpdatedAt は更新日時。
	UpdatedAt time.Time
}

// RolesList はカンマ区切りのロール文字列をスライスに変換する。
func (u User) RolesList() []string {
	var roles []string
	for _, r := range strings.Split(u.Roles, ",") {
		if r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// userQueries はユーザーテーブルへのクエリ実行オブジェクト。
type userQueries struct {
	db *sql.DB
}

// newUserQueries は新しいクエリ実行オブジェクトを生成する。
func newUserQueries(db *sql.DB) *userQueries {
	return &userQueries{db: db}
}

// userColumns はSELECT句で使用するカラム一覧。
const userColumns = "id, email, password_hash, name, roles, created_at, updated_at"

// scanUser は1行をUserに読み取る。
func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Roles, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("ユーザーの読み取りに失敗: %w", err)
	}
	return u, nil
}

// CreateUser は新しいユーザーを挿入する。
// メールアドレスの一意性違反の場合はErrEmailTakenを返す。
func (q *userQueries) CreateUser(ctx context.Context, id, email, passwordHash, name, roles string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, roles) VALUES (?, ?, ?, ?, ?)`,
		id, email, passwordHash, name, roles,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEmailTaken
		}
		return fmt.Errorf("ユーザーの作成に失敗: %w", err)
	}
	return nil
}

// GetUserByID はIDでユーザーを取得する。
func (q *userQueries) GetUserByID(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail はメールアドレスでユーザーを取得する。
func (q *userQueries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// UpdateName はユーザーの表示名を更新し、更新日時を刷新する。
func (q *userQueries) UpdateName(ctx context.Context, id, name string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE users SET name = ?, updated_at = datetime('now') WHERE id = ?`,
		name, id,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの更新に失敗: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers はユーザーの一覧をページ指定で取得する。
// emailFilterが空でない場合、メールアドレスの大文字小文字を区別しない
// 部分一致で絞り込む。
func (q *userQueries) ListUsers(ctx context.Context, emailFilter string, limit, offset int) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	if emailFilter != "" {
		query += ` WHERE LOWER(email) LIKE '%' || LOWER(?) || '%'`
		args = append(args, emailFilter)
	}
	query += ` ORDER BY created_at ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Roles, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ユーザーの読み取りに失敗: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers はフィルタ条件に一致するユーザーの総数を返す。
func (q *userQueries) CountUsers(ctx context.Context, emailFilter string) (int64, error) {
	query := `SELECT COUNT(*) FROM users`
	args := []any{}
	if emailFilter != "" {
		query += ` WHERE LOWER(email) LIKE '%' || LOWER(?) || '%'`
		args = append(args, emailFilter)
	}

	var total int64
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("ユーザー総数の取得に失敗: %w", err)
	}
	return total, nil
}
