// Package users はユーザーサービスの内部実装を提供する。
//
// ユーザー登録、ログイン（JWT発行）、自身のプロフィール取得・更新、
// 管理者向けユーザー一覧、およびOrdersサービスが消費する内部向けの
// ユーザー存在確認を担当する。パスワードはbcryptでハッシュ化して
// 永続化し、ハッシュを外部に公開することはない。
package users
