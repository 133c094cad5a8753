// Package orders は注文サービスの内部実装を提供する。
//
// 注文の作成・取得・一覧・ステータス更新・キャンセルを担当する。
// ステータスはcreated→in_progress→completed、および
// created|in_progress→cancelledの遷移グラフに沿ってのみ変更できる。
// 注文作成時はUsersサービスへの同期的な存在確認で所有者を検証し、
// 状態変更時はドメインイベントをイベントシンクに発行する。
package orders
