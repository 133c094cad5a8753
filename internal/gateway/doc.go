// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線と
// して機能する。クライアントIP単位のレート制限、相関IDの解決、パス
// プレフィックスによるルーティング、認証要否の判定とJWT検証を行った
// うえで、リクエストを内部サービスにそのまま転送する。検証済みの
// クレームを信頼済みヘッダーとして注入することはせず、元のBearer
// トークンを変更せずに転送し、内部サービス側で独立に再検証させる。
// ビジネスペイロードの検査・変更は一切行わない。
package gateway
