// Package httpclient はサービス間通信用のHTTPクライアントを提供する。
//
// JSONリクエスト/レスポンスの送受信と相関ID（X-Request-ID）の伝播を行う。
package httpclient
