package event

import (
	"context"
	"fmt"

	"github.com/nao1215/orderhub/pkg/httpclient"
)

// WebhookSink はイベントを外部コレクタにHTTP POSTで発行するSink実装。
// コレクタ側の受信エンドポイントは POST /events を想定する。
type WebhookSink struct {
	// client はコレクタへのHTTPクライアント。
	client *httpclient.Client
}

// NewWebhookSink は新しいWebhookSinkを生成する。
// baseURLにはコレクタのベースURL（例: "http://collector:8010"）を指定する。
func NewWebhookSink(baseURL string) *WebhookSink {
	return &WebhookSink{client: httpclient.New(baseURL)}
}

// Publish はイベントをコレクタにPOSTする。
// 2xx以外の応答と通信障害はエラーとして返す。発行を試行に留めるか
// どうか（失敗時にリクエストを失敗させない等）は呼び出し側が決める。
func (s *WebhookSink) Publish(ctx context.Context, e *Event) error {
	if err := s.client.PostJSON(ctx, "/events", e, nil); err != nil {
		return fmt.Errorf("イベントの送信に失敗: %w", err)
	}
	return nil
}
