package event

import (
	"context"
	"log"
)

// Sink はドメインイベントの発行先を表す。
// ログ出力実装と将来のメッセージブローカー実装が同じ契約を満たす。
type Sink interface {
	// Publish はイベントを発行する。
	Publish(ctx context.Context, e *Event) error
}

// LogSink はイベントをログに出力するSink実装。
type LogSink struct{}

// NewLogSink は新しいLogSinkを生成する。
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Publish はイベントをログ行として出力する。常に成功する。
func (s *LogSink) Publish(_ context.Context, e *Event) error {
	log.Printf("[EVENT] name=%s id=%s data=%s", e.Name, e.ID, string(e.Data))
	return nil
}
