// Package event は注文に関するドメインイベントの型とイベントシンクを提供する。
//
// シンク実装はログ出力と外部コレクタへのHTTP POSTの2種類。
// Sinkインターフェースを介して発行するため、将来メッセージブローカー
// への発行に置き換えてもOrderサービスの呼び出し側コードは変更不要。
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Name はドメインイベントの種類を表す。
type Name string

const (
	// NameOrderCreated は注文が作成されたことを表す。
	NameOrderCreated Name = "order.created"
	// NameOrderStatusUpdated は注文のステータスが更新されたことを表す。
	NameOrderStatusUpdated Name = "order.status_updated"
	// NameOrderCancelled は注文がキャンセルされたことを表す。
	NameOrderCancelled Name = "order.cancelled"
)

// Event は不変のドメインイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// Name はイベントの種類。
	Name Name `json:"name"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// OccurredAt はイベントが発生した日時。
	OccurredAt time.Time `json:"occurred_at"`
}

// OrderCreatedData はorder.createdイベントのデータ。
type OrderCreatedData struct {
	// OrderID は作成された注文のID。
	OrderID string `json:"order_id"`
	// UserID は注文の所有者のID。
	UserID string `json:"user_id"`
}

// OrderStatusUpdatedData はorder.status_updatedイベントのデータ。
type OrderStatusUpdatedData struct {
	// OrderID は更新された注文のID。
	OrderID string `json:"order_id"`
	// Status は更新後のステータス。
	Status string `json:"status"`
}

// OrderCancelledData はorder.cancelledイベントのデータ。
type OrderCancelledData struct {
	// OrderID はキャンセルされた注文のID。
	OrderID string `json:"order_id"`
}

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(name Name, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:         uuid.New().String(),
		Name:       name,
		Data:       jsonData,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
