/*
Package message は、wsconn で送受信するメッセージの単位であるエンベロープを定義するパッケージです。
*/
package message

import (
	"time"

	uuid "github.com/google/uuid"
)

// Typeは、エンベロープのペイロード種別です。
type Type string

const (
	// TypeTextは、プレーンテキストのペイロードです。
	TypeText Type = "text"
	// TypeJSONは、JSONとして構造化されたペイロードです。
	TypeJSON Type = "json"
	// TypeBinaryは、バイナリのペイロードです。
	TypeBinary Type = "binary"
	// TypeHeartbeatは、死活監視のためのハートビートです。ライブラリ内部で使用します。
	TypeHeartbeat Type = "heartbeat"
	// TypeAckは、送信済みメッセージに対する確認応答です。ライブラリ内部で使用します。
	TypeAck Type = "ack"
)

// IsValidは、種別が定義済みの値かどうかを返却します。
func (t Type) IsValid() bool {
	switch t {
	case TypeText, TypeJSON, TypeBinary, TypeHeartbeat, TypeAck:
		return true
	}
	return false
}

// IsControlは、ライブラリ内部で消費される制御用の種別かどうかを返却します。
func (t Type) IsControl() bool {
	return t == TypeHeartbeat || t == TypeAck
}

// Priorityは、キューに滞留しているエンベロープの送出順序を決める優先度です。
//
// 値が小さいほど優先されます。ゼロ値はPriorityNormalとして扱います。
type Priority int

const (
	// PriorityUrgentは、最も優先される優先度です。
	PriorityUrgent Priority = iota + 1
	// PriorityHighは、通常より優先される優先度です。
	PriorityHigh
	// PriorityNormalは、既定の優先度です。
	PriorityNormal
	// PriorityLowは、最も後回しにされる優先度です。
	PriorityLow
)

// Normalizeは、未設定の優先度をPriorityNormalへ置き換えます。
func (p Priority) Normalize() Priority {
	if p < PriorityUrgent || p > PriorityLow {
		return PriorityNormal
	}
	return p
}

func (p Priority) String() string {
	switch p.Normalize() {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Envelopeは、送受信するメッセージの単位です。
type Envelope struct {
	// ID は重複排除の基準となる一意なキーです。
	ID string `json:"id"`
	// Type はペイロード種別です。
	Type Type `json:"type"`
	// Data はエンコード済みのペイロードです。
	//
	// TypeJSONの場合はJSONテキスト、TypeTextの場合はUTF-8テキスト、TypeBinaryの場合は任意のバイト列です。
	Data []byte `json:"data,omitempty"`
	// Priority はキュー内での送出優先度です。
	Priority Priority `json:"priority,omitempty"`
	// NeedsAck は受信側からの確認応答を要求するかどうかです。
	NeedsAck bool `json:"needsAck,omitempty"`
	// AckID は確認応答の対象となるエンベロープのIDです。TypeAckの場合のみ設定されます。
	AckID string `json:"ackId,omitempty"`
	// Timestamp はエンベロープの生成時刻です。
	Timestamp time.Time `json:"timestamp"`
	// EnqueuedAt はキューへ投入された時刻です。
	EnqueuedAt time.Time `json:"enqueuedAt,omitempty"`
	// ExpiresAt は有効期限です。ゼロ値の場合は期限なしです。
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	// RetryCount はキューからの再送回数です。
	RetryCount int `json:"retryCount,omitempty"`
}

// Nowは、message内で利用する現在時刻関数です。
var Now = time.Now

// NewIDは、エンベロープIDを新たに払い出します。
func NewID() string {
	return uuid.NewString()
}

// Newは、IDと生成時刻を設定したエンベロープを返却します。
func New(tp Type, data []byte) Envelope {
	return Envelope{
		ID:        NewID(),
		Type:      tp,
		Data:      data,
		Priority:  PriorityNormal,
		Timestamp: Now(),
	}
}

// Expiredは、指定時刻の時点で有効期限が切れているかどうかを返却します。
func (e *Envelope) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Cloneは、ペイロードを複製したエンベロープを返却します。
func (e Envelope) Clone() Envelope {
	if e.Data != nil {
		e.Data = append([]byte(nil), e.Data...)
	}
	return e
}
