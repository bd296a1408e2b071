package wsconn

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
)

type sendOptions struct {
	tp       message.Type
	id       string
	ttl      time.Duration
	priority message.Priority
}

// SendOptionは、Sendのオプションです。
type SendOption func(*sendOptions)

// WithTypeは、ペイロード種別を指定します。
//
// 指定しない場合、stringはTypeText、[]byteはTypeBinary、それ以外はTypeJSONとして扱います。
func WithType(tp message.Type) SendOption {
	return func(o *sendOptions) {
		o.tp = tp
	}
}

// WithIDは、エンベロープIDを指定します。重複排除の基準になります。
func WithID(id string) SendOption {
	return func(o *sendOptions) {
		o.id = id
	}
}

// WithTTLは、メッセージの有効期間を指定します。キューの既定の有効期間より優先されます。
func WithTTL(ttl time.Duration) SendOption {
	return func(o *sendOptions) {
		o.ttl = ttl
	}
}

// WithPriorityは、キュー内での優先度を指定します。
func WithPriority(p message.Priority) SendOption {
	return func(o *sendOptions) {
		o.priority = p
	}
}

func buildEnvelope(payload any, opts []SendOption) (message.Envelope, error) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		tp   message.Type
		data []byte
	)
	switch p := payload.(type) {
	case nil:
		return message.Envelope{}, fmt.Errorf("nil payload: %w", errors.ErrMalformedMessage)
	case string:
		tp, data = message.TypeText, []byte(p)
	case []byte:
		tp, data = message.TypeBinary, append([]byte(nil), p...)
	case json.RawMessage:
		tp, data = message.TypeJSON, append([]byte(nil), p...)
	default:
		bs, err := json.Marshal(p)
		if err != nil {
			return message.Envelope{}, fmt.Errorf("marshal payload: %v: %w", err, errors.ErrMalformedMessage)
		}
		tp, data = message.TypeJSON, bs
	}

	if o.tp != "" {
		if !o.tp.IsValid() || o.tp.IsControl() {
			return message.Envelope{}, fmt.Errorf("unsupported message type %q: %w", o.tp, errors.ErrMalformedMessage)
		}
		tp = o.tp
	}
	switch tp {
	case message.TypeText:
		if !utf8.Valid(data) {
			return message.Envelope{}, fmt.Errorf("text payload is not valid UTF-8: %w", errors.ErrMalformedMessage)
		}
	case message.TypeJSON:
		if !json.Valid(data) {
			return message.Envelope{}, fmt.Errorf("json payload is not valid JSON: %w", errors.ErrMalformedMessage)
		}
	}

	env := message.New(tp, data)
	if o.id != "" {
		env.ID = o.id
	}
	if o.priority != 0 {
		env.Priority = o.priority.Normalize()
	}
	if o.ttl > 0 {
		env.ExpiresAt = env.Timestamp.Add(o.ttl)
	}
	return env, nil
}
