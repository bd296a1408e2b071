/*
Package json は、 JSON フォーマットを使用したエンコーディングを提供するパッケージです。

テキストはそのままテキストフレームへ、バイナリはそのままバイナリフレームへ変換されます。
JSONとハートビートはエンベロープ形式のJSONオブジェクトとしてテキストフレームへ変換されます。

	{"id":"...","type":"json","data":{...},"timestamp":1700000000000,"priority":"normal","needsAck":false}
*/
package json

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/aptpod/wsconn-go/encoding"
	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/transport"
)

func init() {
	encoding.Register(encoding.NameJSON, NewEncoding)
}

type encoder struct{}

/*
NewEncoding は、 JSON フォーマット用エンコーディングを生成します。
*/
func NewEncoding() encoding.Encoding {
	return &encoder{}
}

func (e *encoder) Name() encoding.Name {
	return encoding.NameJSON
}

type wireEnvelope struct {
	ID        string          `json:"id,omitempty"`
	Type      message.Type    `json:"type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Priority  string          `json:"priority,omitempty"`
	NeedsAck  bool            `json:"needsAck,omitempty"`
	AckID     string          `json:"ackId,omitempty"`
}

func (e *encoder) Encode(m message.Envelope) (transport.Frame, error) {
	switch m.Type {
	case message.TypeText:
		if !utf8.Valid(m.Data) {
			return transport.Frame{}, errors.Errorf("text payload is not valid UTF-8: %w", errors.ErrMalformedMessage)
		}
		return transport.Frame{Type: transport.FrameText, Data: m.Data}, nil
	case message.TypeBinary:
		return transport.Frame{Type: transport.FrameBinary, Data: m.Data}, nil
	case message.TypeJSON:
		data := m.Data
		if len(data) == 0 {
			data = []byte("null")
		}
		if !json.Valid(data) {
			return transport.Frame{}, errors.Errorf("json payload is not valid JSON: %w", errors.ErrMalformedMessage)
		}
		return marshal(wireEnvelope{
			ID:        m.ID,
			Type:      message.TypeJSON,
			Data:      data,
			Timestamp: toMillis(m.Timestamp),
			Priority:  m.Priority.Normalize().String(),
			NeedsAck:  m.NeedsAck,
		})
	case message.TypeHeartbeat:
		data, err := json.Marshal(string(m.Data))
		if err != nil {
			return transport.Frame{}, errors.Errorf("%v: %w", err, errors.ErrMalformedMessage)
		}
		return marshal(wireEnvelope{
			Type:      message.TypeHeartbeat,
			Data:      data,
			Timestamp: toMillis(m.Timestamp),
		})
	case message.TypeAck:
		return marshal(wireEnvelope{AckID: m.AckID})
	}
	return transport.Frame{}, errors.Errorf("unknown message type %q: %w", m.Type, errors.ErrMalformedMessage)
}

func (e *encoder) Decode(f transport.Frame) (message.Envelope, error) {
	switch f.Type {
	case transport.FrameBinary:
		return newEnvelope(message.TypeBinary, f.Data), nil
	case transport.FrameText:
		return decodeText(f.Data)
	}
	return message.Envelope{}, errors.Errorf("unknown frame type %v: %w", f.Type, errors.ErrMalformedMessage)
}

func decodeText(bs []byte) (message.Envelope, error) {
	if !utf8.Valid(bs) {
		return message.Envelope{}, errors.Errorf("text frame is not valid UTF-8: %w", errors.ErrMalformedMessage)
	}
	trimmed := bytes.TrimSpace(bs)
	if !json.Valid(trimmed) {
		return newEnvelope(message.TypeText, bs), nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return newEnvelope(message.TypeJSON, trimmed), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return message.Envelope{}, errors.Errorf("%v: %w", err, errors.ErrMalformedMessage)
	}
	if ackID, ok := ackIDOf(fields); ok {
		res := newEnvelope(message.TypeAck, nil)
		res.AckID = ackID
		return res, nil
	}

	var w wireEnvelope
	if err := json.Unmarshal(trimmed, &w); err != nil {
		// Not shaped like an envelope, deliver the object as is.
		return newEnvelope(message.TypeJSON, trimmed), nil
	}
	switch w.Type {
	case message.TypeHeartbeat:
		res := newEnvelope(message.TypeHeartbeat, unquote(w.Data))
		if w.Timestamp > 0 {
			res.Timestamp = fromMillis(w.Timestamp)
		}
		return res, nil
	case message.TypeJSON, message.TypeText:
		if _, ok := fields["data"]; !ok {
			return newEnvelope(message.TypeJSON, trimmed), nil
		}
		data := []byte(w.Data)
		if w.Type == message.TypeText {
			data = unquote(w.Data)
		}
		res := newEnvelope(w.Type, data)
		if w.ID != "" {
			res.ID = w.ID
		}
		if w.Timestamp > 0 {
			res.Timestamp = fromMillis(w.Timestamp)
		}
		res.Priority = parsePriority(w.Priority)
		res.NeedsAck = w.NeedsAck
		return res, nil
	}
	return newEnvelope(message.TypeJSON, trimmed), nil
}

func ackIDOf(fields map[string]json.RawMessage) (string, bool) {
	if raw, ok := fields["ackId"]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			return id, true
		}
	}
	raw, ok := fields["data"]
	if !ok {
		return "", false
	}
	var inner struct {
		AckID string `json:"ackId"`
	}
	if err := json.Unmarshal(raw, &inner); err != nil || inner.AckID == "" {
		return "", false
	}
	return inner.AckID, true
}

func newEnvelope(tp message.Type, data []byte) message.Envelope {
	return message.New(tp, data)
}

func marshal(w wireEnvelope) (transport.Frame, error) {
	bs, err := json.Marshal(w)
	if err != nil {
		return transport.Frame{}, errors.Errorf("%v: %w", err, errors.ErrMalformedMessage)
	}
	return transport.Frame{Type: transport.FrameText, Data: bs}, nil
}

func unquote(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}

func parsePriority(s string) message.Priority {
	switch s {
	case "urgent":
		return message.PriorityUrgent
	case "high":
		return message.PriorityHigh
	case "low":
		return message.PriorityLow
	}
	if n, err := strconv.Atoi(s); err == nil {
		return message.Priority(n).Normalize()
	}
	return message.PriorityNormal
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
