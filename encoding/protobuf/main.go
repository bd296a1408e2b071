/*
Package protobuf は、 Protocol Buffers を使用したエンコーディングを提供するパッケージです。

全てのエンベロープは、 Envelope をシリアライズした1つのバイナリフレームとして送受信されます。
*/
package protobuf

import (
	"sync"
	"time"

	"github.com/gogo/protobuf/proto"

	"github.com/aptpod/wsconn-go/encoding"
	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/transport"
)

func init() {
	encoding.Register(encoding.NameProtobuf, NewEncoding)
}

type encoder struct{}

/*
NewEncoding は、 Protocol Buffers 用エンコーディングを生成します。
*/
func NewEncoding() encoding.Encoding {
	return &encoder{}
}

func (e *encoder) Name() encoding.Name {
	return encoding.NameProtobuf
}

const bufferSize = 4096

var globalEncodeBufferPool = sync.Pool{
	New: func() interface{} {
		return proto.NewBuffer(make([]byte, 0, bufferSize))
	},
}

var (
	toProtoType = map[message.Type]Type{
		message.TypeText:      Type_TYPE_TEXT,
		message.TypeJSON:      Type_TYPE_JSON,
		message.TypeBinary:    Type_TYPE_BINARY,
		message.TypeHeartbeat: Type_TYPE_HEARTBEAT,
		message.TypeAck:       Type_TYPE_ACK,
	}
	fromProtoType = map[Type]message.Type{
		Type_TYPE_TEXT:      message.TypeText,
		Type_TYPE_JSON:      message.TypeJSON,
		Type_TYPE_BINARY:    message.TypeBinary,
		Type_TYPE_HEARTBEAT: message.TypeHeartbeat,
		Type_TYPE_ACK:       message.TypeAck,
	}
)

func (e *encoder) Encode(m message.Envelope) (transport.Frame, error) {
	tp, ok := toProtoType[m.Type]
	if !ok {
		return transport.Frame{}, errors.Errorf("unknown message type %q: %w", m.Type, errors.ErrMalformedMessage)
	}

	// NOTE: reuse encoder buffer
	buf := globalEncodeBufferPool.Get().(*proto.Buffer)
	defer func() {
		buf.Reset()
		globalEncodeBufferPool.Put(buf)
	}()

	pb := &Envelope{
		Id:                m.ID,
		Type:              tp,
		Data:              m.Data,
		TimestampUnixNano: unixNano(m.Timestamp),
		Priority:          int32(m.Priority.Normalize()),
		NeedsAck:          m.NeedsAck,
		AckId:             m.AckID,
		ExpiresAtUnixNano: unixNano(m.ExpiresAt),
	}
	if err := buf.Marshal(pb); err != nil {
		return transport.Frame{}, errors.Errorf("%v: %w", err, errors.ErrMalformedMessage)
	}
	return transport.Frame{
		Type: transport.FrameBinary,
		Data: append([]byte(nil), buf.Bytes()...),
	}, nil
}

func (e *encoder) Decode(f transport.Frame) (message.Envelope, error) {
	if f.Type != transport.FrameBinary {
		return message.Envelope{}, errors.Errorf("protobuf encoding expects a binary frame but got %v: %w", f.Type, errors.ErrMalformedMessage)
	}
	var pb Envelope
	if err := proto.Unmarshal(f.Data, &pb); err != nil {
		return message.Envelope{}, errors.Errorf("%v: %w", err, errors.ErrMalformedMessage)
	}
	tp, ok := fromProtoType[pb.Type]
	if !ok {
		return message.Envelope{}, errors.Errorf("unknown message type %v: %w", pb.Type, errors.ErrMalformedMessage)
	}
	res := message.Envelope{
		ID:        pb.Id,
		Type:      tp,
		Data:      pb.Data,
		Priority:  message.Priority(pb.Priority).Normalize(),
		NeedsAck:  pb.NeedsAck,
		AckID:     pb.AckId,
		Timestamp: fromUnixNano(pb.TimestampUnixNano),
		ExpiresAt: fromUnixNano(pb.ExpiresAtUnixNano),
	}
	if res.ID == "" {
		res.ID = message.NewID()
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = message.Now()
	}
	return res, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
