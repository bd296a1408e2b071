package protobuf_test

import (
	"testing"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptpod/wsconn-go/encoding"
	. "github.com/aptpod/wsconn-go/encoding/protobuf"
	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/transport"
)

func TestEncoding_EncodeDecode(t *testing.T) {
	ts := time.Unix(1700000000, 123)
	tests := []struct {
		name string
		in   message.Envelope
	}{
		{name: "text", in: message.Envelope{ID: "1", Type: message.TypeText, Data: []byte("hello"), Timestamp: ts, Priority: message.PriorityNormal}},
		{name: "json", in: message.Envelope{ID: "2", Type: message.TypeJSON, Data: []byte(`{"a":1}`), Timestamp: ts, Priority: message.PriorityUrgent, NeedsAck: true}},
		{name: "binary", in: message.Envelope{ID: "3", Type: message.TypeBinary, Data: []byte{0, 1, 2}, Timestamp: ts, Priority: message.PriorityLow, ExpiresAt: ts.Add(time.Minute)}},
		{name: "heartbeat", in: message.Envelope{ID: "4", Type: message.TypeHeartbeat, Data: []byte("ping"), Timestamp: ts, Priority: message.PriorityHigh}},
		{name: "ack", in: message.Envelope{ID: "5", Type: message.TypeAck, AckID: "2", Timestamp: ts, Priority: message.PriorityNormal}},
	}
	testee := NewEncoding()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := testee.Encode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, transport.FrameBinary, f.Type)

			got, err := testee.Decode(f)
			require.NoError(t, err)
			assert.Equal(t, tt.in.ID, got.ID)
			assert.Equal(t, tt.in.Type, got.Type)
			assert.Equal(t, tt.in.Data, got.Data)
			assert.Equal(t, tt.in.Priority, got.Priority)
			assert.Equal(t, tt.in.NeedsAck, got.NeedsAck)
			assert.Equal(t, tt.in.AckID, got.AckID)
			assert.True(t, tt.in.Timestamp.Equal(got.Timestamp))
			assert.True(t, tt.in.ExpiresAt.Equal(got.ExpiresAt))
		})
	}
}

func TestEncoding_Decode_Malformed(t *testing.T) {
	testee := NewEncoding()

	_, err := testee.Decode(transport.TextFrame("hello"))
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)

	_, err = testee.Decode(transport.BinaryFrame([]byte{0xff, 0xff, 0xff}))
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)

	bs, err := proto.Marshal(&Envelope{Id: "x", Type: Type(42)})
	require.NoError(t, err)
	_, err = testee.Decode(transport.BinaryFrame(bs))
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)

	_, err = testee.Encode(message.Envelope{Type: message.Type("xml")})
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
}

func TestRegistered(t *testing.T) {
	e, err := encoding.Get(encoding.NameProtobuf)
	require.NoError(t, err)
	assert.Equal(t, encoding.NameProtobuf, e.Name())
}
