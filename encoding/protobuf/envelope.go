package protobuf

import (
	"github.com/gogo/protobuf/proto"
)

// Envelopeは、Protocol Buffersで送受信するエンベロープのスキーマです。
//
//	message Envelope {
//	  string id = 1;
//	  Type type = 2;
//	  bytes data = 3;
//	  int64 timestamp_unix_nano = 4;
//	  int32 priority = 5;
//	  bool needs_ack = 6;
//	  string ack_id = 7;
//	  int64 expires_at_unix_nano = 8;
//	}
type Envelope struct {
	Id                string `protobuf:"bytes,1,opt,name=id,proto3" json:"id,omitempty"`
	Type              Type   `protobuf:"varint,2,opt,name=type,proto3,enum=wsconn.v1.Type" json:"type,omitempty"`
	Data              []byte `protobuf:"bytes,3,opt,name=data,proto3" json:"data,omitempty"`
	TimestampUnixNano int64  `protobuf:"varint,4,opt,name=timestamp_unix_nano,json=timestampUnixNano,proto3" json:"timestamp_unix_nano,omitempty"`
	Priority          int32  `protobuf:"varint,5,opt,name=priority,proto3" json:"priority,omitempty"`
	NeedsAck          bool   `protobuf:"varint,6,opt,name=needs_ack,json=needsAck,proto3" json:"needs_ack,omitempty"`
	AckId             string `protobuf:"bytes,7,opt,name=ack_id,json=ackId,proto3" json:"ack_id,omitempty"`
	ExpiresAtUnixNano int64  `protobuf:"varint,8,opt,name=expires_at_unix_nano,json=expiresAtUnixNano,proto3" json:"expires_at_unix_nano,omitempty"`
}

func (m *Envelope) Reset()         { *m = Envelope{} }
func (m *Envelope) String() string { return proto.CompactTextString(m) }
func (*Envelope) ProtoMessage()    {}

// Typeは、エンベロープのペイロード種別です。
type Type int32

const (
	Type_TYPE_UNSPECIFIED Type = 0
	Type_TYPE_TEXT        Type = 1
	Type_TYPE_JSON        Type = 2
	Type_TYPE_BINARY      Type = 3
	Type_TYPE_HEARTBEAT   Type = 4
	Type_TYPE_ACK         Type = 5
)

var Type_name = map[int32]string{
	0: "TYPE_UNSPECIFIED",
	1: "TYPE_TEXT",
	2: "TYPE_JSON",
	3: "TYPE_BINARY",
	4: "TYPE_HEARTBEAT",
	5: "TYPE_ACK",
}

var Type_value = map[string]int32{
	"TYPE_UNSPECIFIED": 0,
	"TYPE_TEXT":        1,
	"TYPE_JSON":        2,
	"TYPE_BINARY":      3,
	"TYPE_HEARTBEAT":   4,
	"TYPE_ACK":         5,
}

func (x Type) String() string {
	return proto.EnumName(Type_name, int32(x))
}

func init() {
	proto.RegisterEnum("wsconn.v1.Type", Type_name, Type_value)
	proto.RegisterType((*Envelope)(nil), "wsconn.v1.Envelope")
}
