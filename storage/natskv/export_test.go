package natskv

import "github.com/nats-io/nats.go"

type KeyValue = keyValue

var (
	_           KeyValue = (nats.KeyValue)(nil)
	SanitizeKey          = sanitizeKey
)

func NewWithKeyValue(kv KeyValue) *Store {
	return &Store{kv: kv}
}
