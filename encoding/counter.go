package encoding

import (
	"sync"
	"sync/atomic"

	"github.com/aptpod/wsconn-go/message"
)

// TypeCountは、1つのメッセージ種別について伝送したメッセージ数とフレームのバイト数です。
type TypeCount struct {
	Messages uint64
	Bytes    uint64
}

// Countは、メッセージ種別ごとのTypeCountです。
type Count map[message.Type]TypeCount

// Totalは、全種別の合計を返却します。
func (c Count) Total() TypeCount {
	var res TypeCount
	for _, v := range c {
		res.Messages += v.Messages
		res.Bytes += v.Bytes
	}
	return res
}

// counter is safe for concurrent use. Types are few, so entries are never removed.
type counter struct {
	total   atomic.Uint64
	entries sync.Map // message.Type -> *counterEntry
}

type counterEntry struct {
	messages atomic.Uint64
	bytes    atomic.Uint64
}

func (c *counter) add(tp message.Type, n int) {
	v, ok := c.entries.Load(tp)
	if !ok {
		v, _ = c.entries.LoadOrStore(tp, &counterEntry{})
	}
	e := v.(*counterEntry)
	e.messages.Add(1)
	e.bytes.Add(uint64(n))
	c.total.Add(1)
}

func (c *counter) snapshot() Count {
	res := Count{}
	c.entries.Range(func(k, v any) bool {
		e := v.(*counterEntry)
		res[k.(message.Type)] = TypeCount{Messages: e.messages.Load(), Bytes: e.bytes.Load()}
		return true
	})
	return res
}
