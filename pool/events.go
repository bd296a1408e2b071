package pool

import (
	"sort"
	"sync"

	"github.com/aptpod/wsconn-go/message"
)

// Eventは、プールが通知するイベントです。
type Event interface {
	isEvent()
}

// ConnectionAddedEventは、メンバーがプールへ追加されたことを表します。
type ConnectionAddedEvent struct {
	Name string
}

// ConnectionRemovedEventは、メンバーがプールから削除されたことを表します。
type ConnectionRemovedEvent struct {
	Name string
}

// ConnectionFailedEventは、メンバーのコネクションが回復不能なエラーでCLOSEDへ遷移したことを表します。
type ConnectionFailedEvent struct {
	Name string
	Err  error
}

// HealthCheckFailedEventは、メンバーがヘルスチェックに連続して失敗し、選択対象から外れたことを表します。
type HealthCheckFailedEvent struct {
	Name     string
	Failures int
	Err      error
}

// HealthCheckRecoveredEventは、ヘルスチェックに失敗していたメンバーが復帰したことを表します。
type HealthCheckRecoveredEvent struct {
	Name string
}

// MessageReceivedEventは、メンバーのいずれかがメッセージを受信したことを表します。
type MessageReceivedEvent struct {
	Name     string
	Envelope message.Envelope
}

func (*ConnectionAddedEvent) isEvent()      {}
func (*ConnectionRemovedEvent) isEvent()    {}
func (*ConnectionFailedEvent) isEvent()     {}
func (*HealthCheckFailedEvent) isEvent()    {}
func (*HealthCheckRecoveredEvent) isEvent() {}
func (*MessageReceivedEvent) isEvent()      {}

// EventHandlerは、プールのイベントハンドラです。
//
// ハンドラはプールのロックを保持していない状態で呼び出されます。
type EventHandler interface {
	OnEvent(ev Event)
}

// EventHandlerFuncは、EventHandlerの関数実装です。
type EventHandlerFunc func(ev Event)

func (f EventHandlerFunc) OnEvent(ev Event) {
	f(ev)
}

type subscribers struct {
	mu       sync.Mutex
	next     int
	handlers map[int]EventHandler
}

func (s *subscribers) add(h EventHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = map[int]EventHandler{}
	}
	id := s.next
	s.next++
	s.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.handlers, id)
		})
	}
}

func (s *subscribers) snapshot() []EventHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	res := make([]EventHandler, 0, len(ids))
	for _, id := range ids {
		res = append(res, s.handlers[id])
	}
	return res
}
