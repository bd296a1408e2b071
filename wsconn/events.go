package wsconn

import (
	"sort"
	"sync"
	"time"

	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/transport"
)

// Eventは、コネクションが通知するイベントです。
//
// 具象型は *ConnectedEvent などのポインタです。型switchで識別して下さい。
type Event interface {
	isEvent()
}

// ConnectedEventは、トランスポートが確立された時のイベントです。
type ConnectedEvent struct {
	// 接続先URL
	URL string
	// ハンドシェイクで合意したサブプロトコル。合意していない場合は空文字です。
	Protocol string
	// 何回目の再接続で確立したか。初回の接続では0です。
	Attempt int
}

// DisconnectedEventは、コネクションがCLOSEDへ遷移した時のイベントです。
type DisconnectedEvent struct {
	// クローズコード
	Code transport.CloseCode
	// クローズ理由
	Reason string
	// 終了の原因となったエラー。明示的な切断の場合はnilです。
	Err error
}

// ReconnectingEventは、再接続を予約した時のイベントです。
type ReconnectingEvent struct {
	// 何回目の再接続か
	Attempt int
	// 再接続までの待機時間
	Delay time.Duration
	// 再接続の原因となったエラー
	Err error
}

// MessageReceivedEventは、メッセージを受信した時のイベントです。
type MessageReceivedEvent struct {
	Envelope message.Envelope
}

// ErrorEventは、コネクションで発生したエラーのイベントです。
//
// 再接続によって回復する一時的なエラーも通知されます。
type ErrorEvent struct {
	Err error
}

// StateChangedEventは、状態が遷移した時のイベントです。
type StateChangedEvent struct {
	From State
	To   State
}

// DecodeErrorEventは、受信したフレームのデコードに失敗した時のイベントです。
//
// フレームは破棄され、コネクションは維持されます。
type DecodeErrorEvent struct {
	Err error
}

// QueueOverflowEventは、キューの上限を超えてエンベロープが追い出された時のイベントです。
type QueueOverflowEvent struct {
	// Errは *errors.QueueOverflowError です。
	Err     error
	Evicted []message.Envelope
}

// MessageSentEventは、エンベロープをトランスポートへ書き込んだ時のイベントです。
type MessageSentEvent struct {
	Envelope message.Envelope
}

// MessageFailedEventは、エンベロープの送信に失敗した時のイベントです。
type MessageFailedEvent struct {
	Envelope message.Envelope
	Err      error
	// Requeuedは、エンベロープをキューへ戻したかどうかです。
	Requeued bool
}

// HeartbeatTimeoutEventは、ハートビートの応答がタイムアウトした時のイベントです。
type HeartbeatTimeoutEvent struct {
	// 連続で失敗した回数
	Failures int
}

func (*ConnectedEvent) isEvent()        {}
func (*DisconnectedEvent) isEvent()     {}
func (*ReconnectingEvent) isEvent()     {}
func (*MessageReceivedEvent) isEvent()  {}
func (*ErrorEvent) isEvent()            {}
func (*StateChangedEvent) isEvent()     {}
func (*DecodeErrorEvent) isEvent()      {}
func (*QueueOverflowEvent) isEvent()    {}
func (*MessageSentEvent) isEvent()      {}
func (*MessageFailedEvent) isEvent()    {}
func (*HeartbeatTimeoutEvent) isEvent() {}

// EventHandlerは、全てのイベントを受け取るハンドラです。
type EventHandler interface {
	OnEvent(ev Event)
}

// EventHandlerFuncは、EventHandlerの関数です。
type EventHandlerFunc func(ev Event)

func (f EventHandlerFunc) OnEvent(ev Event) {
	f(ev)
}

// ConnectedEventHandlerは、接続が確立された時のイベントハンドラです。
type ConnectedEventHandler interface {
	OnConnected(ev *ConnectedEvent)
}

// ConnectedEventHandlerFuncは、ConnectedEventHandlerの関数です。
type ConnectedEventHandlerFunc func(ev *ConnectedEvent)

func (f ConnectedEventHandlerFunc) OnConnected(ev *ConnectedEvent) {
	f(ev)
}

// DisconnectedEventHandlerは、コネクションが終了した時のイベントハンドラです。
type DisconnectedEventHandler interface {
	OnDisconnected(ev *DisconnectedEvent)
}

// DisconnectedEventHandlerFuncは、DisconnectedEventHandlerの関数です。
type DisconnectedEventHandlerFunc func(ev *DisconnectedEvent)

func (f DisconnectedEventHandlerFunc) OnDisconnected(ev *DisconnectedEvent) {
	f(ev)
}

// ReconnectingEventHandlerは、再接続を予約した時のイベントハンドラです。
type ReconnectingEventHandler interface {
	OnReconnecting(ev *ReconnectingEvent)
}

// ReconnectingEventHandlerFuncは、ReconnectingEventHandlerの関数です。
type ReconnectingEventHandlerFunc func(ev *ReconnectingEvent)

func (f ReconnectingEventHandlerFunc) OnReconnecting(ev *ReconnectingEvent) {
	f(ev)
}

// MessageReceivedEventHandlerは、メッセージを受信した時のイベントハンドラです。
type MessageReceivedEventHandler interface {
	OnMessageReceived(ev *MessageReceivedEvent)
}

// MessageReceivedEventHandlerFuncは、MessageReceivedEventHandlerの関数です。
type MessageReceivedEventHandlerFunc func(ev *MessageReceivedEvent)

func (f MessageReceivedEventHandlerFunc) OnMessageReceived(ev *MessageReceivedEvent) {
	f(ev)
}

// ErrorEventHandlerは、エラーが発生した時のイベントハンドラです。
type ErrorEventHandler interface {
	OnError(ev *ErrorEvent)
}

// ErrorEventHandlerFuncは、ErrorEventHandlerの関数です。
type ErrorEventHandlerFunc func(ev *ErrorEvent)

func (f ErrorEventHandlerFunc) OnError(ev *ErrorEvent) {
	f(ev)
}

type (
	nopConnectedEventHandler       struct{}
	nopDisconnectedEventHandler    struct{}
	nopReconnectingEventHandler    struct{}
	nopMessageReceivedEventHandler struct{}
	nopErrorEventHandler           struct{}
)

func (nopConnectedEventHandler) OnConnected(*ConnectedEvent)                   {}
func (nopDisconnectedEventHandler) OnDisconnected(*DisconnectedEvent)          {}
func (nopReconnectingEventHandler) OnReconnecting(*ReconnectingEvent)          {}
func (nopMessageReceivedEventHandler) OnMessageReceived(*MessageReceivedEvent) {}
func (nopErrorEventHandler) OnError(*ErrorEvent)                               {}

type subscribers struct {
	mu       sync.RWMutex
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
	s.mu.RLock()
	defer s.mu.RUnlock()
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
