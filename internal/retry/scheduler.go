package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/aptpod/wsconn-go/errors"
)

// ErrExhaustedは、試行回数を使い切った場合のエラーです。
var ErrExhausted = fmt.Errorf("retry attempts exhausted: %w", errors.ErrReconnectExhausted)

// Schedulerは、Policyに従って次の試行を1つだけ予約します。
//
// 予約は常に高々1つで、新しく予約すると古い予約は取り消されます。
type Scheduler struct {
	policy Policy

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewSchedulerは、Schedulerを返却します。
func NewScheduler(p Policy) *Scheduler {
	return &Scheduler{policy: p}
}

// Policyは、スケジューラーのポリシーを返却します。
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// ScheduleNextは、attempt回目の試行としてfを予約し、待機時間を返却します。
//
// attemptがMaxAttemptsを超えている場合は予約せずに ErrExhausted を返却します。
func (s *Scheduler) ScheduleNext(attempt int, f func()) (time.Duration, error) {
	if s.policy.Exhausted(attempt) {
		s.Cancel()
		return 0, ErrExhausted
	}
	delay := s.policy.Delay(attempt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		f()
	})
	return delay, nil
}

// Cancelは、予約を取り消します。予約が無い場合は何もしません。
//
// 取り消した予約があった場合はtrueを返却します。
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// Pendingは、予約が存在するかどうかを返却します。
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Scheduler) stopLocked() bool {
	s.gen++
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	return true
}
