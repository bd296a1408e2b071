package retry

import (
	"math/rand/v2"
	"time"
)

var randFloat64 = rand.Float64

// Retryは、Policyに従って処理を再試行します。
//
// Policy.MaxAttemptsは初回を含めた試行回数の上限として扱います。
type Retry struct {
	Policy Policy

	// Doneが閉じられると待機を中断します。
	Done <-chan struct{}
}

// Doは、fが成功するか試行回数を使い切るまでfを呼び出します。
//
// 成功しなかった場合は、最後にfが返却したエラーを返却します。
func (r Retry) Do(f func() error) error {
	for attempt := 1; ; attempt++ {
		err := f()
		if err == nil {
			return nil
		}
		if r.Policy.Exhausted(attempt + 1) {
			return err
		}
		timer := time.NewTimer(r.Policy.Delay(attempt))
		select {
		case <-timer.C:
		case <-r.Done:
			timer.Stop()
			return err
		}
	}
}
