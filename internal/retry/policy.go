package retry

import (
	"fmt"
	"math"
	"time"

	"github.com/aptpod/wsconn-go/errors"
)

// Strategyは、再接続間隔の増やし方です。
type Strategy string

const (
	// StrategyFixedは、常にInitialDelayだけ待機します。
	StrategyFixed Strategy = "fixed"
	// StrategyLinearは、InitialDelay * 試行回数だけ待機します。
	StrategyLinear Strategy = "linear"
	// StrategyExponentialは、InitialDelay * Multiplier^(試行回数-1)だけ待機します。
	StrategyExponential Strategy = "exponential"
)

// Policyは、再接続の間隔と回数を決めるポリシーです。
type Policy struct {
	Strategy     Strategy
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxAttemptsは最大試行回数です。0は無制限です。
	MaxAttempts int
	Multiplier  float64
	// Jitterは、計算した間隔に加算する乱数の上限です。
	Jitter time.Duration
}

// Validateは、ポリシーの値を検証します。
func (p Policy) Validate() error {
	switch p.Strategy {
	case StrategyFixed, StrategyLinear, StrategyExponential:
	default:
		return fmt.Errorf("unknown reconnect strategy %q: %w", p.Strategy, errors.ErrInvalidConfig)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 || p.Jitter < 0 {
		return fmt.Errorf("reconnect delays must not be negative: %w", errors.ErrInvalidConfig)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("reconnect max attempts must not be negative: %w", errors.ErrInvalidConfig)
	}
	if p.Strategy == StrategyExponential && p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1: %w", errors.ErrInvalidConfig)
	}
	return nil
}

// Exhaustedは、attempt回目の試行が許可されていないかどうかを返却します。attemptは1から数えます。
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Delayは、attempt回目の試行までの待機時間を返却します。attemptは1から数えます。
//
// MaxDelayで頭打ちにした後、[0, Jitter]の乱数を加算します。
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d float64
	switch p.Strategy {
	case StrategyLinear:
		d = float64(p.InitialDelay) * float64(attempt)
	case StrategyExponential:
		d = float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	default:
		d = float64(p.InitialDelay)
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d > math.MaxInt64 {
		d = math.MaxInt64
	}
	res := time.Duration(d)
	if p.Jitter > 0 {
		res += time.Duration(randFloat64() * float64(p.Jitter))
	}
	return res
}
