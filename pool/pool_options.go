package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/log"
	"github.com/aptpod/wsconn-go/wsconn"
)

// Strategyは、Sendで送信先のメンバーを選択する方式です。
type Strategy string

const (
	// StrategyRoundRobinは、正常なメンバーを名前順に巡回します。
	StrategyRoundRobin Strategy = "round-robin"
	// StrategyPriorityは、Priorityの値が最も小さいメンバーを選択します。同値のメンバー間は巡回します。
	StrategyPriority Strategy = "priority"
	// StrategyRandomは、正常なメンバーから無作為に選択します。
	StrategyRandom Strategy = "random"
	// StrategyLeastUsedは、送信件数が最も少ないメンバーを選択します。
	StrategyLeastUsed Strategy = "least-used"
	// StrategyWeightedは、Weightに比例して送信が分散するように選択します。
	StrategyWeighted Strategy = "weighted"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyPriority, StrategyRandom, StrategyLeastUsed, StrategyWeighted:
		return true
	}
	return false
}

// Probeは、メンバーの死活を判定する関数です。nilを返却した場合、正常とみなします。
type Probe func(ctx context.Context, conn *wsconn.Conn) error

// LivenessProbeは、コネクションがCONNECTEDであり、ハートビートが失敗していないことを確認するProbeです。
func LivenessProbe(_ context.Context, conn *wsconn.Conn) error {
	if conn.Healthy() {
		return nil
	}
	if st := conn.State(); st != wsconn.StateConnected {
		return fmt.Errorf("connection is %s: %w", st, errUnhealthy)
	}
	return fmt.Errorf("heartbeat failing (%d): %w", conn.Stats().HeartbeatFailures, errUnhealthy)
}

var errUnhealthy = errors.New("unhealthy connection")

var defaultConfig = Config{
	Strategy:       StrategyRoundRobin,
	MaxConnections: 10,
	HealthCheck: HealthCheckConfig{
		Enabled:          true,
		Interval:         30 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
	},
	Logger: log.NewNop(),
}

// Configは、プールの設定です。
type Config struct {
	// 送信先の選択方式
	Strategy Strategy

	// メンバー数の上限。0以下の場合は無制限です。
	MaxConnections int

	// Broadcastで同時に送信するメンバー数の上限。0以下の場合は無制限です。
	BroadcastConcurrency int

	// ヘルスチェックの設定
	HealthCheck HealthCheckConfig

	// ロガー
	Logger log.Logger

	// イベントハンドラ
	EventHandlers []EventHandler
}

// HealthCheckConfigは、ヘルスチェックの設定です。
type HealthCheckConfig struct {
	Enabled bool

	// ヘルスチェックの間隔
	Interval time.Duration

	// 1回のProbeのタイムアウト。0の場合はIntervalを使用します。
	Timeout time.Duration

	// 選択対象から外すまでの連続失敗回数
	FailureThreshold int

	// 死活判定。nilの場合はLivenessProbeを使用します。
	Probe Probe
}

// DefaultConfigは、デフォルトの設定を返却します。
func DefaultConfig() *Config {
	c := defaultConfig
	return &c
}

func (c *Config) validate() error {
	if c.Strategy == "" {
		c.Strategy = StrategyRoundRobin
	}
	if !c.Strategy.valid() {
		return fmt.Errorf("unknown strategy %q: %w", c.Strategy, errors.ErrInvalidConfig)
	}
	if c.HealthCheck.Enabled {
		if c.HealthCheck.Interval <= 0 {
			return fmt.Errorf("health check interval must be positive: %w", errors.ErrInvalidConfig)
		}
		if c.HealthCheck.Timeout < 0 {
			return fmt.Errorf("health check timeout must not be negative: %w", errors.ErrInvalidConfig)
		}
	}
	if c.HealthCheck.Timeout <= 0 {
		c.HealthCheck.Timeout = c.HealthCheck.Interval
	}
	if c.HealthCheck.Timeout <= 0 {
		c.HealthCheck.Timeout = defaultConfig.HealthCheck.Timeout
	}
	if c.HealthCheck.FailureThreshold <= 0 {
		c.HealthCheck.FailureThreshold = defaultConfig.HealthCheck.FailureThreshold
	}
	if c.HealthCheck.Probe == nil {
		c.HealthCheck.Probe = LivenessProbe
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	return nil
}

// Optionは、プールのオプションです。
type Option func(*Config)

// WithPoolStrategyは、送信先の選択方式を設定します。
func WithPoolStrategy(s Strategy) Option {
	return func(c *Config) {
		c.Strategy = s
	}
}

// WithPoolMaxConnectionsは、メンバー数の上限を設定します。
func WithPoolMaxConnections(n int) Option {
	return func(c *Config) {
		c.MaxConnections = n
	}
}

// WithPoolBroadcastConcurrencyは、Broadcastの同時送信数を設定します。
func WithPoolBroadcastConcurrency(n int) Option {
	return func(c *Config) {
		c.BroadcastConcurrency = n
	}
}

// WithPoolHealthCheckは、ヘルスチェックの設定をします。
func WithPoolHealthCheck(hc HealthCheckConfig) Option {
	return func(c *Config) {
		c.HealthCheck = hc
	}
}

// WithPoolHealthCheckDisabledは、定期的なヘルスチェックを無効にします。
func WithPoolHealthCheckDisabled() Option {
	return func(c *Config) {
		c.HealthCheck.Enabled = false
	}
}

// WithPoolLoggerは、ロガーを設定します。
func WithPoolLogger(l log.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithPoolEventHandlerは、イベントハンドラを追加します。
func WithPoolEventHandler(h EventHandler) Option {
	return func(c *Config) {
		c.EventHandlers = append(c.EventHandlers, h)
	}
}

// MemberConfigは、プールへ追加するメンバーの設定です。
//
// Connを指定しない場合、URLとOptionsからコネクションを生成します。
// どちらの場合も、コネクションのライフサイクルはプールが管理します。
type MemberConfig struct {
	// プール内で一意な名前
	Name string

	// StrategyPriorityで使用する優先度。値が小さいほど優先されます。
	Priority int

	// StrategyWeightedで使用する重み。0以下の場合は1です。
	Weight int

	URL     string
	Options []wsconn.ConnOption

	Conn *wsconn.Conn
}

func (c *MemberConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("member name is empty: %w", errors.ErrInvalidConfig)
	}
	if c.Conn == nil && c.URL == "" {
		return fmt.Errorf("member %s: either url or conn is required: %w", c.Name, errors.ErrInvalidConfig)
	}
	if c.Weight <= 0 {
		c.Weight = 1
	}
	return nil
}
