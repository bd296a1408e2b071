package wsconn

import (
	"time"
)

// Statsは、コネクションの統計情報です。
type Stats struct {
	// トランスポートへ書き込んだメッセージ数
	MessagesSent uint64
	// 受信したメッセージ数。ハートビートと確認応答は含みません。
	MessagesReceived uint64
	// 送信に失敗、または破棄されたメッセージ数
	MessagesFailed uint64
	// 再接続を予約した累計回数
	ReconnectAttempts int
	// 最後に接続が確立された時刻
	LastConnectedAt time.Time
	// 最後にエラーが発生した時刻
	LastErrorAt time.Time
	// 接続していた時間の累計
	TotalConnectedTime time.Duration
	// ハートビートがタイムアウトした累計回数
	HeartbeatFailures int
	// 最後にハートビートの応答を受信した時刻
	LastHeartbeatAt time.Time
	// 直近のハートビートの往復時間の平均
	AverageLatency time.Duration
}

// latencyWindow keeps the last n round trip samples.
type latencyWindow struct {
	samples []time.Duration
	next    int
	sum     time.Duration
}

func newLatencyWindow(n int) *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, 0, n)}
}

func (w *latencyWindow) add(d time.Duration) {
	if len(w.samples) < cap(w.samples) {
		w.samples = append(w.samples, d)
		w.sum += d
		return
	}
	w.sum += d - w.samples[w.next]
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
}

func (w *latencyWindow) average() time.Duration {
	if len(w.samples) == 0 {
		return 0
	}
	return w.sum / time.Duration(len(w.samples))
}
