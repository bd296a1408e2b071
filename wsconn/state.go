package wsconn

// Stateは、コネクションの状態です。
type State uint8

const (
	// StateDisconnectedは、まだ接続を開始していない状態です。
	StateDisconnected State = iota
	// StateConnectingは、トランスポートを確立中の状態です。
	StateConnecting
	// StateConnectedは、トランスポートが確立され送受信可能な状態です。
	StateConnected
	// StateReconnectingは、次の再接続試行を待機している状態です。
	StateReconnecting
	// StateClosingは、明示的な切断によりトランスポートのクローズを待っている状態です。
	StateClosing
	// StateClosedは、終了した状態です。Connectを呼び出すまで再接続しません。
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
