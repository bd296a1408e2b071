// Package ch provides non-blocking channel helpers.
package ch

// TryWrite sends v on c only if the send would not block. It reports whether v was sent.
func TryWrite[T any](v T, c chan<- T) bool {
	select {
	case c <- v:
		return true
	default:
		return false
	}
}

// Signal wakes a receiver waiting on c. Signals on a channel with a buffer of one coalesce
// until the receiver drains it.
func Signal(c chan<- struct{}) {
	TryWrite(struct{}{}, c)
}
