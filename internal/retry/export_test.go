package retry

import (
	"sync"
	"testing"
)

// SetRandSequence makes the jitter source return vs in order, repeating the last value.
func SetRandSequence(t *testing.T, vs ...float64) {
	org := randFloat64
	var mu sync.Mutex
	var i int
	randFloat64 = func() float64 {
		mu.Lock()
		defer mu.Unlock()
		v := vs[i]
		if i < len(vs)-1 {
			i++
		}
		return v
	}
	t.Cleanup(func() {
		randFloat64 = org
	})
}
