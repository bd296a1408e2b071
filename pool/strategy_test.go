package pool

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func members(weights ...int) []*member {
	res := make([]*member, len(weights))
	for i, w := range weights {
		res[i] = &member{name: fmt.Sprintf("m%d", i), weight: w, priority: i % 2}
	}
	return res
}

func Test_selector_weightedInterleaves(t *testing.T) {
	var s selector
	ms := members(5, 1, 1)
	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, s.pick(StrategyWeighted, ms).name)
	}
	assert.Equal(t, []string{"m0", "m0", "m1", "m0", "m2", "m0", "m0"}, got)
}

func Test_selector_forget(t *testing.T) {
	var s selector
	ms := members(2, 1)
	s.pick(StrategyWeighted, ms)
	s.forget("m0")
	assert.NotContains(t, s.current, "m0")
}

func Test_selector_priorityTies(t *testing.T) {
	var s selector
	ms := members(1, 1, 1, 1)
	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, s.pick(StrategyPriority, ms).name)
	}
	assert.Equal(t, []string{"m0", "m2", "m0", "m2"}, got)
}

func Test_lookupKeyed(t *testing.T) {
	ms := members(1, 1, 1, 1)
	counts := map[string]int{}
	for i := 0; i < 400; i++ {
		key := fmt.Sprintf("key-%d", i)
		m := lookupKeyed(key, ms)
		assert.Equal(t, m, lookupKeyed(key, ms))
		counts[m.name]++
	}
	assert.Len(t, counts, 4)

	// Removing a member only moves the keys it owned.
	rest := []*member{ms[0], ms[1], ms[3]}
	for i := 0; i < 400; i++ {
		key := fmt.Sprintf("key-%d", i)
		if before := lookupKeyed(key, ms); before.name != "m2" {
			assert.Equal(t, before, lookupKeyed(key, rest))
		}
	}
}
