package pool

import (
	"math/rand/v2"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// selector holds the mutable state of the balancing strategies.
// Candidates are always passed sorted by name.
type selector struct {
	mu      sync.Mutex
	next    uint64
	current map[string]int
}

func (s *selector) pick(strategy Strategy, cands []*member) *member {
	switch strategy {
	case StrategyPriority:
		return s.priority(cands)
	case StrategyRandom:
		return cands[rand.IntN(len(cands))]
	case StrategyLeastUsed:
		return leastUsed(cands)
	case StrategyWeighted:
		return s.weighted(cands)
	default:
		return s.roundRobin(cands)
	}
}

func (s *selector) roundRobin(cands []*member) *member {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := cands[s.next%uint64(len(cands))]
	s.next++
	return m
}

func (s *selector) priority(cands []*member) *member {
	best := cands[0].priority
	for _, m := range cands[1:] {
		if m.priority < best {
			best = m.priority
		}
	}
	top := make([]*member, 0, len(cands))
	for _, m := range cands {
		if m.priority == best {
			top = append(top, m)
		}
	}
	return s.roundRobin(top)
}

func leastUsed(cands []*member) *member {
	res := cands[0]
	for _, m := range cands[1:] {
		if m.sent.Load() < res.sent.Load() {
			res = m
		}
	}
	return res
}

// weighted is a smooth weighted round-robin: over sum(weights) picks each
// member is chosen exactly weight times, interleaved.
func (s *selector) weighted(cands []*member) *member {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.current = map[string]int{}
	}
	var (
		total int
		best  *member
	)
	for _, m := range cands {
		s.current[m.name] += m.weight
		total += m.weight
		if best == nil || s.current[m.name] > s.current[best.name] {
			best = m
		}
	}
	s.current[best.name] -= total
	return best
}

// forget drops the state kept for a removed member.
func (s *selector) forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.current, name)
}

// lookupKeyed maps key onto one of the candidates by rendezvous hashing, so a
// key keeps its member as long as that member stays in the candidate set.
func lookupKeyed(key string, cands []*member) *member {
	names := make([]string, len(cands))
	for i, m := range cands {
		names[i] = m.name
	}
	name := rendezvous.New(names, xxhash.Sum64String).Lookup(key)
	for _, m := range cands {
		if m.name == name {
			return m
		}
	}
	return cands[0]
}
