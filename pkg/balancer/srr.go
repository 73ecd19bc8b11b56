package balancer

import (
	"errors"
	"sync"
)

var ErrNoTargets = errors.New("no targets available")

// SRR picks targets by smooth weighted round robin: over any window of
// total-weight picks each target is chosen exactly Weight times.
type SRR struct {
	targets []*Target
	mu      sync.Mutex
}

func NewSRR() *SRR {
	return &SRR{
		targets: make([]*Target, 0),
	}
}

func (s *SRR) AddTarget(target *Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target)
}

// Targets returns a snapshot of the registered targets in insertion order.
func (s *SRR) Targets() []*Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*Target, len(s.targets))
	copy(result, s.targets)
	return result
}

func (s *SRR) Next() (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Target
	totalWeight := 0

	for _, t := range s.targets {
		if t.Weight <= 0 {
			continue
		}
		totalWeight += t.Weight
		t.CurrentWeight += t.Weight

		if best == nil || t.CurrentWeight > best.CurrentWeight {
			best = t
		}
	}

	if best == nil {
		return nil, ErrNoTargets
	}

	best.CurrentWeight -= totalWeight

	return best, nil
}
