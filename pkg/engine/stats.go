package engine

import (
	"sync"

	"github.com/caio/go-tdigest"
)

// progressStats feeds reader progress samples into a t-digest so the
// scheduler can reason about the spread of in-flight scans, not just a
// mean.
type progressStats struct {
	mu     sync.Mutex
	digest *tdigest.TDigest
}

func newProgressStats() *progressStats {
	d, _ := tdigest.New()
	return &progressStats{digest: d}
}

func (s *progressStats) Record(fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.digest.Add(fraction)
}

func (s *progressStats) Quantile(q float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.digest.Count() == 0 {
		return 0
	}
	return s.digest.Quantile(q)
}
