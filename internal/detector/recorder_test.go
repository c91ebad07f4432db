package detector

import (
	"sync"
	"time"
)

type recorder struct {
	mu            sync.Mutex
	cycles        int
	opportunities int
	failed        int
}

func (r *recorder) ObserveDetectorCycle(_ time.Duration, opportunities int, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
	r.opportunities = opportunities
	r.failed = failed
}

func (r *recorder) Cycles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}
