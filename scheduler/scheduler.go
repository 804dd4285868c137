package scheduler

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/yllada/anonvpn/common"
)

// Scheduler computes randomized refresh delays. It is safe for concurrent use.
type Scheduler struct {
	mu    sync.Mutex
	epoch Epoch
	rng   *rand.Rand
}

// New creates a scheduler for epoch seeded from the runtime's random source.
func New(epoch Epoch) (*Scheduler, error) {
	return NewWithSource(epoch, rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewWithSource creates a scheduler drawing from src.
func NewWithSource(epoch Epoch, src rand.Source) (*Scheduler, error) {
	if err := epoch.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{epoch: epoch, rng: rand.New(src)}, nil
}

// Epoch returns the layout the scheduler works with.
func (s *Scheduler) Epoch() Epoch {
	return s.epoch
}

// TimeToNextRefresh returns the number of seconds to wait before the next
// refresh, drawn uniformly from the refresh window.
func (s *Scheduler) TimeToNextRefresh(now time.Time) int64 {
	return s.Seconds(now.Unix())
}

// Seconds is TimeToNextRefresh for a unix timestamp.
func (s *Scheduler) Seconds(now int64) int64 {
	start, end := s.epoch.Window(now)
	if end < start {
		// Validate rules this out.
		panic(fmt.Sprintf("%v: empty refresh window [%d, %d]", common.ErrIllegalState, start, end))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return start + s.rng.Int64N(end-start+1)
}

// Delay is TimeToNextRefresh as a duration.
func (s *Scheduler) Delay(now time.Time) time.Duration {
	return time.Duration(s.TimeToNextRefresh(now)) * time.Second
}
