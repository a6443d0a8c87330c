package dome

import (
	"context"
	"sync"
	"time"

	"github.com/rockit-astro/opsd/internal/models"
)

func init() {
	Register("simulated", func(params map[string]any) (Backend, error) {
		moveDelay := time.Duration(0)
		if v, ok := params["move_delay"].(float64); ok && v > 0 {
			moveDelay = time.Duration(v * float64(time.Second))
		}
		return NewSimulated(moveDelay), nil
	})
}

// Simulated is an in-memory dome used by tests and domeless sites that
// still want the full control loop. Movement takes moveDelay; a zero delay
// completes commands instantly.
type Simulated struct {
	mu        sync.Mutex
	status    models.DomeStatus
	target    models.DomeStatus
	moveDone  time.Time
	moveDelay time.Duration

	// Fault injection for tests.
	FailOpen      bool
	FailHeartbeat bool

	heartbeats int
}

// NewSimulated builds a closed simulated dome.
func NewSimulated(moveDelay time.Duration) *Simulated {
	return &Simulated{status: models.DomeClosed, target: models.DomeClosed, moveDelay: moveDelay}
}

func (s *Simulated) settle() {
	if s.status == models.DomeMoving && !time.Now().Before(s.moveDone) {
		s.status = s.target
	}
}

func (s *Simulated) Status(context.Context) (models.DomeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	return s.status, nil
}

func (s *Simulated) Open(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOpen {
		return ErrTimeout
	}
	s.move(models.DomeOpen)
	return nil
}

func (s *Simulated) Close(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.move(models.DomeClosed)
	return nil
}

func (s *Simulated) move(target models.DomeStatus) {
	s.settle()
	if s.status == target {
		return
	}
	s.target = target
	if s.moveDelay == 0 {
		s.status = target
		return
	}
	s.status = models.DomeMoving
	s.moveDone = time.Now().Add(s.moveDelay)
}

func (s *Simulated) Heartbeat(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailHeartbeat {
		return ErrTimeout
	}
	s.heartbeats++
	return nil
}

// Heartbeats returns how many heartbeats were acknowledged.
func (s *Simulated) Heartbeats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats
}
