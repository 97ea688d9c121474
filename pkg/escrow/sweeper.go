package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultSweepInterval = 30 * time.Second

// Sweeper runs ProcessRefunds on a fixed interval and prunes expired rows
// from stores that need it.
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(c *Coordinator, interval time.Duration) *Sweeper {
	if c == nil {
		log.Fatal().Msg("[Sweeper] coordinator is nil")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{coordinator: c, interval: interval}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	log.Info().Dur("interval", s.interval).Msg("[Sweeper] started")
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Info().Msg("[Sweeper] stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n := s.coordinator.ProcessRefunds(ctx)
	log.Debug().Int("refunded", n).Msg("[Sweeper] sweep done")

	pruned, err := s.coordinator.store.Prune(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("[Sweeper] failed to prune expired entries")
		return
	}
	if pruned > 0 {
		log.Info().Int64("pruned", pruned).Msg("[Sweeper] pruned expired entries")
	}
}
