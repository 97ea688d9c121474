// Package health periodically probes the store and chain clients the
// coordinator depends on.
package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/kv"
	"github.com/AgentPayy/AgentPayy-sub002/internal/metric"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/common/contracts/ethereum"
)

const (
	CheckInterval = 20 * time.Second
	probeTimeout  = 10 * time.Second
	probeKey      = "health:probe"

	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Status is the outcome of one probe.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Block     uint64    `json:"block,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Report is the latest round of probes.
type Report struct {
	Status   string            `json:"status"`
	Store    Status            `json:"store"`
	Networks map[string]Status `json:"networks"`
}

type Checker struct {
	chains ethereum.ChainManager
	store  kv.Store
	now    func() time.Time

	mu     sync.RWMutex
	report Report

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChecker runs a first round of probes and starts the periodic loop.
func NewChecker(ctx context.Context, chains ethereum.ChainManager, store kv.Store) (*Checker, error) {
	if chains == nil {
		return nil, errors.New("chain manager is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Checker{
		chains: chains,
		store:  store,
		now:    time.Now,
		cancel: cancel,
	}
	c.Check(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.start(ctx)
	}()
	log.Info().Dur("interval", CheckInterval).Msg("[Health] health check service started")
	return c, nil
}

func (c *Checker) start(ctx context.Context) {
	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

func (c *Checker) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Check probes everything now and stores the result.
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{
		Status:   StatusOK,
		Store:    c.probeStore(ctx),
		Networks: make(map[string]Status),
	}
	if !report.Store.Healthy {
		report.Status = StatusDegraded
	}

	networks := c.chains.Networks()
	sort.Strings(networks)
	for _, network := range networks {
		st := c.probeChain(ctx, network)
		if !st.Healthy {
			report.Status = StatusDegraded
		}
		report.Networks[network] = st
	}

	c.mu.Lock()
	c.report = report
	c.mu.Unlock()
	return report
}

// Report returns a copy of the latest probe round.
func (c *Checker) Report() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.report
	out.Networks = make(map[string]Status, len(c.report.Networks))
	for k, v := range c.report.Networks {
		out.Networks[k] = v
	}
	return out
}

func (c *Checker) probeStore(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	st := Status{Healthy: true, CheckedAt: c.now()}
	if _, err := c.store.Get(ctx, probeKey); err != nil && !errors.Is(err, kv.ErrNotFound) {
		log.Warn().Err(err).Msg("[Health] store probe failed")
		metric.RecordError("store_probe_failed")
		st.Healthy = false
		st.Error = err.Error()
	}
	return st
}

func (c *Checker) probeChain(ctx context.Context, network string) Status {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	st := Status{CheckedAt: c.now()}
	client, err := c.chains.GetClient(network)
	if err == nil {
		st.Block, err = client.BlockNumber(ctx)
	}
	if err != nil {
		log.Warn().Err(err).Str("network", network).Msg("[Health] chain probe failed")
		metric.RecordError("chain_probe_failed")
		st.Error = err.Error()
		return st
	}
	st.Healthy = true
	return st
}
