package ethereum

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AgentPayy/AgentPayy-sub002/pkg/config"
)

// Manager holds one ChainClient per configured network.
type Manager struct {
	chains map[string]ChainClient
	mu     sync.RWMutex
}

var _ ChainManager = (*Manager)(nil)

// NewManager creates a chain manager from application config
func NewManager(cfg *config.Config) (*Manager, error) {
	configs := make(map[string]*Config, len(cfg.Networks))
	for name, n := range cfg.Networks {
		configs[name] = &Config{
			Network:         name,
			RPCEndpoint:     n.RPC,
			ContractAddress: common.HexToAddress(n.Contract),
			TokenDecimals:   n.TokenDecimals,
			PollInterval:    n.PollInterval,
			CallTimeout:     cfg.Payment.CallTimeout,
		}
	}
	return NewChainManager(configs)
}

// NewChainManager dials a client for every network config.
func NewChainManager(configs map[string]*Config) (*Manager, error) {
	m := &Manager{chains: make(map[string]ChainClient)}

	for name, cfg := range configs {
		chain, err := NewChainClient(cfg)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to initialize network %s: %w", name, err)
		}
		m.chains[name] = chain
	}

	return m, nil
}

// NewManagerWithClients wraps already constructed clients.
func NewManagerWithClients(clients map[string]ChainClient) *Manager {
	m := &Manager{chains: make(map[string]ChainClient, len(clients))}
	for name, c := range clients {
		m.chains[name] = c
	}
	return m
}

func (m *Manager) GetClient(network string) (ChainClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain, exists := m.chains[network]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNetworkNotSupported, network)
	}
	return chain, nil
}

func (m *Manager) Networks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.chains))
	for name := range m.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all chains
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, chain := range m.chains {
		if err := chain.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close network %s: %w", name, err))
		}
	}
	m.chains = make(map[string]ChainClient)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing networks: %v", errs)
	}
	return nil
}
