package ethereum

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// ChainManager resolves the client of a configured network.
type ChainManager interface {
	// GetClient returns ErrNetworkNotSupported for unknown networks
	GetClient(network string) (ChainClient, error)
	// Networks lists the configured network names
	Networks() []string
	Close() error
}

// ChainClient reads the AgentPay contract on one network.
type ChainClient interface {
	Network() string
	// TokenDecimals converts base-unit prices and amounts to token units
	TokenDecimals() int32
	BlockNumber(ctx context.Context) (uint64, error)

	GetModel(ctx context.Context, modelID string) (*ModelInfo, error)
	GetUserBalance(ctx context.Context, user, token common.Address) (*big.Int, error)

	// WatchPaymentProcessed polls logs from filterOpts.Start onwards
	WatchPaymentProcessed(filterOpts *bind.FilterOpts, sink chan<- *PaymentProcessedEvent) (event.Subscription, error)

	Close() error
}
