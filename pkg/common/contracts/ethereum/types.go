package ethereum

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNetworkNotSupported is returned for a network without a configured
	// contract binding.
	ErrNetworkNotSupported = errors.New("network not supported")
)

const (
	defaultCallTimeout  = 10 * time.Second
	defaultPollInterval = 2 * time.Second

	// upper bound on blocks covered by one log filter request
	maxFilterRange = 5000
)

// Config contains the settings of one network's client.
type Config struct {
	Network         string
	RPCEndpoint     string
	ContractAddress common.Address
	TokenDecimals   int32
	PollInterval    time.Duration
	CallTimeout     time.Duration
}

// ModelInfo is the on-chain listing of a paid model endpoint.
type ModelInfo struct {
	Owner    common.Address
	Endpoint string
	// Price in token base units
	Price  *big.Int
	Token  common.Address
	Active bool
}

// Exists reports whether the registry has an owner for the model.
func (m *ModelInfo) Exists() bool {
	return m != nil && m.Owner != (common.Address{})
}

// PaymentProcessedEvent is a decoded PaymentProcessed log.
type PaymentProcessedEvent struct {
	Payer       common.Address
	ModelID     string
	Amount      *big.Int
	InputHash   common.Hash
	Timestamp   *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}
