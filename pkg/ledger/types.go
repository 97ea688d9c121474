package ledger

import (
	"errors"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrInvalidEvent    = errors.New("invalid payment event")
	// ErrDependencyUnavailable wraps store failures and timeouts.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

const (
	paymentKeyPrefix = "payment:"
	claimKeyPrefix   = "paywall:"
	// recentCapacity bounds the in-memory ring of recent payments.
	recentCapacity = 1000
)

// PaymentEvent is one observed on-chain payment. It is never mutated after
// it is recorded.
type PaymentEvent struct {
	ModelID string `json:"modelId" msgpack:"model_id"`
	// Payer is EIP-55 checksummed when it is a valid address.
	Payer string `json:"payer" msgpack:"payer"`
	// Amount is a decimal string in token units.
	Amount    string `json:"amount" msgpack:"amount"`
	InputHash string `json:"inputHash" msgpack:"input_hash"`
	// Timestamp is the on-chain block time in unix seconds.
	Timestamp   int64  `json:"timestamp" msgpack:"timestamp"`
	TxHash      string `json:"txHash" msgpack:"tx_hash"`
	Network     string `json:"network" msgpack:"network"`
	BlockNumber uint64 `json:"blockNumber,omitempty" msgpack:"block_number,omitempty"`
}

// Analytics is the rolling aggregate over recorded payments. Revenue values
// are exact decimal strings.
type Analytics struct {
	TotalPayments  int64  `json:"totalPayments"`
	TotalRevenue   string `json:"totalRevenue"`
	UniqueUsers    int    `json:"uniqueUsers"`
	AvgPaymentSize string `json:"avgPaymentSize"`
	RecentCount    int    `json:"recentCount"`
}

func txKey(txHash string) string {
	return paymentKeyPrefix + txHash
}

func claimKey(txHash string) string {
	return claimKeyPrefix + txHash
}

func payerKey(ts int64, payer string) string {
	return paymentKeyPrefix + strconv.FormatInt(ts, 10) + ":" + payer
}

// NormalizeAddress checksums valid hex addresses and returns anything else
// unchanged.
func NormalizeAddress(addr string) string {
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}

// NormalizeTxHash lower-cases a transaction hash and adds the 0x prefix.
func NormalizeTxHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return "0x" + strings.TrimPrefix(h, "0x")
}
