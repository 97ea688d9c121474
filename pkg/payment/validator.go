// Package payment checks that a proposed model payment can settle on-chain.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/cache"
	"github.com/AgentPayy/AgentPayy-sub002/internal/metric"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/common/contracts/ethereum"
)

// Reasons returned in Result.Reason.
const (
	ReasonNetworkNotSupported = "Network not supported"
	ReasonModelNotFound       = "Model not found"
	ReasonModelInactive       = "Model is not active"
	ReasonInvalidAmount       = "Invalid payment amount"
	ReasonInsufficientAmount  = "Insufficient payment amount"
	ReasonPrepaidBalance      = "Using prepaid balance"
	ReasonPermit              = "Will use permit/signature"
	ReasonValidationFailed    = "Validation failed"
)

// Result is the outcome of ValidatePayment. GasEstimate is never set by the
// validator itself.
type Result struct {
	Valid       bool    `json:"valid"`
	Reason      string  `json:"reason"`
	GasEstimate *uint64 `json:"gasEstimate,omitempty"`
}

// cachedModel is the cache encoding of ethereum.ModelInfo.
type cachedModel struct {
	Owner    string `msgpack:"owner"`
	Endpoint string `msgpack:"endpoint"`
	Price    string `msgpack:"price"`
	Token    string `msgpack:"token"`
	Active   bool   `msgpack:"active"`
}

func toCached(m *ethereum.ModelInfo) *cachedModel {
	price := "0"
	if m.Price != nil {
		price = m.Price.String()
	}
	return &cachedModel{
		Owner:    m.Owner.Hex(),
		Endpoint: m.Endpoint,
		Price:    price,
		Token:    m.Token.Hex(),
		Active:   m.Active,
	}
}

func (c *cachedModel) model() (*ethereum.ModelInfo, error) {
	price, ok := new(big.Int).SetString(c.Price, 10)
	if !ok {
		return nil, fmt.Errorf("malformed cached price %q", c.Price)
	}
	return &ethereum.ModelInfo{
		Owner:    common.HexToAddress(c.Owner),
		Endpoint: c.Endpoint,
		Price:    price,
		Token:    common.HexToAddress(c.Token),
		Active:   c.Active,
	}, nil
}

// Validator answers whether a payment for a model would be accepted.
type Validator struct {
	chains   ethereum.ChainManager
	models   cache.Cache
	cacheTTL time.Duration
}

// NewValidator creates a validator. models may be nil, and a cacheTTL of
// zero disables model caching.
func NewValidator(chains ethereum.ChainManager, models cache.Cache, cacheTTL time.Duration) *Validator {
	if chains == nil {
		log.Fatal().Msg("[Validator] chain manager is nil")
	}
	return &Validator{
		chains:   chains,
		models:   models,
		cacheTTL: cacheTTL,
	}
}

// ValidatePayment checks network, model, amount and the payer's prepaid
// balance in that order. amount is in token units. Chain failures are
// reported as ReasonValidationFailed instead of an error.
func (v *Validator) ValidatePayment(ctx context.Context, modelID, payer, amount, network string) Result {
	res := v.validate(ctx, modelID, payer, amount, network)
	switch {
	case res.Valid:
		metric.RecordValidation("valid")
	case res.Reason == ReasonValidationFailed:
		metric.RecordValidation("failed")
	default:
		metric.RecordValidation("rejected")
	}
	return res
}

func (v *Validator) validate(ctx context.Context, modelID, payer, amount, network string) Result {
	client, err := v.chains.GetClient(network)
	if err != nil {
		return reject(ReasonNetworkNotSupported)
	}

	model, err := v.model(ctx, client, modelID)
	if err != nil {
		log.Warn().Err(err).Str("network", network).Str("model_id", modelID).Msg("[Validator] failed to load model")
		return reject(ReasonValidationFailed)
	}
	if !model.Exists() {
		return reject(ReasonModelNotFound)
	}
	if !model.Active {
		return reject(ReasonModelInactive)
	}
	if model.Price == nil {
		log.Warn().Str("network", network).Str("model_id", modelID).Msg("[Validator] model has no price")
		return reject(ReasonValidationFailed)
	}

	offered, err := decimal.NewFromString(amount)
	if err != nil || offered.IsNegative() {
		return reject(ReasonInvalidAmount)
	}
	decimals := client.TokenDecimals()
	price := decimal.NewFromBigInt(model.Price, -decimals)
	if offered.LessThan(price) {
		return reject(ReasonInsufficientAmount)
	}

	if !common.IsHexAddress(payer) {
		log.Debug().Str("payer", payer).Msg("[Validator] payer is not an address")
		return reject(ReasonValidationFailed)
	}
	balance, err := client.GetUserBalance(ctx, common.HexToAddress(payer), model.Token)
	if err != nil {
		log.Warn().Err(err).Str("network", network).Str("payer", payer).Msg("[Validator] failed to read prepaid balance")
		return reject(ReasonValidationFailed)
	}
	if balance != nil && decimal.NewFromBigInt(balance, -decimals).GreaterThanOrEqual(offered) {
		return Result{Valid: true, Reason: ReasonPrepaidBalance}
	}
	return Result{Valid: true, Reason: ReasonPermit}
}

func (v *Validator) model(ctx context.Context, client ethereum.ChainClient, modelID string) (*ethereum.ModelInfo, error) {
	if v.models == nil || v.cacheTTL <= 0 {
		return client.GetModel(ctx, modelID)
	}

	var cached cachedModel
	err := v.models.Get(ctx, modelKey(client.Network(), modelID), &cached, v.cacheTTL, func() (interface{}, error) {
		m, err := client.GetModel(ctx, modelID)
		if err != nil {
			return nil, err
		}
		return toCached(m), nil
	})
	if errors.Is(err, cache.ErrTimeout) {
		return client.GetModel(ctx, modelID)
	}
	if err != nil {
		return nil, err
	}
	return cached.model()
}

// InvalidateModel drops a cached model listing.
func (v *Validator) InvalidateModel(ctx context.Context, network, modelID string) error {
	if v.models == nil {
		return nil
	}
	return v.models.Invalidate(ctx, modelKey(network, modelID))
}

func modelKey(network, modelID string) string {
	return "model:" + network + ":" + modelID
}

func reject(reason string) Result {
	return Result{Valid: false, Reason: reason}
}
