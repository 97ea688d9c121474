package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog/log"

	"github.com/AgentPayy/AgentPayy-sub002/pkg/common/contracts/bindings"
)

// backend is the part of ethclient.Client the chain client uses.
type backend interface {
	bind.ContractBackend
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Client is the ChainClient for one network.
type Client struct {
	network       string
	backend       backend
	agentPay      *bindings.AgentPay
	tokenDecimals int32
	pollInterval  time.Duration
	callTimeout   time.Duration
}

var _ ChainClient = (*Client)(nil)

// NewChainClient dials the network RPC and binds the AgentPay contract.
func NewChainClient(cfg *Config) (*Client, error) {
	ethClient, err := ethclient.Dial(cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("[ChainClient] failed to connect to %s node: %w", cfg.Network, err)
	}
	c, err := newClient(cfg, ethClient)
	if err != nil {
		ethClient.Close()
		return nil, err
	}
	return c, nil
}

func newClient(cfg *Config, b backend) (*Client, error) {
	agentPay, err := bindings.NewAgentPay(cfg.ContractAddress, b)
	if err != nil {
		return nil, fmt.Errorf("[ChainClient] failed to create agentpay binding: %w", err)
	}
	c := &Client{
		network:       cfg.Network,
		backend:       b,
		agentPay:      agentPay,
		tokenDecimals: cfg.TokenDecimals,
		pollInterval:  cfg.PollInterval,
		callTimeout:   cfg.CallTimeout,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	return c, nil
}

func (c *Client) Network() string {
	return c.network
}

func (c *Client) TokenDecimals() int32 {
	return c.tokenDecimals
}

func (c *Client) Close() error {
	c.backend.Close()
	return nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.backend.BlockNumber(ctx)
}

// GetModel reads the model listing. A missing model comes back with a zero
// owner rather than an error.
func (c *Client) GetModel(ctx context.Context, modelID string) (*ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	opts := &bind.CallOpts{Context: ctx}
	model, err := c.agentPay.GetModel(opts, modelID)
	if err != nil {
		return nil, fmt.Errorf("[ChainClient] failed to get model %s: %w", modelID, err)
	}
	price := model.Price
	if price == nil {
		price = new(big.Int)
	}
	return &ModelInfo{
		Owner:    model.Owner,
		Endpoint: model.Endpoint,
		Price:    price,
		Token:    model.Token,
		Active:   model.Active,
	}, nil
}

func (c *Client) GetUserBalance(ctx context.Context, user, token common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	opts := &bind.CallOpts{Context: ctx}
	balance, err := c.agentPay.GetUserBalance(opts, user, token)
	if err != nil {
		return nil, fmt.Errorf("[ChainClient] failed to get balance of %s: %w", user.Hex(), err)
	}
	return balance, nil
}

// WatchPaymentProcessed polls the log filter every poll interval and forwards
// decoded events. Each round covers at most maxFilterRange blocks up to the
// current head; a failed round is retried on the next tick.
func (c *Client) WatchPaymentProcessed(filterOpts *bind.FilterOpts, sink chan<- *PaymentProcessedEvent) (event.Subscription, error) {
	ctx := filterOpts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	sub := event.NewSubscription(func(quit <-chan struct{}) error {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		next := filterOpts.Start
		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}

			head, err := c.BlockNumber(ctx)
			if err != nil {
				log.Warn().Err(err).Str("network", c.network).Msg("[ChainClient] failed to get head block")
				continue
			}
			for next <= head {
				end := next + maxFilterRange - 1
				if end > head {
					end = head
				}
				if err := c.forwardRange(ctx, next, end, sink, quit); err != nil {
					if errors.Is(err, errQuit) {
						return nil
					}
					log.Warn().Err(err).Str("network", c.network).Uint64("from", next).Uint64("to", end).
						Msg("[ChainClient] failed to filter PaymentProcessed logs")
					break
				}
				next = end + 1
			}
		}
	})

	return sub, nil
}

var errQuit = errors.New("subscription closed")

func (c *Client) forwardRange(ctx context.Context, start, end uint64, sink chan<- *PaymentProcessedEvent, quit <-chan struct{}) error {
	filterCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	events, err := c.agentPay.FilterPaymentProcessed(&bind.FilterOpts{
		Start:   start,
		End:     &end,
		Context: filterCtx,
	}, nil)
	if err != nil {
		return err
	}
	defer events.Close()

	for events.Next() {
		ev := events.Event
		out := &PaymentProcessedEvent{
			Payer:       ev.Payer,
			ModelID:     ev.ModelId,
			Amount:      ev.Amount,
			InputHash:   common.Hash(ev.InputHash),
			Timestamp:   ev.Timestamp,
			TxHash:      ev.Raw.TxHash,
			BlockNumber: ev.Raw.BlockNumber,
			LogIndex:    ev.Raw.Index,
		}
		select {
		case sink <- out:
		case <-quit:
			return errQuit
		}
	}
	return events.Error()
}
