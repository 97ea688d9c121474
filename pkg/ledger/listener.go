package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/AgentPayy/AgentPayy-sub002/internal/metric"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/common/contracts/ethereum"
)

var (
	subscribeRetries   = 3
	retryWait          = time.Second
	recordRetries      = 3
	resubscribeBackoff = 5 * time.Second
)

// Recorder stores payment events. *Ledger implements it.
type Recorder interface {
	RecordEvent(ctx context.Context, ev PaymentEvent, network string) (bool, error)
}

// PaymentSource is the part of a chain client the listener needs.
type PaymentSource interface {
	Network() string
	TokenDecimals() int32
	WatchPaymentProcessed(filterOpts *bind.FilterOpts, sink chan<- *ethereum.PaymentProcessedEvent) (event.Subscription, error)
}

// ListenerConfig wires one network's PaymentProcessed stream into a Recorder.
type ListenerConfig struct {
	Source     PaymentSource
	Recorder   Recorder
	StartBlock uint64
}

// Listener forwards PaymentProcessed logs of one network to the ledger and
// resubscribes from the last seen block when the stream fails.
type Listener struct {
	source   PaymentSource
	recorder Recorder
	network  string

	mu        sync.Mutex
	nextBlock uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener validates cfg and starts listening.
func NewListener(ctx context.Context, cfg *ListenerConfig) (*Listener, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("payment source not initialized")
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("recorder not initialized")
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Listener{
		source:    cfg.Source,
		recorder:  cfg.Recorder,
		network:   cfg.Source.Network(),
		nextBlock: cfg.StartBlock,
		cancel:    cancel,
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("network", l.network).Msg("[Listener] recovered from panic")
			}
		}()
		l.run(ctx)
	}()

	log.Info().Str("network", l.network).Uint64("start_block", cfg.StartBlock).Msg("[Listener] started")
	return l, nil
}

func (l *Listener) run(ctx context.Context) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("network", l.network).Uint64("from_block", l.NextBlock()).
			Msg("[Listener] stream stopped, resubscribing")
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeBackoff):
		}
	}
}

// listen consumes one subscription until it fails or ctx is done.
func (l *Listener) listen(ctx context.Context) error {
	sink := make(chan *ethereum.PaymentProcessedEvent)
	sub, err := l.subscribe(ctx, sink)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case ev := <-sink:
			if err := l.handle(ctx, ev); err != nil {
				return fmt.Errorf("record payment at block %d: %w", ev.BlockNumber, err)
			}
		}
	}
}

func (l *Listener) subscribe(ctx context.Context, sink chan<- *ethereum.PaymentProcessedEvent) (event.Subscription, error) {
	var err error
	for i := 0; i < subscribeRetries; i++ {
		var sub event.Subscription
		sub, err = l.source.WatchPaymentProcessed(&bind.FilterOpts{Start: l.NextBlock(), Context: ctx}, sink)
		if err == nil {
			return sub, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryWait):
		}
	}
	return nil, fmt.Errorf("failed to subscribe after retries: %w", err)
}

// handle records raw and advances the resume block. A payment that could not
// be stored leaves the resume block where it was, so the next subscription
// replays it.
func (l *Listener) handle(ctx context.Context, raw *ethereum.PaymentProcessedEvent) error {
	ev := ToPaymentEvent(raw, l.source.TokenDecimals())

	var err error
	for i := 0; i < recordRetries; i++ {
		_, err = l.recorder.RecordEvent(ctx, ev, l.network)
		if err == nil || errors.Is(err, ErrInvalidEvent) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryWait):
		}
	}
	switch {
	case errors.Is(err, ErrInvalidEvent):
		metric.RecordError("payment_invalid")
		log.Warn().Err(err).Str("network", l.network).Str("tx_hash", ev.TxHash).Msg("[Listener] skipped invalid payment")
	case err != nil:
		metric.RecordError("payment_record_failed")
		log.Error().Err(err).Str("network", l.network).Str("tx_hash", ev.TxHash).Msg("[Listener] failed to record payment")
		return err
	}

	l.mu.Lock()
	if raw.BlockNumber >= l.nextBlock {
		l.nextBlock = raw.BlockNumber
	}
	l.mu.Unlock()
	return nil
}

// NextBlock is the block a new subscription starts from: the last seen block,
// whose payments the ledger deduplicates.
func (l *Listener) NextBlock() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextBlock
}

func (l *Listener) Stop() {
	l.cancel()
	l.wg.Wait()
	log.Info().Str("network", l.network).Msg("[Listener] stopped")
}

// ToPaymentEvent converts a decoded log into a ledger record. Amount is
// scaled from base units by decimals.
func ToPaymentEvent(raw *ethereum.PaymentProcessedEvent, decimals int32) PaymentEvent {
	ev := PaymentEvent{
		ModelID:     raw.ModelID,
		Payer:       raw.Payer.Hex(),
		Amount:      "0",
		InputHash:   raw.InputHash.Hex(),
		TxHash:      raw.TxHash.Hex(),
		BlockNumber: raw.BlockNumber,
	}
	if raw.Amount != nil {
		ev.Amount = decimal.NewFromBigInt(raw.Amount, -decimals).String()
	}
	if raw.Timestamp != nil && raw.Timestamp.IsInt64() {
		ev.Timestamp = raw.Timestamp.Int64()
	}
	return ev
}
