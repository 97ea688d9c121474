package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentPayy/AgentPayy-sub002/pkg/common/contracts/ethereum"
)

type fakeSource struct {
	events []*ethereum.PaymentProcessedEvent

	mu     sync.Mutex
	starts []uint64
}

func (f *fakeSource) Network() string      { return "base" }
func (f *fakeSource) TokenDecimals() int32 { return 6 }

// WatchPaymentProcessed replays events from opts.Start; the first
// subscription fails after replaying.
func (f *fakeSource) WatchPaymentProcessed(opts *bind.FilterOpts, sink chan<- *ethereum.PaymentProcessedEvent) (event.Subscription, error) {
	f.mu.Lock()
	f.starts = append(f.starts, opts.Start)
	first := len(f.starts) == 1
	f.mu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, ev := range f.events {
			if ev.BlockNumber < opts.Start {
				continue
			}
			select {
			case sink <- ev:
			case <-quit:
				return nil
			}
		}
		if first {
			return errors.New("connection reset")
		}
		<-quit
		return nil
	}), nil
}

func (f *fakeSource) Starts() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.starts...)
}

func rawPayment(i int64, block uint64, amount int64) *ethereum.PaymentProcessedEvent {
	return &ethereum.PaymentProcessedEvent{
		Payer:       common.HexToAddress("0x00000000000000000000000000000000000a11ce"),
		ModelID:     "model-x",
		Amount:      big.NewInt(amount),
		InputHash:   common.BigToHash(big.NewInt(i)),
		Timestamp:   big.NewInt(1_700_000_000 + i),
		TxHash:      common.BigToHash(big.NewInt(1000 + i)),
		BlockNumber: block,
	}
}

func TestToPaymentEvent(t *testing.T) {
	ev := ToPaymentEvent(rawPayment(1, 7, 1_500_000), 6)
	assert.Equal(t, "1.5", ev.Amount)
	assert.Equal(t, alice, ev.Payer)
	assert.Equal(t, int64(1_700_000_001), ev.Timestamp)
	assert.Equal(t, uint64(7), ev.BlockNumber)
	assert.Equal(t, common.BigToHash(big.NewInt(1001)).Hex(), ev.TxHash)
}

func TestListenerResubscribesFromLastBlock(t *testing.T) {
	retryWait = 10 * time.Millisecond
	resubscribeBackoff = 10 * time.Millisecond

	source := &fakeSource{events: []*ethereum.PaymentProcessedEvent{
		rawPayment(1, 10, 10_000),
		rawPayment(2, 12, 20_000),
		rawPayment(3, 12, 30_000),
	}}
	l := NewLedger(backends()["redis"](t), time.Second, time.Hour)

	listener, err := NewListener(context.Background(), &ListenerConfig{
		Source:     source,
		Recorder:   l,
		StartBlock: 5,
	})
	require.NoError(t, err)
	defer listener.Stop()

	require.Eventually(t, func() bool {
		return len(source.Starts()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []uint64{5, 12}, source.Starts()[:2])
	assert.Equal(t, uint64(12), listener.NextBlock())

	a := l.GetAnalytics()
	assert.Equal(t, int64(3), a.TotalPayments)
	assert.Equal(t, "0.06", a.TotalRevenue)
}

// flakyRecorder rejects the first few writes of txHash.
type flakyRecorder struct {
	*Ledger
	txHash   string
	failures int

	mu    sync.Mutex
	calls int
}

func (r *flakyRecorder) RecordEvent(ctx context.Context, ev PaymentEvent, network string) (bool, error) {
	r.mu.Lock()
	fail := ev.TxHash == r.txHash && r.calls < r.failures
	if ev.TxHash == r.txHash {
		r.calls++
	}
	r.mu.Unlock()
	if fail {
		return false, ErrDependencyUnavailable
	}
	return r.Ledger.RecordEvent(ctx, ev, network)
}

func TestListenerReplaysUnrecordedPayment(t *testing.T) {
	retryWait = 10 * time.Millisecond
	resubscribeBackoff = 10 * time.Millisecond

	stuck := rawPayment(2, 12, 20_000)
	source := &fakeSource{events: []*ethereum.PaymentProcessedEvent{
		rawPayment(1, 10, 10_000),
		stuck,
	}}
	l := NewLedger(backends()["redis"](t), time.Second, time.Hour)
	recorder := &flakyRecorder{Ledger: l, txHash: stuck.TxHash.Hex(), failures: recordRetries}

	listener, err := NewListener(context.Background(), &ListenerConfig{
		Source:     source,
		Recorder:   recorder,
		StartBlock: 5,
	})
	require.NoError(t, err)
	defer listener.Stop()

	require.Eventually(t, func() bool {
		return l.GetAnalytics().TotalPayments == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []uint64{5, 10}, source.Starts()[:2])
	assert.Equal(t, uint64(12), listener.NextBlock())
	assert.Equal(t, "0.03", l.GetAnalytics().TotalRevenue)
}

func TestNewListenerValidatesConfig(t *testing.T) {
	_, err := NewListener(context.Background(), nil)
	assert.Error(t, err)
	_, err = NewListener(context.Background(), &ListenerConfig{Source: &fakeSource{}})
	assert.Error(t, err)
}
