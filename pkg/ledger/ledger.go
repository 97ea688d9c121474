// Package ledger records observed on-chain payments and keeps a rolling
// aggregate over them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/kv"
	"github.com/AgentPayy/AgentPayy-sub002/internal/metric"
)

const (
	defaultOpTimeout  = 5 * time.Second
	defaultPaymentTTL = 90 * 24 * time.Hour

	// digits kept after the point when averaging
	avgPrecision = 18
)

// Ledger persists payment events under payment:<txHash> and
// payment:<timestamp>:<payer> and aggregates them in memory.
type Ledger struct {
	kv         kv.Store
	opTimeout  time.Duration
	paymentTTL time.Duration

	mu       sync.Mutex
	total    int64
	revenue  decimal.Decimal
	payers   map[string]struct{}
	recent   []PaymentEvent
	recentAt int
}

// NewLedger creates an empty ledger. Call Restore to rebuild the aggregate
// from a non-empty store.
func NewLedger(store kv.Store, opTimeout, paymentTTL time.Duration) *Ledger {
	if store == nil {
		log.Fatal().Msg("[Ledger] kv store is nil")
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	if paymentTTL <= 0 {
		paymentTTL = defaultPaymentTTL
	}
	return &Ledger{
		kv:         store,
		opTimeout:  opTimeout,
		paymentTTL: paymentTTL,
		revenue:    decimal.Zero,
		payers:     make(map[string]struct{}),
		recent:     make([]PaymentEvent, 0, recentCapacity),
	}
}

// RecordEvent stores ev for network. It reports false when the transaction
// hash was already recorded; the aggregate is only updated on first sight.
func (l *Ledger) RecordEvent(ctx context.Context, ev PaymentEvent, network string) (bool, error) {
	if ev.TxHash == "" {
		return false, fmt.Errorf("%w: missing tx hash", ErrInvalidEvent)
	}
	amount, err := decimal.NewFromString(ev.Amount)
	if err != nil {
		return false, fmt.Errorf("%w: amount %q: %v", ErrInvalidEvent, ev.Amount, err)
	}
	ev.Network = network
	ev.TxHash = NormalizeTxHash(ev.TxHash)
	ev.Payer = NormalizeAddress(ev.Payer)

	b, err := kv.Marshal(&ev)
	if err != nil {
		return false, fmt.Errorf("[Ledger] failed to encode payment %s: %w", ev.TxHash, err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	created, err := l.kv.SetNX(ctx, txKey(ev.TxHash), b, l.paymentTTL)
	if err != nil {
		return false, fmt.Errorf("%w: save payment %s: %v", ErrDependencyUnavailable, ev.TxHash, err)
	}
	if created {
		l.mu.Lock()
		l.apply(ev, amount)
		l.mu.Unlock()
	}

	// A redelivered event only fills a missing secondary record, so it never
	// replaces a newer payment that shares the same second.
	secondary := payerKey(ev.Timestamp, ev.Payer)
	if created {
		err = l.kv.Set(ctx, secondary, b, l.paymentTTL)
	} else {
		_, err = l.kv.SetNX(ctx, secondary, b, l.paymentTTL)
	}
	if err != nil {
		return false, fmt.Errorf("%w: save payment index %s: %v", ErrDependencyUnavailable, ev.TxHash, err)
	}
	if !created {
		log.Debug().Str("tx_hash", ev.TxHash).Msg("[Ledger] duplicate payment ignored")
		return false, nil
	}

	metric.RecordPayment(network)
	log.Info().Str("tx_hash", ev.TxHash).Str("network", network).Str("model_id", ev.ModelID).
		Str("payer", ev.Payer).Str("amount", ev.Amount).Msg("[Ledger] recorded payment")
	return true, nil
}

// apply must be called with l.mu held.
func (l *Ledger) apply(ev PaymentEvent, amount decimal.Decimal) {
	l.total++
	l.revenue = l.revenue.Add(amount)
	l.payers[ev.Payer] = struct{}{}

	if len(l.recent) < recentCapacity {
		l.recent = append(l.recent, ev)
		return
	}
	l.recent[l.recentAt] = ev
	l.recentAt = (l.recentAt + 1) % recentCapacity
}

// GetAnalytics returns a snapshot of the aggregate.
func (l *Ledger) GetAnalytics() Analytics {
	l.mu.Lock()
	defer l.mu.Unlock()

	avg := decimal.Zero
	if l.total > 0 {
		avg = l.revenue.DivRound(decimal.NewFromInt(l.total), avgPrecision)
	}
	return Analytics{
		TotalPayments:  l.total,
		TotalRevenue:   l.revenue.String(),
		UniqueUsers:    len(l.payers),
		AvgPaymentSize: avg.String(),
		RecentCount:    len(l.recent),
	}
}

// Recent returns up to n of the most recently recorded payments, newest
// first.
func (l *Ledger) Recent(n int) []PaymentEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := len(l.recent)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]PaymentEvent, 0, n)
	// the slot before recentAt holds the newest entry once the ring is full
	newest := size - 1
	if size == recentCapacity {
		newest = (l.recentAt - 1 + recentCapacity) % recentCapacity
	}
	for i := 0; i < n; i++ {
		out = append(out, l.recent[(newest-i+size)%size])
	}
	return out
}

// GetPayment returns the payment recorded for txHash.
func (l *Ledger) GetPayment(ctx context.Context, txHash string) (*PaymentEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	return l.load(ctx, txKey(NormalizeTxHash(txHash)))
}

// ClaimPayment marks txHash as spent and reports whether this call claimed
// it. A payment can be claimed once.
func (l *Ledger) ClaimPayment(ctx context.Context, txHash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	claimed, err := l.kv.SetNX(ctx, claimKey(NormalizeTxHash(txHash)), []byte{1}, l.paymentTTL)
	if err != nil {
		return false, fmt.Errorf("%w: claim payment %s: %v", ErrDependencyUnavailable, txHash, err)
	}
	return claimed, nil
}

// GetUserPayments scans the secondary records of address and returns at most
// limit of them, newest first. A limit <= 0 returns all of them.
func (l *Ledger) GetUserPayments(ctx context.Context, address string, limit int) ([]PaymentEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	payer := NormalizeAddress(address)
	keys, err := l.kv.Keys(ctx, paymentKeyPrefix+"*:"+payer)
	if err != nil {
		return nil, fmt.Errorf("%w: scan payments: %v", ErrDependencyUnavailable, err)
	}

	out := make([]PaymentEvent, 0, len(keys))
	for _, key := range keys {
		ev, err := l.load(ctx, key)
		if errors.Is(err, ErrPaymentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// the glob also matches payers whose address ends with this one
		if ev.Payer != payer {
			continue
		}
		out = append(out, *ev)
	}

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Restore rebuilds the aggregate from the primary records in the store and
// returns how many were loaded. It replaces any in-memory state.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	scanCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	keys, err := l.kv.Keys(scanCtx, paymentKeyPrefix+"0x*")
	cancel()
	if err != nil {
		return 0, fmt.Errorf("%w: scan payments: %v", ErrDependencyUnavailable, err)
	}

	events := make([]PaymentEvent, 0, len(keys))
	for _, key := range keys {
		loadCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		ev, err := l.load(loadCtx, key)
		cancel()
		if errors.Is(err, ErrPaymentNotFound) {
			continue
		}
		if errors.Is(err, ErrDependencyUnavailable) {
			return 0, err
		}
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("[Ledger] skipping unreadable payment")
			continue
		}
		events = append(events, *ev)
	}

	// oldest first so the ring ends with the newest payments
	sortNewestFirst(events)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = 0
	l.revenue = decimal.Zero
	l.payers = make(map[string]struct{})
	l.recent = make([]PaymentEvent, 0, recentCapacity)
	l.recentAt = 0
	for i := len(events) - 1; i >= 0; i-- {
		amount, err := decimal.NewFromString(events[i].Amount)
		if err != nil {
			log.Warn().Str("tx_hash", events[i].TxHash).Msg("[Ledger] skipping payment with malformed amount")
			continue
		}
		l.apply(events[i], amount)
	}

	log.Info().Int("payments", len(events)).Msg("[Ledger] restored aggregate")
	return len(events), nil
}

func (l *Ledger) load(ctx context.Context, key string) (*PaymentEvent, error) {
	b, err := l.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrDependencyUnavailable, key, err)
	}
	ev := new(PaymentEvent)
	if err := kv.Unmarshal(b, ev); err != nil {
		return nil, fmt.Errorf("[Ledger] failed to decode %s: %w", key, err)
	}
	return ev, nil
}

func sortNewestFirst(events []PaymentEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp > events[j].Timestamp
		}
		return strings.Compare(events[i].TxHash, events[j].TxHash) > 0
	})
}
