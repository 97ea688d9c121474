package escrow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Built-in policy names.
const (
	PolicyTimeout = "timeout"
	PolicyHash    = "hash"
	PolicyMutual  = "mutual"
)

const (
	defaultTimeout        = time.Hour
	defaultHashDeadline   = 24 * time.Hour
	defaultMutualDeadline = 7 * 24 * time.Hour
)

// Policy decides whether a result completes a task and when a pending task
// is refundable.
type Policy interface {
	ValidateCompletion(taskID string, result Result, rules json.RawMessage) bool
	ShouldRefund(task *Task, now time.Time) bool
}

// RulesValidator is implemented by policies that check rules at task
// creation.
type RulesValidator interface {
	ValidateRules(rules json.RawMessage) error
}

// Registry maps escrow type names to policies.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewRegistry returns a registry holding the timeout, hash and mutual
// policies.
func NewRegistry() *Registry {
	r := &Registry{policies: make(map[string]Policy)}
	r.Register(PolicyTimeout, TimeoutPolicy{})
	r.Register(PolicyHash, HashPolicy{})
	r.Register(PolicyMutual, MutualPolicy{})
	return r
}

// Register adds or replaces a policy.
func (r *Registry) Register(name string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[name] = p
}

func (r *Registry) Get(name string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// Names returns registered policy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeRules(rules json.RawMessage, v interface{}) error {
	if len(rules) == 0 || string(rules) == "null" {
		return nil
	}
	if err := json.Unmarshal(rules, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return nil
}

type timeoutRules struct {
	Timeout float64 `json:"timeout"`
}

// TimeoutPolicy accepts any non-null result and refunds after rules.timeout
// seconds.
type TimeoutPolicy struct{}

func (TimeoutPolicy) ValidateRules(rules json.RawMessage) error {
	var r timeoutRules
	if err := decodeRules(rules, &r); err != nil {
		return err
	}
	if r.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidRules)
	}
	return nil
}

func (TimeoutPolicy) ValidateCompletion(_ string, result Result, _ json.RawMessage) bool {
	return result != nil
}

func (TimeoutPolicy) ShouldRefund(task *Task, now time.Time) bool {
	timeout := defaultTimeout
	var r timeoutRules
	if err := decodeRules(task.Rules, &r); err == nil && r.Timeout > 0 {
		timeout = time.Duration(r.Timeout * float64(time.Second))
	}
	return now.After(task.DeadlineOr(timeout))
}

type hashRules struct {
	ExpectedHash string `json:"expectedHash"`
}

// HashPolicy completes when keccak256 of the canonical result.data matches
// rules.expectedHash.
type HashPolicy struct{}

func (HashPolicy) ValidateRules(rules json.RawMessage) error {
	var r hashRules
	if err := decodeRules(rules, &r); err != nil {
		return err
	}
	if len(normalizeHash(r.ExpectedHash)) != 2*common.HashLength {
		return fmt.Errorf("%w: expectedHash must be 32 bytes of hex", ErrInvalidRules)
	}
	return nil
}

func (HashPolicy) ValidateCompletion(_ string, result Result, rules json.RawMessage) bool {
	var r hashRules
	if err := decodeRules(rules, &r); err != nil || r.ExpectedHash == "" {
		return false
	}
	data, ok := result[ResultData]
	if !ok {
		return false
	}
	got, err := HashCanonical(data)
	if err != nil {
		return false
	}
	return normalizeHash(got.Hex()) == normalizeHash(r.ExpectedHash)
}

func normalizeHash(h string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "0x")
}

func (HashPolicy) ShouldRefund(task *Task, now time.Time) bool {
	return now.After(task.DeadlineOr(defaultHashDeadline))
}

// MutualPolicy requires both the payer's approval and the worker's completion
// flag.
type MutualPolicy struct{}

func (MutualPolicy) ValidateCompletion(_ string, result Result, _ json.RawMessage) bool {
	return result.flag(ResultPayerApproved) && result.flag(ResultWorkerCompleted)
}

func (MutualPolicy) ShouldRefund(task *Task, now time.Time) bool {
	return task.Status == StatusPending && now.After(task.DeadlineOr(defaultMutualDeadline))
}
