package escrow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AgentPayy/AgentPayy-sub002/internal/metric"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	pendingTTL  = 7 * 24 * time.Hour
	terminalTTL = 30 * 24 * time.Hour
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// Coordinator drives the task lifecycle. Transitions on one task id are
// serialized and each one persists the durable record before touching the
// pending index.
type Coordinator struct {
	store    *TaskStore
	registry *Registry
	locks    keyMutex
	now      func() time.Time
}

func NewCoordinator(store *TaskStore, registry *Registry, opts ...Option) *Coordinator {
	if store == nil {
		log.Fatal().Msg("[Coordinator] task store is nil")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	c := &Coordinator{
		store:    store,
		registry: registry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load rebuilds the pending index from the durable store.
func (c *Coordinator) Load(ctx context.Context) error {
	n, err := c.store.Reload(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("pending", n).Msg("[Coordinator] loaded pending tasks")
	return nil
}

// RegisterPolicy adds or replaces the policy for an escrow type.
func (c *Coordinator) RegisterPolicy(name string, p Policy) {
	c.registry.Register(name, p)
	log.Info().Str("policy", name).Msg("[Coordinator] registered policy")
}

func (c *Coordinator) Policies() []string {
	return c.registry.Names()
}

// CreateTask persists a new pending task and indexes it.
func (c *Coordinator) CreateTask(ctx context.Context, p CreateTaskParams) (*Task, error) {
	if p.Payer == "" || p.Worker == "" {
		return nil, fmt.Errorf("%w: payer and worker are required", ErrInvalidArgument)
	}
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q is not a decimal", ErrInvalidArgument, p.Amount)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount is negative", ErrInvalidArgument)
	}

	if p.EscrowType != "" {
		policy, ok := c.registry.Get(p.EscrowType)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, p.EscrowType)
		}
		if v, ok := policy.(RulesValidator); ok {
			if err := v.ValidateRules(p.Rules); err != nil {
				if !errors.Is(err, ErrInvalidRules) {
					err = fmt.Errorf("%w: %v", ErrInvalidRules, err)
				}
				return nil, err
			}
		}
	}

	id, err := newTaskID()
	if err != nil {
		return nil, err
	}

	now := c.now()
	t := &Task{
		ID:         id,
		Payer:      p.Payer,
		Worker:     p.Worker,
		Amount:     p.Amount,
		Token:      p.Token,
		EscrowType: p.EscrowType,
		Status:     StatusPending,
		CreatedAt:  now,
	}
	if len(p.Rules) > 0 && string(p.Rules) != "null" {
		t.Rules = append(t.Rules, p.Rules...)
	}
	switch {
	case p.Deadline != nil:
		d := *p.Deadline
		t.Deadline = &d
	case p.EscrowType == "":
		d := now.Add(defaultTimeout)
		t.Deadline = &d
	}

	if err := c.store.Save(ctx, t, pendingTTL); err != nil {
		return nil, err
	}
	c.store.Index(t)

	metric.RecordTaskTransition(string(StatusPending))
	log.Info().Str("task_id", t.ID).Str("escrow_type", t.EscrowType).Str("payer", t.Payer).
		Str("worker", t.Worker).Msg("[Coordinator] created task")
	return t.Clone(), nil
}

// CompleteTask applies result to a pending task. It returns false without
// changing anything when the policy rejects the result.
func (c *Coordinator) CompleteTask(ctx context.Context, taskID string, result Result, completedBy string) (bool, error) {
	unlock := c.locks.Lock(taskID)
	defer unlock()

	t, err := c.current(ctx, taskID)
	if err != nil {
		return false, err
	}
	_, ok, err := c.complete(ctx, t, result, completedBy)
	return ok, err
}

// ApproveTask records one party's approval on a mutual task and completes it
// once both flags are set.
func (c *Coordinator) ApproveTask(ctx context.Context, taskID, approvedBy string, kind ApprovalKind) (*Task, error) {
	unlock := c.locks.Lock(taskID)
	defer unlock()

	t, err := c.current(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.EscrowType != PolicyMutual {
		return nil, fmt.Errorf("%w: task %s uses %q", ErrWrongPolicy, taskID, t.EscrowType)
	}
	if t.Status != StatusPending {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidState, taskID, t.Status)
	}

	result := t.Result.clone()
	if result == nil {
		result = make(Result)
	}
	switch kind {
	case ApprovalPayer:
		if !sameAddress(approvedBy, t.Payer) {
			return nil, ErrUnauthorized
		}
		result[ResultPayerApproved] = true
	case ApprovalWorker:
		if !sameAddress(approvedBy, t.Worker) {
			return nil, ErrUnauthorized
		}
		result[ResultWorkerCompleted] = true
	default:
		return nil, fmt.Errorf("%w: approval kind %q", ErrInvalidArgument, kind)
	}

	if result.flag(ResultPayerApproved) && result.flag(ResultWorkerCompleted) {
		done, ok, err := c.complete(ctx, t, result, approvedBy)
		if err != nil {
			return nil, err
		}
		if ok {
			return done, nil
		}
	}

	next := t.Clone()
	next.Result = result
	if err := c.store.Save(ctx, next, pendingTTL); err != nil {
		return nil, err
	}
	c.store.Index(next)

	log.Info().Str("task_id", taskID).Str("kind", string(kind)).Msg("[Coordinator] recorded approval")
	return next.Clone(), nil
}

// ProcessRefunds refunds every pending task whose policy says it is due and
// returns how many were refunded. Per-task failures are logged and skipped.
func (c *Coordinator) ProcessRefunds(ctx context.Context) int {
	metric.RecordRefundSweep()

	refunded := 0
	for _, snapshot := range c.store.PendingTasks() {
		if ctx.Err() != nil {
			break
		}
		ok, err := c.refundIfDue(ctx, snapshot.ID)
		if err != nil {
			metric.RecordError("refund_failed")
			log.Error().Err(err).Str("task_id", snapshot.ID).Msg("[Coordinator] failed to refund task")
			continue
		}
		if ok {
			refunded++
		}
	}
	if refunded > 0 {
		log.Info().Int("refunded", refunded).Msg("[Coordinator] refund sweep finished")
	}
	return refunded
}

// GetTask returns the task from the pending index, falling back to the durable
// store for settled tasks.
func (c *Coordinator) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if t, ok := c.store.Pending(taskID); ok {
		return t, nil
	}
	return c.store.Load(ctx, taskID)
}

// GetUserTasks lists pending tasks where address is the payer, the worker or
// either, newest first.
func (c *Coordinator) GetUserTasks(address string, role Role) []*Task {
	var out []*Task
	for _, t := range c.store.PendingTasks() {
		isPayer := sameAddress(t.Payer, address)
		isWorker := sameAddress(t.Worker, address)
		switch role {
		case RolePayer:
			if isPayer {
				out = append(out, t)
			}
		case RoleWorker:
			if isWorker {
				out = append(out, t)
			}
		default:
			if isPayer || isWorker {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// current must be called with the task lock held.
func (c *Coordinator) current(ctx context.Context, taskID string) (*Task, error) {
	if t, ok := c.store.Pending(taskID); ok {
		return t, nil
	}
	return c.store.Load(ctx, taskID)
}

// complete must be called with the task lock held.
func (c *Coordinator) complete(ctx context.Context, t *Task, result Result, completedBy string) (*Task, bool, error) {
	if t.Status != StatusPending {
		return nil, false, fmt.Errorf("%w: task %s is %s", ErrInvalidState, t.ID, t.Status)
	}

	if t.EscrowType != "" {
		policy, ok := c.registry.Get(t.EscrowType)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrUnknownPolicy, t.EscrowType)
		}
		if !policy.ValidateCompletion(t.ID, result, t.Rules) {
			log.Debug().Str("task_id", t.ID).Msg("[Coordinator] completion rejected by policy")
			return nil, false, nil
		}
	} else if result == nil {
		return nil, false, nil
	}

	now := c.now()
	proof, err := HashCanonical(map[string]interface{}{
		"taskId":      t.ID,
		"result":      result,
		"completedBy": completedBy,
		"timestamp":   now.UnixMilli(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("[Coordinator] failed to hash proof for task %s: %w", t.ID, err)
	}

	next := t.Clone()
	next.Status = StatusCompleted
	next.CompletedAt = &now
	next.CompletedBy = completedBy
	next.Result = result.clone()
	next.ProofHash = proof.Hex()

	if err := c.store.Save(ctx, next, terminalTTL); err != nil {
		return nil, false, err
	}
	c.store.Unindex(t.ID)

	metric.RecordTaskTransition(string(StatusCompleted))
	log.Info().Str("task_id", t.ID).Str("completed_by", completedBy).Str("proof_hash", next.ProofHash).
		Msg("[Coordinator] completed task")
	return next.Clone(), true, nil
}

func (c *Coordinator) refundIfDue(ctx context.Context, taskID string) (bool, error) {
	unlock := c.locks.Lock(taskID)
	defer unlock()

	t, ok := c.store.Pending(taskID)
	if !ok || t.Status != StatusPending {
		return false, nil
	}

	now := c.now()
	due, err := c.shouldRefund(t, now)
	if err != nil || !due {
		return false, err
	}

	next := t.Clone()
	next.Status = StatusRefunded
	next.CompletedAt = &now
	if err := c.store.Save(ctx, next, terminalTTL); err != nil {
		return false, err
	}
	c.store.Unindex(taskID)

	metric.RecordTaskTransition(string(StatusRefunded))
	log.Info().Str("task_id", taskID).Str("payer", t.Payer).Str("amount", t.Amount).Msg("[Coordinator] refunded task")
	return true, nil
}

func (c *Coordinator) shouldRefund(t *Task, now time.Time) (bool, error) {
	if t.EscrowType == "" {
		return now.After(t.DeadlineOr(defaultTimeout)), nil
	}
	policy, ok := c.registry.Get(t.EscrowType)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPolicy, t.EscrowType)
	}
	return policy.ShouldRefund(t, now), nil
}

func sameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

func newTaskID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("[Coordinator] failed to generate task id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
