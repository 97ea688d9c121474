package escrow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
	// StatusDisputed is reserved; no transition produces it.
	StatusDisputed Status = "disputed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded || s == StatusDisputed
}

// Role filters GetUserTasks.
type Role string

const (
	RolePayer  Role = "payer"
	RoleWorker Role = "worker"
	RoleAll    Role = "all"
)

// ParseRole maps "" to RoleAll.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleAll:
		return RoleAll, nil
	case RolePayer, RoleWorker:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, s)
}

// ApprovalKind says which party approves a mutual task.
type ApprovalKind string

const (
	ApprovalPayer  ApprovalKind = "payer"
	ApprovalWorker ApprovalKind = "worker"
)

// Result keys written by ApproveTask and read by the mutual policy.
const (
	ResultPayerApproved   = "payerApproved"
	ResultWorkerCompleted = "workerCompleted"
	// ResultData is the payload the hash policy commits to.
	ResultData = "data"
)

// Result is the policy-defined completion payload.
type Result map[string]interface{}

func (r Result) clone() Result {
	if r == nil {
		return nil
	}
	out := make(Result, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Result) flag(key string) bool {
	v, ok := r[key].(bool)
	return ok && v
}

// Task is one escrow-governed unit of work.
type Task struct {
	ID     string `json:"id" msgpack:"id"`
	Payer  string `json:"payer" msgpack:"payer"`
	Worker string `json:"worker" msgpack:"worker"`
	// Amount is kept as the caller's decimal string
	Amount string `json:"amount" msgpack:"amount"`
	Token  string `json:"token" msgpack:"token"`

	EscrowType string          `json:"escrowType,omitempty" msgpack:"escrow_type,omitempty"`
	Rules      json.RawMessage `json:"rules,omitempty" msgpack:"rules,omitempty"`

	Status      Status     `json:"status" msgpack:"status"`
	CreatedAt   time.Time  `json:"createdAt" msgpack:"created_at"`
	Deadline    *time.Time `json:"deadline,omitempty" msgpack:"deadline,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" msgpack:"completed_at,omitempty"`
	CompletedBy string     `json:"completedBy,omitempty" msgpack:"completed_by,omitempty"`

	Result    Result `json:"result,omitempty" msgpack:"result,omitempty"`
	ProofHash string `json:"proofHash,omitempty" msgpack:"proof_hash,omitempty"`
}

// DeadlineOr returns the explicit deadline, or createdAt+offset when none was
// set.
func (t *Task) DeadlineOr(offset time.Duration) time.Time {
	if t.Deadline != nil {
		return *t.Deadline
	}
	return t.CreatedAt.Add(offset)
}

// Clone returns a copy that shares no mutable state with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.Rules != nil {
		out.Rules = append(json.RawMessage(nil), t.Rules...)
	}
	if t.Deadline != nil {
		d := *t.Deadline
		out.Deadline = &d
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		out.CompletedAt = &c
	}
	out.Result = t.Result.clone()
	return &out
}

// CreateTaskParams are the inputs of CreateTask.
type CreateTaskParams struct {
	Payer      string
	Worker     string
	Amount     string
	Token      string
	EscrowType string
	Rules      json.RawMessage
	Deadline   *time.Time
}
