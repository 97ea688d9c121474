package api

import (
	"context"
	"fmt"

	"github.com/AgentPayy/AgentPayy-sub002/pkg/escrow"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/health"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/ledger"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/payment"
)

// Coordinator is the escrow surface served by the API.
type Coordinator interface {
	CreateTask(ctx context.Context, p escrow.CreateTaskParams) (*escrow.Task, error)
	CompleteTask(ctx context.Context, taskID string, result escrow.Result, completedBy string) (bool, error)
	ApproveTask(ctx context.Context, taskID, approvedBy string, kind escrow.ApprovalKind) (*escrow.Task, error)
	ProcessRefunds(ctx context.Context) int
	GetTask(ctx context.Context, taskID string) (*escrow.Task, error)
	GetUserTasks(address string, role escrow.Role) []*escrow.Task
}

type PaymentValidator interface {
	ValidatePayment(ctx context.Context, modelID, payer, amount, network string) payment.Result
}

// Ledger is the read side of the payment ledger.
type Ledger interface {
	GetAnalytics() ledger.Analytics
	GetUserPayments(ctx context.Context, address string, limit int) ([]ledger.PaymentEvent, error)
	GetPayment(ctx context.Context, txHash string) (*ledger.PaymentEvent, error)
	ClaimPayment(ctx context.Context, txHash string) (bool, error)
}

type HealthReporter interface {
	Report() health.Report
}

// Config wires the API dependencies.
type Config struct {
	Coordinator Coordinator
	Validator   PaymentValidator
	Ledger      Ledger
	// Paywall and Health are optional
	Paywall *PaywallConfig
	Health  HealthReporter
}

// Handler handles HTTP requests
type Handler struct {
	coordinator Coordinator
	validator   PaymentValidator
	ledger      Ledger
	health      HealthReporter
}

// NewHandler creates a new handler
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("[API] coordinator not initialized")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("[API] payment validator not initialized")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("[API] ledger not initialized")
	}
	return &Handler{
		coordinator: cfg.Coordinator,
		validator:   cfg.Validator,
		ledger:      cfg.Ledger,
		health:      cfg.Health,
	}, nil
}
