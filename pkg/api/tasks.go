package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AgentPayy/AgentPayy-sub002/pkg/escrow"
)

type createTaskRequest struct {
	Payer      string          `json:"payer"`
	Worker     string          `json:"worker"`
	Amount     string          `json:"amount"`
	Token      string          `json:"token"`
	EscrowType string          `json:"escrowType,omitempty"`
	Rules      json.RawMessage `json:"rules,omitempty"`
	Deadline   *time.Time      `json:"deadline,omitempty"`
}

type completeTaskRequest struct {
	Result      escrow.Result `json:"result"`
	CompletedBy string        `json:"completedBy"`
}

type completeTaskResponse struct {
	Completed bool `json:"completed"`
}

type approveTaskRequest struct {
	ApprovedBy   string              `json:"approvedBy"`
	ApprovalKind escrow.ApprovalKind `json:"approvalKind"`
}

type refundResponse struct {
	Refunded int `json:"refunded"`
}

type userTasksResponse struct {
	Tasks []*escrow.Task `json:"tasks"`
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task, err := h.coordinator.CreateTask(r.Context(), escrow.CreateTaskParams{
		Payer:      req.Payer,
		Worker:     req.Worker,
		Amount:     req.Amount,
		Token:      req.Token,
		EscrowType: req.EscrowType,
		Rules:      req.Rules,
		Deadline:   req.Deadline,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.coordinator.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CompleteTask answers 200 with completed=false when the policy rejects the
// result.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	var req completeTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CompletedBy == "" {
		writeError(w, http.StatusBadRequest, "completedBy is required")
		return
	}

	ok, err := h.coordinator.CompleteTask(r.Context(), chi.URLParam(r, "taskID"), req.Result, req.CompletedBy)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completeTaskResponse{Completed: ok})
}

func (h *Handler) ApproveTask(w http.ResponseWriter, r *http.Request) {
	var req approveTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ApprovalKind != escrow.ApprovalPayer && req.ApprovalKind != escrow.ApprovalWorker {
		writeError(w, http.StatusBadRequest, "approvalKind must be payer or worker")
		return
	}

	task, err := h.coordinator.ApproveTask(r.Context(), chi.URLParam(r, "taskID"), req.ApprovedBy, req.ApprovalKind)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) ProcessRefunds(w http.ResponseWriter, r *http.Request) {
	n := h.coordinator.ProcessRefunds(r.Context())
	writeJSON(w, http.StatusOK, refundResponse{Refunded: n})
}

func (h *Handler) GetUserTasks(w http.ResponseWriter, r *http.Request) {
	role, err := escrow.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	tasks := h.coordinator.GetUserTasks(chi.URLParam(r, "address"), role)
	if tasks == nil {
		tasks = []*escrow.Task{}
	}
	writeJSON(w, http.StatusOK, userTasksResponse{Tasks: tasks})
}
