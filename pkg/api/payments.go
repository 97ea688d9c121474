package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/AgentPayy/AgentPayy-sub002/pkg/health"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/ledger"
)

const (
	defaultPaymentsLimit = 50
	maxPaymentsLimit     = 1000
)

type validatePaymentRequest struct {
	ModelID string `json:"modelId"`
	Payer   string `json:"payer"`
	Amount  string `json:"amount"`
	Network string `json:"network"`
}

type userPaymentsResponse struct {
	Payments []ledger.PaymentEvent `json:"payments"`
}

// ValidatePayment always answers 200; rejection is carried in the body.
func (h *Handler) ValidatePayment(w http.ResponseWriter, r *http.Request) {
	var req validatePaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ModelID == "" || req.Network == "" {
		writeError(w, http.StatusBadRequest, "modelId and network are required")
		return
	}
	writeJSON(w, http.StatusOK, h.validator.ValidatePayment(r.Context(), req.ModelID, req.Payer, req.Amount, req.Network))
}

func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.GetAnalytics())
}

func (h *Handler) GetUserPayments(w http.ResponseWriter, r *http.Request) {
	limit := defaultPaymentsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxPaymentsLimit {
		limit = maxPaymentsLimit
	}

	payments, err := h.ledger.GetUserPayments(r.Context(), chi.URLParam(r, "address"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userPaymentsResponse{Payments: payments})
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	ev, err := h.ledger.GetPayment(r.Context(), chi.URLParam(r, "txHash"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Healthz always answers 200; a failing dependency shows up as "degraded".
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": health.StatusOK})
		return
	}
	writeJSON(w, http.StatusOK, h.health.Report())
}
