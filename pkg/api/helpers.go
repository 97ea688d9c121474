package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/AgentPayy/AgentPayy-sub002/internal/metric"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/escrow"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/ledger"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Err(err).Msg("[API] failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps escrow and ledger errors to status codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, escrow.ErrTaskNotFound), errors.Is(err, ledger.ErrPaymentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrUnknownPolicy),
		errors.Is(err, escrow.ErrWrongPolicy),
		errors.Is(err, escrow.ErrInvalidRules),
		errors.Is(err, escrow.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, escrow.ErrDependencyUnavailable), errors.Is(err, ledger.ErrDependencyUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		metric.RecordError("api")
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("[API] request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
