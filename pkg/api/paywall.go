package api

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/AgentPayy/AgentPayy-sub002/pkg/ledger"
)

// Headers exchanged with x402 clients.
const (
	HeaderTxHash = "X-AgentPayy-TxHash"
	HeaderPayer  = "X-AgentPayy-Payer"

	HeaderPrice     = "X-AgentPay-Price"
	HeaderRecipient = "X-AgentPay-Recipient"
	HeaderModelID   = "X-AgentPay-Model-ID"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// PaywallConfig prices the paid read endpoints.
type PaywallConfig struct {
	ModelID   string
	Price     decimal.Decimal
	Recipient string
	// Network, when set, must match the network the payment was seen on.
	Network string
}

type paymentChallenge struct {
	Error       string `json:"error"`
	ModelID     string `json:"model_id"`
	Price       string `json:"price"`
	Description string `json:"description"`
	PaymentInfo string `json:"payment_info"`
}

// Paywall answers 402 unless the request carries a recorded, unspent payment
// for the configured model that covers the price. Each payment unlocks one
// request.
type Paywall struct {
	cfg    PaywallConfig
	ledger Ledger
}

func NewPaywall(cfg PaywallConfig, l Ledger) *Paywall {
	return &Paywall{cfg: cfg, ledger: l}
}

func (p *Paywall) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txHash := r.Header.Get(HeaderTxHash)
		payer := r.Header.Get(HeaderPayer)
		if txHash == "" || payer == "" || !txHashPattern.MatchString(txHash) {
			p.challenge(w, r)
			return
		}

		ev, err := p.ledger.GetPayment(r.Context(), txHash)
		switch {
		case errors.Is(err, ledger.ErrPaymentNotFound):
			p.reject(w, "payment not found")
			return
		case err != nil:
			log.Ctx(r.Context()).Error().Err(err).Str("tx_hash", txHash).Msg("[Paywall] failed to load payment")
			writeError(w, http.StatusServiceUnavailable, "Payment ledger unavailable")
			return
		}

		if reason := p.verify(ev, payer); reason != "" {
			p.reject(w, reason)
			return
		}

		claimed, err := p.ledger.ClaimPayment(r.Context(), txHash)
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Str("tx_hash", txHash).Msg("[Paywall] failed to claim payment")
			writeError(w, http.StatusServiceUnavailable, "Payment ledger unavailable")
			return
		}
		if !claimed {
			p.reject(w, "payment already used")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verify returns an empty string when ev pays for this endpoint.
func (p *Paywall) verify(ev *ledger.PaymentEvent, payer string) string {
	if !strings.EqualFold(ev.Payer, ledger.NormalizeAddress(payer)) {
		return "payer mismatch"
	}
	if ev.ModelID != p.cfg.ModelID {
		return "model mismatch"
	}
	if p.cfg.Network != "" && ev.Network != p.cfg.Network {
		return "network mismatch"
	}
	amount, err := decimal.NewFromString(ev.Amount)
	if err != nil || amount.LessThan(p.cfg.Price) {
		return "insufficient amount"
	}
	return ""
}

func (p *Paywall) challenge(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(HeaderPrice, p.cfg.Price.String())
	w.Header().Set(HeaderRecipient, p.cfg.Recipient)
	w.Header().Set(HeaderModelID, p.cfg.ModelID)
	writeJSON(w, http.StatusPaymentRequired, paymentChallenge{
		Error:       "Payment required",
		ModelID:     p.cfg.ModelID,
		Price:       p.cfg.Price.String(),
		Description: "Paid endpoint: " + r.URL.Path,
		PaymentInfo: "Pay " + p.cfg.ModelID + " on-chain and retry with " + HeaderTxHash + " and " + HeaderPayer,
	})
}

func (p *Paywall) reject(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusPaymentRequired, errorResponse{
		Error:  "Payment verification failed",
		Reason: reason,
	})
}
