package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/orbitalapp/minutes-ledger/internal/api/httpx"
	"github.com/orbitalapp/minutes-ledger/internal/metrics"
	"github.com/orbitalapp/minutes-ledger/internal/services"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// WebhookHandler translates payment-provider, usage-pipeline and
// identity-provider events into ledger calls. It owns retry/ack behavior:
// idempotent replays ack exactly like first deliveries, and only internal
// failures return 5xx so the sender retries.
type WebhookHandler struct {
	Ledger   *services.LedgerService
	Accounts *services.AccountService
	Alerts   services.Alerter

	PaymentSecret  string
	UsageSecret    string
	IdentitySecret string
}

func NewWebhookHandler(ledger *services.LedgerService, accounts *services.AccountService, alerter services.Alerter, paymentSecret, usageSecret, identitySecret string) *WebhookHandler {
	return &WebhookHandler{
		Ledger:         ledger,
		Accounts:       accounts,
		Alerts:         alerter,
		PaymentSecret:  paymentSecret,
		UsageSecret:    usageSecret,
		IdentitySecret: identitySecret,
	}
}

// verifiedBody reads the payload and checks its HMAC-SHA256 signature.
// Webhooks are never processed unsigned.
func (h *WebhookHandler) verifiedBody(w http.ResponseWriter, r *http.Request, secret string) ([]byte, bool) {
	if secret == "" {
		httpx.WriteError(w, http.StatusInternalServerError, "not_configured",
			"webhook secret not configured", nil)
		return nil, false
	}
	sig := r.Header.Get("X-Webhook-Signature")
	if sig == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_signature", "missing signature header", nil)
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "unreadable body", nil)
		return nil, false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_signature", "invalid signature", nil)
		return nil, false
	}
	return body, true
}

// ---------- payment provider ----------

type paymentEvent struct {
	Type string `json:"type"`
	Data struct {
		ID            string          `json:"id"`
		AccountID     string          `json:"account_id"`
		Minutes       decimal.Decimal `json:"minutes"`
		Tier          string          `json:"tier"`
		Mode          string          `json:"mode"`
		AmountCents   int64           `json:"amount_cents"`
		BillingReason string          `json:"billing_reason,omitempty"`
	} `json:"data"`
}

// Payment handles purchase confirmations. Any success — idempotent or not —
// acks with 200 so the provider stops retrying.
func (h *WebhookHandler) Payment(w http.ResponseWriter, r *http.Request) {
	body, ok := h.verifiedBody(w, r, h.PaymentSecret)
	if !ok {
		metrics.WebhookEvents.WithLabelValues("payment", "rejected").Inc()
		return
	}
	var ev paymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		metrics.WebhookEvents.WithLabelValues("payment", "rejected").Inc()
		return
	}

	var (
		source    string
		reference string
		meta      map[string]any
	)
	switch ev.Type {
	case "checkout.session.completed":
		source, reference = "stripe", ev.Data.ID
		meta = map[string]any{"tier": ev.Data.Tier, "amount_cents": ev.Data.AmountCents, "mode": ev.Data.Mode}
	case "invoice.paid":
		// The first invoice of a subscription is already covered by the
		// checkout event.
		if ev.Data.BillingReason == "subscription_create" {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
			metrics.WebhookEvents.WithLabelValues("payment", "skipped").Inc()
			return
		}
		source, reference = "stripe_renewal", ev.Data.ID
		meta = map[string]any{"tier": ev.Data.Tier, "amount_cents": ev.Data.AmountCents, "billing_reason": ev.Data.BillingReason}
	default:
		// Providers deliver many event types; ack the ones we don't meter.
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
		metrics.WebhookEvents.WithLabelValues("payment", "skipped").Inc()
		return
	}

	if ev.Data.AccountID == "" || !ev.Data.Minutes.IsPositive() || reference == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "account_id, minutes and id required", nil)
		metrics.WebhookEvents.WithLabelValues("payment", "rejected").Inc()
		return
	}

	res, err := h.Ledger.Credit(r.Context(), ev.Data.AccountID, ev.Data.Minutes, source, reference, meta)
	if err != nil {
		var lerr *services.Error
		if errors.As(err, &lerr) && lerr.Code != services.CodeInternal {
			// Terminal for this event; retrying would fail the same way.
			slog.Error("payment credit rejected", "err", err, "reference", reference)
			if h.Alerts != nil {
				h.Alerts.Critical("payment webhook: credit rejected", map[string]string{
					"reference": reference, "error": err.Error(),
				})
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
			metrics.WebhookEvents.WithLabelValues("payment", "failed").Inc()
			return
		}
		writeServiceError(w, err)
		metrics.WebhookEvents.WithLabelValues("payment", "failed").Inc()
		return
	}

	if res.Idempotent {
		slog.Info("payment webhook replay", "reference", reference)
	}
	metrics.WebhookEvents.WithLabelValues("payment", "credited").Inc()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "idempotent": res.Idempotent})
}

// ---------- usage pipeline ----------

type usageEvent struct {
	Type string `json:"type"`
	Data struct {
		JobID     string          `json:"job_id"`
		AccountID string          `json:"account_id"`
		Minutes   decimal.Decimal `json:"minutes"`
	} `json:"data"`
}

// Usage meters completed work. An insufficient balance comes back as 402 so
// the pipeline withholds delivery instead of handing out unpaid work; a
// failed job refunds the reserved minutes.
func (h *WebhookHandler) Usage(w http.ResponseWriter, r *http.Request) {
	body, ok := h.verifiedBody(w, r, h.UsageSecret)
	if !ok {
		metrics.WebhookEvents.WithLabelValues("usage", "rejected").Inc()
		return
	}
	var ev usageEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		metrics.WebhookEvents.WithLabelValues("usage", "rejected").Inc()
		return
	}
	if ev.Data.JobID == "" || ev.Data.AccountID == "" || !ev.Data.Minutes.IsPositive() {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "job_id, account_id and minutes required", nil)
		metrics.WebhookEvents.WithLabelValues("usage", "rejected").Inc()
		return
	}

	var (
		res services.Result
		err error
	)
	switch ev.Type {
	case "job.completed":
		res, err = h.Ledger.Debit(r.Context(), ev.Data.AccountID, ev.Data.Minutes,
			"usage-pipeline", ev.Data.JobID, map[string]any{"job_id": ev.Data.JobID})
	case "job.failed":
		res, err = h.Ledger.Refund(r.Context(), ev.Data.AccountID, ev.Data.Minutes,
			"usage-pipeline", ev.Data.JobID, map[string]any{"job_id": ev.Data.JobID})
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
		metrics.WebhookEvents.WithLabelValues("usage", "skipped").Inc()
		return
	}
	if err != nil {
		writeServiceError(w, err)
		metrics.WebhookEvents.WithLabelValues("usage", "failed").Inc()
		return
	}

	metrics.WebhookEvents.WithLabelValues("usage", "applied").Inc()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"received":    true,
		"idempotent":  res.Idempotent,
		"new_balance": res.NewBalance,
	})
}

// ---------- identity provider ----------

type identityEvent struct {
	Type string `json:"type"`
	Data struct {
		AccountID string `json:"account_id"`
	} `json:"data"`
}

// Identity provisions the balance row when the identity provider reports a
// new account. Replays are no-ops, signup bonus included.
func (h *WebhookHandler) Identity(w http.ResponseWriter, r *http.Request) {
	body, ok := h.verifiedBody(w, r, h.IdentitySecret)
	if !ok {
		metrics.WebhookEvents.WithLabelValues("identity", "rejected").Inc()
		return
	}
	var ev identityEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.Data.AccountID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "account_id required", nil)
		metrics.WebhookEvents.WithLabelValues("identity", "rejected").Inc()
		return
	}
	if ev.Type != "account.created" {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
		metrics.WebhookEvents.WithLabelValues("identity", "skipped").Inc()
		return
	}

	a, err := h.Accounts.Provision(r.Context(), ev.Data.AccountID)
	if err != nil {
		writeServiceError(w, err)
		metrics.WebhookEvents.WithLabelValues("identity", "failed").Inc()
		return
	}
	metrics.WebhookEvents.WithLabelValues("identity", "provisioned").Inc()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "account": a})
}
