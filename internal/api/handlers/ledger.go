package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/orbitalapp/minutes-ledger/internal/api/httpx"
	"github.com/orbitalapp/minutes-ledger/internal/api/validate"
	"github.com/orbitalapp/minutes-ledger/internal/middleware"
	"github.com/orbitalapp/minutes-ledger/internal/services"
)

type LedgerHandler struct {
	Ledger   *services.LedgerService
	Accounts *services.AccountService
}

func NewLedgerHandler(ledger *services.LedgerService, accounts *services.AccountService) *LedgerHandler {
	return &LedgerHandler{Ledger: ledger, Accounts: accounts}
}

// writeServiceError maps the ledger error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var lerr *services.Error
	if errors.As(err, &lerr) {
		switch lerr.Code {
		case services.CodeInvalidAmount:
			httpx.WriteError(w, http.StatusBadRequest, string(lerr.Code), lerr.Message, nil)
		case services.CodeAccountNotFound:
			httpx.WriteError(w, http.StatusNotFound, string(lerr.Code), lerr.Message, nil)
		case services.CodeInsufficientBalance:
			httpx.WriteError(w, http.StatusPaymentRequired, string(lerr.Code), lerr.Message, map[string]any{
				"current_balance": lerr.Balance,
				"requested":       lerr.Requested,
			})
		default:
			httpx.WriteError(w, http.StatusInternalServerError, string(services.CodeInternal), "internal error", nil)
		}
		return
	}
	httpx.WriteError(w, http.StatusInternalServerError, string(services.CodeInternal), "internal error", nil)
}

func historyLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// ---------- user surface (account id from the verified token) ----------

func (h *LedgerHandler) MyBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "no account in token", nil)
		return
	}
	balance, err := h.Ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"minutes_balance": balance})
}

func (h *LedgerHandler) MyHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "no account in token", nil)
		return
	}
	txns, err := h.Ledger.GetHistory(r.Context(), accountID, historyLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

// ---------- admin surface ----------

type adjustReq struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference,omitempty"`
}

// AdminAdjust applies a signed manual correction. It goes through the same
// atomic path as every other mutation.
func (h *LedgerHandler) AdminAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		return
	}
	var errs validate.Errs
	if e := validate.Required("account_id", req.AccountID); e != nil {
		errs = append(errs, *e)
	}
	if e := validate.NonZero("amount", req.Amount); e != nil {
		errs = append(errs, *e)
	}
	if e := validate.Required("reason", req.Reason); e != nil {
		errs = append(errs, *e)
	}
	if len(errs) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", errs.Error(), errs)
		return
	}

	res, err := h.Ledger.Adjust(r.Context(), req.AccountID, req.Amount, "admin", req.Reference,
		map[string]any{"reason": req.Reason})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *LedgerHandler) AdminGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.Accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (h *LedgerHandler) AdminHistory(w http.ResponseWriter, r *http.Request) {
	txns, err := h.Ledger.GetHistory(r.Context(), chi.URLParam(r, "id"), historyLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (h *LedgerHandler) AdminReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Accounts.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}
