package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Request/response structs mirror the legacy wire contract: snake_case JSON,
// every response carries success plus an optional message.

type MintRequest struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
	TxHash  string `json:"tx_hash,omitempty"`
}

type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
	TxHash string `json:"tx_hash,omitempty"`
}

type TransactionResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	TxHash      string `json:"tx_hash"`
	TxType      string `json:"tx_type"`
	From        string `json:"from,omitempty"`
	To          string `json:"to"`
	Amount      int64  `json:"amount"`
	Pending     bool   `json:"pending"`
	ExecuteTime int64  `json:"execute_time,omitempty"`
}

type BalanceResponse struct {
	Success   bool   `json:"success"`
	Address   string `json:"address"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
	Total     int64  `json:"total"`
}

type SetDailyLimitRequest struct {
	Address    string `json:"address"`
	DailyLimit int64  `json:"daily_limit"`
}

type SetKycRequest struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

type SetTimelockRequest struct {
	Address      string `json:"address"`
	DelaySeconds int64  `json:"delay_seconds"`
}

type TokenInfoResponse struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    int16  `json:"decimals"`
	MaxSupply   int64  `json:"max_supply"`
	TotalSupply int64  `json:"total_supply"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp int64             `json:"timestamp"`
	Token     TokenInfoResponse `json:"token"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Health doubles as a readiness probe: it touches the database through the
// token info read.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Info(r.Context())
	if err != nil {
		h.log.Error("health check failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Service:   "dujyo-blockchain",
		Timestamp: time.Now().Unix(),
		Token: TokenInfoResponse{
			Name:        info.Name,
			Symbol:      info.Symbol,
			Decimals:    info.Decimals,
			MaxSupply:   info.MaxSupply,
			TotalSupply: info.TotalSupply,
		},
	})
}

func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Address == "" || req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "missing or invalid required fields")
		return
	}
	rec, err := h.svc.Mint(r.Context(), req.Address, req.Amount, req.TxHash)
	if err != nil {
		h.failOp(w, "mint", err)
		return
	}
	respondJSON(w, http.StatusOK, TransactionResponse{
		Success: true,
		Message: "tokens minted",
		TxHash:  rec.TxHash,
		TxType:  rec.TxType,
		To:      rec.ToAddress,
		Amount:  rec.Amount,
	})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.From == "" || req.To == "" || req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "missing or invalid required fields")
		return
	}
	result, err := h.svc.Transfer(r.Context(), req.From, req.To, req.Amount, req.TxHash)
	if err != nil {
		h.failOp(w, "transfer", err)
		return
	}
	if result.Pending != nil {
		respondJSON(w, http.StatusOK, TransactionResponse{
			Success:     true,
			Message:     "transfer queued by timelock",
			TxHash:      result.Pending.TxHash,
			TxType:      TxTransfer,
			From:        result.Pending.FromAddress,
			To:          result.Pending.ToAddress,
			Amount:      result.Pending.Amount,
			Pending:     true,
			ExecuteTime: result.Pending.ExecuteTime,
		})
		return
	}
	respondJSON(w, http.StatusOK, TransactionResponse{
		Success: true,
		Message: "transfer completed",
		TxHash:  result.Tx.TxHash,
		TxType:  result.Tx.TxType,
		From:    result.Tx.FromAddress,
		To:      result.Tx.ToAddress,
		Amount:  result.Tx.Amount,
	})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		respondError(w, http.StatusBadRequest, "missing address")
		return
	}
	bal, err := h.svc.Balance(r.Context(), address)
	if err != nil {
		h.log.Error("get balance failed", "error", err)
		respondError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, BalanceResponse{
		Success:   true,
		Address:   bal.Address,
		Available: bal.Available,
		Locked:    bal.Locked,
		Total:     bal.Available + bal.Locked,
	})
}

func (h *Handler) SetDailyLimit(w http.ResponseWriter, r *http.Request) {
	var req SetDailyLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Address == "" || req.DailyLimit <= 0 {
		respondError(w, http.StatusBadRequest, "missing or invalid required fields")
		return
	}
	if err := h.svc.SetDailyLimit(r.Context(), req.Address, req.DailyLimit); err != nil {
		h.failOp(w, "set daily limit", err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true, Message: "daily limit set"})
}

func (h *Handler) SetKycStatus(w http.ResponseWriter, r *http.Request) {
	var req SetKycRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Address == "" {
		respondError(w, http.StatusBadRequest, "missing address")
		return
	}
	if err := h.svc.SetKycStatus(r.Context(), req.Address, req.Verified); err != nil {
		h.failOp(w, "set kyc status", err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true, Message: "kyc status updated"})
}

func (h *Handler) SetTimelockDelay(w http.ResponseWriter, r *http.Request) {
	var req SetTimelockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Address == "" || req.DelaySeconds < 0 {
		respondError(w, http.StatusBadRequest, "missing or invalid required fields")
		return
	}
	if err := h.svc.SetTimelockDelay(r.Context(), req.Address, req.DelaySeconds); err != nil {
		h.failOp(w, "set timelock delay", err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{Success: true, Message: "timelock delay set"})
}

// failOp maps domain errors onto the wire contract; unexpected errors are
// logged and surfaced as 500.
func (h *Handler) failOp(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrMaxSupplyExceeded),
		errors.Is(err, ErrDailyLimitExceeded),
		errors.Is(err, ErrKycRequired):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateTransaction):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error(op+" failed", "error", err)
		respondError(w, http.StatusInternalServerError, op+" failed")
	}
}

type okResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, okResponse{Success: false, Message: msg})
}
