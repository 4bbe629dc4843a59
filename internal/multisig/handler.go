package multisig

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dujyo/backend/internal/ledger"
)

type CreateWalletRequest struct {
	Name       string   `json:"name"`
	Purpose    string   `json:"purpose,omitempty"`
	Owners     []string `json:"owners"`
	Threshold  int      `json:"threshold"`
	DailyLimit int64    `json:"daily_limit"`
}

type WalletResponse struct {
	Address    string   `json:"address"`
	Name       string   `json:"name"`
	Purpose    string   `json:"purpose,omitempty"`
	Owners     []string `json:"owners"`
	Threshold  int      `json:"threshold"`
	Nonce      int64    `json:"nonce"`
	DailyLimit int64    `json:"daily_limit"`
	DailyUsed  int64    `json:"daily_used"`
}

type CreateWalletResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Wallet  WalletResponse `json:"wallet"`
}

type ProposeRequest struct {
	WalletAddress string `json:"wallet_address"`
	To            string `json:"to"`
	Amount        int64  `json:"amount"`
	Data          string `json:"data,omitempty"`
	CreatedBy     string `json:"created_by"`
}

type TransactionResponse struct {
	TxHash        string   `json:"tx_hash"`
	WalletAddress string   `json:"wallet_address"`
	To            string   `json:"to"`
	Amount        int64    `json:"amount"`
	Data          string   `json:"data,omitempty"`
	CreatedBy     string   `json:"created_by"`
	Executed      bool     `json:"executed"`
	ExecutedBy    *string  `json:"executed_by,omitempty"`
	ExecutedAt    *int64   `json:"executed_at,omitempty"`
	Signers       []string `json:"signers"`
	Signatures    int      `json:"signatures"`
}

type ProposeResponse struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message,omitempty"`
	Transaction TransactionResponse `json:"transaction"`
}

type SignRequest struct {
	TxHash string `json:"tx_hash"`
	Signer string `json:"signer"`
}

type SignResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Signatures int    `json:"signatures"`
}

type ExecuteRequest struct {
	TxHash   string `json:"tx_hash"`
	Executor string `json:"executor"`
}

type StatsResponse struct {
	Success       bool  `json:"success"`
	TotalWallets  int   `json:"total_wallets"`
	PendingTxs    int   `json:"pending_transactions"`
	ExecutedTxs   int   `json:"executed_transactions"`
	TotalHeld     int64 `json:"total_held"`
	TotalExecuted int64 `json:"total_executed"`
}

type ListResponse struct {
	Success bool             `json:"success"`
	Wallets []WalletResponse `json:"wallets"`
}

type GetWalletResponse struct {
	Success bool           `json:"success"`
	Wallet  WalletResponse `json:"wallet"`
}

type GetTransactionResponse struct {
	Success     bool                `json:"success"`
	Transaction TransactionResponse `json:"transaction"`
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

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" || len(req.Owners) == 0 {
		respondError(w, http.StatusBadRequest, "missing name or owners")
		return
	}
	wallet, err := h.svc.CreateWallet(r.Context(), CreateWalletParams{
		Name:       req.Name,
		Purpose:    req.Purpose,
		Owners:     req.Owners,
		Threshold:  req.Threshold,
		DailyLimit: req.DailyLimit,
	})
	if err != nil {
		h.fail(w, "create multisig wallet", err)
		return
	}
	respondJSON(w, http.StatusCreated, CreateWalletResponse{
		Success: true,
		Message: "multisig wallet created",
		Wallet:  toWalletResponse(wallet),
	})
}

func (h *Handler) Propose(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.WalletAddress == "" || req.To == "" || req.CreatedBy == "" || req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "missing or invalid required fields")
		return
	}
	tx, err := h.svc.Propose(r.Context(), ProposeParams{
		WalletAddress: req.WalletAddress,
		ToAddress:     req.To,
		Amount:        req.Amount,
		Data:          req.Data,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		h.fail(w, "propose multisig transaction", err)
		return
	}
	respondJSON(w, http.StatusCreated, ProposeResponse{
		Success:     true,
		Message:     "transaction proposed",
		Transaction: toTransactionResponse(tx),
	})
}

func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TxHash == "" || req.Signer == "" {
		respondError(w, http.StatusBadRequest, "missing tx_hash or signer")
		return
	}
	count, err := h.svc.Sign(r.Context(), req.TxHash, req.Signer)
	if err != nil {
		h.fail(w, "sign multisig transaction", err)
		return
	}
	respondJSON(w, http.StatusOK, SignResponse{Success: true, Message: "signature recorded", Signatures: count})
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TxHash == "" || req.Executor == "" {
		respondError(w, http.StatusBadRequest, "missing tx_hash or executor")
		return
	}
	if err := h.svc.Execute(r.Context(), req.TxHash, req.Executor); err != nil {
		h.fail(w, "execute multisig transaction", err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{true, "transaction executed"})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.log.Error("multisig stats failed", "error", err)
		respondError(w, http.StatusInternalServerError, "multisig stats failed")
		return
	}
	respondJSON(w, http.StatusOK, StatsResponse{
		Success:       true,
		TotalWallets:  st.TotalWallets,
		PendingTxs:    st.PendingTxs,
		ExecutedTxs:   st.ExecutedTxs,
		TotalHeld:     st.TotalHeld,
		TotalExecuted: st.TotalExecuted,
	})
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.svc.GetWallet(r.Context(), r.PathValue("address"))
	if err != nil {
		h.fail(w, "get multisig wallet", err)
		return
	}
	respondJSON(w, http.StatusOK, GetWalletResponse{Success: true, Wallet: toWalletResponse(wallet)})
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.GetTransaction(r.Context(), r.PathValue("hash"))
	if err != nil {
		h.fail(w, "get multisig transaction", err)
		return
	}
	respondJSON(w, http.StatusOK, GetTransactionResponse{Success: true, Transaction: toTransactionResponse(tx)})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.svc.ListWallets(r.Context())
	if err != nil {
		h.log.Error("multisig list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "multisig list failed")
		return
	}
	out := make([]WalletResponse, 0, len(wallets))
	for _, w2 := range wallets {
		out = append(out, toWalletResponse(w2))
	}
	respondJSON(w, http.StatusOK, ListResponse{Success: true, Wallets: out})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrTxNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadySigned), errors.Is(err, ErrAlreadyExecuted):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotAnOwner):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrBadThreshold),
		errors.Is(err, ErrThresholdNotMet),
		errors.Is(err, ErrDailyLimitExceeded),
		errors.Is(err, ledger.ErrInsufficientBalance):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error(op+" failed", "error", err)
		respondError(w, http.StatusInternalServerError, op+" failed")
	}
}

func toWalletResponse(w *Wallet) WalletResponse {
	return WalletResponse{
		Address:    w.Address,
		Name:       w.Name,
		Purpose:    w.Purpose,
		Owners:     w.Owners,
		Threshold:  w.Threshold,
		Nonce:      w.Nonce,
		DailyLimit: w.DailyLimit,
		DailyUsed:  w.DailyUsed,
	}
}

func toTransactionResponse(t *Transaction) TransactionResponse {
	return TransactionResponse{
		TxHash:        t.TxHash,
		WalletAddress: t.WalletAddress,
		To:            t.ToAddress,
		Amount:        t.Amount,
		Data:          t.Data,
		CreatedBy:     t.CreatedBy,
		Executed:      t.Executed,
		ExecutedBy:    t.ExecutedBy,
		ExecutedAt:    t.ExecutedAt,
		Signers:       t.Signers,
		Signatures:    len(t.Signers),
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{false, msg})
}
