package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

type RegisterRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

type RegisterResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	Token         string `json:"token,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// LoginRequest carries either a bare wallet address or email+password.
type LoginRequest struct {
	Address  string `json:"address,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

type LoginResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	Token         string `json:"token,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
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

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "missing email or password")
		return
	}
	acc, token, err := h.svc.Register(r.Context(), req.Email, req.Password, req.WalletAddress)
	if err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		switch err.Error() {
		case "invalid email address", "password must be at least 6 characters":
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("register failed", "error", err)
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	respondJSON(w, http.StatusCreated, RegisterResponse{
		Success:       true,
		Message:       "account created",
		Token:         token,
		UserID:        acc.ID.String(),
		WalletAddress: acc.Address,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var token string
	var address string
	var err error
	switch {
	case req.Email != "" && req.Password != "":
		token, address, err = h.svc.LoginWithEmail(r.Context(), req.Email, req.Password)
	case req.Address != "":
		address = req.Address
		token, err = h.svc.LoginWithAddress(r.Context(), req.Address)
	default:
		respondError(w, http.StatusBadRequest, "provide either email/password or a wallet address")
		return
	}
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.log.Error("login failed", "error", err)
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	respondJSON(w, http.StatusOK, LoginResponse{
		Success:       true,
		Message:       "login successful",
		Token:         token,
		WalletAddress: address,
	})
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
