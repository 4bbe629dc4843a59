package vesting

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dujyo/backend/internal/ledger"
)

type CreateScheduleRequest struct {
	Beneficiary      string `json:"beneficiary"`
	Purpose          string `json:"purpose,omitempty"`
	TotalAmount      int64  `json:"total_amount"`
	CliffDuration    int64  `json:"cliff_duration"`
	VestingDuration  int64  `json:"vesting_duration"`
	ReleaseFrequency int64  `json:"release_frequency"`
	Revocable        bool   `json:"revocable"`
	CreatedBy        string `json:"created_by"`
}

type ScheduleResponse struct {
	ID               string `json:"id"`
	Beneficiary      string `json:"beneficiary"`
	Purpose          string `json:"purpose,omitempty"`
	TotalAmount      int64  `json:"total_amount"`
	ReleasedAmount   int64  `json:"released_amount"`
	StartTime        int64  `json:"start_time"`
	CliffDuration    int64  `json:"cliff_duration"`
	VestingDuration  int64  `json:"vesting_duration"`
	ReleaseFrequency int64  `json:"release_frequency"`
	Revocable        bool   `json:"revocable"`
	Revoked          bool   `json:"revoked"`
	RevokedAt        *int64 `json:"revoked_at,omitempty"`
	CreatedBy        string `json:"created_by"`
	ReleaseCount     int    `json:"release_count"`
}

type CreateScheduleResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Schedule ScheduleResponse `json:"schedule"`
}

type ReleaseRequest struct {
	ScheduleID string `json:"schedule_id"`
}

type ReleaseResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Released int64  `json:"released"`
}

type RevokeRequest struct {
	ScheduleID string `json:"schedule_id"`
	Caller     string `json:"caller"`
}

type StatsResponse struct {
	Success         bool  `json:"success"`
	TotalSchedules  int   `json:"total_schedules"`
	ActiveSchedules int   `json:"active_schedules"`
	TotalVesting    int64 `json:"total_vesting"`
	TotalReleased   int64 `json:"total_released"`
}

type ListResponse struct {
	Success   bool               `json:"success"`
	Schedules []ScheduleResponse `json:"schedules"`
}

type GetResponse struct {
	Success    bool             `json:"success"`
	Schedule   ScheduleResponse `json:"schedule"`
	Releasable int64            `json:"releasable"`
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

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Beneficiary == "" || req.CreatedBy == "" || req.TotalAmount <= 0 {
		respondError(w, http.StatusBadRequest, "missing or invalid required fields")
		return
	}
	sched, err := h.svc.Create(r.Context(), CreateParams{
		Beneficiary:      req.Beneficiary,
		Purpose:          req.Purpose,
		TotalAmount:      req.TotalAmount,
		CliffDuration:    req.CliffDuration,
		VestingDuration:  req.VestingDuration,
		ReleaseFrequency: req.ReleaseFrequency,
		Revocable:        req.Revocable,
		CreatedBy:        req.CreatedBy,
	})
	if err != nil {
		h.fail(w, "create vesting schedule", err)
		return
	}
	respondJSON(w, http.StatusCreated, CreateScheduleResponse{
		Success:  true,
		Message:  "vesting schedule created",
		Schedule: toResponse(sched),
	})
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ScheduleID == "" {
		respondError(w, http.StatusBadRequest, "missing schedule_id")
		return
	}
	released, err := h.svc.Release(r.Context(), req.ScheduleID)
	if err != nil {
		h.fail(w, "release vested tokens", err)
		return
	}
	respondJSON(w, http.StatusOK, ReleaseResponse{Success: true, Message: "tokens released", Released: released})
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ScheduleID == "" || req.Caller == "" {
		respondError(w, http.StatusBadRequest, "missing schedule_id or caller")
		return
	}
	if err := h.svc.Revoke(r.Context(), req.ScheduleID, req.Caller); err != nil {
		h.fail(w, "revoke vesting schedule", err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{true, "vesting schedule revoked"})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.log.Error("vesting stats failed", "error", err)
		respondError(w, http.StatusInternalServerError, "vesting stats failed")
		return
	}
	respondJSON(w, http.StatusOK, StatsResponse{
		Success:         true,
		TotalSchedules:  st.TotalSchedules,
		ActiveSchedules: st.ActiveSchedules,
		TotalVesting:    st.TotalVesting,
		TotalReleased:   st.TotalReleased,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sched, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "get vesting schedule", err)
		return
	}
	respondJSON(w, http.StatusOK, GetResponse{
		Success:    true,
		Schedule:   toResponse(sched),
		Releasable: Releasable(sched, time.Now().Unix()),
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.svc.List(r.Context())
	if err != nil {
		h.log.Error("vesting list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "vesting list failed")
		return
	}
	out := make([]ScheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		out = append(out, toResponse(s))
	}
	respondJSON(w, http.StatusOK, ListResponse{Success: true, Schedules: out})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrScheduleExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrScheduleRevoked),
		errors.Is(err, ErrNothingToRelease),
		errors.Is(err, ErrNotRevocable),
		errors.Is(err, ledger.ErrInsufficientBalance):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		h.log.Error(op+" failed", "error", err)
		respondError(w, http.StatusInternalServerError, op+" failed")
	}
}

func toResponse(s *Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:               s.ID,
		Beneficiary:      s.Beneficiary,
		Purpose:          s.Purpose,
		TotalAmount:      s.TotalAmount,
		ReleasedAmount:   s.ReleasedAmount,
		StartTime:        s.StartTime,
		CliffDuration:    s.CliffDuration,
		VestingDuration:  s.VestingDuration,
		ReleaseFrequency: s.ReleaseFrequency,
		Revocable:        s.Revocable,
		Revoked:          s.Revoked,
		RevokedAt:        s.RevokedAt,
		CreatedBy:        s.CreatedBy,
		ReleaseCount:     s.ReleaseCount,
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
