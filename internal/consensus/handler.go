package consensus

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/dujyo/backend/internal/ledger"
)

type RegisterEconomicRequest struct {
	Address     string `json:"address"`
	StakeAmount int64  `json:"stake_amount"`
}

type RegisterCreativeRequest struct {
	Address      string `json:"address"`
	VerifiedNFTs int    `json:"verified_nfts"`
}

type RegisterCommunityRequest struct {
	Address        string `json:"address"`
	CommunityVotes int    `json:"community_votes"`
	FraudReports   int    `json:"fraud_reports"`
	CuratedContent int    `json:"curated_content"`
}

type ValidatorResponse struct {
	Address          string  `json:"address"`
	Track            string  `json:"track"`
	StakeAmount      int64   `json:"stake_amount,omitempty"`
	CreativeScore    float64 `json:"creative_score,omitempty"`
	CommunityScore   float64 `json:"community_score,omitempty"`
	VerifiedNFTs     int     `json:"verified_nfts,omitempty"`
	CommunityVotes   int     `json:"community_votes,omitempty"`
	FraudReports     int     `json:"fraud_reports,omitempty"`
	CuratedContent   int     `json:"curated_content,omitempty"`
	TotalValidations int64   `json:"total_validations"`
	Active           bool    `json:"active"`
}

type RegisterResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message,omitempty"`
	Validator ValidatorResponse `json:"validator"`
}

type ValidateRequest struct {
	ValidatorAddress string `json:"validator_address"`
	BlockRef         int64  `json:"block_ref"`
}

type ValidateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Track   string `json:"track"`
	Reward  int64  `json:"reward"`
}

type GetValidatorResponse struct {
	Success   bool              `json:"success"`
	Validator ValidatorResponse `json:"validator"`
}

type ListValidatorsResponse struct {
	Success    bool                `json:"success"`
	Track      string              `json:"track"`
	Validators []ValidatorResponse `json:"validators"`
}

type TrackStatsResponse struct {
	Track         string  `json:"track"`
	Validators    int     `json:"validators"`
	Capacity      int     `json:"capacity"`
	TotalStake    int64   `json:"total_stake"`
	AverageScore  float64 `json:"average_score"`
	NetworkWeight float64 `json:"network_weight"`
}

type StatsResponse struct {
	Success          bool                 `json:"success"`
	TotalValidators  int                  `json:"total_validators"`
	TotalValidations int64                `json:"total_validations"`
	Tracks           []TrackStatsResponse `json:"tracks"`
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

func (h *Handler) RegisterEconomic(w http.ResponseWriter, r *http.Request) {
	var req RegisterEconomicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Address == "" || req.StakeAmount <= 0 {
		respondError(w, http.StatusBadRequest, "missing address or stake_amount")
		return
	}
	v, err := h.svc.RegisterEconomic(r.Context(), req.Address, req.StakeAmount)
	if err != nil {
		h.fail(w, "register economic validator", err)
		return
	}
	respondJSON(w, http.StatusCreated, RegisterResponse{
		Success:   true,
		Message:   "economic validator registered",
		Validator: toValidatorResponse(v),
	})
}

func (h *Handler) RegisterCreative(w http.ResponseWriter, r *http.Request) {
	var req RegisterCreativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Address == "" {
		respondError(w, http.StatusBadRequest, "missing address")
		return
	}
	v, err := h.svc.RegisterCreative(r.Context(), req.Address, req.VerifiedNFTs)
	if err != nil {
		h.fail(w, "register creative validator", err)
		return
	}
	respondJSON(w, http.StatusCreated, RegisterResponse{
		Success:   true,
		Message:   "creative validator registered",
		Validator: toValidatorResponse(v),
	})
}

func (h *Handler) RegisterCommunity(w http.ResponseWriter, r *http.Request) {
	var req RegisterCommunityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Address == "" {
		respondError(w, http.StatusBadRequest, "missing address")
		return
	}
	v, err := h.svc.RegisterCommunity(r.Context(), req.Address, req.CommunityVotes, req.FraudReports, req.CuratedContent)
	if err != nil {
		h.fail(w, "register community validator", err)
		return
	}
	respondJSON(w, http.StatusCreated, RegisterResponse{
		Success:   true,
		Message:   "community validator registered",
		Validator: toValidatorResponse(v),
	})
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ValidatorAddress == "" {
		respondError(w, http.StatusBadRequest, "missing validator_address")
		return
	}
	val, err := h.svc.RecordValidation(r.Context(), req.ValidatorAddress, req.BlockRef)
	if err != nil {
		h.fail(w, "record validation", err)
		return
	}
	respondJSON(w, http.StatusOK, ValidateResponse{
		Success: true,
		Message: "validation recorded",
		Track:   string(val.Track),
		Reward:  val.Reward,
	})
}

func (h *Handler) GetValidator(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetValidator(r.Context(), r.PathValue("address"))
	if err != nil {
		h.fail(w, "get validator", err)
		return
	}
	respondJSON(w, http.StatusOK, GetValidatorResponse{Success: true, Validator: toValidatorResponse(v)})
}

func (h *Handler) ListValidators(w http.ResponseWriter, r *http.Request) {
	track := Track(r.PathValue("track"))
	if !slices.Contains(Tracks, track) {
		respondError(w, http.StatusBadRequest, "unknown track")
		return
	}
	validators, err := h.svc.ListValidators(r.Context(), track)
	if err != nil {
		h.fail(w, "list validators", err)
		return
	}
	resp := ListValidatorsResponse{
		Success:    true,
		Track:      string(track),
		Validators: make([]ValidatorResponse, 0, len(validators)),
	}
	for _, v := range validators {
		resp.Validators = append(resp.Validators, toValidatorResponse(v))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.log.Error("consensus stats failed", "error", err)
		respondError(w, http.StatusInternalServerError, "consensus stats failed")
		return
	}
	resp := StatsResponse{
		Success:          true,
		TotalValidators:  st.TotalValidators,
		TotalValidations: st.TotalValidations,
		Tracks:           make([]TrackStatsResponse, 0, len(st.Tracks)),
	}
	for _, ts := range st.Tracks {
		resp.Tracks = append(resp.Tracks, TrackStatsResponse{
			Track:         string(ts.Track),
			Validators:    ts.Validators,
			Capacity:      ts.Capacity,
			TotalStake:    ts.TotalStake,
			AverageScore:  ts.AverageScore,
			NetworkWeight: ts.NetworkWeight,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrValidatorNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyRegistered):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrTrackFull),
		errors.Is(err, ErrBelowMinStake),
		errors.Is(err, ErrScoreTooLow),
		errors.Is(err, ledger.ErrInsufficientBalance):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error(op+" failed", "error", err)
		respondError(w, http.StatusInternalServerError, op+" failed")
	}
}

func toValidatorResponse(v *Validator) ValidatorResponse {
	return ValidatorResponse{
		Address:          v.Address,
		Track:            string(v.Track),
		StakeAmount:      v.StakeAmount,
		CreativeScore:    v.CreativeScore,
		CommunityScore:   v.CommunityScore,
		VerifiedNFTs:     v.VerifiedNFTs,
		CommunityVotes:   v.CommunityVotes,
		FraudReports:     v.FraudReports,
		CuratedContent:   v.CuratedContent,
		TotalValidations: v.TotalValidations,
		Active:           v.Active,
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
