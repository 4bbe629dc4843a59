package staking

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dujyo/backend/internal/ledger"
)

type CreateContractRequest struct {
	Name            string `json:"name"`
	Purpose         string `json:"purpose,omitempty"`
	MinStake        int64  `json:"min_stake"`
	MaxStake        int64  `json:"max_stake"`
	RewardFrequency int64  `json:"reward_frequency"`
	SlashingEnabled bool   `json:"slashing_enabled"`
	SlashingRate    int64  `json:"slashing_rate"`
}

type ContractResponse struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Purpose                 string `json:"purpose,omitempty"`
	TotalStaked             int64  `json:"total_staked"`
	TotalRewardsDistributed int64  `json:"total_rewards_distributed"`
	TotalRewardsPending     int64  `json:"total_rewards_pending"`
	MinStake                int64  `json:"min_stake"`
	MaxStake                int64  `json:"max_stake"`
	RewardFrequency         int64  `json:"reward_frequency"`
	SlashingEnabled         bool   `json:"slashing_enabled"`
	SlashingRate            int64  `json:"slashing_rate"`
}

type CreateContractResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Contract ContractResponse `json:"contract"`
}

type CreateRewardPoolRequest struct {
	Name             string `json:"name"`
	Purpose          string `json:"purpose,omitempty"`
	TotalRewards     int64  `json:"total_rewards"`
	RewardRate       int64  `json:"reward_rate"`
	MaxRewardsPerDay int64  `json:"max_rewards_per_day"`
}

type PoolResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Purpose            string `json:"purpose,omitempty"`
	TotalRewards       int64  `json:"total_rewards"`
	DistributedRewards int64  `json:"distributed_rewards"`
	RewardRate         int64  `json:"reward_rate"`
	MaxRewardsPerDay   int64  `json:"max_rewards_per_day"`
	DailyDistributed   int64  `json:"daily_distributed"`
}

type CreateRewardPoolResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Pool    PoolResponse `json:"pool"`
}

type StakeRequest struct {
	ContractID string `json:"contract_id"`
	Address    string `json:"address"`
	Amount     int64  `json:"amount"`
}

type PositionResponse struct {
	ContractID     string `json:"contract_id"`
	Address        string `json:"address"`
	StakedAmount   int64  `json:"staked_amount"`
	StakedAt       int64  `json:"staked_at"`
	PendingRewards int64  `json:"pending_rewards"`
	TotalClaimed   int64  `json:"total_claimed"`
	Active         bool   `json:"active"`
}

type StakeResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Position PositionResponse `json:"position"`
}

type UnstakeRequest struct {
	ContractID string `json:"contract_id"`
	Address    string `json:"address"`
	Amount     int64  `json:"amount"`
}

type UnstakeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Amount  int64  `json:"amount"`
	Fee     int64  `json:"fee"`
	Net     int64  `json:"net"`
}

type ClaimRequest struct {
	ContractID string `json:"contract_id"`
	Address    string `json:"address"`
}

type ClaimResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Claimed int64  `json:"claimed"`
}

type ListResponse struct {
	Success   bool               `json:"success"`
	Contracts []ContractResponse `json:"contracts"`
}

type ContractStatsResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	TotalStaked        int64  `json:"total_staked"`
	ActiveStakers      int    `json:"active_stakers"`
	RewardsDistributed int64  `json:"rewards_distributed"`
	RewardsPending     int64  `json:"rewards_pending"`
}

type StatsResponse struct {
	Success                 bool                    `json:"success"`
	TotalStaked             int64                   `json:"total_staked"`
	TotalRewardsDistributed int64                   `json:"total_rewards_distributed"`
	TotalRewardsPending     int64                   `json:"total_rewards_pending"`
	Contracts               []ContractStatsResponse `json:"contracts"`
	Pools                   []PoolResponse          `json:"pools"`
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

func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "missing name")
		return
	}
	c, err := h.svc.CreateContract(r.Context(), CreateContractParams{
		Name:            req.Name,
		Purpose:         req.Purpose,
		MinStake:        req.MinStake,
		MaxStake:        req.MaxStake,
		RewardFrequency: req.RewardFrequency,
		SlashingEnabled: req.SlashingEnabled,
		SlashingRate:    req.SlashingRate,
	})
	if err != nil {
		h.fail(w, "create staking contract", err)
		return
	}
	respondJSON(w, http.StatusCreated, CreateContractResponse{
		Success:  true,
		Message:  "staking contract created",
		Contract: toContractResponse(c),
	})
}

func (h *Handler) CreateRewardPool(w http.ResponseWriter, r *http.Request) {
	var req CreateRewardPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "missing name")
		return
	}
	p, err := h.svc.CreateRewardPool(r.Context(), CreateRewardPoolParams{
		Name:             req.Name,
		Purpose:          req.Purpose,
		TotalRewards:     req.TotalRewards,
		RewardRate:       req.RewardRate,
		MaxRewardsPerDay: req.MaxRewardsPerDay,
	})
	if err != nil {
		h.fail(w, "create reward pool", err)
		return
	}
	respondJSON(w, http.StatusCreated, CreateRewardPoolResponse{
		Success: true,
		Message: "reward pool created",
		Pool:    toPoolResponse(p),
	})
}

func (h *Handler) Stake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ContractID == "" || req.Address == "" || req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "missing or invalid required fields")
		return
	}
	pos, err := h.svc.Stake(r.Context(), req.ContractID, req.Address, req.Amount)
	if err != nil {
		h.fail(w, "stake", err)
		return
	}
	respondJSON(w, http.StatusOK, StakeResponse{
		Success:  true,
		Message:  "tokens staked",
		Position: toPositionResponse(pos),
	})
}

func (h *Handler) Unstake(w http.ResponseWriter, r *http.Request) {
	var req UnstakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ContractID == "" || req.Address == "" || req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "missing or invalid required fields")
		return
	}
	res, err := h.svc.Unstake(r.Context(), req.ContractID, req.Address, req.Amount)
	if err != nil {
		h.fail(w, "unstake", err)
		return
	}
	respondJSON(w, http.StatusOK, UnstakeResponse{
		Success: true,
		Message: "tokens unstaked",
		Amount:  res.Amount,
		Fee:     res.Fee,
		Net:     res.Net,
	})
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ContractID == "" || req.Address == "" {
		respondError(w, http.StatusBadRequest, "missing contract_id or address")
		return
	}
	claimed, err := h.svc.Claim(r.Context(), req.ContractID, req.Address)
	if err != nil {
		h.fail(w, "claim rewards", err)
		return
	}
	respondJSON(w, http.StatusOK, ClaimResponse{Success: true, Message: "rewards claimed", Claimed: claimed})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.svc.ListContracts(r.Context())
	if err != nil {
		h.log.Error("staking list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "staking list failed")
		return
	}
	out := make([]ContractResponse, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, toContractResponse(c))
	}
	respondJSON(w, http.StatusOK, ListResponse{Success: true, Contracts: out})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.log.Error("staking stats failed", "error", err)
		respondError(w, http.StatusInternalServerError, "staking stats failed")
		return
	}
	resp := StatsResponse{
		Success:                 true,
		TotalStaked:             st.TotalStaked,
		TotalRewardsDistributed: st.TotalRewardsDistributed,
		TotalRewardsPending:     st.TotalRewardsPending,
		Contracts:               make([]ContractStatsResponse, 0, len(st.Contracts)),
		Pools:                   make([]PoolResponse, 0, len(st.Pools)),
	}
	for _, c := range st.Contracts {
		resp.Contracts = append(resp.Contracts, ContractStatsResponse{
			ID:                 c.ID,
			Name:               c.Name,
			TotalStaked:        c.TotalStaked,
			ActiveStakers:      c.ActiveStakers,
			RewardsDistributed: c.RewardsDistributed,
			RewardsPending:     c.RewardsPending,
		})
	}
	for _, p := range st.Pools {
		resp.Pools = append(resp.Pools, toPoolResponse(p))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrContractNotFound),
		errors.Is(err, ErrPoolNotFound),
		errors.Is(err, ErrPositionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBelowMinStake),
		errors.Is(err, ErrAboveMaxStake),
		errors.Is(err, ErrInsufficientStake),
		errors.Is(err, ErrStakeLocked),
		errors.Is(err, ErrNothingToClaim),
		errors.Is(err, ErrSlashingDisabled),
		errors.Is(err, ErrDailyRewardCapExceeded),
		errors.Is(err, ErrPoolBudgetExceeded),
		errors.Is(err, ErrNoActiveStake),
		errors.Is(err, ledger.ErrInsufficientBalance):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error(op+" failed", "error", err)
		respondError(w, http.StatusInternalServerError, op+" failed")
	}
}

func toContractResponse(c *Contract) ContractResponse {
	return ContractResponse{
		ID:                      c.ID,
		Name:                    c.Name,
		Purpose:                 c.Purpose,
		TotalStaked:             c.TotalStaked,
		TotalRewardsDistributed: c.TotalRewardsDistributed,
		TotalRewardsPending:     c.TotalRewardsPending,
		MinStake:                c.MinStake,
		MaxStake:                c.MaxStake,
		RewardFrequency:         c.RewardFrequency,
		SlashingEnabled:         c.SlashingEnabled,
		SlashingRate:            c.SlashingRate,
	}
}

func toPositionResponse(p *Position) PositionResponse {
	return PositionResponse{
		ContractID:     p.ContractID,
		Address:        p.Address,
		StakedAmount:   p.StakedAmount,
		StakedAt:       p.StakedAt,
		PendingRewards: p.PendingRewards,
		TotalClaimed:   p.TotalClaimed,
		Active:         p.Active,
	}
}

func toPoolResponse(p *RewardPool) PoolResponse {
	return PoolResponse{
		ID:                 p.ID,
		Name:               p.Name,
		Purpose:            p.Purpose,
		TotalRewards:       p.TotalRewards,
		DistributedRewards: p.DistributedRewards,
		RewardRate:         p.RewardRate,
		MaxRewardsPerDay:   p.MaxRewardsPerDay,
		DailyDistributed:   p.DailyDistributed,
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
