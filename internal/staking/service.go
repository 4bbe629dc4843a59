package staking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dujyo/backend/internal/clock"
	"github.com/dujyo/backend/internal/ledger"
)

const (
	// MinLockSeconds is the minimum holding period before any unstake.
	MinLockSeconds = 604_800
	// FullLockSeconds is the holding period after which the reduced fee applies.
	FullLockSeconds = 2_592_000

	earlyUnstakeFeePct    = 5
	standardUnstakeFeePct = 1
)

var (
	ErrContractNotFound       = errors.New("staking contract not found")
	ErrPoolNotFound           = errors.New("reward pool not found")
	ErrPositionNotFound       = errors.New("no active stake for this address")
	ErrBelowMinStake          = errors.New("amount below the contract minimum stake")
	ErrAboveMaxStake          = errors.New("stake would exceed the contract maximum")
	ErrInsufficientStake      = errors.New("unstake amount exceeds staked balance")
	ErrStakeLocked            = errors.New("stake is still in the minimum lock period")
	ErrNothingToClaim         = errors.New("no rewards to claim")
	ErrSlashingDisabled       = errors.New("slashing is not enabled on this contract")
	ErrDailyRewardCapExceeded = errors.New("pool daily reward cap exceeded")
	ErrPoolBudgetExceeded     = errors.New("pool reward budget exhausted")
	ErrNoActiveStake          = errors.New("contract has no active stake")
)

type Contract struct {
	ID                      string
	Name                    string
	Purpose                 string
	TotalStaked             int64
	TotalRewardsDistributed int64
	TotalRewardsPending     int64
	MinStake                int64
	MaxStake                int64
	RewardFrequency         int64
	SlashingEnabled         bool
	SlashingRate            int64
	CreatedAt               time.Time
}

type Position struct {
	ContractID     string
	Address        string
	StakedAmount   int64
	StakedAt       int64
	LastClaim      int64
	PendingRewards int64
	TotalClaimed   int64
	SlashingEvents int
	Active         bool
}

type RewardPool struct {
	ID                 string
	Name               string
	Purpose            string
	TotalRewards       int64
	DistributedRewards int64
	PendingRewards     int64
	RewardRate         int64
	MaxRewardsPerDay   int64
	DailyDistributed   int64
	LastReset          int64
	MinStake           int64
	Track              string
	CreatedAt          time.Time
}

type UnstakeResult struct {
	Amount int64
	Fee    int64
	Net    int64
}

type ContractStats struct {
	ID                 string
	Name               string
	TotalStaked        int64
	ActiveStakers      int
	RewardsDistributed int64
	RewardsPending     int64
}

type Stats struct {
	TotalStaked             int64
	TotalRewardsDistributed int64
	TotalRewardsPending     int64
	Contracts               []*ContractStats
	Pools                   []*RewardPool
}

// ContractPreset carries the launch parameters for the standard pools.
type ContractPreset struct {
	MinStake        int64
	MaxStake        int64
	RewardFrequency int64
	SlashingEnabled bool
	SlashingRate    int64
}

var Presets = map[string]ContractPreset{
	"economic":  {MinStake: 1_000_000, MaxStake: 100_000_000, RewardFrequency: 86_400, SlashingEnabled: true, SlashingRate: 5},
	"creative":  {MinStake: 0, MaxStake: 50_000_000, RewardFrequency: 604_800},
	"community": {MinStake: 0, MaxStake: 10_000_000, RewardFrequency: 604_800},
}

type CreateContractParams struct {
	Name            string
	Purpose         string
	MinStake        int64
	MaxStake        int64
	RewardFrequency int64
	SlashingEnabled bool
	SlashingRate    int64
}

type CreateRewardPoolParams struct {
	Name             string
	Purpose          string
	TotalRewards     int64
	RewardRate       int64
	MaxRewardsPerDay int64
}

// Store is the persistence surface for staking. The mutating methods run
// their formula work inside one database transaction against locked rows;
// implemented by *Repository, mocked in tests.
type Store interface {
	CreateContract(ctx context.Context, c *Contract) error
	GetContract(ctx context.Context, id string) (*Contract, error)
	ListContracts(ctx context.Context) ([]*Contract, error)
	GetPosition(ctx context.Context, contractID, address string) (*Position, error)
	Stake(ctx context.Context, contractID, address string, amount, now int64, rec *ledger.Transaction) (*Position, error)
	Claim(ctx context.Context, contractID, address string, now int64) (int64, error)
	Unstake(ctx context.Context, contractID, address string, amount, now int64) (*UnstakeResult, error)
	Slash(ctx context.Context, contractID, address, reason string, now int64) (int64, error)
	CreateRewardPool(ctx context.Context, p *RewardPool) error
	GetRewardPool(ctx context.Context, id string) (*RewardPool, error)
	DistributeRewards(ctx context.Context, poolID, contractID string, amount, now int64) (int64, error)
	Stats(ctx context.Context) (*Stats, error)
}

type Service interface {
	CreateContract(ctx context.Context, p CreateContractParams) (*Contract, error)
	CreateRewardPool(ctx context.Context, p CreateRewardPoolParams) (*RewardPool, error)
	Stake(ctx context.Context, contractID, address string, amount int64) (*Position, error)
	Unstake(ctx context.Context, contractID, address string, amount int64) (*UnstakeResult, error)
	Claim(ctx context.Context, contractID, address string) (int64, error)
	Slash(ctx context.Context, contractID, address, reason string) (int64, error)
	DistributeRewards(ctx context.Context, poolID, contractID string, amount int64) (int64, error)
	GetContract(ctx context.Context, id string) (*Contract, error)
	GetPosition(ctx context.Context, contractID, address string) (*Position, error)
	ListContracts(ctx context.Context) ([]*Contract, error)
	Stats(ctx context.Context) (*Stats, error)
}

type service struct {
	store Store
	clk   clock.Clock
}

func NewService(store Store, clk clock.Clock) *service {
	if clk == nil {
		clk = clock.System()
	}
	return &service{store: store, clk: clk}
}

var _ Service = (*service)(nil)

// AccruedReward returns the reward earned since lastClaim: the staker's
// share of 100 base units per elapsed reward period, capped at 100% of the
// staked amount. Pure so the repository and tests share one formula.
func AccruedReward(staked, totalStaked, rewardFrequency, lastClaim, now int64) int64 {
	if staked <= 0 || totalStaked <= 0 || rewardFrequency <= 0 {
		return 0
	}
	periods := (now - lastClaim) / rewardFrequency
	if periods <= 0 {
		return 0
	}
	perPeriod := staked * 100 / totalStaked
	reward := perPeriod * periods
	if reward > staked {
		reward = staked
	}
	return reward
}

// UnstakeFee returns the fee burned when unstaking: 5% inside the first 30
// days, 1% after.
func UnstakeFee(amount, stakedAt, now int64) int64 {
	if now-stakedAt < FullLockSeconds {
		return amount * earlyUnstakeFeePct / 100
	}
	return amount * standardUnstakeFeePct / 100
}

func (s *service) CreateContract(ctx context.Context, p CreateContractParams) (*Contract, error) {
	if preset, ok := Presets[p.Purpose]; ok && p.RewardFrequency == 0 {
		p.MinStake = preset.MinStake
		p.MaxStake = preset.MaxStake
		p.RewardFrequency = preset.RewardFrequency
		p.SlashingEnabled = preset.SlashingEnabled
		p.SlashingRate = preset.SlashingRate
	}
	if p.Name == "" {
		return nil, errors.New("contract name is required")
	}
	if p.RewardFrequency <= 0 {
		return nil, errors.New("reward frequency must be positive")
	}
	if p.MinStake < 0 || p.MaxStake < 0 || (p.MaxStake > 0 && p.MinStake > p.MaxStake) {
		return nil, errors.New("invalid stake bounds")
	}
	if p.SlashingEnabled && (p.SlashingRate <= 0 || p.SlashingRate > 100) {
		return nil, errors.New("slashing rate must be between 1 and 100")
	}

	now := s.clk.Now()
	c := &Contract{
		ID:              fmt.Sprintf("STK_%s_%d", idToken(p.Name), now.UnixMilli()),
		Name:            p.Name,
		Purpose:         p.Purpose,
		MinStake:        p.MinStake,
		MaxStake:        p.MaxStake,
		RewardFrequency: p.RewardFrequency,
		SlashingEnabled: p.SlashingEnabled,
		SlashingRate:    p.SlashingRate,
		CreatedAt:       now,
	}
	if err := s.store.CreateContract(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *service) CreateRewardPool(ctx context.Context, p CreateRewardPoolParams) (*RewardPool, error) {
	if p.Name == "" {
		return nil, errors.New("pool name is required")
	}
	if p.RewardRate <= 0 {
		return nil, errors.New("reward rate must be positive")
	}
	if p.TotalRewards < 0 || p.MaxRewardsPerDay < 0 {
		return nil, errors.New("invalid pool budget")
	}

	now := s.clk.Now()
	pool := &RewardPool{
		ID:               fmt.Sprintf("POOL_%s_%d", idToken(p.Name), now.UnixMilli()),
		Name:             p.Name,
		Purpose:          p.Purpose,
		TotalRewards:     p.TotalRewards,
		RewardRate:       p.RewardRate,
		MaxRewardsPerDay: p.MaxRewardsPerDay,
		LastReset:        now.Unix(),
		CreatedAt:        now,
	}
	if err := s.store.CreateRewardPool(ctx, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *service) Stake(ctx context.Context, contractID, address string, amount int64) (*Position, error) {
	if address == "" {
		return nil, errors.New("address is required")
	}
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	c, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if amount < c.MinStake {
		return nil, ErrBelowMinStake
	}

	now := s.clk.Now()
	rec := ledger.NewRecord(ledger.TxStake, address, "", amount, now)
	rec.Metadata = contractMeta(contractID)
	return s.store.Stake(ctx, contractID, address, amount, now.Unix(), rec)
}

func (s *service) Unstake(ctx context.Context, contractID, address string, amount int64) (*UnstakeResult, error) {
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	pos, err := s.store.GetPosition(ctx, contractID, address)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now().Unix()
	if amount > pos.StakedAmount {
		return nil, ErrInsufficientStake
	}
	if now-pos.StakedAt < MinLockSeconds {
		return nil, ErrStakeLocked
	}
	return s.store.Unstake(ctx, contractID, address, amount, now)
}

func (s *service) Claim(ctx context.Context, contractID, address string) (int64, error) {
	return s.store.Claim(ctx, contractID, address, s.clk.Now().Unix())
}

func (s *service) Slash(ctx context.Context, contractID, address, reason string) (int64, error) {
	c, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return 0, err
	}
	if !c.SlashingEnabled {
		return 0, ErrSlashingDisabled
	}
	return s.store.Slash(ctx, contractID, address, reason, s.clk.Now().Unix())
}

func (s *service) DistributeRewards(ctx context.Context, poolID, contractID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("amount must be positive")
	}
	return s.store.DistributeRewards(ctx, poolID, contractID, amount, s.clk.Now().Unix())
}

func (s *service) GetContract(ctx context.Context, id string) (*Contract, error) {
	return s.store.GetContract(ctx, id)
}

func (s *service) GetPosition(ctx context.Context, contractID, address string) (*Position, error) {
	return s.store.GetPosition(ctx, contractID, address)
}

func (s *service) ListContracts(ctx context.Context) ([]*Contract, error) {
	return s.store.ListContracts(ctx)
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

// idToken uppercases a name for use in STK_/POOL_ identifiers.
func idToken(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

func contractMeta(contractID string) json.RawMessage {
	meta, _ := json.Marshal(map[string]string{"contract_id": contractID})
	return meta
}
