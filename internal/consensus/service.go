package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dujyo/backend/internal/clock"
	"github.com/dujyo/backend/internal/ledger"
)

// Track identifies one of the three validator tracks of the consensus
// protocol. The set is closed.
type Track string

const (
	TrackEconomic  Track = "economic"
	TrackCreative  Track = "creative"
	TrackCommunity Track = "community"
)

var Tracks = []Track{TrackEconomic, TrackCreative, TrackCommunity}

// Capacity returns the maximum validator count for the track.
func (t Track) Capacity() int {
	switch t {
	case TrackEconomic:
		return 100
	case TrackCreative:
		return 50
	case TrackCommunity:
		return 50
	}
	return 0
}

// PoolID returns the reward pool row backing the track.
func (t Track) PoolID() string {
	switch t {
	case TrackEconomic:
		return "ECONOMIC_POOL"
	case TrackCreative:
		return "CREATIVE_POOL"
	case TrackCommunity:
		return "COMMUNITY_POOL"
	}
	return ""
}

// NetworkWeight returns the track's lambda in the composite network score.
func (t Track) NetworkWeight() float64 {
	switch t {
	case TrackEconomic:
		return 0.40
	case TrackCreative:
		return 0.35
	case TrackCommunity:
		return 0.25
	}
	return 0
}

const (
	// MinCreativeScore is the entry bar for the creative track, reached at
	// five verified NFTs.
	MinCreativeScore = 50.0
	// MinCommunityScore is the entry bar for the community track.
	MinCommunityScore = 30.0
)

var (
	ErrValidatorNotFound = errors.New("validator not found")
	ErrAlreadyRegistered = errors.New("address is already a registered validator")
	ErrTrackFull         = errors.New("validator track is at capacity")
	ErrBelowMinStake     = errors.New("stake below the track minimum")
	ErrScoreTooLow       = errors.New("score below the track entry bar")
)

type Validator struct {
	Address          string
	Track            Track
	StakeAmount      int64
	CreativeScore    float64
	CommunityScore   float64
	VerifiedNFTs     int
	CommunityVotes   int
	FraudReports     int
	CuratedContent   int
	TotalValidations int64
	LastValidation   int64
	Active           bool
	RegisteredAt     time.Time
}

type Validation struct {
	ID               uuid.UUID
	ValidatorAddress string
	Track            Track
	BlockRef         int64
	Reward           int64
	CreatedAt        time.Time
}

// TrackPool is the slice of the track's reward pool row that validation
// rewards depend on.
type TrackPool struct {
	ID               string
	RewardRate       int64
	MaxRewardsPerDay int64
	DailyDistributed int64
	LastReset        int64
	MinStake         int64
}

type TrackStats struct {
	Track         Track
	Validators    int
	Capacity      int
	TotalStake    int64
	AverageScore  float64
	NetworkWeight float64
}

type Stats struct {
	TotalValidators  int
	TotalValidations int64
	Tracks           []*TrackStats
}

// Store is the persistence surface for the validator registry. Implemented
// by *Repository; mocked in tests.
type Store interface {
	Register(ctx context.Context, v *Validator, rec *ledger.Transaction) error
	GetValidator(ctx context.Context, address string) (*Validator, error)
	TrackPool(ctx context.Context, track Track) (*TrackPool, error)
	RecordValidation(ctx context.Context, address string, blockRef, now int64) (*Validation, error)
	ListValidators(ctx context.Context, track Track) ([]*Validator, error)
	Stats(ctx context.Context) (*Stats, error)
}

type Service interface {
	RegisterEconomic(ctx context.Context, address string, stake int64) (*Validator, error)
	RegisterCreative(ctx context.Context, address string, verifiedNFTs int) (*Validator, error)
	RegisterCommunity(ctx context.Context, address string, votes, reports, curated int) (*Validator, error)
	RecordValidation(ctx context.Context, address string, blockRef int64) (*Validation, error)
	GetValidator(ctx context.Context, address string) (*Validator, error)
	ListValidators(ctx context.Context, track Track) ([]*Validator, error)
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

// CreativeScore scores creative-track applicants: ten points per verified
// NFT.
func CreativeScore(verifiedNFTs int) float64 {
	return float64(verifiedNFTs) * 10.0
}

// CommunityScore weighs votes, fraud reports and curated content 40/30/30.
func CommunityScore(votes, reports, curated int) float64 {
	return float64(votes)*0.4 + float64(reports)*0.3 + float64(curated)*0.3
}

func (s *service) RegisterEconomic(ctx context.Context, address string, stake int64) (*Validator, error) {
	if address == "" {
		return nil, errors.New("address is required")
	}
	pool, err := s.store.TrackPool(ctx, TrackEconomic)
	if err != nil {
		return nil, err
	}
	if stake < pool.MinStake {
		return nil, ErrBelowMinStake
	}

	now := s.clk.Now()
	v := &Validator{
		Address:      address,
		Track:        TrackEconomic,
		StakeAmount:  stake,
		Active:       true,
		RegisteredAt: now,
	}
	rec := ledger.NewRecord(ledger.TxStake, address, "", stake, now)
	meta, _ := json.Marshal(map[string]string{"track": string(TrackEconomic)})
	rec.Metadata = meta
	if err := s.store.Register(ctx, v, rec); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *service) RegisterCreative(ctx context.Context, address string, verifiedNFTs int) (*Validator, error) {
	if address == "" {
		return nil, errors.New("address is required")
	}
	score := CreativeScore(verifiedNFTs)
	if score < MinCreativeScore {
		return nil, ErrScoreTooLow
	}

	v := &Validator{
		Address:       address,
		Track:         TrackCreative,
		CreativeScore: score,
		VerifiedNFTs:  verifiedNFTs,
		Active:        true,
		RegisteredAt:  s.clk.Now(),
	}
	if err := s.store.Register(ctx, v, nil); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *service) RegisterCommunity(ctx context.Context, address string, votes, reports, curated int) (*Validator, error) {
	if address == "" {
		return nil, errors.New("address is required")
	}
	score := CommunityScore(votes, reports, curated)
	if score < MinCommunityScore {
		return nil, ErrScoreTooLow
	}

	v := &Validator{
		Address:        address,
		Track:          TrackCommunity,
		CommunityScore: score,
		CommunityVotes: votes,
		FraudReports:   reports,
		CuratedContent: curated,
		Active:         true,
		RegisteredAt:   s.clk.Now(),
	}
	if err := s.store.Register(ctx, v, nil); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *service) RecordValidation(ctx context.Context, address string, blockRef int64) (*Validation, error) {
	return s.store.RecordValidation(ctx, address, blockRef, s.clk.Now().Unix())
}

func (s *service) GetValidator(ctx context.Context, address string) (*Validator, error) {
	return s.store.GetValidator(ctx, address)
}

func (s *service) ListValidators(ctx context.Context, track Track) ([]*Validator, error) {
	return s.store.ListValidators(ctx, track)
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}
