package vesting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dujyo/backend/internal/clock"
	"github.com/dujyo/backend/internal/ledger"
)

const (
	// Schedules may vest for at most ten years.
	maxVestingDuration = 315_360_000
	// Releases may not be scheduled more often than daily.
	minReleaseFrequency = 86_400

	monthSeconds = 2_592_000
)

var (
	ErrNotFound         = errors.New("vesting schedule not found")
	ErrScheduleExists   = errors.New("beneficiary already has an active vesting schedule")
	ErrScheduleRevoked  = errors.New("vesting schedule revoked")
	ErrNothingToRelease = errors.New("nothing to release")
	ErrNotRevocable     = errors.New("vesting schedule is not revocable")
	ErrUnauthorized     = errors.New("only the schedule creator may revoke")
)

type Schedule struct {
	ID               string
	Beneficiary      string
	Purpose          string
	TotalAmount      int64
	ReleasedAmount   int64
	StartTime        int64
	CliffDuration    int64
	VestingDuration  int64
	ReleaseFrequency int64
	Revocable        bool
	Revoked          bool
	RevokedAt        *int64
	CreatedBy        string
	CreatedAt        time.Time
	LastRelease      int64
	ReleaseCount     int
}

type Stats struct {
	TotalSchedules  int
	ActiveSchedules int
	TotalVesting    int64
	TotalReleased   int64
}

// Preset carries the cliff/duration/frequency for the standard allocation
// purposes used at token launch.
type Preset struct {
	CliffDuration    int64
	VestingDuration  int64
	ReleaseFrequency int64
	Revocable        bool
}

// Presets by purpose, from the launch allocation plan.
var Presets = map[string]Preset{
	"treasury":   {CliffDuration: 12 * monthSeconds, VestingDuration: 36 * monthSeconds, ReleaseFrequency: monthSeconds, Revocable: true},
	"creative":   {CliffDuration: 0, VestingDuration: 24 * monthSeconds, ReleaseFrequency: monthSeconds, Revocable: false},
	"validators": {CliffDuration: 0, VestingDuration: 48 * monthSeconds, ReleaseFrequency: monthSeconds, Revocable: true},
	"community":  {CliffDuration: 0, VestingDuration: 24 * monthSeconds, ReleaseFrequency: monthSeconds, Revocable: false},
	"seed":       {CliffDuration: 6 * monthSeconds, VestingDuration: 24 * monthSeconds, ReleaseFrequency: monthSeconds, Revocable: true},
}

type CreateParams struct {
	Beneficiary      string
	Purpose          string
	TotalAmount      int64
	CliffDuration    int64
	VestingDuration  int64
	ReleaseFrequency int64
	Revocable        bool
	CreatedBy        string
}

// Store is the persistence surface for vesting. Implemented by *Repository;
// mocked in tests.
type Store interface {
	Create(ctx context.Context, s *Schedule, rec *ledger.Transaction) error
	Get(ctx context.Context, id string) (*Schedule, error)
	GetActiveByBeneficiary(ctx context.Context, beneficiary string) (*Schedule, error)
	Release(ctx context.Context, id string, amount, now int64, rec *ledger.Transaction) error
	Revoke(ctx context.Context, id string, refund int64, now int64, rec *ledger.Transaction) error
	List(ctx context.Context) ([]*Schedule, error)
	Stats(ctx context.Context) (*Stats, error)
}

type Service interface {
	Create(ctx context.Context, p CreateParams) (*Schedule, error)
	Release(ctx context.Context, scheduleID string) (int64, error)
	Revoke(ctx context.Context, scheduleID, caller string) error
	Get(ctx context.Context, scheduleID string) (*Schedule, error)
	List(ctx context.Context) ([]*Schedule, error)
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

// Releasable returns the amount releasable from s at the given unix time:
// zero before the cliff or after revocation, the full remainder once the
// vesting duration has fully elapsed, and the linear interpolation between.
func Releasable(s *Schedule, now int64) int64 {
	if s.Revoked {
		return 0
	}
	cliffEnd := s.StartTime + s.CliffDuration
	if now < cliffEnd {
		return 0
	}
	if now >= cliffEnd+s.VestingDuration {
		return s.TotalAmount - s.ReleasedAmount
	}
	vested := s.TotalAmount * (now - cliffEnd) / s.VestingDuration
	if vested <= s.ReleasedAmount {
		return 0
	}
	return vested - s.ReleasedAmount
}

func (s *service) Create(ctx context.Context, p CreateParams) (*Schedule, error) {
	if preset, ok := Presets[p.Purpose]; ok && p.VestingDuration == 0 {
		p.CliffDuration = preset.CliffDuration
		p.VestingDuration = preset.VestingDuration
		p.ReleaseFrequency = preset.ReleaseFrequency
		p.Revocable = preset.Revocable
	}
	if p.Beneficiary == "" || p.CreatedBy == "" {
		return nil, errors.New("missing beneficiary or creator")
	}
	if p.TotalAmount <= 0 {
		return nil, errors.New("total amount must be positive")
	}
	if p.VestingDuration <= 0 || p.VestingDuration > maxVestingDuration {
		return nil, errors.New("vesting duration out of range")
	}
	if p.ReleaseFrequency < minReleaseFrequency || p.ReleaseFrequency > p.VestingDuration {
		return nil, errors.New("release frequency out of range")
	}
	if p.CliffDuration < 0 || p.CliffDuration >= p.VestingDuration {
		return nil, errors.New("cliff must be shorter than the vesting duration")
	}
	existing, err := s.store.GetActiveByBeneficiary(ctx, p.Beneficiary)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrScheduleExists
	}

	now := s.clk.Now()
	sched := &Schedule{
		ID:               fmt.Sprintf("VEST_%s_%d", p.Beneficiary, now.UnixMilli()),
		Beneficiary:      p.Beneficiary,
		Purpose:          p.Purpose,
		TotalAmount:      p.TotalAmount,
		StartTime:        now.Unix(),
		CliffDuration:    p.CliffDuration,
		VestingDuration:  p.VestingDuration,
		ReleaseFrequency: p.ReleaseFrequency,
		Revocable:        p.Revocable,
		CreatedBy:        p.CreatedBy,
		CreatedAt:        now,
	}
	rec := s.record(ledger.TxVestingCreate, p.CreatedBy, p.Beneficiary, p.TotalAmount)
	if err := s.store.Create(ctx, sched, rec); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *service) Release(ctx context.Context, scheduleID string) (int64, error) {
	sched, err := s.store.Get(ctx, scheduleID)
	if err != nil {
		return 0, err
	}
	if sched.Revoked {
		return 0, ErrScheduleRevoked
	}
	now := s.clk.Now().Unix()
	amount := Releasable(sched, now)
	if amount <= 0 {
		return 0, ErrNothingToRelease
	}
	rec := s.record(ledger.TxVestingRelease, "", sched.Beneficiary, amount)
	if err := s.store.Release(ctx, scheduleID, amount, now, rec); err != nil {
		return 0, err
	}
	return amount, nil
}

func (s *service) Revoke(ctx context.Context, scheduleID, caller string) error {
	sched, err := s.store.Get(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sched.Revoked {
		return ErrScheduleRevoked
	}
	if !sched.Revocable {
		return ErrNotRevocable
	}
	if caller != sched.CreatedBy {
		return ErrUnauthorized
	}
	refund := sched.TotalAmount - sched.ReleasedAmount
	rec := s.record(ledger.TxVestingRevoke, sched.Beneficiary, sched.CreatedBy, refund)
	return s.store.Revoke(ctx, scheduleID, refund, s.clk.Now().Unix(), rec)
}

func (s *service) Get(ctx context.Context, scheduleID string) (*Schedule, error) {
	return s.store.Get(ctx, scheduleID)
}

func (s *service) List(ctx context.Context) ([]*Schedule, error) {
	return s.store.List(ctx)
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

func (s *service) record(txType, from, to string, amount int64) *ledger.Transaction {
	return ledger.NewRecord(txType, from, to, amount, s.clk.Now())
}
