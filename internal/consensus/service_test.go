package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dujyo/backend/internal/ledger"
)

// ---------------------------------------------------------------------------
// In-memory mock for Store. Mutating methods validate everything before
// touching state, mirroring the single-transaction repository semantics, and
// share the daily-window helper with the real implementation.
// ---------------------------------------------------------------------------

type mockStore struct {
	mu         sync.Mutex
	validators map[string]*Validator
	history    []*Validation
	pools      map[Track]*TrackPool
	available  map[string]int64
	locked     map[string]int64
	records    []*ledger.Transaction
}

func newMockStore() *mockStore {
	return &mockStore{
		validators: make(map[string]*Validator),
		pools: map[Track]*TrackPool{
			TrackEconomic:  {ID: "ECONOMIC_POOL", RewardRate: 10, MaxRewardsPerDay: 10_000, MinStake: 1_000},
			TrackCreative:  {ID: "CREATIVE_POOL", RewardRate: 15, MaxRewardsPerDay: 15_000},
			TrackCommunity: {ID: "COMMUNITY_POOL", RewardRate: 5, MaxRewardsPerDay: 5_000},
		},
		available: make(map[string]int64),
		locked:    make(map[string]int64),
	}
}

func (m *mockStore) Register(_ context.Context, v *Validator, rec *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, other := range m.validators {
		if other.Track == v.Track {
			count++
		}
	}
	if count >= v.Track.Capacity() {
		return ErrTrackFull
	}
	if _, ok := m.validators[v.Address]; ok {
		return ErrAlreadyRegistered
	}
	if v.StakeAmount > 0 && m.available[v.Address] < v.StakeAmount {
		return ledger.ErrInsufficientBalance
	}

	if v.StakeAmount > 0 {
		m.available[v.Address] -= v.StakeAmount
		m.locked[v.Address] += v.StakeAmount
	}
	cp := *v
	m.validators[v.Address] = &cp
	if rec != nil {
		m.records = append(m.records, rec)
	}
	return nil
}

func (m *mockStore) GetValidator(_ context.Context, address string) (*Validator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.validators[address]
	if !ok {
		return nil, ErrValidatorNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *mockStore) TrackPool(_ context.Context, track Track) (*TrackPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.pools[track]
	return &cp, nil
}

func (m *mockStore) RecordValidation(_ context.Context, address string, blockRef, now int64) (*Validation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.validators[address]
	if !ok {
		return nil, ErrValidatorNotFound
	}
	pool := m.pools[v.Track]
	used, reset := ledger.RollDailyWindow(pool.DailyDistributed, pool.LastReset, now)
	reward := pool.RewardRate
	if pool.MaxRewardsPerDay > 0 && used+reward > pool.MaxRewardsPerDay {
		reward = 0
	}

	val := &Validation{
		ID:               uuid.New(),
		ValidatorAddress: address,
		Track:            v.Track,
		BlockRef:         blockRef,
		Reward:           reward,
		CreatedAt:        time.Unix(now, 0),
	}
	m.history = append(m.history, val)
	v.TotalValidations++
	v.LastValidation = now
	if reward > 0 {
		m.available[address] += reward
		rec := ledger.NewRecord(ledger.TxValidationReward, "", address, reward, time.Unix(now, 0))
		rec.BlockRef = &blockRef
		m.records = append(m.records, rec)
		pool.DailyDistributed = used + reward
	} else {
		pool.DailyDistributed = used
	}
	pool.LastReset = reset
	return val, nil
}

func (m *mockStore) ListValidators(_ context.Context, track Track) ([]*Validator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Validator
	for _, v := range m.validators {
		if v.Track == track {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &Stats{}
	for _, track := range Tracks {
		ts := &TrackStats{Track: track, Capacity: track.Capacity(), NetworkWeight: track.NetworkWeight()}
		var scoreSum float64
		for _, v := range m.validators {
			if v.Track != track {
				continue
			}
			ts.Validators++
			ts.TotalStake += v.StakeAmount
			switch track {
			case TrackEconomic:
				scoreSum += float64(v.StakeAmount)
			case TrackCreative:
				scoreSum += v.CreativeScore
			case TrackCommunity:
				scoreSum += v.CommunityScore
			}
			st.TotalValidations += v.TotalValidations
		}
		if ts.Validators > 0 {
			ts.AverageScore = scoreSum / float64(ts.Validators)
		}
		st.TotalValidators += ts.Validators
		st.Tracks = append(st.Tracks, ts)
	}
	return st, nil
}

var _ Store = (*mockStore)(nil)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ---------------------------------------------------------------------------
// 1. Score formulas
// ---------------------------------------------------------------------------

func TestCreativeScoreMath(t *testing.T) {
	cases := []struct {
		nfts int
		want float64
	}{
		{0, 0},
		{1, 10},
		{4, 40},
		{5, 50},
		{12, 120},
	}
	for _, tc := range cases {
		if got := CreativeScore(tc.nfts); got != tc.want {
			t.Errorf("CreativeScore(%d) = %v, want %v", tc.nfts, got, tc.want)
		}
	}
}

func TestCommunityScoreMath(t *testing.T) {
	cases := []struct {
		votes, reports, curated int
		want                    float64
	}{
		{0, 0, 0, 0},
		{10, 0, 0, 4},
		{0, 10, 0, 3},
		{0, 0, 10, 3},
		{30, 30, 30, 30},
		{100, 50, 20, 61},
	}
	for _, tc := range cases {
		if got := CommunityScore(tc.votes, tc.reports, tc.curated); got != tc.want {
			t.Errorf("CommunityScore(%d, %d, %d) = %v, want %v",
				tc.votes, tc.reports, tc.curated, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// 2. Registration
// ---------------------------------------------------------------------------

func TestRegisterEconomic(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	svc := NewService(st, newFakeClock())
	st.available["XWECON"] = 5_000

	if _, err := svc.RegisterEconomic(ctx, "XWECON", 999); !errors.Is(err, ErrBelowMinStake) {
		t.Fatalf("stake below pool minimum: got %v, want ErrBelowMinStake", err)
	}
	if _, err := svc.RegisterEconomic(ctx, "XWPOOR", 1_000); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("unfunded stake: got %v, want ErrInsufficientBalance", err)
	}

	v, err := svc.RegisterEconomic(ctx, "XWECON", 2_000)
	if err != nil {
		t.Fatalf("RegisterEconomic: %v", err)
	}
	if v.Track != TrackEconomic || v.StakeAmount != 2_000 || !v.Active {
		t.Fatalf("unexpected validator: %+v", v)
	}
	if st.available["XWECON"] != 3_000 || st.locked["XWECON"] != 2_000 {
		t.Fatalf("stake not locked: available %d, locked %d", st.available["XWECON"], st.locked["XWECON"])
	}
	if len(st.records) != 1 || st.records[0].TxType != ledger.TxStake {
		t.Fatalf("expected one stake record, got %+v", st.records)
	}

	if _, err := svc.RegisterEconomic(ctx, "XWECON", 2_000); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("duplicate registration: got %v, want ErrAlreadyRegistered", err)
	}
}

func TestRegisterCreative(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	svc := NewService(st, newFakeClock())

	if _, err := svc.RegisterCreative(ctx, "XWARTIST", 4); !errors.Is(err, ErrScoreTooLow) {
		t.Fatalf("four NFTs: got %v, want ErrScoreTooLow", err)
	}
	v, err := svc.RegisterCreative(ctx, "XWARTIST", 5)
	if err != nil {
		t.Fatalf("RegisterCreative: %v", err)
	}
	if v.CreativeScore != 50 || v.VerifiedNFTs != 5 {
		t.Fatalf("unexpected validator: %+v", v)
	}
	if len(st.records) != 0 {
		t.Fatalf("creative registration moved funds: %+v", st.records)
	}
}

func TestRegisterCommunity(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	svc := NewService(st, newFakeClock())

	// 50*0.4 + 10*0.3 + 10*0.3 = 26.
	if _, err := svc.RegisterCommunity(ctx, "XWMOD", 50, 10, 10); !errors.Is(err, ErrScoreTooLow) {
		t.Fatalf("score 26: got %v, want ErrScoreTooLow", err)
	}
	// 30*0.4 + 30*0.3 + 30*0.3 = 30, exactly the bar.
	v, err := svc.RegisterCommunity(ctx, "XWMOD", 30, 30, 30)
	if err != nil {
		t.Fatalf("RegisterCommunity: %v", err)
	}
	if v.CommunityScore != 30 || v.CommunityVotes != 30 {
		t.Fatalf("unexpected validator: %+v", v)
	}
}

func TestTrackCapacity(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	svc := NewService(st, newFakeClock())

	for i := 0; i < TrackCreative.Capacity(); i++ {
		if _, err := svc.RegisterCreative(ctx, fmt.Sprintf("XWART%03d", i), 5); err != nil {
			t.Fatalf("registration %d: %v", i, err)
		}
	}
	if _, err := svc.RegisterCreative(ctx, "XWLATE", 5); !errors.Is(err, ErrTrackFull) {
		t.Fatalf("registration past capacity: got %v, want ErrTrackFull", err)
	}
}

// ---------------------------------------------------------------------------
// 3. Validations and rewards
// ---------------------------------------------------------------------------

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	clk := newFakeClock()
	svc := NewService(st, clk)
	st.available["XWECON"] = 5_000
	if _, err := svc.RegisterEconomic(ctx, "XWECON", 2_000); err != nil {
		t.Fatalf("RegisterEconomic: %v", err)
	}

	if _, err := svc.RecordValidation(ctx, "XWNOBODY", 1); !errors.Is(err, ErrValidatorNotFound) {
		t.Fatalf("unknown validator: got %v, want ErrValidatorNotFound", err)
	}

	val, err := svc.RecordValidation(ctx, "XWECON", 42)
	if err != nil {
		t.Fatalf("RecordValidation: %v", err)
	}
	if val.Track != TrackEconomic || val.Reward != 10 || val.BlockRef != 42 {
		t.Fatalf("unexpected validation: %+v", val)
	}
	if st.available["XWECON"] != 3_010 {
		t.Fatalf("reward not credited: available %d", st.available["XWECON"])
	}

	v, err := svc.GetValidator(ctx, "XWECON")
	if err != nil {
		t.Fatalf("GetValidator: %v", err)
	}
	if v.TotalValidations != 1 || v.LastValidation != clk.Now().Unix() {
		t.Fatalf("counters not bumped: %+v", v)
	}

	var rewardRecs []*ledger.Transaction
	for _, rec := range st.records {
		if rec.TxType == ledger.TxValidationReward {
			rewardRecs = append(rewardRecs, rec)
		}
	}
	if len(rewardRecs) != 1 || rewardRecs[0].BlockRef == nil || *rewardRecs[0].BlockRef != 42 {
		t.Fatalf("expected one reward record referencing block 42, got %+v", rewardRecs)
	}
}

func TestValidationDailyCap(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	clk := newFakeClock()
	svc := NewService(st, clk)
	// Two community validations fill a shrunk cap exactly.
	st.pools[TrackCommunity].MaxRewardsPerDay = 10

	if _, err := svc.RegisterCommunity(ctx, "XWMOD", 100, 0, 0); err != nil {
		t.Fatalf("RegisterCommunity: %v", err)
	}

	for i := int64(1); i <= 2; i++ {
		val, err := svc.RecordValidation(ctx, "XWMOD", i)
		if err != nil {
			t.Fatalf("validation %d: %v", i, err)
		}
		if val.Reward != 5 {
			t.Fatalf("validation %d reward = %d, want 5", i, val.Reward)
		}
	}

	// At the cap the validation is still recorded, with a zero reward.
	val, err := svc.RecordValidation(ctx, "XWMOD", 3)
	if err != nil {
		t.Fatalf("validation at cap: %v", err)
	}
	if val.Reward != 0 {
		t.Fatalf("validation at cap reward = %d, want 0", val.Reward)
	}
	if len(st.history) != 3 {
		t.Fatalf("history has %d rows, want 3", len(st.history))
	}
	v, _ := svc.GetValidator(ctx, "XWMOD")
	if v.TotalValidations != 3 {
		t.Fatalf("total validations = %d, want 3", v.TotalValidations)
	}
	if st.available["XWMOD"] != 10 {
		t.Fatalf("credited %d, want 10", st.available["XWMOD"])
	}

	// A new 24h window reopens the budget.
	clk.advance(24*time.Hour + time.Second)
	val, err = svc.RecordValidation(ctx, "XWMOD", 4)
	if err != nil {
		t.Fatalf("validation after window reset: %v", err)
	}
	if val.Reward != 5 {
		t.Fatalf("reward after window reset = %d, want 5", val.Reward)
	}
}

// ---------------------------------------------------------------------------
// 4. Stats
// ---------------------------------------------------------------------------

func TestStatsTrackWeights(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	svc := NewService(st, newFakeClock())
	st.available["XWA"] = 10_000
	st.available["XWB"] = 10_000

	if _, err := svc.RegisterEconomic(ctx, "XWA", 1_000); err != nil {
		t.Fatalf("RegisterEconomic: %v", err)
	}
	if _, err := svc.RegisterEconomic(ctx, "XWB", 3_000); err != nil {
		t.Fatalf("RegisterEconomic: %v", err)
	}
	if _, err := svc.RegisterCreative(ctx, "XWC", 6); err != nil {
		t.Fatalf("RegisterCreative: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalValidators != 3 || len(stats.Tracks) != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	byTrack := make(map[Track]*TrackStats)
	for _, ts := range stats.Tracks {
		byTrack[ts.Track] = ts
	}
	econ := byTrack[TrackEconomic]
	if econ.Validators != 2 || econ.TotalStake != 4_000 || econ.AverageScore != 2_000 {
		t.Fatalf("unexpected economic stats: %+v", econ)
	}
	if econ.Capacity != 100 || econ.NetworkWeight != 0.40 {
		t.Fatalf("unexpected economic track constants: %+v", econ)
	}
	creative := byTrack[TrackCreative]
	if creative.Validators != 1 || creative.AverageScore != 60 || creative.NetworkWeight != 0.35 {
		t.Fatalf("unexpected creative stats: %+v", creative)
	}
	community := byTrack[TrackCommunity]
	if community.Validators != 0 || community.Capacity != 50 || community.NetworkWeight != 0.25 {
		t.Fatalf("empty community track should still be reported: %+v", community)
	}
}
