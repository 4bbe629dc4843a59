package staking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dujyo/backend/internal/ledger"
)

type Repository struct {
	pool   *pgxpool.Pool
	ledger *ledger.Repository
}

func NewRepository(pool *pgxpool.Pool, led *ledger.Repository) *Repository {
	return &Repository{pool: pool, ledger: led}
}

var _ Store = (*Repository)(nil)

const contractColumns = `
	id, name, purpose, total_staked, total_rewards_distributed, total_rewards_pending,
	min_stake, max_stake, reward_frequency, slashing_enabled, slashing_rate, created_at`

const positionColumns = `
	contract_id, address, staked_amount, staked_at, last_claim,
	pending_rewards, total_claimed, slashing_events, active`

const poolColumns = `
	id, name, purpose, total_rewards, distributed_rewards, pending_rewards,
	reward_rate, max_rewards_per_day, daily_distributed, last_reset, min_stake,
	COALESCE(track, ''), created_at`

func (r *Repository) CreateContract(ctx context.Context, c *Contract) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO staking_contracts (id, name, purpose, min_stake, max_stake,
			reward_frequency, slashing_enabled, slashing_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.Name, c.Purpose, c.MinStake, c.MaxStake,
		c.RewardFrequency, c.SlashingEnabled, c.SlashingRate, c.CreatedAt)
	return err
}

func (r *Repository) GetContract(ctx context.Context, id string) (*Contract, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+contractColumns+` FROM staking_contracts WHERE id = $1`, id)
	c, err := scanContract(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContractNotFound
	}
	return c, err
}

func (r *Repository) ListContracts(ctx context.Context) ([]*Contract, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+contractColumns+` FROM staking_contracts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []*Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

func (r *Repository) GetPosition(ctx context.Context, contractID, address string) (*Position, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+positionColumns+` FROM staker_positions WHERE contract_id = $1 AND address = $2
	`, contractID, address)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPositionNotFound
	}
	return p, err
}

// Stake locks the contract and position rows, folds any accrued rewards into
// the position, moves the new amount into the staker's locked balance and
// bumps the contract totals, all in one transaction.
func (r *Repository) Stake(ctx context.Context, contractID, address string, amount, now int64, rec *ledger.Transaction) (*Position, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	c, err := lockContract(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}
	pos, err := lockPosition(ctx, tx, contractID, address)
	if err != nil && !errors.Is(err, ErrPositionNotFound) {
		return nil, err
	}

	var accrued, staked int64
	if pos != nil {
		staked = pos.StakedAmount
		accrued = AccruedReward(pos.StakedAmount, c.TotalStaked, c.RewardFrequency, pos.LastClaim, now)
	}
	if c.MaxStake > 0 && staked+amount > c.MaxStake {
		return nil, ErrAboveMaxStake
	}
	if err := r.ledger.LockFundsTx(ctx, tx, address, amount); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO staker_positions (contract_id, address, staked_amount, staked_at, last_claim)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (contract_id, address) DO UPDATE SET
			staked_amount = staker_positions.staked_amount + $3,
			pending_rewards = staker_positions.pending_rewards + $5,
			last_claim = $4,
			active = TRUE
		RETURNING`+positionColumns, contractID, address, amount, now, accrued)
	updated, err := scanPosition(row)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE staking_contracts
		SET total_staked = total_staked + $2, total_rewards_pending = total_rewards_pending + $3
		WHERE id = $1
	`, contractID, amount, accrued)
	if err != nil {
		return nil, err
	}
	if err := r.ledger.AppendRecordTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// Claim accrues against the locked rows, then pays the whole pending amount
// into the staker's available balance.
func (r *Repository) Claim(ctx context.Context, contractID, address string, now int64) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	c, err := lockContract(ctx, tx, contractID)
	if err != nil {
		return 0, err
	}
	pos, err := lockPosition(ctx, tx, contractID, address)
	if err != nil {
		return 0, err
	}

	accrued := AccruedReward(pos.StakedAmount, c.TotalStaked, c.RewardFrequency, pos.LastClaim, now)
	payout := pos.PendingRewards + accrued
	if payout <= 0 {
		return 0, ErrNothingToClaim
	}

	_, err = tx.Exec(ctx, `
		UPDATE staker_positions
		SET pending_rewards = 0, last_claim = $3, total_claimed = total_claimed + $4
		WHERE contract_id = $1 AND address = $2
	`, contractID, address, now, payout)
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE staking_contracts
		SET total_rewards_pending = total_rewards_pending + $2 - $3,
			total_rewards_distributed = total_rewards_distributed + $3
		WHERE id = $1
	`, contractID, accrued, payout)
	if err != nil {
		return 0, err
	}
	if err := r.ledger.CreditTx(ctx, tx, address, payout); err != nil {
		return 0, err
	}
	rec := ledger.NewRecord(ledger.TxRewardClaim, "", address, payout, time.Unix(now, 0))
	rec.Metadata = contractMeta(contractID)
	if err := r.ledger.AppendRecordTx(ctx, tx, rec); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return payout, nil
}

// Unstake re-checks the lock period and staked balance against locked rows,
// burns the fee and releases the net amount back to available.
func (r *Repository) Unstake(ctx context.Context, contractID, address string, amount, now int64) (*UnstakeResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	c, err := lockContract(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}
	pos, err := lockPosition(ctx, tx, contractID, address)
	if err != nil {
		return nil, err
	}
	if amount > pos.StakedAmount {
		return nil, ErrInsufficientStake
	}
	if now-pos.StakedAt < MinLockSeconds {
		return nil, ErrStakeLocked
	}

	accrued := AccruedReward(pos.StakedAmount, c.TotalStaked, c.RewardFrequency, pos.LastClaim, now)
	fee := UnstakeFee(amount, pos.StakedAt, now)
	net := amount - fee
	remaining := pos.StakedAmount - amount

	_, err = tx.Exec(ctx, `
		UPDATE staker_positions
		SET staked_amount = $3, pending_rewards = pending_rewards + $4, last_claim = $5, active = $6
		WHERE contract_id = $1 AND address = $2
	`, contractID, address, remaining, accrued, now, remaining > 0)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE staking_contracts
		SET total_staked = total_staked - $2, total_rewards_pending = total_rewards_pending + $3
		WHERE id = $1
	`, contractID, amount, accrued)
	if err != nil {
		return nil, err
	}
	if fee > 0 {
		if err := r.ledger.BurnLockedTx(ctx, tx, address, fee); err != nil {
			return nil, err
		}
		feeRec := ledger.NewRecord(ledger.TxUnstakeFee, address, "", fee, time.Unix(now, 0))
		feeRec.Metadata = contractMeta(contractID)
		if err := r.ledger.AppendRecordTx(ctx, tx, feeRec); err != nil {
			return nil, err
		}
	}
	if err := r.ledger.UnlockFundsTx(ctx, tx, address, net); err != nil {
		return nil, err
	}
	rec := ledger.NewRecord(ledger.TxUnstake, "", address, net, time.Unix(now, 0))
	rec.Metadata = contractMeta(contractID)
	if err := r.ledger.AppendRecordTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &UnstakeResult{Amount: amount, Fee: fee, Net: net}, nil
}

// Slash burns slashing_rate percent of the staked amount from the locked
// balance and records the reason in the ledger metadata.
func (r *Repository) Slash(ctx context.Context, contractID, address, reason string, now int64) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	c, err := lockContract(ctx, tx, contractID)
	if err != nil {
		return 0, err
	}
	if !c.SlashingEnabled {
		return 0, ErrSlashingDisabled
	}
	pos, err := lockPosition(ctx, tx, contractID, address)
	if err != nil {
		return 0, err
	}
	slash := pos.StakedAmount * c.SlashingRate / 100
	if slash <= 0 {
		return 0, nil
	}
	remaining := pos.StakedAmount - slash

	_, err = tx.Exec(ctx, `
		UPDATE staker_positions
		SET staked_amount = $3, slashing_events = slashing_events + 1, active = $4
		WHERE contract_id = $1 AND address = $2
	`, contractID, address, remaining, remaining > 0)
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE staking_contracts SET total_staked = total_staked - $2 WHERE id = $1
	`, contractID, slash)
	if err != nil {
		return 0, err
	}
	if err := r.ledger.BurnLockedTx(ctx, tx, address, slash); err != nil {
		return 0, err
	}
	rec := ledger.NewRecord(ledger.TxSlash, address, "", slash, time.Unix(now, 0))
	meta, _ := json.Marshal(map[string]string{"contract_id": contractID, "reason": reason})
	rec.Metadata = meta
	if err := r.ledger.AppendRecordTx(ctx, tx, rec); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return slash, nil
}

func (r *Repository) CreateRewardPool(ctx context.Context, p *RewardPool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reward_pools (id, name, purpose, total_rewards, reward_rate,
			max_rewards_per_day, last_reset, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.Name, p.Purpose, p.TotalRewards, p.RewardRate,
		p.MaxRewardsPerDay, p.LastReset, p.CreatedAt)
	return err
}

func (r *Repository) GetRewardPool(ctx context.Context, id string) (*RewardPool, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+poolColumns+` FROM reward_pools WHERE id = $1`, id)
	p, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPoolNotFound
	}
	return p, err
}

// DistributeRewards grants amount pro rata across the contract's active
// positions, bounded by the pool's daily cap and total budget. Only pending
// bookkeeping moves; no balances change until stakers claim.
func (r *Repository) DistributeRewards(ctx context.Context, poolID, contractID string, amount, now int64) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT`+poolColumns+` FROM reward_pools WHERE id = $1 FOR UPDATE`, poolID)
	pool, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrPoolNotFound
	}
	if err != nil {
		return 0, err
	}
	used, reset := ledger.RollDailyWindow(pool.DailyDistributed, pool.LastReset, now)
	if pool.MaxRewardsPerDay > 0 && used+amount > pool.MaxRewardsPerDay {
		return 0, ErrDailyRewardCapExceeded
	}
	if pool.TotalRewards > 0 && pool.DistributedRewards+pool.PendingRewards+amount > pool.TotalRewards {
		return 0, ErrPoolBudgetExceeded
	}

	c, err := lockContract(ctx, tx, contractID)
	if err != nil {
		return 0, err
	}
	if c.TotalStaked <= 0 {
		return 0, ErrNoActiveStake
	}

	rows, err := tx.Query(ctx, `
		SELECT address, staked_amount FROM staker_positions
		WHERE contract_id = $1 AND active
		FOR UPDATE
	`, contractID)
	if err != nil {
		return 0, err
	}
	type stakerShare struct {
		address string
		share   int64
	}
	var shares []stakerShare
	for rows.Next() {
		var addr string
		var staked int64
		if err := rows.Scan(&addr, &staked); err != nil {
			rows.Close()
			return 0, err
		}
		if share := amount * staked / c.TotalStaked; share > 0 {
			shares = append(shares, stakerShare{addr, share})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var granted int64
	for _, s := range shares {
		_, err = tx.Exec(ctx, `
			UPDATE staker_positions SET pending_rewards = pending_rewards + $3
			WHERE contract_id = $1 AND address = $2
		`, contractID, s.address, s.share)
		if err != nil {
			return 0, err
		}
		granted += s.share
	}

	_, err = tx.Exec(ctx, `
		UPDATE staking_contracts SET total_rewards_pending = total_rewards_pending + $2 WHERE id = $1
	`, contractID, granted)
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE reward_pools
		SET daily_distributed = $2, last_reset = $3, distributed_rewards = distributed_rewards + $4
		WHERE id = $1
	`, poolID, used+granted, reset, granted)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return granted, nil
}

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.name, c.total_staked, c.total_rewards_distributed, c.total_rewards_pending,
			COUNT(p.address) FILTER (WHERE p.active)
		FROM staking_contracts c
		LEFT JOIN staker_positions p ON p.contract_id = c.id
		GROUP BY c.id
		ORDER BY c.created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	st := &Stats{}
	for rows.Next() {
		cs := &ContractStats{}
		if err := rows.Scan(&cs.ID, &cs.Name, &cs.TotalStaked, &cs.RewardsDistributed, &cs.RewardsPending, &cs.ActiveStakers); err != nil {
			return nil, err
		}
		st.TotalStaked += cs.TotalStaked
		st.TotalRewardsDistributed += cs.RewardsDistributed
		st.TotalRewardsPending += cs.RewardsPending
		st.Contracts = append(st.Contracts, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	poolRows, err := r.pool.Query(ctx, `SELECT`+poolColumns+` FROM reward_pools ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer poolRows.Close()
	for poolRows.Next() {
		p, err := scanPool(poolRows)
		if err != nil {
			return nil, err
		}
		st.Pools = append(st.Pools, p)
	}
	return st, poolRows.Err()
}

func lockContract(ctx context.Context, tx pgx.Tx, id string) (*Contract, error) {
	row := tx.QueryRow(ctx, `SELECT`+contractColumns+` FROM staking_contracts WHERE id = $1 FOR UPDATE`, id)
	c, err := scanContract(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContractNotFound
	}
	return c, err
}

func lockPosition(ctx context.Context, tx pgx.Tx, contractID, address string) (*Position, error) {
	row := tx.QueryRow(ctx, `
		SELECT`+positionColumns+` FROM staker_positions
		WHERE contract_id = $1 AND address = $2
		FOR UPDATE
	`, contractID, address)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPositionNotFound
	}
	return p, err
}

func scanContract(row pgx.Row) (*Contract, error) {
	c := &Contract{}
	err := row.Scan(&c.ID, &c.Name, &c.Purpose, &c.TotalStaked, &c.TotalRewardsDistributed,
		&c.TotalRewardsPending, &c.MinStake, &c.MaxStake, &c.RewardFrequency,
		&c.SlashingEnabled, &c.SlashingRate, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanPosition(row pgx.Row) (*Position, error) {
	p := &Position{}
	err := row.Scan(&p.ContractID, &p.Address, &p.StakedAmount, &p.StakedAt, &p.LastClaim,
		&p.PendingRewards, &p.TotalClaimed, &p.SlashingEvents, &p.Active)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanPool(row pgx.Row) (*RewardPool, error) {
	p := &RewardPool{}
	err := row.Scan(&p.ID, &p.Name, &p.Purpose, &p.TotalRewards, &p.DistributedRewards,
		&p.PendingRewards, &p.RewardRate, &p.MaxRewardsPerDay, &p.DailyDistributed,
		&p.LastReset, &p.MinStake, &p.Track, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}
