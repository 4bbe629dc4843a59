package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

const validatorColumns = `
	address, track, stake_amount, creative_score, community_score, verified_nfts,
	community_votes, fraud_reports, curated_content, total_validations,
	last_validation, active, registered_at`

// Register checks the track capacity inside the transaction, locks the stake
// if the track requires one and inserts the validator row. The address
// primary key turns a duplicate registration into ErrAlreadyRegistered.
func (r *Repository) Register(ctx context.Context, v *Validator, rec *ledger.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM validators WHERE track = $1
	`, string(v.Track)).Scan(&count); err != nil {
		return err
	}
	if count >= v.Track.Capacity() {
		return ErrTrackFull
	}
	if v.StakeAmount > 0 {
		if err := r.ledger.LockFundsTx(ctx, tx, v.Address, v.StakeAmount); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO validators (address, track, stake_amount, creative_score, community_score,
			verified_nfts, community_votes, fraud_reports, curated_content, active, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, v.Address, string(v.Track), v.StakeAmount, v.CreativeScore, v.CommunityScore,
		v.VerifiedNFTs, v.CommunityVotes, v.FraudReports, v.CuratedContent, v.Active, v.RegisteredAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyRegistered
		}
		return err
	}
	if rec != nil {
		if err := r.ledger.AppendRecordTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetValidator(ctx context.Context, address string) (*Validator, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+validatorColumns+` FROM validators WHERE address = $1`, address)
	v, err := scanValidator(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrValidatorNotFound
	}
	return v, err
}

func (r *Repository) TrackPool(ctx context.Context, track Track) (*TrackPool, error) {
	p := &TrackPool{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, reward_rate, max_rewards_per_day, daily_distributed, last_reset, min_stake
		FROM reward_pools WHERE id = $1
	`, track.PoolID()).Scan(&p.ID, &p.RewardRate, &p.MaxRewardsPerDay, &p.DailyDistributed, &p.LastReset, &p.MinStake)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reward pool %s is not seeded", track.PoolID())
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RecordValidation appends the history row and pays the track reward. Once
// the pool's daily cap is reached the validation is still recorded, with a
// zero reward.
func (r *Repository) RecordValidation(ctx context.Context, address string, blockRef, now int64) (*Validation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var track Track
	err = tx.QueryRow(ctx, `
		SELECT track FROM validators WHERE address = $1 FOR UPDATE
	`, address).Scan(&track)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrValidatorNotFound
	}
	if err != nil {
		return nil, err
	}

	pool := &TrackPool{}
	err = tx.QueryRow(ctx, `
		SELECT id, reward_rate, max_rewards_per_day, daily_distributed, last_reset, min_stake
		FROM reward_pools WHERE id = $1
		FOR UPDATE
	`, track.PoolID()).Scan(&pool.ID, &pool.RewardRate, &pool.MaxRewardsPerDay,
		&pool.DailyDistributed, &pool.LastReset, &pool.MinStake)
	if err != nil {
		return nil, err
	}

	used, reset := ledger.RollDailyWindow(pool.DailyDistributed, pool.LastReset, now)
	reward := pool.RewardRate
	if pool.MaxRewardsPerDay > 0 && used+reward > pool.MaxRewardsPerDay {
		reward = 0
	}

	val := &Validation{
		ID:               uuid.New(),
		ValidatorAddress: address,
		Track:            track,
		BlockRef:         blockRef,
		Reward:           reward,
		CreatedAt:        time.Unix(now, 0).UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO validation_history (id, validator_address, track, block_ref, reward, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, val.ID, val.ValidatorAddress, string(val.Track), val.BlockRef, val.Reward, val.CreatedAt)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE validators SET total_validations = total_validations + 1, last_validation = $2
		WHERE address = $1
	`, address, now)
	if err != nil {
		return nil, err
	}

	if reward > 0 {
		if err := r.ledger.CreditTx(ctx, tx, address, reward); err != nil {
			return nil, err
		}
		rec := ledger.NewRecord(ledger.TxValidationReward, "", address, reward, time.Unix(now, 0))
		rec.BlockRef = &blockRef
		if err := r.ledger.AppendRecordTx(ctx, tx, rec); err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
			UPDATE reward_pools
			SET daily_distributed = $2, last_reset = $3, distributed_rewards = distributed_rewards + $4
			WHERE id = $1
		`, pool.ID, used+reward, reset, reward)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE reward_pools SET daily_distributed = $2, last_reset = $3 WHERE id = $1
		`, pool.ID, used, reset)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return val, nil
}

func (r *Repository) ListValidators(ctx context.Context, track Track) ([]*Validator, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+validatorColumns+` FROM validators WHERE track = $1 ORDER BY registered_at
	`, string(track))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var validators []*Validator
	for rows.Next() {
		v, err := scanValidator(rows)
		if err != nil {
			return nil, err
		}
		validators = append(validators, v)
	}
	return validators, rows.Err()
}

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT track, COUNT(*), COALESCE(SUM(stake_amount), 0),
			COALESCE(AVG(CASE track
				WHEN 'economic' THEN stake_amount::DOUBLE PRECISION
				WHEN 'creative' THEN creative_score
				ELSE community_score
			END), 0),
			COALESCE(SUM(total_validations), 0)
		FROM validators
		GROUP BY track
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byTrack := make(map[Track]*TrackStats)
	var totalValidations int64
	var totalValidators int
	for rows.Next() {
		ts := &TrackStats{}
		var validations int64
		if err := rows.Scan(&ts.Track, &ts.Validators, &ts.TotalStake, &ts.AverageScore, &validations); err != nil {
			return nil, err
		}
		byTrack[ts.Track] = ts
		totalValidators += ts.Validators
		totalValidations += validations
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	st := &Stats{TotalValidators: totalValidators, TotalValidations: totalValidations}
	for _, track := range Tracks {
		ts, ok := byTrack[track]
		if !ok {
			ts = &TrackStats{Track: track}
		}
		ts.Capacity = track.Capacity()
		ts.NetworkWeight = track.NetworkWeight()
		st.Tracks = append(st.Tracks, ts)
	}
	return st, nil
}

func scanValidator(row pgx.Row) (*Validator, error) {
	v := &Validator{}
	err := row.Scan(&v.Address, &v.Track, &v.StakeAmount, &v.CreativeScore, &v.CommunityScore,
		&v.VerifiedNFTs, &v.CommunityVotes, &v.FraudReports, &v.CuratedContent,
		&v.TotalValidations, &v.LastValidation, &v.Active, &v.RegisteredAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}
