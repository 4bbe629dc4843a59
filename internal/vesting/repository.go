package vesting

import (
	"context"
	"errors"

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

const scheduleColumns = `
	id, beneficiary, purpose, total_amount, released_amount, start_time,
	cliff_duration, vesting_duration, release_frequency, revocable, revoked,
	revoked_at, created_by, created_at, last_release, release_count`

// Create escrows the schedule total from the creator into the beneficiary's
// locked balance and inserts the schedule, all in one transaction.
func (r *Repository) Create(ctx context.Context, s *Schedule, rec *ledger.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := r.ledger.EscrowTx(ctx, tx, s.CreatedBy, s.Beneficiary, s.TotalAmount); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO vesting_schedules (id, beneficiary, purpose, total_amount, start_time,
			cliff_duration, vesting_duration, release_frequency, revocable, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.ID, s.Beneficiary, s.Purpose, s.TotalAmount, s.StartTime,
		s.CliffDuration, s.VestingDuration, s.ReleaseFrequency, s.Revocable, s.CreatedBy, s.CreatedAt)
	if err != nil {
		return err
	}
	if err := r.ledger.AppendRecordTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id string) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+scheduleColumns+` FROM vesting_schedules WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *Repository) GetActiveByBeneficiary(ctx context.Context, beneficiary string) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+scheduleColumns+`
		FROM vesting_schedules
		WHERE beneficiary = $1 AND NOT revoked AND released_amount < total_amount
		LIMIT 1
	`, beneficiary)
	s, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Release moves amount from the beneficiary's locked balance to available and
// bumps the released counters. The conditional update keeps released_amount
// from ever passing total_amount, even when two releases race.
func (r *Repository) Release(ctx context.Context, id string, amount, now int64, rec *ledger.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	var beneficiary string
	row := tx.QueryRow(ctx, `SELECT beneficiary FROM vesting_schedules WHERE id = $1 FOR UPDATE`, id)
	if err := row.Scan(&beneficiary); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	result, err := tx.Exec(ctx, `
		UPDATE vesting_schedules
		SET released_amount = released_amount + $2, last_release = $3, release_count = release_count + 1
		WHERE id = $1 AND NOT revoked AND released_amount + $2 <= total_amount
	`, id, amount, now)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNothingToRelease
	}
	if err := r.ledger.UnlockFundsTx(ctx, tx, beneficiary, amount); err != nil {
		return err
	}
	if err := r.ledger.AppendRecordTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Revoke freezes the schedule and returns the unreleased remainder to the
// creator. Released tokens stay with the beneficiary.
func (r *Repository) Revoke(ctx context.Context, id string, refund, now int64, rec *ledger.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	var beneficiary, createdBy string
	row := tx.QueryRow(ctx, `SELECT beneficiary, created_by FROM vesting_schedules WHERE id = $1 FOR UPDATE`, id)
	if err := row.Scan(&beneficiary, &createdBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	result, err := tx.Exec(ctx, `
		UPDATE vesting_schedules SET revoked = TRUE, revoked_at = $2
		WHERE id = $1 AND revocable AND NOT revoked
	`, id, now)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrScheduleRevoked
	}
	if refund > 0 {
		if err := r.ledger.UnlockToTx(ctx, tx, beneficiary, createdBy, refund); err != nil {
			return err
		}
		if err := r.ledger.AppendRecordTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) List(ctx context.Context) ([]*Schedule, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+scheduleColumns+` FROM vesting_schedules ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	row := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE NOT revoked AND released_amount < total_amount),
			COALESCE(SUM(total_amount), 0),
			COALESCE(SUM(released_amount), 0)
		FROM vesting_schedules
	`)
	if err := row.Scan(&st.TotalSchedules, &st.ActiveSchedules, &st.TotalVesting, &st.TotalReleased); err != nil {
		return nil, err
	}
	return &st, nil
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	s := &Schedule{}
	err := row.Scan(&s.ID, &s.Beneficiary, &s.Purpose, &s.TotalAmount, &s.ReleasedAmount,
		&s.StartTime, &s.CliffDuration, &s.VestingDuration, &s.ReleaseFrequency,
		&s.Revocable, &s.Revoked, &s.RevokedAt, &s.CreatedBy, &s.CreatedAt,
		&s.LastRelease, &s.ReleaseCount)
	if err != nil {
		return nil, err
	}
	return s, nil
}
