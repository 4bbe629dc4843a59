package ledger

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	var info TokenInfo
	row := r.pool.QueryRow(ctx, `
		SELECT name, symbol, decimals, max_supply, total_supply FROM token_info WHERE id = 1
	`)
	if err := row.Scan(&info.Name, &info.Symbol, &info.Decimals, &info.MaxSupply, &info.TotalSupply); err != nil {
		return nil, err
	}
	return &info, nil
}

// Mint runs in its own transaction: bumps total_supply (bounded by
// max_supply), credits the recipient and appends the mint record.
func (r *Repository) Mint(ctx context.Context, to string, amount int64, rec *Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	result, err := tx.Exec(ctx, `
		UPDATE token_info SET total_supply = total_supply + $1
		WHERE id = 1 AND total_supply + $1 <= max_supply
	`, amount)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMaxSupplyExceeded
	}
	if err := r.CreditTx(ctx, tx, to, amount); err != nil {
		return err
	}
	if err := r.AppendRecordTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ExecuteTransfer runs in its own transaction: locks both balance rows in
// sorted address order, rolls the sender's daily window under the same lock,
// moves the funds and appends the transfer record.
func (r *Repository) ExecuteTransfer(ctx context.Context, from, to string, amount int64, rec *Transaction, now int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := r.lockBalances(ctx, tx, from, to); err != nil {
		return err
	}
	if err := r.rollAndChargeDailyLimit(ctx, tx, from, amount, now); err != nil {
		return err
	}
	if err := r.DebitTx(ctx, tx, from, amount); err != nil {
		return err
	}
	if err := r.CreditTx(ctx, tx, to, amount); err != nil {
		return err
	}
	if err := r.AppendRecordTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// QueueTimelocked runs in its own transaction: charges the sender's daily
// window, moves the funds into locked and records the pending transfer. The
// schedule callback (river InsertTx) runs inside the same transaction so a
// rollback also drops the sweep job.
func (r *Repository) QueueTimelocked(ctx context.Context, p *PendingTransfer, now int64, schedule ScheduleSweepFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := r.lockBalances(ctx, tx, p.FromAddress); err != nil {
		return err
	}
	if err := r.rollAndChargeDailyLimit(ctx, tx, p.FromAddress, p.Amount, now); err != nil {
		return err
	}
	if err := r.LockFundsTx(ctx, tx, p.FromAddress, p.Amount); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO pending_transfers (id, from_address, to_address, amount, tx_hash, execute_time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.FromAddress, p.ToAddress, p.Amount, p.TxHash, p.ExecuteTime)
	if err != nil {
		return mapDuplicate(err)
	}
	if schedule != nil {
		if err := schedule(ctx, tx, p.ExecuteTime); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetBalance(ctx context.Context, address string) (*Balance, error) {
	b := &Balance{Address: address}
	row := r.pool.QueryRow(ctx, `SELECT available, locked FROM balances WHERE address = $1`, address)
	if err := row.Scan(&b.Available, &b.Locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, nil
		}
		return nil, err
	}
	return b, nil
}

func (r *Repository) GetDailyLimit(ctx context.Context, address string) (*DailyLimit, error) {
	dl := &DailyLimit{Address: address}
	row := r.pool.QueryRow(ctx, `
		SELECT daily_limit, used_today, last_reset FROM daily_limits WHERE address = $1
	`, address)
	if err := row.Scan(&dl.DailyLimit, &dl.UsedToday, &dl.LastReset); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return dl, nil
}

func (r *Repository) SetDailyLimit(ctx context.Context, address string, limit, now int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_limits (address, daily_limit, used_today, last_reset)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (address) DO UPDATE SET daily_limit = $2
	`, address, limit, now)
	return err
}

func (r *Repository) IsKycVerified(ctx context.Context, address string) (bool, error) {
	var verified bool
	row := r.pool.QueryRow(ctx, `SELECT verified FROM kyc_records WHERE address = $1`, address)
	if err := row.Scan(&verified); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return verified, nil
}

func (r *Repository) SetKycStatus(ctx context.Context, address string, verified bool, now int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO kyc_records (address, verified, verified_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET verified = $2, verified_at = $3
	`, address, verified, now)
	return err
}

func (r *Repository) TimelockDelay(ctx context.Context, address string) (int64, error) {
	var delay int64
	row := r.pool.QueryRow(ctx, `SELECT delay_seconds FROM timelock_delays WHERE address = $1`, address)
	if err := row.Scan(&delay); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return delay, nil
}

func (r *Repository) SetTimelockDelay(ctx context.Context, address string, delaySeconds int64) error {
	if delaySeconds == 0 {
		_, err := r.pool.Exec(ctx, `DELETE FROM timelock_delays WHERE address = $1`, address)
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO timelock_delays (address, delay_seconds) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET delay_seconds = $2
	`, address, delaySeconds)
	return err
}

func (r *Repository) DuePendingTransfers(ctx context.Context, now int64) ([]*PendingTransfer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, from_address, to_address, amount, tx_hash, execute_time, executed
		FROM pending_transfers
		WHERE NOT executed AND execute_time <= $1
		ORDER BY execute_time
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*PendingTransfer
	for rows.Next() {
		p := &PendingTransfer{}
		if err := rows.Scan(&p.ID, &p.FromAddress, &p.ToAddress, &p.Amount, &p.TxHash, &p.ExecuteTime, &p.Executed); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReleasePending applies one queued transfer. The conditional executed flip
// guarantees at-most-once application under concurrent sweeps.
func (r *Repository) ReleasePending(ctx context.Context, id uuid.UUID, rec *Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	var from, to string
	var amount int64
	row := tx.QueryRow(ctx, `
		SELECT from_address, to_address, amount FROM pending_transfers WHERE id = $1 FOR UPDATE
	`, id)
	if err := row.Scan(&from, &to, &amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	result, err := tx.Exec(ctx, `
		UPDATE pending_transfers SET executed = TRUE WHERE id = $1 AND executed = FALSE
	`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExecuted
	}
	if err := r.UnlockToTx(ctx, tx, from, to, amount); err != nil {
		return err
	}
	if err := r.AppendRecordTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ---------------------------------------------------------------------------
// Transaction-scoped primitives. These run inside the caller's transaction so
// vesting, staking, multisig and consensus can combine balance moves with
// their own row updates atomically.
// ---------------------------------------------------------------------------

// CreditTx adds to the available balance, creating the row if needed.
func (r *Repository) CreditTx(ctx context.Context, tx pgx.Tx, address string, amount int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (address, available) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET available = balances.available + $2, updated_at = now()
	`, address, amount)
	return err
}

// DebitTx removes from the available balance via a conditional update.
func (r *Repository) DebitTx(ctx context.Context, tx pgx.Tx, address string, amount int64) error {
	result, err := tx.Exec(ctx, `
		UPDATE balances SET available = available - $1, updated_at = now()
		WHERE address = $2 AND available >= $1
	`, amount, address)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// LockFundsTx moves amount from available to locked.
func (r *Repository) LockFundsTx(ctx context.Context, tx pgx.Tx, address string, amount int64) error {
	result, err := tx.Exec(ctx, `
		UPDATE balances SET available = available - $1, locked = locked + $1, updated_at = now()
		WHERE address = $2 AND available >= $1
	`, amount, address)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// UnlockFundsTx moves amount from locked back to available.
func (r *Repository) UnlockFundsTx(ctx context.Context, tx pgx.Tx, address string, amount int64) error {
	result, err := tx.Exec(ctx, `
		UPDATE balances SET locked = locked - $1, available = available + $1, updated_at = now()
		WHERE address = $2 AND locked >= $1
	`, amount, address)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// EscrowTx debits from's available balance and credits to's locked balance.
// Used by vesting (schedule funding) and staking (stake lockup).
func (r *Repository) EscrowTx(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error {
	if err := r.DebitTx(ctx, tx, from, amount); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (address, locked) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET locked = balances.locked + $2, updated_at = now()
	`, to, amount)
	return err
}

// UnlockToTx releases locked funds on from into to's available balance.
func (r *Repository) UnlockToTx(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error {
	result, err := tx.Exec(ctx, `
		UPDATE balances SET locked = locked - $1, updated_at = now()
		WHERE address = $2 AND locked >= $1
	`, amount, from)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return r.CreditTx(ctx, tx, to, amount)
}

// BurnLockedTx removes locked funds without a credit side (slashes, fees).
func (r *Repository) BurnLockedTx(ctx context.Context, tx pgx.Tx, address string, amount int64) error {
	result, err := tx.Exec(ctx, `
		UPDATE balances SET locked = locked - $1, updated_at = now()
		WHERE address = $2 AND locked >= $1
	`, amount, address)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// AppendRecordTx inserts the audit record for a balance mutation. A reused
// tx_hash maps to ErrDuplicateTransaction so replays never double-apply.
func (r *Repository) AppendRecordTx(ctx context.Context, tx pgx.Tx, rec *Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, tx_hash, tx_type, from_address, to_address, amount, metadata, block_ref, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
	`, rec.ID, rec.TxHash, rec.TxType, rec.FromAddress, rec.ToAddress, rec.Amount, rec.Metadata, rec.BlockRef, rec.CreatedAt)
	return mapDuplicate(err)
}

// Begin starts a transaction for callers composing ledger primitives with
// their own updates.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// lockBalances ensures the balance rows exist and locks them in sorted
// address order to avoid deadlock between concurrent transfers.
func (r *Repository) lockBalances(ctx context.Context, tx pgx.Tx, addresses ...string) error {
	sorted := append([]string(nil), addresses...)
	sort.Strings(sorted)
	for _, a := range sorted {
		if _, err := tx.Exec(ctx, `
			INSERT INTO balances (address) VALUES ($1) ON CONFLICT (address) DO NOTHING
		`, a); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `SELECT 1 FROM balances WHERE address = $1 FOR UPDATE`, a); err != nil {
			return err
		}
	}
	return nil
}

// rollAndChargeDailyLimit re-checks the sender's daily window under a row
// lock and charges the transfer against it. No-op when the sender has no
// limit record.
func (r *Repository) rollAndChargeDailyLimit(ctx context.Context, tx pgx.Tx, address string, amount, now int64) error {
	var limit, usedToday, lastReset int64
	row := tx.QueryRow(ctx, `
		SELECT daily_limit, used_today, last_reset FROM daily_limits WHERE address = $1 FOR UPDATE
	`, address)
	if err := row.Scan(&limit, &usedToday, &lastReset); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	used, reset := RollDailyWindow(usedToday, lastReset, now)
	if used+amount > limit {
		return ErrDailyLimitExceeded
	}
	_, err := tx.Exec(ctx, `
		UPDATE daily_limits SET used_today = $2, last_reset = $3 WHERE address = $1
	`, address, used+amount, reset)
	return err
}

func mapDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateTransaction
	}
	return err
}
