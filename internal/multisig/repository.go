package multisig

import (
	"context"
	"errors"

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

const walletColumns = `
	address, name, purpose, owners, threshold, nonce,
	daily_limit, daily_used, last_reset, created_at`

const txColumns = `
	tx_hash, wallet_address, to_address, amount, data, created_by,
	executed, executed_by, executed_at, created_at`

func (r *Repository) CreateWallet(ctx context.Context, w *Wallet) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO multisig_wallets (address, name, purpose, owners, threshold,
			daily_limit, last_reset, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.Address, w.Name, w.Purpose, w.Owners, w.Threshold, w.DailyLimit, w.LastReset, w.CreatedAt)
	return err
}

func (r *Repository) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+walletColumns+` FROM multisig_wallets WHERE address = $1`, address)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	return w, err
}

func (r *Repository) ListWallets(ctx context.Context) ([]*Wallet, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+walletColumns+` FROM multisig_wallets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// CreateTransaction inserts the proposal together with the creator's
// signature, so a proposal can never exist unsigned.
func (r *Repository) CreateTransaction(ctx context.Context, t *Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO multisig_transactions (tx_hash, wallet_address, to_address, amount,
			data, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.TxHash, t.WalletAddress, t.ToAddress, t.Amount, t.Data, t.CreatedBy, t.CreatedAt)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO multisig_signatures (tx_hash, signer) VALUES ($1, $2)
	`, t.TxHash, t.CreatedBy)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetTransaction(ctx context.Context, txHash string) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+txColumns+` FROM multisig_transactions WHERE tx_hash = $1`, txHash)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT signer FROM multisig_signatures WHERE tx_hash = $1 ORDER BY signed_at
	`, txHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var signer string
		if err := rows.Scan(&signer); err != nil {
			return nil, err
		}
		t.Signers = append(t.Signers, signer)
	}
	return t, rows.Err()
}

// AddSignature records one owner's approval and returns the signature count
// after the insert. The UNIQUE(tx_hash, signer) constraint makes double
// signing impossible regardless of interleaving.
func (r *Repository) AddSignature(ctx context.Context, txHash, signer string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO multisig_signatures (tx_hash, signer) VALUES ($1, $2)
	`, txHash, signer)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrAlreadySigned
		}
		return 0, err
	}
	var count int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM multisig_signatures WHERE tx_hash = $1
	`, txHash).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, tx.Commit(ctx)
}

// Execute spends the transaction at most once. The tx row and the wallet row
// are locked, every precondition is re-checked against the locked state, and
// the executed flag is flipped with a conditional update before any balance
// moves. A racing executor loses the flip and gets ErrAlreadyExecuted.
func (r *Repository) Execute(ctx context.Context, txHash, executor string, now int64, rec *ledger.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var (
		walletAddress string
		toAddress     string
		amount        int64
		executed      bool
	)
	err = tx.QueryRow(ctx, `
		SELECT wallet_address, to_address, amount, executed
		FROM multisig_transactions WHERE tx_hash = $1
		FOR UPDATE
	`, txHash).Scan(&walletAddress, &toAddress, &amount, &executed)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTxNotFound
	}
	if err != nil {
		return err
	}
	if executed {
		return ErrAlreadyExecuted
	}

	var (
		threshold  int
		dailyLimit int64
		dailyUsed  int64
		lastReset  int64
	)
	err = tx.QueryRow(ctx, `
		SELECT threshold, daily_limit, daily_used, last_reset
		FROM multisig_wallets WHERE address = $1
		FOR UPDATE
	`, walletAddress).Scan(&threshold, &dailyLimit, &dailyUsed, &lastReset)
	if err != nil {
		return err
	}

	var signatures int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM multisig_signatures WHERE tx_hash = $1
	`, txHash).Scan(&signatures)
	if err != nil {
		return err
	}
	if signatures < threshold {
		return ErrThresholdNotMet
	}

	used, reset := ledger.RollDailyWindow(dailyUsed, lastReset, now)
	if dailyLimit > 0 && used+amount > dailyLimit {
		return ErrDailyLimitExceeded
	}

	tag, err := tx.Exec(ctx, `
		UPDATE multisig_transactions
		SET executed = TRUE, executed_by = $2, executed_at = $3
		WHERE tx_hash = $1 AND executed = FALSE
	`, txHash, executor, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExecuted
	}

	if err := r.ledger.DebitTx(ctx, tx, walletAddress, amount); err != nil {
		return err
	}
	if err := r.ledger.CreditTx(ctx, tx, toAddress, amount); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE multisig_wallets
		SET daily_used = $2, last_reset = $3, nonce = nonce + 1
		WHERE address = $1
	`, walletAddress, used+amount, reset)
	if err != nil {
		return err
	}
	if err := r.ledger.AppendRecordTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM multisig_wallets),
			(SELECT COUNT(*) FROM multisig_transactions WHERE NOT executed),
			(SELECT COUNT(*) FROM multisig_transactions WHERE executed),
			(SELECT COALESCE(SUM(b.available + b.locked), 0)
				FROM balances b JOIN multisig_wallets w ON w.address = b.address),
			(SELECT COALESCE(SUM(amount), 0) FROM multisig_transactions WHERE executed)
	`).Scan(&st.TotalWallets, &st.PendingTxs, &st.ExecutedTxs, &st.TotalHeld, &st.TotalExecuted)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	w := &Wallet{}
	err := row.Scan(&w.Address, &w.Name, &w.Purpose, &w.Owners, &w.Threshold, &w.Nonce,
		&w.DailyLimit, &w.DailyUsed, &w.LastReset, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	t := &Transaction{}
	err := row.Scan(&t.TxHash, &t.WalletAddress, &t.ToAddress, &t.Amount, &t.Data, &t.CreatedBy,
		&t.Executed, &t.ExecutedBy, &t.ExecutedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}
