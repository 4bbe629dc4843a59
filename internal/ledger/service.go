package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dujyo/backend/internal/clock"
)

// Token parameters. Decimals are display metadata; every amount in the ledger
// is an integer number of base units.
const (
	TokenName     = "Dujyo Token"
	TokenSymbol   = "DYO"
	TokenDecimals = 18

	// Transfers above this amount require a verified KYC record.
	KycThreshold = 50_000_000

	// Daily windows (transfer limits, reward caps) reset after this many seconds.
	DailyWindowSeconds = 86_400
)

// Ledger transaction types.
const (
	TxMint             = "mint"
	TxTransfer         = "transfer"
	TxVestingCreate    = "vesting_create"
	TxVestingRelease   = "vesting_release"
	TxVestingRevoke    = "vesting_revoke"
	TxStake            = "stake"
	TxUnstake          = "unstake"
	TxUnstakeFee       = "unstake_fee"
	TxRewardClaim      = "reward_claim"
	TxSlash            = "slash"
	TxMultisigExecute  = "multisig_execute"
	TxValidationReward = "validation_reward"
	TxTimelockRelease  = "timelock_release"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrMaxSupplyExceeded    = errors.New("max supply exceeded")
	ErrDailyLimitExceeded   = errors.New("daily transfer limit exceeded")
	ErrKycRequired          = errors.New("kyc verification required")
	ErrDuplicateTransaction = errors.New("transaction hash already used")
	ErrAlreadyExecuted      = errors.New("already executed")
	ErrNotFound             = errors.New("not found")
)

type TokenInfo struct {
	Name        string
	Symbol      string
	Decimals    int16
	MaxSupply   int64
	TotalSupply int64
}

type Balance struct {
	Address   string
	Available int64
	Locked    int64
}

type Transaction struct {
	ID          uuid.UUID
	TxHash      string
	TxType      string
	FromAddress string
	ToAddress   string
	Amount      int64
	Metadata    json.RawMessage
	BlockRef    *int64
	CreatedAt   time.Time
}

type DailyLimit struct {
	Address    string
	DailyLimit int64
	UsedToday  int64
	LastReset  int64
}

type PendingTransfer struct {
	ID          uuid.UUID
	FromAddress string
	ToAddress   string
	Amount      int64
	TxHash      string
	ExecuteTime int64
	Executed    bool
}

// TransferResult is either an applied transfer (Tx set) or a queued timelocked
// transfer (Pending set).
type TransferResult struct {
	Tx      *Transaction
	Pending *PendingTransfer
}

// ScheduleSweepFunc enqueues a timelock sweep job within the given transaction.
// Provided by main using river.Client.InsertTx.
type ScheduleSweepFunc func(ctx context.Context, tx pgx.Tx, executeTime int64) error

// Store is the persistence surface the ledger service needs. Implemented by
// *Repository; mocked in tests.
type Store interface {
	TokenInfo(ctx context.Context) (*TokenInfo, error)
	Mint(ctx context.Context, to string, amount int64, rec *Transaction) error
	ExecuteTransfer(ctx context.Context, from, to string, amount int64, rec *Transaction, now int64) error
	QueueTimelocked(ctx context.Context, p *PendingTransfer, now int64, schedule ScheduleSweepFunc) error
	GetBalance(ctx context.Context, address string) (*Balance, error)
	GetDailyLimit(ctx context.Context, address string) (*DailyLimit, error)
	SetDailyLimit(ctx context.Context, address string, limit, now int64) error
	IsKycVerified(ctx context.Context, address string) (bool, error)
	SetKycStatus(ctx context.Context, address string, verified bool, now int64) error
	TimelockDelay(ctx context.Context, address string) (int64, error)
	SetTimelockDelay(ctx context.Context, address string, delaySeconds int64) error
	DuePendingTransfers(ctx context.Context, now int64) ([]*PendingTransfer, error)
	ReleasePending(ctx context.Context, id uuid.UUID, rec *Transaction) error
}

type Service interface {
	Info(ctx context.Context) (*TokenInfo, error)
	Mint(ctx context.Context, to string, amount int64, txHash string) (*Transaction, error)
	Transfer(ctx context.Context, from, to string, amount int64, txHash string) (*TransferResult, error)
	Balance(ctx context.Context, address string) (*Balance, error)
	SetDailyLimit(ctx context.Context, address string, limit int64) error
	SetKycStatus(ctx context.Context, address string, verified bool) error
	SetTimelockDelay(ctx context.Context, address string, delaySeconds int64) error
	ExecutePendingTransfers(ctx context.Context) (int, error)
}

type service struct {
	store         Store
	clk           clock.Clock
	scheduleSweep ScheduleSweepFunc
	guards        []transferCheck
}

// NewService creates the ledger service. scheduleSweep is typically a closure
// over river.Client.InsertTx and may be nil (the periodic sweep still picks
// queued transfers up).
func NewService(store Store, clk clock.Clock, scheduleSweep ScheduleSweepFunc) *service {
	if clk == nil {
		clk = clock.System()
	}
	s := &service{store: store, clk: clk, scheduleSweep: scheduleSweep}
	s.guards = []transferCheck{s.checkDailyLimit, s.checkKyc, s.checkTimelock}
	return s
}

var _ Service = (*service)(nil)

func (s *service) Info(ctx context.Context) (*TokenInfo, error) {
	return s.store.TokenInfo(ctx)
}

func (s *service) Mint(ctx context.Context, to string, amount int64, txHash string) (*Transaction, error) {
	if to == "" || amount <= 0 {
		return nil, errors.New("invalid mint request")
	}
	rec := s.newRecord(TxMint, "", to, amount, txHash)
	if err := s.store.Mint(ctx, to, amount, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *service) Transfer(ctx context.Context, from, to string, amount int64, txHash string) (*TransferResult, error) {
	if from == "" || to == "" || amount <= 0 {
		return nil, errors.New("invalid transfer request")
	}
	if from == to {
		return nil, errors.New("sender and recipient are the same address")
	}
	bal, err := s.store.GetBalance(ctx, from)
	if err != nil {
		return nil, err
	}
	if bal.Available < amount {
		return nil, ErrInsufficientBalance
	}

	plan := &transferPlan{From: from, To: to, Amount: amount, Now: s.clk.Now().Unix()}
	for _, check := range s.guards {
		if err := check(ctx, plan); err != nil {
			return nil, err
		}
	}

	if plan.Delay > 0 {
		p := &PendingTransfer{
			ID:          uuid.New(),
			FromAddress: from,
			ToAddress:   to,
			Amount:      amount,
			TxHash:      orNewHash(txHash),
			ExecuteTime: plan.Now + plan.Delay,
		}
		if err := s.store.QueueTimelocked(ctx, p, plan.Now, s.scheduleSweep); err != nil {
			return nil, err
		}
		return &TransferResult{Pending: p}, nil
	}

	rec := s.newRecord(TxTransfer, from, to, amount, txHash)
	if err := s.store.ExecuteTransfer(ctx, from, to, amount, rec, plan.Now); err != nil {
		return nil, err
	}
	return &TransferResult{Tx: rec}, nil
}

func (s *service) Balance(ctx context.Context, address string) (*Balance, error) {
	return s.store.GetBalance(ctx, address)
}

func (s *service) SetDailyLimit(ctx context.Context, address string, limit int64) error {
	if address == "" || limit <= 0 {
		return errors.New("invalid daily limit")
	}
	return s.store.SetDailyLimit(ctx, address, limit, s.clk.Now().Unix())
}

func (s *service) SetKycStatus(ctx context.Context, address string, verified bool) error {
	if address == "" {
		return errors.New("missing address")
	}
	return s.store.SetKycStatus(ctx, address, verified, s.clk.Now().Unix())
}

func (s *service) SetTimelockDelay(ctx context.Context, address string, delaySeconds int64) error {
	if address == "" || delaySeconds < 0 {
		return errors.New("invalid timelock delay")
	}
	return s.store.SetTimelockDelay(ctx, address, delaySeconds)
}

// ExecutePendingTransfers applies every queued transfer whose execute_time has
// passed. The conditional executed flip in the store keeps racing sweeps from
// double-applying a transfer.
func (s *service) ExecutePendingTransfers(ctx context.Context) (int, error) {
	now := s.clk.Now().Unix()
	due, err := s.store.DuePendingTransfers(ctx, now)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, p := range due {
		rec := s.newRecord(TxTimelockRelease, p.FromAddress, p.ToAddress, p.Amount, p.TxHash)
		if err := s.store.ReleasePending(ctx, p.ID, rec); err != nil {
			if errors.Is(err, ErrAlreadyExecuted) {
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

func (s *service) newRecord(txType, from, to string, amount int64, txHash string) *Transaction {
	return &Transaction{
		ID:          uuid.New(),
		TxHash:      orNewHash(txHash),
		TxType:      txType,
		FromAddress: from,
		ToAddress:   to,
		Amount:      amount,
		CreatedAt:   s.clk.Now(),
	}
}

func orNewHash(txHash string) string {
	if txHash != "" {
		return txHash
	}
	u := uuid.New()
	return fmt.Sprintf("TX%x", u[:])
}

// NewRecord builds an audit record with a fresh id and hash. Used by the
// vesting, multisig, staking and consensus services for their ledger writes.
func NewRecord(txType, from, to string, amount int64, at time.Time) *Transaction {
	return &Transaction{
		ID:          uuid.New(),
		TxHash:      orNewHash(""),
		TxType:      txType,
		FromAddress: from,
		ToAddress:   to,
		Amount:      amount,
		CreatedAt:   at,
	}
}
