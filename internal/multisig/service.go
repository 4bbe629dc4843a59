package multisig

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"time"

	"github.com/dujyo/backend/internal/clock"
	"github.com/dujyo/backend/internal/ledger"
)

var (
	ErrWalletNotFound     = errors.New("multisig wallet not found")
	ErrTxNotFound         = errors.New("multisig transaction not found")
	ErrBadThreshold       = errors.New("threshold must be between 1 and the number of owners")
	ErrNotAnOwner         = errors.New("address is not an owner of this wallet")
	ErrAlreadySigned      = errors.New("owner has already signed this transaction")
	ErrAlreadyExecuted    = errors.New("multisig transaction already executed")
	ErrThresholdNotMet    = errors.New("not enough signatures to execute")
	ErrDailyLimitExceeded = errors.New("wallet daily limit exceeded")
)

// Wallet is a shared-custody account. The wallet address itself holds the
// funds; moving them out takes Threshold distinct owner signatures.
type Wallet struct {
	Address    string
	Name       string
	Purpose    string
	Owners     []string
	Threshold  int
	Nonce      int64
	DailyLimit int64
	DailyUsed  int64
	LastReset  int64
	CreatedAt  time.Time
}

// IsOwner reports whether addr is in the wallet's owner set.
func (w *Wallet) IsOwner(addr string) bool {
	return slices.Contains(w.Owners, addr)
}

// Transaction is a proposed outbound transfer from a wallet. It stays pending
// until enough owners sign and one of them executes it.
type Transaction struct {
	TxHash        string
	WalletAddress string
	ToAddress     string
	Amount        int64
	Data          string
	CreatedBy     string
	Executed      bool
	ExecutedBy    *string
	ExecutedAt    *int64
	CreatedAt     time.Time
	Signers       []string
}

type Stats struct {
	TotalWallets  int
	PendingTxs    int
	ExecutedTxs   int
	TotalHeld     int64
	TotalExecuted int64
}

type CreateWalletParams struct {
	Name       string
	Purpose    string
	Owners     []string
	Threshold  int
	DailyLimit int64
}

type ProposeParams struct {
	WalletAddress string
	ToAddress     string
	Amount        int64
	Data          string
	CreatedBy     string
}

// Store is the persistence surface for multisig custody. Implemented by
// *Repository; mocked in tests.
type Store interface {
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, address string) (*Wallet, error)
	ListWallets(ctx context.Context) ([]*Wallet, error)
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txHash string) (*Transaction, error)
	AddSignature(ctx context.Context, txHash, signer string) (int, error)
	Execute(ctx context.Context, txHash, executor string, now int64, rec *ledger.Transaction) error
	Stats(ctx context.Context) (*Stats, error)
}

type Service interface {
	CreateWallet(ctx context.Context, p CreateWalletParams) (*Wallet, error)
	Propose(ctx context.Context, p ProposeParams) (*Transaction, error)
	Sign(ctx context.Context, txHash, signer string) (int, error)
	Execute(ctx context.Context, txHash, executor string) error
	GetWallet(ctx context.Context, address string) (*Wallet, error)
	GetTransaction(ctx context.Context, txHash string) (*Transaction, error)
	ListWallets(ctx context.Context) ([]*Wallet, error)
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

func (s *service) CreateWallet(ctx context.Context, p CreateWalletParams) (*Wallet, error) {
	if p.Name == "" {
		return nil, errors.New("wallet name is required")
	}
	if len(p.Owners) == 0 {
		return nil, errors.New("at least one owner is required")
	}
	if p.Threshold < 1 || p.Threshold > len(p.Owners) {
		return nil, ErrBadThreshold
	}
	seen := make(map[string]struct{}, len(p.Owners))
	for _, o := range p.Owners {
		if o == "" {
			return nil, errors.New("owner address must not be empty")
		}
		if _, dup := seen[o]; dup {
			return nil, fmt.Errorf("duplicate owner %s", o)
		}
		seen[o] = struct{}{}
	}
	if p.DailyLimit < 0 {
		return nil, errors.New("daily limit must not be negative")
	}

	now := s.clk.Now()
	w := &Wallet{
		Address:    walletAddress(p.Name, p.Owners, now),
		Name:       p.Name,
		Purpose:    p.Purpose,
		Owners:     p.Owners,
		Threshold:  p.Threshold,
		DailyLimit: p.DailyLimit,
		LastReset:  now.Unix(),
		CreatedAt:  now,
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *service) Propose(ctx context.Context, p ProposeParams) (*Transaction, error) {
	if p.ToAddress == "" {
		return nil, errors.New("destination address is required")
	}
	if p.Amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	w, err := s.store.GetWallet(ctx, p.WalletAddress)
	if err != nil {
		return nil, err
	}
	if !w.IsOwner(p.CreatedBy) {
		return nil, ErrNotAnOwner
	}

	now := s.clk.Now()
	tx := &Transaction{
		TxHash:        txHash(w, p.ToAddress, p.Amount, now),
		WalletAddress: w.Address,
		ToAddress:     p.ToAddress,
		Amount:        p.Amount,
		Data:          p.Data,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     now,
		Signers:       []string{p.CreatedBy},
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *service) Sign(ctx context.Context, txHash, signer string) (int, error) {
	tx, err := s.store.GetTransaction(ctx, txHash)
	if err != nil {
		return 0, err
	}
	if tx.Executed {
		return 0, ErrAlreadyExecuted
	}
	w, err := s.store.GetWallet(ctx, tx.WalletAddress)
	if err != nil {
		return 0, err
	}
	if !w.IsOwner(signer) {
		return 0, ErrNotAnOwner
	}
	return s.store.AddSignature(ctx, txHash, signer)
}

// Execute moves the funds once the signature threshold is met. The checks
// here fail fast on stale reads; the repository repeats them under row locks
// so two racing executors cannot both spend the transaction.
func (s *service) Execute(ctx context.Context, hash, executor string) error {
	tx, err := s.store.GetTransaction(ctx, hash)
	if err != nil {
		return err
	}
	if tx.Executed {
		return ErrAlreadyExecuted
	}
	w, err := s.store.GetWallet(ctx, tx.WalletAddress)
	if err != nil {
		return err
	}
	if !w.IsOwner(executor) {
		return ErrNotAnOwner
	}
	if len(tx.Signers) < w.Threshold {
		return ErrThresholdNotMet
	}
	now := s.clk.Now().Unix()
	if w.DailyLimit > 0 {
		used, _ := ledger.RollDailyWindow(w.DailyUsed, w.LastReset, now)
		if used+tx.Amount > w.DailyLimit {
			return ErrDailyLimitExceeded
		}
	}
	rec := ledger.NewRecord(ledger.TxMultisigExecute, tx.WalletAddress, tx.ToAddress, tx.Amount, s.clk.Now())
	return s.store.Execute(ctx, hash, executor, now, rec)
}

func (s *service) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	return s.store.GetWallet(ctx, address)
}

func (s *service) GetTransaction(ctx context.Context, txHash string) (*Transaction, error) {
	return s.store.GetTransaction(ctx, txHash)
}

func (s *service) ListWallets(ctx context.Context) ([]*Wallet, error) {
	return s.store.ListWallets(ctx)
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

// walletAddress derives the XWMS custody address from the wallet's name,
// owner set and creation time.
func walletAddress(name string, owners []string, now time.Time) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", name, strings.Join(owners, ","), now.UnixMilli())
	return fmt.Sprintf("XWMS%X", h.Sum64())
}

// txHash derives the MS transaction id. The wallet nonce is part of the
// input so repeated proposals of the same payment stay distinct.
func txHash(w *Wallet, to string, amount int64, now time.Time) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s|%d|%d", w.Address, w.Nonce, to, amount, now.UnixMilli())
	return fmt.Sprintf("MS%X", h.Sum64())
}
