package multisig

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dujyo/backend/internal/ledger"
)

// ---------------------------------------------------------------------------
// In-memory mock for Store. Execute validates everything before mutating
// anything, mirroring the single-transaction semantics of the repository.
// ---------------------------------------------------------------------------

type mockStore struct {
	mu       sync.Mutex
	wallets  map[string]*Wallet
	txs      map[string]*Transaction
	sigs     map[string]map[string]bool
	balances map[string]int64
	records  []*ledger.Transaction
}

func newMockStore() *mockStore {
	return &mockStore{
		wallets:  make(map[string]*Wallet),
		txs:      make(map[string]*Transaction),
		sigs:     make(map[string]map[string]bool),
		balances: make(map[string]int64),
	}
}

func (m *mockStore) CreateWallet(_ context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wallets[w.Address] = &cp
	return nil
}

func (m *mockStore) GetWallet(_ context.Context, address string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[address]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *mockStore) ListWallets(_ context.Context) ([]*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Wallet
	for _, w := range m.wallets {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) CreateTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.txs[t.TxHash] = &cp
	m.sigs[t.TxHash] = map[string]bool{t.CreatedBy: true}
	return nil
}

func (m *mockStore) GetTransaction(_ context.Context, txHash string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[txHash]
	if !ok {
		return nil, ErrTxNotFound
	}
	cp := *t
	cp.Signers = nil
	for signer := range m.sigs[txHash] {
		cp.Signers = append(cp.Signers, signer)
	}
	return &cp, nil
}

func (m *mockStore) AddSignature(_ context.Context, txHash, signer string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sigs[txHash]
	if !ok {
		return 0, ErrTxNotFound
	}
	if set[signer] {
		return 0, ErrAlreadySigned
	}
	set[signer] = true
	return len(set), nil
}

func (m *mockStore) Execute(_ context.Context, txHash, executor string, now int64, rec *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[txHash]
	if !ok {
		return ErrTxNotFound
	}
	if t.Executed {
		return ErrAlreadyExecuted
	}
	w := m.wallets[t.WalletAddress]
	if len(m.sigs[txHash]) < w.Threshold {
		return ErrThresholdNotMet
	}
	used, reset := ledger.RollDailyWindow(w.DailyUsed, w.LastReset, now)
	if w.DailyLimit > 0 && used+t.Amount > w.DailyLimit {
		return ErrDailyLimitExceeded
	}
	if m.balances[t.WalletAddress] < t.Amount {
		return ledger.ErrInsufficientBalance
	}

	t.Executed = true
	t.ExecutedBy = &executor
	t.ExecutedAt = &now
	m.balances[t.WalletAddress] -= t.Amount
	m.balances[t.ToAddress] += t.Amount
	w.DailyUsed = used + t.Amount
	w.LastReset = reset
	w.Nonce++
	m.records = append(m.records, rec)
	return nil
}

func (m *mockStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &Stats{TotalWallets: len(m.wallets)}
	for _, t := range m.txs {
		if t.Executed {
			st.ExecutedTxs++
			st.TotalExecuted += t.Amount
		} else {
			st.PendingTxs++
		}
	}
	for addr := range m.wallets {
		st.TotalHeld += m.balances[addr]
	}
	return st, nil
}

func (m *mockStore) balance(addr string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[addr]
}

func (m *mockStore) fund(addr string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] += amount
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

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

var owners = []string{"XWA", "XWB", "XWC", "XWD", "XWE"}

func newTestWallet(t *testing.T, svc Service, threshold int, dailyLimit int64) *Wallet {
	t.Helper()
	w, err := svc.CreateWallet(context.Background(), CreateWalletParams{
		Name:       "treasury",
		Purpose:    "ops",
		Owners:     owners,
		Threshold:  threshold,
		DailyLimit: dailyLimit,
	})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return w
}

// ---------------------------------------------------------------------------
// 1. Wallet creation
// ---------------------------------------------------------------------------

func TestCreateWalletValidation(t *testing.T) {
	svc := NewService(newMockStore(), newFakeClock())
	ctx := context.Background()

	cases := []struct {
		name string
		p    CreateWalletParams
	}{
		{"zero threshold", CreateWalletParams{Name: "w", Owners: owners, Threshold: 0}},
		{"threshold above owners", CreateWalletParams{Name: "w", Owners: owners, Threshold: 6}},
		{"no owners", CreateWalletParams{Name: "w", Threshold: 1}},
		{"missing name", CreateWalletParams{Owners: owners, Threshold: 2}},
		{"duplicate owner", CreateWalletParams{Name: "w", Owners: []string{"XWA", "XWA"}, Threshold: 1}},
		{"negative daily limit", CreateWalletParams{Name: "w", Owners: owners, Threshold: 2, DailyLimit: -1}},
	}
	for _, tc := range cases {
		if _, err := svc.CreateWallet(ctx, tc.p); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}

	w, err := svc.CreateWallet(ctx, CreateWalletParams{Name: "w", Owners: owners, Threshold: 3})
	if err != nil {
		t.Fatalf("valid create: %v", err)
	}
	if !strings.HasPrefix(w.Address, "XWMS") {
		t.Errorf("wallet address %q missing XWMS prefix", w.Address)
	}
	if w.Threshold != 3 || len(w.Owners) != 5 {
		t.Errorf("wallet state: threshold %d owners %d", w.Threshold, len(w.Owners))
	}
}

// ---------------------------------------------------------------------------
// 2. Proposal
// ---------------------------------------------------------------------------

func TestProposeRequiresOwner(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, newFakeClock())
	ctx := context.Background()
	w := newTestWallet(t, svc, 3, 0)

	_, err := svc.Propose(ctx, ProposeParams{WalletAddress: w.Address, ToAddress: "XWDEST", Amount: 100, CreatedBy: "XWSTRANGER"})
	if !errors.Is(err, ErrNotAnOwner) {
		t.Fatalf("expected ErrNotAnOwner, got: %v", err)
	}

	tx, err := svc.Propose(ctx, ProposeParams{WalletAddress: w.Address, ToAddress: "XWDEST", Amount: 100, CreatedBy: "XWA"})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !strings.HasPrefix(tx.TxHash, "MS") {
		t.Errorf("tx hash %q missing MS prefix", tx.TxHash)
	}
	if len(tx.Signers) != 1 || tx.Signers[0] != "XWA" {
		t.Errorf("proposal should carry the creator's signature, got %v", tx.Signers)
	}

	_, err = svc.Propose(ctx, ProposeParams{WalletAddress: "XWMSNOPE", ToAddress: "XWDEST", Amount: 100, CreatedBy: "XWA"})
	if !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 3. Signing and execution at a 3-of-5 threshold
// ---------------------------------------------------------------------------

func TestThresholdFlow(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, newFakeClock())
	ctx := context.Background()
	w := newTestWallet(t, svc, 3, 0)
	store.fund(w.Address, 10_000_000)

	tx, err := svc.Propose(ctx, ProposeParams{WalletAddress: w.Address, ToAddress: "XWDEST", Amount: 4_000_000, CreatedBy: "XWA"})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	// One signature of three: execution refused.
	if err := svc.Execute(ctx, tx.TxHash, "XWA"); !errors.Is(err, ErrThresholdNotMet) {
		t.Fatalf("expected ErrThresholdNotMet at 1 signature, got: %v", err)
	}

	if _, err := svc.Sign(ctx, tx.TxHash, "XWSTRANGER"); !errors.Is(err, ErrNotAnOwner) {
		t.Errorf("expected ErrNotAnOwner, got: %v", err)
	}
	if _, err := svc.Sign(ctx, tx.TxHash, "XWA"); !errors.Is(err, ErrAlreadySigned) {
		t.Errorf("expected ErrAlreadySigned for the proposer, got: %v", err)
	}

	count, err := svc.Sign(ctx, tx.TxHash, "XWB")
	if err != nil || count != 2 {
		t.Fatalf("second signature: count=%d err=%v", count, err)
	}
	if err := svc.Execute(ctx, tx.TxHash, "XWB"); !errors.Is(err, ErrThresholdNotMet) {
		t.Fatalf("expected ErrThresholdNotMet at 2 signatures, got: %v", err)
	}

	count, err = svc.Sign(ctx, tx.TxHash, "XWC")
	if err != nil || count != 3 {
		t.Fatalf("third signature: count=%d err=%v", count, err)
	}

	// Only owners may execute, even at threshold.
	if err := svc.Execute(ctx, tx.TxHash, "XWSTRANGER"); !errors.Is(err, ErrNotAnOwner) {
		t.Errorf("expected ErrNotAnOwner for executor, got: %v", err)
	}

	if err := svc.Execute(ctx, tx.TxHash, "XWB"); err != nil {
		t.Fatalf("execute at threshold: %v", err)
	}
	if got := store.balance(w.Address); got != 6_000_000 {
		t.Errorf("wallet balance after execute: got %d, want 6000000", got)
	}
	if got := store.balance("XWDEST"); got != 4_000_000 {
		t.Errorf("destination balance: got %d, want 4000000", got)
	}

	// Re-execution and late signatures are rejected, and nothing moves twice.
	if err := svc.Execute(ctx, tx.TxHash, "XWC"); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("expected ErrAlreadyExecuted, got: %v", err)
	}
	if _, err := svc.Sign(ctx, tx.TxHash, "XWD"); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("expected ErrAlreadyExecuted on late sign, got: %v", err)
	}
	if got := store.balance("XWDEST"); got != 4_000_000 {
		t.Errorf("destination balance changed on re-execute: %d", got)
	}
	if n := len(store.records); n != 1 {
		t.Errorf("ledger records: got %d, want 1", n)
	}

	after, _ := svc.GetWallet(ctx, w.Address)
	if after.Nonce != 1 {
		t.Errorf("nonce after execute: got %d, want 1", after.Nonce)
	}
	if after.DailyUsed != 4_000_000 {
		t.Errorf("daily_used after execute: got %d, want 4000000", after.DailyUsed)
	}
}

func TestExecuteInsufficientFunds(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, newFakeClock())
	ctx := context.Background()
	w := newTestWallet(t, svc, 1, 0)

	tx, err := svc.Propose(ctx, ProposeParams{WalletAddress: w.Address, ToAddress: "XWDEST", Amount: 500, CreatedBy: "XWA"})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := svc.Execute(ctx, tx.TxHash, "XWA"); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
	}
	// A failed execute leaves the transaction pending and balances untouched.
	pending, _ := svc.GetTransaction(ctx, tx.TxHash)
	if pending.Executed {
		t.Error("transaction marked executed after failed funds check")
	}
	if got := store.balance("XWDEST"); got != 0 {
		t.Errorf("destination credited on failed execute: %d", got)
	}

	store.fund(w.Address, 500)
	if err := svc.Execute(ctx, tx.TxHash, "XWA"); err != nil {
		t.Fatalf("execute after funding: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 4. Wallet daily limit window
// ---------------------------------------------------------------------------

func TestWalletDailyLimit(t *testing.T) {
	store := newMockStore()
	clk := newFakeClock()
	svc := NewService(store, clk)
	ctx := context.Background()
	w := newTestWallet(t, svc, 1, 5_000_000)
	store.fund(w.Address, 100_000_000)

	spend := func(amount int64) error {
		tx, err := svc.Propose(ctx, ProposeParams{WalletAddress: w.Address, ToAddress: "XWDEST", Amount: amount, CreatedBy: "XWA"})
		if err != nil {
			t.Fatalf("propose: %v", err)
		}
		return svc.Execute(ctx, tx.TxHash, "XWA")
	}

	if err := spend(3_000_000); err != nil {
		t.Fatalf("first spend: %v", err)
	}
	clk.advance(time.Second) // distinct tx hashes
	if err := spend(3_000_000); !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got: %v", err)
	}

	// A fresh 24h window admits the spend again.
	clk.advance(24*time.Hour + time.Second)
	if err := spend(3_000_000); err != nil {
		t.Fatalf("spend after window reset: %v", err)
	}
	after, _ := svc.GetWallet(ctx, w.Address)
	if after.DailyUsed != 3_000_000 {
		t.Errorf("daily_used after reset: got %d, want 3000000", after.DailyUsed)
	}
	if got := store.balance("XWDEST"); got != 6_000_000 {
		t.Errorf("destination total: got %d, want 6000000", got)
	}
}
