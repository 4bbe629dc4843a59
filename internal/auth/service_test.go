package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// In-memory mock for Store.
// ---------------------------------------------------------------------------

type mockStore struct {
	mu      sync.Mutex
	byAddr  map[string]*Account
	byEmail map[string]string
	hashes  map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{
		byAddr:  make(map[string]*Account),
		byEmail: make(map[string]string),
		hashes:  make(map[string]string),
	}
}

func (m *mockStore) CreateAccount(_ context.Context, a *Account, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byAddr[a.Address]; ok {
		return ErrDuplicateAccount
	}
	if _, ok := m.byEmail[a.Email]; ok {
		return ErrDuplicateAccount
	}
	cp := *a
	m.byAddr[a.Address] = &cp
	m.byEmail[a.Email] = a.Address
	m.hashes[a.Address] = passwordHash
	return nil
}

func (m *mockStore) EnsureAccount(_ context.Context, address string, now time.Time) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byAddr[address]; ok {
		cp := *a
		return &cp, nil
	}
	a := &Account{ID: uuid.New(), Address: address, CreatedAt: now}
	m.byAddr[address] = a
	cp := *a
	return &cp, nil
}

func (m *mockStore) GetByEmail(_ context.Context, email string) (*Account, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.byEmail[email]
	if !ok {
		return nil, "", ErrAccountNotFound
	}
	cp := *m.byAddr[addr]
	return &cp, m.hashes[addr], nil
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
// Registration
// ---------------------------------------------------------------------------

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockStore(), newFakeClock())

	if _, _, err := svc.Register(ctx, "not-an-email", "secret123", ""); err == nil {
		t.Fatal("expected error for invalid email")
	}
	if _, _, err := svc.Register(ctx, "a@example.com", "short", ""); err == nil {
		t.Fatal("expected error for short password")
	}

	acc, token, err := svc.Register(ctx, "a@example.com", "secret123", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !strings.HasPrefix(acc.Address, "XW") {
		t.Fatalf("generated address %q does not carry the XW prefix", acc.Address)
	}
	addr, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if addr != acc.Address {
		t.Fatalf("token subject = %q, want %q", addr, acc.Address)
	}

	if _, _, err := svc.Register(ctx, "a@example.com", "secret123", ""); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("duplicate email: got %v, want ErrDuplicateAccount", err)
	}
}

func TestRegisterKeepsSuppliedAddress(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockStore(), newFakeClock())

	acc, _, err := svc.Register(ctx, "b@example.com", "secret123", "XWCUSTOM")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if acc.Address != "XWCUSTOM" {
		t.Fatalf("address = %q, want XWCUSTOM", acc.Address)
	}
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLoginWithAddress(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	svc := NewService(st, newFakeClock())

	token, err := svc.LoginWithAddress(ctx, "XWWALLET")
	if err != nil {
		t.Fatalf("LoginWithAddress: %v", err)
	}
	addr, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if addr != "XWWALLET" {
		t.Fatalf("token subject = %q, want XWWALLET", addr)
	}
	if _, ok := st.byAddr["XWWALLET"]; !ok {
		t.Fatal("first login did not create the account row")
	}

	// Second login reuses the row.
	if _, err := svc.LoginWithAddress(ctx, "XWWALLET"); err != nil {
		t.Fatalf("repeat login: %v", err)
	}
}

func TestLoginWithEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockStore(), newFakeClock())
	acc, _, err := svc.Register(ctx, "c@example.com", "secret123", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := svc.LoginWithEmail(ctx, "nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.LoginWithEmail(ctx, "c@example.com", "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}

	token, addr, err := svc.LoginWithEmail(ctx, "c@example.com", "secret123")
	if err != nil {
		t.Fatalf("LoginWithEmail: %v", err)
	}
	if addr != acc.Address {
		t.Fatalf("login address = %q, want %q", addr, acc.Address)
	}
	if got, err := svc.ValidateToken(ctx, token); err != nil || got != acc.Address {
		t.Fatalf("ValidateToken = %q, %v", got, err)
	}
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

func TestTokenExpiry(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	svc := NewService(newMockStore(), clk)

	token, err := svc.LoginWithAddress(ctx, "XWWALLET")
	if err != nil {
		t.Fatalf("LoginWithAddress: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	clk.advance(23 * time.Hour)
	if _, err := svc.ValidateToken(ctx, token); err != nil {
		t.Fatalf("token rejected before expiry: %v", err)
	}

	clk.advance(2 * time.Hour)
	if _, err := svc.ValidateToken(ctx, token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expired token: got %v, want ErrTokenExpired", err)
	}
}

func TestTokenForeignSecretRejected(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()

	t.Setenv("JWT_SECRET", "first-secret-first-secret-first-secret")
	issuer := NewService(newMockStore(), clk)
	token, err := issuer.LoginWithAddress(ctx, "XWWALLET")
	if err != nil {
		t.Fatalf("LoginWithAddress: %v", err)
	}

	t.Setenv("JWT_SECRET", "second-secret-second-secret-second-sec")
	verifier := NewService(newMockStore(), clk)
	if _, err := verifier.ValidateToken(ctx, token); err == nil {
		t.Fatal("token signed with a different secret was accepted")
	}
}
