package auth

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dujyo/backend/internal/clock"
)

// Issuer is stamped into every token; validation rejects other issuers.
const Issuer = "dujyo-blockchain"

const tokenTTL = 24 * time.Hour

var (
	ErrDuplicateAccount   = errors.New("address or email already registered")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Account struct {
	ID        uuid.UUID
	Address   string
	Email     string
	CreatedAt time.Time
}

// Store is the persistence surface for accounts. Implemented by *Repository;
// mocked in tests.
type Store interface {
	CreateAccount(ctx context.Context, a *Account, passwordHash string) error
	EnsureAccount(ctx context.Context, address string, now time.Time) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, string, error)
}

type Service interface {
	Register(ctx context.Context, email, password, address string) (*Account, string, error)
	LoginWithAddress(ctx context.Context, address string) (string, error)
	LoginWithEmail(ctx context.Context, email, password string) (string, string, error)
	ValidateToken(ctx context.Context, token string) (string, error)
}

type service struct {
	store  Store
	secret []byte
	clk    clock.Clock
}

func NewService(store Store, clk clock.Clock) *service {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dujyo-dev-secret-do-not-use-in-production"
	}
	if clk == nil {
		clk = clock.System()
	}
	return &service{store: store, secret: []byte(secret), clk: clk}
}

var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
}

// Register creates an account with a bcrypt-hashed password and returns it
// along with a fresh token, so a new user is signed in immediately. When no
// wallet address is supplied one is generated.
func (s *service) Register(ctx context.Context, email, password, address string) (*Account, string, error) {
	if !strings.Contains(email, "@") {
		return nil, "", errors.New("invalid email address")
	}
	if len(password) < 6 {
		return nil, "", errors.New("password must be at least 6 characters")
	}
	if address == "" {
		address = NewAddress()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	acc := &Account{
		ID:        uuid.New(),
		Address:   address,
		Email:     email,
		CreatedAt: s.clk.Now(),
	}
	if err := s.store.CreateAccount(ctx, acc, string(hash)); err != nil {
		return nil, "", err
	}
	token, err := s.issueToken(acc.Address)
	if err != nil {
		return nil, "", err
	}
	return acc, token, nil
}

// LoginWithAddress issues a token for a bare wallet address, creating the
// account row on first sight.
func (s *service) LoginWithAddress(ctx context.Context, address string) (string, error) {
	if _, err := s.store.EnsureAccount(ctx, address, s.clk.Now()); err != nil {
		return "", err
	}
	return s.issueToken(address)
}

// LoginWithEmail verifies the password and returns a token for the account's
// wallet address, along with the address itself.
func (s *service) LoginWithEmail(ctx context.Context, email, password string) (string, string, error) {
	acc, hash, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return "", "", ErrInvalidCredentials
	}
	if err != nil {
		return "", "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", "", ErrInvalidCredentials
	}
	token, err := s.issueToken(acc.Address)
	if err != nil {
		return "", "", err
	}
	return token, acc.Address, nil
}

func (s *service) issueToken(address string) (string, error) {
	now := s.clk.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken returns the wallet address a valid token was issued to.
func (s *service) ValidateToken(ctx context.Context, token string) (string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(s.clk.Now),
	)
	if err != nil {
		return "", err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.Subject == "" {
		return "", errors.New("invalid token")
	}
	return c.Subject, nil
}

// NewAddress generates a wallet address in the XW format the rest of the
// system expects.
func NewAddress() string {
	return "XW" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
}
