package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Mock service
// ---------------------------------------------------------------------------

type mockService struct {
	info     *TokenInfo
	infoErr  error
	balances map[string]*Balance

	mintErr     error
	transferErr error
	// queueDelay > 0 makes Transfer return a pending result.
	queueDelay int64
}

func newMockService() *mockService {
	return &mockService{
		info: &TokenInfo{
			Name:        TokenName,
			Symbol:      TokenSymbol,
			Decimals:    TokenDecimals,
			MaxSupply:   1_000_000_000,
			TotalSupply: 1_000_000,
		},
		balances: make(map[string]*Balance),
	}
}

func (m *mockService) Info(context.Context) (*TokenInfo, error) {
	return m.info, m.infoErr
}

func (m *mockService) Mint(_ context.Context, to string, amount int64, txHash string) (*Transaction, error) {
	if m.mintErr != nil {
		return nil, m.mintErr
	}
	if txHash == "" {
		txHash = "TXMOCKMINT"
	}
	return &Transaction{ID: uuid.New(), TxHash: txHash, TxType: TxMint, ToAddress: to, Amount: amount}, nil
}

func (m *mockService) Transfer(_ context.Context, from, to string, amount int64, txHash string) (*TransferResult, error) {
	if m.transferErr != nil {
		return nil, m.transferErr
	}
	if txHash == "" {
		txHash = "TXMOCKXFER"
	}
	if m.queueDelay > 0 {
		return &TransferResult{Pending: &PendingTransfer{
			ID:          uuid.New(),
			FromAddress: from,
			ToAddress:   to,
			Amount:      amount,
			TxHash:      txHash,
			ExecuteTime: 1_700_000_000 + m.queueDelay,
		}}, nil
	}
	return &TransferResult{Tx: &Transaction{
		ID: uuid.New(), TxHash: txHash, TxType: TxTransfer,
		FromAddress: from, ToAddress: to, Amount: amount,
	}}, nil
}

func (m *mockService) Balance(_ context.Context, address string) (*Balance, error) {
	if b, ok := m.balances[address]; ok {
		return b, nil
	}
	return &Balance{Address: address}, nil
}

func (m *mockService) SetDailyLimit(context.Context, string, int64) error { return nil }

func (m *mockService) SetKycStatus(context.Context, string, bool) error { return nil }

func (m *mockService) SetTimelockDelay(context.Context, string, int64) error { return nil }

func (m *mockService) ExecutePendingTransfers(context.Context) (int, error) { return 0, nil }

var _ Service = (*mockService)(nil)

func newTestHandler() (*Handler, *mockService) {
	svc := newMockService()
	return NewHandler(svc, nil), svc
}

// =====================================================================
// GET /health
// =====================================================================

func TestHealth(t *testing.T) {
	h, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.Service != "dujyo-blockchain" {
		t.Errorf("unexpected health body: %+v", resp)
	}
	if resp.Token.Symbol != TokenSymbol {
		t.Errorf("token symbol = %q, want %q", resp.Token.Symbol, TokenSymbol)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	h, svc := newTestHandler()
	svc.infoErr = context.DeadlineExceeded

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

// =====================================================================
// POST /mint
// =====================================================================

func TestMint_Valid(t *testing.T) {
	h, _ := newTestHandler()

	body := `{"address":"XWTREASURY","amount":5000}`
	req := httptest.NewRequest(http.MethodPost, "/mint", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mint(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp TransactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.TxType != TxMint || resp.Amount != 5000 || resp.To != "XWTREASURY" {
		t.Errorf("unexpected mint body: %+v", resp)
	}
	if resp.TxHash == "" {
		t.Error("response missing tx_hash")
	}
}

func TestMint_BadRequest(t *testing.T) {
	h, _ := newTestHandler()

	for _, body := range []string{
		`not json`,
		`{"address":"","amount":100}`,
		`{"address":"XWA","amount":0}`,
		`{"address":"XWA","amount":-5}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/mint", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.Mint(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestMint_MaxSupply(t *testing.T) {
	h, svc := newTestHandler()
	svc.mintErr = ErrMaxSupplyExceeded

	body := `{"address":"XWTREASURY","amount":100}`
	req := httptest.NewRequest(http.MethodPost, "/mint", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Mint(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "max supply") {
		t.Errorf("expected max supply message, got %s", rec.Body.String())
	}
}

// =====================================================================
// POST /transaction
// =====================================================================

func TestTransfer_Completed(t *testing.T) {
	h, _ := newTestHandler()

	body := `{"from":"XWALICE","to":"XWBOB","amount":250}`
	req := httptest.NewRequest(http.MethodPost, "/transaction", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Transfer(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp TransactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pending {
		t.Error("direct transfer should not be pending")
	}
	if resp.From != "XWALICE" || resp.To != "XWBOB" || resp.Amount != 250 {
		t.Errorf("unexpected transfer body: %+v", resp)
	}
}

func TestTransfer_Timelocked(t *testing.T) {
	h, svc := newTestHandler()
	svc.queueDelay = 3600

	body := `{"from":"XWALICE","to":"XWBOB","amount":250}`
	req := httptest.NewRequest(http.MethodPost, "/transaction", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Transfer(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp TransactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Pending {
		t.Fatal("expected pending response")
	}
	if resp.ExecuteTime != 1_700_000_000+3600 {
		t.Errorf("execute_time = %d", resp.ExecuteTime)
	}
}

func TestTransfer_DomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrInsufficientBalance, http.StatusBadRequest},
		{ErrDailyLimitExceeded, http.StatusBadRequest},
		{ErrKycRequired, http.StatusBadRequest},
		{ErrDuplicateTransaction, http.StatusConflict},
	}
	for _, c := range cases {
		h, svc := newTestHandler()
		svc.transferErr = c.err

		body := `{"from":"XWALICE","to":"XWBOB","amount":250}`
		req := httptest.NewRequest(http.MethodPost, "/transaction", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.Transfer(rec, req)

		if rec.Code != c.want {
			t.Errorf("%v: expected %d, got %d", c.err, c.want, rec.Code)
		}
	}
}

// =====================================================================
// GET /balance/{address}
// =====================================================================

func TestGetBalance(t *testing.T) {
	h, svc := newTestHandler()
	svc.balances["XWALICE"] = &Balance{Address: "XWALICE", Available: 700, Locked: 300}

	req := httptest.NewRequest(http.MethodGet, "/balance/XWALICE", nil)
	req.SetPathValue("address", "XWALICE")
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Available != 700 || resp.Locked != 300 || resp.Total != 1000 {
		t.Errorf("unexpected balance body: %+v", resp)
	}
}

func TestGetBalance_UnknownAddressIsZero(t *testing.T) {
	h, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/balance/XWNOBODY", nil)
	req.SetPathValue("address", "XWNOBODY")
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("expected zero balance, got %+v", resp)
	}
}
