package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/cache"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/escrow"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/health"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/ledger"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/payment"
)

var (
	payer  = common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex()
	worker = common.HexToAddress("0x00000000000000000000000000000000000000bb").Hex()
)

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) ValidatePayment(ctx context.Context, modelID, payer, amount, network string) payment.Result {
	args := m.Called(ctx, modelID, payer, amount, network)
	return args.Get(0).(payment.Result)
}

// APITestSuite is the main test suite for API
type APITestSuite struct {
	suite.Suite

	mr        *miniredis.Miniredis
	conn      redis.UniversalClient
	escrow    *escrow.Coordinator
	ledger    *ledger.Ledger
	validator *mockValidator
	server    *httptest.Server
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}

// SetupTest runs before each test
func (s *APITestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.conn = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	store := cache.NewStore(s.conn)

	s.escrow = escrow.NewCoordinator(escrow.NewTaskStore(store, time.Second), escrow.NewRegistry())
	s.ledger = ledger.NewLedger(store, time.Second, time.Hour)
	s.validator = new(mockValidator)

	api, err := NewServer(Config{
		Coordinator: s.escrow,
		Validator:   s.validator,
		Ledger:      s.ledger,
		Paywall: &PaywallConfig{
			ModelID:   "analytics",
			Price:     decimal.RequireFromString("0.01"),
			Recipient: worker,
			Network:   "base",
		},
	}, ServerConfig{Port: 0})
	s.Require().NoError(err)
	s.server = httptest.NewServer(api.Handler())
	s.T().Cleanup(func() { _ = api.Stop(context.Background()) })
}

// TearDownTest runs after each test
func (s *APITestSuite) TearDownTest() {
	s.server.Close()
	_ = s.conn.Close()
}

func (s *APITestSuite) do(method, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (s *APITestSuite) createTask(escrowType string, rules interface{}) string {
	resp, body := s.do(http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"payer":      payer,
		"worker":     worker,
		"amount":     "1.50",
		"token":      "USDC",
		"escrowType": escrowType,
		"rules":      rules,
	}, nil)
	s.Require().Equal(http.StatusCreated, resp.StatusCode, body)
	return body["id"].(string)
}

func (s *APITestSuite) TestTaskLifecycle() {
	id := s.createTask(escrow.PolicyTimeout, map[string]int{"timeout": 60})

	resp, body := s.do(http.MethodGet, "/api/v1/tasks/"+id, nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("pending", body["status"])
	s.Equal("1.50", body["amount"])

	resp, body = s.do(http.MethodPost, "/api/v1/tasks/"+id+"/complete", map[string]interface{}{
		"result":      map[string]interface{}{"output": "ok"},
		"completedBy": worker,
	}, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(true, body["completed"])

	resp, body = s.do(http.MethodGet, "/api/v1/tasks/"+id, nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("completed", body["status"])
	s.NotEmpty(body["proofHash"])

	resp, _ = s.do(http.MethodPost, "/api/v1/tasks/"+id+"/complete", map[string]interface{}{
		"result":      map[string]interface{}{"output": "again"},
		"completedBy": worker,
	}, nil)
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *APITestSuite) TestHashRejectionIsNotAnError() {
	h, err := escrow.HashCanonical(map[string]int{"x": 1})
	s.Require().NoError(err)
	id := s.createTask(escrow.PolicyHash, map[string]string{"expectedHash": h.Hex()})

	resp, body := s.do(http.MethodPost, "/api/v1/tasks/"+id+"/complete", map[string]interface{}{
		"result":      map[string]interface{}{"data": map[string]int{"x": 2}},
		"completedBy": worker,
	}, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(false, body["completed"])

	resp, body = s.do(http.MethodPost, "/api/v1/tasks/"+id+"/complete", map[string]interface{}{
		"result":      map[string]interface{}{"data": map[string]int{"x": 1}},
		"completedBy": worker,
	}, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(true, body["completed"])
}

func (s *APITestSuite) TestApprove() {
	id := s.createTask(escrow.PolicyMutual, nil)

	resp, _ := s.do(http.MethodPost, "/api/v1/tasks/"+id+"/approve", map[string]string{
		"approvedBy": worker, "approvalKind": "payer",
	}, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/v1/tasks/"+id+"/approve", map[string]string{
		"approvedBy": worker, "approvalKind": "admin",
	}, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(http.MethodPost, "/api/v1/tasks/"+id+"/approve", map[string]string{
		"approvedBy": payer, "approvalKind": "payer",
	}, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("pending", body["status"])

	resp, body = s.do(http.MethodPost, "/api/v1/tasks/"+id+"/approve", map[string]string{
		"approvedBy": worker, "approvalKind": "worker",
	}, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("completed", body["status"])

	other := s.createTask(escrow.PolicyTimeout, nil)
	resp, _ = s.do(http.MethodPost, "/api/v1/tasks/"+other+"/approve", map[string]string{
		"approvedBy": payer, "approvalKind": "payer",
	}, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APITestSuite) TestErrors() {
	resp, body := s.do(http.MethodGet, "/api/v1/tasks/unknown", nil, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Contains(body["error"], "task not found")

	resp, _ = s.do(http.MethodPost, "/api/v1/tasks", map[string]string{
		"payer": payer, "worker": worker, "amount": "1", "escrowType": "nope",
	}, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/v1/tasks", bytes.NewBufferString("{"))
	s.Require().NoError(err)
	raw, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	raw.Body.Close()
	s.Equal(http.StatusBadRequest, raw.StatusCode)
}

func (s *APITestSuite) TestUserTasksAndRefunds() {
	s.createTask("", nil)
	s.createTask(escrow.PolicyMutual, nil)

	resp, body := s.do(http.MethodGet, "/api/v1/users/"+payer+"/tasks?role=payer", nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Len(body["tasks"], 2)

	resp, body = s.do(http.MethodGet, "/api/v1/users/"+payer+"/tasks?role=worker", nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Len(body["tasks"], 0)

	resp, _ = s.do(http.MethodGet, "/api/v1/users/"+payer+"/tasks?role=boss", nil, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(http.MethodPost, "/api/v1/refunds/process", nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(float64(0), body["refunded"])
}

func (s *APITestSuite) TestValidatePayment() {
	s.validator.On("ValidatePayment", mock.Anything, "model-x", payer, "0.005", "base").
		Return(payment.Result{Valid: false, Reason: payment.ReasonInsufficientAmount})

	resp, body := s.do(http.MethodPost, "/api/v1/payments/validate", map[string]string{
		"modelId": "model-x", "payer": payer, "amount": "0.005", "network": "base",
	}, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(false, body["valid"])
	s.Equal("Insufficient payment amount", body["reason"])
	s.NotContains(body, "gasEstimate")

	resp, _ = s.do(http.MethodPost, "/api/v1/payments/validate", map[string]string{"payer": payer}, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.validator.AssertExpectations(s.T())
}

func (s *APITestSuite) record(i int, payerAddr, model, amount string) string {
	tx := fmt.Sprintf("0x%064x", i)
	_, err := s.ledger.RecordEvent(context.Background(), ledger.PaymentEvent{
		ModelID:   model,
		Payer:     payerAddr,
		Amount:    amount,
		Timestamp: int64(1_700_000_000 + i),
		TxHash:    tx,
	}, "base")
	s.Require().NoError(err)
	return tx
}

func (s *APITestSuite) TestGetPayment() {
	resp, _ := s.do(http.MethodGet, fmt.Sprintf("/api/v1/payments/0x%064x", 7), nil, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)

	tx := s.record(7, payer, "model-x", "0.02")
	resp, body := s.do(http.MethodGet, "/api/v1/payments/"+tx, nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("0.02", body["amount"])
	s.Equal("base", body["network"])
}

func (s *APITestSuite) TestPaywall() {
	resp, body := s.do(http.MethodGet, "/api/v1/analytics", nil, nil)
	s.Equal(http.StatusPaymentRequired, resp.StatusCode)
	s.Equal("0.01", resp.Header.Get(HeaderPrice))
	s.Equal(worker, resp.Header.Get(HeaderRecipient))
	s.Equal("analytics", resp.Header.Get(HeaderModelID))
	s.Equal("analytics", body["model_id"])
	s.Equal("0.01", body["price"])
	s.NotEmpty(body["payment_info"])

	cheap := s.record(1, payer, "analytics", "0.001")
	resp, body = s.do(http.MethodGet, "/api/v1/analytics", nil, map[string]string{
		HeaderTxHash: cheap, HeaderPayer: payer,
	})
	s.Equal(http.StatusPaymentRequired, resp.StatusCode)
	s.Equal("Payment verification failed", body["error"])
	s.Equal("insufficient amount", body["reason"])

	paid := s.record(2, payer, "analytics", "0.01")
	resp, body = s.do(http.MethodGet, "/api/v1/analytics", nil, map[string]string{
		HeaderTxHash: paid, HeaderPayer: worker,
	})
	s.Equal(http.StatusPaymentRequired, resp.StatusCode)
	s.Equal("payer mismatch", body["reason"])

	resp, body = s.do(http.MethodGet, "/api/v1/analytics", nil, map[string]string{
		HeaderTxHash: paid, HeaderPayer: payer,
	})
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(float64(2), body["totalPayments"])
	s.Equal("0.011", body["totalRevenue"])

	// a payment unlocks a single request
	resp, body = s.do(http.MethodGet, "/api/v1/analytics", nil, map[string]string{
		HeaderTxHash: paid, HeaderPayer: payer,
	})
	s.Equal(http.StatusPaymentRequired, resp.StatusCode)
	s.Equal("payment already used", body["reason"])

	next := s.record(3, payer, "analytics", "0.01")
	resp, body = s.do(http.MethodGet, "/api/v1/users/"+payer+"/payments?limit=1", nil, map[string]string{
		HeaderTxHash: next, HeaderPayer: payer,
	})
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Len(body["payments"], 1)

	last := s.record(4, payer, "analytics", "0.01")
	resp, _ = s.do(http.MethodGet, "/api/v1/users/"+payer+"/payments?limit=zero", nil, map[string]string{
		HeaderTxHash: last, HeaderPayer: payer,
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APITestSuite) TestRequestID() {
	resp, _ := s.do(http.MethodGet, "/healthz", nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.NotEmpty(resp.Header.Get(requestIDHeader))

	resp, _ = s.do(http.MethodGet, "/healthz", nil, map[string]string{requestIDHeader: "abc-123"})
	s.Equal("abc-123", resp.Header.Get(requestIDHeader))
}

type failingLedger struct{}

func (failingLedger) GetAnalytics() ledger.Analytics { return ledger.Analytics{} }
func (failingLedger) GetUserPayments(context.Context, string, int) ([]ledger.PaymentEvent, error) {
	return nil, ledger.ErrDependencyUnavailable
}
func (failingLedger) GetPayment(context.Context, string) (*ledger.PaymentEvent, error) {
	return nil, fmt.Errorf("%w: timeout", ledger.ErrDependencyUnavailable)
}
func (failingLedger) ClaimPayment(context.Context, string) (bool, error) {
	return false, ledger.ErrDependencyUnavailable
}

func TestPaywallLedgerOutage(t *testing.T) {
	p := NewPaywall(PaywallConfig{ModelID: "m", Price: decimal.NewFromInt(1)}, failingLedger{})
	h := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil)
	req.Header.Set(HeaderTxHash, fmt.Sprintf("0x%064x", 1))
	req.Header.Set(HeaderPayer, payer)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req.Header.Set(HeaderTxHash, "0x1234")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{escrow.ErrTaskNotFound, http.StatusNotFound},
		{ledger.ErrPaymentNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: task 1 is completed", escrow.ErrInvalidState), http.StatusConflict},
		{escrow.ErrUnauthorized, http.StatusForbidden},
		{escrow.ErrUnknownPolicy, http.StatusBadRequest},
		{escrow.ErrWrongPolicy, http.StatusBadRequest},
		{escrow.ErrInvalidRules, http.StatusBadRequest},
		{escrow.ErrInvalidArgument, http.StatusBadRequest},
		{fmt.Errorf("%w: redis down", escrow.ErrDependencyUnavailable), http.StatusServiceUnavailable},
		{ledger.ErrDependencyUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 0.001, 2)
	h := rl.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	// other clients have their own bucket
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:4321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	base := time.Now()
	rl.now = func() time.Time { return base.Add(2 * time.Hour) }
	rl.cleanup()
	require.Empty(t, rl.ips)
}

type stubHealth struct{ report health.Report }

func (s stubHealth) Report() health.Report { return s.report }

func TestHealthzReport(t *testing.T) {
	h := &Handler{health: stubHealth{report: health.Report{
		Status:   health.StatusDegraded,
		Store:    health.Status{Healthy: true},
		Networks: map[string]health.Status{"base": {Error: "rpc down"}},
	}}}

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, health.StatusDegraded, body.Status)
	assert.Equal(t, "rpc down", body.Networks["base"].Error)
}
