package payment

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/cache"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/common/contracts/ethereum"
)

var (
	payer = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	usdc  = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

type mockChainClient struct {
	mock.Mock
	network  string
	decimals int32
}

func (m *mockChainClient) Network() string      { return m.network }
func (m *mockChainClient) TokenDecimals() int32 { return m.decimals }
func (m *mockChainClient) Close() error         { return nil }

func (m *mockChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockChainClient) GetModel(ctx context.Context, modelID string) (*ethereum.ModelInfo, error) {
	args := m.Called(ctx, modelID)
	model, _ := args.Get(0).(*ethereum.ModelInfo)
	return model, args.Error(1)
}

func (m *mockChainClient) GetUserBalance(ctx context.Context, user, token common.Address) (*big.Int, error) {
	args := m.Called(ctx, user, token)
	balance, _ := args.Get(0).(*big.Int)
	return balance, args.Error(1)
}

func (m *mockChainClient) WatchPaymentProcessed(*bind.FilterOpts, chan<- *ethereum.PaymentProcessedEvent) (event.Subscription, error) {
	return nil, errors.New("not implemented")
}

func newValidator(client *mockChainClient, models cache.Cache, ttl time.Duration) *Validator {
	chains := ethereum.NewManagerWithClients(map[string]ethereum.ChainClient{client.network: client})
	return NewValidator(chains, models, ttl)
}

func newClient() *mockChainClient {
	return &mockChainClient{network: "base", decimals: 6}
}

func listed(price int64, active bool) *ethereum.ModelInfo {
	return &ethereum.ModelInfo{
		Owner:    owner,
		Endpoint: "https://models.example/x",
		Price:    big.NewInt(price),
		Token:    usdc,
		Active:   active,
	}
}

func TestValidatePayment(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		network string
		amount  string
		payer   string
		setup   func(c *mockChainClient)
		want    Result
	}{
		{
			name:    "unknown network",
			network: "solana",
			amount:  "1",
			payer:   payer.Hex(),
			setup:   func(c *mockChainClient) {},
			want:    Result{Reason: ReasonNetworkNotSupported},
		},
		{
			name:    "model not found",
			network: "base",
			amount:  "1",
			payer:   payer.Hex(),
			setup: func(c *mockChainClient) {
				c.On("GetModel", mock.Anything, "model-x").Return(&ethereum.ModelInfo{Price: big.NewInt(0)}, nil)
			},
			want: Result{Reason: ReasonModelNotFound},
		},
		{
			name:    "inactive model",
			network: "base",
			amount:  "1",
			payer:   payer.Hex(),
			setup: func(c *mockChainClient) {
				c.On("GetModel", mock.Anything, "model-x").Return(listed(10_000, false), nil)
			},
			want: Result{Reason: ReasonModelInactive},
		},
		{
			name:    "insufficient amount",
			network: "base",
			amount:  "0.005",
			payer:   payer.Hex(),
			setup: func(c *mockChainClient) {
				c.On("GetModel", mock.Anything, "model-x").Return(listed(10_000, true), nil)
			},
			want: Result{Reason: ReasonInsufficientAmount},
		},
		{
			name:    "malformed amount",
			network: "base",
			amount:  "0.0.1",
			payer:   payer.Hex(),
			setup: func(c *mockChainClient) {
				c.On("GetModel", mock.Anything, "model-x").Return(listed(10_000, true), nil)
			},
			want: Result{Reason: ReasonInvalidAmount},
		},
		{
			name:    "prepaid balance covers amount",
			network: "base",
			amount:  "0.01",
			payer:   payer.Hex(),
			setup: func(c *mockChainClient) {
				c.On("GetModel", mock.Anything, "model-x").Return(listed(10_000, true), nil)
				c.On("GetUserBalance", mock.Anything, payer, usdc).Return(big.NewInt(10_000), nil)
			},
			want: Result{Valid: true, Reason: ReasonPrepaidBalance},
		},
		{
			name:    "falls back to permit",
			network: "base",
			amount:  "0.02",
			payer:   payer.Hex(),
			setup: func(c *mockChainClient) {
				c.On("GetModel", mock.Anything, "model-x").Return(listed(10_000, true), nil)
				c.On("GetUserBalance", mock.Anything, payer, usdc).Return(big.NewInt(19_999), nil)
			},
			want: Result{Valid: true, Reason: ReasonPermit},
		},
		{
			name:    "provider error on model",
			network: "base",
			amount:  "1",
			payer:   payer.Hex(),
			setup: func(c *mockChainClient) {
				c.On("GetModel", mock.Anything, "model-x").Return(nil, context.DeadlineExceeded)
			},
			want: Result{Reason: ReasonValidationFailed},
		},
		{
			name:    "provider error on balance",
			network: "base",
			amount:  "1",
			payer:   payer.Hex(),
			setup: func(c *mockChainClient) {
				c.On("GetModel", mock.Anything, "model-x").Return(listed(10_000, true), nil)
				c.On("GetUserBalance", mock.Anything, payer, usdc).Return(nil, errors.New("rpc down"))
			},
			want: Result{Reason: ReasonValidationFailed},
		},
		{
			name:    "payer is not an address",
			network: "base",
			amount:  "1",
			payer:   "alice",
			setup: func(c *mockChainClient) {
				c.On("GetModel", mock.Anything, "model-x").Return(listed(10_000, true), nil)
			},
			want: Result{Reason: ReasonValidationFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient()
			tt.setup(client)
			v := newValidator(client, nil, 0)

			got := v.ValidatePayment(ctx, "model-x", tt.payer, tt.amount, tt.network)
			assert.Equal(t, tt.want, got)
			assert.Nil(t, got.GasEstimate)
			client.AssertExpectations(t)
		})
	}
}

func TestValidatePaymentComparesDecimals(t *testing.T) {
	client := &mockChainClient{network: "base", decimals: 18}
	// 0.010000000000000001 tokens; a float64 comparison would treat it as 0.01
	price, _ := new(big.Int).SetString("10000000000000001", 10)
	client.On("GetModel", mock.Anything, "model-x").Return(&ethereum.ModelInfo{
		Owner: owner, Price: price, Token: usdc, Active: true,
	}, nil)
	client.On("GetUserBalance", mock.Anything, payer, usdc).Return(big.NewInt(0), nil)

	v := newValidator(client, nil, 0)
	ctx := context.Background()

	got := v.ValidatePayment(ctx, "model-x", payer.Hex(), "0.01", "base")
	assert.Equal(t, Result{Reason: ReasonInsufficientAmount}, got)

	got = v.ValidatePayment(ctx, "model-x", payer.Hex(), "0.010000000000000001", "base")
	assert.Equal(t, Result{Valid: true, Reason: ReasonPermit}, got)
}

func TestValidatePaymentCachesModel(t *testing.T) {
	client := newClient()
	client.On("GetModel", mock.Anything, "model-x").Return(listed(10_000, true), nil).Once()
	client.On("GetUserBalance", mock.Anything, payer, usdc).Return(big.NewInt(0), nil)

	v := newValidator(client, cache.NewLocalCache(1024*1024), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got := v.ValidatePayment(ctx, "model-x", payer.Hex(), "0.01", "base")
		assert.Equal(t, Result{Valid: true, Reason: ReasonPermit}, got)
	}
	client.AssertNumberOfCalls(t, "GetModel", 1)

	assert.NoError(t, v.InvalidateModel(ctx, "base", "model-x"))
	client.On("GetModel", mock.Anything, "model-x").Return(listed(50_000, true), nil).Once()
	got := v.ValidatePayment(ctx, "model-x", payer.Hex(), "0.01", "base")
	assert.Equal(t, Result{Reason: ReasonInsufficientAmount}, got)
}
