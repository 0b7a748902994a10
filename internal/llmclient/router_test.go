package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// mockClient mocks schemas.LLMClient.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func TestRouterRequiresBothTiers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, err := NewRouter(logger, nil, new(mockClient), 0)
	assert.Error(t, err)
	_, err = NewRouter(logger, new(mockClient), nil, 0)
	assert.Error(t, err)
}

func TestRouterRoutesByTier(t *testing.T) {
	logger := zaptest.NewLogger(t)
	fast := new(mockClient)
	powerful := new(mockClient)
	router, err := NewRouter(logger, fast, powerful, 0)
	require.NoError(t, err)

	fast.On("Generate", mock.Anything, mock.MatchedBy(func(r schemas.GenerationRequest) bool {
		return r.Tier == schemas.TierFast
	})).Return("fast answer", nil).Once()

	got, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)
	assert.Equal(t, "fast answer", got)
	fast.AssertExpectations(t)
	powerful.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRouterDefaultsToPowerful(t *testing.T) {
	logger := zaptest.NewLogger(t)
	fast := new(mockClient)
	powerful := new(mockClient)
	router, err := NewRouter(logger, fast, powerful, 0)
	require.NoError(t, err)

	powerful.On("Generate", mock.Anything, mock.Anything).Return("powerful answer", nil).Once()

	got, err := router.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "powerful answer", got)
	powerful.AssertExpectations(t)
}

func TestRouterPropagatesClientError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	fast := new(mockClient)
	powerful := new(mockClient)
	router, err := NewRouter(logger, fast, powerful, 0)
	require.NoError(t, err)

	wantErr := errors.New("provider unreachable")
	powerful.On("Generate", mock.Anything, mock.Anything).Return("", wantErr).Once()

	_, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierPowerful})
	assert.ErrorIs(t, err, wantErr)
}

func TestRouterRateLimiterHonorsCancellation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	fast := new(mockClient)
	powerful := new(mockClient)
	// One request per minute with burst 1: the second call has to wait ~60s,
	// so a short-deadline context must abort it.
	router, err := NewRouter(logger, fast, powerful, 1)
	require.NoError(t, err)

	powerful.On("Generate", mock.Anything, mock.Anything).Return("ok", nil).Once()
	_, err = router.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = router.Generate(ctx, schemas.GenerationRequest{})
	assert.Error(t, err)
	powerful.AssertNumberOfCalls(t, "Generate", 1)
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.LLMConfig{Provider: "mystery", APIKey: "k", FastModel: "a", PowerfulModel: "b"}
	_, err := NewClient(context.Background(), cfg, logger)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown or unsupported LLM provider")
}

func TestFactoryRequiresAPIKey(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.LLMConfig{Provider: config.ProviderOpenAI, FastModel: "a", PowerfulModel: "b"}
	_, err := NewClient(context.Background(), cfg, logger)
	assert.Error(t, err)
}
