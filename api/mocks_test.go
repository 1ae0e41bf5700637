package api

import (
	"context"
	"io"
	"testing"
	"time"

	"crits/config"
	"crits/core"
	"crits/service"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

const testSecret = "k3y-0123456789abcdef0123456789abcdef"

type MockIndicators struct {
	mock.Mock
}

func (m *MockIndicators) AddIndicator(ctx context.Context, req service.AddIndicatorRequest) *service.UpsertResult {
	return m.Called(ctx, req).Get(0).(*service.UpsertResult)
}

func (m *MockIndicators) GetIndicatorDetails(ctx context.Context, id, analyst string) *service.IndicatorDetails {
	return m.Called(ctx, id, analyst).Get(0).(*service.IndicatorDetails)
}

func (m *MockIndicators) SearchByCI(ctx context.Context, q service.CISearch) ([]*core.Indicator, error) {
	args := m.Called(ctx, q)
	found, _ := args.Get(0).([]*core.Indicator)
	return found, args.Error(1)
}

func (m *MockIndicators) AddAction(ctx context.Context, id string, action core.Action) *service.MutationResult {
	return m.Called(ctx, id, action).Get(0).(*service.MutationResult)
}

func (m *MockIndicators) UpdateAction(ctx context.Context, id string, action core.Action) *service.MutationResult {
	return m.Called(ctx, id, action).Get(0).(*service.MutationResult)
}

func (m *MockIndicators) RemoveAction(ctx context.Context, id string, date time.Time, analyst string) *service.MutationResult {
	return m.Called(ctx, id, date, analyst).Get(0).(*service.MutationResult)
}

func (m *MockIndicators) AddActivity(ctx context.Context, id string, activity core.Activity) *service.MutationResult {
	return m.Called(ctx, id, activity).Get(0).(*service.MutationResult)
}

func (m *MockIndicators) UpdateActivity(ctx context.Context, id string, activity core.Activity) *service.MutationResult {
	return m.Called(ctx, id, activity).Get(0).(*service.MutationResult)
}

func (m *MockIndicators) RemoveActivity(ctx context.Context, id string, date time.Time, analyst string) *service.MutationResult {
	return m.Called(ctx, id, date, analyst).Get(0).(*service.MutationResult)
}

func (m *MockIndicators) UpdateCI(ctx context.Context, id, ciType, value, analyst string) *service.MutationResult {
	return m.Called(ctx, id, ciType, value, analyst).Get(0).(*service.MutationResult)
}

func (m *MockIndicators) SetIndicatorType(ctx context.Context, id, newType, analyst string) *service.MutationResult {
	return m.Called(ctx, id, newType, analyst).Get(0).(*service.MutationResult)
}

func (m *MockIndicators) RemoveIndicator(ctx context.Context, id, username string) *service.MutationResult {
	return m.Called(ctx, id, username).Get(0).(*service.MutationResult)
}

func (m *MockIndicators) AddIndicatorAction(ctx context.Context, name, analyst string) (bool, error) {
	args := m.Called(ctx, name, analyst)
	return args.Bool(0), args.Error(1)
}

func (m *MockIndicators) CreateIndicatorFromObject(ctx context.Context, req service.FromObjectRequest) *service.RelationshipResult {
	return m.Called(ctx, req).Get(0).(*service.RelationshipResult)
}

func (m *MockIndicators) CreateIndicatorAndIP(ctx context.Context, objectType, objectID, address, analyst string) *service.RelationshipResult {
	return m.Called(ctx, objectType, objectID, address, analyst).Get(0).(*service.RelationshipResult)
}

type MockImporter struct {
	mock.Mock
}

func (m *MockImporter) ImportCSV(ctx context.Context, r io.Reader, req service.ImportRequest) *service.ImportResult {
	data, _ := io.ReadAll(r)
	return m.Called(ctx, string(data), req).Get(0).(*service.ImportResult)
}

type MockHealth struct {
	mock.Mock
}

func (m *MockHealth) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 8443
	cfg.API.JSONBodyLimit = 1 << 16
	cfg.API.UploadLimit = 1 << 20
	cfg.API.ImportRate = 0.001
	cfg.API.ImportBurst = 1
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.Issuer = "crits"
	cfg.Import.DefaultMethod = "CSV Upload"
	return cfg
}

type apiFixture struct {
	api        *API
	indicators *MockIndicators
	importer   *MockImporter
	health     *MockHealth
	cfg        *config.Config
}

func newAPIFixture(t *testing.T, mutate ...func(*config.Config)) *apiFixture {
	t.Helper()
	cfg := newTestConfig()
	for _, m := range mutate {
		m(cfg)
	}
	f := &apiFixture{
		indicators: &MockIndicators{},
		importer:   &MockImporter{},
		health:     &MockHealth{},
		cfg:        cfg,
	}
	f.api = NewAPI(f.indicators, f.importer, f.health, cfg, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = f.api.Stop(context.Background()) })
	return f
}

func (f *apiFixture) token(t *testing.T, username string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, "crits", username, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok
}
