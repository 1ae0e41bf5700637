package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"crits/core"
	"crits/storage"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// ============================================================================
// In-memory stores
// ============================================================================

// clone round-trips v through BSON so callers never share state with the store
func clone[T any](v *T) *T {
	raw, err := bson.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := bson.Unmarshal(raw, out); err != nil {
		panic(err)
	}
	return out
}

// memIndicatorStore enforces the (type, value) unique index like the Mongo store
type memIndicatorStore struct {
	mu        sync.Mutex
	byID      map[string]*core.Indicator
	saves     int
	failSave  func(ind *core.Indicator, n int) error
	beforeGet func()
}

func newMemIndicatorStore() *memIndicatorStore {
	return &memIndicatorStore{byID: map[string]*core.Indicator{}}
}

func (m *memIndicatorStore) FindByTypeValue(ctx context.Context, indType, value string) (*core.Indicator, error) {
	if m.beforeGet != nil {
		m.beforeGet()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ind := range m.byID {
		if ind.Type == indType && ind.Value == value {
			return clone(ind), nil
		}
	}
	return nil, storage.ErrIndicatorNotFound
}

func (m *memIndicatorStore) FindByID(ctx context.Context, id string, sources []string) (*core.Indicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ind, ok := m.byID[id]
	if !ok || !ind.VisibleTo(sources) {
		return nil, storage.ErrIndicatorNotFound
	}
	return clone(ind), nil
}

func (m *memIndicatorStore) Get(ctx context.Context, id string) (*core.Indicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ind, ok := m.byID[id]
	if !ok {
		return nil, storage.ErrIndicatorNotFound
	}
	return clone(ind), nil
}

func (m *memIndicatorStore) Save(ctx context.Context, ind *core.Indicator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failSave != nil {
		if err := m.failSave(ind, m.saves); err != nil {
			return err
		}
	}
	for id, existing := range m.byID {
		if id != ind.ID && existing.Type == ind.Type && existing.Value == ind.Value {
			return storage.ErrDuplicateIndicator
		}
	}
	m.byID[ind.ID] = clone(ind)
	return nil
}

func (m *memIndicatorStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return storage.ErrIndicatorNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memIndicatorStore) Search(ctx context.Context, f storage.IndicatorFilter) ([]*core.Indicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Indicator
	for _, ind := range m.byID {
		if f.Type != "" && ind.Type != f.Type {
			continue
		}
		if len(f.Confidence) > 0 && !core.NewValidValues(f.Confidence...).Contains(string(ind.Confidence.Rating)) {
			continue
		}
		if len(f.Impact) > 0 && !core.NewValidValues(f.Impact...).Contains(string(ind.Impact.Rating)) {
			continue
		}
		if len(f.Sources) > 0 && !ind.VisibleTo(f.Sources) {
			continue
		}
		out = append(out, clone(ind))
	}
	return out, nil
}

func (m *memIndicatorStore) FindRefs(ctx context.Context, ids []string) ([]*core.IndicatorRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []*core.IndicatorRef
	for _, id := range ids {
		if ind, ok := m.byID[id]; ok {
			refs = append(refs, ind.Ref())
		}
	}
	return refs, nil
}

func (m *memIndicatorStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *memIndicatorStore) only(t *testing.T) *core.Indicator {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.byID, 1)
	for _, ind := range m.byID {
		return clone(ind)
	}
	return nil
}

type memDomainStore struct {
	mu      sync.Mutex
	byName  map[string]*core.Domain
	saveErr error
}

func newMemDomainStore() *memDomainStore {
	return &memDomainStore{byName: map[string]*core.Domain{}}
}

func (m *memDomainStore) FindByName(ctx context.Context, fqdn string) (*core.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byName[fqdn]
	if !ok {
		return nil, storage.ErrDomainNotFound
	}
	return clone(d), nil
}

func (m *memDomainStore) Save(ctx context.Context, d *core.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.byName[d.Domain] = clone(d)
	return nil
}

func (m *memDomainStore) get(name string) *core.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.byName[name]; ok {
		return clone(d)
	}
	return nil
}

type memIPStore struct {
	mu        sync.Mutex
	byAddress map[string]*core.IP
}

func newMemIPStore() *memIPStore {
	return &memIPStore{byAddress: map[string]*core.IP{}}
}

func (m *memIPStore) FindByAddress(ctx context.Context, address string) (*core.IP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ip, ok := m.byAddress[address]
	if !ok {
		return nil, storage.ErrIPNotFound
	}
	return clone(ip), nil
}

func (m *memIPStore) Save(ctx context.Context, ip *core.IP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byAddress[ip.Address] = clone(ip)
	return nil
}

func (m *memIPStore) get(address string) *core.IP {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ip, ok := m.byAddress[address]; ok {
		return clone(ip)
	}
	return nil
}

// ============================================================================
// Mock Implementations
// ============================================================================

// MockAuthorizer is a mock implementation of SourceAuthorizer
type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) VisibleSources(ctx context.Context, username string) ([]string, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockAuthorizer) IsAdmin(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

// MockTrigger is a mock implementation of AnalysisTrigger
type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) Trigger(ctx context.Context, objectType, objectID, analyst string) {
	m.Called(ctx, objectType, objectID, analyst)
}

// MockDomainUpserter is a mock implementation of DomainUpserter
type MockDomainUpserter struct {
	mock.Mock
}

func (m *MockDomainUpserter) UpsertDomain(ctx context.Context, req DomainUpsertRequest) (*core.Domain, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Domain), args.Error(1)
}

// MockNotifications is a mock implementation of NotificationClearer
type MockNotifications struct {
	mock.Mock
}

func (m *MockNotifications) ClearNotification(ctx context.Context, objectType, objectID, username string) error {
	return m.Called(ctx, objectType, objectID, username).Error(0)
}

func (m *MockNotifications) RemoveObject(ctx context.Context, objectType, objectID string) error {
	return m.Called(ctx, objectType, objectID).Error(0)
}

// MockRegistries is a mock implementation of RegistryStorage
type MockRegistries struct {
	mock.Mock
}

func (m *MockRegistries) ActiveCampaigns(ctx context.Context) ([]core.CampaignRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).([]core.CampaignRecord), args.Error(1)
}

func (m *MockRegistries) ActiveIndicatorActions(ctx context.Context) ([]core.IndicatorActionRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).([]core.IndicatorActionRecord), args.Error(1)
}

func (m *MockRegistries) IndicatorObjectTypes(ctx context.Context) ([]core.ObjectTypeRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).([]core.ObjectTypeRecord), args.Error(1)
}

func (m *MockRegistries) AddIndicatorAction(ctx context.Context, rec core.IndicatorActionRecord) error {
	return m.Called(ctx, rec).Error(0)
}

// MockObjects is a mock implementation of ObjectStorage
type MockObjects struct {
	mock.Mock
}

func (m *MockObjects) Get(ctx context.Context, objectType, id string) (*core.Object, error) {
	args := m.Called(ctx, objectType, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Object), args.Error(1)
}

func (m *MockObjects) SaveRelationships(ctx context.Context, obj *core.Object) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *MockObjects) RemoveRelationshipsTo(ctx context.Context, target core.Relatable, related []core.Relationship) error {
	return m.Called(ctx, target, related).Error(0)
}

// ============================================================================
// Fixture
// ============================================================================

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc           *IndicatorService
	indicators    *memIndicatorStore
	domains       *memDomainStore
	ips           *memIPStore
	auth          *MockAuthorizer
	trigger       *MockTrigger
	objects       *MockObjects
	registries    *MockRegistries
	notifications *MockNotifications
}

type fixtureOption func(*IndicatorServiceDeps)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	parser, err := core.NewDomainParser(0)
	require.NoError(t, err)

	f := &fixture{
		indicators:    newMemIndicatorStore(),
		domains:       newMemDomainStore(),
		ips:           newMemIPStore(),
		auth:          &MockAuthorizer{},
		trigger:       &MockTrigger{},
		objects:       &MockObjects{},
		registries:    &MockRegistries{},
		notifications: &MockNotifications{},
	}
	f.trigger.On("Trigger", mock.Anything, core.ObjectTypeIndicator, mock.Anything, mock.Anything).Return()

	deps := IndicatorServiceDeps{
		Indicators:    f.indicators,
		Authorizer:    f.auth,
		Domains:       f.domains,
		IPs:           f.ips,
		HostParser:    parser,
		Objects:       f.objects,
		Registries:    f.registries,
		Trigger:       f.trigger,
		Notifications: f.notifications,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	f.svc = NewIndicatorService(deps, zap.NewNop().Sugar())
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

// seed stores an indicator attributed to source and returns it
func (f *fixture) seed(t *testing.T, indType, value, source string) *core.Indicator {
	t.Helper()
	ind := core.NewIndicator(indType, value, "seed", fixedNow)
	ind.AddSource(core.Source{Name: source})
	require.NoError(t, f.indicators.Save(context.Background(), ind))
	return ind
}

func domainRequest(value string, mode CascadeMode) UpsertRequest {
	return UpsertRequest{
		Fields:    IndicatorFields{Type: core.IndicatorTypeDomainName, Value: value},
		Source:    core.SourceByName("OSINT"),
		Reference: "ref-1",
		Method:    "manual",
		Analyst:   "alice",
		Cascade:   mode,
	}
}
