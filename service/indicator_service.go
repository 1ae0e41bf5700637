package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crits/core"
	"crits/metrics"
	"crits/storage"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// ============================================================================
// Collaborator interfaces
// ============================================================================

// IndicatorStorage defines the indicator persistence operations the handlers need.
// Defined here (consumer package) so tests can substitute a mock.
type IndicatorStorage interface {
	FindByTypeValue(ctx context.Context, indType, value string) (*core.Indicator, error)
	FindByID(ctx context.Context, id string, sources []string) (*core.Indicator, error)
	Get(ctx context.Context, id string) (*core.Indicator, error)
	Save(ctx context.Context, ind *core.Indicator) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, filter storage.IndicatorFilter) ([]*core.Indicator, error)
	FindRefs(ctx context.Context, ids []string) ([]*core.IndicatorRef, error)
}

// SourceAuthorizer answers which sources a user may see and whether they administer the system
type SourceAuthorizer interface {
	VisibleSources(ctx context.Context, username string) ([]string, error)
	IsAdmin(ctx context.Context, username string) (bool, error)
}

// DomainStorage looks up and persists Domain objects
type DomainStorage interface {
	FindByName(ctx context.Context, fqdn string) (*core.Domain, error)
	Save(ctx context.Context, d *core.Domain) error
}

// IPStorage looks up and persists IP objects
type IPStorage interface {
	FindByAddress(ctx context.Context, address string) (*core.IP, error)
	Save(ctx context.Context, ip *core.IP) error
}

// DomainUpserter creates or updates the Domain object behind a hostname
type DomainUpserter interface {
	UpsertDomain(ctx context.Context, req DomainUpsertRequest) (*core.Domain, error)
}

// IPUpserter creates or updates the IP object behind an address
type IPUpserter interface {
	UpsertIP(ctx context.Context, req IPUpsertRequest) (*core.IP, error)
}

// HostParser splits a hostname into registered domain and FQDN.
// Hosts without a public suffix return core.ErrNoTLD.
type HostParser interface {
	Parse(host string) (root, fqdn string, err error)
}

// AnalysisTrigger schedules automated triage of a newly created object.
// Implementations must not block the caller.
type AnalysisTrigger interface {
	Trigger(ctx context.Context, objectType, objectID, analyst string)
}

// NotificationClearer manages per-user notifications and subscriptions
type NotificationClearer interface {
	ClearNotification(ctx context.Context, objectType, objectID, username string) error
	RemoveObject(ctx context.Context, objectType, objectID string) error
}

// RegistryStorage reads the lookup tables used to validate imported fields
type RegistryStorage interface {
	ActiveCampaigns(ctx context.Context) ([]core.CampaignRecord, error)
	ActiveIndicatorActions(ctx context.Context) ([]core.IndicatorActionRecord, error)
	IndicatorObjectTypes(ctx context.Context) ([]core.ObjectTypeRecord, error)
	AddIndicatorAction(ctx context.Context, rec core.IndicatorActionRecord) error
}

// ObjectStorage loads other top-level objects and persists their relationship lists
type ObjectStorage interface {
	Get(ctx context.Context, objectType, id string) (*core.Object, error)
	SaveRelationships(ctx context.Context, obj *core.Object) error
	RemoveRelationshipsTo(ctx context.Context, target core.Relatable, related []core.Relationship) error
}

// ============================================================================
// Requests and results
// ============================================================================

// IndicatorFields carries the mergeable attributes of an upsert.
// An empty rating means the caller supplied none.
type IndicatorFields struct {
	Type       string
	Value      string
	Campaigns  []core.CampaignAttribution
	Confidence core.Rating
	Impact     core.Rating
	BucketList string
	Ticket     string
}

// UpsertRequest is the input to IndicatorService.Upsert
type UpsertRequest struct {
	Fields    IndicatorFields
	Source    core.SourceInput
	Reference string
	Method    string
	Analyst   string
	Cascade   CascadeMode
}

// UpsertResult reports the outcome of an upsert. Failures carry Message and
// never an error value.
type UpsertResult struct {
	Success   bool            `json:"success"`
	ObjectID  string          `json:"objectid,omitempty"`
	IsNew     bool            `json:"is_new_indicator"`
	Indicator *core.Indicator `json:"object,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func upsertFailure(msg string) *UpsertResult {
	return &UpsertResult{Success: false, Message: msg}
}

// AddIndicatorRequest is the loosely typed single-indicator input, typically
// straight from a form or API body.
type AddIndicatorRequest struct {
	Type               string
	Value              string
	Source             core.SourceInput
	Reference          string
	Method             string
	Analyst            string
	Campaign           string
	CampaignConfidence string
	Confidence         string
	Impact             string
	BucketList         string
	Ticket             string
	Cascade            CascadeMode
}

// ============================================================================
// IndicatorService
// ============================================================================

// IndicatorServiceDeps groups the collaborators of IndicatorService.
// Indicators, Authorizer, Domains, IPs and HostParser are required.
type IndicatorServiceDeps struct {
	Indicators     IndicatorStorage
	Authorizer     SourceAuthorizer
	Domains        DomainStorage
	IPs            IPStorage
	HostParser     HostParser
	DomainUpserter DomainUpserter
	IPUpserter     IPUpserter
	Objects        ObjectStorage
	Registries     RegistryStorage
	Trigger        AnalysisTrigger
	Notifications  NotificationClearer
	Tracer         trace.Tracer
}

// IndicatorService implements the indicator handler operations: upsert with
// Domain/IP cascading, the single-indicator entry point and the mutators.
type IndicatorService struct {
	indicators     IndicatorStorage
	authorizer     SourceAuthorizer
	domains        DomainStorage
	ips            IPStorage
	hostParser     HostParser
	domainUpserter DomainUpserter
	ipUpserter     IPUpserter
	objects        ObjectStorage
	registries     RegistryStorage
	trigger        AnalysisTrigger
	notifications  NotificationClearer
	tracer         trace.Tracer
	logger         *zap.SugaredLogger
	now            func() time.Time
}

// NewIndicatorService wires an IndicatorService.
//
// PARAMETERS:
//   - deps.Indicators, deps.Authorizer, deps.Domains, deps.IPs, deps.HostParser: required, panics if nil
//   - deps.DomainUpserter / deps.IPUpserter: default to DomainService / IPService over the given storages
//   - deps.Objects, deps.Registries, deps.Trigger, deps.Notifications: optional; operations needing them fail cleanly
//   - deps.Tracer: defaults to a noop tracer
//   - logger: required, panics if nil
func NewIndicatorService(deps IndicatorServiceDeps, logger *zap.SugaredLogger) *IndicatorService {
	if deps.Indicators == nil {
		panic("indicator storage is required")
	}
	if deps.Authorizer == nil {
		panic("source authorizer is required")
	}
	if deps.Domains == nil || deps.IPs == nil {
		panic("domain and IP storage are required")
	}
	if deps.HostParser == nil {
		panic("host parser is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	s := &IndicatorService{
		indicators:     deps.Indicators,
		authorizer:     deps.Authorizer,
		domains:        deps.Domains,
		ips:            deps.IPs,
		hostParser:     deps.HostParser,
		domainUpserter: deps.DomainUpserter,
		ipUpserter:     deps.IPUpserter,
		objects:        deps.Objects,
		registries:     deps.Registries,
		trigger:        deps.Trigger,
		notifications:  deps.Notifications,
		tracer:         deps.Tracer,
		logger:         logger,
		now:            time.Now,
	}
	if s.domainUpserter == nil {
		s.domainUpserter = NewDomainService(deps.Domains, logger)
	}
	if s.ipUpserter == nil {
		s.ipUpserter = NewIPService(deps.IPs, logger)
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("crits/service")
	}
	return s
}

// ============================================================================
// Upsert
// ============================================================================

// upsertAttempt carries state across the duplicate-key retry. Cascade
// targets resolved by the first attempt are reused so collaborator side
// effects happen once.
type upsertAttempt struct {
	targets  *CascadeTargets
	resolved bool
}

// Upsert creates or merges the indicator identified by (type, value).
//
// BUSINESS LOGIC:
// 1. Validate type/value and the URL protocol prefix (no storage access on failure)
// 2. Find the existing record or build a new one
// 3. Merge campaigns, ratings (by rank), bucket list, ticket and sources
// 4. Resolve the Domain/IP cascade; a failure aborts before anything is saved
// 5. Save, retrying once as a merge if a concurrent writer created the record first
// 6. Relate the cascade target on both sides
// 7. For new records, reload and schedule triage
func (s *IndicatorService) Upsert(ctx context.Context, req UpsertRequest) (result *UpsertResult) {
	ctx, span := s.tracer.Start(ctx, "indicator.upsert", trace.WithAttributes(
		attribute.String("indicator.type", strings.TrimSpace(req.Fields.Type)),
		attribute.String("indicator.cascade", req.Cascade.String()),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Panic during indicator upsert",
				"type", req.Fields.Type,
				"value", req.Fields.Value,
				"panic", r)
			result = upsertFailure(fmt.Sprintf("%v", r))
		}
		metrics.IndicatorUpserts.WithLabelValues(metrics.ResultLabel(result.Success)).Inc()
		if result.Success {
			span.SetAttributes(attribute.Bool("indicator.new", result.IsNew))
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, result.Message)
		}
	}()

	indType, value, err := validateFields(req.Fields)
	if err != nil {
		return upsertFailure(err.Error())
	}
	req.Fields.Type, req.Fields.Value = indType, value

	mode := effectiveCascade(ctx, req.Cascade)
	attempt := &upsertAttempt{}

	ind, isNew, err := s.upsertOnce(ctx, req, mode, attempt)
	if isNew && errors.Is(err, storage.ErrDuplicateIndicator) {
		metrics.UpsertConflicts.Inc()
		s.logger.Infow("Indicator created concurrently, merging into existing record",
			"type", indType,
			"value", value)
		ind, isNew, err = s.upsertOnce(ctx, req, mode, attempt)
	}
	if err != nil {
		s.logger.Warnw("Indicator upsert failed",
			"type", indType,
			"value", value,
			"analyst", req.Analyst,
			"error", err)
		return upsertFailure(err.Error())
	}

	if err := s.relateTargets(ctx, ind, attempt.targets, req.Analyst); err != nil {
		return upsertFailure(err.Error())
	}

	if isNew {
		metrics.IndicatorsCreated.Inc()
		if reloaded, err := s.indicators.Get(ctx, ind.ID); err == nil {
			ind = reloaded
		} else {
			s.logger.Warnw("Failed to reload new indicator", "id", ind.ID, "error", err)
		}
		if s.trigger != nil {
			s.trigger.Trigger(ctx, core.ObjectTypeIndicator, ind.ID, req.Analyst)
		}
	}

	return &UpsertResult{Success: true, ObjectID: ind.ID, IsNew: isNew, Indicator: ind}
}

// upsertOnce runs find, merge, cascade and the first save. The returned
// isNew reflects the record as found in this attempt.
func (s *IndicatorService) upsertOnce(ctx context.Context, req UpsertRequest, mode CascadeMode, attempt *upsertAttempt) (*core.Indicator, bool, error) {
	f := req.Fields
	now := s.now()

	ind, err := s.indicators.FindByTypeValue(ctx, f.Type, f.Value)
	isNew := false
	switch {
	case errors.Is(err, storage.ErrIndicatorNotFound):
		ind = core.NewIndicator(f.Type, f.Value, req.Analyst, now)
		isNew = true
	case err != nil:
		return nil, false, fmt.Errorf("failed to look up indicator: %w", err)
	}

	for _, c := range f.Campaigns {
		if c.Date.IsZero() {
			c.Date = now
		}
		if c.Analyst == "" {
			c.Analyst = req.Analyst
		}
		ind.AddCampaign(c)
	}
	ind.MergeConfidence(f.Confidence, req.Analyst)
	ind.MergeImpact(f.Impact, req.Analyst)
	ind.AddBucketList(f.BucketList)
	ind.AddTicket(f.Ticket, req.Analyst, now)

	sources := req.Source.Resolve(req.Reference, req.Method, req.Analyst, now)
	for _, src := range sources {
		ind.AddSource(src)
	}
	ind.Modified = now

	if mode != CascadeNone && !attempt.resolved {
		targets, err := s.resolveCascade(ctx, CascadeRequest{
			Type:       ind.Type,
			Value:      ind.Value,
			Mode:       mode,
			Sources:    copySources(ind.Sources),
			Campaigns:  ind.Campaigns,
			BucketList: f.BucketList,
			Ticket:     f.Ticket,
			Reference:  req.Reference,
			Analyst:    req.Analyst,
		})
		if err != nil {
			return nil, isNew, err
		}
		attempt.targets = targets
		attempt.resolved = true
	}

	if err := s.indicators.Save(ctx, ind); err != nil {
		return nil, isNew, err
	}
	return ind, isNew, nil
}

// relateTargets records the Related_To edge between the indicator and each
// cascade target. The target is saved first; if the indicator cannot be saved
// afterwards the target edge is withdrawn again.
func (s *IndicatorService) relateTargets(ctx context.Context, ind *core.Indicator, targets *CascadeTargets, analyst string) error {
	if targets == nil {
		return nil
	}
	if targets.Domain != nil {
		d := targets.Domain
		if err := s.relateAndSave(ctx, ind, d, analyst, func(ctx context.Context) error {
			return s.domains.Save(ctx, d)
		}); err != nil {
			return err
		}
	}
	if targets.IP != nil {
		ip := targets.IP
		if err := s.relateAndSave(ctx, ind, ip, analyst, func(ctx context.Context) error {
			return s.ips.Save(ctx, ip)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *IndicatorService) relateAndSave(ctx context.Context, ind *core.Indicator, target core.Relatable, analyst string, saveTarget func(context.Context) error) error {
	if !core.Relate(ind, target, core.RelTypeRelatedTo, analyst, s.now()) {
		return nil
	}
	if err := saveTarget(ctx); err != nil {
		core.Unrelate(ind, target, core.RelTypeRelatedTo)
		return fmt.Errorf("failed to save %s relationship: %w", target.RefType(), err)
	}
	if err := s.indicators.Save(ctx, ind); err != nil {
		core.Unrelate(ind, target, core.RelTypeRelatedTo)
		if rbErr := saveTarget(ctx); rbErr != nil {
			s.logger.Errorw("Failed to roll back relationship after indicator save failure",
				"indicator_id", ind.ID,
				"target_type", target.RefType(),
				"target_id", target.RefID(),
				"error", rbErr)
		}
		return fmt.Errorf("failed to save indicator relationship: %w", err)
	}
	return nil
}

// copySources detaches a source list from the record it was read from
func copySources(in []core.Source) []core.Source {
	out := make([]core.Source, len(in))
	for i, src := range in {
		out[i] = core.Source{
			Name:      src.Name,
			Instances: append([]core.SourceInstance(nil), src.Instances...),
		}
	}
	return out
}

// validateFields normalizes type and value and applies the identity checks
func validateFields(f IndicatorFields) (string, string, error) {
	indType := strings.TrimSpace(f.Type)
	value := core.NormalizeValue(f.Value)
	if indType == "" || value == "" {
		return "", "", core.ErrEmptyIdentity
	}
	if indType == core.IndicatorTypeURL {
		if !strings.Contains(strings.SplitN(value, ".", 2)[0], "://") {
			return "", "", ErrURLMissingProtocol
		}
	}
	return indType, value, nil
}

// ============================================================================
// AddIndicator
// ============================================================================

// AddIndicator is the single-indicator entry point. It validates loosely typed
// input, keeps only recognised ratings and campaign confidences, and
// delegates to Upsert.
func (s *IndicatorService) AddIndicator(ctx context.Context, req AddIndicatorRequest) (result *UpsertResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Panic while adding indicator", "panic", r)
			result = upsertFailure(fmt.Sprintf("%v", r))
		}
	}()

	if req.Source.IsEmpty() {
		return upsertFailure(msgMissingSource)
	}
	value := core.NormalizeValue(req.Value)
	if value == "" {
		return upsertFailure(msgEmptyValue)
	}
	indType := strings.TrimSpace(req.Type)
	if indType == "" {
		return upsertFailure(msgEmptyType)
	}

	fields := IndicatorFields{
		Type:       indType,
		Value:      value,
		BucketList: req.BucketList,
		Ticket:     req.Ticket,
	}
	if r, err := core.ParseRating(req.Confidence); err == nil {
		fields.Confidence = r
	}
	if r, err := core.ParseRating(req.Impact); err == nil {
		fields.Impact = r
	}
	if name := strings.TrimSpace(req.Campaign); name != "" {
		conf, _ := core.ParseCampaignConfidence(req.CampaignConfidence)
		fields.Campaigns = []core.CampaignAttribution{
			core.NewCampaignAttribution(name, conf, req.Analyst, s.now()),
		}
	}

	return s.Upsert(ctx, UpsertRequest{
		Fields:    fields,
		Source:    req.Source,
		Reference: req.Reference,
		Method:    req.Method,
		Analyst:   req.Analyst,
		Cascade:   req.Cascade,
	})
}
