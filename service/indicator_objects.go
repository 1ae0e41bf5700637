package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crits/core"
	"crits/storage"
)

// IndicatorDetails is the detail view of one indicator
type IndicatorDetails struct {
	Success           bool                 `json:"success"`
	Message           string               `json:"message,omitempty"`
	Indicator         *core.Indicator      `json:"indicator,omitempty"`
	RelatedIndicators []*core.IndicatorRef `json:"related_indicators,omitempty"`
}

// GetIndicatorDetails loads an indicator the analyst may see, resolves the
// identities of related indicators and clears the analyst's pending
// notifications for it.
func (s *IndicatorService) GetIndicatorDetails(ctx context.Context, id, analyst string) *IndicatorDetails {
	ind, err := s.findVisible(ctx, id, analyst)
	if err != nil {
		return &IndicatorDetails{Success: false, Message: msgDetailsNotVisible}
	}

	var relatedIDs []string
	for _, rel := range ind.Relationships {
		if rel.ObjectType == core.ObjectTypeIndicator {
			relatedIDs = append(relatedIDs, rel.ObjectID)
		}
	}
	related, err := s.indicators.FindRefs(ctx, relatedIDs)
	if err != nil {
		s.logger.Warnw("Failed to resolve related indicators", "id", id, "error", err)
	}

	if s.notifications != nil {
		if err := s.notifications.ClearNotification(ctx, core.ObjectTypeIndicator, ind.ID, analyst); err != nil {
			s.logger.Warnw("Failed to clear notifications", "id", id, "user", analyst, "error", err)
		}
	}

	return &IndicatorDetails{Success: true, Indicator: ind, RelatedIndicators: related}
}

// CISearch filters indicators by type, ratings and action types.
// Confidence, Impact and Actions are comma-separated lists.
type CISearch struct {
	Type       string
	Confidence string
	Impact     string
	Actions    string
	Analyst    string
}

// SearchByCI returns the indicators matching every given filter. When Analyst
// is set, results are limited to that analyst's sources.
func (s *IndicatorService) SearchByCI(ctx context.Context, q CISearch) ([]*core.Indicator, error) {
	filter := storage.IndicatorFilter{
		Type:        strings.TrimSpace(q.Type),
		Confidence:  core.SplitList(strings.ReplaceAll(q.Confidence, " ", "")),
		Impact:      core.SplitList(strings.ReplaceAll(q.Impact, " ", "")),
		ActionTypes: core.SplitList(q.Actions),
	}
	if q.Analyst != "" {
		sources, err := s.authorizer.VisibleSources(ctx, q.Analyst)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sources for %s: %w", q.Analyst, err)
		}
		if len(sources) == 0 {
			return []*core.Indicator{}, nil
		}
		filter.Sources = sources
	}
	return s.indicators.Search(ctx, filter)
}

// RelationshipResult reports the outcome of an operation that relates an
// indicator to another object.
type RelationshipResult struct {
	Success       bool                `json:"success"`
	Message       string              `json:"message,omitempty"`
	IndicatorID   string              `json:"indicator_id,omitempty"`
	Relationships []core.Relationship `json:"relationships,omitempty"`
}

func relationshipFailure(msg string) *RelationshipResult {
	return &RelationshipResult{Success: false, Message: msg}
}

// FromObjectRequest is the input to CreateIndicatorFromObject
type FromObjectRequest struct {
	IndicatorType string
	ObjectType    string
	ObjectID      string
	Value         string
	Analyst       string
}

// CreateIndicatorFromObject promotes a value seen on another object into an
// indicator. The indicator inherits the object's sources, bucket list and
// first campaign, cascades to Domain/IP, and is related to the object and to
// every Event the object is related to.
func (s *IndicatorService) CreateIndicatorFromObject(ctx context.Context, req FromObjectRequest) *RelationshipResult {
	if s.objects == nil {
		return relationshipFailure(msgObjectNotFound)
	}
	obj, err := s.objects.Get(ctx, req.ObjectType, req.ObjectID)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Warnw("Object lookup failed", "type", req.ObjectType, "id", req.ObjectID, "error", err)
		}
		return relationshipFailure(msgObjectNotFound)
	}

	add := AddIndicatorRequest{
		Type:       req.IndicatorType,
		Value:      req.Value,
		Source:     core.SourceList(obj.Sources),
		Analyst:    req.Analyst,
		BucketList: strings.Join(obj.BucketList, ","),
		Cascade:    CascadeCreate,
	}
	if len(obj.Campaigns) > 0 {
		add.Campaign = obj.Campaigns[0].Name
		add.CampaignConfidence = string(obj.Campaigns[0].Confidence)
	}

	res := s.AddIndicator(ctx, add)
	if !res.Success {
		return relationshipFailure(res.Message)
	}
	ind := res.Indicator
	now := s.now()

	if core.Relate(obj, ind, core.RelTypeRelatedTo, req.Analyst, now) {
		if err := s.objects.SaveRelationships(ctx, obj); err != nil {
			return relationshipFailure(err.Error())
		}
	}

	for _, rel := range obj.Relationships {
		if rel.ObjectType != core.ObjectTypeEvent {
			continue
		}
		event, err := s.objects.Get(ctx, core.ObjectTypeEvent, rel.ObjectID)
		if err != nil {
			s.logger.Warnw("Skipping unreadable related event", "event_id", rel.ObjectID, "error", err)
			continue
		}
		if core.Relate(ind, event, core.RelTypeRelatedTo, req.Analyst, now) {
			if err := s.objects.SaveRelationships(ctx, event); err != nil {
				core.Unrelate(ind, event, core.RelTypeRelatedTo)
				s.logger.Warnw("Failed to relate event", "event_id", event.ID, "error", err)
			}
		}
	}

	if err := s.indicators.Save(ctx, ind); err != nil {
		return relationshipFailure(err.Error())
	}
	return &RelationshipResult{Success: true, IndicatorID: ind.ID, Relationships: obj.Relationships}
}

// CreateIndicatorAndIP finds or creates an IP object and the matching address
// indicator, both attributed to the object's sources, and relates all three.
func (s *IndicatorService) CreateIndicatorAndIP(ctx context.Context, objectType, objectID, address, analyst string) *RelationshipResult {
	notFound := fmt.Sprintf("Could not find %s to add relationships", objectType)
	if s.objects == nil {
		return relationshipFailure(notFound)
	}
	obj, err := s.objects.Get(ctx, objectType, objectID)
	if err != nil {
		return relationshipFailure(notFound)
	}

	address = strings.ToLower(strings.TrimSpace(address))
	if !core.IsIP(address) {
		return relationshipFailure(fmt.Sprintf("%v: %q", ErrInvalidIP, address))
	}
	indType := core.IndicatorTypeIPv4
	if !core.IsIPv4(address) {
		indType = core.IndicatorTypeIPv6
	}
	now := s.now()

	ip, err := s.ips.FindByAddress(ctx, address)
	switch {
	case errors.Is(err, storage.ErrIPNotFound):
		ip = core.NewIP(address, indType, now)
	case err != nil:
		return relationshipFailure(err.Error())
	}
	for _, src := range obj.Sources {
		ip.AddSource(src)
	}

	ind, err := s.indicators.FindByTypeValue(ctx, indType, address)
	switch {
	case errors.Is(err, storage.ErrIndicatorNotFound):
		ind = core.NewIndicator(indType, address, analyst, now)
	case err != nil:
		return relationshipFailure(err.Error())
	}
	for _, src := range obj.Sources {
		ind.AddSource(src)
	}

	core.Relate(ip, obj, core.RelTypeRelatedTo, analyst, now)
	core.Relate(ind, obj, core.RelTypeRelatedTo, analyst, now)
	core.Relate(ind, ip, core.RelTypeRelatedTo, analyst, now)

	if err := s.objects.SaveRelationships(ctx, obj); err != nil {
		return relationshipFailure(err.Error())
	}
	if err := s.ips.Save(ctx, ip); err != nil {
		return relationshipFailure(err.Error())
	}
	if err := s.indicators.Save(ctx, ind); err != nil {
		return relationshipFailure(err.Error())
	}

	s.logger.Infow("Related IP and indicator to object",
		"object_type", objectType,
		"object_id", objectID,
		"ip", address,
		"indicator_id", ind.ID)
	return &RelationshipResult{Success: true, IndicatorID: ind.ID, Relationships: obj.Relationships}
}
