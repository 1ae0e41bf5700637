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
)

// MutationResult reports the outcome of an indicator mutation
type MutationResult struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Indicator *core.Indicator `json:"object,omitempty"`
}

func mutationFailure(op, msg string) *MutationResult {
	metrics.Mutations.WithLabelValues(op, metrics.ResultFailure).Inc()
	return &MutationResult{Success: false, Message: msg}
}

func mutationSuccess(op string, ind *core.Indicator) *MutationResult {
	metrics.Mutations.WithLabelValues(op, metrics.ResultSuccess).Inc()
	return &MutationResult{Success: true, Indicator: ind}
}

// CI types accepted by UpdateCI
const (
	CITypeConfidence = "confidence"
	CITypeImpact     = "impact"
)

// findVisible loads an indicator the user is allowed to see. Anything else,
// including records outside the user's sources, reads as not found.
func (s *IndicatorService) findVisible(ctx context.Context, id, username string) (*core.Indicator, error) {
	sources, err := s.authorizer.VisibleSources(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sources for %s: %w", username, err)
	}
	return s.indicators.FindByID(ctx, id, sources)
}

// mutate runs fn against the user's view of the indicator and saves the result.
// Item-level misses are reported with notFound.
func (s *IndicatorService) mutate(ctx context.Context, op, id, username, notFound string, fn func(*core.Indicator) error) *MutationResult {
	ind, err := s.findVisible(ctx, id, username)
	if err != nil {
		if !errors.Is(err, storage.ErrIndicatorNotFound) {
			s.logger.Errorw("Indicator lookup failed", "operation", op, "id", id, "error", err)
		}
		return mutationFailure(op, msgIndicatorNotFound)
	}

	if err := fn(ind); err != nil {
		if errors.Is(err, core.ErrItemNotFound) {
			return mutationFailure(op, notFound)
		}
		return mutationFailure(op, err.Error())
	}

	ind.Modified = s.now()
	if err := s.indicators.Save(ctx, ind); err != nil {
		s.logger.Errorw("Failed to save indicator", "operation", op, "id", id, "error", err)
		return mutationFailure(op, err.Error())
	}
	s.logger.Infow("Indicator updated", "operation", op, "id", id, "analyst", username)
	return mutationSuccess(op, ind)
}

// ============================================================================
// Actions and activity
// ============================================================================

// AddAction appends an action to the indicator. The action's Analyst is the
// acting user; a zero Date is stamped with the current time.
func (s *IndicatorService) AddAction(ctx context.Context, id string, action core.Action) *MutationResult {
	if action.Date.IsZero() {
		action.Date = s.now()
	}
	if action.Active == "" {
		action.Active = core.ActionActive
	}
	return s.mutate(ctx, "action_add", id, action.Analyst, msgActionNotFound, func(ind *core.Indicator) error {
		ind.AddAction(action)
		return nil
	})
}

// UpdateAction replaces the action with the same Date
func (s *IndicatorService) UpdateAction(ctx context.Context, id string, action core.Action) *MutationResult {
	return s.mutate(ctx, "action_update", id, action.Analyst, msgActionNotFound, func(ind *core.Indicator) error {
		return ind.EditAction(action)
	})
}

// RemoveAction deletes the action dated date
func (s *IndicatorService) RemoveAction(ctx context.Context, id string, date time.Time, analyst string) *MutationResult {
	return s.mutate(ctx, "action_remove", id, analyst, msgActionNotFound, func(ind *core.Indicator) error {
		return ind.DeleteAction(date)
	})
}

// AddActivity appends an activity entry
func (s *IndicatorService) AddActivity(ctx context.Context, id string, activity core.Activity) *MutationResult {
	if activity.Date.IsZero() {
		activity.Date = s.now()
	}
	return s.mutate(ctx, "activity_add", id, activity.Analyst, msgActivityNotFound, func(ind *core.Indicator) error {
		ind.AddActivity(activity)
		return nil
	})
}

// UpdateActivity replaces the activity entry with the same Date
func (s *IndicatorService) UpdateActivity(ctx context.Context, id string, activity core.Activity) *MutationResult {
	return s.mutate(ctx, "activity_update", id, activity.Analyst, msgActivityNotFound, func(ind *core.Indicator) error {
		return ind.EditActivity(activity)
	})
}

// RemoveActivity deletes the activity entry dated date
func (s *IndicatorService) RemoveActivity(ctx context.Context, id string, date time.Time, analyst string) *MutationResult {
	return s.mutate(ctx, "activity_remove", id, analyst, msgActivityNotFound, func(ind *core.Indicator) error {
		return ind.DeleteActivity(date)
	})
}

// ============================================================================
// Confidence / impact
// ============================================================================

// UpdateCI overwrites the confidence or impact regardless of rank.
// ciType is checked before the record is looked up.
func (s *IndicatorService) UpdateCI(ctx context.Context, id, ciType, value, analyst string) *MutationResult {
	const op = "ci_update"
	ciType = strings.ToLower(strings.TrimSpace(ciType))
	if ciType != CITypeConfidence && ciType != CITypeImpact {
		return mutationFailure(op, msgInvalidCIType)
	}
	rating, err := core.ParseRating(value)
	if err != nil {
		return mutationFailure(op, err.Error())
	}

	return s.mutate(ctx, op, id, analyst, msgIndicatorNotFound, func(ind *core.Indicator) error {
		if ciType == CITypeConfidence {
			return ind.SetConfidence(rating, analyst)
		}
		return ind.SetImpact(rating, analyst)
	})
}

// ============================================================================
// Type changes and removal
// ============================================================================

// SetIndicatorType changes the type of an indicator unless another record
// already holds the new (type, value) identity.
func (s *IndicatorService) SetIndicatorType(ctx context.Context, id, newType, analyst string) *MutationResult {
	const op = "set_type"
	newType = strings.TrimSpace(newType)
	if newType == "" {
		return mutationFailure(op, msgEmptyType)
	}

	ind, err := s.findVisible(ctx, id, analyst)
	if err != nil {
		return mutationFailure(op, msgIndicatorNotFound)
	}

	existing, err := s.indicators.FindByTypeValue(ctx, newType, ind.Value)
	switch {
	case err == nil && existing.ID != ind.ID:
		return mutationFailure(op, msgDuplicateIndicator)
	case err != nil && !errors.Is(err, storage.ErrIndicatorNotFound):
		return mutationFailure(op, err.Error())
	}

	ind.Type = newType
	ind.Modified = s.now()
	if err := s.indicators.Save(ctx, ind); err != nil {
		if errors.Is(err, storage.ErrDuplicateIndicator) {
			return mutationFailure(op, msgDuplicateIndicator)
		}
		return mutationFailure(op, err.Error())
	}
	return mutationSuccess(op, ind)
}

// RemoveIndicator deletes an indicator. Only administrators may delete, and the
// check happens before any lookup. Admins are still limited to their sources. Relationships held by other objects and
// notification state for the indicator are cleaned up best-effort.
func (s *IndicatorService) RemoveIndicator(ctx context.Context, id, username string) *MutationResult {
	const op = "remove"
	admin, err := s.authorizer.IsAdmin(ctx, username)
	if err != nil {
		s.logger.Errorw("Failed to check admin role", "user", username, "error", err)
	}
	if err != nil || !admin {
		return mutationFailure(op, msgAdminRequired)
	}

	ind, err := s.findVisible(ctx, id, username)
	if err != nil {
		if !errors.Is(err, storage.ErrIndicatorNotFound) {
			s.logger.Errorw("Indicator lookup failed", "operation", op, "id", id, "error", err)
		}
		return mutationFailure(op, msgCannotFindIndicator)
	}

	if err := s.indicators.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrIndicatorNotFound) {
			return mutationFailure(op, msgCannotFindIndicator)
		}
		return mutationFailure(op, err.Error())
	}

	if s.objects != nil && len(ind.Relationships) > 0 {
		if err := s.objects.RemoveRelationshipsTo(ctx, ind, ind.Relationships); err != nil {
			s.logger.Warnw("Failed to detach relationships of deleted indicator", "id", id, "error", err)
		}
	}
	if s.notifications != nil {
		if err := s.notifications.RemoveObject(ctx, core.ObjectTypeIndicator, id); err != nil {
			s.logger.Warnw("Failed to remove subscriptions of deleted indicator", "id", id, "error", err)
		}
	}

	s.logger.Infow("Indicator deleted", "id", id, "type", ind.Type, "value", ind.Value, "analyst", username)
	return mutationSuccess(op, nil)
}

// ============================================================================
// Registry
// ============================================================================

// AddIndicatorAction registers a new action name. It returns false when the
// name is blank or already registered.
func (s *IndicatorService) AddIndicatorAction(ctx context.Context, name, analyst string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	if s.registries == nil {
		return false, errors.New("registry storage not configured")
	}
	err := s.registries.AddIndicatorAction(ctx, core.IndicatorActionRecord{
		Name:    name,
		Active:  core.ActionActive,
		Analyst: analyst,
		Created: s.now(),
	})
	switch {
	case errors.Is(err, storage.ErrRegistryEntryExists):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to add indicator action %s: %w", name, err)
	}
	s.logger.Infow("Indicator action registered", "name", name, "analyst", analyst)
	return true, nil
}
