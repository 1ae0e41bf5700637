package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Indicator Types and Constants
// =============================================================================

// Indicator type names that drive Domain/IP cascading. Other types are free-form
// "<object type> - <name>" labels taken from the object type registry.
const (
	IndicatorTypeDomainName = "URI - Domain Name"
	IndicatorTypeURL        = "URI - URL"
	IndicatorTypeIPv4       = "Address - ipv4-addr"
	IndicatorTypeIPv6       = "Address - ipv6-addr"
	IndicatorTypeCIDR       = "Address - cidr"

	ipTypePrefix = "Address - ip"
)

// IsIPType reports whether an indicator type names an address family the IP
// object can represent.
func IsIPType(indType string) bool {
	return strings.HasPrefix(indType, ipTypePrefix) || indType == IndicatorTypeCIDR
}

// IsDomainType reports whether an indicator of this type yields a hostname.
func IsDomainType(indType string) bool {
	return indType == IndicatorTypeDomainName || indType == IndicatorTypeURL
}

// Rating is a confidence or impact label. Ratings form a total order used for
// monotonic merging.
type Rating string

const (
	RatingUnknown Rating = "unknown"
	RatingBenign  Rating = "benign"
	RatingLow     Rating = "low"
	RatingMedium  Rating = "medium"
	RatingHigh    Rating = "high"
)

// AllRatings lists every rating in ascending rank order
var AllRatings = []Rating{RatingUnknown, RatingBenign, RatingLow, RatingMedium, RatingHigh}

// IsValid checks if the rating is one of AllRatings
func (r Rating) IsValid() bool {
	return r.Rank() >= 0 && r != ""
}

// Rank returns the ordinal position of the rating. An unset rating ranks as
// unknown; unrecognised labels return -1.
func (r Rating) Rank() int {
	switch r {
	case "", RatingUnknown:
		return 0
	case RatingBenign:
		return 1
	case RatingLow:
		return 2
	case RatingMedium:
		return 3
	case RatingHigh:
		return 4
	default:
		return -1
	}
}

// Outranks reports whether r is a valid rating strictly above other.
func (r Rating) Outranks(other Rating) bool {
	return r.IsValid() && r.Rank() > other.Rank()
}

// ParseRating converts a free-text label to a Rating
func ParseRating(s string) (Rating, error) {
	r := Rating(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRating, s)
	}
	return r, nil
}

// CampaignConfidence is the analyst's confidence in a campaign attribution
type CampaignConfidence string

const (
	CampaignConfidenceLow    CampaignConfidence = "low"
	CampaignConfidenceMedium CampaignConfidence = "medium"
	CampaignConfidenceHigh   CampaignConfidence = "high"
)

// AllCampaignConfidences lists the valid campaign confidences in ascending order
var AllCampaignConfidences = []CampaignConfidence{
	CampaignConfidenceLow, CampaignConfidenceMedium, CampaignConfidenceHigh,
}

// IsValid checks if the campaign confidence is valid
func (c CampaignConfidence) IsValid() bool {
	return c.rank() > 0
}

func (c CampaignConfidence) rank() int {
	switch c {
	case CampaignConfidenceLow:
		return 1
	case CampaignConfidenceMedium:
		return 2
	case CampaignConfidenceHigh:
		return 3
	default:
		return 0
	}
}

// ParseCampaignConfidence converts a free-text label to a CampaignConfidence
func ParseCampaignConfidence(s string) (CampaignConfidence, error) {
	c := CampaignConfidence(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCampaignConfidence, s)
	}
	return c, nil
}

// Action state values
const (
	ActionActive   = "on"
	ActionInactive = "off"
)

// =============================================================================
// Embedded Documents
// =============================================================================

// EmbeddedRating holds the current confidence or impact of an indicator
type EmbeddedRating struct {
	Rating  Rating `bson:"rating" json:"rating"`
	Analyst string `bson:"analyst" json:"analyst"`
}

// SourceInstance records one acquisition of a piece of data from a source
type SourceInstance struct {
	Reference string    `bson:"reference" json:"reference"`
	Method    string    `bson:"method" json:"method"`
	Analyst   string    `bson:"analyst" json:"analyst"`
	Date      time.Time `bson:"date" json:"date"`
}

// Source attributes data to a reporting origin
type Source struct {
	Name      string           `bson:"name" json:"name"`
	Instances []SourceInstance `bson:"instances" json:"instances"`
}

// CampaignAttribution links a record to a campaign
type CampaignAttribution struct {
	Name        string             `bson:"name" json:"name"`
	Confidence  CampaignConfidence `bson:"confidence" json:"confidence"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Analyst     string             `bson:"analyst" json:"analyst"`
	Date        time.Time          `bson:"date" json:"date"`
}

// NewCampaignAttribution builds an attribution, defaulting an invalid confidence to low
func NewCampaignAttribution(name string, confidence CampaignConfidence, analyst string, date time.Time) CampaignAttribution {
	if !confidence.IsValid() {
		confidence = CampaignConfidenceLow
	}
	return CampaignAttribution{
		Name:       strings.TrimSpace(name),
		Confidence: confidence,
		Analyst:    analyst,
		Date:       date,
	}
}

// Ticket references an external ticketing system entry
type Ticket struct {
	TicketNumber string    `bson:"ticket_number" json:"ticket_number"`
	Analyst      string    `bson:"analyst" json:"analyst"`
	Date         time.Time `bson:"date" json:"date"`
}

// Action is an analyst action taken for an indicator. Date is the list key.
type Action struct {
	ActionType    string     `bson:"action_type" json:"action_type"`
	Active        string     `bson:"active" json:"active"`
	Analyst       string     `bson:"analyst" json:"analyst"`
	BeginDate     *time.Time `bson:"begin_date,omitempty" json:"begin_date,omitempty"`
	EndDate       *time.Time `bson:"end_date,omitempty" json:"end_date,omitempty"`
	PerformedDate *time.Time `bson:"performed_date,omitempty" json:"performed_date,omitempty"`
	Reason        string     `bson:"reason" json:"reason"`
	Date          time.Time  `bson:"date" json:"date"`
}

// Activity is an observed activity entry for an indicator. Date is the list key.
type Activity struct {
	Analyst     string     `bson:"analyst" json:"analyst"`
	StartDate   *time.Time `bson:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate     *time.Time `bson:"end_date,omitempty" json:"end_date,omitempty"`
	Description string     `bson:"description" json:"description"`
	Date        time.Time  `bson:"date" json:"date"`
}

// IndicatorRef is the identity view of a related indicator
type IndicatorRef struct {
	ID       string `bson:"_id" json:"id"`
	IndType  string `bson:"ind_type" json:"ind_type"`
	IndValue string `bson:"ind_value" json:"ind_value"`
}

// =============================================================================
// Indicator
// =============================================================================

// Indicator is an atomic piece of threat data identified by (Type, Value)
type Indicator struct {
	ID            string                `bson:"_id" json:"id"`
	Type          string                `bson:"type" json:"type"`
	Value         string                `bson:"value" json:"value"`
	Created       time.Time             `bson:"created" json:"created"`
	Modified      time.Time             `bson:"modified" json:"modified"`
	Confidence    EmbeddedRating        `bson:"confidence" json:"confidence"`
	Impact        EmbeddedRating        `bson:"impact" json:"impact"`
	Sources       []Source              `bson:"source" json:"source"`
	Campaigns     []CampaignAttribution `bson:"campaign" json:"campaign"`
	Actions       []Action              `bson:"actions" json:"actions"`
	Activity      []Activity            `bson:"activity" json:"activity"`
	BucketList    []string              `bson:"bucket_list" json:"bucket_list"`
	Tickets       []Ticket              `bson:"tickets" json:"tickets"`
	Relationships []Relationship        `bson:"relationships" json:"relationships"`
}

// NewIndicator creates an unsaved indicator with unknown ratings owned by analyst.
// The value is normalized to its canonical lowercase form.
func NewIndicator(indType, value, analyst string, now time.Time) *Indicator {
	return &Indicator{
		ID:         uuid.New().String(),
		Type:       strings.TrimSpace(indType),
		Value:      NormalizeValue(value),
		Created:    now,
		Modified:   now,
		Confidence: EmbeddedRating{Rating: RatingUnknown, Analyst: analyst},
		Impact:     EmbeddedRating{Rating: RatingUnknown, Analyst: analyst},
	}
}

// NormalizeValue returns the canonical comparison form of an indicator value
func NormalizeValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Ref returns the identity view of the indicator
func (ind *Indicator) Ref() *IndicatorRef {
	return &IndicatorRef{ID: ind.ID, IndType: ind.Type, IndValue: ind.Value}
}

// RefID implements Relatable
func (ind *Indicator) RefID() string { return ind.ID }

// RefType implements Relatable
func (ind *Indicator) RefType() string { return ObjectTypeIndicator }

// AddRelationship implements Relatable
func (ind *Indicator) AddRelationship(rel Relationship) bool {
	return addRelationship(&ind.Relationships, rel)
}

// RemoveRelationship implements Relatable
func (ind *Indicator) RemoveRelationship(objectType, objectID, relType string) bool {
	return removeRelationship(&ind.Relationships, objectType, objectID, relType)
}

// VisibleTo reports whether any of the indicator's sources is in the given set
func (ind *Indicator) VisibleTo(sources []string) bool {
	return sourcesVisibleTo(ind.Sources, sources)
}

// SourceNames returns the names of all sources attached to the indicator
func (ind *Indicator) SourceNames() []string {
	names := make([]string, 0, len(ind.Sources))
	for _, s := range ind.Sources {
		names = append(names, s.Name)
	}
	return names
}

// MergeConfidence raises the confidence when the incoming rating outranks the
// current one. Returns true if the stored rating changed.
func (ind *Indicator) MergeConfidence(r Rating, analyst string) bool {
	if !r.Outranks(ind.Confidence.Rating) {
		return false
	}
	ind.Confidence = EmbeddedRating{Rating: r, Analyst: analyst}
	return true
}

// MergeImpact raises the impact when the incoming rating outranks the current one
func (ind *Indicator) MergeImpact(r Rating, analyst string) bool {
	if !r.Outranks(ind.Impact.Rating) {
		return false
	}
	ind.Impact = EmbeddedRating{Rating: r, Analyst: analyst}
	return true
}

// SetConfidence overwrites the confidence regardless of rank
func (ind *Indicator) SetConfidence(r Rating, analyst string) error {
	if !r.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRating, r)
	}
	ind.Confidence = EmbeddedRating{Rating: r, Analyst: analyst}
	return nil
}

// SetImpact overwrites the impact regardless of rank
func (ind *Indicator) SetImpact(r Rating, analyst string) error {
	if !r.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRating, r)
	}
	ind.Impact = EmbeddedRating{Rating: r, Analyst: analyst}
	return nil
}

// AddCampaign merges a campaign attribution into the indicator
func (ind *Indicator) AddCampaign(c CampaignAttribution) bool {
	return mergeCampaign(&ind.Campaigns, c)
}

// AddSource merges a source into the indicator
func (ind *Indicator) AddSource(s Source) {
	mergeSource(&ind.Sources, s)
}

// AddBucketList adds comma-separated bucket list tags, skipping duplicates
func (ind *Indicator) AddBucketList(tags string) {
	ind.BucketList = mergeUnique(ind.BucketList, SplitList(tags)...)
}

// AddTicket adds comma-separated ticket numbers, skipping duplicates
func (ind *Indicator) AddTicket(tickets, analyst string, date time.Time) {
	mergeTickets(&ind.Tickets, tickets, analyst, date)
}

// =============================================================================
// Actions and Activity
// =============================================================================

// AddAction appends an action. The date is truncated to the storage precision
// so later lookups by date match the persisted entry.
func (ind *Indicator) AddAction(a Action) {
	a.Date = storageTime(a.Date)
	ind.Actions = append(ind.Actions, a)
}

// EditAction replaces the action with the same date
func (ind *Indicator) EditAction(a Action) error {
	for i := range ind.Actions {
		if sameInstant(ind.Actions[i].Date, a.Date) {
			a.Date = ind.Actions[i].Date
			ind.Actions[i] = a
			return nil
		}
	}
	return fmt.Errorf("action dated %s: %w", a.Date.Format(time.RFC3339Nano), ErrItemNotFound)
}

// DeleteAction removes the action with the given date
func (ind *Indicator) DeleteAction(date time.Time) error {
	for i := range ind.Actions {
		if sameInstant(ind.Actions[i].Date, date) {
			ind.Actions = append(ind.Actions[:i], ind.Actions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("action dated %s: %w", date.Format(time.RFC3339Nano), ErrItemNotFound)
}

// AddActivity appends an activity entry
func (ind *Indicator) AddActivity(a Activity) {
	a.Date = storageTime(a.Date)
	ind.Activity = append(ind.Activity, a)
}

// EditActivity replaces the activity entry with the same date
func (ind *Indicator) EditActivity(a Activity) error {
	for i := range ind.Activity {
		if sameInstant(ind.Activity[i].Date, a.Date) {
			a.Date = ind.Activity[i].Date
			ind.Activity[i] = a
			return nil
		}
	}
	return fmt.Errorf("activity dated %s: %w", a.Date.Format(time.RFC3339Nano), ErrItemNotFound)
}

// DeleteActivity removes the activity entry with the given date
func (ind *Indicator) DeleteActivity(date time.Time) error {
	for i := range ind.Activity {
		if sameInstant(ind.Activity[i].Date, date) {
			ind.Activity = append(ind.Activity[:i], ind.Activity[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("activity dated %s: %w", date.Format(time.RFC3339Nano), ErrItemNotFound)
}

// storageTime truncates to millisecond precision, which is what BSON dates hold
func storageTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func sameInstant(a, b time.Time) bool {
	return storageTime(a).Equal(storageTime(b))
}
