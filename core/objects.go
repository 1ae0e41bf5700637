package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Top-level object type names
const (
	ObjectTypeIndicator = "Indicator"
	ObjectTypeDomain    = "Domain"
	ObjectTypeIP        = "IP"
	ObjectTypeEvent     = "Event"
)

// RelTypeRelatedTo is the relationship type used for cascade and object links
const RelTypeRelatedTo = "Related_To"

// =============================================================================
// Relationships
// =============================================================================

// Relationship is one side of a symmetric edge between two top-level objects
type Relationship struct {
	ObjectType string    `bson:"type" json:"type"`
	ObjectID   string    `bson:"value" json:"value"`
	RelType    string    `bson:"relationship" json:"relationship"`
	Analyst    string    `bson:"analyst" json:"analyst"`
	Date       time.Time `bson:"date" json:"date"`
}

// Relatable is implemented by every top-level object that carries relationships
type Relatable interface {
	RefID() string
	RefType() string
	AddRelationship(rel Relationship) bool
	RemoveRelationship(objectType, objectID, relType string) bool
}

// Relate records an edge on both endpoints. It returns true if either side
// gained a new entry.
func Relate(a, b Relatable, relType, analyst string, date time.Time) bool {
	date = storageTime(date)
	addedA := a.AddRelationship(Relationship{
		ObjectType: b.RefType(),
		ObjectID:   b.RefID(),
		RelType:    relType,
		Analyst:    analyst,
		Date:       date,
	})
	addedB := b.AddRelationship(Relationship{
		ObjectType: a.RefType(),
		ObjectID:   a.RefID(),
		RelType:    relType,
		Analyst:    analyst,
		Date:       date,
	})
	return addedA || addedB
}

// Unrelate removes the edge from both endpoints
func Unrelate(a, b Relatable, relType string) {
	a.RemoveRelationship(b.RefType(), b.RefID(), relType)
	b.RemoveRelationship(a.RefType(), a.RefID(), relType)
}

func addRelationship(list *[]Relationship, rel Relationship) bool {
	for _, existing := range *list {
		if existing.ObjectType == rel.ObjectType && existing.ObjectID == rel.ObjectID && existing.RelType == rel.RelType {
			return false
		}
	}
	*list = append(*list, rel)
	return true
}

func removeRelationship(list *[]Relationship, objectType, objectID, relType string) bool {
	for i, existing := range *list {
		if existing.ObjectType == objectType && existing.ObjectID == objectID && existing.RelType == relType {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// =============================================================================
// Domain, IP and generic objects
// =============================================================================

// Domain is a top-level hostname object
type Domain struct {
	ID            string                `bson:"_id" json:"id"`
	Domain        string                `bson:"domain" json:"domain"`
	RootDomain    string                `bson:"root_domain" json:"root_domain"`
	Created       time.Time             `bson:"created" json:"created"`
	Sources       []Source              `bson:"source" json:"source"`
	Campaigns     []CampaignAttribution `bson:"campaign" json:"campaign"`
	BucketList    []string              `bson:"bucket_list" json:"bucket_list"`
	Relationships []Relationship        `bson:"relationships" json:"relationships"`
}

// NewDomain creates an unsaved domain object
func NewDomain(fqdn, root string, now time.Time) *Domain {
	return &Domain{
		ID:         uuid.New().String(),
		Domain:     strings.ToLower(strings.TrimSpace(fqdn)),
		RootDomain: strings.ToLower(strings.TrimSpace(root)),
		Created:    now,
	}
}

func (d *Domain) RefID() string   { return d.ID }
func (d *Domain) RefType() string { return ObjectTypeDomain }

func (d *Domain) AddRelationship(rel Relationship) bool {
	return addRelationship(&d.Relationships, rel)
}

func (d *Domain) RemoveRelationship(objectType, objectID, relType string) bool {
	return removeRelationship(&d.Relationships, objectType, objectID, relType)
}

// AddSource merges s, skipping instances the domain already records
func (d *Domain) AddSource(s Source) { mergeSourceUnique(&d.Sources, s) }

// AddBucketList adds bucket list tags
func (d *Domain) AddBucketList(tags string) {
	d.BucketList = mergeUnique(d.BucketList, SplitList(tags)...)
}

// IP is a top-level address object
type IP struct {
	ID            string                `bson:"_id" json:"id"`
	Address       string                `bson:"ip" json:"ip"`
	Type          string                `bson:"ip_type" json:"ip_type"`
	Created       time.Time             `bson:"created" json:"created"`
	Sources       []Source              `bson:"source" json:"source"`
	Campaigns     []CampaignAttribution `bson:"campaign" json:"campaign"`
	BucketList    []string              `bson:"bucket_list" json:"bucket_list"`
	Tickets       []Ticket              `bson:"tickets" json:"tickets"`
	Relationships []Relationship        `bson:"relationships" json:"relationships"`
}

// NewIP creates an unsaved IP object
func NewIP(address, ipType string, now time.Time) *IP {
	return &IP{
		ID:      uuid.New().String(),
		Address: strings.ToLower(strings.TrimSpace(address)),
		Type:    ipType,
		Created: now,
	}
}

func (ip *IP) RefID() string   { return ip.ID }
func (ip *IP) RefType() string { return ObjectTypeIP }

func (ip *IP) AddRelationship(rel Relationship) bool {
	return addRelationship(&ip.Relationships, rel)
}

func (ip *IP) RemoveRelationship(objectType, objectID, relType string) bool {
	return removeRelationship(&ip.Relationships, objectType, objectID, relType)
}

// AddSource merges s, skipping instances the IP already records
func (ip *IP) AddSource(s Source) { mergeSourceUnique(&ip.Sources, s) }

// AddCampaign merges a campaign attribution into the IP
func (ip *IP) AddCampaign(c CampaignAttribution) bool { return mergeCampaign(&ip.Campaigns, c) }

// AddBucketList adds bucket list tags
func (ip *IP) AddBucketList(tags string) {
	ip.BucketList = mergeUnique(ip.BucketList, SplitList(tags)...)
}

// AddTicket adds ticket numbers
func (ip *IP) AddTicket(tickets, analyst string, date time.Time) {
	mergeTickets(&ip.Tickets, tickets, analyst, date)
}

// Object is the common view of any other top-level object (Event, Email,
// Sample, ...). Only the fields the indicator layer reads or relates are mapped.
type Object struct {
	ID            string                `bson:"_id" json:"id"`
	ObjectType    string                `bson:"-" json:"type"`
	Sources       []Source              `bson:"source" json:"source"`
	Campaigns     []CampaignAttribution `bson:"campaign" json:"campaign"`
	BucketList    []string              `bson:"bucket_list" json:"bucket_list"`
	Relationships []Relationship        `bson:"relationships" json:"relationships"`
}

func (o *Object) RefID() string   { return o.ID }
func (o *Object) RefType() string { return o.ObjectType }

func (o *Object) AddRelationship(rel Relationship) bool {
	return addRelationship(&o.Relationships, rel)
}

func (o *Object) RemoveRelationship(objectType, objectID, relType string) bool {
	return removeRelationship(&o.Relationships, objectType, objectID, relType)
}

// =============================================================================
// Registries
// =============================================================================

// CampaignRecord is a campaign registry entry
type CampaignRecord struct {
	Name   string `bson:"name" json:"name" yaml:"name"`
	Active string `bson:"active" json:"active" yaml:"active"`
}

// IndicatorActionRecord is a registered action name
type IndicatorActionRecord struct {
	Name    string    `bson:"name" json:"name" yaml:"name"`
	Active  string    `bson:"active" json:"active" yaml:"active"`
	Analyst string    `bson:"analyst,omitempty" json:"analyst,omitempty" yaml:"-"`
	Created time.Time `bson:"created" json:"created" yaml:"-"`
}

// ObjectDatatype flags the value kind of an object type
type ObjectDatatype struct {
	Enum bool `bson:"enum,omitempty" json:"enum,omitempty" yaml:"enum,omitempty"`
	File bool `bson:"file,omitempty" json:"file,omitempty" yaml:"file,omitempty"`
}

// ObjectTypeRecord is an object type registry entry
type ObjectTypeRecord struct {
	ObjectType string         `bson:"object_type" json:"object_type" yaml:"object_type"`
	Name       string         `bson:"name" json:"name" yaml:"name"`
	Datatype   ObjectDatatype `bson:"datatype" json:"datatype" yaml:"datatype"`
	Active     string         `bson:"active" json:"active" yaml:"active"`
}

// IndicatorTypeName returns the indicator type label for this object type
func (o ObjectTypeRecord) IndicatorTypeName() string {
	return JoinTypeName(o.ObjectType, o.Name)
}

// IndicatorEligible reports whether values of this type can become indicators
func (o ObjectTypeRecord) IndicatorEligible() bool {
	return !o.Datatype.Enum && !o.Datatype.File
}

// JoinTypeName composes "<type> - <name>", collapsing to type when both match
func JoinTypeName(objType, name string) string {
	if objType == name {
		return objType
	}
	return objType + " - " + name
}

// =============================================================================
// Merge helpers
// =============================================================================

// SplitList splits a comma-separated list, trimming and dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mergeUnique(dst []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range dst {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, item)
		}
	}
	return dst
}

func mergeTickets(list *[]Ticket, tickets, analyst string, date time.Time) {
	for _, number := range SplitList(tickets) {
		found := false
		for _, t := range *list {
			if t.TicketNumber == number {
				found = true
				break
			}
		}
		if !found {
			*list = append(*list, Ticket{TicketNumber: number, Analyst: analyst, Date: storageTime(date)})
		}
	}
}

func mergeSource(list *[]Source, s Source) {
	if strings.TrimSpace(s.Name) == "" {
		return
	}
	for i := range *list {
		if (*list)[i].Name == s.Name {
			(*list)[i].Instances = append((*list)[i].Instances, s.Instances...)
			return
		}
	}
	*list = append(*list, s)
}

// mergeSourceUnique is mergeSource for objects that receive an indicator's
// whole source list on every cascade; identical instances are kept once.
func mergeSourceUnique(list *[]Source, s Source) {
	if strings.TrimSpace(s.Name) == "" {
		return
	}
	for i := range *list {
		existing := &(*list)[i]
		if existing.Name != s.Name {
			continue
		}
		for _, inst := range s.Instances {
			if !hasInstance(existing.Instances, inst) {
				existing.Instances = append(existing.Instances, inst)
			}
		}
		return
	}
	fresh := Source{Name: s.Name}
	for _, inst := range s.Instances {
		if !hasInstance(fresh.Instances, inst) {
			fresh.Instances = append(fresh.Instances, inst)
		}
	}
	*list = append(*list, fresh)
}

func hasInstance(list []SourceInstance, inst SourceInstance) bool {
	for _, existing := range list {
		if existing.Reference == inst.Reference && existing.Method == inst.Method &&
			existing.Analyst == inst.Analyst && existing.Date.Equal(inst.Date) {
			return true
		}
	}
	return false
}

// mergeCampaign folds an attribution into the list by case-insensitive name.
// An existing attribution keeps its date and gains a higher confidence.
func mergeCampaign(list *[]CampaignAttribution, c CampaignAttribution) bool {
	if c.Name == "" {
		return false
	}
	for i := range *list {
		existing := &(*list)[i]
		if strings.EqualFold(existing.Name, c.Name) {
			if c.Confidence.rank() > existing.Confidence.rank() {
				existing.Confidence = c.Confidence
				existing.Analyst = c.Analyst
			}
			if existing.Description == "" {
				existing.Description = c.Description
			}
			return false
		}
	}
	if !c.Confidence.IsValid() {
		c.Confidence = CampaignConfidenceLow
	}
	*list = append(*list, c)
	return true
}

func sourcesVisibleTo(sources []Source, visible []string) bool {
	for _, s := range sources {
		for _, v := range visible {
			if s.Name == v {
				return true
			}
		}
	}
	return false
}
