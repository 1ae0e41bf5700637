package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRating_Rank(t *testing.T) {
	tests := []struct {
		rating Rating
		rank   int
	}{
		{"", 0},
		{RatingUnknown, 0},
		{RatingBenign, 1},
		{RatingLow, 2},
		{RatingMedium, 3},
		{RatingHigh, 4},
		{"critical", -1},
	}
	for _, tt := range tests {
		t.Run(string(tt.rating), func(t *testing.T) {
			assert.Equal(t, tt.rank, tt.rating.Rank())
		})
	}
}

func TestRating_Outranks(t *testing.T) {
	assert.True(t, RatingHigh.Outranks(RatingMedium))
	assert.True(t, RatingLow.Outranks(""))
	assert.False(t, RatingLow.Outranks(RatingLow))
	assert.False(t, RatingUnknown.Outranks(RatingBenign))
	assert.False(t, Rating("bogus").Outranks(RatingUnknown))
}

func TestParseRating(t *testing.T) {
	r, err := ParseRating("  HIGH ")
	require.NoError(t, err)
	assert.Equal(t, RatingHigh, r)

	_, err = ParseRating("severe")
	assert.True(t, errors.Is(err, ErrInvalidRating))

	_, err = ParseRating("")
	assert.True(t, errors.Is(err, ErrInvalidRating))
}

func TestParseCampaignConfidence(t *testing.T) {
	c, err := ParseCampaignConfidence("Medium")
	require.NoError(t, err)
	assert.Equal(t, CampaignConfidenceMedium, c)

	_, err = ParseCampaignConfidence("unknown")
	assert.True(t, errors.Is(err, ErrInvalidCampaignConfidence))
}

func TestNewIndicator(t *testing.T) {
	now := time.Now()
	ind := NewIndicator(" URI - Domain Name ", "  Example.COM ", "alice", now)

	assert.NotEmpty(t, ind.ID)
	assert.Equal(t, "URI - Domain Name", ind.Type)
	assert.Equal(t, "example.com", ind.Value)
	assert.Equal(t, now, ind.Created)
	assert.Equal(t, RatingUnknown, ind.Confidence.Rating)
	assert.Equal(t, "alice", ind.Confidence.Analyst)
	assert.Equal(t, "alice", ind.Impact.Analyst)
}

func TestIndicator_MergeRatingsAreMonotonic(t *testing.T) {
	ind := NewIndicator("t", "v", "alice", time.Now())

	for _, r := range []Rating{RatingLow, RatingUnknown, RatingHigh, RatingMedium} {
		ind.MergeConfidence(r, "bob")
		ind.MergeImpact(r, "bob")
	}

	assert.Equal(t, RatingHigh, ind.Confidence.Rating)
	assert.Equal(t, RatingHigh, ind.Impact.Rating)
	assert.Equal(t, "bob", ind.Confidence.Analyst)
}

func TestIndicator_SetConfidenceOverwrites(t *testing.T) {
	ind := NewIndicator("t", "v", "alice", time.Now())
	ind.MergeConfidence(RatingHigh, "alice")

	require.NoError(t, ind.SetConfidence(RatingLow, "bob"))
	assert.Equal(t, RatingLow, ind.Confidence.Rating)

	err := ind.SetImpact("extreme", "bob")
	assert.True(t, errors.Is(err, ErrInvalidRating))
}

func TestIndicator_AddCampaignMergesByName(t *testing.T) {
	ind := NewIndicator("t", "v", "alice", time.Now())
	now := time.Now()

	assert.True(t, ind.AddCampaign(NewCampaignAttribution("APT1", CampaignConfidenceLow, "alice", now)))
	assert.False(t, ind.AddCampaign(NewCampaignAttribution("apt1", CampaignConfidenceHigh, "bob", now)))
	assert.True(t, ind.AddCampaign(NewCampaignAttribution("APT2", "", "bob", now)))

	require.Len(t, ind.Campaigns, 2)
	assert.Equal(t, CampaignConfidenceHigh, ind.Campaigns[0].Confidence)
	assert.Equal(t, "bob", ind.Campaigns[0].Analyst)
	assert.Equal(t, CampaignConfidenceLow, ind.Campaigns[1].Confidence)
}

func TestIndicator_AddSourceAppendsInstances(t *testing.T) {
	ind := NewIndicator("t", "v", "alice", time.Now())
	ind.AddSource(Source{Name: "OSINT", Instances: []SourceInstance{{Reference: "r1"}}})
	ind.AddSource(Source{Name: "OSINT", Instances: []SourceInstance{{Reference: "r2"}}})
	ind.AddSource(Source{Name: "Partner", Instances: []SourceInstance{{Reference: "r3"}}})
	ind.AddSource(Source{Name: "  "})

	require.Len(t, ind.Sources, 2)
	assert.Len(t, ind.Sources[0].Instances, 2)
	assert.Equal(t, []string{"OSINT", "Partner"}, ind.SourceNames())
	assert.True(t, ind.VisibleTo([]string{"Partner"}))
	assert.False(t, ind.VisibleTo([]string{"Internal"}))
}

func TestIndicator_BucketListAndTickets(t *testing.T) {
	ind := NewIndicator("t", "v", "alice", time.Now())
	ind.AddBucketList("phishing, apt ,phishing")
	ind.AddBucketList("apt,,new")
	ind.AddTicket("T-1, T-2", "alice", time.Now())
	ind.AddTicket("T-2", "bob", time.Now())

	assert.Equal(t, []string{"phishing", "apt", "new"}, ind.BucketList)
	require.Len(t, ind.Tickets, 2)
	assert.Equal(t, "T-1", ind.Tickets[0].TicketNumber)
}

func TestIndicator_ActionAddressingByDate(t *testing.T) {
	ind := NewIndicator("t", "v", "alice", time.Now())
	d1 := time.Date(2024, 1, 1, 10, 0, 0, 123456789, time.UTC)
	d2 := d1.Add(time.Hour)
	d3 := d2.Add(time.Hour)

	ind.AddAction(Action{ActionType: "Blocked", Active: ActionActive, Date: d1})
	ind.AddAction(Action{ActionType: "Monitored", Active: ActionActive, Date: d2})
	ind.AddAction(Action{ActionType: "Sinkholed", Active: ActionActive, Date: d3})

	require.NoError(t, ind.DeleteAction(d2))
	require.Len(t, ind.Actions, 2)
	assert.Equal(t, "Blocked", ind.Actions[0].ActionType)
	assert.Equal(t, "Sinkholed", ind.Actions[1].ActionType)

	require.NoError(t, ind.EditAction(Action{ActionType: "Blocked", Active: ActionInactive, Reason: "expired", Date: d1}))
	assert.Equal(t, ActionInactive, ind.Actions[0].Active)
	assert.Equal(t, "expired", ind.Actions[0].Reason)

	err := ind.DeleteAction(d2)
	assert.True(t, errors.Is(err, ErrItemNotFound))
}

func TestIndicator_ActivityAddressingByDate(t *testing.T) {
	ind := NewIndicator("t", "v", "alice", time.Now())
	d1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.Add(time.Minute)

	ind.AddActivity(Activity{Description: "seen in proxy logs", Date: d1})
	ind.AddActivity(Activity{Description: "seen in DNS logs", Date: d2})

	require.NoError(t, ind.EditActivity(Activity{Description: "seen in mail logs", Date: d2}))
	assert.Equal(t, "seen in mail logs", ind.Activity[1].Description)

	require.NoError(t, ind.DeleteActivity(d1))
	require.Len(t, ind.Activity, 1)
	assert.Equal(t, "seen in mail logs", ind.Activity[0].Description)

	assert.ErrorIs(t, ind.EditActivity(Activity{Date: d1}), ErrItemNotFound)
}

func TestIsIPType(t *testing.T) {
	assert.True(t, IsIPType(IndicatorTypeIPv4))
	assert.True(t, IsIPType(IndicatorTypeIPv6))
	assert.True(t, IsIPType(IndicatorTypeCIDR))
	assert.False(t, IsIPType(IndicatorTypeDomainName))
	assert.True(t, IsDomainType(IndicatorTypeURL))
	assert.False(t, IsDomainType("Email - Address"))
}
