package core

import "errors"

// Domain error constants
var (
	// ErrInvalidRating is returned when a confidence/impact label is not one of AllRatings
	ErrInvalidRating = errors.New("invalid rating")

	// ErrInvalidCampaignConfidence is returned for campaign confidence labels outside low/medium/high
	ErrInvalidCampaignConfidence = errors.New("invalid campaign confidence")

	// ErrNoTLD is returned by the domain parser when a host has no recognised public suffix
	ErrNoTLD = errors.New("no TLD found")

	// ErrItemNotFound is returned when a dated action or activity entry does not exist
	ErrItemNotFound = errors.New("item not found")

	// ErrEmptyIdentity is returned when an indicator type or value is blank
	ErrEmptyIdentity = errors.New("indicator type and value are required")
)
