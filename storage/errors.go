package storage

import "errors"

// Storage error constants
var (
	// ErrIndicatorNotFound is returned when an indicator is missing or outside the caller's sources
	ErrIndicatorNotFound = errors.New("indicator not found")

	// ErrDuplicateIndicator is returned when a save collides with the (type, value) unique index
	ErrDuplicateIndicator = errors.New("indicator with this type and value already exists")

	// ErrDomainNotFound is returned when a domain is not found
	ErrDomainNotFound = errors.New("domain not found")

	// ErrIPNotFound is returned when an IP is not found
	ErrIPNotFound = errors.New("ip not found")

	// ErrObjectNotFound is returned when a top-level object is not found
	ErrObjectNotFound = errors.New("object not found")

	// ErrUnsupportedObjectType is returned for object types without a collection mapping
	ErrUnsupportedObjectType = errors.New("unsupported object type")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrRegistryEntryExists is returned when a registry name is already taken
	ErrRegistryEntryExists = errors.New("registry entry already exists")

	// Generic storage errors

	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")
)
