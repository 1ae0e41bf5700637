package service

import "errors"

// Service error constants. Their text is surfaced verbatim in result messages.
var (
	// ErrURLMissingProtocol is returned when a URL indicator has no scheme before its first dot
	ErrURLMissingProtocol = errors.New("URI - URL must contain protocol prefix (e.g. http://, https://, ftp://)")

	// ErrCascadeFailed wraps Domain/IP collaborator failures that abort an upsert
	ErrCascadeFailed = errors.New("cascade failed")

	// ErrInvalidDomain is returned by the domain collaborator for unusable hostnames
	ErrInvalidDomain = errors.New("invalid domain")

	// ErrInvalidIP is returned by the IP collaborator for unusable addresses
	ErrInvalidIP = errors.New("invalid IP address")
)

// Result messages shared by the handler operations
const (
	msgIndicatorNotFound   = "Could not find Indicator"
	msgActionNotFound      = "Could not find action"
	msgActivityNotFound    = "Could not find activity"
	msgInvalidCIType       = "Invalid CI type"
	msgAdminRequired       = "Must be an admin to delete"
	msgCannotFindIndicator = "Cannot find Indicator"
	msgMissingSource       = "Missing source information."
	msgEmptyValue          = "Can't create indicator with an empty value field"
	msgEmptyType           = "Can't create indicator with an empty type field"
	msgObjectNotFound      = "Could not find object."
	msgDetailsNotVisible   = "Either this indicator does not exist or you do not have permission to view it."
	msgDuplicateIndicator  = "An indicator with this type and value already exists"
)
