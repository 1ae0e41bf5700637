package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	// maxErrorMessageLength bounds error text sent to clients
	maxErrorMessageLength = 500
	defaultJSONBodyLimit  = 1 << 20
)

var (
	validate = newValidator()

	connectionStringPattern = regexp.MustCompile(`(?:mongodb(?:\+srv)?|redis)://[^\s"']+`)
	credentialPattern       = regexp.MustCompile(`(?i)(password|secret|token|key)[:=]\s*["']?[^"'\s]+["']?`)
)

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// sanitizeErrorMessage removes connection strings and credentials before sending text to clients
func sanitizeErrorMessage(message string) string {
	message = connectionStringPattern.ReplaceAllString(message, "[DATABASE_CONNECTION]")
	message = credentialPattern.ReplaceAllString(message, "$1=[REDACTED]")
	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength-3] + "..."
	}
	return message
}

// writeError writes an error response to the client and logs the full error
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Warnw(message, "error", err.Error(), "status_code", statusCode)
		} else {
			logger.Warnw(message, "status_code", statusCode)
		}
	}
	http.Error(w, sanitizeErrorMessage(message), statusCode)
}

// respondJSON writes data as JSON with the given status
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode response", "error", err)
	}
}

// respondResult writes a handler result; failed results are a 400 with the same body
func (a *API) respondResult(w http.ResponseWriter, success bool, result interface{}) {
	status := http.StatusOK
	if !success {
		status = http.StatusBadRequest
	}
	a.respondJSON(w, result, status)
}

// decodeAndValidate decodes a size-limited JSON body and runs struct validation.
// It writes the error response itself and reports whether the handler may continue.
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	limit := a.config.API.JSONBodyLimit
	if limit <= 0 {
		limit = defaultJSONBodyLimit
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var typeError *json.UnmarshalTypeError
		var tooLarge *http.MaxBytesError

		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
		case errors.As(err, &syntaxError):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON syntax at byte offset %d", syntaxError.Offset), err, a.logger)
		case errors.As(err, &typeError):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid type for field '%s'", typeError.Field), err, a.logger)
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("JSON contains %s", strings.TrimPrefix(err.Error(), "json: ")), err, a.logger)
		default:
			writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		}
		return false
	}

	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err), err, a.logger)
		return false
	}
	return true
}

// validationMessage renders validator errors as "field: rule" pairs
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Validation failed"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return "Validation failed: " + strings.Join(parts, ", ")
}
