// Package validation provides input validation helpers and middleware for the CareHub API.
package validation

import (
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/respond"
)

// MaxRequestSize is the maximum JSON request body size (1MB). Upload routes
// install their own, larger limit.
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for free-text fields.
const MaxStringLength = 10000

// MaxNameLength bounds organization and user display names.
const MaxNameLength = 200

var (
	// prefixed IDs: org_0190..., usr_..., 32 hex chars after the prefix
	idRegex   = regexp.MustCompile(`^[a-z]{3}_[a-f0-9]{32}$`)
	slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:[_-][a-z0-9]+)*$`)
)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks a prefixed identifier, e.g. IsValidID("org_...", "org_").
func IsValidID(id, prefix string) bool {
	return strings.HasPrefix(id, prefix) && idRegex.MatchString(id)
}

// IsValidEmail checks a bare address (no display name).
func IsValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// IsValidKey checks lower-case keys like feature flags ("ai_scribe").
func IsValidKey(s string) bool {
	return len(s) <= 64 && slugRegex.MatchString(s)
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SanitizeString removes null bytes, trims whitespace, and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Err converts the collection to an apperr BAD_REQUEST, or nil when empty.
func (e ValidationErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return apperr.BadRequest(e.Error())
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Email checks an optional email field.
func Email(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidEmail(value) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// ID checks an optional prefixed identifier.
func ID(field, value, prefix string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidID(value, prefix) {
			return &ValidationError{Field: field, Message: "must be a valid " + strings.TrimSuffix(prefix, "_") + " id"}
		}
		return nil
	}
}

// Key checks an optional lower-case key such as a feature flag name.
func Key(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidKey(value) {
			return &ValidationError{Field: field, Message: "must be a lower-case key"}
		}
		return nil
	}
}

// IDParamMiddleware rejects malformed :param identifiers before they reach
// a store lookup.
func IDParamMiddleware(param, prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param(param); id != "" && !IsValidID(id, prefix) {
			respond.Abort(c, apperr.BadRequest(param+" must be a valid id").WithReason("invalid_id"))
			return
		}
		c.Next()
	}
}
