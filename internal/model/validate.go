package model

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateAlbum checks an Album before it is written.
func ValidateAlbum(a *Album) error {
	var ve ValidationError
	if strings.TrimSpace(a.Title) == "" {
		ve.add("title", "is required")
	} else if len([]rune(a.Title)) > 500 {
		ve.add("title", "must be 500 characters or fewer")
	}
	if strings.TrimSpace(a.Artist) == "" {
		ve.add("artist", "is required")
	}
	if a.ExternalMasterID < 0 {
		ve.add("external_master_id", "must not be negative, got %d", a.ExternalMasterID)
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidatePressing checks a Pressing before it is written.
func ValidatePressing(p *Pressing) error {
	var ve ValidationError
	if strings.TrimSpace(p.AlbumID) == "" {
		ve.add("album_id", "is required")
	}
	if p.ExternalReleaseID <= 0 {
		ve.add("external_release_id", "must be positive, got %d", p.ExternalReleaseID)
	}
	if !p.Format.IsValid() {
		ve.add("format", "invalid value %q", p.Format)
	}
	if p.Speed != "" && !p.Speed.IsValid() {
		ve.add("speed", "invalid value %q", p.Speed)
	}
	if p.Size != "" && !p.Size.IsValid() {
		ve.add("size", "invalid value %q", p.Size)
	}
	if p.Year != 0 && (p.Year < 1889 || p.Year > time.Now().Year()+1) {
		ve.add("year", "out of range: %d", p.Year)
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
