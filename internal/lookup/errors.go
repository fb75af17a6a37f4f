package lookup

import (
	"errors"
	"fmt"
)

// Reason identifies why a lookup failed.
type Reason string

const (
	ReasonUnknownName        Reason = "unknown_name"
	ReasonCatalogUnavailable Reason = "catalog_unavailable"
	ReasonUpstreamError      Reason = "upstream_error"
)

// Error is returned for every primary-path failure.
type Error struct {
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Detail is the upstream error text, if any.
func (e *Error) Detail() string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Error()
}

// ReasonOf extracts the failure reason from err; it is empty for foreign errors.
func ReasonOf(err error) Reason {
	var lookupErr *Error
	if errors.As(err, &lookupErr) {
		return lookupErr.Reason
	}
	return ""
}
