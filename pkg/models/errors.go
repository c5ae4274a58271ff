package models

import (
	"context"
	"errors"
)

// Error kinds shared by every component. Wrap them with fmt.Errorf("...: %w")
// and classify with KindOf.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrIntegrity         = errors.New("integrity error")
	ErrUnsupportedMethod = errors.New("unsupported deployment method")
	ErrIO                = errors.New("io error")
	ErrExternalEffect    = errors.New("external effect failed")
)

// ErrorKind is the machine readable classification of an error
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindIntegrity         ErrorKind = "integrity"
	KindUnsupportedMethod ErrorKind = "unsupported_method"
	KindIO                ErrorKind = "io"
	KindExternalEffect    ErrorKind = "external_effect"
	KindCanceled          ErrorKind = "canceled"
	KindInternal          ErrorKind = "internal"
)

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrUnsupportedMethod):
		return KindUnsupportedMethod
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, ErrExternalEffect):
		return KindExternalEffect
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// Warning is a non fatal problem reported alongside a successful result
type Warning struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
