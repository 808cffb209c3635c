package domain

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("invalid request")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrGenerationRejected  = errors.New("generation rejected")
	ErrExternalService     = errors.New("external service failure")
	ErrTimeout             = errors.New("generation timed out")

	// Video job preconditions. All three reject the request before any
	// credit movement.
	ErrProjectBusy  = errors.New("project in progress")
	ErrVideoExists  = errors.New("video already generated")
	ErrImageMissing = errors.New("generated image not found")
)

// RejectionError carries the model-provided rejection reason verbatim so it
// can be recorded on the project unmodified. It unwraps to
// ErrGenerationRejected for classification.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

func (e *RejectionError) Unwrap() error { return ErrGenerationRejected }

// ErrorKind tags an error chain with the stable kind stored on the project
// row next to the free-text message.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnauthorized):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrGenerationRejected):
		return "generation_rejected"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProjectBusy):
		return "project_busy"
	case errors.Is(err, ErrVideoExists):
		return "video_exists"
	case errors.Is(err, ErrImageMissing):
		return "image_missing"
	default:
		return "external"
	}
}
