package forecast

import (
	"errors"
	"fmt"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrForecastNotFound      = errors.New("forecast not found")
	ErrEvidenceNotFound      = errors.New("evidence not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidFeatureState   = errors.New("invalid feature state")
	ErrGenerationSchema      = errors.New("generation schema error")
	ErrGenerationUnavailable = errors.New("generation unavailable")
)

// GenerationError reports a failed generation together with the run that
// produced it. It matches ErrGenerationSchema or ErrGenerationUnavailable via
// errors.Is, depending on Kind.
type GenerationError struct {
	Kind error
	Run  GenerationRun
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%v after %d schema attempt(s), %d transport attempt(s): %v",
		e.Kind, e.Run.SchemaAttempts, e.Run.TransportAttempts, e.Err)
}

func (e *GenerationError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Transient reports whether the caller may reasonably retry the whole operation.
func (e *GenerationError) Transient() bool { return errors.Is(e.Kind, ErrGenerationUnavailable) }

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFeatureState, fmt.Sprintf(format, args...))
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
