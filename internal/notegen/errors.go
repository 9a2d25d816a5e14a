package notegen

import "errors"

var (
	ErrEmptyTranscript = errors.New("transcript is empty")
	ErrUnknownFormat   = errors.New("unknown note format")

	// ErrGenerationFailed matches any *Error with errors.Is.
	ErrGenerationFailed = &Error{}
)

// Error is a failed provider call or an empty reply.
type Error struct {
	ProviderMessage string
	Err             error
}

func (e *Error) Error() string {
	if e.ProviderMessage == "" {
		return "note generation failed"
	}
	return "note generation failed: " + e.ProviderMessage
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok
}
