package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no session matches the id or pin.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotAParticipant is returned when a user acts on a session they never joined.
	ErrNotAParticipant = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidTransition is returned for phase-illegal operations.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrSessionNotActive is returned for answers outside the active window.
	ErrSessionNotActive = errors.New("session not active")
	// ErrQuestionClosed is returned for live answers to a question that is not open.
	ErrQuestionClosed = errors.New("question not accepting answers")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrPinTaken is returned by stores when an open session already holds the pin.
	ErrPinTaken = errors.New("pin already in use")
	// ErrPinExhausted is returned when no free pin was found.
	ErrPinExhausted = errors.New("no free pin available")
)

// Invalid wraps ErrValidation with a description of the offending input.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
