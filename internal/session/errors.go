package session

import (
	"errors"
	"fmt"
)

// ErrProtocolMisuse is the parent of every ask/answer ordering violation.
var ErrProtocolMisuse = errors.New("session protocol misuse")

var (
	// ErrNoQuestionOutstanding is returned when an answer arrives while nothing is awaited.
	// Front ends ignore it; the answer is dropped.
	ErrNoQuestionOutstanding = fmt.Errorf("%w: no clarification question is outstanding", ErrProtocolMisuse)
	// ErrQuestionOutstanding is returned when a second question is posted before the first is answered.
	ErrQuestionOutstanding = fmt.Errorf("%w: a clarification question is already outstanding", ErrProtocolMisuse)
	// ErrBlankQuestion is returned when a question has no visible text.
	ErrBlankQuestion = fmt.Errorf("%w: clarification question is blank", ErrProtocolMisuse)
)

var (
	// ErrRunActive rejects a second research run while one is executing.
	ErrRunActive = errors.New("a research run is already active")
	// ErrAnswerTimeout is returned by Await when the maximum wait elapses and no default answer is configured.
	ErrAnswerTimeout = errors.New("timed out waiting for an answer")
	// ErrStaleRun is returned to writers bound to a generation that Reset has retired.
	ErrStaleRun = errors.New("session was reset")
)
