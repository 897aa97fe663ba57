// Package models defines callback payload parsing for DistressWatch.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Callback data strings attached to inline keyboard buttons.
const (
	CallbackDistressYes    = "distress_yes"
	CallbackDistressNo     = "distress_no"
	CallbackSeverityPrefix = "severity_"
)

// AnswerKind tags the parsed variant of a callback payload.
type AnswerKind string

const (
	// AnswerDistress is a yes/no answer to the distress check.
	AnswerDistress AnswerKind = "distress"
	// AnswerSeverity is a 1-5 answer to the severity rating.
	AnswerSeverity AnswerKind = "severity"
)

// Answer is the tagged variant produced from raw callback data at the
// messaging boundary. Unrecognized payloads never produce an Answer.
type Answer struct {
	Kind     AnswerKind
	Distress bool // valid when Kind == AnswerDistress
	Severity int  // valid when Kind == AnswerSeverity
}

// Value returns the response value string recorded for this answer.
func (a Answer) Value() string {
	switch a.Kind {
	case AnswerDistress:
		if a.Distress {
			return ResponseYes
		}
		return ResponseNo
	case AnswerSeverity:
		return strconv.Itoa(a.Severity)
	}
	return ""
}

// QuestionType returns the question this answer responds to.
func (a Answer) QuestionType() QuestionType {
	if a.Kind == AnswerSeverity {
		return QuestionSeverityRating
	}
	return QuestionDistressCheck
}

// SeverityCallback builds the callback data string for a severity button.
func SeverityCallback(n int) string {
	return fmt.Sprintf("%s%d", CallbackSeverityPrefix, n)
}

// ParseCallbackData parses raw callback data into a tagged Answer.
// Out-of-range or unknown payloads return ErrUnrecognizedCallback so the
// caller can discard them without touching any state.
func ParseCallbackData(data string) (Answer, error) {
	switch data {
	case CallbackDistressYes:
		return Answer{Kind: AnswerDistress, Distress: true}, nil
	case CallbackDistressNo:
		return Answer{Kind: AnswerDistress, Distress: false}, nil
	}
	if rest, ok := strings.CutPrefix(data, CallbackSeverityPrefix); ok {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return Answer{}, fmt.Errorf("%w: %q", ErrUnrecognizedCallback, data)
		}
		if n < MinSeverity || n > MaxSeverity {
			return Answer{}, fmt.Errorf("%w: %d", ErrSeverityOutOfRange, n)
		}
		return Answer{Kind: AnswerSeverity, Severity: n}, nil
	}
	return Answer{}, fmt.Errorf("%w: %q", ErrUnrecognizedCallback, data)
}
