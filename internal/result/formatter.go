// Package result turns a sandbox outcome plus the collected output into the
// response the caller sees.
//
// RESPONSE SHAPES:
//
//	Succeeded     → success=true,  output = lines | trailing value | NoOutputMessage
//	RuntimeFailed → success=false, error = sanitized message, output = partial lines
//	TimedOut      → success=false, error = timeout message,   output = partial lines
//	InfraFailed   → not a response at all: an apperror.Internal for the handler
//
// Every outcome maps to exactly one shape; nothing is swallowed.
package result

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/sakif/amstig/internal/apperror"
	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/output"
	"github.com/sakif/amstig/internal/sandbox"
)

const (
	// NoOutputMessage is the output of a successful run that printed nothing
	// and had no trailing value.
	NoOutputMessage = "Code executed successfully (no output)"

	// InternalErrorMessage is all a caller learns about an infrastructure failure.
	InternalErrorMessage = "Internal server error during code execution"

	// DefaultMaxErrorLength caps the error message, in runes.
	DefaultMaxErrorLength = 1000

	truncatedSuffix = "... [truncated]"
)

// Rule replaces every match of Pattern with Replacement.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// DefaultRules hide interpreter-internal source locations from error messages.
var DefaultRules = []Rule{
	{regexp.MustCompile(`VM\d+:\d+`), "Line"},
	{regexp.MustCompile(`<evalScript>:\d+(:\d+)?`), "Line"},
	{regexp.MustCompile(`<input>:\d+(:\d+)?`), "Line"},
	{regexp.MustCompile(`<cmdline>:\d+(:\d+)?`), "Line"},
}

// Formatter is stateless after construction and safe for concurrent use.
type Formatter struct {
	deadline     time.Duration
	maxErrLength int
	rules        []Rule
}

// NewFormatter creates a Formatter. deadline is only used to word the timeout
// message.
func NewFormatter(deadline time.Duration, maxErrLength int) *Formatter {
	if maxErrLength <= 0 {
		maxErrLength = DefaultMaxErrorLength
	}
	return &Formatter{
		deadline:     deadline,
		maxErrLength: maxErrLength,
		rules:        DefaultRules,
	}
}

// Format builds the response for outcome. An InfraFailed outcome yields an
// *apperror.AppError wrapping apperror.ErrInternal instead.
func (f *Formatter) Format(outcome sandbox.Outcome, out *output.Collector, elapsed time.Duration) (*model.ExecutionResponse, error) {
	execTime := FormatDuration(elapsed)

	switch outcome.Status {
	case model.StatusSucceeded:
		text := out.String()
		if out.Empty() {
			if outcome.Value != nil {
				text = *outcome.Value
			} else {
				text = NoOutputMessage
			}
		}
		return &model.ExecutionResponse{
			Success:       model.Bool(true),
			Output:        text,
			ExecutionTime: execTime,
		}, nil

	case model.StatusRuntimeFailed:
		return &model.ExecutionResponse{
			Success:       model.Bool(false),
			Output:        out.String(),
			Error:         f.Sanitize(outcome.Message),
			ExecutionTime: execTime,
		}, nil

	case model.StatusTimedOut:
		return &model.ExecutionResponse{
			Success:       model.Bool(false),
			Output:        out.String(),
			Error:         f.TimeoutMessage(),
			ExecutionTime: execTime,
		}, nil

	case model.StatusInfraFailed:
		return nil, apperror.Internal(InternalErrorMessage, outcome.Cause)

	default:
		return nil, apperror.Internal(InternalErrorMessage,
			fmt.Errorf("result: outcome has non-terminal status %q", outcome.Status))
	}
}

// Sanitize applies the rule table once, then truncates.
func (f *Formatter) Sanitize(msg string) string {
	for _, r := range f.rules {
		msg = r.Pattern.ReplaceAllString(msg, r.Replacement)
	}
	if utf8.RuneCountInString(msg) <= f.maxErrLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:f.maxErrLength]) + truncatedSuffix
}

// TimeoutMessage names the configured deadline, e.g. "5s".
func (f *Formatter) TimeoutMessage() string {
	return fmt.Sprintf("Execution timeout: script exceeded the %s limit", f.deadline)
}

// FormatDuration renders d rounded to milliseconds, e.g. "12ms".
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Round(time.Millisecond).Milliseconds())
}
