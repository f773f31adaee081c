// Package vverror defines the error kinds returned by the public synthesis
// surface. Every error crossing that surface is either a *Error carrying one
// of the kinds below or a plain context cancellation.
package vverror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers and binding layers.
type Kind int

const (
	KindUnknown Kind = iota
	KindStyleNotFound
	KindModelNotFound
	KindAlreadyLoadedModel
	KindAlreadyLoadedStyle
	KindInvalidModelData
	KindGPUSupport
	KindInferenceFailed
	KindLinguisticAnalysisFailed
	KindInvalidQuery
	KindSpeakerFeature
)

var kindNames = map[Kind]string{
	KindUnknown:                  "unknown",
	KindStyleNotFound:            "style not found",
	KindModelNotFound:            "model not found",
	KindAlreadyLoadedModel:       "model already loaded",
	KindAlreadyLoadedStyle:       "style already loaded",
	KindInvalidModelData:         "invalid model data",
	KindGPUSupport:               "gpu support error",
	KindInferenceFailed:          "inference failed",
	KindLinguisticAnalysisFailed: "linguistic analysis failed",
	KindInvalidQuery:             "invalid query",
	KindSpeakerFeature:           "speaker feature error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. Op names the operation or entity involved
// (an inference operation, a style id, a model id) and may be empty.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. Sentinels such as
// ErrStyleNotFound therefore match any error of their kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Detail == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrStyleNotFound            = &Error{Kind: KindStyleNotFound}
	ErrModelNotFound            = &Error{Kind: KindModelNotFound}
	ErrAlreadyLoadedModel       = &Error{Kind: KindAlreadyLoadedModel}
	ErrAlreadyLoadedStyle       = &Error{Kind: KindAlreadyLoadedStyle}
	ErrInvalidModelData         = &Error{Kind: KindInvalidModelData}
	ErrGPUSupport               = &Error{Kind: KindGPUSupport}
	ErrInferenceFailed          = &Error{Kind: KindInferenceFailed}
	ErrLinguisticAnalysisFailed = &Error{Kind: KindLinguisticAnalysisFailed}
	ErrInvalidQuery             = &Error{Kind: KindInvalidQuery}
	ErrSpeakerFeature           = &Error{Kind: KindSpeakerFeature}
)

// New builds a classified error with a formatted detail message.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
