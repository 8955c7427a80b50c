// Package classify implements the closed error taxonomy used throughout
// rtcore and the deterministic recovery strategy assigned to each class.
//
// Workers and the coordinator never propagate raw errors across their
// boundary: every error is translated once, at the boundary, into a Class
// plus a wrapped Error. This is the one place in the codebase that is
// allowed to do broad, catch-all error translation (spec's "Exception for
// control flow" redesign guidance).
package classify

import (
	"errors"
	"fmt"
)

// Class is one member of the closed taxonomy. The zero value is not a valid
// class; use Unknown for unclassified errors.
type Class string

const (
	DataInvalidInput     Class = "data.invalid_input"
	DataSchemaMismatch   Class = "data.schema_mismatch"
	DataMissingFeatures  Class = "data.missing_features"
	DataIntegrity        Class = "data.integrity"
	ModelInitialization  Class = "model.initialization"
	ModelDivergence      Class = "model.divergence"
	ModelResourceExhaust Class = "model.resource_exhausted"
	StoragePermission    Class = "storage.permission"
	StorageNotFound      Class = "storage.not_found"
	StorageIO            Class = "storage.io"
	StorageIntegrity     Class = "storage.integrity"
	NetworkConnect       Class = "network.connect"
	NetworkTimeout       Class = "network.timeout"
	NetworkRemoteError   Class = "network.remote_error"
	SystemResource       Class = "system.resource"
	SystemCancelled      Class = "system.cancelled"
	SystemBudgetExceeded Class = "system.budget_exceeded"
	Unknown              Class = "unknown"
)

// Strategy is the recovery action the coordinator takes for a Class.
type Strategy string

const (
	StrategyRetry       Strategy = "retry"
	StrategyResume      Strategy = "resume_from_checkpoint"
	StrategyAbortBatch  Strategy = "abort_batch"
	StrategyAbortRun    Strategy = "abort_run"
)

// strategyByClass is the deterministic class-to-strategy mapping from §4.10.
var strategyByClass = map[Class]Strategy{
	DataInvalidInput:     StrategyAbortBatch,
	DataSchemaMismatch:   StrategyAbortBatch,
	DataMissingFeatures:  StrategyAbortBatch,
	DataIntegrity:        StrategyAbortBatch,
	ModelInitialization:  StrategyAbortBatch,
	ModelDivergence:      StrategyResume,
	ModelResourceExhaust: StrategyRetry,
	StoragePermission:    StrategyAbortBatch,
	StorageNotFound:      StrategyAbortBatch,
	StorageIO:            StrategyRetry,
	StorageIntegrity:     StrategyAbortBatch,
	NetworkConnect:       StrategyRetry,
	NetworkTimeout:       StrategyRetry,
	NetworkRemoteError:   StrategyRetry,
	SystemResource:       StrategyRetry,
	SystemCancelled:      StrategyResume,
	SystemBudgetExceeded: StrategyAbortRun,
	Unknown:              StrategyAbortBatch,
}

// StrategyFor returns the recovery strategy for a class. Every Class
// constant has an entry; Unknown maps to the conservative AbortBatch.
func StrategyFor(class Class) Strategy {
	if s, ok := strategyByClass[class]; ok {
		return s
	}
	return StrategyAbortBatch
}

// Error is a classified error: the taxonomy class plus the original cause.
// It is the only error type that crosses a worker or adapter boundary.
type Error struct {
	Class   Class
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(class Class, message string, cause error) *Error {
	return &Error{Class: class, Message: message, Cause: cause}
}

// As extracts a *Error from err via errors.As, returning (nil, false) if err
// does not wrap one.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Signature is a predicate matched against an unclassified error to assign
// it a Class. Signatures are tried in registration order; the first match
// wins. This is the "data-driven mapping from low-level error signatures"
// the spec calls for, kept explicit and inspectable rather than hidden
// behind type switches scattered through the codebase.
type Signature struct {
	Class Class
	Match func(err error) bool
}

// DefaultSignatures is the mapping used by Classify when no caller-specific
// signatures are supplied. Components that raise library-specific errors
// (a storage backend, an HTTP client) prepend their own signatures ahead of
// these via ClassifyWith.
var DefaultSignatures = []Signature{
	{Class: SystemCancelled, Match: func(err error) bool { return errors.Is(err, ErrCancelled) }},
}

// ErrCancelled is returned by cooperative cancellation checks; sentinel so
// callers across packages can errors.Is against it without importing a
// context-specific type.
var ErrCancelled = errors.New("cancelled")

// Classify assigns a Class to an arbitrary error. If err already wraps a
// *Error, its class is returned unchanged (classification is idempotent).
// Otherwise DefaultSignatures are tried in order; a miss yields Unknown.
func Classify(err error) Class {
	return ClassifyWith(err, nil)
}

// ClassifyWith is Classify with caller-supplied signatures tried before
// DefaultSignatures.
func ClassifyWith(err error, signatures []Signature) Class {
	if err == nil {
		return ""
	}
	if ce, ok := As(err); ok {
		return ce.Class
	}
	for _, sig := range signatures {
		if sig.Match(err) {
			return sig.Class
		}
	}
	for _, sig := range DefaultSignatures {
		if sig.Match(err) {
			return sig.Class
		}
	}
	return Unknown
}

// Wrap classifies err (using ClassifyWith if signatures is non-nil) and
// returns a *Error ready to cross a worker or adapter boundary. If err
// already wraps a *Error it is returned unchanged.
func Wrap(err error, message string, signatures []Signature) *Error {
	if err == nil {
		return nil
	}
	if ce, ok := As(err); ok {
		return ce
	}
	return New(ClassifyWith(err, signatures), message, err)
}
