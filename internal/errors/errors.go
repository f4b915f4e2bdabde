// Package errors defines the error taxonomy shared by the license toolkit.
//
// The sentinels here are the contract between the license core and its
// callers: the operator CLI maps them to distinct exit codes, the licensed
// web surface maps them to structured JSON responses. Code that produces
// one of these conditions wraps the sentinel with %w so callers can branch
// with errors.Is regardless of how much context was layered on top.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel errors for key management and artifact handling.
var (
	// ErrKeyNotFound indicates the key store has never been initialized.
	ErrKeyNotFound = stderrors.New("signing key not found")

	// ErrAlreadyInitialized indicates a key pair already exists and the
	// caller did not force regeneration. The existing pair is untouched.
	ErrAlreadyInitialized = stderrors.New("key pair already initialized")

	// ErrMalformedArtifact indicates a license artifact could not be
	// decoded: bad base64, bad JSON, missing fields, unparseable
	// timestamps, or unknown enum values.
	ErrMalformedArtifact = stderrors.New("malformed license artifact")

	// ErrInvalidArgument indicates issuance or verification parameters
	// failed validation before any work was attempted.
	ErrInvalidArgument = stderrors.New("invalid argument")

	// ErrIO indicates an infrastructure failure (unreadable key file,
	// unwritable output path, disk full). Never retried automatically.
	ErrIO = stderrors.New("i/o error")
)

// Exit codes returned by the operator CLI. Zero is success; each error
// class gets a distinct non-zero code so shell callers can branch.
const (
	ExitOK                 = 0
	ExitFailure            = 1
	ExitInvalidArgument    = 2
	ExitKeyNotFound        = 3
	ExitAlreadyInitialized = 4
	ExitLicenseInvalid     = 5
)

// ExitCode maps an error to the CLI exit code for its class.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case stderrors.Is(err, ErrInvalidArgument):
		return ExitInvalidArgument
	case stderrors.Is(err, ErrKeyNotFound):
		return ExitKeyNotFound
	case stderrors.Is(err, ErrAlreadyInitialized):
		return ExitAlreadyInitialized
	default:
		return ExitFailure
	}
}

// KeyNotFound wraps ErrKeyNotFound with the path that was probed.
func KeyNotFound(path string) error {
	return fmt.Errorf("%w: %s (run 'license-admin init' first)", ErrKeyNotFound, path)
}

// AlreadyInitialized wraps ErrAlreadyInitialized with the offending path.
func AlreadyInitialized(path string) error {
	return fmt.Errorf("%w: %s (use --force to regenerate, invalidating every issued license)", ErrAlreadyInitialized, path)
}

// Malformed wraps ErrMalformedArtifact with a parse-stage description.
func Malformed(stage string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMalformedArtifact, stage)
	}
	return fmt.Errorf("%w: %s: %v", ErrMalformedArtifact, stage, err)
}

// InvalidArgument wraps ErrInvalidArgument with the field and reason.
func InvalidArgument(field, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidArgument, field, reason)
}

// IO wraps ErrIO with the failed operation and underlying cause.
func IO(operation string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIO, operation, err)
}
