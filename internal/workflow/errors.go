package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrValidation indicates caller input validation failure.
	ErrValidation = errors.New("workflow validation")
	// ErrConflict indicates a unique-key collision on a business record.
	ErrConflict = errors.New("workflow conflict")
	// ErrRetryable indicates a transient failure worth another attempt.
	ErrRetryable = errors.New("workflow retryable")
	// ErrFatal indicates a failure that retries cannot fix.
	ErrFatal = errors.New("workflow fatal")
	// ErrDuplicateRun indicates an upload that already has an active run.
	ErrDuplicateRun = errors.New("workflow duplicate run")
)

// ValidationError tags an error as validation failure.
func ValidationError(msg string) error {
	return errors.Join(ErrValidation, errors.New(strings.TrimSpace(msg)))
}

// ConflictError tags an error as a unique-key conflict.
func ConflictError(msg string) error {
	return errors.Join(ErrConflict, errors.New(strings.TrimSpace(msg)))
}

// RetryableError tags an error as retryable failure.
func RetryableError(msg string) error {
	return errors.Join(ErrRetryable, errors.New(strings.TrimSpace(msg)))
}

// FatalError tags an error as permanently failed.
func FatalError(msg string) error {
	return errors.Join(ErrFatal, errors.New(strings.TrimSpace(msg)))
}

// StageError wraps a stage failure with the stage it came from so the
// engine can book retry budget per stage, not per run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// Retryable classifies an error for the retry manager. Unknown errors are
// treated as retryable: a stage that keeps failing still dead-letters once
// its budget runs out, while a misclassified transient would otherwise
// fail the run on the first blip.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatal) || errors.Is(err, ErrValidation) {
		return false
	}
	if errors.Is(err, ErrRetryable) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return false // unique_violation: resolved by the conflict path, not retries
		case "23503", "23502", "22P02":
			return false
		case "40001", "40P01", "55P03":
			return true // serialization/deadlock/lock_not_available
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return true // connection_exception class
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "temporar"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "status 429"),
		strings.Contains(msg, "status 502"),
		strings.Contains(msg, "status 503"):
		return true
	case strings.Contains(msg, "duplicate key"),
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "unsupported"),
		strings.Contains(msg, "malformed"):
		return false
	}
	return true
}

// IsUniqueViolation reports whether err is a Postgres 23505 on the given
// constraint. An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if strings.TrimSpace(pgErr.Code) != "23505" {
		return false
	}
	if constraint == "" {
		return true
	}
	return pgErr.ConstraintName == constraint
}
