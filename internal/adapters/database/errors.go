package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

// PostgreSQL error codes the booking core reacts to
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgExclusionViolation  = "23P01"
	pgLockNotAvailable    = "55P03"
	pgDeadlockDetected    = "40P01"
	pgSerializationFail   = "40001"
)

func pgErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// translateError maps driver failures onto the application error taxonomy.
// A lock that could not be taken (NOWAIT or lock_timeout) and a transaction
// the server aborted to break a deadlock or a serialization conflict both
// become a retryable conflict.
func translateError(err error, message string) error {
	switch pgErrorCode(err) {
	case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFail:
		return apperrors.NewLockUnavailableError(message, err)
	case pgUniqueViolation:
		return fmt.Errorf("%s: %w: %v", message, repositories.ErrDuplicateKey, err)
	}
	return apperrors.NewInternalError(message, err)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
