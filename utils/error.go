package utils

import (
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

var (
	ErrorRecordNotFound = errors.New("record not found")

	// ErrorInvalidArgument marks malformed input detected before any storage mutation.
	ErrorInvalidArgument = errors.New("invalid argument")

	// ErrorConflict marks duplicate unique keys and edits to terminal documents.
	ErrorConflict = errors.New("conflict")

	// ErrorInvalidTransition marks an illegal invoice status transition.
	ErrorInvalidTransition = errors.New("invalid status transition")

	// ErrorTransactionAborted marks storage-level commit failures.
	// Always safe for the caller to retry the whole operation.
	ErrorTransactionAborted = errors.New("transaction aborted")
)

// InsufficientStockError carries the product identity plus the requested and
// available quantities so callers can render a precise message.
type InsufficientStockError struct {
	ProductId int
	Name      string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (requested=%s, available=%s)",
		e.Name, e.Requested.String(), e.Available.String())
}

func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrorInvalidArgument, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrorConflict, fmt.Sprintf(format, args...))
}

// IsDuplicateKeyErr reports whether err is a MySQL 1062 duplicate-key error.
// Unique-index races on upserts surface this; callers treat it as retryable.
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
