package tether

import (
	"errors"

	"github.com/xraph/tether/store"
	"github.com/xraph/tether/validate"
)

func isStoreNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

var (
	// ErrTupleNotFound is returned when a relationship tuple cannot be found.
	ErrTupleNotFound = errors.New("tether: tuple not found")

	// ErrHierarchyRuleNotFound is returned when a hierarchy rule cannot be found.
	ErrHierarchyRuleNotFound = errors.New("tether: hierarchy rule not found")

	// ErrCycleDetected is returned when a write would create a membership or
	// containment cycle.
	ErrCycleDetected = errors.New("tether: cycle detected")

	// ErrDepthExceeded is returned when graph expansion exceeds the configured
	// maximum depth.
	ErrDepthExceeded = errors.New("tether: graph depth exceeded")

	// ErrClosureDiverged is returned when the hierarchy closure fails to reach
	// a fixed point within the iteration cap. It indicates corrupt rule data.
	ErrClosureDiverged = errors.New("tether: hierarchy closure did not converge")

	// ErrNoExpiration is returned when extending a tuple that has no
	// expiration set.
	ErrNoExpiration = errors.New("tether: tuple has no expiration")

	// ErrTenantRequired is returned when an operation runs without a bound
	// tenant namespace.
	ErrTenantRequired = errors.New("tether: no tenant bound to context")

	// ErrReservedRelation is returned when an operation is not permitted on
	// the reserved member/parent relations.
	ErrReservedRelation = errors.New("tether: operation not permitted on reserved relation")

	// ErrPartitionNotFound is returned when an audit partition does not exist.
	ErrPartitionNotFound = errors.New("tether: audit partition not found")
)

// Code is a stable, machine-readable error class. Codes survive transport
// boundaries unchanged so that callers can branch on them.
type Code string

const (
	// CodeNullValue reports a required argument that was absent.
	CodeNullValue Code = "null_value_not_allowed"

	// CodeLengthMismatch reports an argument outside its length bounds.
	CodeLengthMismatch Code = "string_data_length_mismatch"

	// CodeRightTruncation reports an argument with leading or trailing
	// whitespace or disallowed control characters.
	CodeRightTruncation Code = "string_data_right_truncation"

	// CodeInvalidParameter reports an argument that fails format validation.
	CodeInvalidParameter Code = "invalid_parameter_value"

	// CodeCheckViolation reports a violated data invariant, such as an
	// expiration that is not in the future or a self-implying hierarchy rule.
	CodeCheckViolation Code = "check_violation"

	// CodeNoDataFound reports a lookup that matched nothing.
	CodeNoDataFound Code = "no_data_found"

	// CodeFeatureNotSupported reports an operation the engine refuses by
	// contract, such as bulk-writing reserved relations.
	CodeFeatureNotSupported Code = "feature_not_supported"
)

// Error is a coded engine error. It wraps an optional sentinel so that both
// errors.Is checks and code-based dispatch work.
type Error struct {
	Code    Code
	Message string
	wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string { return "tether: " + e.Message }

// Unwrap exposes the wrapped sentinel, if any.
func (e *Error) Unwrap() error { return e.wrapped }

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func wrapError(code Code, sentinel error, msg string) *Error {
	return &Error{Code: code, Message: msg, wrapped: sentinel}
}

// CodeOf extracts the stable code from err. Sentinels map to their canonical
// codes; unknown errors report an empty code.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	var ve *validate.Error
	if errors.As(err, &ve) {
		switch ve.Kind {
		case validate.KindNull:
			return CodeNullValue
		case validate.KindLength:
			return CodeLengthMismatch
		case validate.KindTruncation:
			return CodeRightTruncation
		default:
			return CodeInvalidParameter
		}
	}

	switch {
	case errors.Is(err, ErrTupleNotFound),
		errors.Is(err, ErrHierarchyRuleNotFound),
		errors.Is(err, ErrNoExpiration),
		errors.Is(err, ErrPartitionNotFound):
		return CodeNoDataFound
	case errors.Is(err, ErrCycleDetected):
		return CodeInvalidParameter
	case errors.Is(err, ErrClosureDiverged):
		return CodeCheckViolation
	case errors.Is(err, ErrReservedRelation):
		return CodeFeatureNotSupported
	case errors.Is(err, ErrTenantRequired):
		return CodeNullValue
	default:
		return ""
	}
}
