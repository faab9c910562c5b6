package api

import (
	"fmt"
	"time"

	"github.com/xraph/forge"

	"github.com/xraph/tether"
)

// mapError maps domain errors to Forge HTTP errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch tether.CodeOf(err) {
	case tether.CodeNoDataFound:
		return forge.NotFound(err.Error())
	case tether.CodeNullValue,
		tether.CodeLengthMismatch,
		tether.CodeRightTruncation,
		tether.CodeInvalidParameter,
		tether.CodeCheckViolation,
		tether.CodeFeatureNotSupported:
		return forge.BadRequest(err.Error())
	}
	return err
}

// parseTime parses an optional RFC3339 timestamp. An empty string is nil.
func parseTime(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid %s: %v", field, err))
	}
	return &t, nil
}

// parseDuration parses a required Go duration string.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, forge.BadRequest(field + " is required")
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, forge.BadRequest(fmt.Sprintf("invalid %s: %v", field, err))
	}
	return d, nil
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
