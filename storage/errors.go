package storage

import (
	"errors"
	"fmt"

	"sentinel/core"
)

// Storage error constants. The not-found errors wrap core.ErrNotFound so
// callers can match either the specific or the general sentinel.
var (
	// ErrEventNotFound is returned when an event is not found
	ErrEventNotFound = fmt.Errorf("event: %w", core.ErrNotFound)

	// ErrIndicatorNotFound is returned when an indicator is not found
	ErrIndicatorNotFound = fmt.Errorf("indicator: %w", core.ErrNotFound)

	// ErrRuleNotFound is returned when an alert rule is not found
	ErrRuleNotFound = fmt.Errorf("rule: %w", core.ErrNotFound)

	// ErrIncidentNotFound is returned when an incident is not found
	ErrIncidentNotFound = fmt.Errorf("incident: %w", core.ErrNotFound)

	// ErrDatabaseClosed is returned when using a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")
)
