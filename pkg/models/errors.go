package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoAvailableRoute is matched by every *NoAvailableRouteError.
var ErrNoAvailableRoute = errors.New("no available route")

// ConfigurationError reports a malformed profile, rule, or provider reference.
// It is raised before any routing attempt.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Message
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
}

// Attempt records why a candidate was skipped.
type Attempt struct {
	ProviderID string `json:"provider_id"`
	ModelName  string `json:"model_name"`
	Reason     string `json:"reason"`
}

// NoAvailableRouteError is returned when every candidate was rejected.
type NoAvailableRouteError struct {
	RuleID    string
	Attempts  []Attempt
	Reasoning []string
}

func (e *NoAvailableRouteError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no available route for rule %q: no candidates", e.RuleID)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s:%s (%s)", a.ProviderID, a.ModelName, a.Reason))
	}
	return fmt.Sprintf("no available route for rule %q: %s", e.RuleID, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrNoAvailableRoute) work.
func (e *NoAvailableRouteError) Is(target error) bool {
	return target == ErrNoAvailableRoute
}

// PersistenceError wraps a budget store read or write failure.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
