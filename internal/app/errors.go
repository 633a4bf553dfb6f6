package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/visualize-admin/visualization-tool-sub010/internal/history"
	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, history.ErrNoHistory) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}

	var (
		unknownSource *migrate.UnknownSourceVersionError
		unknownTarget *migrate.UnknownTargetVersionError
		irreversible  *migrate.IrreversibleMigrationError
		invalid       *migrate.ValidationError
		badVersion    *migrate.InvalidVersionError
		violation     *migrate.MigrationInvariantViolationError
		stepErr       *migrate.StepError
	)
	switch {
	case errors.As(err, &violation):
		return http.StatusInternalServerError, "MIGRATION_INVARIANT_VIOLATION", err.Error(), nil
	case errors.As(err, &unknownSource):
		return http.StatusUnprocessableEntity, "UNKNOWN_SOURCE_VERSION", err.Error(), map[string]any{"version": unknownSource.Version}
	case errors.As(err, &unknownTarget):
		return http.StatusUnprocessableEntity, "UNKNOWN_TARGET_VERSION", err.Error(), map[string]any{"version": unknownTarget.Version}
	case errors.As(err, &irreversible):
		return http.StatusUnprocessableEntity, "IRREVERSIBLE_MIGRATION", err.Error(), map[string]any{"from": irreversible.From, "to": irreversible.To}
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err.Error(), map[string]any{"problems": invalid.Problems}
	case errors.As(err, &badVersion):
		return http.StatusUnprocessableEntity, "INVALID_VERSION", err.Error(), nil
	case errors.As(err, &stepErr):
		return http.StatusUnprocessableEntity, "MIGRATION_FAILED", err.Error(), map[string]any{"from": stepErr.From, "to": stepErr.To}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
