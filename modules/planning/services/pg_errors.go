package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func mapPgError(err error) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return mapPgErrorToServiceError(err)
}

func mapPgErrorToServiceError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, CodeNotFound, "not found", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		recordWriteConflict("unique")
		switch pgErr.ConstraintName {
		case "planning_assignments_active_unique":
			// The partial unique index on (planning_id, org_unit_id) where
			// deleted_at is null: a concurrent writer won the pair.
			return newServiceError(http.StatusConflict, CodeUniqueness, "org unit already has an active assignment", err)
		case "planning_teams_tenant_id_project_id_name_key":
			return newServiceError(http.StatusConflict, CodeUniqueness, "team name already exists in project", err)
		default:
			return newServiceError(http.StatusConflict, CodeUniqueness, "unique constraint violated", err)
		}
	case "23503": // foreign_key_violation
		recordWriteConflict("foreign_key")
		return newServiceError(http.StatusUnprocessableEntity, CodeNotFound, "referenced row not found", err)
	case "23514": // check_violation
		recordWriteConflict("check")
		if pgErr.ConstraintName == "planning_assignments_single_assignee" {
			return newServiceError(http.StatusBadRequest, CodeInvalidBody, "assignment cannot carry both a team and a user", err)
		}
		return newServiceError(http.StatusUnprocessableEntity, CodeInvalidBody, "check constraint violated", err)
	default:
		return newServiceError(http.StatusInternalServerError, CodeInternal, fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
