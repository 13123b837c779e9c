package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mentorslots/libs/db"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
)

func IsConflict(err error) bool {
	return db.Code(err) == db.CodeExclusionViolation
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// classify translates driver failures into the engine's error taxonomy. Anything it
// does not recognize is returned unchanged.
func classify(err error, what, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrConcurrency), errors.Is(err, errs.ErrNotFound):
		return err
	case IsNotFound(err):
		return errs.NotFound(what, id)
	case db.IsRetryable(err):
		return fmt.Errorf("%w: %w", errs.ErrConcurrency, err)
	default:
		return err
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
