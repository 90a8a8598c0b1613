package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"tokenledger/domain/entities"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the ledger reacts to
const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgQueryCanceled        = "57014"
	pgAdminShutdown        = "57P01"
)

// classifyError wraps err with the domain sentinel it corresponds to, keeping the
// original error in the chain. Errors with no domain meaning are wrapped with op only.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, entities.ErrStoreUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case "accounts_referral_code_key":
			return fmt.Errorf("%s: %w: %w", op, entities.ErrReferralCodeTaken, err)
		case "accounts_external_user_id_key":
			return fmt.Errorf("%s: %w: %w", op, entities.ErrAccountExists, err)
		case "idx_ledger_transactions_idempotency_key":
			return fmt.Errorf("%s: %w: %w", op, entities.ErrAlreadyGranted, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// isUnavailable reports whether err is a transient condition after which nothing was applied
func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure, pgQueryCanceled, pgAdminShutdown:
			return true
		}
		// Class 08: connection exception
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
