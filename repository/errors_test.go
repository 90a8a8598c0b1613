package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tokenledger/domain/entities"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, entities.ErrStoreUnavailable},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, entities.ErrStoreUnavailable},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, entities.ErrStoreUnavailable},
		{"connection failure", &pgconn.PgError{Code: "08006"}, entities.ErrStoreUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), entities.ErrStoreUnavailable},
		{"referral code collision", &pgconn.PgError{Code: "23505", ConstraintName: "accounts_referral_code_key"}, entities.ErrReferralCodeTaken},
		{"duplicate user", &pgconn.PgError{Code: "23505", ConstraintName: "accounts_external_user_id_key"}, entities.ErrAccountExists},
		{"duplicate key", &pgconn.PgError{Code: "23505", ConstraintName: "idx_ledger_transactions_idempotency_key"}, entities.ErrAlreadyGranted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := classifyError("op", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err, "original error must stay in the chain")
		})
	}
}

func TestClassifyError_Passthrough(t *testing.T) {
	t.Parallel()

	assert.NoError(t, classifyError("op", nil))

	plain := errors.New("syntax error")
	err := classifyError("op", plain)
	assert.ErrorIs(t, err, plain)
	assert.False(t, errors.Is(err, entities.ErrStoreUnavailable))

	check := &pgconn.PgError{Code: "23514", ConstraintName: "accounts_purchased_balance_check"}
	assert.False(t, errors.Is(classifyError("op", check), entities.ErrStoreUnavailable))
}
