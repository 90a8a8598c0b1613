package services

import (
	"context"
	"errors"
	"fmt"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/events"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// referralService links referees to referrers and credits the bonus pair
type referralService struct {
	uowFactory interfaces.UnitOfWorkFactory
	engine     *AccountingEngine
}

// NewReferralService creates a new referral service
func NewReferralService(uowFactory interfaces.UnitOfWorkFactory, engine *AccountingEngine) interfaces.ReferralService {
	return &referralService{
		uowFactory: uowFactory,
		engine:     engine,
	}
}

// ApplyReferral commits the referral linkage and then credits both sides.
// The linkage is the commit point: once it is written every later call sees
// AlreadyReferred. A failed bonus step leaves the linkage in place and is
// reported through BonusPending for a later CreditReferralBonus.
func (s *referralService) ApplyReferral(ctx context.Context, accountID uuid.UUID, code string) (*interfaces.ReferralResult, error) {
	normalized := NormalizeReferralCode(code)

	var account, referrer *entities.Account
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		if account, err = loadAccount(ctx, uow, accountID); err != nil {
			return err
		}
		if normalized == "" {
			return nil
		}
		referrer, err = uow.AccountRepository().GetByReferralCode(ctx, normalized)
		if err != nil {
			return fmt.Errorf("failed to resolve referral code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if eligibility := s.engine.ValidateReferralApplication(account, normalized, referrer); eligibility != ReferralEligible {
		return &interfaces.ReferralResult{Status: referralStatus(eligibility)}, nil
	}

	err = runInUnitOfWork(ctx, s.uowFactory, s.engine.Policy().OperationTimeout, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		_, err := uow.LedgerStore().ApplyAtomic(ctx, accountID, func(locked *entities.Account) (*interfaces.MutationResult, error) {
			// A concurrent application may have linked this account since the read
			if eligibility := s.engine.ValidateReferralApplication(locked, normalized, referrer); eligibility != ReferralEligible {
				return nil, eligibility.Err()
			}
			next := locked.Clone()
			next.ReferredBy = &referrer.ID
			return &interfaces.MutationResult{Account: next}, nil
		})
		if err != nil {
			return err
		}

		if err := uow.EventBus().Publish(events.ReferralAppliedEvent{RefereeID: accountID, ReferrerID: referrer.ID}); err != nil {
			log.WithError(err).Error("Failed to publish referral applied event")
		}
		return nil
	})

	switch {
	case errors.Is(err, entities.ErrAlreadyReferred):
		return &interfaces.ReferralResult{Status: interfaces.ReferralStatusAlreadyReferred}, nil
	case errors.Is(err, entities.ErrSelfReferral):
		return &interfaces.ReferralResult{Status: interfaces.ReferralStatusSelfReferral}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to apply referral: %w", err)
	}

	log.WithFields(log.Fields{
		"refereeID":  accountID,
		"referrerID": referrer.ID,
	}).Info("Referral linkage committed")

	result := &interfaces.ReferralResult{
		Status:     interfaces.ReferralStatusApplied,
		ReferrerID: referrer.ID,
	}

	if _, err := s.CreditReferralBonus(ctx, accountID); err != nil {
		log.WithFields(log.Fields{
			"refereeID":  accountID,
			"referrerID": referrer.ID,
			"error":      err,
		}).Warn("Referral bonus pending, will be retried")
		result.BonusPending = true
	}

	return result, nil
}

// CreditReferralBonus credits the referrer and the referee of an applied referral.
// Each side is its own atomic unit keyed on the (referrer, referee) pair, so the
// call is safe to repeat until both sides report a status.
func (s *referralService) CreditReferralBonus(ctx context.Context, refereeID uuid.UUID) (*interfaces.ReferralBonusResult, error) {
	var referee *entities.Account
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		referee, err = loadAccount(ctx, uow, refereeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if referee.ReferredBy == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrNotReferred, refereeID)
	}
	referrerID := *referee.ReferredBy
	policy := s.engine.Policy()

	result := &interfaces.ReferralBonusResult{
		ReferrerID: referrerID,
		RefereeID:  refereeID,
	}

	result.ReferrerStatus, err = s.creditSide(ctx, referrerID, policy.ReferrerBonus, ReferralBonusKey(referrerID, refereeID, ReferralSideReferrer), true)
	if err != nil {
		return nil, fmt.Errorf("failed to credit referrer: %w", err)
	}

	result.RefereeStatus, err = s.creditSide(ctx, refereeID, policy.RefereeBonus, ReferralBonusKey(referrerID, refereeID, ReferralSideReferee), false)
	if err != nil {
		return nil, fmt.Errorf("failed to credit referee: %w", err)
	}

	log.WithFields(log.Fields{
		"referrerID":     referrerID,
		"refereeID":      refereeID,
		"referrerStatus": result.ReferrerStatus,
		"refereeStatus":  result.RefereeStatus,
	}).Info("Referral bonus processed")

	return result, nil
}

func (s *referralService) creditSide(ctx context.Context, accountID uuid.UUID, bonus int64, key string, countReferral bool) (interfaces.GrantStatus, error) {
	status := interfaces.GrantStatusGranted
	err := runInUnitOfWork(ctx, s.uowFactory, s.engine.Policy().OperationTimeout, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		result, err := uow.LedgerStore().ApplyAtomic(ctx, accountID, func(locked *entities.Account) (*interfaces.MutationResult, error) {
			next, tx, err := s.engine.ApplyPurchasedGrant(locked, entities.TransactionKindReferralBonus, bonus, key, map[string]any{"side": sideOf(countReferral)})
			if err != nil {
				return nil, err
			}
			if countReferral {
				next.ReferralCount++
			}
			return &interfaces.MutationResult{Account: next, Transactions: []*entities.Transaction{tx}}, nil
		})
		if err != nil {
			return err
		}

		publishBalanceChange(uow.EventBus(), result)
		if err := uow.EventBus().Publish(events.GrantIssuedEvent{
			AccountID:      accountID,
			Kind:           entities.TransactionKindReferralBonus,
			Amount:         bonus,
			IdempotencyKey: key,
		}); err != nil {
			log.WithError(err).Error("Failed to publish grant issued event")
		}
		return nil
	})
	if errors.Is(err, entities.ErrAlreadyGranted) {
		return interfaces.GrantStatusAlreadyGranted, nil
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

func sideOf(referrer bool) string {
	if referrer {
		return ReferralSideReferrer
	}
	return ReferralSideReferee
}

func referralStatus(e ReferralEligibility) interfaces.ReferralStatus {
	switch e {
	case ReferralAlreadyReferred:
		return interfaces.ReferralStatusAlreadyReferred
	case ReferralSelfReferral:
		return interfaces.ReferralStatusSelfReferral
	case ReferralCodeNotFound:
		return interfaces.ReferralStatusInvalidCode
	}
	return interfaces.ReferralStatusApplied
}
