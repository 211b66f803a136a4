package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/audithero/velro-backend-sub001/internal/common"
	"github.com/audithero/velro-backend-sub001/internal/server/models"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// AdjustCreditBalance adds delta (negative for a deduction) to the balance
// of userID and returns the updated profile. The profile is resolved first
// and the write uses the credential that resolved it.
//
// The update is a compare-and-swap on the balance just read; a lost race
// re-reads and retries with backoff. A deduction that would leave the
// balance negative fails with common.ErrInsufficientCredits and changes
// nothing.
//
// The call is not idempotent. Callers that retry automatically after a
// transient failure must carry a request-scoped idempotency key and drop
// duplicates, or the delta may be applied twice.
func (a *ProfileAccessor) AdjustCreditBalance(ctx context.Context, userID string, delta int64, userToken string) (*models.Profile, error) {
	res, err := a.resolve(ctx, userID, userToken)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return res.profile, nil
	}

	current := res.profile
	var updated *models.Profile

	backoff := retry.WithMaxRetries(a.balanceRetries, retry.NewExponential(a.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		next, err := nextBalance(current.CreditsBalance, delta)
		if err != nil {
			return err
		}

		expected := current.CreditsBalance
		p, err := a.write(ctx, func(ctx context.Context) (*models.Profile, error) {
			return a.store.CompareAndSwapBalance(ctx, res.cred, userID, expected, next)
		})
		if err == nil {
			updated = p
			return nil
		}
		if !errors.Is(err, common.ErrPreconditionFailed) {
			return err
		}

		a.logger.Debug(ctx, "balance changed concurrently, retrying", "user_id", userID, "expected", expected)
		fresh, rerr := a.read(ctx, res.cred, userID)
		if rerr != nil {
			return rerr
		}
		current = fresh
		return retry.RetryableError(err)
	})
	if err != nil {
		a.logger.Warn(ctx, "credit adjustment failed", "user_id", userID, "delta", delta, "kind", KindOf(err), "error", err)
		return nil, fmt.Errorf("adjust credit balance of %q: %w", userID, err)
	}

	tx := models.CreditTransaction{
		ID:               uuid.NewString(),
		UserID:           userID,
		Amount:           delta,
		ResultingBalance: updated.CreditsBalance,
		Tier:             res.cred.Tier,
		CommittedAt:      a.clock.Now(),
	}
	a.logger.Info(ctx, "credit transaction committed", "transaction_id", tx.ID, "user_id", tx.UserID,
		"amount", tx.Amount, "resulting_balance", tx.ResultingBalance, "tier", tx.Tier)

	return updated, nil
}

func nextBalance(balance, delta int64) (int64, error) {
	if delta > 0 && balance > math.MaxInt64-delta {
		return 0, fmt.Errorf("%w: balance %d overflows with %d", common.ErrInvalidAmount, balance, delta)
	}
	next := balance + delta
	if next < 0 {
		return 0, fmt.Errorf("%w: balance %d, requested %d", common.ErrInsufficientCredits, balance, delta)
	}
	return next, nil
}
