// Package services contains the server-side business logic. This file
// implements ProfileAccessor, which resolves a user's profile and credit
// balance through an ordered list of credential tiers, falling back from the
// elevated service credential to the caller's own token and creating the
// profile when it is confirmed missing.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/audithero/velro-backend-sub001/internal/common"
	"github.com/audithero/velro-backend-sub001/internal/logging"
	"github.com/audithero/velro-backend-sub001/internal/server/config"
	"github.com/audithero/velro-backend-sub001/internal/server/models"
	"github.com/audithero/velro-backend-sub001/internal/server/repositories/profiles"
	"golang.org/x/sync/singleflight"
)

// ProfileAccessor resolves and mutates profiles. It holds no per-user state:
// balance contention is settled by the store's compare-and-swap.
type ProfileAccessor struct {
	store    profiles.Store
	elevated models.Credential
	clock    Clock
	logger   logging.Logger
	sources  []credentialSource

	defaultBalance int64
	defaultRole    models.Role
	tierTimeout    time.Duration
	balanceRetries uint64
	retryBase      time.Duration

	creations singleflight.Group
}

// NewProfileAccessor builds an accessor over store. elevated is the
// process-wide service credential tried first on every call.
func NewProfileAccessor(store profiles.Store, elevated models.Credential, clock Clock, logger logging.Logger, cfg *config.Config) *ProfileAccessor {
	a := &ProfileAccessor{
		store:          store,
		elevated:       elevated,
		clock:          clock,
		logger:         logger.With("module", "profile_accessor"),
		defaultBalance: cfg.DefaultCreditsBalance,
		defaultRole:    models.Role(cfg.DefaultRole),
		tierTimeout:    cfg.TierTimeout,
		balanceRetries: cfg.BalanceUpdateRetries,
		retryBase:      10 * time.Millisecond,
	}
	a.sources = a.defaultSources()
	return a
}

// resolution is a resolved profile together with the credential that
// produced it, reused for follow-up writes.
type resolution struct {
	profile *models.Profile
	cred    models.Credential
}

// ResolveProfile returns the profile of userID using the first credential
// tier that succeeds. userToken is optional. When every lookup tier that
// answered reports the profile missing, the profile is created with the
// configured default balance and role.
//
// Failures are returned as *ProfileResolutionError.
func (a *ProfileAccessor) ResolveProfile(ctx context.Context, userID, userToken string) (*models.Profile, error) {
	res, err := a.resolve(ctx, userID, userToken)
	if err != nil {
		return nil, err
	}
	return res.profile, nil
}

// GetCreditBalance returns the credit balance of userID. It fails whenever
// ResolveProfile fails; no placeholder balance is ever returned.
func (a *ProfileAccessor) GetCreditBalance(ctx context.Context, userID, userToken string) (int64, error) {
	p, err := a.ResolveProfile(ctx, userID, userToken)
	if err != nil {
		return 0, err
	}
	return p.CreditsBalance, nil
}

func (a *ProfileAccessor) resolve(ctx context.Context, userID, userToken string) (*resolution, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, common.ErrInvalidUserID
	}

	cands := a.candidates(request{userID: userID, token: userToken})
	attempts := a.skippedAttempts(ctx, cands)

	p, cred, lookups, err := a.runTiers(ctx, PhaseLookup, cands, func(ctx context.Context, cred models.Credential) (*models.Profile, error) {
		return a.read(ctx, cred, userID)
	})
	attempts = append(attempts, lookups...)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return &resolution{profile: p, cred: cred}, nil
	}

	if !hasKind(lookups, KindProfileNotFound) {
		return nil, a.fail(ctx, userID, lookupFailureKind(attempts), attempts)
	}

	res, creates, err := a.repair(ctx, userID, userToken, cands)
	attempts = append(attempts, creates...)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, a.fail(ctx, userID, repairFailureKind(creates), attempts)
	}
	return res, nil
}

func (a *ProfileAccessor) fail(ctx context.Context, userID string, kind Kind, attempts []Attempt) error {
	err := &ProfileResolutionError{UserID: userID, Kind: kind, Attempts: attempts}
	a.logger.Error(ctx, "profile resolution failed", "user_id", userID, "kind", kind, "attempts", len(attempts))
	return err
}

type repairOutcome struct {
	res      *resolution
	attempts []Attempt
}

// repair creates the missing profile. Identical concurrent requests in this
// process share one attempt; across processes the store's
// insert-or-conflict keeps at most one row.
func (a *ProfileAccessor) repair(ctx context.Context, userID, userToken string, cands []candidate) (*resolution, []Attempt, error) {
	key := userID + "\x00" + userToken
	ch := a.creations.DoChan(key, func() (interface{}, error) {
		return a.create(context.WithoutCancel(ctx), userID, cands), nil
	})

	select {
	case r := <-ch:
		out := r.Val.(*repairOutcome)
		if out.res == nil {
			return nil, out.attempts, nil
		}
		res := *out.res
		res.profile = res.profile.Clone()
		return &res, out.attempts, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (a *ProfileAccessor) create(ctx context.Context, userID string, cands []candidate) *repairOutcome {
	fresh := &models.Profile{ID: userID, CreditsBalance: a.defaultBalance, Role: a.defaultRole}
	created := false

	p, cred, attempts, _ := a.runTiers(ctx, PhaseCreate, cands, func(ctx context.Context, cred models.Credential) (*models.Profile, error) {
		p, err := a.write(ctx, func(ctx context.Context) (*models.Profile, error) {
			return a.store.Insert(ctx, cred, fresh)
		})
		if errors.Is(err, common.ErrConflict) {
			// Someone else created it between our lookup and insert.
			return a.read(ctx, cred, userID)
		}
		if err == nil {
			created = true
		}
		return p, err
	})
	if p == nil {
		return &repairOutcome{attempts: attempts}
	}

	if created {
		a.logger.Info(ctx, "profile auto-created", "user_id", userID, "tier", cred.Tier,
			"credits_balance", p.CreditsBalance, "role", p.Role)
	}
	return &repairOutcome{res: &resolution{profile: p, cred: cred}, attempts: attempts}
}
