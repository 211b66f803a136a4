package services

import (
	"context"
	"errors"

	"github.com/audithero/velro-backend-sub001/internal/server/auth"
	"github.com/audithero/velro-backend-sub001/internal/server/models"
)

// errNoToken marks the user-scoped tier as not applicable. It is not a
// failure and is not reported.
var errNoToken = errors.New("no user token supplied")

type request struct {
	userID string
	token  string
}

// credentialSource produces the credential for one tier, or an error when
// the tier must be skipped for this request without contacting the store.
type credentialSource struct {
	tier    models.Tier
	resolve func(req request) (models.Credential, error)
}

// candidate is a credentialSource evaluated for one request.
type candidate struct {
	tier models.Tier
	cred models.Credential
	skip error
}

// tierOp is one store operation attempted under a single credential.
type tierOp func(ctx context.Context, cred models.Credential) (*models.Profile, error)

// defaultSources is the fallback order: elevated first, then the caller's
// own token.
func (a *ProfileAccessor) defaultSources() []credentialSource {
	return []credentialSource{
		{tier: models.TierElevated, resolve: a.elevatedCredential},
		{tier: models.TierUserScoped, resolve: a.userCredential},
	}
}

func (a *ProfileAccessor) elevatedCredential(request) (models.Credential, error) {
	return a.elevated, nil
}

// userCredential validates the token locally. An expired or malformed token
// is never handed to the store.
func (a *ProfileAccessor) userCredential(req request) (models.Credential, error) {
	if req.token == "" {
		return models.Credential{}, errNoToken
	}
	info, err := auth.ValidForUse(req.token, a.clock.Now())
	if err != nil {
		return models.Credential{}, err
	}
	return models.UserCredential(req.token, info.Subject), nil
}

func (a *ProfileAccessor) candidates(req request) []candidate {
	out := make([]candidate, 0, len(a.sources))
	for _, src := range a.sources {
		cred, err := src.resolve(req)
		out = append(out, candidate{tier: src.tier, cred: cred, skip: err})
	}
	return out
}

// skippedAttempts reports tiers rejected by local validation. Tiers that
// simply do not apply are left out.
func (a *ProfileAccessor) skippedAttempts(ctx context.Context, cands []candidate) []Attempt {
	var attempts []Attempt
	for _, c := range cands {
		if c.skip == nil || errors.Is(c.skip, errNoToken) {
			continue
		}
		a.logger.Warn(ctx, "skipping tier, credential rejected locally", "tier", c.tier, "error", c.skip)
		attempts = append(attempts, Attempt{Phase: PhaseLookup, Tier: c.tier, Kind: kindOf(c.skip), Err: c.skip})
	}
	return attempts
}

// runTiers tries op under each usable candidate in order and stops at the
// first success. Failures are logged and collected, never returned while a
// later tier remains. The error result is set only when ctx ends.
func (a *ProfileAccessor) runTiers(ctx context.Context, phase Phase, cands []candidate, op tierOp) (*models.Profile, models.Credential, []Attempt, error) {
	var attempts []Attempt

	for _, c := range cands {
		if c.skip != nil {
			continue
		}

		p, err := op(ctx, c.cred)
		if err == nil {
			return p, c.cred, attempts, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, models.Credential{}, attempts, ctxErr
		}

		kind := kindOf(err)
		a.logger.Warn(ctx, "tier attempt failed", "phase", phase, "tier", c.tier, "kind", kind, "error", err)
		attempts = append(attempts, Attempt{Phase: phase, Tier: c.tier, Kind: kind, Err: err})
	}

	return nil, models.Credential{}, attempts, nil
}

// read runs a Select bounded by the tier timeout.
func (a *ProfileAccessor) read(ctx context.Context, cred models.Credential, userID string) (*models.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, a.tierTimeout)
	defer cancel()
	return a.store.Select(ctx, cred, userID)
}

// write issues a store write on a context detached from the caller's
// cancellation and bounded by the tier timeout. If the caller's ctx ends
// first, write returns its error while the store call runs to completion.
func (a *ProfileAccessor) write(ctx context.Context, fn func(ctx context.Context) (*models.Profile, error)) (*models.Profile, error) {
	type result struct {
		p   *models.Profile
		err error
	}

	done := make(chan result, 1)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.tierTimeout)

	go func() {
		defer cancel()
		p, err := fn(wctx)
		done <- result{p: p, err: err}
	}()

	select {
	case r := <-done:
		return r.p, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
