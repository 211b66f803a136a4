package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/audithero/velro-backend-sub001/internal/common"
	"github.com/audithero/velro-backend-sub001/internal/server/models"
)

// Kind classifies why an accessor call failed. The request layer maps kinds
// to responses; they are never merged into one generic failure.
type Kind string

const (
	KindProfileNotFound     Kind = "profile_not_found"
	KindAuthorizationFailed Kind = "authorization_failed"
	KindCredentialExpired   Kind = "credential_expired"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindBackendUnavailable  Kind = "backend_unavailable"
	KindInvalidRequest      Kind = "invalid_request"
)

func (k Kind) sentinel() error {
	switch k {
	case KindProfileNotFound:
		return common.ErrorNotFound
	case KindAuthorizationFailed:
		return common.ErrorUnauthorized
	case KindCredentialExpired:
		return common.ErrTokenExpired
	case KindInsufficientCredits:
		return common.ErrInsufficientCredits
	case KindInvalidRequest:
		return common.ErrInvalidAmount
	default:
		return common.ErrBackendUnavailable
	}
}

// Phase is the step of a call an Attempt belongs to.
type Phase string

const (
	PhaseLookup Phase = "lookup"
	PhaseCreate Phase = "create"
)

// Attempt records one failed or skipped tier.
type Attempt struct {
	Phase Phase
	Tier  models.Tier
	Kind  Kind
	Err   error
}

// ProfileResolutionError is returned when every tier failed to produce a
// profile. Kind is the most specific classification available; Attempts
// lists each tier outcome in order.
type ProfileResolutionError struct {
	UserID   string
	Kind     Kind
	Attempts []Attempt
}

func (e *ProfileResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "resolve profile %q: %s", e.UserID, e.Kind)
	for _, at := range e.Attempts {
		fmt.Fprintf(&b, "; %s/%s: %v", at.Phase, at.Tier, at.Err)
	}
	return b.String()
}

// Unwrap exposes the sentinel for Kind, so errors.Is(err, common.ErrorUnauthorized)
// and friends work on resolution failures.
func (e *ProfileResolutionError) Unwrap() error {
	return e.Kind.sentinel()
}

// KindOf classifies any error returned by ProfileAccessor. It returns ""
// for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var re *ProfileResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return kindOf(err)
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, common.ErrorUnauthorized):
		return KindAuthorizationFailed
	case errors.Is(err, common.ErrorNotFound):
		return KindProfileNotFound
	case errors.Is(err, common.ErrTokenExpired), errors.Is(err, common.ErrInvalidToken):
		return KindCredentialExpired
	case errors.Is(err, common.ErrInsufficientCredits):
		return KindInsufficientCredits
	case errors.Is(err, common.ErrInvalidUserID), errors.Is(err, common.ErrInvalidAmount):
		return KindInvalidRequest
	default:
		return KindBackendUnavailable
	}
}

func hasKind(attempts []Attempt, k Kind) bool {
	for _, at := range attempts {
		if at.Kind == k {
			return true
		}
	}
	return false
}

// lookupFailureKind picks the kind reported when no lookup tier succeeded
// and none confirmed the profile absent.
func lookupFailureKind(attempts []Attempt) Kind {
	switch {
	case hasKind(attempts, KindAuthorizationFailed):
		return KindAuthorizationFailed
	case hasKind(attempts, KindCredentialExpired):
		return KindCredentialExpired
	default:
		return KindBackendUnavailable
	}
}

// repairFailureKind picks the kind reported when the profile was confirmed
// absent but could not be created. A refusal wins; a creation phase that
// only saw transient failures is an outage, not an absence.
func repairFailureKind(attempts []Attempt) Kind {
	if hasKind(attempts, KindAuthorizationFailed) {
		return KindAuthorizationFailed
	}
	if len(attempts) > 0 && allKind(attempts, KindBackendUnavailable) {
		return KindBackendUnavailable
	}
	return KindProfileNotFound
}

func allKind(attempts []Attempt, k Kind) bool {
	for _, at := range attempts {
		if at.Kind != k {
			return false
		}
	}
	return true
}
