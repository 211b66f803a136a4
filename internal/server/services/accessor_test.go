package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/audithero/velro-backend-sub001/internal/common"
	"github.com/audithero/velro-backend-sub001/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveProfile_ElevatedHitMakesNoOtherCalls(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "u1", 250)
	a := newTestAccessor(store, testConfig())

	p, err := a.ResolveProfile(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, int64(250), p.CreditsBalance)
	assert.Equal(t, models.RoleViewer, p.Role)

	assert.Equal(t, []storeCall{{op: opSelect, tier: models.TierElevated}}, store.recorded())
	assert.Equal(t, 250, int(store.balance(t, "u1")))
}

func TestResolveProfile_FallsBackToUserTier(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "u1", 77)
	store.failOn(opSelect, models.TierElevated, common.ErrorUnauthorized)
	a := newTestAccessor(store, testConfig())

	tok := tokenFor(t, "u1", testNow.Add(time.Hour))
	p, err := a.ResolveProfile(context.Background(), "u1", tok)
	require.NoError(t, err)
	assert.Equal(t, int64(77), p.CreditsBalance)

	calls := store.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, models.TierElevated, calls[0].tier)
	assert.Equal(t, storeCall{op: opSelect, tier: models.TierUserScoped, token: tok}, calls[1])
	assert.Zero(t, store.count(opInsert, ""))
}

func TestResolveProfile_UnusableTokenNeverReachesStore(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"expired", func(t *testing.T) string { return tokenFor(t, "u1", testNow.Add(-time.Minute)) }},
		{"expires now", func(t *testing.T) string { return tokenFor(t, "u1", testNow) }},
		{"malformed", func(t *testing.T) string { return "not-a-jwt" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.seed(t, "u1", 10)
			store.failOn(opSelect, models.TierElevated, common.ErrorUnauthorized)
			a := newTestAccessor(store, testConfig())

			tok := tt.token(t)
			_, err := a.ResolveProfile(context.Background(), "u1", tok)
			require.Error(t, err)

			for _, c := range store.recorded() {
				assert.NotEqual(t, models.TierUserScoped, c.tier)
				assert.NotEqual(t, tok, c.token)
			}

			var re *ProfileResolutionError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, KindAuthorizationFailed, re.Kind)
			require.Len(t, re.Attempts, 2)
			assert.Equal(t, KindCredentialExpired, re.Attempts[0].Kind)
			assert.Equal(t, models.TierUserScoped, re.Attempts[0].Tier)
		})
	}
}

func TestResolveProfile_AutoRepairCreatesDefaultProfile(t *testing.T) {
	store := newFakeStore()
	a := newTestAccessor(store, testConfig())

	p, err := a.ResolveProfile(context.Background(), "u2", "")
	require.NoError(t, err)
	assert.Equal(t, "u2", p.ID)
	assert.Equal(t, int64(100), p.CreditsBalance)
	assert.Equal(t, models.RoleViewer, p.Role)
	assert.False(t, p.CreatedAt.IsZero())

	assert.Equal(t, 1, store.count(opInsert, models.TierElevated))
	assert.Equal(t, 1, store.insertedRows())

	bal, err := a.GetCreditBalance(context.Background(), "u2", "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
	assert.Equal(t, 1, store.insertedRows())
}

func TestResolveProfile_AutoRepairUsesConfiguredDefaults(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.DefaultCreditsBalance = 1400
	cfg.DefaultRole = string(models.RoleAdmin)
	a := newTestAccessor(store, cfg)

	p, err := a.ResolveProfile(context.Background(), "u9", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1400), p.CreditsBalance)
	assert.Equal(t, models.RoleAdmin, p.Role)
}

func TestResolveProfile_ConcurrentRepairCreatesOneRow(t *testing.T) {
	store := newFakeStore()
	a := newTestAccessor(store, testConfig())

	const callers = 8
	results := make([]*models.Profile, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.ResolveProfile(context.Background(), "u2", "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(100), results[i].CreditsBalance)
		assert.Equal(t, results[0].CreatedAt, results[i].CreatedAt)
	}
	assert.Equal(t, 1, store.insertedRows())
}

func TestResolveProfile_RepairConflictRereadsExistingRow(t *testing.T) {
	store := newFakeStore()
	store.beforeInsert = func() {
		// Another process wins the race.
		_, _ = store.MemoryStore.Insert(context.Background(), models.ElevatedCredential(),
			&models.Profile{ID: "u3", CreditsBalance: 42, Role: models.RoleViewer})
	}
	a := newTestAccessor(store, testConfig())

	p, err := a.ResolveProfile(context.Background(), "u3", "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.CreditsBalance)
	assert.Zero(t, store.insertedRows())
	assert.Equal(t, 2, store.count(opSelect, models.TierElevated))
}

func TestResolveProfile_RepairAfterMixedLookupFailures(t *testing.T) {
	store := newFakeStore()
	store.failOn(opSelect, models.TierElevated, common.ErrorUnauthorized)
	a := newTestAccessor(store, testConfig())

	tok := tokenFor(t, "u4", testNow.Add(time.Hour))
	p, err := a.ResolveProfile(context.Background(), "u4", tok)
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.CreditsBalance)
	assert.Equal(t, 1, store.count(opInsert, models.TierElevated))
}

func TestResolveProfile_RepairFallsBackToUserTier(t *testing.T) {
	store := newFakeStore()
	store.failOn(opInsert, models.TierElevated, common.ErrorUnauthorized)
	a := newTestAccessor(store, testConfig())

	tok := tokenFor(t, "u5", testNow.Add(time.Hour))
	p, err := a.ResolveProfile(context.Background(), "u5", tok)
	require.NoError(t, err)
	assert.Equal(t, "u5", p.ID)
	assert.Equal(t, 1, store.count(opInsert, models.TierUserScoped))
	assert.Equal(t, 1, store.insertedRows())
}

func TestResolveProfile_FailureKinds(t *testing.T) {
	unavailable := errors.New("connection refused")

	tests := []struct {
		name     string
		setup    func(t *testing.T, s *fakeStore) string
		want     Kind
		sentinel error
	}{
		{
			name: "elevated unauthorized without token",
			setup: func(t *testing.T, s *fakeStore) string {
				s.failOn(opSelect, models.TierElevated, common.ErrorUnauthorized)
				return ""
			},
			want:     KindAuthorizationFailed,
			sentinel: common.ErrorUnauthorized,
		},
		{
			name: "backend down with expired token",
			setup: func(t *testing.T, s *fakeStore) string {
				s.failOn(opSelect, models.TierElevated, unavailable)
				return tokenFor(t, "u1", testNow.Add(-time.Second))
			},
			want:     KindCredentialExpired,
			sentinel: common.ErrTokenExpired,
		},
		{
			name: "backend down on every tier",
			setup: func(t *testing.T, s *fakeStore) string {
				s.failOn(opSelect, models.TierElevated, unavailable)
				s.failOn(opSelect, models.TierUserScoped, unavailable)
				return tokenFor(t, "u1", testNow.Add(time.Hour))
			},
			want:     KindBackendUnavailable,
			sentinel: common.ErrBackendUnavailable,
		},
		{
			name: "user tier unauthorized beats backend down",
			setup: func(t *testing.T, s *fakeStore) string {
				s.failOn(opSelect, models.TierElevated, unavailable)
				s.failOn(opSelect, models.TierUserScoped, common.ErrorUnauthorized)
				return tokenFor(t, "u1", testNow.Add(time.Hour))
			},
			want:     KindAuthorizationFailed,
			sentinel: common.ErrorUnauthorized,
		},
		{
			name: "absent and creation unavailable",
			setup: func(t *testing.T, s *fakeStore) string {
				s.failOn(opInsert, models.TierElevated, unavailable)
				return ""
			},
			want:     KindBackendUnavailable,
			sentinel: common.ErrBackendUnavailable,
		},
		{
			name: "absent and creation unavailable on every tier",
			setup: func(t *testing.T, s *fakeStore) string {
				s.failOn(opInsert, models.TierElevated, unavailable)
				s.failOn(opInsert, models.TierUserScoped, context.DeadlineExceeded)
				return tokenFor(t, "u1", testNow.Add(time.Hour))
			},
			want:     KindBackendUnavailable,
			sentinel: common.ErrBackendUnavailable,
		},
		{
			name: "absent and creation rejected by constraint",
			setup: func(t *testing.T, s *fakeStore) string {
				s.failOn(opInsert, models.TierElevated, unavailable)
				s.failOn(opInsert, models.TierUserScoped, common.ErrInsufficientCredits)
				return tokenFor(t, "u1", testNow.Add(time.Hour))
			},
			want:     KindProfileNotFound,
			sentinel: common.ErrorNotFound,
		},
		{
			name: "absent and creation refused",
			setup: func(t *testing.T, s *fakeStore) string {
				s.failOn(opInsert, models.TierElevated, common.ErrorUnauthorized)
				return ""
			},
			want:     KindAuthorizationFailed,
			sentinel: common.ErrorUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			tok := tt.setup(t, store)
			a := newTestAccessor(store, testConfig())

			p, err := a.ResolveProfile(context.Background(), "u1", tok)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.Equal(t, tt.want, KindOf(err))
			assert.ErrorIs(t, err, tt.sentinel)

			var re *ProfileResolutionError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, "u1", re.UserID)
			assert.NotEmpty(t, re.Attempts)
			assert.Zero(t, store.insertedRows())
		})
	}
}

func TestResolveProfile_TierTimeoutFallsThrough(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "u1", 60)
	release := store.holdOn(opSelect, models.TierElevated)
	defer close(release)

	cfg := testConfig()
	cfg.TierTimeout = 50 * time.Millisecond
	a := newTestAccessor(store, cfg)

	tok := tokenFor(t, "u1", testNow.Add(time.Hour))
	p, err := a.ResolveProfile(context.Background(), "u1", tok)
	require.NoError(t, err)
	assert.Equal(t, int64(60), p.CreditsBalance)
	assert.Equal(t, 1, store.count(opSelect, models.TierUserScoped))
}

func TestResolveProfile_CallerCancellation(t *testing.T) {
	store := newFakeStore()
	release := store.holdOn(opSelect, models.TierElevated)
	defer close(release)
	a := newTestAccessor(store, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.ResolveProfile(ctx, "u1", "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, store.count(opInsert, ""))
}

func TestResolveProfile_InvalidUserID(t *testing.T) {
	store := newFakeStore()
	a := newTestAccessor(store, testConfig())

	for _, id := range []string{"", "   "} {
		_, err := a.ResolveProfile(context.Background(), id, "")
		assert.ErrorIs(t, err, common.ErrInvalidUserID)
		assert.Equal(t, KindInvalidRequest, KindOf(err))
	}
	assert.Empty(t, store.recorded())
}

func TestGetCreditBalance_DoesNotMaskFailure(t *testing.T) {
	store := newFakeStore()
	store.failOn(opSelect, models.TierElevated, common.ErrorUnauthorized)
	a := newTestAccessor(store, testConfig())

	bal, err := a.GetCreditBalance(context.Background(), "u1", "")
	require.Error(t, err)
	assert.Zero(t, bal)
	assert.Equal(t, KindAuthorizationFailed, KindOf(err))
}

func TestProfileResolutionError_Message(t *testing.T) {
	err := &ProfileResolutionError{
		UserID: "u1",
		Kind:   KindAuthorizationFailed,
		Attempts: []Attempt{
			{Phase: PhaseLookup, Tier: models.TierElevated, Kind: KindAuthorizationFailed, Err: common.ErrorUnauthorized},
		},
	}
	assert.Contains(t, err.Error(), `resolve profile "u1": authorization_failed`)
	assert.Contains(t, err.Error(), "lookup/elevated")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindProfileNotFound, KindOf(common.ErrorNotFound))
	assert.Equal(t, KindAuthorizationFailed, KindOf(common.ErrorUnauthorized))
	assert.Equal(t, KindCredentialExpired, KindOf(common.ErrInvalidToken))
	assert.Equal(t, KindInsufficientCredits, KindOf(common.ErrInsufficientCredits))
	assert.Equal(t, KindInvalidRequest, KindOf(common.ErrInvalidUserID))
	assert.Equal(t, KindInvalidRequest, KindOf(common.ErrInvalidAmount))
	assert.Equal(t, KindBackendUnavailable, KindOf(errors.New("boom")))
}
