package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/audithero/velro-backend-sub001/internal/logging"
	"github.com/audithero/velro-backend-sub001/internal/server/auth"
	"github.com/audithero/velro-backend-sub001/internal/server/config"
	"github.com/audithero/velro-backend-sub001/internal/server/models"
	"github.com/audithero/velro-backend-sub001/internal/server/repositories/profiles"
	"github.com/stretchr/testify/require"
)

const (
	opSelect = "select"
	opInsert = "insert"
	opCAS    = "cas"
)

var (
	testNow    = time.Unix(1_700_000_000, 0)
	testSecret = []byte("test-secret")
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type opKey struct {
	op   string
	tier models.Tier
}

type storeCall struct {
	op    string
	tier  models.Tier
	token string
}

// fakeStore wraps MemoryStore, recording every call and optionally failing
// or blocking chosen operations per tier.
type fakeStore struct {
	*profiles.MemoryStore

	mu           sync.Mutex
	calls        []storeCall
	errs         map[opKey]error
	holds        map[opKey]chan struct{}
	beforeInsert func()
	inserted     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		MemoryStore: profiles.NewMemoryStore(),
		errs:        make(map[opKey]error),
		holds:       make(map[opKey]chan struct{}),
	}
}

func (f *fakeStore) failOn(op string, tier models.Tier, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[opKey{op, tier}] = err
}

// holdOn blocks op until the returned channel is closed or the call's ctx
// ends.
func (f *fakeStore) holdOn(op string, tier models.Tier) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.holds[opKey{op, tier}] = ch
	return ch
}

func (f *fakeStore) enter(ctx context.Context, op string, cred models.Credential) error {
	f.mu.Lock()
	f.calls = append(f.calls, storeCall{op: op, tier: cred.Tier, token: cred.Token})
	hold := f.holds[opKey{op, cred.Tier}]
	err := f.errs[opKey{op, cred.Tier}]
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeStore) Select(ctx context.Context, cred models.Credential, userID string) (*models.Profile, error) {
	if err := f.enter(ctx, opSelect, cred); err != nil {
		return nil, err
	}
	return f.MemoryStore.Select(ctx, cred, userID)
}

func (f *fakeStore) Insert(ctx context.Context, cred models.Credential, p *models.Profile) (*models.Profile, error) {
	if err := f.enter(ctx, opInsert, cred); err != nil {
		return nil, err
	}
	if f.beforeInsert != nil {
		f.beforeInsert()
	}
	out, err := f.MemoryStore.Insert(ctx, cred, p)
	if err == nil {
		f.mu.Lock()
		f.inserted++
		f.mu.Unlock()
	}
	return out, err
}

func (f *fakeStore) CompareAndSwapBalance(ctx context.Context, cred models.Credential, userID string, expected, next int64) (*models.Profile, error) {
	if err := f.enter(ctx, opCAS, cred); err != nil {
		return nil, err
	}
	return f.MemoryStore.CompareAndSwapBalance(ctx, cred, userID, expected, next)
}

func (f *fakeStore) recorded() []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storeCall(nil), f.calls...)
}

func (f *fakeStore) count(op string, tier models.Tier) int {
	n := 0
	for _, c := range f.recorded() {
		if c.op == op && (tier == "" || c.tier == tier) {
			n++
		}
	}
	return n
}

func (f *fakeStore) insertedRows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserted
}

func (f *fakeStore) seed(t *testing.T, id string, balance int64) {
	t.Helper()
	_, err := f.MemoryStore.Insert(context.Background(), models.ElevatedCredential(),
		&models.Profile{ID: id, CreditsBalance: balance, Role: models.RoleViewer})
	require.NoError(t, err)
}

func (f *fakeStore) balance(t *testing.T, id string) int64 {
	t.Helper()
	p, err := f.MemoryStore.Select(context.Background(), models.ElevatedCredential(), id)
	require.NoError(t, err)
	return p.CreditsBalance
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.TierTimeout = time.Second
	return cfg
}

func newTestAccessor(store profiles.Store, cfg *config.Config) *ProfileAccessor {
	a := NewProfileAccessor(store, models.ElevatedCredential(), fixedClock{testNow}, logging.NewDiscardLogger(), cfg)
	a.retryBase = time.Millisecond
	return a
}

func tokenFor(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	tok, err := auth.GenerateToken(subject, testSecret, expiresAt)
	require.NoError(t, err)
	return tok
}
