package keys

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"stencil/internal/platform/config"
	"stencil/internal/platform/models"
	"stencil/internal/platform/repositories"
)

// Low cost keeps the hashing in these tests fast; the service does not
// inspect the cost, config validation does.
func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		BcryptCost:      bcrypt.MinCost,
		KeyEntropyBytes: 32,
		MinKeyLength:    32,
		Header:          "X-API-Key",
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeStore implements Store in memory, mirroring the repository's locking
// semantics closely enough for service-level tests.
type fakeStore struct {
	records map[string]*models.APIKey // by prefix

	createCalls int
	createErrs  []error // consumed per call; nil entry means success
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*models.APIKey{}}
}

func (s *fakeStore) Create(ctx context.Context, key *models.APIKey) error {
	call := s.createCalls
	s.createCalls++
	if call < len(s.createErrs) && s.createErrs[call] != nil {
		return s.createErrs[call]
	}
	if _, exists := s.records[key.KeyPrefix]; exists {
		return repositories.ErrDuplicate
	}
	key.ID = key.KeyPrefix // stable, unique enough for tests
	s.records[key.KeyPrefix] = key
	return nil
}

func (s *fakeStore) GetByPrefix(ctx context.Context, prefix string) (*models.APIKey, error) {
	if key, ok := s.records[prefix]; ok {
		return key, nil
	}
	return nil, repositories.ErrNotFound
}

func (s *fakeStore) ValidateAndTouch(ctx context.Context, prefix string, now time.Time, verify func(hash string) bool) (*models.APIKey, error) {
	key, ok := s.records[prefix]
	if !ok || key.Revoked {
		return nil, repositories.ErrNotFound
	}
	if key.Expired(now) {
		return nil, repositories.ErrKeyExpired
	}
	if !verify(key.KeyHash) {
		return nil, repositories.ErrKeyMismatch
	}
	key.LastUsedAt = &now
	return key, nil
}

func newTestService(store Store) *Service {
	svc := NewService(store, testAuthConfig())
	svc.clock = fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return svc
}

func TestIssueSecretFormat(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	expiresAt := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	issued, err := svc.Issue(context.Background(), IssueParams{
		ClientID:  "web",
		Name:      "production",
		ExpiresAt: &expiresAt,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(issued.Secret, SecretPrefix))
	assert.Greater(t, len(issued.Secret), 40, "32 bytes of base64url entropy plus marker")
	assert.Equal(t, issued.Secret[:models.PrefixLength], issued.Record.KeyPrefix)
	assert.Equal(t, "web", issued.Record.ClientID)
	assert.Equal(t, "production", issued.Record.Name)
	require.NotNil(t, issued.Record.ExpiresAt)
	assert.True(t, issued.Record.ExpiresAt.Equal(expiresAt))

	// The stored hash must verify the full secret, and the secret must not
	// appear anywhere in the record.
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(issued.Record.KeyHash), []byte(issued.Secret)))
	assert.NotContains(t, issued.Record.KeyHash, issued.Secret)
}

func TestIssueDistinctSecrets(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	a, err := svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "a"})
	require.NoError(t, err)
	b, err := svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "b"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Secret, b.Secret)
	assert.NotEqual(t, a.Record.KeyPrefix, b.Record.KeyPrefix)
}

func TestIssueRejectsBadLabels(t *testing.T) {
	svc := newTestService(newFakeStore())

	cases := []struct {
		name   string
		params IssueParams
	}{
		{"empty client id", IssueParams{ClientID: "", Name: "ok"}},
		{"blank client id", IssueParams{ClientID: "   ", Name: "ok"}},
		{"empty name", IssueParams{ClientID: "web", Name: ""}},
		{"long name", IssueParams{ClientID: "web", Name: strings.Repeat("x", 256)}},
		{"long client id", IssueParams{ClientID: strings.Repeat("x", 256), Name: "ok"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Issue(context.Background(), tc.params)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestIssueValidateRoundTrip(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	issued, err := svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "roundtrip"})
	require.NoError(t, err)

	principal, err := svc.Validate(context.Background(), issued.Secret)
	require.NoError(t, err)
	assert.Equal(t, issued.Record.ID, principal.KeyID)
	assert.Equal(t, "web", principal.ClientID)

	// Validation stamps last_used_at through the store.
	require.NotNil(t, store.records[issued.Record.KeyPrefix].LastUsedAt)
}

func TestValidateUniformFailures(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	issued, err := svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "victim"})
	require.NoError(t, err)

	expired := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	expiredKey, err := svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "expired", ExpiresAt: &expired})
	require.NoError(t, err)

	revoked, err := svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "revoked"})
	require.NoError(t, err)
	store.records[revoked.Record.KeyPrefix].Revoked = true

	cases := []struct {
		name      string
		candidate string
	}{
		{"too short", "sk_short"},
		{"unknown prefix", SecretPrefix + strings.Repeat("A", 43)},
		{"tampered secret", issued.Secret[:len(issued.Secret)-1] + flip(issued.Secret[len(issued.Secret)-1])},
		{"expired key", expiredKey.Secret},
		{"revoked key", revoked.Secret},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			principal, err := svc.Validate(context.Background(), tc.candidate)
			assert.Nil(t, principal)
			// Every failure collapses to the same error so callers cannot
			// distinguish why.
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestValidateStoreFailurePassesThrough(t *testing.T) {
	store := &erroringStore{err: errors.New("connection refused")}
	svc := newTestService(store)

	_, err := svc.Validate(context.Background(), SecretPrefix+strings.Repeat("A", 43))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidKey)
}

func TestIssuePrefixCollisionRetriesOnce(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	// Seed a record and force the first insert to report a duplicate while
	// a colliding prefix exists, so the service must regenerate.
	seeded, err := svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "seed"})
	require.NoError(t, err)

	store.createCalls = 0
	store.createErrs = []error{repositories.ErrDuplicate}
	collider := &collidingStore{fakeStore: store, collidedPrefix: seeded.Record.KeyPrefix}
	svc.store = collider

	issued, err := svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "retry"})
	require.NoError(t, err)
	assert.Equal(t, 2, store.createCalls)
	assert.NotEqual(t, seeded.Record.KeyPrefix, issued.Record.KeyPrefix)
}

func TestIssuePrefixCollisionTwiceFails(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	seeded, err := svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "seed"})
	require.NoError(t, err)

	store.createCalls = 0
	store.createErrs = []error{repositories.ErrDuplicate, repositories.ErrDuplicate}
	svc.store = &collidingStore{fakeStore: store, collidedPrefix: seeded.Record.KeyPrefix}

	_, err = svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "unlucky"})
	assert.ErrorIs(t, err, ErrIssuanceConflict)
	assert.Equal(t, 2, store.createCalls)
}

func TestIssueNameConflict(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	// Duplicate insert with no colliding prefix on record means the
	// client_id+name uniqueness constraint fired.
	store.createErrs = []error{repositories.ErrDuplicate}

	_, err := svc.Issue(context.Background(), IssueParams{ClientID: "web", Name: "taken"})
	assert.ErrorIs(t, err, ErrNameConflict)
	assert.Equal(t, 1, store.createCalls, "label conflicts must not be retried")
}

// collidingStore reports every prefix as existing, simulating a prefix
// collision on lookup after a duplicate insert.
type collidingStore struct {
	*fakeStore
	collidedPrefix string
}

func (s *collidingStore) GetByPrefix(ctx context.Context, prefix string) (*models.APIKey, error) {
	return &models.APIKey{KeyPrefix: s.collidedPrefix}, nil
}

type erroringStore struct{ err error }

func (s *erroringStore) Create(ctx context.Context, key *models.APIKey) error { return s.err }
func (s *erroringStore) GetByPrefix(ctx context.Context, prefix string) (*models.APIKey, error) {
	return nil, s.err
}
func (s *erroringStore) ValidateAndTouch(ctx context.Context, prefix string, now time.Time, verify func(hash string) bool) (*models.APIKey, error) {
	return nil, s.err
}

func flip(b byte) string {
	if b == 'A' {
		return "B"
	}
	return "A"
}
