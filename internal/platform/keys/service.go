package keys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"stencil/internal/platform/config"
	"stencil/internal/platform/models"
	"stencil/internal/platform/repositories"
)

// SecretPrefix marks every issued secret so leaked keys are recognizable in
// scanners and logs (the marker itself carries no entropy).
const SecretPrefix = "sk_"

const maxLabelLength = 255

var (
	// ErrInvalidKey is the single error for every validation failure:
	// unknown, expired, revoked, or mismatched. Callers must not be able
	// to tell which, or an attacker could enumerate live prefixes.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrInvalidParams rejects malformed issuance input.
	ErrInvalidParams = errors.New("invalid api key parameters")

	// ErrNameConflict means a key with the same client_id and name exists.
	ErrNameConflict = errors.New("api key with this client_id and name already exists")

	// ErrIssuanceConflict means two freshly generated secrets collided on
	// their prefix in a row. With 32+ bytes of entropy that points at a
	// broken random source, not bad luck.
	ErrIssuanceConflict = errors.New("api key prefix collided twice; check entropy source")
)

// Clock supplies the current time; injectable for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Store is the persistence surface the service needs. Implemented by
// repositories.APIKeyRepository.
type Store interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByPrefix(ctx context.Context, prefix string) (*models.APIKey, error)
	ValidateAndTouch(ctx context.Context, prefix string, now time.Time, verify func(hash string) bool) (*models.APIKey, error)
}

// Principal identifies the authenticated caller after a successful
// validation.
type Principal struct {
	KeyID    string
	ClientID string
}

type IssueParams struct {
	ClientID  string
	Name      string
	ExpiresAt *time.Time
}

// IssuedKey carries the one and only copy of the plaintext secret. After
// this value is dropped the secret is unrecoverable.
type IssuedKey struct {
	Record *models.APIKey
	Secret string
}

type Service struct {
	store   Store
	cfg     config.AuthConfig
	clock   Clock
	entropy io.Reader
}

func NewService(store Store, cfg config.AuthConfig) *Service {
	return &Service{
		store:   store,
		cfg:     cfg,
		clock:   systemClock{},
		entropy: rand.Reader,
	}
}

// Issue generates a fresh secret, stores its bcrypt hash and prefix, and
// returns the plaintext exactly once. A prefix collision with an existing
// record triggers one regenerate-and-retry before giving up.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*IssuedKey, error) {
	clientID := strings.TrimSpace(p.ClientID)
	name := strings.TrimSpace(p.Name)
	if clientID == "" || len(clientID) > maxLabelLength {
		return nil, fmt.Errorf("%w: client_id must be 1-%d characters", ErrInvalidParams, maxLabelLength)
	}
	if name == "" || len(name) > maxLabelLength {
		return nil, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidParams, maxLabelLength)
	}

	for attempt := 0; attempt < 2; attempt++ {
		secret, err := s.generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		prefix := secret[:models.PrefixLength]

		hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cfg.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash secret: %w", err)
		}

		record := &models.APIKey{
			Name:      name,
			ClientID:  clientID,
			KeyHash:   string(hash),
			KeyPrefix: prefix,
			ExpiresAt: p.ExpiresAt,
			CreatedAt: s.clock.Now().UTC(),
		}

		err = s.store.Create(ctx, record)
		if err == nil {
			zerolog.Ctx(ctx).Info().
				Str("key_id", record.ID).
				Str("key_prefix", prefix).
				Str("client_id", clientID).
				Msg("api key issued")
			return &IssuedKey{Record: record, Secret: secret}, nil
		}
		if !errors.Is(err, repositories.ErrDuplicate) {
			return nil, err
		}

		// The insert hit a uniqueness constraint. If a record with this
		// prefix exists, the fresh secret collided and a regenerated one
		// will almost certainly pass; anything else is a label conflict.
		if _, lookupErr := s.store.GetByPrefix(ctx, prefix); lookupErr == nil {
			zerolog.Ctx(ctx).Warn().
				Str("key_prefix", prefix).
				Msg("api key prefix collision, regenerating")
			continue
		}
		return nil, ErrNameConflict
	}

	return nil, ErrIssuanceConflict
}

// Validate resolves an attacker-controlled candidate string to a principal
// or to ErrInvalidKey. The prefix narrows the lookup to one indexed row;
// the bcrypt comparison and last_used_at update happen under the store's
// row lock (see repositories.APIKeyRepository.ValidateAndTouch). Store
// failures are returned as-is and must not be conflated with ErrInvalidKey.
func (s *Service) Validate(ctx context.Context, candidate string) (*Principal, error) {
	log := zerolog.Ctx(ctx)

	if len(candidate) < models.PrefixLength {
		log.Warn().Msg("api key validation failed: candidate too short")
		return nil, ErrInvalidKey
	}
	prefix := candidate[:models.PrefixLength]
	now := s.clock.Now().UTC()

	record, err := s.store.ValidateAndTouch(ctx, prefix, now, func(hash string) bool {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
	})
	switch {
	case err == nil:
		log.Debug().
			Str("key_id", record.ID).
			Str("key_prefix", prefix).
			Str("client_id", record.ClientID).
			Msg("api key validated")
		return &Principal{KeyID: record.ID, ClientID: record.ClientID}, nil
	case errors.Is(err, repositories.ErrNotFound):
		log.Warn().Str("key_prefix", prefix).Msg("api key validation failed: not found or revoked")
		return nil, ErrInvalidKey
	case errors.Is(err, repositories.ErrKeyExpired):
		log.Warn().Str("key_prefix", prefix).Msg("api key validation failed: expired")
		return nil, ErrInvalidKey
	case errors.Is(err, repositories.ErrKeyMismatch):
		log.Warn().Str("key_prefix", prefix).Msg("api key validation failed: hash mismatch")
		return nil, ErrInvalidKey
	default:
		return nil, err
	}
}

func (s *Service) generateSecret() (string, error) {
	buf := make([]byte, s.cfg.KeyEntropyBytes)
	if _, err := io.ReadFull(s.entropy, buf); err != nil {
		return "", err
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
