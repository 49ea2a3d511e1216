package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stencil/internal/platform/models"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint (key prefix, key hash, or client_id+name).
	ErrDuplicate = errors.New("duplicate record")

	// ErrKeyExpired and ErrKeyMismatch are the internal causes of a failed
	// validation. Callers must collapse them into a uniform failure before
	// anything leaves the process.
	ErrKeyExpired  = errors.New("api key expired")
	ErrKeyMismatch = errors.New("api key mismatch")
)

// MinLookupPrefix is the shortest prefix accepted for administrative
// lookups, so a one-character search cannot match broadly.
const MinLookupPrefix = 4

type APIKeyRepository struct {
	db *gorm.DB
}

func NewAPIKeyRepository(db *gorm.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	err := r.db.WithContext(ctx).Create(key).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// ValidateAndTouch performs the locked read-modify-write at the heart of
// key validation. Inside one transaction it:
//
//  1. reads the single non-revoked record matching prefix under
//     SELECT ... FOR UPDATE, serializing concurrent validations of the
//     same key (validations of different keys never contend);
//  2. rejects expired records without mutating anything;
//  3. calls verify with the stored hash (bcrypt comparison happens while
//     the lock is held so last_used_at cannot be lost to a racing writer);
//  4. stamps last_used_at and commits.
//
// Any error rolls the transaction back as a unit; a cancelled context or an
// exceeded statement timeout aborts the same way and releases the lock.
func (r *APIKeyRepository) ValidateAndTouch(
	ctx context.Context,
	prefix string,
	now time.Time,
	verify func(hash string) bool,
) (*models.APIKey, error) {
	var key models.APIKey

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("key_prefix = ? AND revoked = ?", prefix, false).
			First(&key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if key.Expired(now) {
			return ErrKeyExpired
		}

		if !verify(key.KeyHash) {
			return ErrKeyMismatch
		}

		key.LastUsedAt = &now
		return tx.Model(&key).Update("last_used_at", now).Error
	})
	if err != nil {
		return nil, err
	}

	return &key, nil
}

func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetByPrefix finds a key whose prefix starts with the given fragment.
// Fragments shorter than MinLookupPrefix are rejected outright.
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, prefix string) (*models.APIKey, error) {
	if len(prefix) < MinLookupPrefix {
		return nil, ErrNotFound
	}

	var key models.APIKey
	err := r.db.WithContext(ctx).
		Where("key_prefix LIKE ?", prefix+"%").
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// List returns one page of keys, newest first, plus the total count.
func (r *APIKeyRepository) List(ctx context.Context, offset, limit int) ([]models.APIKey, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.APIKey{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var keys []models.APIKey
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&keys).Error
	if err != nil {
		return nil, 0, err
	}

	return keys, total, nil
}

// Revoke marks a key revoked. Revocation is monotonic: revoking an
// already-revoked key is a no-op success, and nothing ever clears the flag.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ? AND revoked = ?", id, false).
		Updates(map[string]interface{}{"revoked": true, "revoked_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Nothing updated: either the key does not exist or it was already
	// revoked. Only the former is an error.
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.APIKey{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAll is used by the readiness probe to verify table access, not just
// connectivity.
func (r *APIKeyRepository) CountAll(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.APIKey{}).Count(&total).Error
	return total, err
}
