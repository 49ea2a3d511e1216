package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PrefixLength is the number of leading characters of a secret that are
// stored in cleartext for indexed lookup. The prefix alone cannot
// authenticate; the remaining entropy lives only in the bcrypt hash.
const PrefixLength = 12

// APIKey is a persisted credential. The plaintext secret exists only at
// issuance time; rows are never deleted, revocation is a one-way flag.
type APIKey struct {
	ID       string `gorm:"type:uuid;primaryKey" json:"id"`
	Name     string `gorm:"size:255;not null;uniqueIndex:uq_api_keys_client_id_name,priority:2" json:"name"`
	ClientID string `gorm:"size:255;not null;index;uniqueIndex:uq_api_keys_client_id_name,priority:1" json:"client_id"`

	// KeyHash is the bcrypt hash of the full secret. Never serialized.
	KeyHash string `gorm:"size:255;not null;uniqueIndex" json:"-"`

	// KeyPrefix is the first PrefixLength characters of the secret,
	// unique across all keys so a validation is a single indexed read.
	KeyPrefix string `gorm:"size:12;not null;uniqueIndex" json:"key_prefix"`

	Revoked   bool       `gorm:"not null;default:false;index" json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`

	// ExpiresAt nil means the key never expires.
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (APIKey) TableName() string { return "api_keys" }

func (k *APIKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return nil
}

// Active reports whether the key may authenticate at the given instant:
// not revoked and not past its expiration.
func (k *APIKey) Active(now time.Time) bool {
	if k.Revoked {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Expired reports whether the key is past its expiration, independent of
// revocation state.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}
