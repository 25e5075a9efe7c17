package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is one merchant account. APIKeyHash is a bcrypt hash of the issued
// API key; the plaintext is shown once at creation and never stored.
type Tenant struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string    `gorm:"column:name;not null;uniqueIndex" json:"name"`
	APIKeyHash string    `gorm:"column:api_key_hash;not null" json:"-"`
	Active     bool      `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenant" }
