package tenant

import (
	"time"
)

type TenantStatus string

var (
	Active    TenantStatus = "active"
	Suspended TenantStatus = "suspended"
)

func (t TenantStatus) String() string {
	switch t {
	case Active, Suspended:
		return string(t)
	default:
		return ""
	}
}

// Tenant is the isolation boundary; every other entity carries its id.
type Tenant struct {
	ID        string       `gorm:"column:id;primaryKey" json:"id"`
	Name      string       `gorm:"column:name" json:"name"`
	Status    TenantStatus `gorm:"column:status" json:"status"`
	CreatedAt time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

type CredentialStatus string

var (
	CredentialActive  CredentialStatus = "active"
	CredentialRevoked CredentialStatus = "revoked"
)

// Credential is a tenant-scoped bearer credential. The secret is stored as
// an argon2id hash; the plaintext is returned exactly once at creation.
type Credential struct {
	ID         string           `gorm:"column:id;primaryKey" json:"id"`
	TenantID   string           `gorm:"column:tenant_id;index" json:"tenant_id"`
	KeyID      string           `gorm:"column:key_id;uniqueIndex" json:"key_id"`
	SecretHash string           `gorm:"column:secret_hash" json:"-"`
	Status     CredentialStatus `gorm:"column:status" json:"status"`
	CreatedAt  time.Time        `gorm:"column:created_at" json:"created_at"`
}

func (Credential) TableName() string { return "tenant_credentials" }
