package models

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// ConnectionStatus is the lifecycle state of a marketplace connection.
type ConnectionStatus string

const (
	ConnectionPending      ConnectionStatus = "pending"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionError        ConnectionStatus = "error"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

var (
	ErrConnectedWithoutToken = errors.New("connected connection without access token")
	ErrExpiryWithoutRefresh  = errors.New("expiring token without refresh token")
	ErrEmptyRefreshToken     = errors.New("empty refresh token must be absent")
)

// Connection links one user to one marketplace. Token columns hold vault
// ciphertext only.
type Connection struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	UserID          uint             `gorm:"not null;index:ux_marketplace_connections_user_provider,unique" json:"user_id" validate:"required"`
	Provider        string           `gorm:"type:varchar(32);not null;index:ux_marketplace_connections_user_provider,unique" json:"provider" validate:"required,max=32"`
	Status          ConnectionStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status" validate:"required,oneof=pending connected error disconnected"`
	AccessTokenEnc  string           `gorm:"type:text" json:"-"`
	RefreshTokenEnc *string          `gorm:"type:text;default:null" json:"-"`
	TokenExpiresAt  *time.Time       `gorm:"default:null" json:"token_expires_at,omitempty"`
	ExternalID      string           `gorm:"type:varchar(191);not null;default:''" json:"external_id" validate:"max=191"`
	ExternalName    string           `gorm:"type:varchar(255);not null;default:''" json:"external_name" validate:"max=255"`
	ConnectedAt     *time.Time       `gorm:"default:null" json:"connected_at,omitempty"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Connection) TableName() string {
	return "marketplace_connections"
}

// Validate checks field constraints and the token invariants.
func (c *Connection) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Status == ConnectionConnected && c.AccessTokenEnc == "" {
		return ErrConnectedWithoutToken
	}
	if c.RefreshTokenEnc != nil && *c.RefreshTokenEnc == "" {
		return ErrEmptyRefreshToken
	}
	if c.TokenExpiresAt != nil && c.RefreshTokenEnc == nil {
		return ErrExpiryWithoutRefresh
	}
	return nil
}

// Summary strips every token field.
func (c *Connection) Summary() ConnectionSummary {
	return ConnectionSummary{
		Provider:     c.Provider,
		Status:       c.Status,
		ExternalID:   c.ExternalID,
		ExternalName: c.ExternalName,
		ConnectedAt:  c.ConnectedAt,
	}
}

// ConnectionSummary is the only view of a connection handed to listing UIs.
type ConnectionSummary struct {
	Provider     string           `json:"provider"`
	Status       ConnectionStatus `json:"status"`
	ExternalID   string           `json:"external_id"`
	ExternalName string           `json:"external_name"`
	ConnectedAt  *time.Time       `json:"connected_at,omitempty"`
}
