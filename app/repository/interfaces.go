package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/MarketLink/app/models"
	"gorm.io/gorm"
)

var ErrConnectionNotFound = errors.New("repository: connection not found")

// Cipher seals token values before they reach the database.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// ConnectionInput is the outcome of a successful connect. RefreshToken is
// empty and ExpiresAt nil for providers with permanent tokens.
type ConnectionInput struct {
	UserID       uint
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	ExternalID   string
	ExternalName string
}

// Credentials is the decrypted token material. Only the token lifecycle
// manager reads it.
type Credentials struct {
	Status       models.ConnectionStatus
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// ConnectionRepository is the view of connections that never exposes tokens.
type ConnectionRepository interface {
	Upsert(ctx context.Context, in ConnectionInput) error
	Get(ctx context.Context, userID uint, provider string) (*models.ConnectionSummary, error)
	ListByUser(ctx context.Context, userID uint) ([]models.ConnectionSummary, error)
	MarkDisconnected(ctx context.Context, userID uint, provider string) error
}

// CredentialStore reads and rotates token material.
type CredentialStore interface {
	LoadCredentials(ctx context.Context, userID uint, provider string) (*Credentials, error)
	SaveRefreshed(ctx context.Context, userID uint, provider string, creds Credentials) error
}

// Repositories contains all repository instances
type Repositories struct {
	Connection  ConnectionRepository
	Credentials CredentialStore
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB, cipher Cipher) *Repositories {
	conn := NewConnectionRepository(db, cipher)
	return &Repositories{
		Connection:  conn,
		Credentials: conn,
	}
}
