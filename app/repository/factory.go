package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db     *gorm.DB
	cipher Cipher
	repos  *Repositories
	once   sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB, cipher Cipher) *Factory {
	return &Factory{
		db:     db,
		cipher: cipher,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db, f.cipher)
	})
	return f.repos
}

// GetConnectionRepository returns the connection repository instance
func (f *Factory) GetConnectionRepository() ConnectionRepository {
	return f.GetRepositories().Connection
}

// GetCredentialStore returns the credential store backing token refresh
func (f *Factory) GetCredentialStore() CredentialStore {
	return f.GetRepositories().Credentials
}
