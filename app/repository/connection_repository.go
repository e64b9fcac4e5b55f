package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/MarketLink/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Connections implements ConnectionRepository and CredentialStore
type Connections struct {
	db     *gorm.DB
	cipher Cipher
	now    func() time.Time
}

// NewConnectionRepository creates a connection repository that seals tokens with cipher
func NewConnectionRepository(db *gorm.DB, cipher Cipher) *Connections {
	return &Connections{db: db, cipher: cipher, now: time.Now}
}

// Upsert creates or replaces the connection for (UserID, Provider) and marks
// it connected.
func (r *Connections) Upsert(ctx context.Context, in ConnectionInput) error {
	accessEnc, refreshEnc, err := r.seal(in.AccessToken, in.RefreshToken)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	conn := &models.Connection{
		UserID:          in.UserID,
		Provider:        in.Provider,
		Status:          models.ConnectionConnected,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  in.ExpiresAt,
		ExternalID:      in.ExternalID,
		ExternalName:    in.ExternalName,
		ConnectedAt:     &now,
	}
	if err := conn.Validate(); err != nil {
		return fmt.Errorf("repository: invalid connection: %w", err)
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "provider"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"access_token_enc",
			"refresh_token_enc",
			"token_expires_at",
			"external_id",
			"external_name",
			"connected_at",
			"updated_at",
		}),
	}).Create(conn).Error
}

func (r *Connections) Get(ctx context.Context, userID uint, provider string) (*models.ConnectionSummary, error) {
	conn, err := r.find(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	s := conn.Summary()
	return &s, nil
}

func (r *Connections) ListByUser(ctx context.Context, userID uint) ([]models.ConnectionSummary, error) {
	var conns []models.Connection
	err := r.db.WithContext(ctx).
		Select("provider", "status", "external_id", "external_name", "connected_at").
		Where("user_id = ?", userID).
		Order("provider ASC").
		Find(&conns).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.ConnectionSummary, 0, len(conns))
	for i := range conns {
		out = append(out, conns[i].Summary())
	}
	return out, nil
}

// MarkDisconnected keeps the row and its sealed tokens.
func (r *Connections) MarkDisconnected(ctx context.Context, userID uint, provider string) error {
	tx := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("user_id = ? AND provider = ?", userID, provider).
		Update("status", models.ConnectionDisconnected)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

func (r *Connections) LoadCredentials(ctx context.Context, userID uint, provider string) (*Credentials, error) {
	conn, err := r.find(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	creds := &Credentials{Status: conn.Status, ExpiresAt: conn.TokenExpiresAt}
	if conn.AccessTokenEnc != "" {
		if creds.AccessToken, err = r.cipher.Decrypt(conn.AccessTokenEnc); err != nil {
			return nil, fmt.Errorf("repository: decrypt access token: %w", err)
		}
	}
	if conn.RefreshTokenEnc != nil {
		if creds.RefreshToken, err = r.cipher.Decrypt(*conn.RefreshTokenEnc); err != nil {
			return nil, fmt.Errorf("repository: decrypt refresh token: %w", err)
		}
	}
	return creds, nil
}

// SaveRefreshed rotates the tokens of a connected row in place.
func (r *Connections) SaveRefreshed(ctx context.Context, userID uint, provider string, creds Credentials) error {
	accessEnc, refreshEnc, err := r.seal(creds.AccessToken, creds.RefreshToken)
	if err != nil {
		return err
	}
	if accessEnc == "" {
		return models.ErrConnectedWithoutToken
	}
	if creds.ExpiresAt != nil && refreshEnc == nil {
		return models.ErrExpiryWithoutRefresh
	}

	tx := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("user_id = ? AND provider = ? AND status = ?", userID, provider, models.ConnectionConnected).
		Updates(map[string]any{
			"access_token_enc":  accessEnc,
			"refresh_token_enc": refreshEnc,
			"token_expires_at":  creds.ExpiresAt,
			"updated_at":        r.now().UTC(),
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

func (r *Connections) find(ctx context.Context, userID uint, provider string) (*models.Connection, error) {
	var conn models.Connection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// seal encrypts the access token and, when present, the refresh token. An
// empty refresh token stays absent rather than sealed.
func (r *Connections) seal(access, refresh string) (string, *string, error) {
	var accessEnc string
	if access != "" {
		enc, err := r.cipher.Encrypt(access)
		if err != nil {
			return "", nil, fmt.Errorf("repository: encrypt access token: %w", err)
		}
		accessEnc = enc
	}
	if refresh == "" {
		return accessEnc, nil, nil
	}
	enc, err := r.cipher.Encrypt(refresh)
	if err != nil {
		return "", nil, fmt.Errorf("repository: encrypt refresh token: %w", err)
	}
	return accessEnc, &enc, nil
}
