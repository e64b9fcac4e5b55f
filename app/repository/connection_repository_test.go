package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/MarketLink/app/models"
	"github.com/ManuelReschke/MarketLink/internal/pkg/vault"
)

func newTestRepo(t *testing.T) (*Connections, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Connection{}))

	v, err := vault.New("repository-test-secret-0123456789")
	require.NoError(t, err)
	return NewConnectionRepository(db, v), db
}

func TestUpsertIsIdempotent(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	in := ConnectionInput{UserID: 7, Provider: "snapdeal", AccessToken: "tok-1", ExternalID: "SD1", ExternalName: "First Name"}
	require.NoError(t, repo.Upsert(ctx, in))

	in.ExternalName = "Second Name"
	in.AccessToken = "tok-2"
	require.NoError(t, repo.Upsert(ctx, in))

	var count int64
	require.NoError(t, db.Model(&models.Connection{}).Where("user_id = ? AND provider = ?", 7, "snapdeal").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := repo.Get(ctx, 7, "snapdeal")
	require.NoError(t, err)
	assert.Equal(t, "Second Name", got.ExternalName)
	assert.Equal(t, models.ConnectionConnected, got.Status)
	assert.NotNil(t, got.ConnectedAt)

	creds, err := repo.LoadCredentials(ctx, 7, "snapdeal")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", creds.AccessToken)
	assert.Empty(t, creds.RefreshToken)
	assert.Nil(t, creds.ExpiresAt)
}

func TestTokensAreEncryptedAtRest(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	require.NoError(t, repo.Upsert(ctx, ConnectionInput{
		UserID: 1, Provider: "etsy", AccessToken: "plain-access", RefreshToken: "plain-refresh",
		ExpiresAt: &exp, ExternalID: "456", ExternalName: "Knit Corner",
	}))

	var row models.Connection
	require.NoError(t, db.First(&row).Error)
	assert.True(t, strings.HasPrefix(row.AccessTokenEnc, "v1."))
	assert.NotContains(t, row.AccessTokenEnc, "plain-access")
	require.NotNil(t, row.RefreshTokenEnc)
	assert.NotContains(t, *row.RefreshTokenEnc, "plain-refresh")

	creds, err := repo.LoadCredentials(ctx, 1, "etsy")
	require.NoError(t, err)
	assert.Equal(t, "plain-access", creds.AccessToken)
	assert.Equal(t, "plain-refresh", creds.RefreshToken)
	require.NotNil(t, creds.ExpiresAt)
	assert.True(t, exp.Equal(*creds.ExpiresAt))
}

func TestUpsertRejectsExpiryWithoutRefreshToken(t *testing.T) {
	repo, _ := newTestRepo(t)
	exp := time.Now().Add(time.Hour)

	err := repo.Upsert(context.Background(), ConnectionInput{
		UserID: 1, Provider: "etsy", AccessToken: "a", ExpiresAt: &exp, ExternalID: "1", ExternalName: "n",
	})
	assert.ErrorIs(t, err, models.ErrExpiryWithoutRefresh)
}

func TestMarkDisconnectedKeepsRow(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	assert.ErrorIs(t, repo.MarkDisconnected(ctx, 1, "meesho"), ErrConnectionNotFound)

	require.NoError(t, repo.Upsert(ctx, ConnectionInput{UserID: 1, Provider: "meesho", AccessToken: "a", ExternalID: "1", ExternalName: "n"}))
	require.NoError(t, repo.MarkDisconnected(ctx, 1, "meesho"))

	got, err := repo.Get(ctx, 1, "meesho")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionDisconnected, got.Status)

	err = repo.SaveRefreshed(ctx, 1, "meesho", Credentials{AccessToken: "b"})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestSaveRefreshedRotatesTokens(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	require.NoError(t, repo.Upsert(ctx, ConnectionInput{
		UserID: 3, Provider: "square", AccessToken: "old", RefreshToken: "old-r",
		ExpiresAt: &exp, ExternalID: "M1", ExternalName: "Cafe",
	}))

	next := exp.Add(30 * 24 * time.Hour)
	require.NoError(t, repo.SaveRefreshed(ctx, 3, "square", Credentials{AccessToken: "new", RefreshToken: "new-r", ExpiresAt: &next}))

	creds, err := repo.LoadCredentials(ctx, 3, "square")
	require.NoError(t, err)
	assert.Equal(t, "new", creds.AccessToken)
	assert.Equal(t, "new-r", creds.RefreshToken)
	assert.True(t, next.Equal(*creds.ExpiresAt))

	assert.ErrorIs(t, repo.SaveRefreshed(ctx, 3, "square", Credentials{AccessToken: "x", ExpiresAt: &next}), models.ErrExpiryWithoutRefresh)
}

func TestListByUserOnlySummaries(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, ConnectionInput{UserID: 9, Provider: "snapdeal", AccessToken: "a", ExternalID: "1", ExternalName: "B"}))
	require.NoError(t, repo.Upsert(ctx, ConnectionInput{UserID: 9, Provider: "meesho", AccessToken: "a", ExternalID: "2", ExternalName: "A"}))
	require.NoError(t, repo.Upsert(ctx, ConnectionInput{UserID: 10, Provider: "meesho", AccessToken: "a", ExternalID: "3", ExternalName: "C"}))

	list, err := repo.ListByUser(ctx, 9)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "meesho", list[0].Provider)
	assert.Equal(t, "snapdeal", list[1].Provider)

	_, err = repo.Get(ctx, 9, "etsy")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestFactoryReturnsSameRepository(t *testing.T) {
	_, db := newTestRepo(t)
	v, err := vault.New("repository-test-secret-0123456789")
	require.NoError(t, err)

	f := NewFactory(db, v)
	assert.Same(t, f.GetRepositories(), f.GetRepositories())
	assert.NotNil(t, f.GetConnectionRepository())
	assert.NotNil(t, f.GetCredentialStore())
}
