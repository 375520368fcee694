package pg

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
)

// Requiere un Postgres descartable: FEDERATION_TEST_PG_DSN=postgres://...
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("FEDERATION_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("FEDERATION_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn, Tuning{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.Migrate(ctx, "down", 0)
	require.NoError(t, err)
	_, err = s.Migrate(ctx, "up", 0)
	require.NoError(t, err)
	return s
}

func TestTokenStore_PG(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tokens := s.ThirdPartyTokens()

	rec := domain.TokenRecord{
		TokenID:          domain.TokenID("tok-1"),
		Token:            domain.AccessToken{Value: "tok-1", TokenType: "bearer", RefreshToken: "ref-1"},
		AuthenticationID: "auth-1",
		UserName:         "alice@x.io",
		ClientID:         "eb-client",
		Authentication:   []byte(`{"clientId":"eb-client"}`),
		RefreshToken:     "ref-1",
	}
	require.NoError(t, tokens.StoreAccessToken(ctx, rec))

	rec2 := rec
	rec2.TokenID = domain.TokenID("tok-2")
	rec2.Token.Value = "tok-2"
	require.NoError(t, tokens.StoreAccessToken(ctx, rec2))

	got, err := tokens.GetAccessToken(ctx, "auth-1")
	require.NoError(t, err)
	require.Equal(t, "tok-2", got.Token.Value)
	require.JSONEq(t, `{"clientId":"eb-client"}`, string(got.Authentication))

	list, err := tokens.FindTokensByClientIDAndUserName(ctx, "eb-client", "alice@x.io")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, tokens.RemoveAccessToken(ctx, "tok-2"))
	_, err = tokens.ReadAccessToken(ctx, "tok-2")
	require.ErrorIs(t, err, repository.ErrNotFound)

	// keyspaces independientes
	_, err = s.InternalTokens().GetAccessToken(ctx, "auth-1")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProfileRepo_PG(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := s.Profiles()

	p, err := repo.Save(ctx, &domain.UserProfile{
		Name: "alice@x.io", Email: "alice@x.io", FirstName: "Alice", Provider: domain.ProviderInternal,
		Authorities: domain.Authorities("ROLE_USER", "ROLE_ADMIN"),
	})
	require.NoError(t, err)

	p2, err := repo.Save(ctx, &domain.UserProfile{
		Name: "alice@x.io", Email: "alice@x.io", FirstName: "Alicia", Provider: domain.ProviderInternal,
		Authorities: domain.Authorities("ROLE_USER"),
	})
	require.NoError(t, err)
	require.Equal(t, p.ID, p2.ID)

	got, err := repo.FindByName(ctx, "alice@x.io")
	require.NoError(t, err)
	require.Equal(t, "Alicia", got.FirstName)
	require.Equal(t, domain.Authorities("ROLE_USER"), got.Authorities)
}
