package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
)

func record(value, authID, client, user, refresh string) domain.TokenRecord {
	return domain.TokenRecord{
		TokenID:          domain.TokenID(value),
		Token:            domain.AccessToken{Value: value, TokenType: "bearer", RefreshToken: refresh},
		AuthenticationID: authID,
		UserName:         user,
		ClientID:         client,
		Authentication:   []byte(`{}`),
		RefreshToken:     refresh,
	}
}

func TestTokenStore_SupersedesByAuthenticationID(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore()

	require.NoError(t, s.StoreAccessToken(ctx, record("t1", "auth-a", "c", "alice", "r1")))
	require.NoError(t, s.StoreAccessToken(ctx, record("t2", "auth-a", "c", "alice", "r2")))
	require.Equal(t, 1, s.Len())

	got, err := s.GetAccessToken(ctx, "auth-a")
	require.NoError(t, err)
	require.Equal(t, "t2", got.Token.Value)

	_, err = s.ReadAccessToken(ctx, "t1")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTokenStore_LookupsAndRemoval(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore()
	require.NoError(t, s.StoreAccessToken(ctx, record("t1", "auth-a", "c", "alice", "r1")))
	require.NoError(t, s.StoreAccessToken(ctx, record("t2", "auth-b", "c", "alice", "")))
	require.NoError(t, s.StoreAccessToken(ctx, record("t3", "auth-c", "other", "alice", "")))

	recs, err := s.FindTokensByClientIDAndUserName(ctx, "c", "alice")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	rec, err := s.ReadByRefreshToken(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "auth-a", rec.AuthenticationID)

	require.NoError(t, s.RemoveByRefreshToken(ctx, "r1"))
	_, err = s.GetAccessToken(ctx, "auth-a")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.RemoveAccessToken(ctx, "t2"))
	require.NoError(t, s.RemoveAccessToken(ctx, "t2"))
	require.Equal(t, 1, s.Len())
}

func TestProfileRepo_UpsertKeepsID(t *testing.T) {
	ctx := context.Background()
	r := NewProfileRepo()

	_, err := r.FindByName(ctx, "alice@x.io")
	require.ErrorIs(t, err, repository.ErrNotFound)

	p, err := r.Save(ctx, &domain.UserProfile{Name: "alice@x.io", FirstName: "Alice", Provider: domain.ProviderInternal,
		Authorities: domain.Authorities("ROLE_USER", "ROLE_USER", "ROLE_ADMIN")})
	require.NoError(t, err)
	require.NotZero(t, p.ID)
	require.Len(t, p.Authorities, 2)

	p2, err := r.Save(ctx, &domain.UserProfile{Name: "alice@x.io", FirstName: "Alicia", Provider: domain.ProviderInternal})
	require.NoError(t, err)
	require.Equal(t, p.ID, p2.ID)

	got, err := r.FindByName(ctx, "alice@x.io")
	require.NoError(t, err)
	require.Equal(t, "Alicia", got.FirstName)
	require.Empty(t, got.Authorities)
}
