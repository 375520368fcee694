package federation_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
	"github.com/dropDatabas3/federation/internal/federation"
	"github.com/dropDatabas3/federation/internal/provider"
	"github.com/dropDatabas3/federation/internal/provider/providertest"
	"github.com/dropDatabas3/federation/internal/store/memory"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []domain.Provider
}

func (n *recordingNotifier) NotifyConflict(_ context.Context, _ *domain.UserProfile, attempted domain.Provider) {
	n.mu.Lock()
	n.calls = append(n.calls, attempted)
	n.mu.Unlock()
}

type env struct {
	svc        *federation.Service
	internal   *providertest.Server
	eventbrite *providertest.Server
	ixBinding  *provider.Binding
	ebBinding  *provider.Binding
	internalTS *memory.TokenStore
	thirdTS    *memory.TokenStore
	profiles   *memory.ProfileRepo
	notifier   *recordingNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ix := providertest.New("ix-client")
	eb := providertest.New("eb-client")
	t.Cleanup(ix.Close)
	t.Cleanup(eb.Close)

	e := &env{
		internal:   ix,
		eventbrite: eb,
		ixBinding:  ix.Binding(domain.ProviderInternal, "Ixortalk", "/login/ixortalk", "http://app/login/ixortalk", "read"),
		ebBinding:  eb.Binding(domain.ProviderEventbrite, "Eventbrite", "/login/eventbrite", "http://app/login/eventbrite"),
		internalTS: memory.NewTokenStore(),
		thirdTS:    memory.NewTokenStore(),
		profiles:   memory.NewProfileRepo(),
		notifier:   &recordingNotifier{},
	}
	reg, err := provider.NewRegistry(e.ixBinding, e.ebBinding)
	require.NoError(t, err)
	e.svc = federation.NewService(federation.Deps{
		Registry:         reg,
		InternalTokens:   e.internalTS,
		ThirdPartyTokens: e.thirdTS,
		Profiles:         e.profiles,
		Notifier:         e.notifier,
	})
	return e
}

func ixUserInfo(name, first string) map[string]any {
	return map[string]any{
		"name":        name,
		"authorities": []any{map[string]any{"authority": "ROLE_USER"}, map[string]any{"authority": "ROLE_ADMIN"}},
		"userInfo":    map[string]any{"firstName": first, "lastName": "Liddell"},
	}
}

// login simula el callback: exchange, user-info, extracción y CompleteLogin.
func (e *env) login(t *testing.T, fake *providertest.Server, b *provider.Binding) (*domain.UpstreamAuthentication, *domain.UserProfile, error) {
	t.Helper()
	ctx := context.Background()
	cc, err := b.Exchange(ctx, fake.NewCode())
	require.NoError(t, err)
	raw, err := cc.UserInfo(ctx)
	require.NoError(t, err)
	cp, err := provider.Extract(ctx, b.Provider, raw, cc)
	require.NoError(t, err)
	up := federation.NewUpstream(b, cp, raw)
	profile, err := e.svc.CompleteLogin(ctx, up, cc)
	return up, profile, err
}

// internalToken siembra un token interno que embebe auth.
func (e *env) internalToken(t *testing.T, value string, auth *domain.Authentication) {
	t.Helper()
	b, err := json.Marshal(auth)
	require.NoError(t, err)
	require.NoError(t, e.internalTS.StoreAccessToken(context.Background(), domain.TokenRecord{
		TokenID:          domain.TokenID(value),
		Token:            domain.AccessToken{Value: value, TokenType: "bearer"},
		AuthenticationID: auth.Key(),
		UserName:         auth.UserName,
		ClientID:         auth.ClientID,
		Authentication:   b,
	}))
}

func webapp() *domain.Authentication {
	return &domain.Authentication{ClientID: "webapp", Scopes: []string{"openid", "read"}}
}

func TestCompleteLogin_CreatesProfileAndSingleToken(t *testing.T) {
	e := newEnv(t)
	e.internal.SetUserInfo(ixUserInfo("alice@ixortalk.com", "Alice"))

	up, profile, err := e.login(t, e.internal, e.ixBinding)
	require.NoError(t, err)
	require.Equal(t, "alice@ixortalk.com", profile.Name)
	require.Equal(t, "alice@ixortalk.com", profile.Email)
	require.Equal(t, domain.ProviderInternal, profile.Provider)
	require.ElementsMatch(t, domain.Authorities("ROLE_USER", "ROLE_ADMIN"), profile.Authorities)
	require.Equal(t, 1, e.thirdTS.Len())

	rec, err := e.thirdTS.GetAccessToken(context.Background(), up.Key())
	require.NoError(t, err)
	require.Equal(t, "ix-client", rec.ClientID)
	require.Equal(t, "alice@ixortalk.com", rec.UserName)

	// un segundo login reemplaza el token, no lo duplica
	_, _, err = e.login(t, e.internal, e.ixBinding)
	require.NoError(t, err)
	require.Equal(t, 1, e.thirdTS.Len())
	rec2, err := e.thirdTS.GetAccessToken(context.Background(), up.Key())
	require.NoError(t, err)
	require.NotEqual(t, rec.Token.Value, rec2.Token.Value)
}

func TestCompleteLogin_ConcurrentLoginsKeepOneToken(t *testing.T) {
	e := newEnv(t)
	e.internal.SetUserInfo(ixUserInfo("alice@ixortalk.com", "Alice"))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			cc := e.ixBinding.Context(e.internal.Token())
			up := federation.NewUpstream(e.ixBinding, domain.CanonicalPrincipal{
				Provider: domain.ProviderInternal, Name: "alice@ixortalk.com",
			}, nil)
			_, err := e.svc.CompleteLogin(ctx, up, cc)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, e.thirdTS.Len())
}

func TestCompleteLogin_ProviderMismatchIsConflict(t *testing.T) {
	e := newEnv(t)
	e.internal.SetUserInfo(ixUserInfo("bob@ixortalk.com", "Bob"))
	_, before, err := e.login(t, e.internal, e.ixBinding)
	require.NoError(t, err)
	require.Equal(t, 1, e.thirdTS.Len())

	e.eventbrite.SetUserInfo(map[string]any{
		"emails":     []any{map[string]any{"email": "bob@ixortalk.com"}},
		"first_name": "Robert",
	})
	_, _, err = e.login(t, e.eventbrite, e.ebBinding)
	require.ErrorIs(t, err, domain.ErrProfileConflict)
	require.True(t, federation.IsConflict(err))

	after, err := e.profiles.FindByName(context.Background(), "bob@ixortalk.com")
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, domain.ProviderInternal, after.Provider)
	require.Equal(t, 1, e.thirdTS.Len(), "no eventbrite token stored")
	require.Equal(t, []domain.Provider{domain.ProviderEventbrite}, e.notifier.calls)
}

func TestSync_IdempotentAndReplacesAuthorities(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	up := &domain.UpstreamAuthentication{
		ClientID:    "ix-client",
		Principal:   domain.CanonicalPrincipal{Provider: domain.ProviderInternal, Name: "carol", FirstName: "Carol"},
		Authorities: domain.Authorities("ROLE_USER", "ROLE_ADMIN"),
	}
	p1, err := e.svc.Sync(ctx, up)
	require.NoError(t, err)
	p2, err := e.svc.Sync(ctx, up)
	require.NoError(t, err)
	require.Equal(t, p1, p2)

	up.Authorities = domain.Authorities("ROLE_USER")
	up.Principal.FirstName = "Caroline"
	p3, err := e.svc.Sync(ctx, up)
	require.NoError(t, err)
	require.Equal(t, p1.ID, p3.ID)
	require.Equal(t, "Caroline", p3.FirstName)
	require.Equal(t, domain.Authorities("ROLE_USER"), p3.Authorities)
}

func TestGetStoredThirdPartyToken_Paths(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.internal.SetUserInfo(ixUserInfo("alice@ixortalk.com", "Alice"))
	up, _, err := e.login(t, e.internal, e.ixBinding)
	require.NoError(t, err)

	// path 1: la autenticación embebe el upstream
	b, rec, err := e.svc.GetStoredThirdPartyToken(ctx, webapp().WithUpstream(up))
	require.NoError(t, err)
	require.Equal(t, domain.ProviderInternal, b.Provider)
	require.Equal(t, up.Key(), rec.AuthenticationID)

	// path 2: reconstruida desde el perfil
	rebuilt := &domain.Authentication{ClientID: "webapp", UserName: "alice@ixortalk.com", Provider: domain.ProviderInternal}
	_, rec2, err := e.svc.GetStoredThirdPartyToken(ctx, rebuilt)
	require.NoError(t, err)
	require.Equal(t, rec.TokenID, rec2.TokenID)

	// path 2 con dos filas del mismo cliente/usuario (scopes distintos)
	stale := *up
	stale.Scopes = []string{"legacy"}
	require.NoError(t, e.svc.StoreThirdPartyToken(ctx, &stale, e.ixBinding.Context(e.internal.Token())))
	_, _, err = e.svc.GetStoredThirdPartyToken(ctx, rebuilt)
	require.ErrorIs(t, err, domain.ErrTokenStateInconsistent)

	// path 1 sin fila
	ghost := *up
	ghost.Principal.Name = "ghost@ixortalk.com"
	_, _, err = e.svc.GetStoredThirdPartyToken(ctx, webapp().WithUpstream(&ghost))
	require.ErrorIs(t, err, domain.ErrTokenStateInconsistent)

	// path 2 sin perfil
	_, _, err = e.svc.GetStoredThirdPartyToken(ctx, &domain.Authentication{UserName: "nobody"})
	require.ErrorIs(t, err, domain.ErrTokenStateInconsistent)
}

func TestRefresh_ResyncsProfileAndRewritesInternalToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.internal.SetUserInfo(ixUserInfo("alice@ixortalk.com", "Alice"))
	up, _, err := e.login(t, e.internal, e.ixBinding)
	require.NoError(t, err)
	oldRec, err := e.thirdTS.GetAccessToken(ctx, up.Key())
	require.NoError(t, err)

	auth := webapp().WithUpstream(up)
	e.internalToken(t, "internal-1", auth)

	e.internal.SetUserInfo(ixUserInfo("alice@ixortalk.com", "Alicia"))
	res, err := e.svc.Refresh(ctx, federation.RefreshRequest{Authentication: auth, AccessToken: "internal-1"})
	require.NoError(t, err)
	require.Equal(t, "Alicia", res.Profile.FirstName)
	require.Equal(t, 1, e.internal.RefreshCalls())

	// token interno: mismo valor, nueva autenticación
	rec, err := e.internalTS.ReadAccessToken(ctx, "internal-1")
	require.NoError(t, err)
	stored, err := domain.DecodeAuthentication(rec.Authentication)
	require.NoError(t, err)
	cp, ok := stored.Principal()
	require.True(t, ok)
	require.Equal(t, "Alicia", cp.FirstName)
	require.Equal(t, auth.Key(), rec.AuthenticationID)

	// token de terceros reemplazado
	require.Equal(t, 1, e.thirdTS.Len())
	newRec, err := e.thirdTS.GetAccessToken(ctx, up.Key())
	require.NoError(t, err)
	require.NotEqual(t, oldRec.Token.Value, newRec.Token.Value)
	_, err = e.thirdTS.ReadAccessToken(ctx, oldRec.Token.Value)
	require.Error(t, err)
}

func TestRefresh_PathTwoWithoutInternalToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.internal.SetUserInfo(ixUserInfo("alice@ixortalk.com", "Alice"))
	_, _, err := e.login(t, e.internal, e.ixBinding)
	require.NoError(t, err)

	rebuilt := &domain.Authentication{ClientID: "webapp", UserName: "alice@ixortalk.com", Provider: domain.ProviderInternal}
	res, err := e.svc.Refresh(ctx, federation.RefreshRequest{Authentication: rebuilt})
	require.NoError(t, err)
	require.NotNil(t, res.Authentication.Upstream)
	require.Equal(t, 1, e.thirdTS.Len())
}

func TestRefresh_RejectedLeavesStateUntouched(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.internal.SetUserInfo(ixUserInfo("alice@ixortalk.com", "Alice"))
	up, _, err := e.login(t, e.internal, e.ixBinding)
	require.NoError(t, err)
	before, err := e.thirdTS.GetAccessToken(ctx, up.Key())
	require.NoError(t, err)

	e.internal.RejectRefresh(true)
	_, err = e.svc.Refresh(ctx, federation.RefreshRequest{Authentication: webapp().WithUpstream(up)})
	require.ErrorIs(t, err, domain.ErrUpstreamCredentialRejected)

	after, err := e.thirdTS.GetAccessToken(ctx, up.Key())
	require.NoError(t, err)
	require.Equal(t, before.Token.Value, after.Token.Value)
}

func TestRefresh_PrincipalChangedIsInconsistent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.internal.SetUserInfo(ixUserInfo("alice@ixortalk.com", "Alice"))
	up, _, err := e.login(t, e.internal, e.ixBinding)
	require.NoError(t, err)

	e.internal.SetUserInfo(ixUserInfo("mallory@ixortalk.com", "Mallory"))
	_, err = e.svc.Refresh(ctx, federation.RefreshRequest{Authentication: webapp().WithUpstream(up)})
	require.ErrorIs(t, err, domain.ErrTokenStateInconsistent)
}

func TestRefresh_EventbriteWithoutRefreshTokenReusesToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.eventbrite.SetRefreshTokens(false)
	e.eventbrite.SetExpiresIn(0)
	e.eventbrite.SetUserInfo(map[string]any{"emails": []any{map[string]any{"email": "eve@eb.com"}}, "first_name": "Eve"})
	up, _, err := e.login(t, e.eventbrite, e.ebBinding)
	require.NoError(t, err)

	e.eventbrite.SetUserInfo(map[string]any{"emails": []any{map[string]any{"email": "eve@eb.com"}}, "first_name": "Evelyn"})
	res, err := e.svc.Refresh(ctx, federation.RefreshRequest{Authentication: webapp().WithUpstream(up)})
	require.NoError(t, err)
	require.Equal(t, "Evelyn", res.Profile.FirstName)
	require.Zero(t, e.eventbrite.RefreshCalls())
}

func TestStoreThirdPartyToken_RejectedTokenIsNotStored(t *testing.T) {
	e := newEnv(t)
	up := &domain.UpstreamAuthentication{ClientID: "eb-client", Principal: domain.CanonicalPrincipal{Name: "eve"}}
	err := e.svc.StoreThirdPartyToken(context.Background(), up, e.ebBinding.Context(&oauth2.Token{}))
	require.ErrorIs(t, err, domain.ErrUpstreamCredentialRejected)
	require.Zero(t, e.thirdTS.Len())
}

// ctxTokenStore falla como pgx cuando el contexto ya terminó.
type ctxTokenStore struct {
	*memory.TokenStore
	afterGet func()
}

func (s *ctxTokenStore) GetAccessToken(ctx context.Context, id string) (*domain.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.TokenStore.GetAccessToken(ctx, id)
	if s.afterGet != nil {
		s.afterGet()
	}
	return rec, err
}

func (s *ctxTokenStore) StoreAccessToken(ctx context.Context, rec domain.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.TokenStore.StoreAccessToken(ctx, rec)
}

func (s *ctxTokenStore) RemoveAccessToken(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.TokenStore.RemoveAccessToken(ctx, value)
}

// cancelOnSave cancela el contexto del llamador después de guardar el perfil.
type cancelOnSave struct {
	*memory.ProfileRepo
	cancel func()
}

func (r *cancelOnSave) Save(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	saved, err := r.ProfileRepo.Save(ctx, p)
	r.cancel()
	return saved, err
}

func (e *env) serviceWith(t *testing.T, third *ctxTokenStore, profiles repository.ProfileRepository) *federation.Service {
	t.Helper()
	reg, err := provider.NewRegistry(e.ixBinding, e.ebBinding)
	require.NoError(t, err)
	return federation.NewService(federation.Deps{
		Registry:         reg,
		InternalTokens:   e.internalTS,
		ThirdPartyTokens: third,
		Profiles:         profiles,
	})
}

func TestRefresh_CallerCancellationDoesNotInterruptSequence(t *testing.T) {
	e := newEnv(t)
	e.internal.SetUserInfo(ixUserInfo("alice@ixortalk.com", "Alice"))
	up, _, err := e.login(t, e.internal, e.ixBinding)
	require.NoError(t, err)
	auth := webapp().WithUpstream(up)
	e.internalToken(t, "internal-1", auth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := e.serviceWith(t, &ctxTokenStore{TokenStore: e.thirdTS, afterGet: cancel}, e.profiles)

	// el cliente se va en medio del refresh
	e.internal.SetUserInfo(ixUserInfo("alice@ixortalk.com", "Alicia"))
	_, err = svc.Refresh(ctx, federation.RefreshRequest{Authentication: auth, AccessToken: "internal-1"})
	require.NoError(t, err)
	require.Equal(t, 1, e.thirdTS.Len())

	// y el siguiente refresh encuentra el token nuevo
	res, err := svc.Refresh(context.Background(), federation.RefreshRequest{Authentication: auth, AccessToken: "internal-1"})
	require.NoError(t, err)
	require.Equal(t, "Alicia", res.Profile.FirstName)
	require.Equal(t, 1, e.thirdTS.Len())
	require.Equal(t, 2, e.internal.RefreshCalls())
}

func TestCompleteLogin_CallerCancellationDoesNotInterruptSequence(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := e.serviceWith(t, &ctxTokenStore{TokenStore: e.thirdTS}, &cancelOnSave{ProfileRepo: e.profiles, cancel: cancel})

	cc := e.ixBinding.Context(e.internal.Token())
	up := federation.NewUpstream(e.ixBinding, domain.CanonicalPrincipal{
		Provider: domain.ProviderInternal, Name: "alice@ixortalk.com",
	}, nil)
	_, err := svc.CompleteLogin(ctx, up, cc)
	require.NoError(t, err)

	rec, err := e.thirdTS.GetAccessToken(context.Background(), up.Key())
	require.NoError(t, err)
	require.Equal(t, "alice@ixortalk.com", rec.UserName)
}
