// Package session owns authentication state and the lifecycle of the
// per-user sync subsystems. A successful credential exchange persists the
// token and profile, then brings up the cart synchronizer, catalog cache
// and notification channel for that user; logout tears all of it down and
// clears the durable session keys.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/packlane/storefront-sync/internal/api"
	"github.com/packlane/storefront-sync/internal/cart"
	"github.com/packlane/storefront-sync/internal/catalog"
	"github.com/packlane/storefront-sync/internal/notifications"
	"github.com/packlane/storefront-sync/internal/store"
	"github.com/packlane/storefront-sync/pkg/config"
	pkgerrors "github.com/packlane/storefront-sync/pkg/errors"
	"github.com/packlane/storefront-sync/pkg/logger"
	"github.com/packlane/storefront-sync/pkg/metrics"
	"go.uber.org/multierr"
)

// Session is the authenticated state snapshot exposed to callers.
type Session struct {
	Token   string
	Profile api.Profile
}

// Params bundles the dependencies required to build a manager.
type Params struct {
	Config  config.Config
	Durable store.Store
	Logger  *logger.Logger
	Metrics *metrics.SyncMetrics
}

// Manager is the session/auth manager. It is the TokenSource for the api
// client it owns, so every user-scoped call is gated on a live token.
type Manager struct {
	mu      sync.Mutex
	token   string
	profile *api.Profile

	cartSync *cart.Synchronizer
	catalog  *catalog.Cache
	channel  *notifications.Channel

	client  *api.Client
	cfg     config.Config
	durable store.Store
	log     *logger.Logger
	metrics *metrics.SyncMetrics
}

// NewManager wires the manager and its api client. No session is active
// until Login, Register, OAuthLogin or Restore succeeds.
func NewManager(params Params) (*Manager, error) {
	if params.Durable == nil {
		return nil, fmt.Errorf("durable store required")
	}
	m := &Manager{
		cfg:     params.Config,
		durable: params.Durable,
		log:     params.Logger,
		metrics: params.Metrics,
	}
	client, err := api.NewClient(params.Config.API, m)
	if err != nil {
		return nil, fmt.Errorf("build api client: %w", err)
	}
	m.client = client
	return m, nil
}

// Token implements api.TokenSource. It fails fast with an auth error when
// no session is active or the token's exp claim has already passed, so an
// expired session never reaches the network.
func (m *Manager) Token() (string, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if token == "" {
		return "", pkgerrors.New(pkgerrors.CodeAuth, "no active session")
	}

	// exp is checked unverified: the client does not hold the signing
	// secret, and the server re-validates every call anyway.
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
			return "", pkgerrors.New(pkgerrors.CodeAuth, "session token expired")
		}
	}
	return token, nil
}

// Login exchanges email/password credentials for a session.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	resp, err := m.client.SignIn(ctx, api.SignInRequest{Email: email, Password: password})
	if err != nil {
		return err
	}
	return m.establish(ctx, resp.Token, resp.Profile)
}

// Register creates an account and establishes its first session.
func (m *Manager) Register(ctx context.Context, req api.SignUpRequest) error {
	resp, err := m.client.SignUp(ctx, req)
	if err != nil {
		return err
	}
	return m.establish(ctx, resp.Token, resp.Profile)
}

// OAuthLogin trades a login-provider token for a platform session.
func (m *Manager) OAuthLogin(ctx context.Context, provider, providerToken string) error {
	resp, err := m.client.ExchangeOAuthToken(ctx, api.OAuthRequest{Provider: provider, ProviderToken: providerToken})
	if err != nil {
		return err
	}
	return m.establish(ctx, resp.Token, resp.Profile)
}

// Restore rebuilds a session from the durable store without a fresh
// credential exchange, so a process restart does not log the user out.
func (m *Manager) Restore(ctx context.Context) error {
	rawToken, err := m.durable.Get(ctx, store.AuthTokenKey())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeAuth, "no stored session")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read stored token")
	}
	rawProfile, err := m.durable.Get(ctx, store.ProfileKey())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeAuth, "no stored session")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read stored profile")
	}

	var profile api.Profile
	if err := json.Unmarshal(rawProfile, &profile); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode stored profile")
	}
	return m.establish(ctx, string(rawToken), profile)
}

// establish persists the session and brings up the per-user subsystems.
// The cart loads remote-first with cached-snapshot fallback; a push
// channel that cannot connect degrades the feed but does not fail the
// session.
func (m *Manager) establish(ctx context.Context, token string, profile api.Profile) error {
	if err := m.durable.Set(ctx, store.AuthTokenKey(), []byte(token)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist token")
	}
	encoded, err := json.Marshal(profile)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode profile")
	}
	if err := m.durable.Set(ctx, store.ProfileKey(), encoded); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist profile")
	}

	m.mu.Lock()
	m.token = token
	m.profile = &profile
	m.mu.Unlock()

	userID := profile.UserID.String()
	cartSync, err := cart.NewSynchronizer(cart.Params{
		UserID:  userID,
		Remote:  m.client,
		Durable: m.durable,
		Logger:  m.log,
		Metrics: m.metrics,
	})
	if err != nil {
		return fmt.Errorf("build cart synchronizer: %w", err)
	}
	catalogCache, err := catalog.NewCache(m.client, m.durable, m.log, m.metrics)
	if err != nil {
		_ = cartSync.Close()
		return fmt.Errorf("build catalog cache: %w", err)
	}
	channel, err := notifications.NewChannel(notifications.Params{
		UserID:  userID,
		Remote:  m.client,
		Tokens:  m,
		Config:  m.cfg.Push,
		Logger:  m.log,
		Metrics: m.metrics,
	})
	if err != nil {
		_ = cartSync.Close()
		return fmt.Errorf("build notification channel: %w", err)
	}

	if err := cartSync.Load(ctx); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeAuth) {
			return m.abortEstablish(ctx, cartSync, channel, err)
		}
		m.warn(ctx, "loading cart on session start failed", err)
	}
	if err := channel.Connect(ctx); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeAuth) {
			return m.abortEstablish(ctx, cartSync, channel, err)
		}
		m.warn(ctx, "push channel unavailable on session start", err)
	}

	m.mu.Lock()
	m.cartSync = cartSync
	m.catalog = catalogCache
	m.channel = channel
	m.mu.Unlock()
	return nil
}

// abortEstablish undoes a partially established session after an auth
// failure: the token the exchange produced is unusable, so the persisted
// session keys are cleared again and the subsystems torn down.
func (m *Manager) abortEstablish(ctx context.Context, cartSync *cart.Synchronizer, channel *notifications.Channel, cause error) error {
	m.mu.Lock()
	m.token = ""
	m.profile = nil
	m.mu.Unlock()

	_ = cartSync.Close()
	_ = channel.Close()
	if err := m.durable.Delete(ctx, store.AuthTokenKey()); err != nil {
		m.warn(ctx, "clearing token after auth failure failed", err)
	}
	if err := m.durable.Delete(ctx, store.ProfileKey()); err != nil {
		m.warn(ctx, "clearing profile after auth failure failed", err)
	}
	return cause
}

// Logout tears down the subsystems and clears every session-scoped key
// from memory and the durable store. Teardown continues past individual
// failures; the aggregate error is returned.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	cartSync := m.cartSync
	channel := m.channel
	m.token = ""
	m.profile = nil
	m.cartSync = nil
	m.catalog = nil
	m.channel = nil
	m.mu.Unlock()

	var err error
	if channel != nil {
		err = multierr.Append(err, channel.Close())
		channel.Reset()
	}
	if cartSync != nil {
		err = multierr.Append(err, cartSync.Clear(ctx))
		err = multierr.Append(err, cartSync.Close())
	}
	err = multierr.Append(err, m.durable.Delete(ctx, store.AuthTokenKey()))
	err = multierr.Append(err, m.durable.Delete(ctx, store.ProfileKey()))
	return err
}

// RefreshProfile re-fetches the profile for the current token. An auth
// failure means the session is no longer valid and forces a logout.
func (m *Manager) RefreshProfile(ctx context.Context) (*api.Profile, error) {
	profile, err := m.client.GetProfile(ctx)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeAuth) {
			if logoutErr := m.Logout(ctx); logoutErr != nil {
				m.warn(ctx, "teardown after auth failure was incomplete", logoutErr)
			}
		}
		return nil, err
	}
	return profile, m.adoptProfile(ctx, *profile)
}

// UpdateProfile applies a partial mutation and adopts the canonical
// profile the server returns.
func (m *Manager) UpdateProfile(ctx context.Context, req api.UpdateProfileRequest) (*api.Profile, error) {
	profile, err := m.client.UpdateProfile(ctx, req)
	if err != nil {
		return nil, err
	}
	return profile, m.adoptProfile(ctx, *profile)
}

// Checkout places an order for the current cart and profile.
func (m *Manager) Checkout(ctx context.Context, paymentMethod string) (*api.OrderConfirmation, error) {
	m.mu.Lock()
	cartSync := m.cartSync
	profile := m.profile
	m.mu.Unlock()
	if cartSync == nil || profile == nil {
		return nil, pkgerrors.New(pkgerrors.CodeAuth, "no active session")
	}
	return cartSync.Checkout(ctx, paymentMethod, *profile)
}

// Current returns the active session snapshot.
func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" || m.profile == nil {
		return nil, pkgerrors.New(pkgerrors.CodeAuth, "no active session")
	}
	return &Session{Token: m.token, Profile: *m.profile}, nil
}

// Cart returns the synchronizer for the active session, or nil when
// logged out.
func (m *Manager) Cart() *cart.Synchronizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cartSync
}

// Catalog returns the catalog cache for the active session, or nil when
// logged out.
func (m *Manager) Catalog() *catalog.Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalog
}

// Notifications returns the push channel for the active session, or nil
// when logged out.
func (m *Manager) Notifications() *notifications.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

func (m *Manager) adoptProfile(ctx context.Context, profile api.Profile) error {
	m.mu.Lock()
	m.profile = &profile
	m.mu.Unlock()

	encoded, err := json.Marshal(profile)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode profile")
	}
	if err := m.durable.Set(ctx, store.ProfileKey(), encoded); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist profile")
	}
	return nil
}

func (m *Manager) warn(ctx context.Context, msg string, err error) {
	if m.log == nil {
		return
	}
	m.log.Warn(m.log.WithField(ctx, "error", err.Error()), msg)
}
