package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nhle/sortify/internal/api"
	"github.com/nhle/sortify/internal/credential"
	"github.com/nhle/sortify/internal/logging"
	"github.com/nhle/sortify/internal/model"
)

// Fallback messages used when the backend gives no text.
const (
	msgNetwork          = "Unable to reach the server. Please try again."
	msgLoginFailed      = "Login failed"
	msgRegisterFailed   = "Registration failed"
	msgInvalidToken     = "Received an invalid or expired session token"
	msgNoOAuthToken     = "No token received from OAuth provider"
	msgForgotFailed     = "Failed to send reset email"
	msgResetFailed      = "Failed to reset password"
	msgSendVerifyFailed = "Failed to send verification email"
	msgVerifyFailed     = "Failed to verify email"
	msgNotAuthenticated = "Not authenticated"
)

// Backend is the outbound request layer the manager drives. *api.Client
// implements it.
type Backend interface {
	SetToken(token string)
	ClearToken()

	Login(ctx context.Context, email, password string) (*api.LoginResponse, error)
	Register(ctx context.Context, name, email, password string) (*api.RegisterResponse, error)
	Me(ctx context.Context) (*model.User, error)
	ForgotPassword(ctx context.Context, email string) (*api.MessageResponse, error)
	ResetPassword(ctx context.Context, resetToken, password string) (*api.MessageResponse, error)
	SendVerification(ctx context.Context) (*api.MessageResponse, error)
	VerifyEmail(ctx context.Context, verificationToken string) (*api.MessageResponse, error)
}

// Manager is the single authority for credential state.
type Manager struct {
	backend Backend
	store   credential.TokenStore
	log     *slog.Logger
	now     func() time.Time

	// adoptMu serializes the flows that can install a new token so
	// overlapping logins resolve in call order.
	adoptMu sync.Mutex

	mu        sync.RWMutex
	sess      Session
	restored  bool
	listeners []func(prev, next string)
}

// NewManager creates a Manager in the unknown state. Call Restore once
// at startup.
func NewManager(backend Backend, store credential.TokenStore, log *slog.Logger) *Manager {
	return &Manager{
		backend: backend,
		store:   store,
		log:     logging.OrDefault(log),
		now:     time.Now,
		sess:    Session{Loading: true},
	}
}

// OnTokenChange registers fn to run after every token transition; prev
// and next may be empty. Listeners run outside the manager's lock, in
// registration order.
func (m *Manager) OnTokenChange(fn func(prev, next string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Token returns the current bearer token, or "" when logged out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.Token
}

// IsAuthenticated reports whether a validated token is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.Authenticated
}

// Loading reports whether restore or an explicit login/registration is
// in flight.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.Loading
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sess
	s.State = m.stateLocked()
	return s
}

func (m *Manager) stateLocked() State {
	switch {
	case !m.restored:
		return StateUnknown
	case m.sess.Authenticated:
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}

// Restore adopts the token persisted by a previous run. An undecodable
// or expired token is cleared as if the user had logged out. A failed
// identity fetch leaves the session authenticated.
func (m *Manager) Restore(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.sess.Loading = false
		m.restored = true
		m.mu.Unlock()
	}()

	token, err := m.store.Load()
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			m.log.Warn("session.restore.load_failed", "err", err)
		}
		m.log.Debug("session.restore.none")
		return
	}

	claims, err := DecodeClaims(token)
	if err != nil || claims.Expired(m.now()) {
		m.log.Info("session.restore.invalid", "err", err)
		m.clear()
		return
	}

	m.adopt(token, claims, nil)
	m.log.Info("session.restore.ok", "subject", claims.SubjectID(), "exp", claims.ExpiresAtTime())

	m.fetchIdentity(ctx)
}

// Login exchanges credentials for a token and adopts it. On any failure
// the session is left exactly as it was.
func (m *Manager) Login(ctx context.Context, email, password string) Result {
	m.adoptMu.Lock()
	defer m.adoptMu.Unlock()

	m.setLoading(true)
	defer m.setLoading(false)

	resp, err := m.backend.Login(ctx, email, password)
	if err != nil {
		m.log.Info("session.login.failed", "err", err)
		return failure(err, msgLoginFailed)
	}

	claims, err := m.validate(resp.Token)
	if err != nil {
		m.log.Warn("session.login.bad_token", "err", err)
		return failed(msgInvalidToken)
	}

	m.persist(resp.Token)
	m.adopt(resp.Token, claims, resp.User)
	m.log.Info("session.login.ok", "subject", claims.SubjectID())

	m.fetchIdentity(ctx)
	return Result{Success: true, User: m.identity()}
}

// Register creates an account. It never authenticates the caller; a
// separate Login is required.
func (m *Manager) Register(ctx context.Context, name, email, password string) Result {
	m.setLoading(true)
	defer m.setLoading(false)

	resp, err := m.backend.Register(ctx, name, email, password)
	if err != nil {
		m.log.Info("session.register.failed", "err", err)
		return failure(err, msgRegisterFailed)
	}
	return Result{Success: true, Message: resp.Message, User: resp.User}
}

// UpdateTokenFromOAuth adopts a token delivered by the OAuth callback.
// It succeeds even when the follow-up identity fetch fails.
func (m *Manager) UpdateTokenFromOAuth(ctx context.Context, token string) Result {
	if token == "" {
		return failed(msgNoOAuthToken)
	}

	m.adoptMu.Lock()
	defer m.adoptMu.Unlock()

	claims, err := m.validate(token)
	if err != nil {
		m.log.Warn("session.oauth.bad_token", "err", err)
		return failed(msgInvalidToken)
	}

	m.persist(token)
	m.adopt(token, claims, nil)
	m.log.Info("session.oauth.ok", "subject", claims.SubjectID())

	m.fetchIdentity(ctx)
	return Result{Success: true, User: m.identity()}
}

// Logout clears the token, identity, persisted storage and the attached
// credential. It is a no-op when already logged out.
func (m *Manager) Logout() {
	m.mu.RLock()
	idle := m.sess.Token == "" && !m.sess.Authenticated && m.sess.Identity == nil
	m.mu.RUnlock()
	if idle {
		return
	}

	m.clear()
	m.log.Info("session.logout")
}

// ExpireIfUnauthorized logs the session out when err reports that the
// backend rejected the token. It returns true when it did so.
func (m *Manager) ExpireIfUnauthorized(err error) bool {
	if !api.IsAuthError(err) {
		return false
	}
	m.log.Info("session.expired", "err", err)
	m.Logout()
	return true
}

// RefreshIdentity re-fetches the profile. Unlike the best-effort fetch
// that follows a login, a rejected token here ends the session.
func (m *Manager) RefreshIdentity(ctx context.Context) Result {
	if !m.IsAuthenticated() {
		return failed(msgNotAuthenticated)
	}

	user, err := m.backend.Me(ctx)
	if err != nil {
		m.ExpireIfUnauthorized(err)
		return failure(err, "Failed to load profile")
	}

	m.mu.Lock()
	m.sess.Identity = user
	m.mu.Unlock()
	return Result{Success: true, User: user}
}

// ForgotPassword requests a password reset email.
func (m *Manager) ForgotPassword(ctx context.Context, email string) Result {
	resp, err := m.backend.ForgotPassword(ctx, email)
	if err != nil {
		return failure(err, msgForgotFailed)
	}
	return Result{Success: true, Message: resp.Message, ResetURL: resp.ResetURL}
}

// ResetPassword sets a new password with a mailed reset token.
func (m *Manager) ResetPassword(ctx context.Context, resetToken, password string) Result {
	resp, err := m.backend.ResetPassword(ctx, resetToken, password)
	if err != nil {
		return failure(err, msgResetFailed)
	}
	return Result{Success: true, Message: resp.Message}
}

// SendEmailVerification requests a verification email for the signed-in
// account.
func (m *Manager) SendEmailVerification(ctx context.Context) Result {
	resp, err := m.backend.SendVerification(ctx)
	if err != nil {
		m.ExpireIfUnauthorized(err)
		return failure(err, msgSendVerifyFailed)
	}
	return Result{Success: true, Message: resp.Message, VerificationURL: resp.VerificationURL}
}

// VerifyEmail confirms the account address with a mailed token.
func (m *Manager) VerifyEmail(ctx context.Context, verificationToken string) Result {
	resp, err := m.backend.VerifyEmail(ctx, verificationToken)
	if err != nil {
		return failure(err, msgVerifyFailed)
	}
	return Result{Success: true, Message: resp.Message}
}

func (m *Manager) validate(token string) (*Claims, error) {
	claims, err := DecodeClaims(token)
	if err != nil {
		return nil, err
	}
	if claims.Expired(m.now()) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// adopt installs token in memory and on the outbound request layer in
// one critical section, then notifies listeners.
func (m *Manager) adopt(token string, claims *Claims, user *model.User) {
	m.mu.Lock()
	prev := m.sess.Token
	m.sess.Token = token
	m.sess.Claims = claims
	m.sess.Authenticated = true
	if user != nil || prev != token {
		m.sess.Identity = user
	}
	m.backend.SetToken(token)
	listeners := m.listeners
	m.mu.Unlock()

	notify(listeners, prev, token)
}

// clear resets every session field and the persisted token.
func (m *Manager) clear() {
	if err := m.store.Clear(); err != nil {
		m.log.Warn("session.store.clear_failed", "err", err)
	}

	m.mu.Lock()
	prev := m.sess.Token
	m.sess.Token = ""
	m.sess.Claims = nil
	m.sess.Identity = nil
	m.sess.Authenticated = false
	m.backend.ClearToken()
	listeners := m.listeners
	m.mu.Unlock()

	if prev != "" {
		notify(listeners, prev, "")
	}
}

// persist writes the token to durable storage. A write failure keeps
// the in-memory session; the user simply signs in again next run.
func (m *Manager) persist(token string) {
	if err := m.store.Save(token); err != nil {
		m.log.Warn("session.store.save_failed", "err", err)
	}
}

func (m *Manager) fetchIdentity(ctx context.Context) {
	user, err := m.backend.Me(ctx)
	if err != nil {
		m.log.Warn("session.identity.failed", "err", err)
		return
	}

	m.mu.Lock()
	if m.sess.Authenticated {
		m.sess.Identity = user
	}
	m.mu.Unlock()
}

func (m *Manager) identity() *model.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.Identity
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	m.sess.Loading = v
	m.mu.Unlock()
}

func notify(listeners []func(prev, next string), prev, next string) {
	for _, fn := range listeners {
		fn(prev, next)
	}
}

// failure converts a backend error into a Result. Rejections carry the
// backend text or fallback; transport failures get a generic message.
func failure(err error, fallback string) Result {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) || api.IsAuthError(err) {
		return failed(api.Message(err, fallback))
	}
	return failed(msgNetwork)
}
