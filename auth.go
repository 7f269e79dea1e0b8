package carexpert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Auth Store
// ============================================================================

// sessionKey is the fixed durable-storage key holding the persisted session
// record. Its value is {"user": Session|null} and never contains credential
// material.
const sessionKey = "carexpert-auth"

// loginPath is where recovery and cross-process logout send the user.
const loginPath = "/login"

// AuthState is the auth store's state machine position.
type AuthState string

const (
	StateUnauthenticated AuthState = "unauthenticated"
	StateAuthenticating  AuthState = "authenticating"
	StateAuthenticated   AuthState = "authenticated"
	// StateSessionExpired is transient: it is observable only inside
	// HandleSessionExpiry before cleanup lands back in Unauthenticated.
	StateSessionExpired AuthState = "session_expired"
)

var (
	// ErrInvalidCredentials wraps a login the backend explicitly rejected.
	// The backend's message is carried on the wrapping error.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknown wraps a login that failed for transport or other
	// uncategorized reasons.
	ErrUnknown = errors.New("unknown error")
	// ErrLoginInFlight is returned when Login is called while another
	// login on the same store has not settled.
	ErrLoginInFlight = errors.New("login already in flight")
)

// persistedState is the durable record: identity and profile fields only.
type persistedState struct {
	User *Session `json:"user"`
}

// AuthConfig carries the auth store's optional collaborators.
type AuthConfig struct {
	// Socket, when set, is disconnected on logout and session expiry.
	Socket *Socket
	// Navigate is invoked with the login entry point on expiry and on a
	// peer logout broadcast.
	Navigate func(path string)
	Logger   *slog.Logger
}

// AuthStore owns the Session: it orchestrates login, logout, and session
// expiry, persists the non-sensitive profile record, and converges peer
// processes through the logout broadcast. One instance per running
// application; Close tears it down for tests.
type AuthStore struct {
	client   *Client
	storage  Storage
	bus      Broadcaster
	socket   *Socket
	navigate func(string)
	logger   *slog.Logger
	originID string

	mu          sync.Mutex
	state       AuthState
	session     *Session
	isLoading   bool
	lastExpiry  time.Time
	unsubscribe func()
}

// NewAuthStore builds the store and synchronously rehydrates the session
// from durable storage — no network round-trip. It also wires itself into
// the client's 401 recovery sequence and subscribes to the logout broadcast.
func NewAuthStore(client *Client, storage Storage, bus Broadcaster, cfg *AuthConfig) *AuthStore {
	s := &AuthStore{
		client:   client,
		storage:  storage,
		bus:      bus,
		logger:   slog.Default(),
		originID: uuid.NewString(),
		state:    StateUnauthenticated,
	}
	if cfg != nil {
		s.socket = cfg.Socket
		s.navigate = cfg.Navigate
		if cfg.Logger != nil {
			s.logger = cfg.Logger
		}
	}

	s.isLoading = true
	s.rehydrate()
	s.isLoading = false

	client.SetSessionExpiryHandler(s.HandleSessionExpiry)
	if bus != nil {
		s.unsubscribe = bus.Subscribe(s.onPeerLogout)
	}
	return s
}

// rehydrate restores the session from the durable record, defending against
// the record having been cleared or corrupted by a foreign process.
func (s *AuthStore) rehydrate() {
	raw, ok, err := s.storage.GetItem(sessionKey)
	if err != nil {
		s.logger.Warn("auth: cannot read persisted session", "error", err)
		return
	}
	if !ok {
		return
	}
	var state persistedState
	if err := json.Unmarshal([]byte(raw), &state); err != nil || state.User == nil {
		return
	}
	if !state.User.Role.Valid() {
		s.logger.Warn("auth: persisted session has unknown role, discarding", "role", state.User.Role)
		s.removePersisted()
		return
	}
	s.session = state.User
	s.state = StateAuthenticated
}

// Login drives Unauthenticated → Authenticating → Authenticated. Failure
// causes are categorized: errors.Is(err, ErrInvalidCredentials) for an
// explicit backend rejection (message carried verbatim), ErrUnknown for
// transport failures. A login while another is in flight fails fast with
// ErrLoginInFlight.
func (s *AuthStore) Login(ctx context.Context, email, password string) error {
	s.mu.Lock()
	if s.state == StateAuthenticating {
		s.mu.Unlock()
		return ErrLoginInFlight
	}
	prev := s.state
	s.state = StateAuthenticating
	s.mu.Unlock()

	sess, err := s.client.LoginSession(ctx, email, password)
	if err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		return categorizeLoginError(err)
	}
	if !sess.Role.Valid() {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		return fmt.Errorf("%w: backend returned unknown role %q", ErrUnknown, sess.Role)
	}

	s.mu.Lock()
	s.session = sess
	s.state = StateAuthenticated
	s.persistLocked()
	s.mu.Unlock()

	s.logger.Info("logged in", "user", sess.ID, "role", sess.Role)
	return nil
}

func categorizeLoginError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Message)
		}
		// 5xx and friends: the backend did not reject the credentials
	}
	return fmt.Errorf("%w: %v", ErrUnknown, err)
}

// Logout clears the session, closes the real-time connection, and removes
// the durable record. Calling it with no active session is a no-op. The
// server-side logout call is best effort; local cleanup always happens.
func (s *AuthStore) Logout(ctx context.Context) {
	s.mu.Lock()
	if s.session == nil && s.state == StateUnauthenticated {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.client.LogoutSession(ctx); err != nil {
		s.logger.Warn("auth: server logout failed", "error", err)
	}
	s.cleanup()
	s.logger.Info("logged out")
}

// HandleSessionExpiry performs logout cleanup, records the expiry time,
// broadcasts the logout to peer processes, and navigates to the login entry
// point. The client's 401 interceptor invokes it; it is safe to call with no
// active session.
func (s *AuthStore) HandleSessionExpiry(reason string) {
	s.mu.Lock()
	s.state = StateSessionExpired
	s.lastExpiry = time.Now()
	s.mu.Unlock()

	s.cleanup()

	if s.bus != nil {
		s.bus.Publish(LogoutEvent{
			Origin: s.originID,
			Reason: reason,
			At:     time.Now().UnixMilli(),
		})
	}
	s.logger.Info("session expired", "reason", reason)
	s.goToLogin()
}

// onPeerLogout converges this store when another process invalidated the
// shared session.
func (s *AuthStore) onPeerLogout(ev LogoutEvent) {
	if ev.Origin == s.originID {
		return
	}
	s.mu.Lock()
	active := s.session != nil
	s.mu.Unlock()
	if !active {
		return
	}

	s.cleanup()
	s.logger.Info("logged out by peer", "reason", ev.Reason)
	s.goToLogin()
}

// cleanup is the shared logout path: session cleared, socket closed,
// durable record removed, state back to Unauthenticated. Idempotent.
func (s *AuthStore) cleanup() {
	s.mu.Lock()
	s.session = nil
	s.state = StateUnauthenticated
	s.mu.Unlock()

	s.removePersisted()
	if s.socket != nil {
		if err := s.socket.Disconnect(); err != nil {
			s.logger.Warn("auth: socket disconnect failed", "error", err)
		}
	}
}

func (s *AuthStore) goToLogin() {
	if s.navigate != nil {
		s.navigate(loginPath)
	}
}

// SetUser replaces the session's profile fields and persists them. Passing
// nil clears the session without the rest of the logout path; it exists for
// profile updates, not as a logout substitute.
func (s *AuthStore) SetUser(u *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.session = nil
		s.state = StateUnauthenticated
		s.removePersisted()
		return
	}
	cp := *u
	s.session = &cp
	s.state = StateAuthenticated
	s.persistLocked()
}

// persistLocked writes the durable record. Persistence failures are logged,
// not returned: a missing record only costs the next rehydration.
func (s *AuthStore) persistLocked() {
	raw, err := json.Marshal(persistedState{User: s.session})
	if err != nil {
		s.logger.Warn("auth: cannot marshal session", "error", err)
		return
	}
	if err := s.storage.SetItem(sessionKey, string(raw)); err != nil {
		s.logger.Warn("auth: cannot persist session", "error", err)
	}
}

func (s *AuthStore) removePersisted() {
	if err := s.storage.RemoveItem(sessionKey); err != nil {
		s.logger.Warn("auth: cannot remove persisted session", "error", err)
	}
}

// Session returns a copy of the current session, or nil.
func (s *AuthStore) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// State returns the state machine position.
func (s *AuthStore) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsLoading reports whether rehydration is still pending. Consumers gate on
// this before trusting Session.
func (s *AuthStore) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLoading
}

// LastExpiry returns when this store last observed a session expiry, or the
// zero time.
func (s *AuthStore) LastExpiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExpiry
}

// Close unsubscribes from the broadcast and detaches from the client.
// The store must not be used afterwards.
func (s *AuthStore) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.client.SetSessionExpiryHandler(nil)
}
