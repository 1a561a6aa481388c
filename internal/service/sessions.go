package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mep_go/internal/domain"
	"mep_go/internal/infra"
)

// SessionState is one step in a session's lifecycle.
type SessionState string

const (
	StateUnauthenticated SessionState = "UNAUTHENTICATED"
	StateAuthenticating  SessionState = "AUTHENTICATING"
	StateAuthenticated   SessionState = "AUTHENTICATED"
	StateExpired         SessionState = "EXPIRED"
	StateClosed          SessionState = "CLOSED"
)

const (
	defaultSessionTTL  = 8 * time.Hour
	authRetryAttempts  = 3
	authRetryBaseDelay = 2 * time.Second
	authRetryMaxDelay  = 60 * time.Second
)

// Session is one tenant's authenticated broker session. Expiry is fixed at
// creation; activity does not extend it.
type Session struct {
	Tenant    string
	Creds     domain.Credentials
	Token     domain.Token
	State     SessionState
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsValid reports whether the session is authenticated and not yet expired.
func (s *Session) IsValid(now time.Time) bool {
	return s != nil && s.State == StateAuthenticated && now.Before(s.ExpiresAt)
}

// SessionStore keeps per-tenant sessions with fixed TTL and lazy eviction.
// Eviction purges the tenant's registry state in the same step.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	broker   domain.BrokerChannel
	registry *Registry
	clock    domain.Clock
	ttl      time.Duration
	logger   *slog.Logger

	// sleep is swappable so retry delays are testable.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSessionStore creates the store with the wall clock and 8h TTL.
func NewSessionStore(broker domain.BrokerChannel, registry *Registry) *SessionStore {
	return NewSessionStoreWithClock(broker, registry, domain.SystemClock, defaultSessionTTL)
}

// NewSessionStoreWithClock injects clock and TTL for tests.
func NewSessionStoreWithClock(broker domain.BrokerChannel, registry *Registry, clock domain.Clock, ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		broker:   broker,
		registry: registry,
		clock:    clock,
		ttl:      ttl,
		logger:   slog.Default().With("module", "sessions"),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Authenticate performs a single login attempt and installs the session on
// success. Any failure leaves the tenant unauthenticated.
func (s *SessionStore) Authenticate(ctx context.Context, tenant string, creds domain.Credentials) (*Session, error) {
	s.setState(tenant, StateAuthenticating)

	token, err := s.broker.Authenticate(ctx, creds)
	if err != nil {
		s.dropSession(tenant)
		return nil, err
	}
	if token.Value == "" {
		s.dropSession(tenant)
		return nil, domain.E(domain.KindCredential, "authenticate", "broker returned empty token", nil)
	}

	now := s.clock.Now()
	session := &Session{
		Tenant:    tenant,
		Creds:     creds,
		Token:     token,
		State:     StateAuthenticated,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	_, existed := s.sessions[tenant]
	s.sessions[tenant] = session
	s.mu.Unlock()

	if !existed {
		infra.GlobalMetrics.IncrementSessions()
	}
	s.logger.Info("session established", "tenant", tenant, "expires_at", session.ExpiresAt)
	return session, nil
}

// AuthenticateWithRetry retries connectivity failures with exponential
// backoff (2s, 4s, ...). Credential and authorization failures are final
// on the first attempt. After exhausting attempts the last connectivity
// error is returned wrapped with the attempt count.
func (s *SessionStore) AuthenticateWithRetry(ctx context.Context, tenant string, creds domain.Credentials) (*Session, error) {
	var lastErr error
	for attempt := 1; attempt <= authRetryAttempts; attempt++ {
		session, err := s.Authenticate(ctx, tenant, creds)
		if err == nil {
			return session, nil
		}
		if !domain.IsRetriable(err) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("authentication attempt failed", "tenant", tenant, "attempt", attempt, "error", err)

		if attempt < authRetryAttempts {
			delay := infra.CalculateBackoff(attempt, authRetryBaseDelay, authRetryMaxDelay)
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, domain.Ef(domain.KindConnectivity, "authenticate_retry",
		"authentication failed after %d attempts: %v", authRetryAttempts, lastErr)
}

// RefreshToken re-authenticates the tenant with its stored credentials and
// restarts the expiry window. The existing push channel and caches survive
// the refresh; only the token and expiry change.
func (s *SessionStore) RefreshToken(ctx context.Context, tenant string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[tenant]
	s.mu.RUnlock()

	if !ok {
		return nil, domain.Ef(domain.KindCredential, "refresh_token", "no session for tenant %s", tenant)
	}
	creds := session.Creds

	token, err := s.broker.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	if token.Value == "" {
		return nil, domain.E(domain.KindCredential, "refresh_token", "broker returned empty token", nil)
	}

	now := s.clock.Now()
	s.mu.Lock()
	session, ok = s.sessions[tenant]
	if ok {
		session.Token = token
		session.State = StateAuthenticated
		session.ExpiresAt = now.Add(s.ttl)
	}
	s.mu.Unlock()

	if !ok {
		return nil, domain.Ef(domain.KindCredential, "refresh_token", "session vanished for tenant %s", tenant)
	}
	s.logger.Info("session refreshed", "tenant", tenant, "expires_at", session.ExpiresAt)
	return session, nil
}

// Get returns a valid session for the tenant, evicting it first if it has
// expired. Eviction purges the quote cache and push channel atomically.
func (s *SessionStore) Get(tenant string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[tenant]
	s.mu.RUnlock()

	if !ok {
		return nil, domain.Ef(domain.KindCredential, "session", "no session for tenant %s", tenant)
	}

	if !session.IsValid(s.clock.Now()) {
		s.evict(tenant, StateExpired)
		return nil, domain.Ef(domain.KindCredential, "session", "session expired for tenant %s", tenant)
	}
	return session, nil
}

// Status reports the current state without triggering authentication. An
// expired but not yet evicted session reports EXPIRED.
func (s *SessionStore) Status(tenant string) SessionState {
	s.mu.RLock()
	session, ok := s.sessions[tenant]
	s.mu.RUnlock()

	if !ok {
		return StateUnauthenticated
	}
	if session.State == StateAuthenticated && !session.IsValid(s.clock.Now()) {
		return StateExpired
	}
	return session.State
}

// Logout closes the tenant's session and purges its state.
func (s *SessionStore) Logout(tenant string) {
	s.evict(tenant, StateClosed)
}

// evict removes the session and tenant registry state as one logical unit.
func (s *SessionStore) evict(tenant string, state SessionState) {
	s.mu.Lock()
	session, ok := s.sessions[tenant]
	if ok {
		session.State = state
		delete(s.sessions, tenant)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	s.registry.Remove(tenant)
	infra.GlobalMetrics.DecrementSessions()
	s.logger.Info("session evicted", "tenant", tenant, "state", string(state))
}

func (s *SessionStore) setState(tenant string, state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[tenant]; ok {
		session.State = state
	}
}

// dropSession removes a failed tenant. Any live session it replaced is
// purged together with its registry state so a dead push channel cannot
// keep feeding the cache.
func (s *SessionStore) dropSession(tenant string) {
	s.mu.Lock()
	_, ok := s.sessions[tenant]
	delete(s.sessions, tenant)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.registry.Remove(tenant)
	infra.GlobalMetrics.DecrementSessions()
}

// Cleanup evicts expired sessions on an interval until ctx is done.
func (s *SessionStore) Cleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *SessionStore) evictExpired() {
	now := s.clock.Now()

	s.mu.RLock()
	var expired []string
	for tenant, session := range s.sessions {
		if !session.IsValid(now) {
			expired = append(expired, tenant)
		}
	}
	s.mu.RUnlock()

	for _, tenant := range expired {
		s.evict(tenant, StateExpired)
	}
}
