package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/infra/observability"
	"github.com/trampoja/trampoja-api/internal/port"

	"go.uber.org/zap"
)

// resolveTimeout bounds profile resolution triggered by ambient events,
// which carry no caller deadline.
const resolveTimeout = 15 * time.Second

// SessionManager owns the authentication state machine. It is the single
// writer of AuthState: manual operations (sign-in, sign-up, sign-out) and
// ambient session events from the store both funnel through it, and every
// consumer reads via Snapshot.
//
// While a manual sign-in is in flight the machine sits in PhaseSigningIn and
// ambient events are skipped, so the store's SIGNED_IN echo can never race
// the sign-in's own profile resolution.
type SessionManager struct {
	sessions port.SessionStore
	resolver *ProfileResolver
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu    sync.Mutex
	state domain.AuthState
	// generation stamps each transition that kicks off a resolution;
	// a resolution result is discarded when the machine has moved on.
	generation uint64

	events <-chan domain.SessionEvent
	detach func()
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewSessionManager creates a session manager. Call Start before use.
func NewSessionManager(sessions port.SessionStore, resolver *ProfileResolver, metrics *observability.Metrics, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
		state:    domain.AuthState{Phase: domain.PhaseBootstrapping, Loading: true},
		done:     make(chan struct{}),
	}
}

// Start subscribes to ambient session events and restores any persisted
// session. It blocks until bootstrap finishes; the event loop keeps running
// until Close.
func (m *SessionManager) Start(ctx context.Context) error {
	m.events, m.detach = m.sessions.Subscribe()

	m.wg.Add(1)
	go m.loop()

	m.bootstrap(ctx)
	return nil
}

// Close detaches from the session store and stops the event loop.
func (m *SessionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.detach()
	close(m.done)
	m.wg.Wait()
}

// Snapshot returns a copy of the current auth state.
func (m *SessionManager) Snapshot() domain.AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// --- bootstrap ---

func (m *SessionManager) bootstrap(ctx context.Context) {
	session, err := m.sessions.CurrentSession(ctx)
	if err != nil {
		m.logger.Error("bootstrap: session restore failed", zap.Error(err))
		m.toUnauthenticated()
		return
	}
	if session == nil {
		m.toUnauthenticated()
		return
	}

	m.logger.Info("bootstrap: restoring session", zap.String("user_id", session.User.ID))
	m.adoptSession(ctx, session, false)
}

// --- manual operations ---

// SignIn authenticates with credentials, gates blocked workers out, and
// resolves the profile before reporting success. User-facing error messages
// are localized here; ErrWorkerBlocked is the one distinguished failure.
func (m *SessionManager) SignIn(ctx context.Context, email, password string) (domain.AuthState, error) {
	m.mu.Lock()
	if m.state.Phase == domain.PhaseSigningIn {
		m.mu.Unlock()
		return m.Snapshot(), &domain.ErrConflict{Message: "Já existe um login em andamento"}
	}
	m.state = domain.AuthState{Phase: domain.PhaseSigningIn, Loading: true}
	m.generation++
	m.mu.Unlock()

	session, err := m.sessions.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.toUnauthenticated()
		m.metrics.IncrSignIn("invalid")
		return m.Snapshot(), localizeSignInError(err)
	}

	if err := m.adoptSession(ctx, session, true); err != nil {
		return m.Snapshot(), err
	}

	m.metrics.IncrSignIn("success")
	return m.Snapshot(), nil
}

// SignUp registers an account. When the provider returns a live session the
// profile is resolved immediately; with email confirmation pending the state
// stays unauthenticated and the caller shows the confirmation notice.
func (m *SessionManager) SignUp(ctx context.Context, req *domain.SignUpRequest) (domain.AuthState, error) {
	if !req.Role.Valid() || req.Role == domain.RoleAdmin {
		return m.Snapshot(), &domain.ErrValidation{Field: "role", Message: "perfil inválido"}
	}

	m.mu.Lock()
	if m.state.Phase == domain.PhaseSigningIn {
		m.mu.Unlock()
		return m.Snapshot(), &domain.ErrConflict{Message: "Já existe um login em andamento"}
	}
	m.state = domain.AuthState{Phase: domain.PhaseSigningIn, Loading: true}
	m.generation++
	m.mu.Unlock()

	session, err := m.sessions.SignUp(ctx, req)
	if err != nil {
		m.toUnauthenticated()
		return m.Snapshot(), localizeSignUpError(err)
	}

	if session == nil || session.AccessToken == "" {
		m.toUnauthenticated()
		return m.Snapshot(), nil
	}

	if err := m.adoptSession(ctx, session, true); err != nil {
		return m.Snapshot(), err
	}
	return m.Snapshot(), nil
}

// SignOut clears local state synchronously; the remote revoke is best
// effort. The caller sees an unauthenticated state no matter what.
func (m *SessionManager) SignOut(ctx context.Context) domain.AuthState {
	m.mu.Lock()
	session := m.state.Session
	userID := ""
	if m.state.User != nil {
		userID = m.state.User.ID
	}
	m.state = domain.AuthState{Phase: domain.PhaseUnauthenticated}
	m.generation++
	m.mu.Unlock()

	if userID != "" {
		m.resolver.Invalidate(userID)
	}
	if session != nil {
		if err := m.sessions.SignOut(ctx, session.AccessToken); err != nil {
			m.logger.Warn("remote sign-out failed", zap.Error(err))
		}
	}
	return m.Snapshot()
}

// RefreshProfile re-resolves the profile bypassing the cache. No-op when
// unauthenticated.
func (m *SessionManager) RefreshProfile(ctx context.Context) domain.AuthState {
	m.mu.Lock()
	if m.state.User == nil {
		m.mu.Unlock()
		return m.Snapshot()
	}
	userID := m.state.User.ID
	gen := m.generation
	m.mu.Unlock()

	res := m.resolver.ResolveFresh(ctx, userID)
	m.applyResolution(gen, res)
	return m.Snapshot()
}

// UpdatePassword changes the current user's password.
func (m *SessionManager) UpdatePassword(ctx context.Context, newPassword string) error {
	m.mu.Lock()
	session := m.state.Session
	m.mu.Unlock()
	if session == nil {
		return &domain.ErrUnauthorized{Message: "Sessão expirada"}
	}
	return m.sessions.UpdatePassword(ctx, session.AccessToken, newPassword)
}

// RequestPasswordReset relays a recovery request for an email address.
func (m *SessionManager) RequestPasswordReset(ctx context.Context, email string) error {
	return m.sessions.RequestPasswordReset(ctx, email)
}

// --- ambient event loop ---

func (m *SessionManager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		}
	}
}

func (m *SessionManager) handleEvent(ev domain.SessionEvent) {
	m.mu.Lock()
	phase := m.state.Phase
	current := m.state.Session
	m.mu.Unlock()

	// A manual sign-in owns the machine; its own SIGNED_IN echo (and any
	// other event) must not interleave with it.
	if phase == domain.PhaseSigningIn {
		m.logger.Debug("skipping ambient event during manual sign-in",
			zap.String("event", string(ev.Type)),
		)
		return
	}

	switch ev.Type {
	case domain.SessionSignedOut:
		m.mu.Lock()
		userID := ""
		if m.state.User != nil {
			userID = m.state.User.ID
		}
		m.state = domain.AuthState{Phase: domain.PhaseUnauthenticated}
		m.generation++
		m.mu.Unlock()
		if userID != "" {
			m.resolver.Invalidate(userID)
		}

	case domain.SessionTokenRefreshed:
		if ev.Session == nil {
			return
		}
		m.mu.Lock()
		if m.state.Session != nil && m.state.Session.User.ID == ev.Session.User.ID {
			// Same user, fresher tokens: swap the session, keep the profile.
			m.state.Session = ev.Session
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.adoptAmbient(ev.Session)

	case domain.SessionSignedIn:
		if ev.Session == nil {
			return
		}
		// The echo of a sign-in already adopted: nothing to do.
		if current != nil && current.AccessToken == ev.Session.AccessToken {
			return
		}
		m.adoptAmbient(ev.Session)
	}
}

func (m *SessionManager) adoptAmbient(session *domain.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	m.adoptSession(ctx, session, false)
}

// --- shared transitions ---

// adoptSession resolves the profile for a session and moves the machine to
// Ready. Blocked workers never reach Ready: on the manual path the caller
// gets ErrWorkerBlocked, on bootstrap/ambient paths the session is silently
// discarded.
func (m *SessionManager) adoptSession(ctx context.Context, session *domain.Session, manual bool) error {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	phase := domain.PhaseLoadingProfile
	if manual {
		// Stay in PhaseSigningIn so ambient events keep being skipped
		// until the whole sign-in settles.
		phase = domain.PhaseSigningIn
	}
	m.state = domain.AuthState{
		Phase:   phase,
		User:    &session.User,
		Session: session,
		Loading: true,
	}
	m.mu.Unlock()

	res := m.resolver.ResolveFresh(ctx, session.User.ID)

	if worker := blockedWorker(res); worker != nil {
		m.logger.Warn("blocked worker denied",
			zap.String("user_id", session.User.ID),
		)
		m.metrics.IncrSignIn("blocked")
		m.localSignOut(ctx, session)
		if manual {
			return &domain.ErrWorkerBlocked{}
		}
		return nil
	}

	m.applyResolution(gen, res)
	return nil
}

// blockedWorker returns the worker record when the resolution carries a
// deactivated worker, nil otherwise.
func blockedWorker(res Resolution) *domain.WorkerProfile {
	if res.Outcome != OutcomeResolved {
		return nil
	}
	worker := res.Profile.WorkerRecord()
	if worker != nil && !worker.IsActive {
		return worker
	}
	return nil
}

// applyResolution installs a resolution result unless the machine has moved
// on since the resolution started.
func (m *SessionManager) applyResolution(gen uint64, res Resolution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		m.logger.Debug("discarding stale profile resolution",
			zap.Uint64("resolution_generation", gen),
			zap.Uint64("current_generation", m.generation),
		)
		return
	}
	if m.state.Session == nil {
		return
	}

	m.state.Phase = domain.PhaseReady
	m.state.Loading = false

	switch res.Outcome {
	case OutcomeResolved:
		m.state.Profile = res.Profile
		m.state.ProfileComplete = res.Profile.Complete()
	case OutcomeMissing:
		m.state.Profile = nil
		m.state.ProfileComplete = false
	case OutcomeError:
		// Authenticated but profile unknown; the guard treats this as an
		// incomplete profile rather than kicking the user out.
		m.state.Profile = nil
		m.state.ProfileComplete = false
	}
}

func (m *SessionManager) toUnauthenticated() {
	m.mu.Lock()
	m.state = domain.AuthState{Phase: domain.PhaseUnauthenticated}
	m.generation++
	m.mu.Unlock()
}

func (m *SessionManager) localSignOut(ctx context.Context, session *domain.Session) {
	m.toUnauthenticated()
	m.resolver.Invalidate(session.User.ID)
	if err := m.sessions.SignOut(ctx, session.AccessToken); err != nil {
		m.logger.Warn("sign-out of blocked session failed", zap.Error(err))
	}
}

// --- error localization ---

func localizeSignInError(err error) error {
	var unauth *domain.ErrUnauthorized
	if errors.As(err, &unauth) {
		msg := unauth.Message
		switch {
		case strings.Contains(msg, "Invalid login credentials"):
			return &domain.ErrUnauthorized{Message: "Credenciais inválidas"}
		case strings.Contains(msg, "Email not confirmed"):
			return &domain.ErrUnauthorized{Message: "E-mail não confirmado. Verifique sua caixa de entrada."}
		}
		return &domain.ErrUnauthorized{Message: "Erro ao entrar. Tente novamente."}
	}
	return err
}

func localizeSignUpError(err error) error {
	var unauth *domain.ErrUnauthorized
	if errors.As(err, &unauth) {
		msg := unauth.Message
		switch {
		case strings.Contains(msg, "already registered"):
			return &domain.ErrConflict{Message: "E-mail já cadastrado"}
		case strings.Contains(msg, "Password should be"):
			return &domain.ErrValidation{Field: "password", Message: "A senha deve ter no mínimo 6 caracteres"}
		}
		return &domain.ErrUnauthorized{Message: "Erro ao criar conta. Tente novamente."}
	}
	return err
}
