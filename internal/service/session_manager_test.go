package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/infra/cache"
	"github.com/trampoja/trampoja-api/internal/infra/observability"

	"go.uber.org/zap"
)

// --- fakes ---

type fakeSessionStore struct {
	mu           sync.Mutex
	session      *domain.Session
	signInErr    error
	signOutCalls int
	events       chan domain.SessionEvent
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{events: make(chan domain.SessionEvent, 16)}
}

func (f *fakeSessionStore) CurrentSession(ctx context.Context) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeSessionStore) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.session, nil
}

func (f *fakeSessionStore) SignUp(ctx context.Context, req *domain.SignUpRequest) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeSessionStore) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return nil
}

func (f *fakeSessionStore) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	return f.CurrentSession(ctx)
}

func (f *fakeSessionStore) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	return nil
}

func (f *fakeSessionStore) RequestPasswordReset(ctx context.Context, email string) error {
	return nil
}

func (f *fakeSessionStore) Subscribe() (<-chan domain.SessionEvent, func()) {
	return f.events, func() {}
}

func (f *fakeSessionStore) signOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}

type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	workers  map[string]*domain.WorkerProfile
	clients  map[string]*domain.ClientProfile

	profileCalls int
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{
		profiles: make(map[string]*domain.Profile),
		workers:  make(map[string]*domain.WorkerProfile),
		clients:  make(map[string]*domain.ClientProfile),
	}
}

func (f *fakeProfileStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls++
	return f.profiles[userID], nil
}

func (f *fakeProfileStore) GetWorkerProfile(ctx context.Context, userID string) (*domain.WorkerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workers[userID], nil
}

func (f *fakeProfileStore) GetClientProfile(ctx context.Context, userID string) (*domain.ClientProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[userID], nil
}

func (f *fakeProfileStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profileCalls
}

// --- helpers ---

func testSession(userID string) *domain.Session {
	return &domain.Session{
		AccessToken:  "tok-" + userID,
		RefreshToken: "ref-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         domain.User{ID: userID, Email: userID + "@example.com"},
	}
}

func newTestManager(t *testing.T, sessions *fakeSessionStore, profiles *fakeProfileStore) *SessionManager {
	t.Helper()
	metrics := observability.NewMetrics()
	resolver := NewProfileResolver(profiles, cache.New[*domain.ResolvedProfile](time.Minute), metrics, zap.NewNop())
	m := NewSessionManager(sessions, resolver, metrics, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func waitForPhase(t *testing.T, m *SessionManager, phase domain.AuthPhase) domain.AuthState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state := m.Snapshot()
		if state.Phase == phase {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s, current %s", phase, m.Snapshot().Phase)
	return domain.AuthState{}
}

// --- tests ---

func TestBootstrapWithoutSession(t *testing.T) {
	m := newTestManager(t, newFakeSessionStore(), newFakeProfileStore())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	state := m.Snapshot()
	if state.Phase != domain.PhaseUnauthenticated {
		t.Errorf("phase = %s, want unauthenticated", state.Phase)
	}
	if state.User != nil || state.Session != nil {
		t.Error("unauthenticated state carries user or session")
	}
}

func TestBootstrapRestoresSessionAndProfile(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.session = testSession("u1")

	profiles := newFakeProfileStore()
	profiles.profiles["u1"] = &domain.Profile{ID: "u1", Name: "Maria", Role: domain.RoleWorker}
	profiles.workers["u1"] = &domain.WorkerProfile{ID: "u1", IsActive: true, ApprovalStatus: "approved"}

	m := newTestManager(t, sessions, profiles)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	state := m.Snapshot()
	if state.Phase != domain.PhaseReady {
		t.Fatalf("phase = %s, want ready", state.Phase)
	}
	if state.User == nil || state.User.ID != "u1" {
		t.Fatalf("user = %+v", state.User)
	}
	if !state.ProfileComplete {
		t.Error("worker with extension record should be complete")
	}
	if state.Profile.WorkerRecord() == nil {
		t.Error("worker record missing from resolved profile")
	}
}

func TestBootstrapBlockedWorkerSilentlySignsOut(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.session = testSession("u1")

	profiles := newFakeProfileStore()
	profiles.profiles["u1"] = &domain.Profile{ID: "u1", Role: domain.RoleWorker}
	profiles.workers["u1"] = &domain.WorkerProfile{ID: "u1", IsActive: false}

	m := newTestManager(t, sessions, profiles)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	state := m.Snapshot()
	if state.Phase != domain.PhaseUnauthenticated {
		t.Errorf("phase = %s, want unauthenticated", state.Phase)
	}
	if sessions.signOuts() == 0 {
		t.Error("blocked session was not revoked")
	}
}

func TestSignInSuccess(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.session = testSession("u1")

	profiles := newFakeProfileStore()
	profiles.profiles["u1"] = &domain.Profile{ID: "u1", Role: domain.RoleClient}
	profiles.clients["u1"] = &domain.ClientProfile{ID: "u1", CompanyName: "Bar do Zé"}

	m := newTestManager(t, sessions, profiles)
	sessions.mu.Lock()
	persisted := sessions.session
	sessions.session = nil
	sessions.mu.Unlock()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sessions.mu.Lock()
	sessions.session = persisted
	sessions.mu.Unlock()

	state, err := m.SignIn(context.Background(), "u1@example.com", "secret")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if state.Phase != domain.PhaseReady {
		t.Errorf("phase = %s, want ready", state.Phase)
	}
	if !state.ProfileComplete {
		t.Error("client with extension record should be complete")
	}
}

func TestSignInBlockedWorker(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.session = testSession("u1")

	profiles := newFakeProfileStore()
	profiles.profiles["u1"] = &domain.Profile{ID: "u1", Role: domain.RoleWorker}
	profiles.workers["u1"] = &domain.WorkerProfile{ID: "u1", IsActive: false}

	m := newTestManager(t, sessions, profiles)
	// No persisted session at bootstrap for this case.
	sessions.mu.Lock()
	persisted := sessions.session
	sessions.session = nil
	sessions.mu.Unlock()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sessions.mu.Lock()
	sessions.session = persisted
	sessions.mu.Unlock()

	_, err := m.SignIn(context.Background(), "u1@example.com", "secret")
	var blocked *domain.ErrWorkerBlocked
	if !errors.As(err, &blocked) {
		t.Fatalf("expected ErrWorkerBlocked, got %v", err)
	}

	state := m.Snapshot()
	if state.Phase != domain.PhaseUnauthenticated {
		t.Errorf("phase after blocked sign-in = %s, want unauthenticated", state.Phase)
	}
	if sessions.signOuts() == 0 {
		t.Error("blocked session was not revoked")
	}
}

func TestSignInInvalidCredentialsLocalized(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.signInErr = &domain.ErrUnauthorized{Message: "Invalid login credentials"}

	m := newTestManager(t, sessions, newFakeProfileStore())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err := m.SignIn(context.Background(), "u1@example.com", "wrong")
	var unauth *domain.ErrUnauthorized
	if !errors.As(err, &unauth) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if unauth.Message != "Credenciais inválidas" {
		t.Errorf("message = %q, want localized credentials error", unauth.Message)
	}
	if m.Snapshot().Phase != domain.PhaseUnauthenticated {
		t.Errorf("phase = %s, want unauthenticated", m.Snapshot().Phase)
	}
}

func TestSignInEchoEventDoesNotReResolve(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.session = testSession("u1")

	profiles := newFakeProfileStore()
	profiles.profiles["u1"] = &domain.Profile{ID: "u1", Role: domain.RoleAdmin}

	m := newTestManager(t, sessions, profiles)
	sessions.mu.Lock()
	persisted := sessions.session
	sessions.session = nil
	sessions.mu.Unlock()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sessions.mu.Lock()
	sessions.session = persisted
	sessions.mu.Unlock()

	if _, err := m.SignIn(context.Background(), "u1@example.com", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	callsAfterSignIn := profiles.calls()

	// The store's own SIGNED_IN echo for the adopted session must be a
	// no-op, not a second resolution.
	sessions.events <- domain.SessionEvent{Type: domain.SessionSignedIn, Session: persisted}
	time.Sleep(50 * time.Millisecond)

	if got := profiles.calls(); got != callsAfterSignIn {
		t.Errorf("profile store calls went from %d to %d after echo event", callsAfterSignIn, got)
	}
	if m.Snapshot().Phase != domain.PhaseReady {
		t.Errorf("phase = %s, want ready", m.Snapshot().Phase)
	}
}

func TestAmbientSignOutClearsState(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.session = testSession("u1")

	profiles := newFakeProfileStore()
	profiles.profiles["u1"] = &domain.Profile{ID: "u1", Role: domain.RoleAdmin}

	m := newTestManager(t, sessions, profiles)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if m.Snapshot().Phase != domain.PhaseReady {
		t.Fatalf("precondition: phase = %s", m.Snapshot().Phase)
	}

	sessions.events <- domain.SessionEvent{Type: domain.SessionSignedOut}
	state := waitForPhase(t, m, domain.PhaseUnauthenticated)
	if state.User != nil || state.Profile != nil {
		t.Error("signed-out state still carries user or profile")
	}
}

func TestSignOutIsSynchronous(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.session = testSession("u1")

	profiles := newFakeProfileStore()
	profiles.profiles["u1"] = &domain.Profile{ID: "u1", Role: domain.RoleAdmin}

	m := newTestManager(t, sessions, profiles)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	state := m.SignOut(context.Background())
	if state.Phase != domain.PhaseUnauthenticated {
		t.Errorf("phase immediately after SignOut = %s, want unauthenticated", state.Phase)
	}
	if sessions.signOuts() == 0 {
		t.Error("remote revoke was never attempted")
	}
}

func TestIncompleteWorkerProfileIsReadyButIncomplete(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.session = testSession("u1")

	// Base row exists, worker extension row does not.
	profiles := newFakeProfileStore()
	profiles.profiles["u1"] = &domain.Profile{ID: "u1", Role: domain.RoleWorker}

	m := newTestManager(t, sessions, profiles)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	state := m.Snapshot()
	if state.Phase != domain.PhaseReady {
		t.Fatalf("phase = %s, want ready", state.Phase)
	}
	if state.ProfileComplete {
		t.Error("worker without extension record must be incomplete")
	}
	if state.Profile == nil || state.Profile.WorkerRecord() != nil {
		t.Errorf("profile = %+v, want worker kind with nil record", state.Profile)
	}
}

func TestRefreshProfilePicksUpChanges(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.session = testSession("u1")

	profiles := newFakeProfileStore()
	profiles.profiles["u1"] = &domain.Profile{ID: "u1", Role: domain.RoleWorker}

	m := newTestManager(t, sessions, profiles)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if m.Snapshot().ProfileComplete {
		t.Fatal("precondition: profile should start incomplete")
	}

	// Onboarding finishes: the worker row appears.
	profiles.mu.Lock()
	profiles.workers["u1"] = &domain.WorkerProfile{ID: "u1", IsActive: true, ApprovalStatus: "pending"}
	profiles.mu.Unlock()

	state := m.RefreshProfile(context.Background())
	if !state.ProfileComplete {
		t.Error("refresh did not pick up the new extension record")
	}
}
